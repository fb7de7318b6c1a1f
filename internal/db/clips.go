package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bobarin/listingreels/internal/models"
	"github.com/google/uuid"
)

const clipColumns = `
	id, video_project_id, sequence_order, source_image_url, end_image_url,
	room_type, room_label, motion_prompt, duration, status, clip_url,
	error_message, provider, created_at, updated_at
`

// CreateClip attaches a clip to a project. Clips are normally attached
// upstream; this exists for seeding and tests.
func (db *DB) CreateClip(ctx context.Context, clip *models.VideoClip) error {
	query := `
		INSERT INTO video_clips (
			id, video_project_id, sequence_order, source_image_url, end_image_url,
			room_type, room_label, motion_prompt, duration, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		clip.ID, clip.VideoProjectID, clip.SequenceOrder, clip.SourceImageURL,
		clip.EndImageURL, clip.RoomType, clip.RoomLabel, clip.MotionPrompt,
		clip.Duration, clip.Status,
	).Scan(&clip.CreatedAt, &clip.UpdatedAt)
}

func (db *DB) GetClip(ctx context.Context, id uuid.UUID) (*models.VideoClip, error) {
	query := `SELECT ` + clipColumns + ` FROM video_clips WHERE id = $1`

	clip := &models.VideoClip{}
	err := scanClip(db.QueryRowContext(ctx, query, id), clip)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("clip %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clip: %w", err)
	}

	return clip, nil
}

// GetClips returns the live clip set of a project ordered by sequence_order.
func (db *DB) GetClips(ctx context.Context, projectID uuid.UUID) ([]models.VideoClip, error) {
	query := `SELECT ` + clipColumns + ` FROM video_clips WHERE video_project_id = $1 ORDER BY sequence_order`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clips: %w", err)
	}
	defer rows.Close()

	var clips []models.VideoClip
	for rows.Next() {
		var clip models.VideoClip
		if err := scanClip(rows, &clip); err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		clips = append(clips, clip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clips: %w", err)
	}

	return clips, nil
}

// UpdateClip applies a partial update to one clip row.
func (db *DB) UpdateClip(ctx context.Context, id uuid.UUID, patch models.ClipPatch) error {
	b := &setBuilder{}
	if patch.Status != nil {
		b.add("status", *patch.Status)
	}
	if patch.ClipURL != nil {
		b.add("clip_url", *patch.ClipURL)
	}
	if patch.Provider != nil {
		b.add("provider", *patch.Provider)
	}
	if patch.ErrorMessage != nil {
		b.add("error_message", *patch.ErrorMessage)
	} else if patch.ClearError {
		b.addRaw("error_message = NULL")
	}
	if b.empty() {
		return nil
	}

	query, args := b.build("video_clips", id)
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update clip: %w", err)
	}
	return expectOneRow(result, "clip", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClip(row rowScanner, clip *models.VideoClip) error {
	return row.Scan(
		&clip.ID, &clip.VideoProjectID, &clip.SequenceOrder, &clip.SourceImageURL,
		&clip.EndImageURL, &clip.RoomType, &clip.RoomLabel, &clip.MotionPrompt,
		&clip.Duration, &clip.Status, &clip.ClipURL, &clip.ErrorMessage,
		&clip.Provider, &clip.CreatedAt, &clip.UpdatedAt,
	)
}

// ClaimClip moves a clip to processing and clears its error, but only when
// no other run holds it. A processing clip last touched before staleBefore
// is treated as abandoned and can be claimed again. Returns ErrConflict when
// the clip is held or already has a result.
func (db *DB) ClaimClip(ctx context.Context, id uuid.UUID, staleBefore time.Time) error {
	query := `
		UPDATE video_clips
		SET status = $2, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND (
			status IN ($3, $4)
			OR (status = $5 AND COALESCE(clip_url, '') = '')
			OR (status = $2 AND updated_at < $6)
		)
	`
	result, err := db.ExecContext(ctx, query, id,
		models.ClipStatusProcessing, models.ClipStatusPending, models.ClipStatusFailed,
		models.ClipStatusCompleted, staleBefore)
	if err != nil {
		return fmt.Errorf("failed to claim clip: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	clip, err := db.GetClip(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("clip %s is %s: %w", id, clip.Status, models.ErrConflict)
}
