package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/listingreels/internal/models"
	"github.com/google/uuid"
)

const projectColumns = `
	id, workspace_id, listing_id, clip_count, aspect_ratio,
	generate_native_audio, music_volume, video_volume, status,
	estimated_cost_cents, actual_cost_cents, completed_clip_count,
	failed_clip_count, error_message, metadata, created_at, updated_at
`

// CreateProject inserts a project. Projects are normally created upstream;
// this exists for seeding and tests.
func (db *DB) CreateProject(ctx context.Context, project *models.VideoProject) error {
	query := `
		INSERT INTO video_projects (
			id, workspace_id, listing_id, clip_count, aspect_ratio,
			generate_native_audio, music_volume, video_volume, status, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		project.ID, project.WorkspaceID, project.ListingID, project.ClipCount,
		project.AspectRatio, project.GenerateNativeAudio, project.MusicVolume,
		project.VideoVolume, project.Status, project.Metadata,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
}

func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*models.VideoProject, error) {
	query := `SELECT ` + projectColumns + ` FROM video_projects WHERE id = $1`

	project := &models.VideoProject{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&project.ID, &project.WorkspaceID, &project.ListingID, &project.ClipCount,
		&project.AspectRatio, &project.GenerateNativeAudio, &project.MusicVolume,
		&project.VideoVolume, &project.Status, &project.EstimatedCostCents,
		&project.ActualCostCents, &project.CompletedClipCount, &project.FailedClipCount,
		&project.ErrorMessage, &project.Metadata, &project.CreatedAt, &project.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// UpdateProject applies a partial update to one project row.
func (db *DB) UpdateProject(ctx context.Context, id uuid.UUID, patch models.ProjectPatch) error {
	b := &setBuilder{}
	if patch.Status != nil {
		b.add("status", *patch.Status)
	}
	if patch.EstimatedCostCents != nil {
		b.add("estimated_cost_cents", *patch.EstimatedCostCents)
	}
	if patch.ActualCostCents != nil {
		b.add("actual_cost_cents", *patch.ActualCostCents)
	}
	if patch.ErrorMessage != nil {
		b.add("error_message", *patch.ErrorMessage)
	} else if patch.ClearError {
		b.addRaw("error_message = NULL")
	}
	if b.empty() {
		return nil
	}

	query, args := b.build("video_projects", id)
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return expectOneRow(result, "project", id)
}

// RecomputeProjectCounts refreshes the completed/failed aggregates from the
// live clip rows in a single statement. The clip_count hint is left alone.
func (db *DB) RecomputeProjectCounts(ctx context.Context, projectID uuid.UUID) error {
	query := `
		UPDATE video_projects
		SET completed_clip_count = (
				SELECT COUNT(*) FROM video_clips WHERE video_project_id = $1 AND status = $2
			),
			failed_clip_count = (
				SELECT COUNT(*) FROM video_clips WHERE video_project_id = $1 AND status = $3
			),
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := db.ExecContext(ctx, query, projectID, models.ClipStatusCompleted, models.ClipStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to recompute project counts: %w", err)
	}
	return expectOneRow(result, "project", projectID)
}

func expectOneRow(result sql.Result, kind string, id uuid.UUID) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	return nil
}

// ClaimProjectForGeneration moves a project to generating with its cost
// estimate, but only if no generation or compilation is running. Two
// processes racing on one project cannot both win; the loser gets
// ErrConflict.
func (db *DB) ClaimProjectForGeneration(ctx context.Context, id uuid.UUID, estimatedCents int) error {
	query := `
		UPDATE video_projects
		SET status = $2, estimated_cost_cents = $3, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($2, $4)
	`
	result, err := db.ExecContext(ctx, query, id, models.ProjectStatusGenerating, estimatedCents, models.ProjectStatusCompiling)
	if err != nil {
		return fmt.Errorf("failed to claim project: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	project, err := db.GetProject(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("project %s is already %s: %w", id, project.Status, models.ErrConflict)
}
