package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobarin/listingreels/internal/models"
	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
)

const (
	projectsTable = "video_projects"
	clipsTable    = "video_clips"
)

// RESTStore is the state store backed by Supabase's PostgREST endpoint. It
// serves the same operations as DB for deployments without direct Postgres
// access. postgrest-go does not take a context, so ctx is only checked
// before each request.
type RESTStore struct {
	client *postgrest.Client
}

func NewRESTStore(supabaseURL, serviceKey string) (*RESTStore, error) {
	client := postgrest.NewClient(supabaseURL+"/rest/v1", "", map[string]string{
		"apikey":        serviceKey,
		"Authorization": "Bearer " + serviceKey,
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("failed to create postgrest client: %w", client.ClientError)
	}
	return &RESTStore{client: client}, nil
}

func (s *RESTStore) GetProject(ctx context.Context, id uuid.UUID) (*models.VideoProject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []models.VideoProject
	body, _, err := s.client.From(projectsTable).Select("*", "", false).Eq("id", id.String()).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode project: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}
	return &rows[0], nil
}

func (s *RESTStore) GetClip(ctx context.Context, id uuid.UUID) (*models.VideoClip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []models.VideoClip
	body, _, err := s.client.From(clipsTable).Select("*", "", false).Eq("id", id.String()).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get clip: %w", err)
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode clip: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("clip %s: %w", id, models.ErrNotFound)
	}
	return &rows[0], nil
}

func (s *RESTStore) GetClips(ctx context.Context, projectID uuid.UUID) ([]models.VideoClip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var clips []models.VideoClip
	_, err := s.client.From(clipsTable).
		Select("*", "", false).
		Eq("video_project_id", projectID.String()).
		Order("sequence_order", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&clips)
	if err != nil {
		return nil, fmt.Errorf("failed to query clips: %w", err)
	}
	return clips, nil
}

func (s *RESTStore) UpdateProject(ctx context.Context, id uuid.UUID, patch models.ProjectPatch) error {
	values := map[string]interface{}{}
	if patch.Status != nil {
		values["status"] = *patch.Status
	}
	if patch.EstimatedCostCents != nil {
		values["estimated_cost_cents"] = *patch.EstimatedCostCents
	}
	if patch.ActualCostCents != nil {
		values["actual_cost_cents"] = *patch.ActualCostCents
	}
	if patch.ErrorMessage != nil {
		values["error_message"] = *patch.ErrorMessage
	} else if patch.ClearError {
		values["error_message"] = nil
	}
	if len(values) == 0 {
		return nil
	}
	return s.update(ctx, projectsTable, "project", id, values)
}

func (s *RESTStore) UpdateClip(ctx context.Context, id uuid.UUID, patch models.ClipPatch) error {
	values := map[string]interface{}{}
	if patch.Status != nil {
		values["status"] = *patch.Status
	}
	if patch.ClipURL != nil {
		values["clip_url"] = *patch.ClipURL
	}
	if patch.Provider != nil {
		values["provider"] = *patch.Provider
	}
	if patch.ErrorMessage != nil {
		values["error_message"] = *patch.ErrorMessage
	} else if patch.ClearError {
		values["error_message"] = nil
	}
	if len(values) == 0 {
		return nil
	}
	return s.update(ctx, clipsTable, "clip", id, values)
}

// RecomputeProjectCounts counts clips by status and writes both aggregates
// back. PostgREST has no subquery updates, so this takes three requests; a
// concurrent clip write can only make the result stale, never negative.
func (s *RESTStore) RecomputeProjectCounts(ctx context.Context, projectID uuid.UUID) error {
	completed, err := s.countClips(ctx, projectID, models.ClipStatusCompleted)
	if err != nil {
		return err
	}
	failed, err := s.countClips(ctx, projectID, models.ClipStatusFailed)
	if err != nil {
		return err
	}

	return s.update(ctx, projectsTable, "project", projectID, map[string]interface{}{
		"completed_clip_count": completed,
		"failed_clip_count":    failed,
	})
}

func (s *RESTStore) countClips(ctx context.Context, projectID uuid.UUID, status models.ClipStatus) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, count, err := s.client.From(clipsTable).
		Select("id", "exact", true).
		Eq("video_project_id", projectID.String()).
		Eq("status", string(status)).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s clips: %w", status, err)
	}
	return count, nil
}

func (s *RESTStore) update(ctx context.Context, table, kind string, id uuid.UUID, values map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	values["updated_at"] = time.Now().UTC()

	var rows []map[string]interface{}
	_, err := s.client.From(table).Update(values, "representation", "").Eq("id", id.String()).ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	return nil
}

// ClaimClip is the conditional processing transition of DB.ClaimClip,
// expressed as PostgREST filters on the PATCH.
func (s *RESTStore) ClaimClip(ctx context.Context, id uuid.UUID, staleBefore time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	claimable := fmt.Sprintf(
		"status.in.(%s,%s),and(status.eq.%s,clip_url.is.null),and(status.eq.%s,clip_url.eq.),and(status.eq.%s,updated_at.lt.%s)",
		models.ClipStatusPending, models.ClipStatusFailed,
		models.ClipStatusCompleted, models.ClipStatusCompleted,
		models.ClipStatusProcessing, staleBefore.UTC().Format(time.RFC3339),
	)
	values := map[string]interface{}{
		"status":        models.ClipStatusProcessing,
		"error_message": nil,
		"updated_at":    time.Now().UTC(),
	}

	var rows []map[string]interface{}
	_, err := s.client.From(clipsTable).
		Update(values, "representation", "").
		Eq("id", id.String()).
		Or(claimable, "").
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to claim clip: %w", err)
	}
	if len(rows) == 1 {
		return nil
	}

	clip, err := s.GetClip(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("clip %s is %s: %w", id, clip.Status, models.ErrConflict)
}

func (s *RESTStore) ClaimProjectForGeneration(ctx context.Context, id uuid.UUID, estimatedCents int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	values := map[string]interface{}{
		"status":               models.ProjectStatusGenerating,
		"estimated_cost_cents": estimatedCents,
		"error_message":        nil,
		"updated_at":           time.Now().UTC(),
	}
	idle := []string{
		string(models.ProjectStatusPending),
		string(models.ProjectStatusCompleted),
		string(models.ProjectStatusFailed),
	}

	var rows []map[string]interface{}
	_, err := s.client.From(projectsTable).
		Update(values, "representation", "").
		Eq("id", id.String()).
		In("status", idle).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to claim project: %w", err)
	}
	if len(rows) == 1 {
		return nil
	}

	project, err := s.GetProject(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("project %s is already %s: %w", id, project.Status, models.ErrConflict)
}
