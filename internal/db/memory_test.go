package db

import (
	"context"
	"testing"
	"time"

	"github.com/bobarin/listingreels/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, m *MemoryStore, statuses ...models.ClipStatus) (*models.VideoProject, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	project := &models.VideoProject{ID: uuid.New(), WorkspaceID: uuid.New(), ClipCount: 99, Status: models.ProjectStatusPending}
	require.NoError(t, m.CreateProject(ctx, project))

	var ids []uuid.UUID
	// Insert in reverse so ordering comes from sequence_order, not insertion
	for i := len(statuses) - 1; i >= 0; i-- {
		clip := &models.VideoClip{ID: uuid.New(), VideoProjectID: project.ID, SequenceOrder: i, Status: statuses[i]}
		require.NoError(t, m.CreateClip(ctx, clip))
		ids = append([]uuid.UUID{clip.ID}, ids...)
	}
	return project, ids
}

func TestMemoryStoreGetClipsOrdered(t *testing.T) {
	m := NewMemoryStore()
	project, ids := seed(t, m, models.ClipStatusPending, models.ClipStatusPending, models.ClipStatusPending)

	clips, err := m.GetClips(context.Background(), project.ID)
	require.NoError(t, err)
	require.Len(t, clips, 3)
	for i, c := range clips {
		assert.Equal(t, i, c.SequenceOrder)
		assert.Equal(t, ids[i], c.ID)
	}
}

func TestMemoryStoreRecomputeCountsUsesLiveClips(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	project, _ := seed(t, m, models.ClipStatusCompleted, models.ClipStatusFailed, models.ClipStatusCompleted, models.ClipStatusProcessing)

	require.NoError(t, m.RecomputeProjectCounts(ctx, project.ID))
	got, err := m.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CompletedClipCount)
	assert.Equal(t, 1, got.FailedClipCount)
	assert.Equal(t, 99, got.ClipCount)
}

func TestMemoryStorePatches(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	project, ids := seed(t, m, models.ClipStatusFailed)

	require.NoError(t, m.UpdateClip(ctx, ids[0], models.ClipPatch{ErrorMessage: models.StrPtr("boom")}))
	require.NoError(t, m.UpdateClip(ctx, ids[0], models.ClipPatch{
		Status:     models.ClipStatusPtr(models.ClipStatusCompleted),
		ClipURL:    models.StrPtr("https://cdn/x.mp4"),
		ClearError: true,
	}))
	clip, err := m.GetClip(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, clip.HasResult())
	assert.Nil(t, clip.ErrorMessage)

	require.NoError(t, m.UpdateProject(ctx, project.ID, models.ProjectPatch{EstimatedCostCents: models.IntPtr(150)}))
	got, _ := m.GetProject(ctx, project.ID)
	assert.Equal(t, 150, got.EstimatedCostCents)
	assert.Equal(t, models.ProjectStatusPending, got.Status)
}

func TestMemoryStoreNotFound(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, err := m.GetProject(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = m.GetClip(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, m.UpdateClip(ctx, uuid.New(), models.ClipPatch{}), models.ErrNotFound)
}

func TestMemoryStoreDeleteCascades(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	project, ids := seed(t, m, models.ClipStatusPending, models.ClipStatusPending)

	require.NoError(t, m.DeleteProject(ctx, project.ID))
	for _, id := range ids {
		_, err := m.GetClip(ctx, id)
		assert.ErrorIs(t, err, models.ErrNotFound)
	}
}

func TestMemoryStoreRejectsDuplicateSequence(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	project, _ := seed(t, m, models.ClipStatusPending)

	err := m.CreateClip(ctx, &models.VideoClip{ID: uuid.New(), VideoProjectID: project.ID, SequenceOrder: 0})
	assert.Error(t, err)
}

func TestMemoryStoreClaimClip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, ids := seed(t, m, models.ClipStatusPending, models.ClipStatusFailed)
	staleBefore := time.Now().Add(-time.Minute)

	require.NoError(t, m.ClaimClip(ctx, ids[0], staleBefore))
	clip, _ := m.GetClip(ctx, ids[0])
	assert.Equal(t, models.ClipStatusProcessing, clip.Status)

	// Held by a live run
	err := m.ClaimClip(ctx, ids[0], staleBefore)
	assert.ErrorIs(t, err, models.ErrConflict)

	// Abandoned run
	require.NoError(t, m.ClaimClip(ctx, ids[0], time.Now().Add(time.Minute)))

	require.NoError(t, m.UpdateClip(ctx, ids[1], models.ClipPatch{
		Status:  models.ClipStatusPtr(models.ClipStatusCompleted),
		ClipURL: models.StrPtr("https://cdn.example.com/1.mp4"),
	}))
	assert.ErrorIs(t, m.ClaimClip(ctx, ids[1], staleBefore), models.ErrConflict)

	assert.ErrorIs(t, m.ClaimClip(ctx, uuid.New(), staleBefore), models.ErrNotFound)
}

func TestMemoryStoreClaimProjectForGeneration(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	project, _ := seed(t, m, models.ClipStatusPending)
	require.NoError(t, m.UpdateProject(ctx, project.ID, models.ProjectPatch{ErrorMessage: models.StrPtr("old")}))

	require.NoError(t, m.ClaimProjectForGeneration(ctx, project.ID, 150))
	got, _ := m.GetProject(ctx, project.ID)
	assert.Equal(t, models.ProjectStatusGenerating, got.Status)
	assert.Equal(t, 150, got.EstimatedCostCents)
	assert.Nil(t, got.ErrorMessage)

	assert.ErrorIs(t, m.ClaimProjectForGeneration(ctx, project.ID, 150), models.ErrConflict)

	require.NoError(t, m.UpdateProject(ctx, project.ID, models.ProjectPatch{Status: models.ProjectStatusPtr(models.ProjectStatusCompiling)}))
	assert.ErrorIs(t, m.ClaimProjectForGeneration(ctx, project.ID, 150), models.ErrConflict)

	assert.ErrorIs(t, m.ClaimProjectForGeneration(ctx, uuid.New(), 0), models.ErrNotFound)
}
