package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobarin/listingreels/internal/models"
	"github.com/google/uuid"
)

// MemoryStore keeps projects and clips in process memory. It backs
// STATE_STORE=memory for local runs and the package tests. Reads return
// copies so callers never share rows.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]models.VideoProject
	clips    map[uuid.UUID]models.VideoClip
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[uuid.UUID]models.VideoProject),
		clips:    make(map[uuid.UUID]models.VideoClip),
	}
}

func (m *MemoryStore) CreateProject(_ context.Context, project *models.VideoProject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[project.ID]; ok {
		return fmt.Errorf("project %s already exists", project.ID)
	}
	now := time.Now()
	project.CreatedAt, project.UpdatedAt = now, now
	m.projects[project.ID] = *project
	return nil
}

func (m *MemoryStore) CreateClip(_ context.Context, clip *models.VideoClip) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[clip.VideoProjectID]; !ok {
		return fmt.Errorf("project %s: %w", clip.VideoProjectID, models.ErrNotFound)
	}
	for _, c := range m.clips {
		if c.VideoProjectID == clip.VideoProjectID && c.SequenceOrder == clip.SequenceOrder {
			return fmt.Errorf("sequence_order %d already used in project %s", clip.SequenceOrder, clip.VideoProjectID)
		}
	}
	now := time.Now()
	clip.CreatedAt, clip.UpdatedAt = now, now
	m.clips[clip.ID] = *clip
	return nil
}

// DeleteProject removes a project together with its clips.
func (m *MemoryStore) DeleteProject(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}
	delete(m.projects, id)
	for clipID, c := range m.clips {
		if c.VideoProjectID == id {
			delete(m.clips, clipID)
		}
	}
	return nil
}

func (m *MemoryStore) GetProject(_ context.Context, id uuid.UUID) (*models.VideoProject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}
	return &p, nil
}

func (m *MemoryStore) GetClip(_ context.Context, id uuid.UUID) (*models.VideoClip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clips[id]
	if !ok {
		return nil, fmt.Errorf("clip %s: %w", id, models.ErrNotFound)
	}
	return &c, nil
}

func (m *MemoryStore) GetClips(_ context.Context, projectID uuid.UUID) ([]models.VideoClip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var clips []models.VideoClip
	for _, c := range m.clips {
		if c.VideoProjectID == projectID {
			clips = append(clips, c)
		}
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].SequenceOrder < clips[j].SequenceOrder })
	return clips, nil
}

func (m *MemoryStore) UpdateProject(_ context.Context, id uuid.UUID, patch models.ProjectPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.EstimatedCostCents != nil {
		p.EstimatedCostCents = *patch.EstimatedCostCents
	}
	if patch.ActualCostCents != nil {
		p.ActualCostCents = *patch.ActualCostCents
	}
	if patch.ErrorMessage != nil {
		p.ErrorMessage = models.StrPtr(*patch.ErrorMessage)
	} else if patch.ClearError {
		p.ErrorMessage = nil
	}
	p.UpdatedAt = time.Now()
	m.projects[id] = p
	return nil
}

func (m *MemoryStore) UpdateClip(_ context.Context, id uuid.UUID, patch models.ClipPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clips[id]
	if !ok {
		return fmt.Errorf("clip %s: %w", id, models.ErrNotFound)
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	if patch.ClipURL != nil {
		c.ClipURL = models.StrPtr(*patch.ClipURL)
	}
	if patch.Provider != nil {
		c.Provider = models.StrPtr(*patch.Provider)
	}
	if patch.ErrorMessage != nil {
		c.ErrorMessage = models.StrPtr(*patch.ErrorMessage)
	} else if patch.ClearError {
		c.ErrorMessage = nil
	}
	c.UpdatedAt = time.Now()
	m.clips[id] = c
	return nil
}

func (m *MemoryStore) RecomputeProjectCounts(_ context.Context, projectID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s: %w", projectID, models.ErrNotFound)
	}
	p.CompletedClipCount, p.FailedClipCount = 0, 0
	for _, c := range m.clips {
		if c.VideoProjectID != projectID {
			continue
		}
		switch c.Status {
		case models.ClipStatusCompleted:
			p.CompletedClipCount++
		case models.ClipStatusFailed:
			p.FailedClipCount++
		}
	}
	p.UpdatedAt = time.Now()
	m.projects[projectID] = p
	return nil
}

func (m *MemoryStore) ClaimClip(_ context.Context, id uuid.UUID, staleBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clips[id]
	if !ok {
		return fmt.Errorf("clip %s: %w", id, models.ErrNotFound)
	}
	if !c.Claimable(staleBefore) {
		return fmt.Errorf("clip %s is %s: %w", id, c.Status, models.ErrConflict)
	}
	c.Status = models.ClipStatusProcessing
	c.ErrorMessage = nil
	c.UpdatedAt = time.Now()
	m.clips[id] = c
	return nil
}

func (m *MemoryStore) ClaimProjectForGeneration(_ context.Context, id uuid.UUID, estimatedCents int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}
	if p.Status.InFlight() {
		return fmt.Errorf("project %s is already %s: %w", id, p.Status, models.ErrConflict)
	}
	p.Status = models.ProjectStatusGenerating
	p.EstimatedCostCents = estimatedCents
	p.ErrorMessage = nil
	p.UpdatedAt = time.Now()
	m.projects[id] = p
	return nil
}
