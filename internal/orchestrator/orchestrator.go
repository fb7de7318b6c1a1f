// Package orchestrator runs a project's clips concurrently and advances the
// project through generating, compiling and failed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bobarin/listingreels/internal/clipgen"
	"github.com/bobarin/listingreels/internal/logger"
	"github.com/bobarin/listingreels/internal/metrics"
	"github.com/bobarin/listingreels/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.VideoProject, error)
	GetClips(ctx context.Context, projectID uuid.UUID) ([]models.VideoClip, error)
	UpdateProject(ctx context.Context, id uuid.UUID, patch models.ProjectPatch) error
	// ClaimProjectForGeneration moves the project to generating unless a
	// generation or compilation is already running, returning
	// models.ErrConflict otherwise.
	ClaimProjectForGeneration(ctx context.Context, id uuid.UUID, estimatedCents int) error
	RecomputeProjectCounts(ctx context.Context, projectID uuid.UUID) error
}

type ClipGenerator interface {
	Generate(ctx context.Context, clipID uuid.UUID, opts clipgen.Options) (string, error)
}

// Compiler hands a project to the external compilation stage and returns a
// reference to the queued work. Completion is observed elsewhere.
type Compiler interface {
	Trigger(ctx context.Context, projectID uuid.UUID) (string, error)
}

// Summary is the outcome of a start or a compilation retrigger.
type Summary struct {
	ProjectID        uuid.UUID
	Status           models.ProjectStatus
	SuccessfulClips  int
	FailedClips      int
	HandoffReference string
}

type Orchestrator struct {
	store     Store
	generator ClipGenerator
	compiler  Compiler
	cost      CostModel
	log       *logrus.Entry

	// Projects being started by this process. The status check in the store
	// rejects re-triggers across processes; this closes the gap between
	// reading the status and writing generating within one process.
	mu       sync.Mutex
	starting map[uuid.UUID]struct{}
}

func New(store Store, generator ClipGenerator, compiler Compiler, cost CostModel) *Orchestrator {
	return &Orchestrator{
		store:     store,
		generator: generator,
		compiler:  compiler,
		cost:      cost,
		log:       logger.For("orchestrator"),
		starting:  make(map[uuid.UUID]struct{}),
	}
}

// StartGeneration generates every clip of the project concurrently and, if at
// least one succeeded, hands the project to compilation.
//
// NotFound, conflict and no-clips rejections leave the project untouched.
// When every clip fails the project ends failed and ErrAllClipsFailed is
// returned with the summary. When the handoff is rejected the project stays
// compiling, the error is recorded on it, and ErrHandoff is returned with the
// summary.
func (o *Orchestrator) StartGeneration(ctx context.Context, projectID uuid.UUID) (*Summary, error) {
	if !o.claim(projectID) {
		metrics.ProjectStarts.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, fmt.Errorf("project %s is already starting: %w", projectID, models.ErrConflict)
	}
	defer o.release(projectID)

	log := o.log.WithField("project_id", projectID)

	project, clips, err := o.checkPreconditions(ctx, projectID)
	if err != nil {
		metrics.ProjectStarts.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, err
	}

	estimated := o.cost.Cents(len(clips), project.GenerateNativeAudio)
	if err := o.store.ClaimProjectForGeneration(ctx, projectID, estimated); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Another process won the race after our status check
			metrics.ProjectStarts.WithLabelValues(metrics.OutcomeRejected).Inc()
			return nil, err
		}
		o.markFailed(ctx, projectID, fmt.Sprintf("failed to start generation: %v", err), log)
		metrics.ProjectStarts.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("failed to mark project generating: %w", err)
	}

	log.WithFields(logrus.Fields{"clips": len(clips), "estimated_cost_cents": estimated}).Info("generation started")

	succeeded := o.generateAll(ctx, clips, log)

	summary := &Summary{ProjectID: projectID}
	for _, ok := range succeeded {
		if ok {
			summary.SuccessfulClips++
		} else {
			summary.FailedClips++
		}
	}

	// Clip tasks are done; aggregate writes must not be lost to a cancelled caller
	writeCtx := context.WithoutCancel(ctx)

	if err := o.store.RecomputeProjectCounts(writeCtx, projectID); err != nil {
		log.WithError(err).Error("failed to recompute project counts")
	}

	if summary.SuccessfulClips == 0 {
		msg := fmt.Sprintf("all %d clips failed", summary.FailedClips)
		summary.Status = models.ProjectStatusFailed
		o.markFailed(writeCtx, projectID, msg, log)
		metrics.ProjectStarts.WithLabelValues(metrics.OutcomeFailure).Inc()
		return summary, fmt.Errorf("project %s: %w", projectID, ErrAllClipsFailed)
	}

	actual := o.cost.Cents(summary.SuccessfulClips, project.GenerateNativeAudio)
	summary.Status = models.ProjectStatusCompiling
	if err := o.store.UpdateProject(writeCtx, projectID, models.ProjectPatch{
		Status:          models.ProjectStatusPtr(models.ProjectStatusCompiling),
		ActualCostCents: models.IntPtr(actual),
	}); err != nil {
		metrics.ProjectStarts.WithLabelValues(metrics.OutcomeFailure).Inc()
		return summary, fmt.Errorf("failed to mark project compiling: %w", err)
	}

	outcome := metrics.OutcomeSuccess
	if summary.FailedClips > 0 {
		outcome = metrics.OutcomePartial
	}
	metrics.ProjectStarts.WithLabelValues(outcome).Inc()

	log.WithFields(logrus.Fields{
		"successful":        summary.SuccessfulClips,
		"failed":            summary.FailedClips,
		"actual_cost_cents": actual,
	}).Info("clips generated, handing off to compilation")

	if err := o.handoff(writeCtx, summary, log); err != nil {
		return summary, err
	}
	return summary, nil
}

// RetriggerCompilation re-sends the handoff for a project left in compiling,
// without touching its clips.
func (o *Orchestrator) RetriggerCompilation(ctx context.Context, projectID uuid.UUID) (*Summary, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Status != models.ProjectStatusCompiling {
		return nil, fmt.Errorf("project %s is %s, not compiling: %w", projectID, project.Status, models.ErrConflict)
	}

	summary := &Summary{
		ProjectID:       projectID,
		Status:          project.Status,
		SuccessfulClips: project.CompletedClipCount,
		FailedClips:     project.FailedClipCount,
	}
	log := o.log.WithField("project_id", projectID)
	if err := o.handoff(ctx, summary, log); err != nil {
		return summary, err
	}

	if err := o.store.UpdateProject(ctx, projectID, models.ProjectPatch{ClearError: true}); err != nil {
		log.WithError(err).Warn("failed to clear handoff error")
	}
	return summary, nil
}

func (o *Orchestrator) checkPreconditions(ctx context.Context, projectID uuid.UUID) (*models.VideoProject, []models.VideoClip, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if project.Status.InFlight() {
		return nil, nil, fmt.Errorf("project %s is already %s: %w", projectID, project.Status, models.ErrConflict)
	}

	// The live clip rows are authoritative; project.ClipCount is only a hint
	clips, err := o.store.GetClips(ctx, projectID)
	if err != nil {
		o.markFailed(ctx, projectID, fmt.Sprintf("failed to load clips: %v", err), o.log.WithField("project_id", projectID))
		return nil, nil, fmt.Errorf("failed to load clips: %w", err)
	}
	if len(clips) == 0 {
		return nil, nil, fmt.Errorf("project %s: %w", projectID, ErrNoClips)
	}
	return project, clips, nil
}

// generateAll runs one task per clip and waits for every one of them. Each
// task writes only its own slot, and clip errors never cancel siblings.
func (o *Orchestrator) generateAll(ctx context.Context, clips []models.VideoClip, log *logrus.Entry) []bool {
	succeeded := make([]bool, len(clips))

	var g errgroup.Group
	for i := range clips {
		clip := clips[i]
		g.Go(func() error {
			if _, err := o.generator.Generate(ctx, clip.ID, clipgen.Options{}); err != nil {
				log.WithError(err).WithField("clip_id", clip.ID).Warn("clip failed")
				return nil
			}
			succeeded[i] = true
			return nil
		})
	}
	_ = g.Wait()

	return succeeded
}

func (o *Orchestrator) handoff(ctx context.Context, summary *Summary, log *logrus.Entry) error {
	ref, err := o.compiler.Trigger(ctx, summary.ProjectID)
	if err != nil {
		metrics.CompileHandoffs.WithLabelValues(metrics.OutcomeFailure).Inc()
		log.WithError(err).Error("compilation handoff failed, project left compiling")

		if uerr := o.store.UpdateProject(ctx, summary.ProjectID, models.ProjectPatch{
			ErrorMessage: models.StrPtr(fmt.Sprintf("compilation handoff failed: %v", err)),
		}); uerr != nil {
			log.WithError(uerr).Error("failed to record handoff error")
		}
		return fmt.Errorf("%w: %v", ErrHandoff, err)
	}

	metrics.CompileHandoffs.WithLabelValues(metrics.OutcomeSuccess).Inc()
	summary.HandoffReference = ref
	log.WithField("handoff_reference", ref).Info("compilation triggered")
	return nil
}

func (o *Orchestrator) markFailed(ctx context.Context, projectID uuid.UUID, msg string, log *logrus.Entry) {
	if err := o.store.UpdateProject(ctx, projectID, models.ProjectPatch{
		Status:       models.ProjectStatusPtr(models.ProjectStatusFailed),
		ErrorMessage: models.StrPtr(msg),
	}); err != nil && !errors.Is(err, models.ErrNotFound) {
		log.WithError(err).Error("failed to mark project failed")
	}
}

func (o *Orchestrator) claim(projectID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.starting[projectID]; busy {
		return false
	}
	o.starting[projectID] = struct{}{}
	return true
}

func (o *Orchestrator) release(projectID uuid.UUID) {
	o.mu.Lock()
	delete(o.starting, projectID)
	o.mu.Unlock()
}
