// Package clipgen drives a single clip from pending or failed to a terminal
// state: fetch frames, call a provider, persist the result.
package clipgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/listingreels/internal/logger"
	"github.com/bobarin/listingreels/internal/metrics"
	"github.com/bobarin/listingreels/internal/models"
	"github.com/bobarin/listingreels/internal/prompts"
	"github.com/bobarin/listingreels/internal/providers"
	"github.com/bobarin/listingreels/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	videoContentType = "video/mp4"

	// A processing clip untouched for longer than the clip timeout plus this
	// grace belongs to a run that died and may be claimed again.
	staleGrace = time.Minute
	// Used when clips have no timeout of their own.
	defaultStaleAfter = 30 * time.Minute
)

type Store interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.VideoProject, error)
	GetClip(ctx context.Context, id uuid.UUID) (*models.VideoClip, error)
	// ClaimClip moves the clip to processing unless another run holds it.
	ClaimClip(ctx context.Context, id uuid.UUID, staleBefore time.Time) error
	UpdateClip(ctx context.Context, id uuid.UUID, patch models.ClipPatch) error
	RecomputeProjectCounts(ctx context.Context, projectID uuid.UUID) error
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*storage.Object, error)
}

type ProviderResolver interface {
	Resolve(preference ...string) (providers.Provider, error)
}

// Options are per-call overrides from the regenerate endpoint.
type Options struct {
	TailImageURL string
	RoomLabel    string
	Provider     string
}

type Generator struct {
	store      Store
	fetcher    Fetcher
	uploader   storage.Uploader
	providers  ProviderResolver
	timeout    time.Duration
	staleAfter time.Duration
	log        *logrus.Entry
}

// New creates a generator. timeout bounds one clip's fetch, generation and
// upload; zero means no limit beyond the caller's context.
func New(store Store, fetcher Fetcher, uploader storage.Uploader, registry ProviderResolver, timeout time.Duration) *Generator {
	staleAfter := defaultStaleAfter
	if timeout > 0 {
		staleAfter = timeout + staleGrace
	}
	return &Generator{
		store:      store,
		fetcher:    fetcher,
		uploader:   uploader,
		providers:  registry,
		timeout:    timeout,
		staleAfter: staleAfter,
		log:        logger.For("clipgen"),
	}
}

// Generate runs one clip and returns its durable URL. A clip that already
// completed is returned as is without calling a provider, and a clip held by
// another live run is rejected with models.ErrConflict. Every failure after
// the clip is claimed leaves it failed with the message stored, and the
// project aggregates are recomputed whatever the outcome.
func (g *Generator) Generate(ctx context.Context, clipID uuid.UUID, opts Options) (string, error) {
	clip, err := g.store.GetClip(ctx, clipID)
	if err != nil {
		return "", err
	}
	project, err := g.store.GetProject(ctx, clip.VideoProjectID)
	if err != nil {
		return "", err
	}

	log := g.log.WithFields(logrus.Fields{
		"project_id": project.ID,
		"clip_id":    clip.ID,
		"sequence":   clip.SequenceOrder,
	})

	// Terminal writes must land even if the caller's context has ended
	writeCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := g.store.RecomputeProjectCounts(writeCtx, project.ID); err != nil {
			log.WithError(err).Error("failed to recompute project counts")
		}
	}()

	if clip.HasResult() {
		log.Info("clip already completed, skipping generation")
		metrics.ClipGenerations.WithLabelValues(stringOr(clip.Provider, "none"), metrics.OutcomeSkipped).Inc()
		return *clip.ClipURL, nil
	}

	if err := g.store.ClaimClip(ctx, clip.ID, time.Now().Add(-g.staleAfter)); err != nil {
		if !errors.Is(err, models.ErrConflict) {
			return "", fmt.Errorf("failed to mark clip processing: %w", err)
		}
		// Another run may have finished between the read and the claim
		if latest, getErr := g.store.GetClip(ctx, clip.ID); getErr == nil && latest.HasResult() {
			metrics.ClipGenerations.WithLabelValues(stringOr(latest.Provider, "none"), metrics.OutcomeSkipped).Inc()
			return *latest.ClipURL, nil
		}
		log.WithError(err).Warn("clip is held by another run")
		metrics.ClipGenerations.WithLabelValues(stringOr(clip.Provider, "none"), metrics.OutcomeRejected).Inc()
		return "", err
	}

	runCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	url, providerName, runErr := g.run(runCtx, project, clip, opts, log)
	if providerName == "" {
		providerName = "unknown"
	}

	if runErr == nil {
		runErr = g.store.UpdateClip(writeCtx, clip.ID, models.ClipPatch{
			Status:     models.ClipStatusPtr(models.ClipStatusCompleted),
			ClipURL:    models.StrPtr(url),
			Provider:   models.StrPtr(providerName),
			ClearError: true,
		})
		if runErr == nil {
			metrics.ClipGenerations.WithLabelValues(providerName, metrics.OutcomeSuccess).Inc()
			log.WithFields(logrus.Fields{"provider": providerName, "url": url}).Info("clip completed")
			return url, nil
		}
		runErr = fmt.Errorf("failed to mark clip completed: %w", runErr)
	}

	log.WithError(runErr).WithField("provider", providerName).Error("clip generation failed")
	metrics.ClipGenerations.WithLabelValues(providerName, metrics.OutcomeFailure).Inc()

	if err := g.store.UpdateClip(writeCtx, clip.ID, models.ClipPatch{
		Status:       models.ClipStatusPtr(models.ClipStatusFailed),
		ErrorMessage: models.StrPtr(runErr.Error()),
		Provider:     models.StrPtr(providerName),
	}); err != nil {
		log.WithError(err).Error("failed to mark clip failed")
	}
	return "", runErr
}

// run performs the fallible part of a generation. A panic anywhere below is
// turned into an error so the clip still reaches a terminal state.
func (g *Generator) run(ctx context.Context, project *models.VideoProject, clip *models.VideoClip, opts Options, log *logrus.Entry) (url, providerName string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during clip generation: %v", r)
		}
	}()

	provider, err := g.providers.Resolve(opts.Provider, project.ProviderPreference())
	if err != nil {
		return "", "", err
	}
	providerName = provider.Name()

	source, err := g.fetcher.Fetch(ctx, clip.SourceImageURL)
	if err != nil {
		return "", providerName, &FetchError{URL: clip.SourceImageURL, Err: err}
	}

	tail := source
	tailURL := opts.TailImageURL
	if tailURL == "" && clip.EndImageURL != nil {
		tailURL = *clip.EndImageURL
	}
	if tailURL != "" && tailURL != clip.SourceImageURL {
		fetched, err := g.fetcher.Fetch(ctx, tailURL)
		if err != nil {
			log.WithError(err).WithField("tail_url", tailURL).Warn("tail image unavailable, using source image")
		} else {
			tail = fetched
		}
	}

	aspect := project.AspectRatio
	if !aspect.Valid() {
		aspect = models.AspectRatioLandscape
	}

	input := providers.Input{
		Source:         providers.Image{Data: source.Data, ContentType: source.ContentType},
		Tail:           &providers.Image{Data: tail.Data, ContentType: tail.ContentType},
		Prompt:         prompts.Resolve(clip, opts.RoomLabel, project.GenerateNativeAudio, project.MusicTrack()),
		NegativePrompt: prompts.DefaultNegativePrompt,
		Duration:       models.NormalizeDuration(clip.Duration),
		AspectRatio:    aspect,
		GenerateAudio:  project.GenerateNativeAudio,
	}

	log.WithFields(logrus.Fields{"provider": providerName, "duration": input.Duration}).Info("generating clip")

	start := time.Now()
	result, err := provider.GenerateClip(ctx, input)
	metrics.ObserveProviderCall(providerName, start)
	if err != nil {
		return "", providerName, err
	}

	video := result.Video
	if len(video) == 0 {
		if result.VideoURL == "" {
			return "", providerName, &providers.Error{Provider: providerName, Stage: providers.StageResult, Message: "result has neither bytes nor url"}
		}
		obj, err := g.fetcher.Fetch(ctx, result.VideoURL)
		if err != nil {
			return "", providerName, &FetchError{URL: result.VideoURL, Err: err}
		}
		video = obj.Data
	}

	path := storage.ClipPath(project.WorkspaceID, project.ID, clip.ID)
	url, err = g.uploader.Upload(ctx, path, video, videoContentType)
	if err != nil {
		return "", providerName, &StorageError{Path: path, Err: err}
	}
	return url, providerName, nil
}

func stringOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
