// Package worker consumes the async start and regenerate jobs queued by the API.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobarin/listingreels/internal/clipgen"
	"github.com/bobarin/listingreels/internal/logger"
	"github.com/bobarin/listingreels/internal/models"
	"github.com/bobarin/listingreels/internal/orchestrator"
	"github.com/bobarin/listingreels/internal/queue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const dequeueTimeout = 5 * time.Second

type Queue interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
	SetStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, errMsg string) error
}

type Starter interface {
	StartGeneration(ctx context.Context, projectID uuid.UUID) (*orchestrator.Summary, error)
}

type ClipGenerator interface {
	Generate(ctx context.Context, clipID uuid.UUID, opts clipgen.Options) (string, error)
}

type Worker struct {
	queue     Queue
	starter   Starter
	generator ClipGenerator
	log       *logrus.Entry
}

func New(q Queue, starter Starter, generator ClipGenerator) *Worker {
	return &Worker{
		queue:     q,
		starter:   starter,
		generator: generator,
		log:       logger.For("worker"),
	}
}

// Start runs concurrency consumers per queue and blocks until ctx is done
// and every consumer has returned.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	w.log.WithField("concurrency", concurrency).Info("worker started")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			w.processQueue(ctx, queue.QueueStartGeneration, w.handleStartGeneration)
		}()
		go func() {
			defer wg.Done()
			w.processQueue(ctx, queue.QueueGenerateClip, w.handleGenerateClip)
		}()
	}

	<-ctx.Done()
	w.log.Info("worker shutting down")
	wg.Wait()
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, queueName, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.WithError(err).WithField("queue", queueName).Error("dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue // No job available
		}

		w.runJob(ctx, job, handler)
	}
}

// runJob executes one job and records its outcome. Jobs that were already
// dequeued run to completion even during shutdown.
func (w *Worker) runJob(ctx context.Context, job *queue.Job, handler func(context.Context, *queue.Job) error) {
	log := w.log.WithFields(logrus.Fields{"job_id": job.ID, "type": job.Type, "project_id": job.ProjectID})
	jobCtx := context.WithoutCancel(ctx)

	log.Info("processing job")
	if err := w.queue.SetStatus(jobCtx, job.ID, models.JobStatusRunning, ""); err != nil {
		log.WithError(err).Warn("failed to update job status")
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in job handler: %v", r)
			}
		}()
		return handler(jobCtx, job)
	}()

	if err != nil {
		log.WithError(err).Error("job failed")
		if serr := w.queue.SetStatus(jobCtx, job.ID, models.JobStatusFailed, err.Error()); serr != nil {
			log.WithError(serr).Warn("failed to update job status")
		}
		return
	}

	log.Info("job completed")
	if err := w.queue.SetStatus(jobCtx, job.ID, models.JobStatusSucceeded, ""); err != nil {
		log.WithError(err).Warn("failed to update job status")
	}
}

func (w *Worker) handleStartGeneration(ctx context.Context, job *queue.Job) error {
	summary, err := w.starter.StartGeneration(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	w.log.WithFields(logrus.Fields{
		"project_id":        job.ProjectID,
		"successful":        summary.SuccessfulClips,
		"failed":            summary.FailedClips,
		"handoff_reference": summary.HandoffReference,
	}).Info("project generation finished")
	return nil
}

func (w *Worker) handleGenerateClip(ctx context.Context, job *queue.Job) error {
	if job.ClipID == nil {
		return fmt.Errorf("generate_clip job %s has no clip id", job.ID)
	}
	_, err := w.generator.Generate(ctx, *job.ClipID, clipgen.Options{
		TailImageURL: job.StringData("tail_image_url"),
		RoomLabel:    job.StringData("room_label"),
		Provider:     job.StringData("provider"),
	})
	return err
}
