// Package compiler hands finished projects to the external compilation stage.
// Triggers are fire-and-forget: the returned reference identifies the queued
// work, and completion is reported by the compiler itself.
package compiler

import (
	"context"
	"fmt"

	"github.com/bobarin/listingreels/internal/logger"
	"github.com/google/uuid"
)

var log = logger.For("compiler")

type enqueuer interface {
	EnqueueCompileVideo(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
}

// RedisTrigger pushes a compile_video job onto the shared Redis queue.
type RedisTrigger struct {
	queue enqueuer
}

func NewRedisTrigger(q enqueuer) *RedisTrigger {
	return &RedisTrigger{queue: q}
}

func (t *RedisTrigger) Trigger(ctx context.Context, projectID uuid.UUID) (string, error) {
	jobID, err := t.queue.EnqueueCompileVideo(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue compile job: %w", err)
	}
	log.WithField("project_id", projectID).WithField("job_id", jobID).Info("compile job enqueued")
	return jobID.String(), nil
}
