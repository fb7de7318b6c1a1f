package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobarin/listingreels/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueStartGeneration = "queue:start_generation"
	QueueGenerateClip    = "queue:generate_clip"
	QueueCompileVideo    = "queue:compile_video"
)

// Job types
const (
	JobStartGeneration = "start_generation"
	JobGenerateClip    = "generate_clip"
	JobCompileVideo    = "compile_video"
)

// Job status records expire after a day
const jobStatusTTL = 24 * time.Hour

type Queue struct {
	client *redis.Client
}

type Job struct {
	ID        uuid.UUID              `json:"id"`
	Type      string                 `json:"type"`
	ProjectID uuid.UUID              `json:"project_id"`
	ClipID    *uuid.UUID             `json:"clip_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// StringData returns a string value from Data, or "".
func (j *Job) StringData(key string) string {
	if j.Data == nil {
		return ""
	}
	s, _ := j.Data[key].(string)
	return s
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue pushes job and records it as queued.
func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.SetStatus(ctx, job.ID, models.JobStatusQueued, ""); err != nil {
		return err
	}
	if err := q.client.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueStartGeneration queues an asynchronous project start
func (q *Queue) EnqueueStartGeneration(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	job := &Job{
		ID:        uuid.New(),
		Type:      JobStartGeneration,
		ProjectID: projectID,
	}
	return job.ID, q.Enqueue(ctx, QueueStartGeneration, job)
}

// EnqueueGenerateClip queues a single clip (re)generation with its overrides
func (q *Queue) EnqueueGenerateClip(ctx context.Context, projectID, clipID uuid.UUID, tailImageURL, roomLabel, provider string) (uuid.UUID, error) {
	job := &Job{
		ID:        uuid.New(),
		Type:      JobGenerateClip,
		ProjectID: projectID,
		ClipID:    &clipID,
		Data: map[string]interface{}{
			"tail_image_url": tailImageURL,
			"room_label":     roomLabel,
			"provider":       provider,
		},
	}
	return job.ID, q.Enqueue(ctx, QueueGenerateClip, job)
}

// EnqueueCompileVideo hands a project to the compilation workers
func (q *Queue) EnqueueCompileVideo(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	job := &Job{
		ID:        uuid.New(),
		Type:      JobCompileVideo,
		ProjectID: projectID,
	}
	return job.ID, q.Enqueue(ctx, QueueCompileVideo, job)
}

func statusKey(jobID uuid.UUID) string {
	return "job:" + jobID.String()
}

// SetStatus records the job's status and error message.
func (q *Queue) SetStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, errMsg string) error {
	key := statusKey(jobID)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, "status", string(status), "error", errMsg, "updated_at", time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, jobStatusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set job status: %w", err)
	}
	return nil
}

// GetStatus returns the recorded status of a job.
func (q *Queue) GetStatus(ctx context.Context, jobID uuid.UUID) (*models.JobState, error) {
	values, err := q.client.HGetAll(ctx, statusKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}

	state := &models.JobState{
		ID:     jobID,
		Status: models.JobStatus(values["status"]),
		Error:  values["error"],
	}
	if t, err := time.Parse(time.RFC3339, values["updated_at"]); err == nil {
		state.UpdatedAt = t
	}
	return state, nil
}
