package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/listingreels/internal/logger"
	"github.com/bobarin/listingreels/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	runwayBaseURL    = "https://api.dev.runwayml.com/v1"
	runwayAPIVersion = "2024-11-06"
)

// Runway task states
const (
	runwayPending   = "PENDING"
	runwayThrottled = "THROTTLED"
	runwayRunning   = "RUNNING"
	runwaySucceeded = "SUCCEEDED"
	runwayFailed    = "FAILED"
	runwayCancelled = "CANCELLED"
)

// Runway submits an image_to_video task and polls it on a fixed interval
// until it reaches a terminal state or maxWait elapses.
type Runway struct {
	apiKey       string
	model        string
	baseURL      string
	pollInterval time.Duration
	maxWait      time.Duration
	client       *http.Client
	log          *logrus.Entry
}

func NewRunway(apiKey, model string, pollInterval, maxWait time.Duration) *Runway {
	return &Runway{
		apiKey:       apiKey,
		model:        model,
		baseURL:      runwayBaseURL,
		pollInterval: pollInterval,
		maxWait:      maxWait,
		client:       &http.Client{Timeout: requestTimeout},
		log:          logger.For("providers").WithField("provider", NameRunway),
	}
}

func (r *Runway) Name() string { return NameRunway }

type runwayPromptImage struct {
	URI      string `json:"uri"`
	Position string `json:"position"`
}

type runwayTaskRequest struct {
	Model       string              `json:"model"`
	PromptImage []runwayPromptImage `json:"promptImage"`
	PromptText  string              `json:"promptText,omitempty"`
	Duration    int                 `json:"duration"`
	Ratio       string              `json:"ratio"`
}

type runwayTaskResponse struct {
	ID string `json:"id"`
}

type runwayTask struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Output      []string `json:"output,omitempty"`
	Failure     string   `json:"failure,omitempty"`
	FailureCode string   `json:"failureCode,omitempty"`
}

type runwayUploadRequest struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
}

type runwayUploadResponse struct {
	UploadURL string            `json:"uploadUrl"`
	Fields    map[string]string `json:"fields"`
	RunwayURI string            `json:"runwayUri"`
}

func (r *Runway) GenerateClip(ctx context.Context, in Input) (*Result, error) {
	sourceURI, err := r.stage(ctx, in.Source, "source")
	if err != nil {
		return nil, err
	}
	images := []runwayPromptImage{{URI: sourceURI, Position: "first"}}

	// Only the gen3a family accepts an end keyframe
	if in.Tail != nil && strings.HasPrefix(r.model, "gen3a") {
		tailURI := sourceURI
		if !in.tailIsSource() {
			if tailURI, err = r.stage(ctx, *in.Tail, "tail"); err != nil {
				return nil, err
			}
		}
		images = append(images, runwayPromptImage{URI: tailURI, Position: "last"})
	}

	task := runwayTaskRequest{
		Model:       r.model,
		PromptImage: images,
		PromptText:  truncate(in.Prompt, 1000),
		Duration:    in.Duration,
		Ratio:       runwayRatio(r.model, in.AspectRatio),
	}

	var submitted runwayTaskResponse
	if _, err := doJSON(ctx, r.client, http.MethodPost, r.baseURL+"/image_to_video", r.headers(), task, &submitted); err != nil {
		return nil, newError(NameRunway, StageSubmit, err, "task submission failed")
	}
	if submitted.ID == "" {
		return nil, newError(NameRunway, StageSubmit, nil, "no task id in response")
	}

	log := r.log.WithField("task_id", submitted.ID)
	log.WithFields(logrus.Fields{"model": r.model, "ratio": task.Ratio, "duration": task.Duration}).Info("task submitted")

	url, err := r.poll(ctx, submitted.ID, log)
	if err != nil {
		return nil, err
	}
	return &Result{VideoURL: url}, nil
}

func (r *Runway) poll(ctx context.Context, taskID string, log *logrus.Entry) (string, error) {
	deadline := time.Now().Add(r.maxWait)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for pollCount := 1; ; pollCount++ {
		select {
		case <-ctx.Done():
			return "", newError(NameRunway, StageTimeout, ctx.Err(), "task %s abandoned after %d polls", taskID, pollCount-1)
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return "", newError(NameRunway, StageTimeout, nil, "task %s not finished after %v", taskID, r.maxWait)
		}

		var task runwayTask
		if _, err := doJSON(ctx, r.client, http.MethodGet, r.baseURL+"/tasks/"+taskID, r.headers(), nil, &task); err != nil {
			if ctx.Err() != nil {
				return "", newError(NameRunway, StageTimeout, ctx.Err(), "task %s abandoned after %d polls", taskID, pollCount)
			}
			return "", newError(NameRunway, StagePoll, err, "poll %d for task %s failed", pollCount, taskID)
		}

		switch task.Status {
		case runwaySucceeded:
			if len(task.Output) == 0 || task.Output[0] == "" {
				return "", newError(NameRunway, StageResult, nil, "task %s succeeded without output", taskID)
			}
			log.WithField("polls", pollCount).Info("task succeeded")
			return task.Output[0], nil

		case runwayFailed, runwayCancelled:
			reason := task.Failure
			if reason == "" {
				reason = "unknown error"
			}
			if task.FailureCode != "" {
				reason = fmt.Sprintf("%s (%s)", reason, task.FailureCode)
			}
			return "", newError(NameRunway, StageResult, nil, "task %s %s: %s", taskID, strings.ToLower(task.Status), reason)

		case runwayPending, runwayThrottled, runwayRunning:
			log.WithField("poll", pollCount).Debugf("status=%s", task.Status)

		default:
			log.WithField("poll", pollCount).Warnf("unexpected status %q", task.Status)
		}
	}
}

// stage pushes img to Runway's ephemeral upload storage and returns the
// runway:// URI accepted by promptImage.
func (r *Runway) stage(ctx context.Context, img Image, name string) (string, error) {
	var upload runwayUploadResponse
	_, err := doJSON(ctx, r.client, http.MethodPost, r.baseURL+"/uploads", r.headers(), runwayUploadRequest{
		Filename: name + extensionFor(img.ContentType),
		Type:     "ephemeral",
	}, &upload)
	if err != nil {
		return "", newError(NameRunway, StageStaging, err, "failed to create %s upload", name)
	}
	if upload.UploadURL == "" || upload.RunwayURI == "" {
		return "", newError(NameRunway, StageStaging, nil, "upload response missing urls")
	}

	if err := r.postForm(ctx, upload, img, name); err != nil {
		return "", newError(NameRunway, StageStaging, err, "failed to upload %s image", name)
	}
	return upload.RunwayURI, nil
}

// postForm sends the presigned multipart POST; the file part must come last.
func (r *Runway) postForm(ctx context.Context, upload runwayUploadResponse, img Image, name string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range upload.Fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("file", name+extensionFor(img.ContentType))
	if err != nil {
		return fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upload.UploadURL, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}
	return nil
}

func (r *Runway) headers() map[string]string {
	return map[string]string{
		"Authorization":    "Bearer " + r.apiKey,
		"X-Runway-Version": runwayAPIVersion,
	}
}

// runwayRatio maps an aspect ratio onto the pixel ratios each model family accepts.
func runwayRatio(model string, aspect models.AspectRatio) string {
	if strings.HasPrefix(model, "gen3a") {
		if aspect == models.AspectRatioPortrait {
			return "768:1280"
		}
		return "1280:768"
	}
	switch aspect {
	case models.AspectRatioPortrait:
		return "720:1280"
	case models.AspectRatioSquare:
		return "960:960"
	default:
		return "1280:720"
	}
}
