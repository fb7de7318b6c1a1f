package providers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bobarin/listingreels/internal/logger"
	"github.com/bobarin/listingreels/internal/models"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const (
	defaultVeoModel    = "veo-3.1-generate-preview"
	veoPollInterval    = 10 * time.Second
	veoMaxPollDuration = 6 * time.Minute
)

// Veo generates clips through the Gemini API. Frames travel inline with the
// request and the finished video is downloaded through the SDK, so Result
// carries bytes rather than a URL.
type Veo struct {
	client       *genai.Client
	model        string
	pollInterval time.Duration
	maxWait      time.Duration
	log          *logrus.Entry
}

func NewVeo(ctx context.Context, apiKey, model string) (*Veo, error) {
	if model == "" {
		model = defaultVeoModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, newError(NameVeo, StageSelect, err, "failed to create genai client")
	}
	return &Veo{
		client:       client,
		model:        model,
		pollInterval: veoPollInterval,
		maxWait:      veoMaxPollDuration,
		log:          logger.For("providers").WithField("provider", NameVeo),
	}, nil
}

func (v *Veo) Name() string { return NameVeo }

func (v *Veo) GenerateClip(ctx context.Context, in Input) (*Result, error) {
	config := &genai.GenerateVideosConfig{
		AspectRatio:      veoAspectRatio(in.AspectRatio),
		DurationSeconds:  genai.Ptr(veoDuration(in.Duration)),
		PersonGeneration: "allow_adult",
		NegativePrompt:   in.NegativePrompt,
		NumberOfVideos:   1,
	}
	if in.Tail != nil {
		config.LastFrame = &genai.Image{ImageBytes: in.Tail.Data, MIMEType: in.Tail.ContentType}
	}
	firstFrame := &genai.Image{ImageBytes: in.Source.Data, MIMEType: in.Source.ContentType}

	v.log.WithFields(logrus.Fields{
		"model":     v.model,
		"aspect":    config.AspectRatio,
		"duration":  *config.DurationSeconds,
		"has_tail":  in.Tail != nil,
		"image_len": len(in.Source.Data),
	}).Info("starting generation")

	operation, err := v.client.Models.GenerateVideos(ctx, v.model, in.Prompt, firstFrame, config)
	if err != nil {
		return nil, newError(NameVeo, StageSubmit, err, "failed to start video generation")
	}

	deadline := time.Now().Add(v.maxWait)
	pollCount := 0
	for !operation.Done {
		if time.Now().After(deadline) {
			return nil, newError(NameVeo, StageTimeout, nil, "operation %s not done after %v", operation.Name, v.maxWait)
		}

		select {
		case <-ctx.Done():
			return nil, newError(NameVeo, StageTimeout, ctx.Err(), "operation %s abandoned", operation.Name)
		case <-time.After(v.pollInterval):
		}

		pollCount++
		operation, err = v.client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return nil, newError(NameVeo, StagePoll, err, "poll %d failed", pollCount)
		}
	}

	if len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return nil, newError(NameVeo, StageResult, nil, "operation failed: %s", string(errJSON))
	}
	if operation.Response == nil {
		return nil, newError(NameVeo, StageResult, nil, "no response in completed operation %s", operation.Name)
	}
	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return nil, newError(NameVeo, StageResult, nil, "blocked by safety filters: %s", reasons)
	}
	if len(operation.Response.GeneratedVideos) == 0 || operation.Response.GeneratedVideos[0].Video == nil {
		return nil, newError(NameVeo, StageResult, nil, "no video in response")
	}

	video := operation.Response.GeneratedVideos[0].Video
	data, err := v.client.Files.Download(ctx, genai.NewDownloadURIFromVideo(video), nil)
	if err != nil {
		return nil, newError(NameVeo, StageResult, err, "failed to download generated video")
	}
	if len(data) == 0 {
		return nil, newError(NameVeo, StageResult, nil, "downloaded video is empty")
	}

	v.log.WithFields(logrus.Fields{"bytes": len(data), "polls": pollCount}).Info("generation finished")
	return &Result{Video: data, VideoURL: video.URI}, nil
}

// Veo only renders landscape and portrait
func veoAspectRatio(aspect models.AspectRatio) string {
	if aspect == models.AspectRatioPortrait {
		return "9:16"
	}
	return "16:9"
}

// veoDuration maps 5s/10s clips onto Veo's 4-8s range.
func veoDuration(seconds int) int32 {
	if seconds >= models.ClipDurationLong {
		return 8
	}
	return 6
}
