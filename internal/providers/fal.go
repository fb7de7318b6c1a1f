package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bobarin/listingreels/internal/logger"
	"github.com/sirupsen/logrus"
)

const (
	falRunURL     = "https://fal.run"
	falStorageURL = "https://rest.alpha.fal.ai/storage/upload/initiate"

	// A synchronous run holds the connection until the video exists
	falRunTimeout = 10 * time.Minute
)

// Fal drives fal.ai's synchronous endpoint: one request that returns once
// the asset is ready.
type Fal struct {
	apiKey     string
	model      string
	runURL     string
	storageURL string
	client     *http.Client // staging
	runClient  *http.Client
	log        *logrus.Entry
}

func NewFal(apiKey, model string) *Fal {
	return &Fal{
		apiKey:     apiKey,
		model:      model,
		runURL:     falRunURL,
		storageURL: falStorageURL,
		client:     &http.Client{Timeout: requestTimeout},
		runClient:  &http.Client{Timeout: falRunTimeout},
		log:        logger.For("providers").WithField("provider", NameFal),
	}
}

func (f *Fal) Name() string { return NameFal }

type falInitiateRequest struct {
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
}

type falInitiateResponse struct {
	UploadURL string `json:"upload_url"`
	FileURL   string `json:"file_url"`
}

type falRunRequest struct {
	Prompt         string `json:"prompt"`
	ImageURL       string `json:"image_url"`
	TailImageURL   string `json:"tail_image_url,omitempty"`
	Duration       string `json:"duration"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	GenerateAudio  bool   `json:"generate_audio"`
}

type falRunResponse struct {
	Video *struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"video"`
}

func (f *Fal) GenerateClip(ctx context.Context, in Input) (*Result, error) {
	sourceURL, err := f.stage(ctx, in.Source, "source")
	if err != nil {
		return nil, err
	}

	req := falRunRequest{
		Prompt:         in.Prompt,
		ImageURL:       sourceURL,
		Duration:       strconv.Itoa(in.Duration),
		AspectRatio:    string(in.AspectRatio),
		NegativePrompt: in.NegativePrompt,
		GenerateAudio:  in.GenerateAudio,
	}
	switch {
	case in.tailIsSource():
		req.TailImageURL = sourceURL
	case in.Tail != nil:
		if req.TailImageURL, err = f.stage(ctx, *in.Tail, "tail"); err != nil {
			return nil, err
		}
	}

	f.log.WithFields(logrus.Fields{
		"model":    f.model,
		"duration": req.Duration,
		"aspect":   req.AspectRatio,
		"audio":    req.GenerateAudio,
	}).Info("starting generation")

	start := time.Now()
	var resp falRunResponse
	if _, err := doJSON(ctx, f.runClient, http.MethodPost, fmt.Sprintf("%s/%s", f.runURL, f.model), f.headers(), req, &resp); err != nil {
		return nil, newError(NameFal, StageSubmit, err, "generation request failed")
	}

	if resp.Video == nil || resp.Video.URL == "" {
		return nil, newError(NameFal, StageResult, nil, "response has no video url")
	}

	f.log.WithField("elapsed", time.Since(start).Round(time.Second).String()).Info("generation finished")
	return &Result{VideoURL: resp.Video.URL}, nil
}

// stage uploads img to fal's CDN and returns the hosted URL.
func (f *Fal) stage(ctx context.Context, img Image, name string) (string, error) {
	var initiated falInitiateResponse
	_, err := doJSON(ctx, f.client, http.MethodPost, f.storageURL, f.headers(), falInitiateRequest{
		ContentType: img.ContentType,
		FileName:    name + extensionFor(img.ContentType),
	}, &initiated)
	if err != nil {
		return "", newError(NameFal, StageStaging, err, "failed to initiate %s upload", name)
	}
	if initiated.UploadURL == "" || initiated.FileURL == "" {
		return "", newError(NameFal, StageStaging, nil, "upload initiation returned no urls")
	}

	if err := putBytes(ctx, f.client, initiated.UploadURL, img.Data, img.ContentType); err != nil {
		return "", newError(NameFal, StageStaging, err, "failed to upload %s image", name)
	}

	return initiated.FileURL, nil
}

func (f *Fal) headers() map[string]string {
	return map[string]string{"Authorization": "Key " + f.apiKey}
}
