package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Upload timeout per attempt; clips run to tens of megabytes
const uploadTimeout = 180 * time.Second

// Supabase writes generated clips to a public Supabase Storage bucket.
type Supabase struct {
	url        string
	serviceKey string
	bucket     string
	client     *http.Client
	delay      func(int) time.Duration
}

func NewSupabase(url, serviceKey, bucket string) *Supabase {
	return &Supabase{
		url:        url,
		serviceKey: serviceKey,
		bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		delay: retryDelay,
	}
}

// Upload stores data under path (overwriting any previous object) and
// returns its public URL. Uses PUT with x-upsert so a regenerated clip
// replaces the old file.
func (s *Supabase) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.bucket, path)

	err := withRetry(ctx, "upload", path, s.delay, func(ctx context.Context) (bool, error) {
		// Each attempt gets its own timeout within the caller's ctx
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, url, bytes.NewReader(data))
		if err != nil {
			return false, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Content-Length", strconv.Itoa(len(data)))
		req.Header.Set("x-upsert", "true")

		resp, err := s.client.Do(req)
		if err != nil {
			return isRetryableError(err), fmt.Errorf("failed to upload: %w", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return false, nil
		}

		// 400, 401, 403, 404, 413 and friends are permanent
		return isRetryableStatus(resp.StatusCode),
			fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	})
	if err != nil {
		return "", err
	}

	return s.PublicURL(path), nil
}

// PublicURL returns the public URL for an object in the bucket
func (s *Supabase) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.bucket, path)
}
