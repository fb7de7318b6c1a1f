package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const downloadTimeout = 120 * time.Second

// Object is a fetched blob together with its detected content type.
type Object struct {
	Data        []byte
	ContentType string
}

// Fetcher downloads listing photos and provider results by URL.
type Fetcher struct {
	client *http.Client
	delay  func(int) time.Duration
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: downloadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		delay: retryDelay,
	}
}

// Fetch GETs url with retries on transient failures. The content type is
// sniffed from the bytes because image hosts routinely send
// application/octet-stream.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Object, error) {
	var obj *Object
	err := withRetry(ctx, "download", url, f.delay, func(ctx context.Context) (bool, error) {
		dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, url, nil)
		if err != nil {
			return false, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return isRetryableError(err), fmt.Errorf("failed to download: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return isRetryableStatus(resp.StatusCode),
				fmt.Errorf("download failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return true, fmt.Errorf("failed to read download body: %w", err)
		}
		if len(data) == 0 {
			return false, fmt.Errorf("download returned an empty body")
		}

		obj = &Object{Data: data, ContentType: DetectContentType(data)}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// DetectContentType sniffs the MIME type of data, without parameters.
func DetectContentType(data []byte) string {
	contentType, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return contentType
}
