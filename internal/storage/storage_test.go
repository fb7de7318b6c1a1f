package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func noDelay(int) time.Duration { return 0 }

func TestSupabaseUploadRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/storage/v1/object/clips/ws/videos/p/c.mp4", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "video-bytes", string(body))

		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSupabase(srv.URL, "secret", "clips")
	s.delay = noDelay

	url, err := s.Upload(context.Background(), "ws/videos/p/c.mp4", []byte("video-bytes"), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/public/clips/ws/videos/p/c.mp4", url)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSupabaseUploadStopsOnPermanentStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"denied"}`))
	}))
	defer srv.Close()

	s := NewSupabase(srv.URL, "secret", "clips")
	s.delay = noDelay

	_, err := s.Upload(context.Background(), "a.mp4", []byte("x"), "video/mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchDetectsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	obj, err := NewFetcher().Fetch(context.Background(), srv.URL+"/kitchen.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, pngHeader, obj.Data)
}

func TestFetchGivesUpAfterBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher()
	f.delay = noDelay

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(maxRetries+1), atomic.LoadInt32(&calls))
}

func TestFetchNotFoundIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, "upload", "x", func(int) time.Duration { return time.Hour },
		func(context.Context) (bool, error) { return true, assert.AnError })
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryDelayIsBounded(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(attempt)
		assert.GreaterOrEqual(t, d, baseRetryDelay)
		assert.LessOrEqual(t, d, maxRetryDelay+maxRetryDelay/4)
	}
}

func TestClipPath(t *testing.T) {
	ws := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	p := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	c := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	assert.Equal(t,
		"11111111-1111-1111-1111-111111111111/videos/22222222-2222-2222-2222-222222222222/33333333-3333-3333-3333-333333333333.mp4",
		ClipPath(ws, p, c))
}

func TestS3PublicURL(t *testing.T) {
	s := &S3{bucket: "clips", publicURL: "https://cdn.example.com"}
	assert.Equal(t, "https://cdn.example.com/a/b.mp4", s.PublicURL("a/b.mp4"))

	s = &S3{bucket: "clips", endpoint: "https://acct.r2.cloudflarestorage.com"}
	assert.Equal(t, "https://acct.r2.cloudflarestorage.com/clips/a.mp4", s.PublicURL("a.mp4"))

	s = &S3{bucket: "clips"}
	assert.Equal(t, "https://clips.s3.amazonaws.com/a.mp4", s.PublicURL("a.mp4"))
}
