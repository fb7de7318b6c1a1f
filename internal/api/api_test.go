package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bobarin/listingreels/internal/clipgen"
	"github.com/bobarin/listingreels/internal/db"
	"github.com/bobarin/listingreels/internal/metrics"
	"github.com/bobarin/listingreels/internal/models"
	"github.com/bobarin/listingreels/internal/orchestrator"
	"github.com/bobarin/listingreels/internal/providers"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-key"

type fakeOrchestrator struct {
	mu      sync.Mutex
	summary *orchestrator.Summary
	err     error
	started []uuid.UUID
}

func (o *fakeOrchestrator) StartGeneration(_ context.Context, projectID uuid.UUID) (*orchestrator.Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, projectID)
	return o.summary, o.err
}

func (o *fakeOrchestrator) RetriggerCompilation(_ context.Context, _ uuid.UUID) (*orchestrator.Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary, o.err
}

type fakeGenerator struct {
	mu   sync.Mutex
	url  string
	err  error
	opts clipgen.Options
}

func (g *fakeGenerator) Generate(_ context.Context, _ uuid.UUID, opts clipgen.Options) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opts = opts
	return g.url, g.err
}

type fakeQueue struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*models.JobState
	clips []uuid.UUID
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[uuid.UUID]*models.JobState)}
}

func (q *fakeQueue) add() uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.New()
	q.jobs[id] = &models.JobState{ID: id, Status: models.JobStatusQueued}
	return id
}

func (q *fakeQueue) EnqueueStartGeneration(_ context.Context, _ uuid.UUID) (uuid.UUID, error) {
	return q.add(), nil
}

func (q *fakeQueue) EnqueueGenerateClip(_ context.Context, _, clipID uuid.UUID, _, _, _ string) (uuid.UUID, error) {
	q.mu.Lock()
	q.clips = append(q.clips, clipID)
	q.mu.Unlock()
	return q.add(), nil
}

func (q *fakeQueue) GetStatus(_ context.Context, jobID uuid.UUID) (*models.JobState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	return state, nil
}

type fixture struct {
	store   *db.MemoryStore
	orch    *fakeOrchestrator
	gen     *fakeGenerator
	queue   *fakeQueue
	server  *httptest.Server
	project *models.VideoProject
	clip    *models.VideoClip
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store: db.NewMemoryStore(),
		orch:  &fakeOrchestrator{},
		gen:   &fakeGenerator{},
		queue: newFakeQueue(),
	}

	f.project = &models.VideoProject{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		AspectRatio: models.AspectRatioLandscape,
		Status:      models.ProjectStatusPending,
	}
	require.NoError(t, f.store.CreateProject(ctx, f.project))

	// Inserted out of order to check the read path sorts
	for _, order := range []int{2, 1} {
		clip := &models.VideoClip{
			ID:             uuid.New(),
			VideoProjectID: f.project.ID,
			SequenceOrder:  order,
			SourceImageURL: fmt.Sprintf("https://img.example.com/%d.jpg", order),
			RoomType:       "kitchen",
			Duration:       5,
			Status:         models.ClipStatusPending,
		}
		require.NoError(t, f.store.CreateClip(ctx, clip))
		f.clip = clip
	}

	h := NewHandler(f.store, f.orch, f.gen, f.queue)
	f.server = httptest.NewServer(NewRouter(h, RouterConfig{
		BackendAPIKey:  testAPIKey,
		MetricsHandler: metrics.Handler(),
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIKeyAuth(t *testing.T) {
	f := newFixture(t)
	url := f.server.URL + "/v1/projects/" + f.project.ID.String()

	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartGeneration(t *testing.T) {
	f := newFixture(t)
	f.orch.summary = &orchestrator.Summary{
		ProjectID:        f.project.ID,
		Status:           models.ProjectStatusCompiling,
		SuccessfulClips:  3,
		FailedClips:      1,
		HandoffReference: "job-1",
	}

	resp, body := f.do(t, http.MethodPost, "/v1/generation/start", map[string]string{"projectId": f.project.ID.String()})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["successfulClips"])
	assert.Equal(t, float64(1), body["failedClips"])
	assert.Equal(t, "compiling", body["status"])
	assert.Equal(t, "job-1", body["handoffReference"])
	assert.Equal(t, []uuid.UUID{f.project.ID}, f.orch.started)
}

func TestStartGenerationValidation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/v1/generation/start", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/v1/generation/start", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/v1/generation/start", map[string]string{"projectId": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, f.orch.started)
}

func TestStartGenerationErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		summary *orchestrator.Summary
		err     error
		status  int
	}{
		{"not found", nil, fmt.Errorf("project: %w", models.ErrNotFound), http.StatusNotFound},
		{"in flight", nil, fmt.Errorf("project is generating: %w", models.ErrConflict), http.StatusConflict},
		{"no clips", nil, orchestrator.ErrNoClips, http.StatusUnprocessableEntity},
		{"all failed", &orchestrator.Summary{Status: models.ProjectStatusFailed, FailedClips: 2}, orchestrator.ErrAllClipsFailed, http.StatusUnprocessableEntity},
		{"handoff", &orchestrator.Summary{Status: models.ProjectStatusCompiling, SuccessfulClips: 2}, orchestrator.ErrHandoff, http.StatusBadGateway},
		{"infrastructure", nil, errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orch.summary, f.orch.err = tt.summary, tt.err

			resp, body := f.do(t, http.MethodPost, "/v1/generation/start", map[string]string{"projectId": f.project.ID.String()})
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
			if tt.summary != nil {
				assert.Equal(t, string(tt.summary.Status), body["status"])
				assert.Equal(t, float64(tt.summary.FailedClips), body["failedClips"])
			}
		})
	}
}

func TestStartGenerationAsync(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/generation/start?async=true", map[string]string{"projectId": f.project.ID.String()})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])
	assert.Empty(t, f.orch.started)

	jobID, ok := body["jobId"].(string)
	require.True(t, ok)
	resp, body = f.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])

	resp, _ = f.do(t, http.MethodPost, "/v1/generation/start?async=true", map[string]string{"projectId": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerateClip(t *testing.T) {
	f := newFixture(t)
	f.gen.url = "https://cdn.example.com/clip.mp4"

	resp, body := f.do(t, http.MethodPost, "/v1/generation/clip", map[string]string{
		"clipId":          f.clip.ID.String(),
		"tailImageUrl":    "https://img.example.com/tail.jpg",
		"targetRoomLabel": "Primary Suite",
		"provider":        "runway",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://cdn.example.com/clip.mp4", body["clipUrl"])
	assert.Equal(t, clipgen.Options{
		TailImageURL: "https://img.example.com/tail.jpg",
		RoomLabel:    "Primary Suite",
		Provider:     "runway",
	}, f.gen.opts)
}

func TestGenerateClipValidation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/v1/generation/clip", map[string]string{
		"clipId":   f.clip.ID.String(),
		"provider": "sora",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/v1/generation/clip", map[string]string{
		"clipId":       f.clip.ID.String(),
		"tailImageUrl": "not a url",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateClipErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"missing clip", fmt.Errorf("clip: %w", models.ErrNotFound), http.StatusNotFound},
		{"held by another run", fmt.Errorf("clip is processing: %w", models.ErrConflict), http.StatusConflict},
		{"unreachable image", &clipgen.FetchError{URL: "https://img.example.com/1.jpg", Err: errors.New("status 404")}, http.StatusUnprocessableEntity},
		{"provider", &providers.Error{Provider: providers.NameFal, Stage: providers.StageSubmit, Message: "status 500"}, http.StatusBadGateway},
		{"storage", &clipgen.StorageError{Path: "ws/videos/p/c.mp4", Err: errors.New("status 503")}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gen.err = tt.err

			resp, body := f.do(t, http.MethodPost, "/v1/generation/clip", map[string]string{"clipId": f.clip.ID.String()})
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGenerateClipAsync(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/generation/clip?async=1", map[string]string{"clipId": f.clip.ID.String()})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, body["jobId"])
	assert.Equal(t, []uuid.UUID{f.clip.ID}, f.queue.clips)
}

func TestGetProject(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/projects/"+f.project.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, f.project.ID.String(), body["id"])

	clips, ok := body["clips"].([]interface{})
	require.True(t, ok)
	require.Len(t, clips, 2)
	assert.Equal(t, float64(1), clips[0].(map[string]interface{})["sequence_order"])
	assert.Equal(t, float64(2), clips[1].(map[string]interface{})["sequence_order"])

	resp, _ = f.do(t, http.MethodGet, "/v1/projects/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/v1/projects/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetriggerCompilation(t *testing.T) {
	f := newFixture(t)
	f.orch.summary = &orchestrator.Summary{ProjectID: f.project.ID, Status: models.ProjectStatusCompiling, SuccessfulClips: 2, HandoffReference: "job-2"}

	resp, body := f.do(t, http.MethodPost, "/v1/projects/"+f.project.ID.String()+"/compile", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "job-2", body["handoffReference"])

	f.orch.summary, f.orch.err = nil, fmt.Errorf("project is pending: %w", models.ErrConflict)
	resp, _ = f.do(t, http.MethodPost, "/v1/projects/"+f.project.ID.String()+"/compile", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetJobUnknown(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/v1/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAsyncWithoutQueueRunsInline(t *testing.T) {
	store := db.NewMemoryStore()
	orch := &fakeOrchestrator{summary: &orchestrator.Summary{Status: models.ProjectStatusCompiling, SuccessfulClips: 1}}
	h := NewHandler(store, orch, &fakeGenerator{}, nil)
	srv := httptest.NewServer(NewRouter(h, RouterConfig{}))
	defer srv.Close()

	id := uuid.New()
	resp, err := http.Post(srv.URL+"/v1/generation/start?async=true", "application/json",
		bytes.NewReader([]byte(`{"projectId":"`+id.String()+`"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []uuid.UUID{id}, orch.started)

	resp, err = http.Get(srv.URL + "/v1/jobs/" + uuid.NewString())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
