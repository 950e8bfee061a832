package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/api/internal/bus"
	"github.com/reelforge/api/internal/middleware"
	"github.com/reelforge/api/internal/model"
	"github.com/reelforge/api/internal/registry"
	"github.com/reelforge/api/internal/service"
)

const testJWTSecret = "test-secret-for-handlers"

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type testApp struct {
	app      *fiber.App
	registry *registry.Registry
	bus      *bus.Bus
	enqueuer *fakeEnqueuer
	auth     *middleware.AuthMiddleware
}

func setupApp(t *testing.T) *testApp {
	t.Helper()

	ta := &testApp{
		registry: registry.New(registry.NewMemoryRepository()),
		bus:      bus.New(200, time.Second),
		enqueuer: &fakeEnqueuer{},
		auth:     middleware.NewAuthMiddleware(testJWTSecret),
	}

	svc := service.NewJobService(ta.registry, ta.bus, ta.enqueuer)
	h := NewJobHandler(svc, validator.New())

	app := fiber.New()
	api := app.Group("/api", ta.auth.Authenticate())
	jobs := api.Group("/jobs")
	jobs.Post("/", h.Submit)
	jobs.Get("/:jobId", h.Status)
	jobs.Get("/:jobId/result", h.Result)
	jobs.Get("/:jobId/events", h.Events)
	jobs.Post("/:jobId/cancel", h.Cancel)

	ta.app = app
	return ta
}

func (ta *testApp) request(t *testing.T, method, path, body string, authed bool) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, err := ta.auth.GenerateToken("user-1", "user@example.com")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected error envelope, got %v", body)
	code, _ := errObj["code"].(string)
	return code
}

const validSubmitBody = `{
	"prompt": "a short documentary about urban beekeeping",
	"durationSec": 45,
	"aspectRatio": "16:9",
	"style": "documentary"
}`

func TestSubmitJob(t *testing.T) {
	ta := setupApp(t)

	resp := ta.request(t, http.MethodPost, "/api/jobs/", validSubmitBody, true)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := parseJSON(t, resp)
	jobID, _ := body["jobId"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "queued", body["status"])

	// The orchestration task was enqueued with the job id.
	require.Len(t, ta.enqueuer.tasks, 1)
	task := ta.enqueuer.tasks[0]
	assert.Equal(t, service.TaskTypeOrchestrate, task.Type())
	var payload service.OrchestrateTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, jobID, payload.JobID)

	// And the record exists in queued state.
	job, err := ta.registry.Load(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)
}

func TestSubmitJobValidation(t *testing.T) {
	ta := setupApp(t)

	cases := map[string]string{
		"empty body":       `{}`,
		"short prompt":     `{"prompt":"ab","durationSec":30,"aspectRatio":"16:9"}`,
		"bad aspect ratio": `{"prompt":"a film about rain","durationSec":30,"aspectRatio":"4:3"}`,
		"too long":         `{"prompt":"a film about rain","durationSec":500,"aspectRatio":"16:9"}`,
		"bad style":        `{"prompt":"a film about rain","durationSec":30,"aspectRatio":"16:9","style":"impressionist"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := ta.request(t, http.MethodPost, "/api/jobs/", body, true)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "VALIDATION_ERROR", errorCode(t, resp))
		})
	}

	assert.Empty(t, ta.enqueuer.tasks)
}

func TestSubmitJobNoAuth(t *testing.T) {
	ta := setupApp(t)

	resp := ta.request(t, http.MethodPost, "/api/jobs/", validSubmitBody, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJobStatus(t *testing.T) {
	ta := setupApp(t)

	job, err := ta.registry.Create(context.Background(), model.GenerationRequest{
		Prompt:      "a film about rain",
		DurationSec: 30,
		AspectRatio: model.AspectRatioLandscape,
	})
	require.NoError(t, err)

	resp := ta.request(t, http.MethodGet, "/api/jobs/"+job.ID, "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseJSON(t, resp)
	assert.Equal(t, job.ID, body["jobId"])
	assert.Equal(t, "queued", body["status"])
}

func TestJobStatusNotFound(t *testing.T) {
	ta := setupApp(t)

	resp := ta.request(t, http.MethodGet, "/api/jobs/missing-job", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, resp))
}

func TestJobResultNotCompleted(t *testing.T) {
	ta := setupApp(t)

	job, err := ta.registry.Create(context.Background(), model.GenerationRequest{
		Prompt:      "a film about rain",
		DurationSec: 30,
		AspectRatio: model.AspectRatioLandscape,
	})
	require.NoError(t, err)

	resp := ta.request(t, http.MethodGet, "/api/jobs/"+job.ID+"/result", "", true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "NOT_COMPLETED", errorCode(t, resp))
}

func TestJobResultCompleted(t *testing.T) {
	ta := setupApp(t)

	job, err := ta.registry.Create(context.Background(), model.GenerationRequest{
		Prompt:      "a film about rain",
		DurationSec: 30,
		AspectRatio: model.AspectRatioLandscape,
	})
	require.NoError(t, err)

	job.Status = model.JobStatusCompleted
	job.Composition = &model.CompositionResult{
		VideoURL:    "https://cdn.test/final.mp4",
		DurationSec: 30,
		Format:      "mp4",
	}
	require.NoError(t, ta.registry.Save(context.Background(), job))

	resp := ta.request(t, http.MethodGet, "/api/jobs/"+job.ID+"/result", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseJSON(t, resp)
	assert.Equal(t, "https://cdn.test/final.mp4", body["videoUrl"])
}

func TestJobEvents(t *testing.T) {
	ta := setupApp(t)

	job, err := ta.registry.Create(context.Background(), model.GenerationRequest{
		Prompt:      "a film about rain",
		DurationSec: 30,
		AspectRatio: model.AspectRatioLandscape,
	})
	require.NoError(t, err)

	ta.bus.Publish(model.ProgressEvent{JobID: job.ID, Type: model.EventTypeStatusChange, Status: model.JobStatusPlanning})
	ta.bus.Publish(model.ProgressEvent{JobID: job.ID, Type: model.EventTypeStatusChange, Status: model.JobStatusGeneratingClips})

	resp := ta.request(t, http.MethodGet, "/api/jobs/"+job.ID+"/events", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseJSON(t, resp)
	events, _ := body["events"].([]interface{})
	assert.Len(t, events, 2)
	assert.Equal(t, float64(2), body["next"])

	// Cursor skips already-seen events.
	resp = ta.request(t, http.MethodGet, "/api/jobs/"+job.ID+"/events?after=1", "", true)
	body = parseJSON(t, resp)
	events, _ = body["events"].([]interface{})
	assert.Len(t, events, 1)
}

func TestJobEventsUnknownJob(t *testing.T) {
	ta := setupApp(t)

	resp := ta.request(t, http.MethodGet, "/api/jobs/missing-job/events", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelJob(t *testing.T) {
	ta := setupApp(t)

	job, err := ta.registry.Create(context.Background(), model.GenerationRequest{
		Prompt:      "a film about rain",
		DurationSec: 30,
		AspectRatio: model.AspectRatioLandscape,
	})
	require.NoError(t, err)

	resp := ta.request(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", "", true)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := parseJSON(t, resp)
	assert.Equal(t, true, body["cancelRequested"])

	stored, err := ta.registry.Load(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, stored.CancelRequested)
}

func TestCancelFinishedJob(t *testing.T) {
	ta := setupApp(t)

	job, err := ta.registry.Create(context.Background(), model.GenerationRequest{
		Prompt:      "a film about rain",
		DurationSec: 30,
		AspectRatio: model.AspectRatioLandscape,
	})
	require.NoError(t, err)

	job.Status = model.JobStatusCompleted
	require.NoError(t, ta.registry.Save(context.Background(), job))

	resp := ta.request(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", "", true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_TERMINAL", errorCode(t, resp))
}
