package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/api/internal/config"
)

func storyboardServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"nope"}`))
			return
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "cmpl-1",
			"model": "test",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
}

func newTestStoryboardClient(url string) *StoryboardClient {
	return NewStoryboardClient(&config.StoryboardConfig{
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "test-model",
		TimeoutSec: 5,
	})
}

func TestStoryboardPlan(t *testing.T) {
	content := `{"scenes":[
		{"title":"Opening","visualPrompt":"wide shot of a rooftop garden","durationSec":10},
		{"title":"Closing","visualPrompt":"bees returning at dusk","narration":"And the day ends.","durationSec":20}
	]}`
	srv := storyboardServer(t, content, http.StatusOK)
	defer srv.Close()

	c := newTestStoryboardClient(srv.URL)
	res, err := c.Plan(context.Background(), &PlanRequest{
		Prompt:      "urban beekeeping",
		DurationSec: 30,
		AspectRatio: "16:9",
	})
	require.NoError(t, err)
	require.Len(t, res.Scenes, 2)
	assert.Equal(t, "Opening", res.Scenes[0].Title)
	assert.Equal(t, 20.0, res.Scenes[1].DurationSec)
	assert.Equal(t, "And the day ends.", res.Scenes[1].Narration)
}

func TestStoryboardPlanCodeFence(t *testing.T) {
	content := "```json\n{\"scenes\":[{\"visualPrompt\":\"a bee\",\"durationSec\":30}]}\n```"
	srv := storyboardServer(t, content, http.StatusOK)
	defer srv.Close()

	c := newTestStoryboardClient(srv.URL)
	res, err := c.Plan(context.Background(), &PlanRequest{Prompt: "bees", DurationSec: 30, AspectRatio: "16:9"})
	require.NoError(t, err)
	require.Len(t, res.Scenes, 1)
}

func TestStoryboardPlanMalformedIsTransient(t *testing.T) {
	srv := storyboardServer(t, "here is your storyboard: scenes one and two", http.StatusOK)
	defer srv.Close()

	c := newTestStoryboardClient(srv.URL)
	_, err := c.Plan(context.Background(), &PlanRequest{Prompt: "bees", DurationSec: 30, AspectRatio: "16:9"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestStoryboardPlanStatusClassification(t *testing.T) {
	for status, permanent := range map[int]bool{
		http.StatusBadRequest:          true,
		http.StatusTooManyRequests:     false,
		http.StatusInternalServerError: false,
	} {
		srv := storyboardServer(t, "", status)
		c := newTestStoryboardClient(srv.URL)
		_, err := c.Plan(context.Background(), &PlanRequest{Prompt: "bees", DurationSec: 30, AspectRatio: "16:9"})
		srv.Close()
		require.Error(t, err, "status %d", status)
		assert.Equal(t, permanent, IsPermanent(err), "status %d", status)
	}
}

func TestVideoGenGenerateClip(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/renders":
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(renderTask{TaskID: "task-1", Status: "queued"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/renders/task-1":
			task := renderTask{TaskID: "task-1", Status: "processing"}
			if atomic.AddInt32(&polls, 1) >= 2 {
				task.Status = "completed"
				task.VideoURL = "https://cdn.test/task-1.mp4"
				task.DurationSec = 12
			}
			json.NewEncoder(w).Encode(task)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewVideoGenClient(&config.VideoGenConfig{
		APIKey:          "test-key",
		BaseURL:         srv.URL,
		PollIntervalSec: 0,
		MaxWaitSec:      5,
	})

	res, err := c.GenerateClip(context.Background(), &ClipRequest{
		JobID:        "job-1",
		SceneIndex:   0,
		VisualPrompt: "a bee in flight",
		DurationSec:  12,
		AspectRatio:  "16:9",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/task-1.mp4", res.URL)
	assert.Equal(t, 12.0, res.DurationSec)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(2))
}

func TestVideoGenRejectedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(renderTask{TaskID: "task-2", Status: "queued"})
			return
		}
		json.NewEncoder(w).Encode(renderTask{TaskID: "task-2", Status: "rejected", Reason: "content policy"})
	}))
	defer srv.Close()

	c := NewVideoGenClient(&config.VideoGenConfig{
		APIKey: "test-key", BaseURL: srv.URL, PollIntervalSec: 0, MaxWaitSec: 5,
	})

	_, err := c.GenerateClip(context.Background(), &ClipRequest{VisualPrompt: "x", DurationSec: 5, AspectRatio: "16:9"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestVideoGenFailedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(renderTask{TaskID: "task-3", Status: "queued"})
			return
		}
		json.NewEncoder(w).Encode(renderTask{TaskID: "task-3", Status: "failed", Reason: "render node lost"})
	}))
	defer srv.Close()

	c := NewVideoGenClient(&config.VideoGenConfig{
		APIKey: "test-key", BaseURL: srv.URL, PollIntervalSec: 0, MaxWaitSec: 5,
	})

	_, err := c.GenerateClip(context.Background(), &ClipRequest{VisualPrompt: "x", DurationSec: 5, AspectRatio: "16:9"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestMockPipelineClients(t *testing.T) {
	ctx := context.Background()

	plan, err := (&MockPlanner{}).Plan(ctx, &PlanRequest{Prompt: "bees", DurationSec: 30, AspectRatio: "16:9"})
	require.NoError(t, err)
	require.NotEmpty(t, plan.Scenes)

	clip, err := (&MockClipGenerator{}).GenerateClip(ctx, &ClipRequest{VisualPrompt: "a bee", DurationSec: 10, AspectRatio: "16:9"})
	require.NoError(t, err)
	assert.NotEmpty(t, clip.URL)

	res, err := (&MockComposer{}).Compose(ctx, &ComposeRequest{
		JobID:  "job-1",
		Clips:  []ComposeClip{{Index: 0, URL: clip.URL, DurationSec: 10}},
		Format: "mp4",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.VideoURL)
}
