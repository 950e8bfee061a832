package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/reelforge/api/internal/config"
)

// VideoGenClient implements ClipGenerator against an async render API:
// a render is submitted, then polled until it settles.
type VideoGenClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxWait      time.Duration
}

// renderSubmitRequest is the body for POST /v1/renders
type renderSubmitRequest struct {
	Prompt      string  `json:"prompt"`
	DurationSec float64 `json:"duration_sec"`
	AspectRatio string  `json:"aspect_ratio"`
	Style       string  `json:"style,omitempty"`
	Reference   string  `json:"reference,omitempty"`
}

// renderTask is the submit/poll response for a render task
type renderTask struct {
	TaskID       string  `json:"task_id"`
	Status       string  `json:"status"`
	VideoURL     string  `json:"video_url,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	DurationSec  float64 `json:"duration_sec,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// NewVideoGenClient creates a new clip render client
func NewVideoGenClient(cfg *config.VideoGenConfig) *VideoGenClient {
	return &VideoGenClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		pollInterval: time.Duration(cfg.PollIntervalSec) * time.Second,
		maxWait:      time.Duration(cfg.MaxWaitSec) * time.Second,
	}
}

// GenerateClip submits one scene render and polls it to completion.
// The call is bounded by ctx and by the configured max wait.
func (c *VideoGenClient) GenerateClip(ctx context.Context, req *ClipRequest) (*ClipResult, error) {
	submit := &renderSubmitRequest{
		Prompt:      req.VisualPrompt,
		DurationSec: req.DurationSec,
		AspectRatio: req.AspectRatio,
		Style:       req.Style,
		Reference:   fmt.Sprintf("%s/%d", req.JobID, req.SceneIndex),
	}

	var task renderTask
	if err := c.post(ctx, "/v1/renders", submit, &task); err != nil {
		return nil, err
	}

	return c.pollRender(ctx, task.TaskID)
}

func (c *VideoGenClient) pollRender(ctx context.Context, taskID string) (*ClipResult, error) {
	deadline := time.Now().Add(c.maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		var task renderTask
		if err := c.get(ctx, "/v1/renders/"+taskID, &task); err != nil {
			log.Printf("[VideoGen] Poll render #%d (task=%s) — error: %v", attempt, taskID, err)
			return nil, err
		}

		log.Printf("[VideoGen] Poll render #%d (task=%s) — status: %s", attempt, taskID, task.Status)

		switch task.Status {
		case "completed", "succeeded":
			return &ClipResult{
				URL:          task.VideoURL,
				ThumbnailURL: task.ThumbnailURL,
				DurationSec:  task.DurationSec,
			}, nil
		case "rejected":
			// Content-policy rejection: retrying the same prompt cannot help.
			return nil, permanentErr("generate_clip", "render rejected: %s", task.Reason)
		case "failed", "error":
			return nil, transientErr("generate_clip", "render failed: %s", task.Reason)
		}

		select {
		case <-ctx.Done():
			return nil, transientErr("generate_clip", "poll cancelled: %v", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}

	return nil, transientErr("generate_clip", "render timed out after %v", c.maxWait)
}

func (c *VideoGenClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return transientErr("generate_clip", "failed to marshal request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return transientErr("generate_clip", "failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req, result)
}

func (c *VideoGenClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return transientErr("generate_clip", "failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req, result)
}

func (c *VideoGenClient) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transientErr("generate_clip", "request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transientErr("generate_clip", "failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return classifyStatus("generate_clip", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return transientErr("generate_clip", "failed to unmarshal response: %v", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *VideoGenClient) IsConfigured() bool {
	return c.apiKey != ""
}
