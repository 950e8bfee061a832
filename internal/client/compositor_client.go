package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/reelforge/api/internal/config"
)

// CompositorClient implements Composer for the internal ffmpeg
// compositing microservice. Composition is a single synchronous call;
// the service writes its output to object storage under the output key.
type CompositorClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewCompositorClient creates a new compositor client
func NewCompositorClient(cfg *config.CompositorConfig) *CompositorClient {
	return &CompositorClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Compose stitches the clips, in the order given, into one video.
func (c *CompositorClient) Compose(ctx context.Context, req *ComposeRequest) (*ComposeResult, error) {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, transientErr("compose", "failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compose", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, transientErr("compose", "failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transientErr("compose", "request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientErr("compose", "failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("compose", resp.StatusCode, string(respBody))
	}

	var result ComposeResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, transientErr("compose", "failed to unmarshal response: %v", err)
	}
	return &result, nil
}

// HealthCheck pings the compositor service
func (c *CompositorClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return transientErr("compose", "compositor unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *CompositorClient) IsConfigured() bool {
	return c.baseURL != ""
}
