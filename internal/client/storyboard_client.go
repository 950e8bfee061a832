package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reelforge/api/internal/config"
)

// StoryboardClient implements Planner on top of an OpenAI-compatible
// chat-completions API (Groq).
type StoryboardClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

const storyboardSystemPrompt = `You are a video storyboard planner. Given a creative brief, ` +
	`break it into 2-8 scenes. Respond with JSON only, no prose, in the shape: ` +
	`{"scenes":[{"title":"...","visualPrompt":"...","narration":"...","durationSec":5.0}]}. ` +
	`Scene durations must sum to the requested total duration.`

// NewStoryboardClient creates a new storyboard planning client
func NewStoryboardClient(cfg *config.StoryboardConfig) *StoryboardClient {
	return &StoryboardClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// Plan requests a storyboard for the brief and parses the scene list.
func (c *StoryboardClient) Plan(ctx context.Context, req *PlanRequest) (*PlanResult, error) {
	user := fmt.Sprintf("Brief: %s\nTotal duration: %d seconds\nAspect ratio: %s",
		req.Prompt, req.DurationSec, req.AspectRatio)
	if req.Style != "" {
		user += "\nVisual style: " + req.Style
	}
	if req.Voiceover {
		user += "\nInclude narration text for a voiceover."
	}

	content, err := c.chatCompletion(ctx, storyboardSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Scenes []ScenePlan `json:"scenes"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &parsed); err != nil {
		// The model occasionally returns malformed JSON; a retry usually fixes it.
		return nil, transientErr("plan", "unparseable storyboard response: %v", err)
	}
	if len(parsed.Scenes) == 0 {
		return nil, transientErr("plan", "storyboard response contained no scenes")
	}

	return &PlanResult{Scenes: parsed.Scenes}, nil
}

func (c *StoryboardClient) chatCompletion(ctx context.Context, system, user string) (string, error) {
	reqBody := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   2048,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", transientErr("plan", "failed to marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", transientErr("plan", "failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transientErr("plan", "request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transientErr("plan", "failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("plan", resp.StatusCode, string(respBody))
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", transientErr("plan", "failed to unmarshal response: %v", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", transientErr("plan", "no choices in response")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// stripCodeFence removes a surrounding markdown code fence if the model
// wrapped its JSON in one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// IsConfigured returns true if the client has valid configuration
func (c *StoryboardClient) IsConfigured() bool {
	return c.apiKey != ""
}
