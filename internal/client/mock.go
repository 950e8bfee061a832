package client

import (
	"context"
	"fmt"
	"time"
)

// Mock collaborators used in development when the real services are not
// configured. They produce deterministic fake assets after a short delay
// so the full pipeline can be exercised locally.

// MockPlanner implements Planner with a fixed three-scene storyboard
type MockPlanner struct {
	Delay time.Duration
}

func (m *MockPlanner) Plan(ctx context.Context, req *PlanRequest) (*PlanResult, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return nil, transientErr("plan", "cancelled: %v", err)
	}
	per := float64(req.DurationSec) / 3
	scenes := make([]ScenePlan, 3)
	titles := []string{"Opening", "Main", "Closing"}
	for i := range scenes {
		scenes[i] = ScenePlan{
			Title:        titles[i],
			VisualPrompt: fmt.Sprintf("%s — part %d of 3", req.Prompt, i+1),
			Narration:    fmt.Sprintf("Scene %d narration.", i+1),
			DurationSec:  per,
		}
	}
	return &PlanResult{Scenes: scenes}, nil
}

// MockClipGenerator implements ClipGenerator with fake CDN URLs
type MockClipGenerator struct {
	Delay time.Duration
}

func (m *MockClipGenerator) GenerateClip(ctx context.Context, req *ClipRequest) (*ClipResult, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return nil, transientErr("generate_clip", "cancelled: %v", err)
	}
	return &ClipResult{
		URL:          fmt.Sprintf("https://cdn.reelforge.dev/clips/%s/%d.mp4", req.JobID, req.SceneIndex),
		ThumbnailURL: fmt.Sprintf("https://cdn.reelforge.dev/clips/%s/%d.jpg", req.JobID, req.SceneIndex),
		DurationSec:  req.DurationSec,
	}, nil
}

// MockComposer implements Composer with a fake final asset
type MockComposer struct {
	Delay time.Duration
}

func (m *MockComposer) Compose(ctx context.Context, req *ComposeRequest) (*ComposeResult, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return nil, transientErr("compose", "cancelled: %v", err)
	}
	var total float64
	for _, c := range req.Clips {
		total += c.DurationSec
	}
	return &ComposeResult{
		VideoURL:     fmt.Sprintf("https://cdn.reelforge.dev/videos/%s.mp4", req.JobID),
		ThumbnailURL: fmt.Sprintf("https://cdn.reelforge.dev/videos/%s.jpg", req.JobID),
		DurationSec:  total,
		SizeBytes:    int64(total * 1_500_000),
		Format:       req.Format,
		OutputKey:    req.OutputKey,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
