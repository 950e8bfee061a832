package client

import "context"

// Planner turns a creative brief into an ordered scene list
type Planner interface {
	Plan(ctx context.Context, req *PlanRequest) (*PlanResult, error)
}

// PlanRequest carries the creative brief to the planner
type PlanRequest struct {
	JobID       string
	Prompt      string
	DurationSec int
	AspectRatio string
	Style       string
	Voiceover   bool
}

// ScenePlan is one planned segment as returned by the planner
type ScenePlan struct {
	Title        string  `json:"title"`
	VisualPrompt string  `json:"visualPrompt"`
	Narration    string  `json:"narration,omitempty"`
	DurationSec  float64 `json:"durationSec"`
}

// PlanResult is the planner output
type PlanResult struct {
	Scenes []ScenePlan
}

// ClipGenerator renders one scene into a video clip
type ClipGenerator interface {
	GenerateClip(ctx context.Context, req *ClipRequest) (*ClipResult, error)
}

// ClipRequest describes one clip render
type ClipRequest struct {
	JobID        string
	SceneIndex   int
	VisualPrompt string
	DurationSec  float64
	AspectRatio  string
	Style        string
}

// ClipResult is a finished clip
type ClipResult struct {
	URL          string
	ThumbnailURL string
	DurationSec  float64
}

// Composer stitches finished clips into the final video
type Composer interface {
	Compose(ctx context.Context, req *ComposeRequest) (*ComposeResult, error)
}

// ComposeClip is one clip in scene order handed to the compositor
type ComposeClip struct {
	Index       int     `json:"index"`
	URL         string  `json:"url"`
	DurationSec float64 `json:"duration_sec"`
	Narration   string  `json:"narration,omitempty"`
}

// ComposeRequest describes the final composition
type ComposeRequest struct {
	JobID       string        `json:"job_id"`
	Clips       []ComposeClip `json:"clips"`
	AspectRatio string        `json:"aspect_ratio"`
	Format      string        `json:"format"`
	OutputKey   string        `json:"output_key"`
}

// ComposeResult is the compositor output
type ComposeResult struct {
	VideoURL     string  `json:"video_url"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	DurationSec  float64 `json:"duration_sec"`
	SizeBytes    int64   `json:"size_bytes"`
	Format       string  `json:"format"`
	OutputKey    string  `json:"output_key"`
}
