package model

import (
	"sort"
	"time"
)

// Job represents one end-to-end video generation request
type Job struct {
	ID              string             `json:"id"`
	Status          JobStatus          `json:"status"`
	Request         GenerationRequest  `json:"request"`
	Scenes          []Scene            `json:"scenes,omitempty"`
	Clips           map[int]Clip       `json:"clips,omitempty"`
	Composition     *CompositionResult `json:"composition,omitempty"`
	Error           *JobError          `json:"error,omitempty"`
	CancelRequested bool               `json:"cancelRequested"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
	StartedAt       *time.Time         `json:"startedAt,omitempty"`
	CompletedAt     *time.Time         `json:"completedAt,omitempty"`
}

// GenerationRequest holds the immutable creative parameters of a job
type GenerationRequest struct {
	Prompt      string      `json:"prompt" validate:"required,min=3,max=2000"`
	DurationSec int         `json:"durationSec" validate:"required,min=5,max=180"`
	AspectRatio AspectRatio `json:"aspectRatio" validate:"required,oneof=16:9 9:16 1:1"`
	Style       VisualStyle `json:"style,omitempty" validate:"omitempty,oneof=cinematic animated documentary retro minimal"`
	BrandKitID  string      `json:"brandKitId,omitempty" validate:"omitempty,uuid4"`
	Voiceover   bool        `json:"voiceover,omitempty"`
}

// Scene is one planned segment of the output video
type Scene struct {
	Index        int     `json:"index"`
	Title        string  `json:"title,omitempty"`
	VisualPrompt string  `json:"visualPrompt"`
	Narration    string  `json:"narration,omitempty"`
	DurationSec  float64 `json:"durationSec"`
}

// Clip is the generated asset for one scene
type Clip struct {
	SceneIndex   int     `json:"sceneIndex"`
	URL          string  `json:"url"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
	DurationSec  float64 `json:"durationSec"`
}

// CompositionResult is the final composed video asset
type CompositionResult struct {
	VideoURL     string  `json:"videoUrl"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
	DurationSec  float64 `json:"durationSec"`
	SizeBytes    int64   `json:"sizeBytes,omitempty"`
	Format       string  `json:"format,omitempty"`
}

// JobError is the structured failure reason stored on a failed job.
// Raw collaborator errors never reach the record.
type JobError struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts,omitempty"`
}

// JobView is an immutable snapshot of a job handed to pollers and
// subscribers. Slices are copies, never aliases into the live record.
type JobView struct {
	JobID           string             `json:"jobId"`
	Status          JobStatus          `json:"status"`
	SceneCount      int                `json:"sceneCount"`
	ClipsCompleted  int                `json:"clipsCompleted"`
	Percentage      int                `json:"percentage"`
	Clips           []Clip             `json:"clips,omitempty"`
	Composition     *CompositionResult `json:"composition,omitempty"`
	Error           *JobError          `json:"error,omitempty"`
	CancelRequested bool               `json:"cancelRequested"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// View builds a copy-on-read snapshot of the job.
func (j *Job) View() JobView {
	v := JobView{
		JobID:           j.ID,
		Status:          j.Status,
		SceneCount:      len(j.Scenes),
		ClipsCompleted:  len(j.Clips),
		Percentage:      j.percentage(),
		CancelRequested: j.CancelRequested,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}

	if len(j.Clips) > 0 {
		clips := make([]Clip, 0, len(j.Clips))
		for _, c := range j.Clips {
			clips = append(clips, c)
		}
		sort.Slice(clips, func(a, b int) bool { return clips[a].SceneIndex < clips[b].SceneIndex })
		v.Clips = clips
	}

	if j.Composition != nil {
		comp := *j.Composition
		v.Composition = &comp
	}
	if j.Error != nil {
		jerr := *j.Error
		v.Error = &jerr
	}

	return v
}

func (j *Job) percentage() int {
	switch j.Status {
	case JobStatusQueued:
		return 0
	case JobStatusPlanning:
		return 5
	case JobStatusGeneratingClips:
		if len(j.Scenes) == 0 {
			return 10
		}
		return 10 + (80*len(j.Clips))/len(j.Scenes)
	case JobStatusComposing:
		return 95
	case JobStatusCompleted:
		return 100
	default:
		// failed / cancelled keep whatever was reached
		if len(j.Scenes) > 0 {
			return 10 + (80*len(j.Clips))/len(j.Scenes)
		}
		return 0
	}
}
