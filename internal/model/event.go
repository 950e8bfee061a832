package model

import "time"

// Progress event types
type EventType string

const (
	EventTypeSnapshot      EventType = "snapshot"
	EventTypeStatusChange  EventType = "status_change"
	EventTypeProgress      EventType = "progress"
	EventTypeClipCompleted EventType = "clip_completed"
	EventTypeCompleted     EventType = "completed"
	EventTypeError         EventType = "error"
)

// ProgressEvent is an immutable notification about a job's change.
// Sequence is assigned by the progress bus and increases monotonically
// per job so subscribers can detect gaps.
type ProgressEvent struct {
	JobID     string             `json:"jobId"`
	Type      EventType          `json:"type"`
	Sequence  uint64             `json:"sequence"`
	Status    JobStatus          `json:"status,omitempty"`
	Progress  *ProgressPayload   `json:"progress,omitempty"`
	Clip      *Clip              `json:"clip,omitempty"`
	Snapshot  *JobView           `json:"snapshot,omitempty"`
	Result    *CompositionResult `json:"result,omitempty"`
	Error     *JobError          `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// ProgressPayload is the aggregate clip-generation progress
type ProgressPayload struct {
	CompletedCount int `json:"completedCount"`
	TotalCount     int `json:"totalCount"`
	Percentage     int `json:"percentage"`
}

// IsTerminal reports whether the event announces a terminal status.
func (e *ProgressEvent) IsTerminal() bool {
	return e.Status.IsTerminal() && e.Type != EventTypeSnapshot
}
