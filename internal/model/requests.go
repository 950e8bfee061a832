package model

import "time"

// SubmitJobResponse is returned from POST /api/jobs
type SubmitJobResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// CancelJobResponse is returned from POST /api/jobs/:jobId/cancel
type CancelJobResponse struct {
	JobID           string    `json:"jobId"`
	Status          JobStatus `json:"status"`
	CancelRequested bool      `json:"cancelRequested"`
}

// JobEventsResponse is the pull-based event feed for polling clients
type JobEventsResponse struct {
	JobID  string          `json:"jobId"`
	Events []ProgressEvent `json:"events"`
	Next   uint64          `json:"next"`
}
