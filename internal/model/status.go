package model

// Job status
type JobStatus string

const (
	JobStatusQueued          JobStatus = "queued"
	JobStatusPlanning        JobStatus = "planning"
	JobStatusGeneratingClips JobStatus = "generating_clips"
	JobStatusComposing       JobStatus = "composing"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusFailed          JobStatus = "failed"
	JobStatusCancelled       JobStatus = "cancelled"
)

var terminalStatuses = map[JobStatus]bool{
	JobStatusCompleted: true,
	JobStatusFailed:    true,
	JobStatusCancelled: true,
}

// Job status transitions form a DAG: a job only ever moves forward through
// the pipeline, and cancel is reachable from every non-terminal status.
var validJobTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusPlanning:  true,
		JobStatusCancelled: true,
	},
	JobStatusPlanning: {
		JobStatusGeneratingClips: true,
		JobStatusFailed:          true,
		JobStatusCancelled:       true,
	},
	JobStatusGeneratingClips: {
		JobStatusComposing: true,
		JobStatusFailed:    true,
		JobStatusCancelled: true,
	},
	JobStatusComposing: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
		JobStatusCancelled: true,
	},
}

// IsTerminal reports whether the status allows no further transitions.
func (s JobStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to JobStatus) bool {
	return validJobTransitions[from][to]
}

// Error kinds stored on a failed job
type ErrorKind string

const (
	ErrKindTransientExhausted ErrorKind = "transient-exhausted"
	ErrKindInvalidInput       ErrorKind = "invalid-input"
	ErrKindInternal           ErrorKind = "internal"
)

// Aspect ratios
type AspectRatio string

const (
	AspectRatioLandscape AspectRatio = "16:9"
	AspectRatioPortrait  AspectRatio = "9:16"
	AspectRatioSquare    AspectRatio = "1:1"
)

var ValidAspectRatios = []AspectRatio{
	AspectRatioLandscape, AspectRatioPortrait, AspectRatioSquare,
}

// Visual styles
type VisualStyle string

const (
	StyleCinematic   VisualStyle = "cinematic"
	StyleAnimated    VisualStyle = "animated"
	StyleDocumentary VisualStyle = "documentary"
	StyleRetro       VisualStyle = "retro"
	StyleMinimal     VisualStyle = "minimal"
)
