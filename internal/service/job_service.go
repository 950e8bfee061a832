package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/reelforge/api/internal/bus"
	"github.com/reelforge/api/internal/model"
	"github.com/reelforge/api/internal/registry"
)

const (
	// TaskTypeOrchestrate is the asynq task that runs one job end to end.
	TaskTypeOrchestrate = "job:orchestrate"

	// QueueJobs is the asynq queue for orchestration tasks.
	QueueJobs = "jobs"

	taskRetention = 24 * time.Hour
)

// ErrNotCompleted is returned when the result of an unfinished job is
// requested.
var ErrNotCompleted = errors.New("job not completed")

// Enqueuer is the slice of asynq.Client the service needs; tests swap in
// a fake.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// OrchestrateTaskPayload is the task body for TaskTypeOrchestrate.
type OrchestrateTaskPayload struct {
	JobID string `json:"jobId"`
}

// NewOrchestrateTask builds the asynq task for a job. Retries happen
// inside the orchestrator per stage, so the task itself never retries.
func NewOrchestrateTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(OrchestrateTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeOrchestrate, data), nil
}

// JobService handles job submission and the read paths
type JobService struct {
	registry *registry.Registry
	bus      *bus.Bus
	enqueuer Enqueuer
}

func NewJobService(reg *registry.Registry, b *bus.Bus, enqueuer Enqueuer) *JobService {
	return &JobService{
		registry: reg,
		bus:      b,
		enqueuer: enqueuer,
	}
}

// SubmitJob persists a new queued job and enqueues its orchestration
// task. The request is assumed validated by the handler.
func (s *JobService) SubmitJob(ctx context.Context, req model.GenerationRequest) (*model.SubmitJobResponse, error) {
	job, err := s.registry.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	// Seed the snapshot so subscribers attaching before the orchestrator
	// picks the job up still see the queued state.
	s.bus.SetSnapshot(job.View())

	task, err := NewOrchestrateTask(job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.enqueuer.Enqueue(task,
		asynq.Queue(QueueJobs),
		asynq.MaxRetry(0),
		asynq.Retention(taskRetention),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.SubmitJobResponse{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	}, nil
}

// GetStatus returns the current view of a job. The bus snapshot is the
// hot path; the registry covers jobs not yet (or no longer) streaming.
func (s *JobService) GetStatus(ctx context.Context, jobID string) (model.JobView, error) {
	if view, ok := s.bus.Snapshot(jobID); ok {
		return view, nil
	}
	return s.registry.View(ctx, jobID)
}

// GetResult returns the composition of a completed job.
func (s *JobService) GetResult(ctx context.Context, jobID string) (*model.CompositionResult, error) {
	view, err := s.GetStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if view.Status != model.JobStatusCompleted || view.Composition == nil {
		return nil, ErrNotCompleted
	}
	return view.Composition, nil
}

// GetEvents is the polling fallback: all retained events with sequence
// greater than after, plus the cursor for the next poll.
func (s *JobService) GetEvents(ctx context.Context, jobID string, after uint64) (*model.JobEventsResponse, error) {
	events := s.bus.Events(jobID, after)
	if len(events) == 0 {
		// Distinguish a quiet job from an unknown one.
		if _, err := s.registry.Load(ctx, jobID); err != nil {
			return nil, err
		}
	}

	next := after
	if len(events) > 0 {
		next = events[len(events)-1].Sequence
	}
	return &model.JobEventsResponse{
		JobID:  jobID,
		Events: events,
		Next:   next,
	}, nil
}

// Cancel records the cancel request. The transition to cancelled is
// asynchronous; the response reflects the state at acknowledgement.
func (s *JobService) Cancel(ctx context.Context, jobID string) (*model.CancelJobResponse, error) {
	view, err := s.registry.RequestCancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &model.CancelJobResponse{
		JobID:           jobID,
		Status:          view.Status,
		CancelRequested: view.CancelRequested,
	}, nil
}
