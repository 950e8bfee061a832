// Package registry owns the job records: a durable repository keyed by
// job id plus the in-process cancellation handles. All writes to a job
// record flow through the single orchestrator goroutine that owns it;
// the one exception is the cancel_requested flag, which is monotonic.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/api/internal/model"
)

var (
	ErrNotFound        = errors.New("job not found")
	ErrAlreadyTerminal = errors.New("job already terminal")
)

// Repository is the narrow persistence interface the orchestrator core
// needs. ClaimForStart is the atomic queued→planning compare-and-swap
// that guarantees single-start semantics across process restarts.
type Repository interface {
	Load(ctx context.Context, jobID string) (*model.Job, error)
	Save(ctx context.Context, job *model.Job) error
	ClaimForStart(ctx context.Context, jobID string, now time.Time) (*model.Job, bool, error)
	// MarkCancelRequested sets the cancel_requested flag on the stored
	// record without touching any other field, so it cannot clobber a
	// concurrent orchestrator save. Returns ErrAlreadyTerminal when the
	// job is finished.
	MarkCancelRequested(ctx context.Context, jobID string, now time.Time) (*model.Job, error)
}

// Registry combines the repository with per-job cancel signals.
type Registry struct {
	repo Repository

	mu      sync.Mutex
	cancels map[string]*cancelHandle
}

type cancelHandle struct {
	once sync.Once
	ch   chan struct{}
}

func (h *cancelHandle) fire() {
	h.once.Do(func() { close(h.ch) })
}

// New creates a registry backed by the given repository.
func New(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		cancels: make(map[string]*cancelHandle),
	}
}

// Create persists a fresh job in queued state and returns it.
func (r *Registry) Create(ctx context.Context, req model.GenerationRequest) (*model.Job, error) {
	now := time.Now().UTC()
	job := &model.Job{
		ID:        uuid.New().String(),
		Status:    model.JobStatusQueued,
		Request:   req,
		Clips:     make(map[int]model.Clip),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.repo.Save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Load fetches the current job record.
func (r *Registry) Load(ctx context.Context, jobID string) (*model.Job, error) {
	return r.repo.Load(ctx, jobID)
}

// View fetches a copy-on-read snapshot of the job.
func (r *Registry) View(ctx context.Context, jobID string) (model.JobView, error) {
	job, err := r.repo.Load(ctx, jobID)
	if err != nil {
		return model.JobView{}, err
	}
	return job.View(), nil
}

// Save persists the job record. Only the owning orchestrator goroutine
// may call this once a job has been claimed.
func (r *Registry) Save(ctx context.Context, job *model.Job) error {
	job.UpdatedAt = time.Now().UTC()
	return r.repo.Save(ctx, job)
}

// ClaimForStart atomically moves the job from queued to planning. The
// second return is false when some other process already claimed it.
func (r *Registry) ClaimForStart(ctx context.Context, jobID string) (*model.Job, bool, error) {
	return r.repo.ClaimForStart(ctx, jobID, time.Now().UTC())
}

// RequestCancel records the cancel_requested flag and wakes the owning
// orchestrator. Cancellation is acknowledged once the flag is recorded;
// the transition to cancelled happens asynchronously. Repeating the call
// on a finished job returns ErrAlreadyTerminal.
func (r *Registry) RequestCancel(ctx context.Context, jobID string) (model.JobView, error) {
	job, err := r.repo.MarkCancelRequested(ctx, jobID, time.Now().UTC())
	if err != nil {
		return model.JobView{}, err
	}

	r.handle(jobID).fire()
	return job.View(), nil
}

// CancelSignal returns the channel closed when cancellation is requested
// for the job. The orchestrator selects on it at every suspension point.
func (r *Registry) CancelSignal(jobID string) <-chan struct{} {
	return r.handle(jobID).ch
}

// Release drops the in-process cancel handle once a job is terminal.
func (r *Registry) Release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, jobID)
}

func (r *Registry) handle(jobID string) *cancelHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.cancels[jobID]
	if !ok {
		h = &cancelHandle{ch: make(chan struct{})}
		r.cancels[jobID] = h
	}
	return h
}
