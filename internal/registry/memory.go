package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/reelforge/api/internal/model"
)

// MemoryRepository is an in-memory Repository used by tests and by
// single-process development setups without Redis. Records are stored as
// deep copies so callers never share mutable state with the store.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

// NewMemoryRepository creates an empty in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*model.Job)}
}

func cloneJob(job *model.Job) (*model.Job, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	var out model.Job
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Load returns a copy of the stored job record.
func (r *MemoryRepository) Load(ctx context.Context, jobID string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job)
}

// Save stores a copy of the job record.
func (r *MemoryRepository) Save(ctx context.Context, job *model.Job) error {
	clone, err := cloneJob(job)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = clone
	return nil
}

// ClaimForStart performs the queued→planning CAS under the store lock.
func (r *MemoryRepository) ClaimForStart(ctx context.Context, jobID string, now time.Time) (*model.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if job.Status != model.JobStatusQueued {
		return nil, false, nil
	}
	job.Status = model.JobStatusPlanning
	started := now
	job.StartedAt = &started
	job.UpdatedAt = now

	clone, err := cloneJob(job)
	if err != nil {
		return nil, false, err
	}
	return clone, true, nil
}

// MarkCancelRequested flips the flag on the stored record under the
// lock, leaving every other field untouched.
func (r *MemoryRepository) MarkCancelRequested(ctx context.Context, jobID string, now time.Time) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status.IsTerminal() {
		return nil, ErrAlreadyTerminal
	}
	if !job.CancelRequested {
		job.CancelRequested = true
		job.UpdatedAt = now
	}
	return cloneJob(job)
}
