// Package orchestrator drives one job from queued to a terminal state:
// planning, clip fan-out through the worker pool, composition, delivery.
// Each job is owned by exactly one Run invocation; the registry claim
// guarantees that even across process restarts.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/reelforge/api/internal/bus"
	"github.com/reelforge/api/internal/client"
	"github.com/reelforge/api/internal/model"
	"github.com/reelforge/api/internal/pool"
	"github.com/reelforge/api/internal/registry"
	"github.com/reelforge/api/internal/retry"
)

// errCancelled aborts a stage when the cancel flag is observed.
var errCancelled = errors.New("cancel requested")

// resultURLTTL matches the job record retention so a signed result URL
// stays valid as long as the job is queryable.
const resultURLTTL = 24 * time.Hour

// Config holds the per-stage retry policies and the composition policy
// for jobs with failed clips.
type Config struct {
	PlanPolicy    retry.Policy
	ComposePolicy retry.Policy
	// SubmitPolicy governs resubmission when the worker pool reports
	// backpressure.
	SubmitPolicy retry.Policy
	// AllowPartial composes whatever clips succeeded instead of failing
	// the job when a clip exhausts its retries.
	AllowPartial bool
}

// Orchestrator runs jobs against the collaborator clients.
type Orchestrator struct {
	cfg      Config
	registry *registry.Registry
	bus      *bus.Bus
	pool     *pool.Pool
	planner  client.Planner
	composer client.Composer
	storage  client.StorageClient // optional delivery target, may be nil
}

// New creates an orchestrator. storage may be nil; delivery then keeps
// the compositor's own URLs.
func New(cfg Config, reg *registry.Registry, b *bus.Bus, p *pool.Pool,
	planner client.Planner, composer client.Composer, storage client.StorageClient) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: reg,
		bus:      b,
		pool:     p,
		planner:  planner,
		composer: composer,
		storage:  storage,
	}
}

// Run drives the job to a terminal state. It returns an error only for
// infrastructure problems (job missing, lost claim persistence); a job
// that ends failed or cancelled is still a successful Run.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, claimed, err := o.registry.ClaimForStart(ctx, jobID)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !claimed {
		// Another process won the claim, or the job is already past queued.
		log.Printf("[Orchestrator] Job %s already claimed, skipping", jobID)
		return nil
	}
	defer o.registry.Release(jobID)

	if job.Clips == nil {
		job.Clips = make(map[int]model.Clip)
	}

	cancelCh := o.registry.CancelSignal(jobID)

	// itemsCtx bounds the job's queued pool work: once the job is
	// terminal or cancel is requested, not-yet-started items are dropped.
	itemsCtx, stopItems := context.WithCancel(ctx)
	defer stopItems()
	go func() {
		select {
		case <-cancelCh:
			stopItems()
		case <-itemsCtx.Done():
		}
	}()

	if job.CancelRequested {
		return o.finishCancelled(ctx, job)
	}

	log.Printf("[Orchestrator] Job %s: planning", job.ID)
	o.persistAndEmit(ctx, job, model.ProgressEvent{Type: model.EventTypeStatusChange})

	// Planning
	plan, attempts, err := o.plan(ctx, job, cancelCh)
	if err != nil {
		if errors.Is(err, errCancelled) {
			return o.finishCancelled(ctx, job)
		}
		return o.fail(ctx, job, classifyFailure(err, attempts))
	}

	scenes := make([]model.Scene, len(plan.Scenes))
	for i, s := range plan.Scenes {
		scenes[i] = model.Scene{
			Index:        i,
			Title:        s.Title,
			VisualPrompt: s.VisualPrompt,
			Narration:    s.Narration,
			DurationSec:  s.DurationSec,
		}
	}
	job.Scenes = scenes
	if !o.transition(ctx, job, model.JobStatusGeneratingClips) {
		return nil
	}

	// Clip fan-out
	if err := o.generateClips(ctx, job, itemsCtx, cancelCh); err != nil {
		if errors.Is(err, errCancelled) {
			return o.finishCancelled(ctx, job)
		}
		return o.fail(ctx, job, classifyFailure(err, 0))
	}

	select {
	case <-cancelCh:
		return o.finishCancelled(ctx, job)
	default:
	}

	// Composition
	if !o.transition(ctx, job, model.JobStatusComposing) {
		return nil
	}

	result, attempts, err := o.compose(ctx, job, cancelCh)
	if err != nil {
		if errors.Is(err, errCancelled) {
			return o.finishCancelled(ctx, job)
		}
		return o.fail(ctx, job, classifyFailure(err, attempts))
	}

	// Delivery
	job.Composition = o.deliver(ctx, job, result)
	return o.finishCompleted(ctx, job)
}

// plan invokes the planning collaborator under its retry policy.
func (o *Orchestrator) plan(ctx context.Context, job *model.Job, cancelCh <-chan struct{}) (*client.PlanResult, int, error) {
	req := &client.PlanRequest{
		JobID:       job.ID,
		Prompt:      job.Request.Prompt,
		DurationSec: job.Request.DurationSec,
		AspectRatio: string(job.Request.AspectRatio),
		Style:       string(job.Request.Style),
		Voiceover:   job.Request.Voiceover,
	}

	attempt := 0
	for {
		attempt++
		res, err := o.planner.Plan(ctx, req)
		if err == nil {
			return res, attempt, nil
		}

		ok, delay := o.cfg.PlanPolicy.ShouldRetry(attempt, err)
		if !ok {
			return nil, attempt, err
		}
		log.Printf("[Orchestrator] Job %s: plan attempt %d failed, retrying in %v: %v", job.ID, attempt, delay, err)

		if err := waitOrCancel(ctx, cancelCh, delay); err != nil {
			return nil, attempt, err
		}
	}
}

// generateClips fans the scenes out to the worker pool and joins the
// per-scene outcomes. Returns nil when every clip succeeded, errCancelled
// on a cancel request, or a job error otherwise.
func (o *Orchestrator) generateClips(ctx context.Context, job *model.Job, itemsCtx context.Context, cancelCh <-chan struct{}) error {
	total := len(job.Scenes)
	results := make(chan pool.Outcome, total)

	submitted := 0
	for _, scene := range job.Scenes {
		item := &pool.Item{
			JobID:      job.ID,
			SceneIndex: scene.Index,
			Request: client.ClipRequest{
				JobID:        job.ID,
				SceneIndex:   scene.Index,
				VisualPrompt: scene.VisualPrompt,
				DurationSec:  scene.DurationSec,
				AspectRatio:  string(job.Request.AspectRatio),
				Style:        string(job.Request.Style),
			},
			Ctx:     itemsCtx,
			Results: results,
		}
		if err := o.submitWithBackoff(item, cancelCh); err != nil {
			return err
		}
		submitted++
	}

	var firstErr error
	var firstErrAttempts int
	for received := 0; received < submitted; received++ {
		select {
		case out := <-results:
			if out.Err != nil {
				if errors.Is(out.Err, context.Canceled) {
					return errCancelled
				}
				log.Printf("[Orchestrator] Job %s: clip %d failed after %d attempts: %v", job.ID, out.SceneIndex, out.Attempts, out.Err)
				if firstErr == nil {
					firstErr = out.Err
					firstErrAttempts = out.Attempts
				}
				if !o.cfg.AllowPartial {
					// Fail fast: siblings may still be running, their
					// results are discarded with the job.
					return &jobErrWrapped{classifyFailure(firstErr, firstErrAttempts)}
				}
			} else {
				o.recordClip(ctx, job, out)
			}
		case <-cancelCh:
			return errCancelled
		}
	}

	if firstErr != nil && len(job.Clips) == 0 {
		return &jobErrWrapped{classifyFailure(firstErr, firstErrAttempts)}
	}
	return nil
}

// recordClip stores a successful clip and emits clip_completed plus the
// aggregate progress event. A recorded clip is never overwritten.
func (o *Orchestrator) recordClip(ctx context.Context, job *model.Job, out pool.Outcome) {
	if _, exists := job.Clips[out.SceneIndex]; exists {
		log.Printf("[Orchestrator] Job %s: duplicate clip result for scene %d dropped", job.ID, out.SceneIndex)
		return
	}

	clip := model.Clip{
		SceneIndex:   out.SceneIndex,
		URL:          out.Clip.URL,
		ThumbnailURL: out.Clip.ThumbnailURL,
		DurationSec:  out.Clip.DurationSec,
	}
	job.Clips[out.SceneIndex] = clip

	o.persistAndEmit(ctx, job, model.ProgressEvent{
		Type: model.EventTypeClipCompleted,
		Clip: &clip,
	})
	view := job.View()
	o.bus.Publish(model.ProgressEvent{
		JobID:  job.ID,
		Type:   model.EventTypeProgress,
		Status: job.Status,
		Progress: &model.ProgressPayload{
			CompletedCount: view.ClipsCompleted,
			TotalCount:     view.SceneCount,
			Percentage:     view.Percentage,
		},
	})
}

// submitWithBackoff retries pool submission while the queue is full.
func (o *Orchestrator) submitWithBackoff(item *pool.Item, cancelCh <-chan struct{}) error {
	attempt := 0
	for {
		attempt++
		err := o.pool.Submit(item)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return errCancelled
		}
		if !errors.Is(err, pool.ErrBacklogFull) {
			return &jobErrWrapped{&model.JobError{Kind: model.ErrKindInternal, Message: err.Error()}}
		}

		ok, delay := o.cfg.SubmitPolicy.ShouldRetry(attempt, err)
		if !ok {
			return &jobErrWrapped{&model.JobError{
				Kind:     model.ErrKindTransientExhausted,
				Message:  "clip worker pool saturated",
				Attempts: attempt,
			}}
		}
		log.Printf("[Orchestrator] Job %s: pool backpressure, retrying submit in %v", item.JobID, delay)

		if err := waitOrCancel(item.Ctx, cancelCh, delay); err != nil {
			return err
		}
	}
}

// compose invokes the composition collaborator under its retry policy.
func (o *Orchestrator) compose(ctx context.Context, job *model.Job, cancelCh <-chan struct{}) (*client.ComposeResult, int, error) {
	clips := make([]client.ComposeClip, 0, len(job.Scenes))
	for _, scene := range job.Scenes {
		clip, ok := job.Clips[scene.Index]
		if !ok {
			if o.cfg.AllowPartial {
				continue
			}
			return nil, 0, &jobErrWrapped{&model.JobError{
				Kind:    model.ErrKindInternal,
				Message: fmt.Sprintf("missing clip for scene %d", scene.Index),
			}}
		}
		clips = append(clips, client.ComposeClip{
			Index:       scene.Index,
			URL:         clip.URL,
			DurationSec: clip.DurationSec,
			Narration:   scene.Narration,
		})
	}

	req := &client.ComposeRequest{
		JobID:       job.ID,
		Clips:       clips,
		AspectRatio: string(job.Request.AspectRatio),
		Format:      "mp4",
		OutputKey:   fmt.Sprintf("videos/%s.mp4", job.ID),
	}

	attempt := 0
	for {
		attempt++
		res, err := o.composer.Compose(ctx, req)
		if err == nil {
			return res, attempt, nil
		}

		ok, delay := o.cfg.ComposePolicy.ShouldRetry(attempt, err)
		if !ok {
			return nil, attempt, err
		}
		log.Printf("[Orchestrator] Job %s: compose attempt %d failed, retrying in %v: %v", job.ID, attempt, delay, err)

		if err := waitOrCancel(ctx, cancelCh, delay); err != nil {
			return nil, attempt, err
		}
	}
}

// deliver publishes the composed video: when storage is configured the
// final URL comes from the delivery bucket and a manifest is written
// next to the video for the player.
func (o *Orchestrator) deliver(ctx context.Context, job *model.Job, res *client.ComposeResult) *model.CompositionResult {
	comp := &model.CompositionResult{
		VideoURL:     res.VideoURL,
		ThumbnailURL: res.ThumbnailURL,
		DurationSec:  res.DurationSec,
		SizeBytes:    res.SizeBytes,
		Format:       res.Format,
	}

	if o.storage == nil || res.OutputKey == "" {
		return comp
	}

	// Private buckets have no public URL; hand out a signed one that
	// outlives the job record instead.
	if url := o.storage.GetPublicURL(res.OutputKey); url != "" {
		comp.VideoURL = url
	} else if signed, err := o.storage.GetSignedURL(ctx, res.OutputKey, resultURLTTL); err == nil {
		comp.VideoURL = signed
	} else {
		log.Printf("[Orchestrator] Job %s: signing result URL failed: %v", job.ID, err)
	}

	manifest := struct {
		JobID    string                   `json:"jobId"`
		Video    *model.CompositionResult `json:"video"`
		Scenes   []model.Scene            `json:"scenes"`
		Clips    []model.Clip             `json:"clips"`
		Rendered time.Time                `json:"rendered"`
	}{
		JobID:    job.ID,
		Video:    comp,
		Scenes:   job.Scenes,
		Clips:    job.View().Clips,
		Rendered: time.Now().UTC(),
	}

	data, err := json.Marshal(manifest)
	if err == nil {
		key := fmt.Sprintf("jobs/%s/manifest.json", job.ID)
		if _, err := o.storage.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
			log.Printf("[Orchestrator] Job %s: manifest upload failed: %v", job.ID, err)
		}
	}

	return comp
}

// transition moves the job forward and publishes the status change. A
// false return means the move was illegal and the job has been failed.
func (o *Orchestrator) transition(ctx context.Context, job *model.Job, to model.JobStatus) bool {
	if !model.CanTransition(job.Status, to) {
		log.Printf("[Orchestrator] Job %s: illegal transition %s -> %s", job.ID, job.Status, to)
		o.fail(ctx, job, &model.JobError{
			Kind:    model.ErrKindInternal,
			Message: fmt.Sprintf("illegal transition %s -> %s", job.Status, to),
		})
		return false
	}
	job.Status = to
	log.Printf("[Orchestrator] Job %s: %s", job.ID, to)
	o.persistAndEmit(ctx, job, model.ProgressEvent{Type: model.EventTypeStatusChange})
	return true
}

func (o *Orchestrator) finishCompleted(ctx context.Context, job *model.Job) error {
	job.Status = model.JobStatusCompleted
	now := time.Now().UTC()
	job.CompletedAt = &now
	log.Printf("[Orchestrator] Job %s: completed", job.ID)
	o.persistAndEmit(ctx, job, model.ProgressEvent{
		Type:   model.EventTypeCompleted,
		Result: job.Composition,
	})
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, job *model.Job, jerr *model.JobError) error {
	job.Status = model.JobStatusFailed
	job.Error = jerr
	now := time.Now().UTC()
	job.CompletedAt = &now
	log.Printf("[Orchestrator] Job %s: failed (%s): %s", job.ID, jerr.Kind, jerr.Message)
	o.persistAndEmit(ctx, job, model.ProgressEvent{
		Type:  model.EventTypeError,
		Error: jerr,
	})
	return nil
}

func (o *Orchestrator) finishCancelled(ctx context.Context, job *model.Job) error {
	job.Status = model.JobStatusCancelled
	now := time.Now().UTC()
	job.CompletedAt = &now
	log.Printf("[Orchestrator] Job %s: cancelled", job.ID)
	o.persistAndEmit(ctx, job, model.ProgressEvent{Type: model.EventTypeStatusChange})
	return nil
}

// persistAndEmit saves the record, refreshes the pull snapshot and
// publishes the event. Events always reach the bus before the function
// that caused the transition returns.
func (o *Orchestrator) persistAndEmit(ctx context.Context, job *model.Job, evt model.ProgressEvent) {
	// cancel_requested is monotonic. The flag is written to the record by
	// RequestCancel, not to this goroutine's copy, so fold the fired
	// signal in before saving or the save would reset it.
	select {
	case <-o.registry.CancelSignal(job.ID):
		job.CancelRequested = true
	default:
	}

	if err := o.registry.Save(ctx, job); err != nil {
		log.Printf("[Orchestrator] Job %s: save failed: %v", job.ID, err)
	}
	o.bus.SetSnapshot(job.View())

	evt.JobID = job.ID
	evt.Status = job.Status
	o.bus.Publish(evt)
}

// classifyFailure maps a collaborator error onto the job's structured
// error without leaking raw external details.
func classifyFailure(err error, attempts int) *model.JobError {
	var wrapped *jobErrWrapped
	if errors.As(err, &wrapped) {
		return wrapped.jerr
	}
	kind := model.ErrKindTransientExhausted
	if client.IsPermanent(err) {
		kind = model.ErrKindInvalidInput
	}
	return &model.JobError{Kind: kind, Message: err.Error(), Attempts: attempts}
}

// waitOrCancel sleeps for the backoff delay, aborting on context or
// cancel signal.
func waitOrCancel(ctx context.Context, cancelCh <-chan struct{}, delay time.Duration) error {
	select {
	case <-ctx.Done():
		return errCancelled
	case <-cancelCh:
		return errCancelled
	case <-time.After(delay):
		return nil
	}
}

// jobErrWrapped carries an already-classified job error through the
// error return path.
type jobErrWrapped struct {
	jerr *model.JobError
}

func (e *jobErrWrapped) Error() string { return e.jerr.Message }
