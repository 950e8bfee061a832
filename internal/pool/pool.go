// Package pool runs clip-generation calls through a fixed set of
// workers, enforcing one global concurrency ceiling across all jobs so a
// single large job cannot starve the rest or flood the render service.
package pool

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/reelforge/api/internal/client"
	"github.com/reelforge/api/internal/retry"
)

// ErrBacklogFull is returned by Submit when the shared queue stays full
// past the submission timeout. The caller is expected to back off and
// resubmit rather than block.
var ErrBacklogFull = errors.New("clip queue full")

// Outcome is the terminal per-item result reported back to the
// submitting orchestrator.
type Outcome struct {
	SceneIndex int
	Clip       *client.ClipResult
	Attempts   int
	Err        error
}

// Item is one clip-generation work unit. Ctx is the owning job's
// context: items whose context is done by the time a worker picks them
// up are dropped without execution.
type Item struct {
	JobID      string
	SceneIndex int
	Request    client.ClipRequest
	Ctx        context.Context
	Results    chan<- Outcome
}

// Config holds the pool sizing knobs
type Config struct {
	Workers       int
	QueueSize     int
	SubmitTimeout time.Duration
}

// Pool is the bounded clip-generation workforce.
type Pool struct {
	queue         chan *Item
	workers       int
	generator     client.ClipGenerator
	policy        retry.Policy
	submitTimeout time.Duration
	wg            sync.WaitGroup
}

// New creates a pool; call Start to launch the workers.
func New(cfg Config, generator client.ClipGenerator, policy retry.Policy) *Pool {
	return &Pool{
		queue:         make(chan *Item, cfg.QueueSize),
		workers:       cfg.Workers,
		generator:     generator,
		policy:        policy,
		submitTimeout: cfg.SubmitTimeout,
	}
}

// Start launches the long-lived workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Shutdown stops accepting work and waits for in-flight items to finish.
func (p *Pool) Shutdown() {
	close(p.queue)
	p.wg.Wait()
}

// Submit enqueues a work item FIFO behind every other job's items. It
// waits at most the submission timeout before reporting backpressure.
func (p *Pool) Submit(item *Item) error {
	select {
	case p.queue <- item:
		return nil
	case <-item.Ctx.Done():
		return item.Ctx.Err()
	case <-time.After(p.submitTimeout):
		return ErrBacklogFull
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log.Printf("[Pool] Worker %d started", id)

	for item := range p.queue {
		// Cancelled before dispatch: drop without execution.
		if err := item.Ctx.Err(); err != nil {
			item.Results <- Outcome{SceneIndex: item.SceneIndex, Err: err}
			continue
		}
		item.Results <- p.execute(item)
	}
}

// execute runs the clip call with the retry policy until it settles.
func (p *Pool) execute(item *Item) Outcome {
	attempt := 0
	for {
		attempt++
		res, err := p.generator.GenerateClip(item.Ctx, &item.Request)
		if err == nil {
			return Outcome{SceneIndex: item.SceneIndex, Clip: res, Attempts: attempt}
		}

		ok, delay := p.policy.ShouldRetry(attempt, err)
		if !ok {
			return Outcome{SceneIndex: item.SceneIndex, Attempts: attempt, Err: err}
		}

		log.Printf("[Pool] Clip %s/%d attempt %d failed, retrying in %v: %v",
			item.JobID, item.SceneIndex, attempt, delay, err)

		select {
		case <-item.Ctx.Done():
			return Outcome{SceneIndex: item.SceneIndex, Attempts: attempt, Err: err}
		case <-time.After(delay):
		}
	}
}
