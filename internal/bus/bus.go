// Package bus is the in-process progress hub: the orchestrator publishes
// job events into it, and any number of live subscribers (websocket
// connections) or pollers read from it. Live delivery is best-effort and
// at-most-once; the snapshot and event-ring read paths are the source of
// truth for correctness.
package bus

import (
	"log"
	"sync"
	"time"

	"github.com/reelforge/api/internal/model"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind is dropped and must resubscribe.
const subscriberBuffer = 64

// Bus fans job progress events out to live subscribers and retains a
// bounded ring of recent events plus the latest snapshot per job.
type Bus struct {
	mu       sync.RWMutex
	jobs     map[string]*jobStream
	ringSize int
	grace    time.Duration
}

type jobStream struct {
	seq     uint64
	events  []model.ProgressEvent
	subs    map[*Subscription]struct{}
	view    model.JobView
	hasView bool
	closed  bool
}

// Subscription is one live event feed attached to a job.
type Subscription struct {
	C chan model.ProgressEvent

	bus   *Bus
	jobID string
	once  sync.Once
}

func (s *Subscription) closeChan() {
	s.once.Do(func() { close(s.C) })
}

// Close detaches the subscription. Safe to call more than once; the bus
// also closes subscriptions itself when dropping a slow consumer or
// cleaning up a finished job.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.jobID, s)
}

// New creates a progress bus retaining up to ringSize events per job and
// keeping subscriptions open for grace after a terminal event.
func New(ringSize int, grace time.Duration) *Bus {
	return &Bus{
		jobs:     make(map[string]*jobStream),
		ringSize: ringSize,
		grace:    grace,
	}
}

func (b *Bus) stream(jobID string) *jobStream {
	st, ok := b.jobs[jobID]
	if !ok {
		st = &jobStream{subs: make(map[*Subscription]struct{})}
		b.jobs[jobID] = st
	}
	return st
}

// Publish assigns the next sequence number, appends the event to the
// job's ring and fans it out. A subscriber with a full buffer is dropped
// rather than blocking the publisher. Terminal events additionally
// schedule subscription cleanup after the grace window.
func (b *Bus) Publish(evt model.ProgressEvent) {
	b.mu.Lock()
	st := b.stream(evt.JobID)

	st.seq++
	evt.Sequence = st.seq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	st.events = append(st.events, evt)
	if len(st.events) > b.ringSize {
		st.events = st.events[len(st.events)-b.ringSize:]
	}

	for sub := range st.subs {
		select {
		case sub.C <- evt:
		default:
			// Slow consumer: drop it, durability comes from the pull path.
			delete(st.subs, sub)
			sub.closeChan()
			log.Printf("[Bus] Dropped slow subscriber for job %s", evt.JobID)
		}
	}

	terminal := evt.IsTerminal()
	b.mu.Unlock()

	if terminal {
		b.scheduleCleanup(evt.JobID)
	}
}

// SetSnapshot records the latest job view, served to pollers and emitted
// as the first event to any newly-attached subscriber.
func (b *Bus) SetSnapshot(view model.JobView) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stream(view.JobID)
	st.view = view
	st.hasView = true
}

// Snapshot returns the latest known view of the job.
func (b *Bus) Snapshot(jobID string) (model.JobView, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.jobs[jobID]
	if !ok || !st.hasView {
		return model.JobView{}, false
	}
	return st.view, true
}

// Events returns the retained events with sequence greater than after,
// oldest first. This is the polling fallback read path.
func (b *Bus) Events(jobID string, after uint64) []model.ProgressEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.jobs[jobID]
	if !ok {
		return nil
	}
	var out []model.ProgressEvent
	for _, evt := range st.events {
		if evt.Sequence > after {
			out = append(out, evt)
		}
	}
	return out
}

// Subscribe attaches a live feed to the job. The subscriber immediately
// receives a synthetic snapshot event carrying the current sequence, so
// it never has a gap: every later event has a greater sequence. If the
// job already finished, the snapshot is delivered and the channel is
// closed right away.
func (b *Bus) Subscribe(jobID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stream(jobID)
	sub := &Subscription{
		C:     make(chan model.ProgressEvent, subscriberBuffer),
		bus:   b,
		jobID: jobID,
	}

	if st.hasView {
		view := st.view
		sub.C <- model.ProgressEvent{
			JobID:     jobID,
			Type:      model.EventTypeSnapshot,
			Sequence:  st.seq,
			Status:    view.Status,
			Snapshot:  &view,
			Timestamp: time.Now(),
		}
	}

	if st.closed {
		sub.closeChan()
		return sub
	}

	st.subs[sub] = struct{}{}
	return sub
}

func (b *Bus) unsubscribe(jobID string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.jobs[jobID]
	if !ok {
		return
	}
	if _, attached := st.subs[sub]; attached {
		delete(st.subs, sub)
		sub.closeChan()
	}
}

// scheduleCleanup closes all live subscriptions for a finished job after
// the grace window. The ring and snapshot stay available to pollers.
func (b *Bus) scheduleCleanup(jobID string) {
	time.AfterFunc(b.grace, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		st, ok := b.jobs[jobID]
		if !ok {
			return
		}
		st.closed = true
		for sub := range st.subs {
			delete(st.subs, sub)
			sub.closeChan()
		}
	})
}
