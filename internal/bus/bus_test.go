package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/api/internal/model"
)

func newTestBus() *Bus {
	return New(200, 20*time.Millisecond)
}

func statusEvent(jobID string, status model.JobStatus) model.ProgressEvent {
	return model.ProgressEvent{JobID: jobID, Type: model.EventTypeStatusChange, Status: status}
}

func TestPublishAssignsMonotonicSequence(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe("job-1")
	defer sub.Close()

	b.Publish(statusEvent("job-1", model.JobStatusPlanning))
	b.Publish(statusEvent("job-1", model.JobStatusGeneratingClips))

	first := <-sub.C
	second := <-sub.C
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.False(t, first.Timestamp.IsZero())
}

func TestSequenceIsPerJob(t *testing.T) {
	b := newTestBus()
	b.Publish(statusEvent("job-a", model.JobStatusPlanning))
	b.Publish(statusEvent("job-a", model.JobStatusGeneratingClips))
	b.Publish(statusEvent("job-b", model.JobStatusPlanning))

	evts := b.Events("job-b", 0)
	require.Len(t, evts, 1)
	assert.Equal(t, uint64(1), evts[0].Sequence)
}

func TestSnapshotReadPath(t *testing.T) {
	b := newTestBus()

	_, ok := b.Snapshot("job-1")
	assert.False(t, ok)

	b.SetSnapshot(model.JobView{JobID: "job-1", Status: model.JobStatusPlanning})
	view, ok := b.Snapshot("job-1")
	require.True(t, ok)
	assert.Equal(t, model.JobStatusPlanning, view.Status)
}

func TestLateSubscriberGetsSnapshotFirst(t *testing.T) {
	b := newTestBus()

	b.Publish(statusEvent("job-1", model.JobStatusPlanning))
	b.Publish(statusEvent("job-1", model.JobStatusGeneratingClips))
	b.SetSnapshot(model.JobView{
		JobID:          "job-1",
		Status:         model.JobStatusGeneratingClips,
		SceneCount:     4,
		ClipsCompleted: 2,
		Percentage:     50,
	})

	sub := b.Subscribe("job-1")
	defer sub.Close()

	first := <-sub.C
	require.Equal(t, model.EventTypeSnapshot, first.Type)
	require.NotNil(t, first.Snapshot)
	assert.GreaterOrEqual(t, first.Snapshot.Percentage, 50)
	assert.Equal(t, uint64(2), first.Sequence, "snapshot carries the current sequence")

	// Everything after the snapshot has a strictly greater sequence.
	b.Publish(statusEvent("job-1", model.JobStatusComposing))
	next := <-sub.C
	assert.Greater(t, next.Sequence, first.Sequence)
}

func TestEventsAfter(t *testing.T) {
	b := newTestBus()
	for i := 0; i < 5; i++ {
		b.Publish(model.ProgressEvent{JobID: "job-1", Type: model.EventTypeProgress})
	}

	evts := b.Events("job-1", 3)
	require.Len(t, evts, 2)
	assert.Equal(t, uint64(4), evts[0].Sequence)
	assert.Equal(t, uint64(5), evts[1].Sequence)

	assert.Nil(t, b.Events("unknown", 0))
}

func TestRingBounded(t *testing.T) {
	b := New(10, time.Millisecond)
	for i := 0; i < 25; i++ {
		b.Publish(model.ProgressEvent{JobID: "job-1", Type: model.EventTypeProgress})
	}

	evts := b.Events("job-1", 0)
	require.Len(t, evts, 10)
	assert.Equal(t, uint64(16), evts[0].Sequence, "oldest events evicted")
	assert.Equal(t, uint64(25), evts[9].Sequence)
}

func TestSlowSubscriberDropped(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe("job-1")

	// Never read: overflow the buffer and one more.
	for i := 0; i < subscriberBuffer+1; i++ {
		b.Publish(model.ProgressEvent{JobID: "job-1", Type: model.EventTypeProgress})
	}

	// The channel must be closed after draining the buffered events.
	drained := 0
	for range sub.C {
		drained++
	}
	assert.Equal(t, subscriberBuffer, drained)
}

func TestTerminalEventClosesSubscriptionsAfterGrace(t *testing.T) {
	b := New(200, 10*time.Millisecond)
	sub := b.Subscribe("job-1")

	b.Publish(model.ProgressEvent{
		JobID:  "job-1",
		Type:   model.EventTypeCompleted,
		Status: model.JobStatusCompleted,
	})

	evt, ok := <-sub.C
	require.True(t, ok)
	assert.Equal(t, model.EventTypeCompleted, evt.Type)

	select {
	case _, open := <-sub.C:
		assert.False(t, open, "channel should close after grace period")
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after grace period")
	}

	// Pull paths survive cleanup.
	assert.Len(t, b.Events("job-1", 0), 1)

	// A subscriber attaching after cleanup gets a closed channel.
	b.SetSnapshot(model.JobView{JobID: "job-1", Status: model.JobStatusCompleted})
	late := b.Subscribe("job-1")
	first, ok := <-late.C
	require.True(t, ok)
	assert.Equal(t, model.EventTypeSnapshot, first.Type)
	_, open := <-late.C
	assert.False(t, open)
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe("job-1")
	sub.Close()
	sub.Close()

	// Publishing after close must not panic or deliver.
	b.Publish(statusEvent("job-1", model.JobStatusPlanning))
	_, open := <-sub.C
	assert.False(t, open)
}
