package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/api/internal/model"
)

func testRequest() model.GenerationRequest {
	return model.GenerationRequest{
		Prompt:      "a product launch teaser",
		DurationSec: 30,
		AspectRatio: model.AspectRatioLandscape,
	}
}

func TestCreateAndLoad(t *testing.T) {
	reg := New(NewMemoryRepository())
	ctx := context.Background()

	job, err := reg.Create(ctx, testRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	loaded, err := reg.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, loaded.ID)
	assert.Equal(t, "a product launch teaser", loaded.Request.Prompt)
}

func TestLoadNotFound(t *testing.T) {
	reg := New(NewMemoryRepository())
	_, err := reg.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimForStartSingleWinner(t *testing.T) {
	reg := New(NewMemoryRepository())
	ctx := context.Background()

	job, err := reg.Create(ctx, testRequest())
	require.NoError(t, err)

	claimed, ok, err := reg.ClaimForStart(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusPlanning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	// Second claim loses.
	_, ok, err = reg.ClaimForStart(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimForStartNotFound(t *testing.T) {
	reg := New(NewMemoryRepository())
	_, _, err := reg.ClaimForStart(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestCancelSetsFlagAndSignals(t *testing.T) {
	reg := New(NewMemoryRepository())
	ctx := context.Background()

	job, err := reg.Create(ctx, testRequest())
	require.NoError(t, err)

	signal := reg.CancelSignal(job.ID)
	select {
	case <-signal:
		t.Fatal("cancel signal fired before request")
	default:
	}

	view, err := reg.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, view.CancelRequested)

	select {
	case <-signal:
	default:
		t.Fatal("cancel signal not fired")
	}

	// Idempotent while the job is still live.
	view, err = reg.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, view.CancelRequested)
}

func TestRequestCancelTerminal(t *testing.T) {
	reg := New(NewMemoryRepository())
	ctx := context.Background()

	job, err := reg.Create(ctx, testRequest())
	require.NoError(t, err)

	job.Status = model.JobStatusCompleted
	require.NoError(t, reg.Save(ctx, job))

	_, err = reg.RequestCancel(ctx, job.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	_, err = reg.RequestCancel(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestCancelLeavesOtherFieldsAlone(t *testing.T) {
	reg := New(NewMemoryRepository())
	ctx := context.Background()

	job, err := reg.Create(ctx, testRequest())
	require.NoError(t, err)

	// The orchestrator has claimed the job and recorded progress.
	claimed, ok, err := reg.ClaimForStart(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	claimed.Status = model.JobStatusGeneratingClips
	claimed.Scenes = []model.Scene{{Index: 0, VisualPrompt: "opening shot"}}
	claimed.Clips[0] = model.Clip{SceneIndex: 0, URL: "https://clips/0.mp4"}
	require.NoError(t, reg.Save(ctx, claimed))

	// A cancel arriving now must set only the flag; the progress the
	// orchestrator already persisted stays intact.
	view, err := reg.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, view.CancelRequested)

	stored, err := reg.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, stored.CancelRequested)
	assert.Equal(t, model.JobStatusGeneratingClips, stored.Status)
	assert.Len(t, stored.Scenes, 1)
	assert.Equal(t, "https://clips/0.mp4", stored.Clips[0].URL)
}

func TestRepositoryStoresCopies(t *testing.T) {
	repo := NewMemoryRepository()
	reg := New(repo)
	ctx := context.Background()

	job, err := reg.Create(ctx, testRequest())
	require.NoError(t, err)

	// Mutating the caller's record must not reach the store until Save.
	job.Clips[0] = model.Clip{SceneIndex: 0, URL: "local-only"}
	stored, err := reg.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Clips)
}
