package cachestore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleJob() *Job {
	return &Job{
		JobID:              "01890c2e-test-job",
		ExtensionIDs:       []string{"ext-one", "ext-two"},
		Stores:             []string{"chrome", "firefox"},
		IncludePermissions: true,
		TotalTasks:         4,
	}
}

func TestJobLifecycle(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	job := sampleJob()
	require.NoError(t, store.CreateJob(ctx, job))
	assert.Equal(t, JobStatusPending, job.Status)
	assert.False(t, job.CreatedAt.IsZero())

	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, JobStatusPending, got.Status)
	assert.Equal(t, []string{"ext-one", "ext-two"}, got.ExtensionIDs)
	assert.Equal(t, []string{"chrome", "firefox"}, got.Stores)
	assert.True(t, got.IncludePermissions)
	assert.Equal(t, 4, got.TotalTasks)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	running := JobStatusRunning
	started := time.Now().UTC()
	require.NoError(t, store.UpdateJob(ctx, job.JobID, JobUpdate{
		Status:    &running,
		StartedAt: &started,
	}))

	completed := 2
	failed := 1
	require.NoError(t, store.UpdateJob(ctx, job.JobID, JobUpdate{
		CompletedTasks: &completed,
		FailedTasks:    &failed,
	}))

	terminal := JobStatusCompleted
	finished := time.Now().UTC()
	results := json.RawMessage(`{"ext-one":{"chrome":{"found":true}}}`)
	require.NoError(t, store.UpdateJob(ctx, job.JobID, JobUpdate{
		Status:      &terminal,
		Results:     results,
		CompletedAt: &finished,
	}))

	got, err = store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.CompletedTasks)
	assert.Equal(t, 1, got.FailedTasks)
	assert.JSONEq(t, string(results), string(got.Results))
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, started, *got.StartedAt, time.Second)
}

func TestGetJobMissing(t *testing.T) {
	store := openTestStore(t, nil)

	got, err := store.GetJob(context.Background(), "no-such-job")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateJobMissing(t *testing.T) {
	store := openTestStore(t, nil)

	running := JobStatusRunning
	err := store.UpdateJob(context.Background(), "no-such-job", JobUpdate{Status: &running})
	require.Error(t, err)
}

func TestUpdateJobEmptyUpdateIsNoop(t *testing.T) {
	store := openTestStore(t, nil)
	require.NoError(t, store.UpdateJob(context.Background(), "no-such-job", JobUpdate{}))
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
}

func TestJobProgress(t *testing.T) {
	job := &Job{TotalTasks: 4, CompletedTasks: 1}
	assert.InDelta(t, 25.0, job.Progress(), 0.001)

	empty := &Job{}
	assert.Zero(t, empty.Progress())
}

func TestCreateJobValidation(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	require.Error(t, store.CreateJob(ctx, nil))
	require.Error(t, store.CreateJob(ctx, &Job{}))
}
