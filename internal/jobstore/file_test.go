package jobstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func proto(productionID, entityID string) JobRecord {
	return JobRecord{
		ProductionID: productionID,
		EntityID:     entityID,
		Type:         "image",
		Prompt:       "a portrait",
	}
}

func TestGetOrCreateJobIdempotent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec, created, err := store.GetOrCreateJob(ctx, proto("prod1", "char_c1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusPending, rec.Status)
	assert.NotEmpty(t, rec.JobID)
	assert.False(t, rec.CreatedAt.IsZero())

	again, created, err := store.GetOrCreateJob(ctx, proto("prod1", "char_c1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.JobID, again.JobID)

	// Same entity in another production is a distinct job.
	other, created, err := store.GetOrCreateJob(ctx, proto("prod2", "char_c1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, rec.JobID, other.JobID)
}

func TestUpdateJobLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec, _, err := store.GetOrCreateJob(ctx, proto("prod1", "char_c1"))
	require.NoError(t, err)

	running := StatusRunning
	started := time.Now().UTC()
	updated, err := store.UpdateJob(ctx, rec.JobID, Patch{Status: &running, StartedAt: &started})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, updated.Status)
	require.NotNil(t, updated.StartedAt)

	completed := StatusCompleted
	url := "https://cdn.test/portrait.png"
	done := time.Now().UTC()
	updated, err = store.UpdateJob(ctx, rec.JobID, Patch{Status: &completed, ResultURL: &url, CompletedAt: &done})
	require.NoError(t, err)
	assert.Equal(t, url, updated.ResultURL)

	// Completed is terminal: a later downgrade is dropped.
	failed := StatusFailed
	reverted, err := store.UpdateJob(ctx, rec.JobID, Patch{Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, reverted.Status)
	assert.Equal(t, url, reverted.ResultURL)
}

func TestUpdateJobFailedToRunning(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec, _, err := store.GetOrCreateJob(ctx, proto("prod1", "char_c1"))
	require.NoError(t, err)

	failed := StatusFailed
	_, err = store.UpdateJob(ctx, rec.JobID, Patch{Status: &failed})
	require.NoError(t, err)

	// A resume re-dispatch moves failed back to running.
	running := StatusRunning
	updated, err := store.UpdateJob(ctx, rec.JobID, Patch{Status: &running})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, updated.Status)
}

func TestUpdateJobNotFound(t *testing.T) {
	store := newStore(t)
	running := StatusRunning
	_, err := store.UpdateJob(context.Background(), "job_missing", Patch{Status: &running})
	require.ErrorContains(t, err, "not found")
}

func TestParentAggregation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	parent, err := store.CreateParentJob(ctx, "prod1", "Neon Harbor", map[string]any{"nodes": 3})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, parent.Status)

	var childIDs []string
	for i := range 3 {
		rec, _, err := store.GetOrCreateJob(ctx, proto("prod1", fmt.Sprintf("node_%d", i)))
		require.NoError(t, err)
		childIDs = append(childIDs, rec.JobID)
	}
	require.NoError(t, store.SetParentChildren(ctx, parent.JobID, childIDs))

	stats, err := store.RecomputeParentStats(ctx, parent.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stats.Status)
	assert.Equal(t, Counts{Total: 3, Pending: 3}, stats.Counts)
	assert.Nil(t, stats.StartedAt)

	running := StatusRunning
	_, err = store.UpdateJob(ctx, childIDs[0], Patch{Status: &running})
	require.NoError(t, err)
	stats, err = store.RecomputeParentStats(ctx, parent.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, stats.Status)
	assert.NotNil(t, stats.StartedAt)

	completed := StatusCompleted
	failed := StatusFailed
	_, err = store.UpdateJob(ctx, childIDs[0], Patch{Status: &completed})
	require.NoError(t, err)
	_, err = store.UpdateJob(ctx, childIDs[1], Patch{Status: &failed})
	require.NoError(t, err)
	_, err = store.UpdateJob(ctx, childIDs[2], Patch{Status: &completed})
	require.NoError(t, err)

	stats, err = store.RecomputeParentStats(ctx, parent.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stats.Status)
	assert.Equal(t, 2, stats.Counts.Completed)
	assert.Equal(t, 1, stats.Counts.Failed)
	assert.NotNil(t, stats.CompletedAt)
}

func TestRecomputeParentStatsConcurrent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	const children = 8
	parent, err := store.CreateParentJob(ctx, "prod1", "Neon Harbor", nil)
	require.NoError(t, err)

	var childIDs []string
	for i := range children {
		rec, _, err := store.GetOrCreateJob(ctx, proto("prod1", fmt.Sprintf("node_%d", i)))
		require.NoError(t, err)
		childIDs = append(childIDs, rec.JobID)
	}
	require.NoError(t, store.SetParentChildren(ctx, parent.JobID, childIDs))

	// Every worker completes its child and recomputes; interleaved recomputes
	// must never corrupt the counters.
	var wg sync.WaitGroup
	for _, childID := range childIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			running := StatusRunning
			_, err := store.UpdateJob(ctx, childID, Patch{Status: &running})
			assert.NoError(t, err)
			_, err = store.RecomputeParentStats(ctx, parent.JobID)
			assert.NoError(t, err)

			completed := StatusCompleted
			_, err = store.UpdateJob(ctx, childID, Patch{Status: &completed})
			assert.NoError(t, err)
			_, err = store.RecomputeParentStats(ctx, parent.JobID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// The last recompute after all updates settles on the true terminal state.
	stats, err := store.RecomputeParentStats(ctx, parent.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stats.Status)
	assert.Equal(t, Counts{Total: children, Completed: children}, stats.Counts)
	assert.NotNil(t, stats.StartedAt)
	assert.NotNil(t, stats.CompletedAt)
}

func TestCountsDerive(t *testing.T) {
	tests := []struct {
		name   string
		counts Counts
		want   Status
	}{
		{"empty", Counts{}, StatusPending},
		{"all completed", Counts{Total: 3, Completed: 3}, StatusCompleted},
		{"terminal with failure", Counts{Total: 3, Completed: 2, Failed: 1}, StatusFailed},
		{"failed but still running", Counts{Total: 3, Completed: 1, Failed: 1, Running: 1}, StatusRunning},
		{"running", Counts{Total: 2, Running: 1, Pending: 1}, StatusRunning},
		{"pending only", Counts{Total: 2, Pending: 2}, StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.counts.Derive())
		})
	}
}

func TestSetParentSummary(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	parent, err := store.CreateParentJob(ctx, "prod1", "Neon Harbor", nil)
	require.NoError(t, err)
	require.NoError(t, store.SetParentSummary(ctx, parent.JobID, "https://cdn.test/run.json"))

	loaded, err := store.GetParentJob(ctx, parent.JobID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/run.json", loaded.SummaryURL)
}

func TestListJobsFilterAndOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a, _, err := store.GetOrCreateJob(ctx, proto("prod1", "node_a"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	b, _, err := store.GetOrCreateJob(ctx, proto("prod1", "node_b"))
	require.NoError(t, err)
	_, _, err = store.GetOrCreateJob(ctx, proto("prod2", "node_c"))
	require.NoError(t, err)

	jobs, err := store.ListJobs(ctx, Filter{ProductionID: "prod1"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, b.JobID, jobs[0].JobID, "newest first")
	assert.Equal(t, a.JobID, jobs[1].JobID)

	failed := StatusFailed
	_, err = store.UpdateJob(ctx, a.JobID, Patch{Status: &failed})
	require.NoError(t, err)
	failedJobs, err := store.ListJobs(ctx, Filter{ProductionID: "prod1", Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, failedJobs, 1)
	assert.Equal(t, a.JobID, failedJobs[0].JobID)
}

func TestDeleteProductionJobs(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	parent, err := store.CreateParentJob(ctx, "prod1", "Neon Harbor", nil)
	require.NoError(t, err)
	rec, _, err := store.GetOrCreateJob(ctx, proto("prod1", "node_a"))
	require.NoError(t, err)
	keep, _, err := store.GetOrCreateJob(ctx, proto("prod2", "node_b"))
	require.NoError(t, err)

	deleted, err := store.DeleteProductionJobs(ctx, "prod1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted) // one job, one parent

	gone, err := store.GetJob(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	parentGone, err := store.GetParentJob(ctx, parent.JobID)
	require.NoError(t, err)
	assert.Nil(t, parentGone)

	still, err := store.GetJob(ctx, keep.JobID)
	require.NoError(t, err)
	assert.NotNil(t, still)
}
