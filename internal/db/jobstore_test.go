package db

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"showrunner/internal/jobstore"
)

var (
	testClient    *Client
	testStore     *SurrealStore
	testContainer testcontainers.Container
)

// TestMain starts one SurrealDB container for the whole package. Short mode
// skips the container; the tests then skip themselves.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	// Ryuk misbehaves in restricted environments.
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("container port: %v", err)
	}

	testClient, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("connect to test database: %v", err)
	}
	if err := testClient.InitSchema(ctx); err != nil {
		log.Fatalf("init schema: %v", err)
	}
	testStore = NewSurrealStore(testClient)

	code := m.Run()

	_ = testClient.Close(ctx)
	_ = testContainer.Terminate(ctx)
	os.Exit(code)
}

func requireStore(t *testing.T) *SurrealStore {
	t.Helper()
	if testStore == nil {
		t.Skip("requires database container")
	}
	return testStore
}

func protoJob(productionID, entityID string) jobstore.JobRecord {
	return jobstore.JobRecord{
		ProductionID: productionID,
		EntityID:     entityID,
		Type:         "image",
		Prompt:       "a portrait",
	}
}

func TestGetOrCreateJobIdempotent(t *testing.T) {
	store := requireStore(t)
	ctx := context.Background()

	rec, created, err := store.GetOrCreateJob(ctx, protoJob("prod_idem", "char_c1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, jobstore.StatusPending, rec.Status)
	assert.NotEmpty(t, rec.JobID)

	again, created, err := store.GetOrCreateJob(ctx, protoJob("prod_idem", "char_c1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.JobID, again.JobID)
}

func TestUpdateJobCompletedIsImmutable(t *testing.T) {
	store := requireStore(t)
	ctx := context.Background()

	rec, _, err := store.GetOrCreateJob(ctx, protoJob("prod_immutable", "char_c1"))
	require.NoError(t, err)

	completed := jobstore.StatusCompleted
	url := "https://cdn.test/portrait.png"
	now := time.Now().UTC()
	updated, err := store.UpdateJob(ctx, rec.JobID, jobstore.Patch{
		Status: &completed, ResultURL: &url, CompletedAt: &now,
	})
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, updated.Status)

	failed := jobstore.StatusFailed
	reverted, err := store.UpdateJob(ctx, rec.JobID, jobstore.Patch{Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, reverted.Status)
	assert.Equal(t, url, reverted.ResultURL)
}

func TestUpdateJobFailedToRunningOnResume(t *testing.T) {
	store := requireStore(t)
	ctx := context.Background()

	rec, _, err := store.GetOrCreateJob(ctx, protoJob("prod_resume", "char_c1"))
	require.NoError(t, err)

	failed := jobstore.StatusFailed
	_, err = store.UpdateJob(ctx, rec.JobID, jobstore.Patch{Status: &failed})
	require.NoError(t, err)

	running := jobstore.StatusRunning
	updated, err := store.UpdateJob(ctx, rec.JobID, jobstore.Patch{Status: &running})
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusRunning, updated.Status)
}

func TestParentAggregation(t *testing.T) {
	store := requireStore(t)
	ctx := context.Background()

	parent, err := store.CreateParentJob(ctx, "prod_agg", "Aggregation", map[string]any{"nodes": 3})
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusPending, parent.Status)

	var childIDs []string
	for i := range 3 {
		rec, _, err := store.GetOrCreateJob(ctx, protoJob("prod_agg", fmt.Sprintf("node_%d", i)))
		require.NoError(t, err)
		childIDs = append(childIDs, rec.JobID)
	}
	require.NoError(t, store.SetParentChildren(ctx, parent.JobID, childIDs))

	stats, err := store.RecomputeParentStats(ctx, parent.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusPending, stats.Status)
	assert.Equal(t, 3, stats.Counts.Pending)

	completed := jobstore.StatusCompleted
	_, err = store.UpdateJob(ctx, childIDs[0], jobstore.Patch{Status: &completed})
	require.NoError(t, err)
	running := jobstore.StatusRunning
	_, err = store.UpdateJob(ctx, childIDs[1], jobstore.Patch{Status: &running})
	require.NoError(t, err)

	stats, err = store.RecomputeParentStats(ctx, parent.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusRunning, stats.Status)
	assert.Equal(t, 1, stats.Counts.Completed)
	assert.Equal(t, 1, stats.Counts.Running)
	assert.Equal(t, 1, stats.Counts.Pending)
	assert.NotNil(t, stats.StartedAt)
	assert.Nil(t, stats.CompletedAt)

	failed := jobstore.StatusFailed
	_, err = store.UpdateJob(ctx, childIDs[1], jobstore.Patch{Status: &failed})
	require.NoError(t, err)
	_, err = store.UpdateJob(ctx, childIDs[2], jobstore.Patch{Status: &completed})
	require.NoError(t, err)

	stats, err = store.RecomputeParentStats(ctx, parent.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusFailed, stats.Status)
	assert.NotNil(t, stats.CompletedAt)
}

func TestRecomputeParentStatsConcurrent(t *testing.T) {
	store := requireStore(t)
	ctx := context.Background()

	parent, err := store.CreateParentJob(ctx, "prod_conc", "Concurrent", nil)
	require.NoError(t, err)

	var childIDs []string
	for i := range 4 {
		rec, _, err := store.GetOrCreateJob(ctx, protoJob("prod_conc", fmt.Sprintf("node_%d", i)))
		require.NoError(t, err)
		childIDs = append(childIDs, rec.JobID)
	}
	require.NoError(t, store.SetParentChildren(ctx, parent.JobID, childIDs))

	completed := jobstore.StatusCompleted
	var wg sync.WaitGroup
	for _, id := range childIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.UpdateJob(ctx, id, jobstore.Patch{Status: &completed}); err != nil {
				t.Error(err)
			}
			// Concurrent recomputes may conflict; the final call below is
			// what the assertion depends on.
			_, _ = store.RecomputeParentStats(ctx, parent.JobID)
		}()
	}
	wg.Wait()

	stats, err := store.RecomputeParentStats(ctx, parent.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, stats.Status)
	assert.Equal(t, 4, stats.Counts.Completed)
}

func TestSetParentSummary(t *testing.T) {
	store := requireStore(t)
	ctx := context.Background()

	parent, err := store.CreateParentJob(ctx, "prod_summary", "Summary", nil)
	require.NoError(t, err)
	require.NoError(t, store.SetParentSummary(ctx, parent.JobID, "https://cdn.test/run.json"))

	loaded, err := store.GetParentJob(ctx, parent.JobID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/run.json", loaded.SummaryURL)
}

func TestListJobsFilters(t *testing.T) {
	store := requireStore(t)
	ctx := context.Background()

	a, _, err := store.GetOrCreateJob(ctx, protoJob("prod_list", "node_a"))
	require.NoError(t, err)
	_, _, err = store.GetOrCreateJob(ctx, protoJob("prod_list", "node_b"))
	require.NoError(t, err)

	failed := jobstore.StatusFailed
	_, err = store.UpdateJob(ctx, a.JobID, jobstore.Patch{Status: &failed})
	require.NoError(t, err)

	all, err := store.ListJobs(ctx, jobstore.Filter{ProductionID: "prod_list"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failedOnly, err := store.ListJobs(ctx, jobstore.Filter{ProductionID: "prod_list", Status: jobstore.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failedOnly, 1)
	assert.Equal(t, "node_a", failedOnly[0].EntityID)
}

func TestDeleteProductionJobs(t *testing.T) {
	store := requireStore(t)
	ctx := context.Background()

	parent, err := store.CreateParentJob(ctx, "prod_del", "Delete", nil)
	require.NoError(t, err)
	rec, _, err := store.GetOrCreateJob(ctx, protoJob("prod_del", "node_a"))
	require.NoError(t, err)
	require.NoError(t, store.SetParentChildren(ctx, parent.JobID, []string{rec.JobID}))

	deleted, err := store.DeleteProductionJobs(ctx, "prod_del")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted) // one job, one parent

	gone, err := store.GetJob(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	parentGone, err := store.GetParentJob(ctx, parent.JobID)
	require.NoError(t, err)
	assert.Nil(t, parentGone)
}
