package frontier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/store"
)

func newTestFrontier(t *testing.T) (*Frontier, *store.Datastore) {
	t.Helper()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return New(ds), ds
}

func seedJob(t *testing.T, ds *store.Datastore, url string, priority float64) *store.Job {
	t.Helper()
	ctx := context.Background()
	serverID, err := ds.UpsertServer(ctx, "example.com")
	require.NoError(t, err)
	id, err := ds.InsertJob(ctx, &store.Job{URL: url, ServerID: serverID, Priority: priority})
	require.NoError(t, err)
	job, err := ds.JobByURL(ctx, url)
	require.NoError(t, err)
	_ = id
	return job
}

func TestReserveTopKOrdersByPriority(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	tubcrawl.Config.Frontier.Policy = "top_k"
	f, ds := newTestFrontier(t)
	ctx := context.Background()

	seedJob(t, ds, "http://example.com/low", 1)
	seedJob(t, ds, "http://example.com/high", 9)

	jobs, err := f.Reserve(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "http://example.com/high", jobs[0].URL)
	assert.True(t, jobs[0].BeingCrawled)
}

func TestReserveDoesNotReturnAlreadyReservedJob(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	f, ds := newTestFrontier(t)
	ctx := context.Background()
	seedJob(t, ds, "http://example.com/a", 5)

	first, err := f.Reserve(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.Reserve(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestUnreserveMakesJobAvailableAgain(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	f, ds := newTestFrontier(t)
	ctx := context.Background()
	seedJob(t, ds, "http://example.com/a", 5)

	reserved, err := f.Reserve(ctx, 10)
	require.NoError(t, err)
	require.Len(t, reserved, 1)

	require.NoError(t, f.Unreserve(ctx, []int64{reserved[0].ID}))

	again, err := f.Reserve(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.False(t, again[0].Done)
}

func TestMarkSuccessCompletesJobAndUpdatesServerStats(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	f, ds := newTestFrontier(t)
	ctx := context.Background()
	job := seedJob(t, ds, "http://example.com/a", 5)

	require.NoError(t, f.MarkSuccess(ctx, job, true))

	done, err := ds.JobByURL(ctx, job.URL)
	require.NoError(t, err)
	assert.True(t, done.Done)
	require.NotNil(t, done.Success)
	assert.True(t, *done.Success)

	server, err := ds.GetServer(ctx, job.ServerID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, server.TotalDoneJobs)
	assert.EqualValues(t, 1, server.SuccessJobs)
	assert.EqualValues(t, 1, server.RelevantDocuments)
}

func TestMarkFailedCompletesJobUnsuccessfully(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	f, ds := newTestFrontier(t)
	ctx := context.Background()
	job := seedJob(t, ds, "http://example.com/a", 5)

	require.NoError(t, f.MarkFailed(ctx, job))

	done, err := ds.JobByURL(ctx, job.URL)
	require.NoError(t, err)
	assert.True(t, done.Done)
	require.NotNil(t, done.Success)
	assert.False(t, *done.Success)
}

func TestReserveHostFairReturnsOneJobPerHost(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	tubcrawl.Config.Frontier.Policy = "host_fair"
	f, ds := newTestFrontier(t)
	ctx := context.Background()

	aID, err := ds.UpsertServer(ctx, "a.example")
	require.NoError(t, err)
	bID, err := ds.UpsertServer(ctx, "b.example")
	require.NoError(t, err)
	_, err = ds.InsertJob(ctx, &store.Job{URL: "http://a.example/1", ServerID: aID, Priority: 1})
	require.NoError(t, err)
	_, err = ds.InsertJob(ctx, &store.Job{URL: "http://a.example/2", ServerID: aID, Priority: 9})
	require.NoError(t, err)
	_, err = ds.InsertJob(ctx, &store.Job{URL: "http://b.example/1", ServerID: bID, Priority: 2})
	require.NoError(t, err)

	jobs, err := f.Reserve(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	seenHosts := map[int64]bool{}
	for _, j := range jobs {
		assert.False(t, seenHosts[j.ServerID], "host-fair reserve returned two jobs for the same host")
		seenHosts[j.ServerID] = true
	}
}
