package worker

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/master"
	"github.com/aksel-berge/tubcrawl/mlrelevance"
	"github.com/aksel-berge/tubcrawl/store"
)

// TestShutdownUnreservesInFlightBatch exercises spec §4.5 step 4 end to end:
// a worker that reserved a batch it never got to process must release it
// back to the frontier on Shutdown, not leave it being_crawled forever.
func TestShutdownUnreservesInFlightBatch(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	defer ds.Close()

	ctx := context.Background()
	serverID, err := ds.UpsertServer(ctx, "example.com")
	require.NoError(t, err)
	jobID, err := ds.InsertJob(ctx, &store.Job{URL: "http://example.com/a", ServerID: serverID, Priority: 5})
	require.NoError(t, err)

	m := master.New(ds, "", mlrelevance.AlwaysRelevant{})
	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	w := New(srv.URL, "", mlrelevance.AlwaysRelevant{})

	jobs, err := w.reserve(ctx, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].ID)

	w.trackReserved(jobs)

	require.NoError(t, w.Shutdown(ctx))

	job, err := ds.JobByID(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, job.BeingCrawled)
	assert.False(t, job.Done)

	jobs2, err := w.reserve(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, jobs2, 1, "job should be reservable again after Shutdown's unreserve")
}

func TestShutdownIsNoopWithNoPendingBatch(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	w := New("http://unused.invalid", "", mlrelevance.AlwaysRelevant{})
	require.NoError(t, w.Shutdown(context.Background()))
}
