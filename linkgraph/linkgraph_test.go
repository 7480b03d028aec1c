package linkgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/mlrelevance"
	"github.com/aksel-berge/tubcrawl/store"
)

func newTestDatastore(t *testing.T) *store.Datastore {
	t.Helper()
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func TestBuildSkipsSelfLoops(t *testing.T) {
	ds := newTestDatastore(t)
	ctx := context.Background()

	serverID, err := ds.UpsertServer(ctx, "a.example")
	require.NoError(t, err)
	parentJobID, err := ds.InsertJob(ctx, &store.Job{URL: "http://a.example/parent", ServerID: serverID})
	require.NoError(t, err)
	docID, err := ds.InsertDocument(ctx, &store.Document{
		JobID: parentJobID, Relevant: true,
		Fields: map[string]string{}, Tokens: map[string][]string{},
	})
	require.NoError(t, err)

	pid := docID
	_, err = ds.InsertJob(ctx, &store.Job{URL: "http://a.example/child", ServerID: serverID, ParentID: &pid})
	require.NoError(t, err)

	lg, err := Build(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, 0, lg.g.Edges().Len())
}

func TestBuildAddsCrossHostEdgeAndPageRankAssignsMass(t *testing.T) {
	ds := newTestDatastore(t)
	ctx := context.Background()

	fromID, err := ds.UpsertServer(ctx, "from.example")
	require.NoError(t, err)
	toID, err := ds.UpsertServer(ctx, "to.example")
	require.NoError(t, err)

	parentJobID, err := ds.InsertJob(ctx, &store.Job{URL: "http://from.example/page", ServerID: fromID})
	require.NoError(t, err)
	docID, err := ds.InsertDocument(ctx, &store.Document{
		JobID: parentJobID, Relevant: true,
		Fields: map[string]string{}, Tokens: map[string][]string{},
	})
	require.NoError(t, err)

	pid := docID
	_, err = ds.InsertJob(ctx, &store.Job{URL: "http://to.example/page", ServerID: toID, ParentID: &pid})
	require.NoError(t, err)

	lg, err := Build(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, 1, lg.g.Edges().Len())

	ranks := lg.PageRank()
	assert.Contains(t, ranks, "from.example")
	assert.Contains(t, ranks, "to.example")
}

func TestRecomputePrioritiesOnlyUpdatesUndoneJobs(t *testing.T) {
	ds := newTestDatastore(t)
	ctx := context.Background()

	serverID, err := ds.UpsertServer(ctx, "a.example")
	require.NoError(t, err)
	jobID, err := ds.InsertJob(ctx, &store.Job{URL: "http://a.example/tubingen", ServerID: serverID, Priority: 0})
	require.NoError(t, err)

	err = RecomputePrioritiesOnly(ctx, ds, DefaultRecomputer{Classifier: mlrelevance.AlwaysRelevant{}})
	require.NoError(t, err)

	job, err := ds.JobByID(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, job.Priority > 0)
}
