package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/store"
)

func seedRelevantDocument(t *testing.T, ds *store.Datastore, url, title, body string) {
	t.Helper()
	ctx := context.Background()
	serverID, err := ds.UpsertServer(ctx, "example.com")
	require.NoError(t, err)
	jobID, err := ds.InsertJob(ctx, &store.Job{URL: url, ServerID: serverID})
	require.NoError(t, err)

	doc := tubcrawl.ExtractDocument("<html><title>" + title + "</title><body>" + body + "</body></html>")
	doc.JobID = jobID
	doc.Relevant = true
	_, err = ds.InsertDocument(ctx, &store.Document{
		JobID: jobID, HTML: doc.HTML, Relevant: true, Fields: doc.Fields, Tokens: doc.Tokens,
	})
	require.NoError(t, err)
}

func TestBuildIndexesTokensPerField(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	defer ds.Close()

	seedRelevantDocument(t, ds, "http://example.com/a", "tubingen university", "study tubingen history today")

	idx, err := Build(context.Background(), ds)
	require.NoError(t, err)

	assert.NotEmpty(t, idx.Lookup("title", "tubingen_WORD"))
	assert.NotEmpty(t, idx.Lookup("body", "tubingen_WORD"))
	assert.Empty(t, idx.Lookup("title", "nonexistent_WORD"))
}

func TestMarshalLoadRoundTrip(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	defer ds.Close()
	seedRelevantDocument(t, ds, "http://example.com/a", "tubingen", "tubingen campus life")

	idx, err := Build(context.Background(), ds)
	require.NoError(t, err)

	data, err := idx.Marshal()
	require.NoError(t, err)

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, idx.Fields, loaded.Fields)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	idx := &Index{Version: CurrentVersion + 1, Fields: map[string]map[string][]int64{}}
	data, err := idx.Marshal()
	require.NoError(t, err)

	_, err = Load(data)
	assert.Error(t, err)
}
