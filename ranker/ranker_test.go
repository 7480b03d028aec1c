package ranker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/index"
	"github.com/aksel-berge/tubcrawl/store"
	"github.com/aksel-berge/tubcrawl/vectorspace"
)

func seedDoc(t *testing.T, ds *store.Datastore, url, title, body string) int64 {
	t.Helper()
	ctx := context.Background()
	serverID, err := ds.UpsertServer(ctx, "example.com")
	require.NoError(t, err)
	jobID, err := ds.InsertJob(ctx, &store.Job{URL: url, ServerID: serverID})
	require.NoError(t, err)

	doc := tubcrawl.ExtractDocument("<html><title>" + title + "</title><body>" + body + "</body></html>")
	docID, err := ds.InsertDocument(ctx, &store.Document{
		JobID: jobID, HTML: doc.HTML, Relevant: true, Fields: doc.Fields, Tokens: doc.Tokens,
	})
	require.NoError(t, err)
	return docID
}

func TestSearchRanksMoreRelevantDocumentHigher(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	defer ds.Close()
	ctx := context.Background()

	seedDoc(t, ds, "http://example.com/strong", "tubingen castle guide", "tubingen castle history tour tubingen")
	seedDoc(t, ds, "http://example.com/weak", "travel blog", "a short mention of tubingen once")

	idx, err := index.Build(ctx, ds)
	require.NoError(t, err)
	space, rows, err := vectorspace.Build(ctx, ds)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, ds.UpsertTFIDF(ctx, row))
	}

	r, err := Load(ctx, ds, idx, space)
	require.NoError(t, err)

	results, err := Search(r, "tubingen castle", 0, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.True(t, results[0].Score >= results[len(results)-1].Score)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	defer ds.Close()
	ctx := context.Background()

	idx, err := index.Build(ctx, ds)
	require.NoError(t, err)
	space, _, err := vectorspace.Build(ctx, ds)
	require.NoError(t, err)
	r, err := Load(ctx, ds, idx, space)
	require.NoError(t, err)

	_, err = Search(r, "   ", 0, 10)
	assert.Error(t, err)
}

func TestSearchPaginates(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	defer ds.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedDoc(t, ds, fmt.Sprintf("http://example.com/%d", i), "tubingen", "tubingen campus life")
	}

	idx, err := index.Build(ctx, ds)
	require.NoError(t, err)
	space, rows, err := vectorspace.Build(ctx, ds)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, ds.UpsertTFIDF(ctx, row))
	}
	r, err := Load(ctx, ds, idx, space)
	require.NoError(t, err)

	page1, err := Search(r, "tubingen", 0, 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page2, err := Search(r, "tubingen", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.NotEqual(t, page1[0].DocumentID, page2[0].DocumentID)
}
