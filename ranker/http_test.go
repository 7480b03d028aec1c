package ranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/index"
	"github.com/aksel-berge/tubcrawl/store"
	"github.com/aksel-berge/tubcrawl/vectorspace"
)

func newTestRanker(t *testing.T) *Ranker {
	t.Helper()
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	ctx := context.Background()

	seedDoc(t, ds, "http://example.com/a", "tubingen castle", "tubingen castle history")

	idx, err := index.Build(ctx, ds)
	require.NoError(t, err)
	space, rows, err := vectorspace.Build(ctx, ds)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, ds.UpsertTFIDF(ctx, row))
	}
	r, err := Load(ctx, ds, idx, space)
	require.NoError(t, err)
	return r
}

func TestHandlerRejectsEmptyQuery(t *testing.T) {
	r := newTestRanker(t)
	srv := httptest.NewServer(Handler(r))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/search")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body searchErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Invalid query", body.Error)
}

func TestHandlerReturnsResults(t *testing.T) {
	r := newTestRanker(t)
	srv := httptest.NewServer(Handler(r))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/search?q=tubingen+castle")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body searchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Results)
}
