package bootstrap

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/mlrelevance"
	"github.com/aksel-berge/tubcrawl/store"
)

func writeJSON(t *testing.T, v interface{}) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestIngestSeedsInsertsAndIsIdempotent(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	defer ds.Close()
	ctx := context.Background()

	path := writeJSON(t, []Seed{{URL: "http://example.com/seed"}})
	seeds, err := LoadSeeds(path)
	require.NoError(t, err)

	n, err := IngestSeeds(ctx, ds, seeds)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := ds.JobByURL(ctx, "http://example.com/seed")
	require.NoError(t, err)
	assert.Equal(t, float64(maxSeedPriority), job.Priority)

	// Re-running the same seed file must not error or duplicate the row.
	n2, err := IngestSeeds(ctx, ds, seeds)
	require.NoError(t, err)
	assert.Equal(t, 1, n2)
}

func TestIngestSERPScoresByPriority(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	defer ds.Close()
	ctx := context.Background()

	path := writeJSON(t, []SERPEntry{
		{URL: "http://example.com/tubingen-guide", TitleText: "tubingen guide"},
	})
	entries, err := LoadSERPEntries(path)
	require.NoError(t, err)

	n, err := IngestSERP(ctx, ds, entries, mlrelevance.AlwaysRelevant{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := ds.JobByURL(ctx, "http://example.com/tubingen-guide")
	require.NoError(t, err)
	assert.True(t, job.Priority < maxSeedPriority)
}

func TestIngestSeedsSkipsInvalidURL(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	defer ds.Close()
	ctx := context.Background()

	n, err := IngestSeeds(ctx, ds, []Seed{{URL: "not-a-url"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
