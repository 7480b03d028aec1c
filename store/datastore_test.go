package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatastore(t *testing.T) *Datastore {
	t.Helper()
	ds, err := NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func TestReserveTopKExcludesBlacklistedHosts(t *testing.T) {
	ds := newTestDatastore(t)
	ctx := context.Background()

	goodID, err := ds.UpsertServer(ctx, "good.example")
	require.NoError(t, err)
	badID, err := ds.UpsertServer(ctx, "bad.example")
	require.NoError(t, err)
	require.NoError(t, ds.SetServerBlacklisted(ctx, badID, true))

	_, err = ds.InsertJob(ctx, &Job{URL: "http://good.example/a", ServerID: goodID, Priority: 1})
	require.NoError(t, err)
	_, err = ds.InsertJob(ctx, &Job{URL: "http://bad.example/a", ServerID: badID, Priority: 100})
	require.NoError(t, err)

	jobs, err := ds.ReserveTopK(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "http://good.example/a", jobs[0].URL)
}

func TestReserveHostFairExcludesBlacklistedHosts(t *testing.T) {
	ds := newTestDatastore(t)
	ctx := context.Background()

	goodID, err := ds.UpsertServer(ctx, "good.example")
	require.NoError(t, err)
	badID, err := ds.UpsertServer(ctx, "bad.example")
	require.NoError(t, err)
	require.NoError(t, ds.SetServerBlacklisted(ctx, badID, true))

	_, err = ds.InsertJob(ctx, &Job{URL: "http://good.example/a", ServerID: goodID, Priority: 1})
	require.NoError(t, err)
	_, err = ds.InsertJob(ctx, &Job{URL: "http://bad.example/a", ServerID: badID, Priority: 100})
	require.NoError(t, err)

	jobs, err := ds.ReserveHostFair(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "http://good.example/a", jobs[0].URL)
}

func TestSetServerBlacklistedRoundTrips(t *testing.T) {
	ds := newTestDatastore(t)
	ctx := context.Background()

	serverID, err := ds.UpsertServer(ctx, "example.com")
	require.NoError(t, err)

	s, err := ds.GetServer(ctx, serverID)
	require.NoError(t, err)
	assert.False(t, s.Blacklisted)

	require.NoError(t, ds.SetServerBlacklisted(ctx, serverID, true))
	s, err = ds.GetServer(ctx, serverID)
	require.NoError(t, err)
	assert.True(t, s.Blacklisted)
}
