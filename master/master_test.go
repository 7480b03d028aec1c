package master

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/mlrelevance"
	"github.com/aksel-berge/tubcrawl/store"
)

func newTestMaster(t *testing.T) (*Master, *store.Datastore) {
	t.Helper()
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return New(ds, "", mlrelevance.AlwaysRelevant{}), ds
}

func TestLivenessIsUnauthenticated(t *testing.T) {
	m, _ := newTestMaster(t)
	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReserveAndResultsRoundTrip(t *testing.T) {
	m, ds := newTestMaster(t)
	ctx := context.Background()
	serverID, err := ds.UpsertServer(ctx, "example.com")
	require.NoError(t, err)
	_, err = ds.InsertJob(ctx, &store.Job{URL: "http://example.com/a", ServerID: serverID, Priority: 5})
	require.NoError(t, err)

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/reserve_jobs/5")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var reserved []jobWire
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reserved))
	require.Len(t, reserved, 1)

	body := resultsRequest{
		NewDocument: documentWire{
			HTML:     "<html><body>tubingen</body></html>",
			Relevant: true,
			Fields:   map[string]string{"body": "tubingen"},
			Tokens:   map[string][]string{"body": {"tubingen_WORD"}},
		},
		NewJobs: []linkWire{
			{URL: "http://other.example/b", ServerName: "other.example", Priority: 3},
		},
	}
	b, _ := json.Marshal(body)
	resultsURL := srv.URL + "/save_crawling_results/" + jobIDString(reserved[0].ID)
	resp2, err := http.Post(resultsURL, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	job, err := ds.JobByID(ctx, reserved[0].ID)
	require.NoError(t, err)
	assert.True(t, job.Done)

	child, err := ds.JobByURL(ctx, "http://other.example/b")
	require.NoError(t, err)
	assert.NotNil(t, child.ParentID)
}

func TestResultsIngestBlacklistsConfiguredHosts(t *testing.T) {
	m, ds := newTestMaster(t)
	tubcrawl.Config.Frontier.BlockedHosts = []string{"blocked.example"}
	ctx := context.Background()
	serverID, err := ds.UpsertServer(ctx, "example.com")
	require.NoError(t, err)
	jobID, err := ds.InsertJob(ctx, &store.Job{URL: "http://example.com/a", ServerID: serverID, Priority: 5})
	require.NoError(t, err)

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	body := resultsRequest{
		NewDocument: documentWire{HTML: "<html></html>", Relevant: true},
		NewJobs:     []linkWire{{URL: "http://blocked.example/x", ServerName: "blocked.example"}},
	}
	b, _ := json.Marshal(body)
	resp, err := http.Post(srv.URL+"/save_crawling_results/"+jobIDString(jobID), "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	blockedServer, err := ds.ServerByName(ctx, "blocked.example")
	require.NoError(t, err)
	assert.True(t, blockedServer.Blacklisted)
}

func TestMarkJobAsFail(t *testing.T) {
	m, ds := newTestMaster(t)
	ctx := context.Background()
	serverID, err := ds.UpsertServer(ctx, "example.com")
	require.NoError(t, err)
	jobID, err := ds.InsertJob(ctx, &store.Job{URL: "http://example.com/a", ServerID: serverID, Priority: 5})
	require.NoError(t, err)

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mark_job_as_fail/"+jobIDString(jobID), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	job, err := ds.JobByID(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, job.Done)
}

func TestUnreserveJobs(t *testing.T) {
	m, ds := newTestMaster(t)
	ctx := context.Background()
	serverID, err := ds.UpsertServer(ctx, "example.com")
	require.NoError(t, err)
	jobID, err := ds.InsertJob(ctx, &store.Job{URL: "http://example.com/a", ServerID: serverID, Priority: 5})
	require.NoError(t, err)

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	b, _ := json.Marshal([]int64{jobID})
	resp, err := http.Post(srv.URL+"/unreserve_jobs", "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReserveRequiresPasswordWhenConfigured(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	ds, err := store.NewDatastore("sqlite", ":memory:")
	require.NoError(t, err)
	defer ds.Close()
	m := New(ds, "secret", mlrelevance.AlwaysRelevant{})

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/reserve_jobs/5")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/reserve_jobs/5?pw=secret")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func jobIDString(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
