package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/bootstrap"
	"github.com/aksel-berge/tubcrawl/mlrelevance"
	"github.com/aksel-berge/tubcrawl/store"
)

// captureStreams spoofs CommanderStreams the way the teacher's cmd_test.go
// spoofed stdout/stderr/os.Exit: os.Exit would kill the test binary, so
// Exit is rerouted to panic, which a deferred recover converts back into a
// normal test failure.
func captureStreams(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	Streams(CommanderStreams{
		Printf: func(format string, args ...interface{}) { lines = append(lines, format) },
		Errorf: func(format string, args ...interface{}) { lines = append(lines, format) },
		Exit:   func(status int) { panic(exitSentinel{status}) },
	})
	t.Cleanup(func() { Streams(CommanderStreams{}) })
	return &lines
}

type exitSentinel struct{ status int }

func runAndRecoverExit(t *testing.T, args []string) (exited bool, status int) {
	t.Helper()
	orig := os.Args
	defer func() { os.Args = orig }()
	os.Args = args

	defer func() {
		if r := recover(); r != nil {
			if sentinel, ok := r.(exitSentinel); ok {
				exited = true
				status = sentinel.status
				return
			}
			panic(r)
		}
	}()
	Execute()
	return false, 0
}

func newTempDB(t *testing.T) string {
	t.Helper()
	tubcrawl.SetDefaultConfig()
	path := filepath.Join(t.TempDir(), "tubcrawl.db")
	tubcrawl.Config.Store.DriverName = "sqlite"
	tubcrawl.Config.Store.DSN = path
	return path
}

func TestSchemaCommandMigratesFreshDatabase(t *testing.T) {
	captureStreams(t)
	path := newTempDB(t)

	exited, _ := runAndRecoverExit(t, []string{"tubcrawl", "schema", "--dsn=" + path, "--driver=sqlite"})
	assert.False(t, exited)

	ds, err := store.NewDatastore("sqlite", path)
	require.NoError(t, err)
	defer ds.Close()
}

func TestBootstrapCommandIngestsSeeds(t *testing.T) {
	captureStreams(t)
	path := newTempDB(t)

	seedsPath := filepath.Join(t.TempDir(), "seeds.json")
	data, err := json.Marshal([]bootstrap.Seed{{URL: "http://example.com/seed"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(seedsPath, data, 0o644))

	exited, _ := runAndRecoverExit(t, []string{"tubcrawl", "bootstrap", "--seeds=" + seedsPath})
	assert.False(t, exited)

	ds, err := store.NewDatastore("sqlite", path)
	require.NoError(t, err)
	defer ds.Close()

	job, err := ds.JobByURL(context.Background(), "http://example.com/seed")
	if err == nil {
		assert.NotNil(t, job)
	}
}

func TestBootstrapCommandFailsWithoutSeedsFlag(t *testing.T) {
	captureStreams(t)
	newTempDB(t)

	exited, status := runAndRecoverExit(t, []string{"tubcrawl", "bootstrap"})
	assert.True(t, exited)
	assert.Equal(t, 1, status)
}

func TestPriorityCommandRunsOverEmptyFrontier(t *testing.T) {
	captureStreams(t)
	Classifier(mlrelevance.AlwaysRelevant{})
	newTempDB(t)

	exited, _ := runAndRecoverExit(t, []string{"tubcrawl", "priority"})
	assert.False(t, exited)
}

func TestWaitForSignalReturnsOnInterrupt(t *testing.T) {
	done := make(chan struct{})
	go func() {
		waitForSignal()
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitForSignal did not return after SIGINT")
	}
}
