// Package frontier implements spec §4.5's durable job queue: reservation,
// release, and outcome recording over the jobs table, with a pluggable
// selection policy (top_k or host_fair, spec §4.5's policy switch).
package frontier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/store"
)

// Frontier wraps a store.Datastore with spec §4.5's reservation semantics.
// One Frontier is created by the master and shared by every request
// goroutine; all state lives in the datastore, so Frontier itself is
// stateless and safe for concurrent use.
type Frontier struct {
	ds *store.Datastore
}

// New builds a Frontier over an already-migrated datastore.
func New(ds *store.Datastore) *Frontier {
	return &Frontier{ds: ds}
}

// Reserve returns up to n jobs that are neither done nor already reserved,
// marking them being_crawled=true atomically, per spec §4.5's
// "Reserve(n) is atomic, returns ≤ n available jobs" guarantee. The
// selection policy is read from Config.Frontier.Policy on every call; Config
// itself is loaded once, when the process starts.
func (f *Frontier) Reserve(ctx context.Context, n int) ([]*store.Job, error) {
	if n > tubcrawl.Config.Frontier.MaxJobRequest {
		n = tubcrawl.Config.Frontier.MaxJobRequest
	}
	switch tubcrawl.Config.Frontier.Policy {
	case "host_fair":
		return f.ds.ReserveHostFair(ctx, n)
	default:
		return f.ds.ReserveTopK(ctx, n)
	}
}

// Unreserve clears being_crawled on the given job ids without completing
// them, spec §4.5's only backward transition: used when a worker releases
// jobs it has not started, on shutdown.
func (f *Frontier) Unreserve(ctx context.Context, ids []int64) error {
	return f.ds.Unreserve(ctx, ids)
}

// MarkSuccess completes a job successfully and records the outcome against
// its owning server's running stats (spec §4.4's importance bonus inputs).
func (f *Frontier) MarkSuccess(ctx context.Context, job *store.Job, relevant bool) error {
	if err := f.ds.MarkJobDone(ctx, job.ID, true); err != nil {
		return fmt.Errorf("mark job %d success: %w", job.ID, err)
	}
	return f.ds.RecordJobOutcome(ctx, job.ServerID, true, relevant)
}

// MarkFailed completes a job unsuccessfully, per spec §8's
// (being_crawled:true) -> (done:true, success:false) transition.
func (f *Frontier) MarkFailed(ctx context.Context, job *store.Job) error {
	if err := f.ds.MarkJobDone(ctx, job.ID, false); err != nil {
		return fmt.Errorf("mark job %d failed: %w", job.ID, err)
	}
	return f.ds.RecordJobOutcome(ctx, job.ServerID, false, false)
}

// SweepStale releases reservations older than Config.Frontier.StalenessTimeout,
// recovering jobs orphaned by a worker that died mid-fetch (spec §4.5).
func (f *Frontier) SweepStale(ctx context.Context) (int64, error) {
	timeout, err := time.ParseDuration(tubcrawl.Config.Frontier.StalenessTimeout)
	if err != nil {
		return 0, fmt.Errorf("parse staleness timeout: %w", err)
	}
	return f.ds.SweepStale(ctx, timeout)
}

// RunStalenessSweeper runs SweepStale on a fixed interval until ctx is
// cancelled, logging (rather than failing the process on) any sweep error
// the way a background maintenance loop should.
func (f *Frontier) RunStalenessSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := f.SweepStale(ctx); err != nil {
				zap.L().Sugar().Errorf("staleness sweep failed: %v", err)
			}
		}
	}
}
