// Package bootstrap implements the two one-off seed-loading tools spec.md
// §1 names as out-of-scope external collaborators ("the seed-bootstrap and
// SERP ingestion scripts"), grounded on
// original_source/crawler/initialize_database.py's create_manual_job_batch
// and create_serper_job_batch: read a flat JSON list, score each entry's
// priority, and insert it as a parentless Job row directly through
// tubcrawl/store, bypassing the master RPC entirely since bootstrap runs
// before any master is necessarily up (spec §4.12).
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/mlrelevance"
	"github.com/aksel-berge/tubcrawl/store"
)

// Seed is one entry of a bootstrap seed file: a bare URL to queue with no
// link context (anchor/surrounding/title text all empty), mirroring the
// original's QUEUE_MANUAL_SEEDS list of plain strings.
type Seed struct {
	URL string `json:"url"`
}

// SERPEntry is one entry of a SERP-ingestion file: the shape a SERP-scraping
// script emits per organic/news result (original's "link"/"title" fields),
// spec §4.12.
type SERPEntry struct {
	URL             string `json:"url"`
	AnchorText      string `json:"anchor_text"`
	TitleText       string `json:"title_text"`
	SurroundingText string `json:"surrounding_text"`
}

// LoadSeeds reads a JSON array of Seed from path.
func LoadSeeds(path string) ([]Seed, error) {
	var seeds []Seed
	if err := readJSON(path, &seeds); err != nil {
		return nil, err
	}
	return seeds, nil
}

// LoadSERPEntries reads a JSON array of SERPEntry from path.
func LoadSERPEntries(path string) ([]SERPEntry, error) {
	var entries []SERPEntry
	if err := readJSON(path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func readJSON(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %v: %w", path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parse %v: %w", path, err)
	}
	return nil
}

// IngestSeeds inserts each seed as a parentless, maximal-priority Job
// (matching the original's sys.maxsize priority: a manual seed is meant to
// be crawled first, regardless of what spec §4.1's scoring would otherwise
// assign it). Insert is on-conflict-ignore on jobs.url (spec §4.6 step 4),
// so re-running the same seed file is a no-op for URLs already queued.
// The returned count is how many seeds were successfully parsed and
// submitted, not how many were newly created rows.
func IngestSeeds(ctx context.Context, ds *store.Datastore, seeds []Seed) (int, error) {
	processed := 0
	for _, s := range seeds {
		u, err := tubcrawl.NewURL(s.URL, nil, "", "", "")
		if err != nil {
			zap.L().Sugar().Warnf("bootstrap: skipping invalid seed URL %q: %v", s.URL, err)
			continue
		}
		serverID, err := ds.UpsertServer(ctx, u.ServerName())
		if err != nil {
			return processed, fmt.Errorf("upsert server for seed %v: %w", s.URL, err)
		}
		if _, err := ds.InsertJob(ctx, &store.Job{
			URL:      u.Raw,
			ServerID: serverID,
			Priority: maxSeedPriority,
		}); err != nil {
			return processed, fmt.Errorf("insert seed job %v: %w", s.URL, err)
		}
		processed++
	}
	return processed, nil
}

// maxSeedPriority mirrors the original's sys.maxsize: a manual seed always
// sorts first in the frontier, regardless of spec §4.1's scored priority.
const maxSeedPriority = 1 << 30

// IngestSERP inserts each SERP result as a parentless Job, scored the normal
// way through spec §4.1's Priority (unlike a manual seed, a SERP hit is not
// automatically first-in-line -- it competes with the rest of the frontier
// on its own merits).
func IngestSERP(ctx context.Context, ds *store.Datastore, entries []SERPEntry, classifier mlrelevance.Classifier) (int, error) {
	processed := 0
	for _, e := range entries {
		u, err := tubcrawl.NewURL(e.URL, nil, e.AnchorText, e.SurroundingText, e.TitleText)
		if err != nil {
			zap.L().Sugar().Warnf("ingest-serp: skipping invalid URL %q: %v", e.URL, err)
			continue
		}
		serverID, err := ds.UpsertServer(ctx, u.ServerName())
		if err != nil {
			return processed, fmt.Errorf("upsert server for %v: %w", e.URL, err)
		}
		if _, err := ds.InsertJob(ctx, &store.Job{
			URL:             u.Raw,
			ServerID:        serverID,
			AnchorText:      u.AnchorText,
			SurroundingText: u.SurroundingText,
			TitleText:       u.TitleText,
			Priority:        u.Priority(classifier),
		}); err != nil {
			return processed, fmt.Errorf("insert serp job %v: %w", e.URL, err)
		}
		processed++
	}
	return processed, nil
}
