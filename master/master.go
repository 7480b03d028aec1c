// Package master is tubcrawl's coordinator HTTP service: workers pull job
// batches, push fetch results, and release jobs they could not finish,
// through a small JSON REST API (spec §4.5, §7), grounded on the teacher's
// console/rest.go "always exchange JSON" REST contract.
package master

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/unrolled/render"
	"go.uber.org/zap"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/frontier"
	"github.com/aksel-berge/tubcrawl/importance"
	"github.com/aksel-berge/tubcrawl/mlrelevance"
	"github.com/aksel-berge/tubcrawl/store"
)

var renderer = render.New(render.Options{IndentJSON: false})

// errorResponse matches the teacher's REST error envelope shape: a tagged,
// human-readable message, never a bare HTTP status with no body.
type errorResponse struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func buildError(tag, format string, args ...interface{}) *errorResponse {
	return &errorResponse{Tag: tag, Message: fmt.Sprintf(format, args...)}
}

// isBlockedHost reports whether host appears in the configured static
// blacklist (spec §3's blacklisted flag, grounded on
// original_source/crawler/utils.py's CRAWL_BLACK_LIST).
func isBlockedHost(host string) bool {
	for _, blocked := range tubcrawl.Config.Frontier.BlockedHosts {
		if host == blocked {
			return true
		}
	}
	return false
}

// Master coordinates the frontier and the durable store behind an HTTP API.
// It keeps a small in-process buffer of already-reserved jobs so a burst of
// worker requests doesn't each pay a database round trip (spec §4.5's
// "buffered reserve" design note), refilling the buffer from the frontier
// when it runs low.
type Master struct {
	ds        *store.Datastore
	frontier  *frontier.Frontier
	password  string
	classifier mlrelevance.Classifier

	mu     sync.Mutex
	buffer []*store.Job
}

// New builds a Master over an already-migrated datastore. password, if
// non-empty, must match the "pw" query parameter on every request (spec
// §7's shared-secret auth gate).
func New(ds *store.Datastore, password string, classifier mlrelevance.Classifier) *Master {
	return &Master{
		ds:        ds,
		frontier:  frontier.New(ds),
		password:  password,
		classifier: classifier,
	}
}

// Router builds the gorilla/mux router exposing the master's REST API,
// matching spec §6's literal path contract exactly so any worker written
// against that contract can talk to this master.
func (m *Master) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", m.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/reserve_jobs/{n}", m.authenticated(m.handleReserve)).Methods(http.MethodGet)
	r.HandleFunc("/unreserve_jobs", m.authenticated(m.handleUnreserve)).Methods(http.MethodPost)
	r.HandleFunc("/mark_job_as_fail/{id}", m.authenticated(m.handleFail)).Methods(http.MethodPost)
	r.HandleFunc("/save_crawling_results/{parent_job_id}", m.authenticated(m.handleResults)).Methods(http.MethodPost)
	return r
}

// handleLiveness serves GET / with a plain-text ack, spec §6's liveness
// check -- intentionally outside the auth gate, since a load balancer or
// orchestrator probing liveness won't have the shared secret.
func (m *Master) handleLiveness(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func textAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// authenticated wraps a handler with the shared-secret gate. A configured
// empty password disables the gate entirely, for local development.
func (m *Master) authenticated(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if m.password != "" && req.URL.Query().Get("pw") != m.password {
			renderer.JSON(w, http.StatusUnauthorized, buildError("unauthorized", "missing or incorrect pw"))
			return
		}
		h(w, req)
	}
}

// handleReserve serves GET /reserve_jobs/{n}, draining the in-process buffer
// first and refilling from the frontier whenever it holds fewer than n jobs. The response
// is a bare JSON array of job descriptors, per spec §6 ("JSON list of up to
// n job descriptors"), not an object wrapping one.
func (m *Master) handleReserve(w http.ResponseWriter, req *http.Request) {
	n, err := strconv.Atoi(mux.Vars(req)["n"])
	if err != nil || n <= 0 {
		n = tubcrawl.Config.Frontier.WorkerBatchSize
	}

	jobs, err := m.take(req.Context(), n)
	if err != nil {
		zap.L().Sugar().Errorf("reserve failed: %v", err)
		renderer.JSON(w, http.StatusInternalServerError, buildError("reserve-failed", "%v", err))
		return
	}
	renderer.JSON(w, http.StatusOK, jobsToWire(jobs))
}

func (m *Master) take(ctx context.Context, n int) ([]*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.buffer) < n {
		refillSize := tubcrawl.Config.Frontier.BatchSize
		if refillSize < n {
			refillSize = n
		}
		more, err := m.frontier.Reserve(ctx, refillSize)
		if err != nil {
			return nil, err
		}
		m.buffer = append(m.buffer, more...)
	}

	if n > len(m.buffer) {
		n = len(m.buffer)
	}
	taken := m.buffer[:n]
	m.buffer = m.buffer[n:]
	return taken, nil
}

type jobWire struct {
	ID              int64  `json:"id"`
	URL             string `json:"url"`
	AnchorText      string `json:"anchor_text"`
	SurroundingText string `json:"surrounding_text"`
	TitleText       string `json:"title_text"`
}

func jobsToWire(jobs []*store.Job) []jobWire {
	out := make([]jobWire, len(jobs))
	for i, j := range jobs {
		out[i] = jobWire{ID: j.ID, URL: j.URL, AnchorText: j.AnchorText, SurroundingText: j.SurroundingText, TitleText: j.TitleText}
	}
	return out
}

// handleUnreserve serves POST /unreserve_jobs, body a bare JSON array of job
// ids (spec §6), the only backward frontier transition (spec §4.5).
func (m *Master) handleUnreserve(w http.ResponseWriter, req *http.Request) {
	var jobIDs []int64
	if err := json.NewDecoder(req.Body).Decode(&jobIDs); err != nil {
		renderer.JSON(w, http.StatusBadRequest, buildError("bad-json-decode", "%v", err))
		return
	}
	if err := m.frontier.Unreserve(req.Context(), jobIDs); err != nil {
		renderer.JSON(w, http.StatusInternalServerError, buildError("unreserve-failed", "%v", err))
		return
	}
	textAck(w)
}

// handleFail serves POST /mark_job_as_fail/{id} (spec §6): the job id comes
// from the path, not the body, so the request carries no body at all.
func (m *Master) handleFail(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	if err != nil {
		renderer.JSON(w, http.StatusBadRequest, buildError("bad-job-id", "%v", err))
		return
	}
	j, err := m.jobByID(req.Context(), id)
	if err != nil {
		renderer.JSON(w, http.StatusNotFound, buildError("job-not-found", "%v", err))
		return
	}
	if err := m.frontier.MarkFailed(req.Context(), j); err != nil {
		renderer.JSON(w, http.StatusInternalServerError, buildError("mark-failed", "%v", err))
		return
	}
	textAck(w)
}

// documentWire is the "new_document" half of the save_crawling_results body
// (spec §6).
type documentWire struct {
	HTML     string              `json:"html"`
	Relevant bool                `json:"relevant"`
	Fields   map[string]string   `json:"fields"`
	Tokens   map[string][]string `json:"tokens"`
}

// resultsRequest is POSTed by a worker that successfully fetched a job: the
// extracted document, its relevance verdict, and the links it harvested
// (each becoming a new job, or resolving to an existing one via the unique
// URL index). Matches spec §6's save_crawling_results body shape exactly;
// the parent job id travels in the path, not the body.
type resultsRequest struct {
	NewDocument documentWire `json:"new_document"`
	NewJobs     []linkWire   `json:"new_jobs"`
}

type linkWire struct {
	URL             string  `json:"url"`
	ServerName      string  `json:"server_name"`
	AnchorText      string  `json:"anchor_text"`
	SurroundingText string  `json:"surrounding_text"`
	TitleText       string  `json:"title_text"`
	Priority        float64 `json:"priority"`
}

// handleResults ingests a completed fetch: it persists the document, then
// upserts a server row per distinct link host, bulk-inserts the harvested
// links as new jobs (parented to the new document), and only then marks the
// origin job done+success -- the parent is marked done LAST so a crash
// mid-ingest never leaves a "done" job with missing children (spec §4.5's
// atomicity note, spec §8's edge case).
func (m *Master) handleResults(w http.ResponseWriter, req *http.Request) {
	parentJobID, err := strconv.ParseInt(mux.Vars(req)["parent_job_id"], 10, 64)
	if err != nil {
		renderer.JSON(w, http.StatusBadRequest, buildError("bad-job-id", "%v", err))
		return
	}

	var body resultsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		renderer.JSON(w, http.StatusBadRequest, buildError("bad-json-decode", "%v", err))
		return
	}

	job, err := m.jobByID(req.Context(), parentJobID)
	if err != nil {
		renderer.JSON(w, http.StatusNotFound, buildError("job-not-found", "%v", err))
		return
	}

	ctx := req.Context()
	doc := body.NewDocument
	docID, err := m.ds.InsertDocument(ctx, &store.Document{
		JobID: job.ID, HTML: doc.HTML, Relevant: doc.Relevant, Fields: doc.Fields, Tokens: doc.Tokens,
	})
	if err != nil {
		renderer.JSON(w, http.StatusInternalServerError, buildError("insert-document-failed", "%v", err))
		return
	}

	var newJobs []*store.Job
	for _, link := range body.NewJobs {
		serverID, err := m.ds.UpsertServer(ctx, link.ServerName)
		if err != nil {
			zap.L().Sugar().Warnf("upserting server %q: %v", link.ServerName, err)
			continue
		}
		if isBlockedHost(link.ServerName) {
			if err := m.ds.SetServerBlacklisted(ctx, serverID, true); err != nil {
				zap.L().Sugar().Warnf("blacklisting server %q: %v", link.ServerName, err)
			}
		}
		// spec §4.7d: the worker contributes URL priority only; host
		// importance is added here, by the master, since it depends on
		// durable per-server stats (PageRank, success/relevant ratios) a
		// worker has no access to.
		priority := link.Priority
		if server, err := m.ds.GetServer(ctx, serverID); err == nil {
			priority += importance.Bonus(server)
		}
		pid := docID
		newJobs = append(newJobs, &store.Job{
			URL: link.URL, ServerID: serverID, ParentID: &pid,
			AnchorText: link.AnchorText, SurroundingText: link.SurroundingText, TitleText: link.TitleText,
			Priority: priority,
		})
	}
	if len(newJobs) > 0 {
		if _, err := m.ds.InsertJobs(ctx, newJobs); err != nil {
			renderer.JSON(w, http.StatusInternalServerError, buildError("insert-jobs-failed", "%v", err))
			return
		}
	}

	if err := m.frontier.MarkSuccess(ctx, job, doc.Relevant); err != nil {
		renderer.JSON(w, http.StatusInternalServerError, buildError("mark-success-failed", "%v", err))
		return
	}
	textAck(w)
}

func (m *Master) jobByID(ctx context.Context, id int64) (*store.Job, error) {
	return m.ds.JobByID(ctx, id)
}

// RunStalenessSweeper starts the frontier's background staleness sweep on a
// fixed interval until ctx is cancelled.
func (m *Master) RunStalenessSweeper(ctx context.Context, interval time.Duration) {
	m.frontier.RunStalenessSweeper(ctx, interval)
}
