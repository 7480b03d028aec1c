// Package worker implements spec §4.7's pull/fetch/push loop: ask the
// master for jobs, fetch each URL (with a dynamic-render fallback for pages
// that never finish loading statically), extract and classify the result,
// and push it back. Grounded on the teacher's fetcher.go fetch loop, with
// the Cassandra-specific transport/robots bookkeeping replaced by a
// net/http client plus cenkalti/backoff retry policy and a temoto/robotstxt
// politeness check.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/dnscache"
	"github.com/aksel-berge/tubcrawl/mlrelevance"
)

// jobWire/linkWire/resultsRequest mirror master's wire shapes; kept distinct
// (rather than a shared package) so worker and master can evolve their
// transport contracts independently, the way the teacher's fetcher and
// console never shared request/response structs either. The shapes
// themselves -- and the endpoint paths used below -- follow spec §6's
// literal external-interface contract.
type jobWire struct {
	ID              int64  `json:"id"`
	URL             string `json:"url"`
	AnchorText      string `json:"anchor_text"`
	SurroundingText string `json:"surrounding_text"`
	TitleText       string `json:"title_text"`
}

type linkWire struct {
	URL             string  `json:"url"`
	ServerName      string  `json:"server_name"`
	AnchorText      string  `json:"anchor_text"`
	SurroundingText string  `json:"surrounding_text"`
	TitleText       string  `json:"title_text"`
	Priority        float64 `json:"priority"`
}

type documentWire struct {
	HTML     string              `json:"html"`
	Relevant bool                `json:"relevant"`
	Fields   map[string]string   `json:"fields"`
	Tokens   map[string][]string `json:"tokens"`
}

// resultsRequest is the save_crawling_results body: {new_document, new_jobs}.
type resultsRequest struct {
	NewDocument documentWire `json:"new_document"`
	NewJobs     []linkWire   `json:"new_jobs"`
}

// Worker pulls jobs from a master, fetches and classifies them, and pushes
// results back, looping until Run's context is cancelled.
type Worker struct {
	masterURL  string
	password   string
	httpClient *http.Client
	classifier mlrelevance.Classifier

	robotsCache map[string]*robotstxt.RobotsData

	mu      sync.Mutex
	pending []int64 // job ids reserved by the current batch, not yet resolved
}

// New builds a Worker pointed at a master base URL (e.g. "http://localhost:6000").
func New(masterURL, password string, classifier mlrelevance.Classifier) *Worker {
	timeout, err := time.ParseDuration(tubcrawl.Config.Fetch.Timeout)
	if err != nil {
		timeout = 20 * time.Second
	}
	transport := &http.Transport{}
	if dialer, err := dnscache.Dial(nil, 1000); err == nil {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer(network, addr)
		}
	}
	return &Worker{
		masterURL:   strings.TrimRight(masterURL, "/"),
		password:    password,
		httpClient:  &http.Client{Timeout: timeout, CheckRedirect: limitRedirects, Transport: transport},
		classifier:  classifier,
		robotsCache: map[string]*robotstxt.RobotsData{},
	}
}

func limitRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= tubcrawl.Config.Fetch.RedirectionLimit {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	return nil
}

// Run loops: reserve up to maxJobs total (0 means unbounded), fetch each,
// push results, until ctx is cancelled or maxJobs is exhausted.
func (w *Worker) Run(ctx context.Context, maxJobs int) error {
	done := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if maxJobs > 0 && done >= maxJobs {
			return nil
		}

		batch := tubcrawl.Config.Frontier.WorkerBatchSize
		if maxJobs > 0 && maxJobs-done < batch {
			batch = maxJobs - done
		}

		jobs, err := w.reserve(ctx, batch)
		if err != nil {
			return fmt.Errorf("reserve jobs: %w", err)
		}
		if len(jobs) == 0 {
			time.Sleep(time.Second)
			continue
		}
		w.trackReserved(jobs)

		for _, job := range jobs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := w.processOne(ctx, job); err != nil {
				zap.L().Sugar().Warnf("job %d (%s) failed, marking failed: %v", job.ID, job.URL, err)
				if err := w.reportFailure(ctx, job.ID); err != nil {
					zap.L().Sugar().Errorf("reporting failure for job %d: %v", job.ID, err)
				}
			}
			w.untrack(job.ID)
			done++
		}
	}
}

// trackReserved records the batch just handed out by the master so Shutdown
// knows what to release if the process is interrupted mid-batch.
func (w *Worker) trackReserved(jobs []jobWire) {
	ids := make([]int64, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	w.mu.Lock()
	w.pending = ids
	w.mu.Unlock()
}

// untrack drops a job from the pending set once it has been pushed back to
// the master, either as a result or a failure report.
func (w *Worker) untrack(jobID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, id := range w.pending {
		if id == jobID {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			return
		}
	}
}

// processOne fetches a single job, extracts and classifies its content, and
// pushes the result to the master. It never leaves the job reserved: on any
// error it is the caller's responsibility to mark it failed.
func (w *Worker) processOne(ctx context.Context, job jobWire) error {
	pageURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("parse job url: %w", err)
	}

	if !w.allowedByRobots(ctx, pageURL) {
		return fmt.Errorf("excluded by robots.txt")
	}

	html, rendered, err := w.fetch(ctx, job.URL)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	u, err := tubcrawl.NewURL(job.URL, nil, job.AnchorText, job.SurroundingText, job.TitleText)
	if err != nil {
		return fmt.Errorf("rebuild job url: %w", err)
	}

	doc := tubcrawl.ExtractDocument(html)
	relevant := tubcrawl.IsDocumentRelevant(u, doc)

	// spec §4.7 step c: re-fetch dynamically and re-classify once more, not
	// only when the static fetch failed, but also when it succeeded yet
	// produced a page judged irrelevant -- a JS-rendered app can look like an
	// empty, off-topic shell until rendered.
	if !relevant && !rendered {
		if reHTML, rerr := w.fetchRendered(ctx, job.URL, w.renderTimeout()); rerr == nil {
			html = reHTML
			doc = tubcrawl.ExtractDocument(html)
			relevant = tubcrawl.IsDocumentRelevant(u, doc)
		}
	}

	links := tubcrawl.HarvestLinks(html, pageURL)
	wireLinks := make([]linkWire, 0, len(links))
	for _, link := range links {
		priority := link.Priority(w.classifier)
		if priority < 0 {
			continue
		}
		wireLinks = append(wireLinks, linkWire{
			URL: link.Raw, ServerName: link.ServerName(),
			AnchorText: link.AnchorText, SurroundingText: link.SurroundingText, TitleText: link.TitleText,
			Priority: priority,
		})
	}

	return w.pushResult(ctx, job.ID, resultsRequest{
		NewDocument: documentWire{HTML: html, Relevant: relevant, Fields: doc.Fields, Tokens: doc.Tokens},
		NewJobs:     wireLinks,
	})
}

// fetch performs a static GET with retry/backoff (spec §4.7), falling back
// to a headless render (go-rod) when the static response looks like an
// empty shell a JS app would otherwise fill in, or the static fetch failed
// outright. The returned bool reports whether the render fallback already
// ran, so processOne's relevance-triggered re-render doesn't fire twice.
func (w *Worker) fetch(ctx context.Context, rawURL string) (string, bool, error) {
	html, status, err := w.fetchStatic(ctx, rawURL)
	if err == nil && status >= 200 && status < 300 && !looksLikeEmptyShell(html) {
		return html, false, nil
	}

	rendered, err := w.fetchRendered(ctx, rawURL, w.renderTimeout())
	return rendered, true, err
}

func (w *Worker) renderTimeout() time.Duration {
	renderTimeout, err := time.ParseDuration(tubcrawl.Config.Fetch.RenderTimeout)
	if err != nil {
		return 25 * time.Second
	}
	return renderTimeout
}

func (w *Worker) fetchStatic(ctx context.Context, rawURL string) (string, int, error) {
	var html string
	var status int

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", tubcrawl.Config.Fetch.UserAgent)
		req.Header.Set("Accept-Language", tubcrawl.Config.Fetch.AcceptLanguage)

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		if !isHTMLResponse(resp) {
			return backoff.Permanent(fmt.Errorf("non-html content-type: %s", resp.Header.Get("Content-Type")))
		}
		if isRetryableStatus(status) {
			return fmt.Errorf("retryable status %d", status)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		html = string(body)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.Multiplier = 1 + tubcrawl.Config.Fetch.BackoffFactor
	policy := backoff.WithMaxRetries(b, uint64(tubcrawl.Config.Fetch.Retries))
	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return html, status, err
}

func (w *Worker) fetchRendered(ctx context.Context, rawURL string, timeout time.Duration) (string, error) {
	browser := rod.New()
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("connect headless browser: %w", err)
	}
	defer browser.Close()

	renderCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := browser.Context(renderCtx).Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read rendered html: %w", err)
	}
	return html, nil
}

func looksLikeEmptyShell(html string) bool {
	body := strings.ToLower(html)
	idx := strings.Index(body, "<body")
	if idx == -1 {
		return true
	}
	return len(strings.TrimSpace(body[idx:])) < 200
}

func isHTMLResponse(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return ct == "" || strings.Contains(strings.ToLower(ct), "html")
}

func isRetryableStatus(status int) bool {
	for _, s := range tubcrawl.Config.Fetch.RetriesIfStatus {
		if s == status {
			return true
		}
	}
	return false
}

func (w *Worker) allowedByRobots(ctx context.Context, pageURL *url.URL) bool {
	host := pageURL.Host
	data, ok := w.robotsCache[host]
	if !ok {
		data = w.fetchRobots(ctx, pageURL)
		w.robotsCache[host] = data
	}
	if data == nil {
		return true
	}
	group := data.FindGroup(tubcrawl.Config.Fetch.UserAgent)
	return group.Test(pageURL.Path)
}

func (w *Worker) fetchRobots(ctx context.Context, pageURL *url.URL) *robotstxt.RobotsData {
	robotsURL := (&url.URL{Scheme: pageURL.Scheme, Host: pageURL.Host, Path: "/robots.txt"}).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}
	return data
}

func (w *Worker) reserve(ctx context.Context, n int) ([]jobWire, error) {
	reqURL := fmt.Sprintf("%s/reserve_jobs/%d", w.masterURL, n)
	if w.password != "" {
		reqURL += "?pw=" + w.password
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reserve_jobs returned status %d", resp.StatusCode)
	}
	var jobs []jobWire
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (w *Worker) pushResult(ctx context.Context, jobID int64, body resultsRequest) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	reqURL := fmt.Sprintf("%s/save_crawling_results/%d", w.masterURL, jobID)
	if w.password != "" {
		reqURL += "?pw=" + w.password
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("save_crawling_results returned status %d", resp.StatusCode)
	}
	return nil
}

func (w *Worker) reportFailure(ctx context.Context, jobID int64) error {
	reqURL := fmt.Sprintf("%s/mark_job_as_fail/%d", w.masterURL, jobID)
	if w.password != "" {
		reqURL += "?pw=" + w.password
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mark_job_as_fail returned status %d", resp.StatusCode)
	}
	return nil
}

// Shutdown releases any jobs still held by the in-flight batch back to the
// frontier (spec §4.5 step 4's clean-shutdown unreserve, spec §8 scenario
// 5's crash-recovery path). Run reserves a whole batch up front and may be
// interrupted partway through it; without this, the unfinished jobs would
// sit as being_crawled=true until the staleness sweep reclaims them, which
// the spec treats as a last resort, not the normal path.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	ids := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	return w.unreserve(ctx, ids)
}

func (w *Worker) unreserve(ctx context.Context, jobIDs []int64) error {
	b, err := json.Marshal(jobIDs)
	if err != nil {
		return err
	}
	reqURL := w.masterURL + "/unreserve_jobs"
	if w.password != "" {
		reqURL += "?pw=" + w.password
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unreserve returned status %d", resp.StatusCode)
	}
	return nil
}
