package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"
)

// Datastore is tubcrawl's durable-store adapter, wrapping a *sql.DB the way
// the teacher's cassandra.Datastore wraps a *gocql.Session: one struct per
// process, created once with NewDatastore and shared by every goroutine.
// Unlike the teacher, which claims whole hosts into an in-process buffer
// (Datastore.domains), reservation here happens per-job in SQL -- see
// ReserveTopK/ReserveHostFair -- because spec §4.5 requires at-most-once job
// reservation, not host ownership.
type Datastore struct {
	db *sql.DB
}

// NewDatastore opens the SQL engine at dsn using driverName (modernc.org/sqlite's
// pure-Go driver is registered as "sqlite") and brings the schema up to
// CurrentSchemaVersion.
func NewDatastore(driverName, dsn string) (*Datastore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer, avoid SQLITE_BUSY under our own load
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Datastore{db: db}, nil
}

// Close closes the underlying database handle.
func (ds *Datastore) Close() error {
	return ds.db.Close()
}

func encodeTokens(tokens []string) string {
	if tokens == nil {
		tokens = []string{}
	}
	b, err := json.Marshal(tokens)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeTokens(raw string) []string {
	var tokens []string
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil
	}
	return tokens
}

// UpsertServer returns the id of the servers row named name, creating it
// with zeroed stats if it does not already exist (spec §3: servers are
// created on first sight and never destroyed).
func (ds *Datastore) UpsertServer(ctx context.Context, name string) (int64, error) {
	_, err := ds.db.ExecContext(ctx,
		`INSERT INTO servers (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return 0, fmt.Errorf("upsert server %q: %w", name, err)
	}
	var id int64
	err = ds.db.QueryRowContext(ctx, `SELECT id FROM servers WHERE name = ?`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("fetch server id %q: %w", name, err)
	}
	return id, nil
}

// SetServerBlacklisted sets or clears a server's is_blacklisted flag (spec
// §3: "Mutated only by master (on result ingest) and the offline PageRank
// job"), enforced at reservation time by ReserveTopK/ReserveHostFair's
// host_not_blacklisted predicate.
func (ds *Datastore) SetServerBlacklisted(ctx context.Context, serverID int64, blacklisted bool) error {
	_, err := ds.db.ExecContext(ctx, `UPDATE servers SET is_blacklisted = ? WHERE id = ?`, blacklisted, serverID)
	if err != nil {
		return fmt.Errorf("set server %d blacklisted=%v: %w", serverID, blacklisted, err)
	}
	return nil
}

// GetServer loads a server row by id.
func (ds *Datastore) GetServer(ctx context.Context, id int64) (*Server, error) {
	var s Server
	err := ds.db.QueryRowContext(ctx,
		`SELECT id, name, is_blacklisted, page_rank, total_done_jobs, success_jobs, relevant_documents
		 FROM servers WHERE id = ?`, id,
	).Scan(&s.ID, &s.Name, &s.Blacklisted, &s.PageRank, &s.TotalDoneJobs, &s.SuccessJobs, &s.RelevantDocuments)
	if err != nil {
		return nil, fmt.Errorf("get server %d: %w", id, err)
	}
	return &s, nil
}

// ServerByName loads a server row by name, returning sql.ErrNoRows if absent.
func (ds *Datastore) ServerByName(ctx context.Context, name string) (*Server, error) {
	var s Server
	err := ds.db.QueryRowContext(ctx,
		`SELECT id, name, is_blacklisted, page_rank, total_done_jobs, success_jobs, relevant_documents
		 FROM servers WHERE name = ?`, name,
	).Scan(&s.ID, &s.Name, &s.Blacklisted, &s.PageRank, &s.TotalDoneJobs, &s.SuccessJobs, &s.RelevantDocuments)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SetServerPageRank persists a freshly computed PageRank score for a host
// (spec §4.6's feedback into the frontier via spec §4.4's importance bonus).
func (ds *Datastore) SetServerPageRank(ctx context.Context, serverID int64, pageRank float64) error {
	_, err := ds.db.ExecContext(ctx, `UPDATE servers SET page_rank = ? WHERE id = ?`, pageRank, serverID)
	if err != nil {
		return fmt.Errorf("set page rank for server %d: %w", serverID, err)
	}
	return nil
}

// RecordJobOutcome increments a server's total_done_jobs/success_jobs/
// relevant_documents counters, feeding spec §4.4's success/relevant ratio
// bonus terms.
func (ds *Datastore) RecordJobOutcome(ctx context.Context, serverID int64, success, relevant bool) error {
	successInc := 0
	if success {
		successInc = 1
	}
	relevantInc := 0
	if relevant {
		relevantInc = 1
	}
	_, err := ds.db.ExecContext(ctx,
		`UPDATE servers
		 SET total_done_jobs = total_done_jobs + 1,
		     success_jobs = success_jobs + ?,
		     relevant_documents = relevant_documents + ?
		 WHERE id = ?`, successInc, relevantInc, serverID)
	if err != nil {
		return fmt.Errorf("record job outcome for server %d: %w", serverID, err)
	}
	return nil
}

// InsertJob inserts a single job, returning its id. If the normalized URL
// already has a job (spec §3, §6's unique index on jobs.url), InsertJob
// reports the existing row's id and no error -- discovery of an
// already-queued or already-done URL is not itself an error condition.
func (ds *Datastore) InsertJob(ctx context.Context, j *Job) (int64, error) {
	_, err := ds.db.ExecContext(ctx,
		`INSERT INTO jobs (
			url, server_id, parent_id, anchor_text, surrounding_text, title_text,
			anchor_tokens, surrounding_tokens, title_tokens, priority
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO NOTHING`,
		j.URL, j.ServerID, j.ParentID, j.AnchorText, j.SurroundingText, j.TitleText,
		encodeTokens(j.AnchorTokens), encodeTokens(j.SurroundingTokens), encodeTokens(j.TitleTokens), j.Priority,
	)
	if err != nil {
		return 0, fmt.Errorf("insert job %q: %w", j.URL, err)
	}
	var id int64
	err = ds.db.QueryRowContext(ctx, `SELECT id FROM jobs WHERE url = ?`, j.URL).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("fetch job id %q: %w", j.URL, err)
	}
	return id, nil
}

// InsertJobs bulk-inserts jobs inside a single transaction, skipping
// duplicate URLs, and returns how many rows were newly created.
func (ds *Datastore) InsertJobs(ctx context.Context, jobs []*Job) (inserted int, err error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert jobs tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO jobs (
			url, server_id, parent_id, anchor_text, surrounding_text, title_text,
			anchor_tokens, surrounding_tokens, title_tokens, priority
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert jobs: %w", err)
	}
	defer stmt.Close()

	for _, j := range jobs {
		res, execErr := stmt.ExecContext(ctx,
			j.URL, j.ServerID, j.ParentID, j.AnchorText, j.SurroundingText, j.TitleText,
			encodeTokens(j.AnchorTokens), encodeTokens(j.SurroundingTokens), encodeTokens(j.TitleTokens), j.Priority,
		)
		if execErr != nil {
			err = fmt.Errorf("insert job %q: %w", j.URL, execErr)
			return 0, err
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert jobs tx: %w", err)
	}
	return inserted, nil
}

// ReserveTopK implements spec §4.5's "top_k" policy: the n highest-priority
// unreserved, undone jobs across all non-blacklisted hosts (spec §4.5's
// host_not_blacklisted predicate), marked being_crawled in the same
// transaction so two concurrent callers never receive the same job.
func (ds *Datastore) ReserveTopK(ctx context.Context, n int) ([]*Job, error) {
	return ds.reserve(ctx, `
		SELECT jobs.id FROM jobs
		JOIN servers ON servers.id = jobs.server_id
		WHERE jobs.done = 0 AND jobs.being_crawled = 0 AND servers.is_blacklisted = 0
		ORDER BY jobs.priority DESC, jobs.id ASC
		LIMIT ?`, []interface{}{n}, n)
}

// ReserveHostFair implements spec §4.5's "host_fair" policy: at most one job
// per host per call, the highest-priority unreserved job for that host,
// selected via ROW_NUMBER() PARTITION BY server_id the way
// original_source/crawler/manager/priority_queue.py's host-fair query does,
// excluding blacklisted hosts entirely (spec §4.5's host_not_blacklisted
// predicate).
func (ds *Datastore) ReserveHostFair(ctx context.Context, n int) ([]*Job, error) {
	return ds.reserve(ctx, `
		SELECT id FROM (
			SELECT jobs.id AS id, ROW_NUMBER() OVER (
				PARTITION BY jobs.server_id ORDER BY jobs.priority DESC, jobs.id ASC
			) AS rn
			FROM jobs
			JOIN servers ON servers.id = jobs.server_id
			WHERE jobs.done = 0 AND jobs.being_crawled = 0 AND servers.is_blacklisted = 0
		) ranked
		WHERE rn = 1
		ORDER BY (SELECT priority FROM jobs WHERE jobs.id = ranked.id) DESC
		LIMIT ?`, []interface{}{n}, n)
}

// reserve runs idQuery to find candidate job ids, then marks each
// being_crawled=1 inside a single transaction and returns the full rows, so
// the whole reserve is atomic from the caller's perspective (spec §4.5
// "Reserve(n) is atomic").
func (ds *Datastore) reserve(ctx context.Context, idQuery string, args []interface{}, n int) ([]*Job, error) {
	if n <= 0 {
		return nil, nil
	}
	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, idQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("select reservable jobs: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan reservable job id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservable jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `UPDATE jobs SET being_crawled = 1, being_crawled_at = ? WHERE id = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare reserve update: %w", err)
	}
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, now, id); err != nil {
			stmt.Close()
			return nil, fmt.Errorf("reserve job %d: %w", id, err)
		}
	}
	stmt.Close()

	jobs, err := scanJobsByIDs(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reserve tx: %w", err)
	}
	return jobs, nil
}

func scanJobsByIDs(ctx context.Context, q querier, ids []int64) ([]*Job, error) {
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := scanJob(ctx, q, `SELECT
			id, url, server_id, parent_id, anchor_text, surrounding_text, title_text,
			anchor_tokens, surrounding_tokens, title_tokens, priority, being_crawled, done,
			success, created_at, being_crawled_at
			FROM jobs WHERE id = ?`, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting scanJob run
// inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func scanJob(ctx context.Context, q querier, query string, args ...interface{}) (*Job, error) {
	var j Job
	var anchorTokens, surroundingTokens, titleTokens string
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&j.ID, &j.URL, &j.ServerID, &j.ParentID, &j.AnchorText, &j.SurroundingText, &j.TitleText,
		&anchorTokens, &surroundingTokens, &titleTokens, &j.Priority, &j.BeingCrawled, &j.Done,
		&j.Success, &j.CreatedAt, &j.BeingCrawledAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.AnchorTokens = decodeTokens(anchorTokens)
	j.SurroundingTokens = decodeTokens(surroundingTokens)
	j.TitleTokens = decodeTokens(titleTokens)
	return &j, nil
}

// Unreserve clears being_crawled on the given jobs without marking them
// done, the only backward transition spec §8's job state machine allows
// (reached through the master's unreserve endpoint, which a worker calls on
// shutdown).
func (ds *Datastore) Unreserve(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unreserve tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE jobs SET being_crawled = 0, being_crawled_at = NULL WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare unreserve: %w", err)
	}
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			stmt.Close()
			return fmt.Errorf("unreserve job %d: %w", id, err)
		}
	}
	stmt.Close()
	return tx.Commit()
}

// MarkJobDone transitions a job to (being_crawled:false, done:true,
// success:&success), the terminal transition of spec §8's state machine.
func (ds *Datastore) MarkJobDone(ctx context.Context, id int64, success bool) error {
	_, err := ds.db.ExecContext(ctx,
		`UPDATE jobs SET being_crawled = 0, done = 1, success = ?, being_crawled_at = NULL WHERE id = ?`,
		success, id)
	if err != nil {
		return fmt.Errorf("mark job %d done: %w", id, err)
	}
	return nil
}

// UpdateJobPriority overwrites a job's priority, used by the offline
// PageRank feedback loop (spec §4.6) to recompute priorities for jobs that
// are not yet done.
func (ds *Datastore) UpdateJobPriority(ctx context.Context, id int64, priority float64) error {
	_, err := ds.db.ExecContext(ctx, `UPDATE jobs SET priority = ? WHERE done = 0 AND id = ?`, priority, id)
	if err != nil {
		return fmt.Errorf("update priority for job %d: %w", id, err)
	}
	return nil
}

// SweepStale unreserves any job that has been being_crawled for longer than
// timeout, per spec §4.5's staleness recovery: a worker that died mid-fetch
// must not hold its reservation forever.
func (ds *Datastore) SweepStale(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	res, err := ds.db.ExecContext(ctx,
		`UPDATE jobs SET being_crawled = 0, being_crawled_at = NULL
		 WHERE being_crawled = 1 AND done = 0 AND being_crawled_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		zap.L().Sugar().Infof("swept %d stale job reservations older than %v", n, timeout)
	}
	return n, nil
}

// UndoneJobsForServer lists every not-yet-done job belonging to a server, for
// the PageRank feedback loop's priority recomputation pass.
func (ds *Datastore) UndoneJobsForServer(ctx context.Context, serverID int64) ([]*Job, error) {
	rows, err := ds.db.QueryContext(ctx, `
		SELECT id, url, server_id, parent_id, anchor_text, surrounding_text, title_text,
		       anchor_tokens, surrounding_tokens, title_tokens, priority, being_crawled, done,
		       success, created_at, being_crawled_at
		FROM jobs WHERE server_id = ? AND done = 0`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list undone jobs for server %d: %w", serverID, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		var anchorTokens, surroundingTokens, titleTokens string
		if err := rows.Scan(
			&j.ID, &j.URL, &j.ServerID, &j.ParentID, &j.AnchorText, &j.SurroundingText, &j.TitleText,
			&anchorTokens, &surroundingTokens, &titleTokens, &j.Priority, &j.BeingCrawled, &j.Done,
			&j.Success, &j.CreatedAt, &j.BeingCrawledAt,
		); err != nil {
			return nil, fmt.Errorf("scan undone job: %w", err)
		}
		j.AnchorTokens = decodeTokens(anchorTokens)
		j.SurroundingTokens = decodeTokens(surroundingTokens)
		j.TitleTokens = decodeTokens(titleTokens)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// InsertDocument inserts a Document and its field/token columns, returning
// its id. It does not touch the owning job; the master marks that job done
// (MarkJobDone) only after the document and its child jobs are stored.
func (ds *Datastore) InsertDocument(ctx context.Context, d *Document) (int64, error) {
	res, err := ds.db.ExecContext(ctx, `
		INSERT INTO documents (
			job_id, html, relevant,
			title, meta_description, meta_keywords, meta_author, h1, h2, h3, h4, h5, h6, body,
			title_tokens, meta_description_tokens, meta_keywords_tokens, meta_author_tokens,
			h1_tokens, h2_tokens, h3_tokens, h4_tokens, h5_tokens, h6_tokens, body_tokens
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.JobID, d.HTML, d.Relevant,
		d.Fields["title"], d.Fields["meta_description"], d.Fields["meta_keywords"], d.Fields["meta_author"],
		d.Fields["h1"], d.Fields["h2"], d.Fields["h3"], d.Fields["h4"], d.Fields["h5"], d.Fields["h6"], d.Fields["body"],
		encodeTokens(d.Tokens["title"]), encodeTokens(d.Tokens["meta_description"]), encodeTokens(d.Tokens["meta_keywords"]),
		encodeTokens(d.Tokens["meta_author"]), encodeTokens(d.Tokens["h1"]), encodeTokens(d.Tokens["h2"]),
		encodeTokens(d.Tokens["h3"]), encodeTokens(d.Tokens["h4"]), encodeTokens(d.Tokens["h5"]), encodeTokens(d.Tokens["h6"]),
		encodeTokens(d.Tokens["body"]),
	)
	if err != nil {
		return 0, fmt.Errorf("insert document for job %d: %w", d.JobID, err)
	}
	return res.LastInsertId()
}

// RelevantDocuments streams every document marked relevant, for the offline
// index/vectorspace/linkgraph builders (spec §4.6, §4.9, §4.10), which all
// operate on the same corpus: the relevant subset.
func (ds *Datastore) RelevantDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := ds.db.QueryContext(ctx, `
		SELECT id, job_id, html, relevant,
		       title, meta_description, meta_keywords, meta_author, h1, h2, h3, h4, h5, h6, body,
		       title_tokens, meta_description_tokens, meta_keywords_tokens, meta_author_tokens,
		       h1_tokens, h2_tokens, h3_tokens, h4_tokens, h5_tokens, h6_tokens, body_tokens
		FROM documents WHERE relevant = 1`)
	if err != nil {
		return nil, fmt.Errorf("list relevant documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocumentRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// AllDocuments streams every document regardless of relevance, for the
// relevance-updater tool (spec §6's "relevance updater" component), which
// needs to re-score documents that were indexed under a stale relevance
// configuration, not just the currently-relevant subset.
func (ds *Datastore) AllDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := ds.db.QueryContext(ctx, `
		SELECT id, job_id, html, relevant,
		       title, meta_description, meta_keywords, meta_author, h1, h2, h3, h4, h5, h6, body,
		       title_tokens, meta_description_tokens, meta_keywords_tokens, meta_author_tokens,
		       h1_tokens, h2_tokens, h3_tokens, h4_tokens, h5_tokens, h6_tokens, body_tokens
		FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocumentRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentRelevant overwrites a document's relevance verdict in place,
// used by the relevance-updater tool after re-running spec §4.3's
// classification against the latest configuration.
func (ds *Datastore) UpdateDocumentRelevant(ctx context.Context, documentID int64, relevant bool) error {
	_, err := ds.db.ExecContext(ctx, `UPDATE documents SET relevant = ? WHERE id = ?`, relevant, documentID)
	if err != nil {
		return fmt.Errorf("update document %d relevant: %w", documentID, err)
	}
	return nil
}

// JobByID loads a job row by id, used by the master when a worker reports
// back against a job id it was handed at reservation time.
func (ds *Datastore) JobByID(ctx context.Context, id int64) (*Job, error) {
	return scanJob(ctx, ds.db, `SELECT
		id, url, server_id, parent_id, anchor_text, surrounding_text, title_text,
		anchor_tokens, surrounding_tokens, title_tokens, priority, being_crawled, done,
		success, created_at, being_crawled_at
		FROM jobs WHERE id = ?`, id)
}

// JobByURL loads the job row for a normalized URL, used by bootstrap/ingest
// tooling to check whether a seed is already queued.
func (ds *Datastore) JobByURL(ctx context.Context, url string) (*Job, error) {
	return scanJob(ctx, ds.db, `SELECT
		id, url, server_id, parent_id, anchor_text, surrounding_text, title_text,
		anchor_tokens, surrounding_tokens, title_tokens, priority, being_crawled, done,
		success, created_at, being_crawled_at
		FROM jobs WHERE url = ?`, url)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocumentRow(rs rowScanner) (*Document, error) {
	var d Document
	var title, metaDescription, metaKeywords, metaAuthor, h1, h2, h3, h4, h5, h6, body string
	var titleTok, metaDescriptionTok, metaKeywordsTok, metaAuthorTok, h1Tok, h2Tok, h3Tok, h4Tok, h5Tok, h6Tok, bodyTok string
	if err := rs.Scan(
		&d.ID, &d.JobID, &d.HTML, &d.Relevant,
		&title, &metaDescription, &metaKeywords, &metaAuthor, &h1, &h2, &h3, &h4, &h5, &h6, &body,
		&titleTok, &metaDescriptionTok, &metaKeywordsTok, &metaAuthorTok,
		&h1Tok, &h2Tok, &h3Tok, &h4Tok, &h5Tok, &h6Tok, &bodyTok,
	); err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Fields = map[string]string{
		"title": title, "meta_description": metaDescription, "meta_keywords": metaKeywords, "meta_author": metaAuthor,
		"h1": h1, "h2": h2, "h3": h3, "h4": h4, "h5": h5, "h6": h6, "body": body,
	}
	d.Tokens = map[string][]string{
		"title": decodeTokens(titleTok), "meta_description": decodeTokens(metaDescriptionTok),
		"meta_keywords": decodeTokens(metaKeywordsTok), "meta_author": decodeTokens(metaAuthorTok),
		"h1": decodeTokens(h1Tok), "h2": decodeTokens(h2Tok), "h3": decodeTokens(h3Tok),
		"h4": decodeTokens(h4Tok), "h5": decodeTokens(h5Tok), "h6": decodeTokens(h6Tok), "body": decodeTokens(bodyTok),
	}
	return &d, nil
}

// UpsertTFIDF writes (or overwrites) a document's per-field sparse vectors
// (spec §4.10). A field absent from row.Vectors stores NULL for that column.
func (ds *Datastore) UpsertTFIDF(ctx context.Context, row *TFIDFRow) error {
	get := func(field string) []byte {
		return row.Vectors[field]
	}
	_, err := ds.db.ExecContext(ctx, `
		INSERT INTO tfidfs (
			document_id, title, meta_description, meta_keywords, meta_author, h1, h2, h3, h4, h5, h6, body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			title = excluded.title, meta_description = excluded.meta_description,
			meta_keywords = excluded.meta_keywords, meta_author = excluded.meta_author,
			h1 = excluded.h1, h2 = excluded.h2, h3 = excluded.h3, h4 = excluded.h4,
			h5 = excluded.h5, h6 = excluded.h6, body = excluded.body`,
		row.DocumentID,
		get("title"), get("meta_description"), get("meta_keywords"), get("meta_author"),
		get("h1"), get("h2"), get("h3"), get("h4"), get("h5"), get("h6"), get("body"),
	)
	if err != nil {
		return fmt.Errorf("upsert tfidf for document %d: %w", row.DocumentID, err)
	}
	return nil
}

// AllTFIDFRows streams every stored per-document vector row, for loading the
// vector space into the ranker at query time.
func (ds *Datastore) AllTFIDFRows(ctx context.Context) ([]*TFIDFRow, error) {
	rows, err := ds.db.QueryContext(ctx, `
		SELECT document_id, title, meta_description, meta_keywords, meta_author, h1, h2, h3, h4, h5, h6, body
		FROM tfidfs`)
	if err != nil {
		return nil, fmt.Errorf("list tfidf rows: %w", err)
	}
	defer rows.Close()

	var out []*TFIDFRow
	for rows.Next() {
		var r TFIDFRow
		fields := make(map[string][]byte, len(FieldOrder))
		scanTargets := make([]interface{}, 0, len(FieldOrder)+1)
		scanTargets = append(scanTargets, &r.DocumentID)
		raw := make([][]byte, len(FieldOrder))
		for i := range raw {
			scanTargets = append(scanTargets, &raw[i])
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan tfidf row: %w", err)
		}
		for i, field := range FieldOrder {
			if raw[i] != nil {
				fields[field] = raw[i]
			}
		}
		r.Vectors = fields
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ServerOfDocument resolves the server owning the job that produced a
// document, for the link-graph builder's edge source lookup.
func (ds *Datastore) ServerOfDocument(ctx context.Context, jobID int64) (*Server, error) {
	var s Server
	err := ds.db.QueryRowContext(ctx, `
		SELECT s.id, s.name, s.is_blacklisted, s.page_rank, s.total_done_jobs, s.success_jobs, s.relevant_documents
		FROM servers s JOIN jobs j ON j.server_id = s.id
		WHERE j.id = ?`, jobID,
	).Scan(&s.ID, &s.Name, &s.Blacklisted, &s.PageRank, &s.TotalDoneJobs, &s.SuccessJobs, &s.RelevantDocuments)
	if err != nil {
		return nil, fmt.Errorf("server of document job %d: %w", jobID, err)
	}
	return &s, nil
}

// JobsWithParent lists every job whose parent_id is documentID, i.e. every
// link harvested from that document (spec §4.6's link-graph edges).
func (ds *Datastore) JobsWithParent(ctx context.Context, documentID int64) ([]*Job, error) {
	rows, err := ds.db.QueryContext(ctx, `
		SELECT id, url, server_id, parent_id, anchor_text, surrounding_text, title_text,
		       anchor_tokens, surrounding_tokens, title_tokens, priority, being_crawled, done,
		       success, created_at, being_crawled_at
		FROM jobs WHERE parent_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list jobs with parent %d: %w", documentID, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		var anchorTokens, surroundingTokens, titleTokens string
		if err := rows.Scan(
			&j.ID, &j.URL, &j.ServerID, &j.ParentID, &j.AnchorText, &j.SurroundingText, &j.TitleText,
			&anchorTokens, &surroundingTokens, &titleTokens, &j.Priority, &j.BeingCrawled, &j.Done,
			&j.Success, &j.CreatedAt, &j.BeingCrawledAt,
		); err != nil {
			return nil, fmt.Errorf("scan job with parent: %w", err)
		}
		j.AnchorTokens = decodeTokens(anchorTokens)
		j.SurroundingTokens = decodeTokens(surroundingTokens)
		j.TitleTokens = decodeTokens(titleTokens)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// AllServers lists every known server, for the PageRank feedback loop's
// per-server priority recomputation pass.
func (ds *Datastore) AllServers(ctx context.Context) ([]*Server, error) {
	rows, err := ds.db.QueryContext(ctx,
		`SELECT id, name, is_blacklisted, page_rank, total_done_jobs, success_jobs, relevant_documents FROM servers`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		var s Server
		if err := rows.Scan(&s.ID, &s.Name, &s.Blacklisted, &s.PageRank, &s.TotalDoneJobs, &s.SuccessJobs, &s.RelevantDocuments); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, &s)
	}
	return servers, rows.Err()
}

// FieldOrder is the column order tfidfs' SELECT/INSERT lists use, matching
// Document.Fields' keys (minus the psuedo-field distinction document.go's
// FieldNames already enumerates in the root package).
var FieldOrder = []string{
	"title", "meta_description", "meta_keywords", "meta_author",
	"h1", "h2", "h3", "h4", "h5", "h6", "body",
}
