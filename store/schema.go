package store

import (
	"bytes"
	"database/sql"
	"fmt"
	"text/template"
)

// schemaTemplate is grounded on the teacher's cassandra/schema.go, which
// generates its CREATE TABLE statements from a Go text/template so the
// keyspace name can be configured. This store has nothing analogous to
// configure per-table, but keeps the same generate-from-template shape so
// a future per-deployment schema variant (e.g. a table-name prefix) slots
// in without restructuring the migration runner.
const schemaTemplate = `
-- servers holds one row per host ever seen, created on first sight and
-- never destroyed (spec §3).
CREATE TABLE IF NOT EXISTS {{.Prefix}}servers (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	name                TEXT NOT NULL UNIQUE,
	is_blacklisted      INTEGER NOT NULL DEFAULT 0,
	page_rank           REAL NOT NULL DEFAULT 0,
	total_done_jobs     INTEGER NOT NULL DEFAULT 0,
	success_jobs        INTEGER NOT NULL DEFAULT 0,
	relevant_documents  INTEGER NOT NULL DEFAULT 0
);

-- jobs holds one row per unit of crawl work, unique by normalized URL
-- (spec §3, §6: "Unique index on jobs.url").
CREATE TABLE IF NOT EXISTS {{.Prefix}}jobs (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	url                 TEXT NOT NULL UNIQUE,
	server_id           INTEGER NOT NULL REFERENCES {{.Prefix}}servers(id),
	parent_id           INTEGER REFERENCES {{.Prefix}}documents(id),
	anchor_text         TEXT NOT NULL DEFAULT '',
	surrounding_text    TEXT NOT NULL DEFAULT '',
	title_text          TEXT NOT NULL DEFAULT '',
	anchor_tokens       TEXT NOT NULL DEFAULT '[]',
	surrounding_tokens  TEXT NOT NULL DEFAULT '[]',
	title_tokens        TEXT NOT NULL DEFAULT '[]',
	priority            REAL NOT NULL DEFAULT 0,
	being_crawled       INTEGER NOT NULL DEFAULT 0,
	done                INTEGER NOT NULL DEFAULT 0,
	success             INTEGER,
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	being_crawled_at    DATETIME
);
CREATE INDEX IF NOT EXISTS {{.Prefix}}jobs_frontier_idx
	ON {{.Prefix}}jobs (done, being_crawled, priority DESC);
CREATE INDEX IF NOT EXISTS {{.Prefix}}jobs_server_idx ON {{.Prefix}}jobs (server_id);

-- documents holds one row per successful fetch, 1:1 with its job.
CREATE TABLE IF NOT EXISTS {{.Prefix}}documents (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id              INTEGER NOT NULL UNIQUE REFERENCES {{.Prefix}}jobs(id),
	html                TEXT NOT NULL DEFAULT '',
	relevant            INTEGER NOT NULL DEFAULT 0,
	title               TEXT NOT NULL DEFAULT '',
	meta_description    TEXT NOT NULL DEFAULT '',
	meta_keywords       TEXT NOT NULL DEFAULT '',
	meta_author         TEXT NOT NULL DEFAULT '',
	h1                  TEXT NOT NULL DEFAULT '',
	h2                  TEXT NOT NULL DEFAULT '',
	h3                  TEXT NOT NULL DEFAULT '',
	h4                  TEXT NOT NULL DEFAULT '',
	h5                  TEXT NOT NULL DEFAULT '',
	h6                  TEXT NOT NULL DEFAULT '',
	body                TEXT NOT NULL DEFAULT '',
	title_tokens        TEXT NOT NULL DEFAULT '[]',
	meta_description_tokens TEXT NOT NULL DEFAULT '[]',
	meta_keywords_tokens TEXT NOT NULL DEFAULT '[]',
	meta_author_tokens  TEXT NOT NULL DEFAULT '[]',
	h1_tokens           TEXT NOT NULL DEFAULT '[]',
	h2_tokens           TEXT NOT NULL DEFAULT '[]',
	h3_tokens           TEXT NOT NULL DEFAULT '[]',
	h4_tokens           TEXT NOT NULL DEFAULT '[]',
	h5_tokens           TEXT NOT NULL DEFAULT '[]',
	h6_tokens           TEXT NOT NULL DEFAULT '[]',
	body_tokens         TEXT NOT NULL DEFAULT '[]',
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS {{.Prefix}}documents_relevant_idx ON {{.Prefix}}documents (relevant);

-- tfidfs holds per-document, per-field serialized sparse vectors (spec §3,
-- §4.10). A NULL column means that field had no vector for this document.
CREATE TABLE IF NOT EXISTS {{.Prefix}}tfidfs (
	document_id         INTEGER PRIMARY KEY REFERENCES {{.Prefix}}documents(id),
	title               BLOB,
	meta_description    BLOB,
	meta_keywords       BLOB,
	meta_author         BLOB,
	h1                  BLOB,
	h2                  BLOB,
	h3                  BLOB,
	h4                  BLOB,
	h5                  BLOB,
	h6                  BLOB,
	body                BLOB
);

-- migrations records which schema versions have been applied, so re-running
-- Migrate is a no-op once the schema is current.
CREATE TABLE IF NOT EXISTS {{.Prefix}}migrations (
	version             INTEGER PRIMARY KEY,
	applied_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// CurrentSchemaVersion is bumped whenever schemaTemplate changes shape.
const CurrentSchemaVersion = 1

type schemaParams struct {
	Prefix string
}

// Migrate creates every table schemaTemplate defines (if not already
// present) and records CurrentSchemaVersion in the migrations table. It is
// safe to call on every process start.
func Migrate(db *sql.DB) error {
	tmpl, err := template.New("schema").Parse(schemaTemplate)
	if err != nil {
		return fmt.Errorf("parse schema template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, schemaParams{Prefix: ""}); err != nil {
		return fmt.Errorf("execute schema template: %w", err)
	}

	if _, err := db.Exec(buf.String()); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO migrations (version) SELECT ? WHERE NOT EXISTS (SELECT 1 FROM migrations WHERE version = ?)`,
		CurrentSchemaVersion, CurrentSchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}
