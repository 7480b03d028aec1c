// Package store is tubcrawl's durable-store adapter. spec.md treats "the
// SQL engine used as a durable store" as an out-of-scope external
// collaborator; this package is the in-scope code that talks to it --
// schema, migrations, and the Server/Job/Document/Tfidf CRUD the master and
// offline jobs drive (spec §3, §6).
package store

import "time"

// Server mirrors spec §3's Server entity: per-host aggregate stats feeding
// the host importance bonus (spec §4.4).
type Server struct {
	ID                int64
	Name              string
	Blacklisted       bool
	PageRank          float64
	TotalDoneJobs     int64
	SuccessJobs       int64
	RelevantDocuments int64
}

// Job mirrors spec §3's Job entity. Success is a pointer so it can
// represent the "null while not done" invariant (`done ⇒ success ∈
// {true,false}`; `¬done ⇒ success = null`).
type Job struct {
	ID       int64
	URL      string
	ServerID int64
	ParentID *int64 // nullable: the Document that produced this job

	AnchorText      string
	SurroundingText string
	TitleText       string
	AnchorTokens    []string
	SurroundingTokens []string
	TitleTokens     []string

	Priority     float64
	BeingCrawled bool
	Done         bool
	Success      *bool

	CreatedAt      time.Time
	BeingCrawledAt *time.Time // set when reserved, used by the staleness sweep
}

// Document mirrors spec §3's Document entity: one row per successful
// fetch, 1:1 with the Job that produced it.
type Document struct {
	ID       int64
	JobID    int64
	HTML     string
	Relevant bool

	Fields map[string]string
	Tokens map[string][]string
}

// TFIDFRow mirrors spec §3's per-field TF-IDF vector table: one row per
// indexed document, keyed the same as Document. Vectors stores the
// msgpack-encoded sparse vector per field; a field absent from the map
// means "missing field stores null" (spec §4.10).
type TFIDFRow struct {
	DocumentID int64
	Vectors    map[string][]byte
}
