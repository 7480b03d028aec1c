// Package index builds and serializes the per-field inverted index spec
// §4.9 describes: field -> token -> sorted document ids, built once per
// offline indexing run over the relevant-document corpus.
package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/store"
)

// CurrentVersion is bumped whenever Index's wire shape changes. Load refuses
// to decode an artifact whose Version does not match, per spec §6's
// versioned-artifact contract ("refuse to load on unknown version rather
// than crash").
const CurrentVersion uint16 = 1

// Index is field -> token -> document ids containing that token in that
// field, plus the version tag Load checks.
type Index struct {
	Version uint16                        `msgpack:"version"`
	Fields  map[string]map[string][]int64 `msgpack:"fields"`
}

// Build scans every relevant document and records, for each field and each
// token that field tokenizes to, the document's id.
func Build(ctx context.Context, ds *store.Datastore) (*Index, error) {
	docs, err := ds.RelevantDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load relevant documents: %w", err)
	}

	idx := &Index{Version: CurrentVersion, Fields: map[string]map[string][]int64{}}
	for _, field := range tubcrawl.FieldNames {
		idx.Fields[field] = map[string][]int64{}
	}

	for _, doc := range docs {
		for _, field := range tubcrawl.FieldNames {
			seen := map[string]bool{}
			for _, token := range doc.Tokens[field] {
				if seen[token] {
					continue
				}
				seen[token] = true
				idx.Fields[field][token] = append(idx.Fields[field][token], doc.ID)
			}
		}
	}

	for _, postings := range idx.Fields {
		for token, ids := range postings {
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			postings[token] = ids
		}
	}
	return idx, nil
}

// Lookup returns the document ids containing token in field, or nil if
// there are none.
func (idx *Index) Lookup(field, token string) []int64 {
	postings, ok := idx.Fields[field]
	if !ok {
		return nil
	}
	return postings[token]
}

// Marshal serializes the index with msgpack (spec §6: index is a versioned
// serialized artifact).
func (idx *Index) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(idx)
	if err != nil {
		return nil, fmt.Errorf("marshal index: %w", err)
	}
	return b, nil
}

// Load deserializes an index previously written by Marshal, refusing to
// load an artifact built with a different Version rather than risk
// misinterpreting its bytes.
func Load(data []byte) (*Index, error) {
	var idx Index
	if err := msgpack.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("unmarshal index: %w", err)
	}
	if idx.Version != CurrentVersion {
		return nil, fmt.Errorf("index artifact version %d is not supported (want %d)", idx.Version, CurrentVersion)
	}
	return &idx, nil
}
