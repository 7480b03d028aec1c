// Package ranker implements spec §4.11's fused multi-field query ranking:
// tokenize the query, project it into each field's TF-IDF space, score
// every candidate document by field-weighted cosine similarity summed
// across fields, and return a stable, paginated ordering.
package ranker

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/index"
	"github.com/aksel-berge/tubcrawl/store"
	"github.com/aksel-berge/tubcrawl/vectorspace"
)

// Ranker holds the loaded offline artifacts (inverted index + vector space)
// plus the per-document vectors, all built by the offline indexing jobs and
// read-only from here on. A Ranker is rebuilt (not mutated) whenever the
// offline jobs produce a new artifact generation.
type Ranker struct {
	idx      *index.Index
	space    *vectorspace.VectorSpace
	vectors  map[int64]map[string]vectorspace.SparseVector // doc id -> field -> vector
	ds       *store.Datastore
}

// Load builds a Ranker from a datastore whose documents, tfidfs, and (in
// memory) index/vector-space artifacts are already populated by the offline
// jobs (spec §4.9/§4.10).
func Load(ctx context.Context, ds *store.Datastore, idx *index.Index, space *vectorspace.VectorSpace) (*Ranker, error) {
	rows, err := ds.AllTFIDFRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tfidf rows: %w", err)
	}

	vectors := make(map[int64]map[string]vectorspace.SparseVector, len(rows))
	for _, row := range rows {
		fields := make(map[string]vectorspace.SparseVector, len(row.Vectors))
		for field, blob := range row.Vectors {
			vec, err := vectorspace.DecodeVector(blob)
			if err != nil {
				return nil, fmt.Errorf("decode vector for document %d field %s: %w", row.DocumentID, field, err)
			}
			fields[field] = vec
		}
		vectors[row.DocumentID] = fields
	}

	return &Ranker{idx: idx, space: space, vectors: vectors, ds: ds}, nil
}

// Result is one scored hit, spec §4.11's response shape.
type Result struct {
	DocumentID int64
	Score      float64
}

// Search implements spec §4.11: tokenizes query, finds every document that
// shares at least one token with the query in any field (via the inverted
// index), scores each by the field-weighted sum of per-field cosine
// similarities, and returns results sorted by score descending with a
// deterministic ascending-doc-id tie-break, paginated by offset/limit.
func Search(r *Ranker, query string, offset, limit int) ([]Result, error) {
	tokens := tubcrawl.TokenizeQuery(query)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty query")
	}

	weights := tubcrawl.Config.Ranking.FieldWeights
	candidates := map[int64]bool{}
	queryVectors := map[string]vectorspace.SparseVector{}

	for _, field := range tubcrawl.FieldNames {
		model, ok := r.space.Fields[field]
		if !ok {
			continue
		}
		qVec := vectorspace.ProjectQuery(model, tokens)
		if len(qVec) == 0 {
			continue
		}
		queryVectors[field] = qVec

		for token := range qVec {
			for _, docID := range r.idx.Lookup(field, token) {
				candidates[docID] = true
			}
		}
	}

	results := make([]Result, 0, len(candidates))
	for docID := range candidates {
		docFields := r.vectors[docID]
		var score float64
		for field, qVec := range queryVectors {
			docVec, ok := docFields[field]
			if !ok {
				continue
			}
			weight := weights[field]
			if weight == 0 {
				weight = 1
			}
			score += weight * cosineSimilarity(qVec, docVec)
		}
		if score > 0 {
			results = append(results, Result{DocumentID: docID, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocumentID < results[j].DocumentID
	})

	if offset >= len(results) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(results) {
		end = len(results)
	}
	return results[offset:end], nil
}

// cosineSimilarity computes cosine similarity between two sparse token
// weight vectors over their shared vocabulary, using gonum/mat dense
// vectors for the dot product and norm (the same linear-algebra package the
// offline PageRank job is built on).
func cosineSimilarity(a, b vectorspace.SparseVector) float64 {
	keys := make([]string, 0, len(a))
	for tok := range a {
		keys = append(keys, tok)
	}
	for tok := range b {
		if _, ok := a[tok]; !ok {
			keys = append(keys, tok)
		}
	}
	if len(keys) == 0 {
		return 0
	}

	av := make([]float64, len(keys))
	bv := make([]float64, len(keys))
	for i, tok := range keys {
		av[i] = a[tok]
		bv[i] = b[tok]
	}
	va := mat.NewVecDense(len(keys), av)
	vb := mat.NewVecDense(len(keys), bv)

	denom := mat.Norm(va, 2) * mat.Norm(vb, 2)
	if denom == 0 {
		return 0
	}
	return mat.Dot(va, vb) / math.Max(denom, 1e-12)
}
