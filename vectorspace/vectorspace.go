// Package vectorspace builds and serializes the per-field TF-IDF vector
// space spec §4.10 describes: one IDF model per field, and one sparse
// weight vector per (document, field) pair, grounded on
// original_source/backend/vector_spaces/tfidf.py.
package vectorspace

import (
	"context"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/store"
)

// CurrentVersion is bumped whenever VectorSpace's wire shape changes (spec
// §6's versioned-artifact contract).
const CurrentVersion uint16 = 1

// SparseVector is a token -> weight map. Only nonzero entries are present.
type SparseVector map[string]float64

// FieldModel is one field's fitted IDF weights: token -> inverse document
// frequency, computed as log(N/df) + 1 (scikit-learn's TfidfVectorizer form
// with smooth_idf=False) so a token present in every document still gets a
// positive, if small, weight.
type FieldModel struct {
	IDF        map[string]float64 `msgpack:"idf"`
	DocCount   int                `msgpack:"doc_count"`
}

// VectorSpace is the full set of per-field IDF models fitted over the
// relevant-document corpus.
type VectorSpace struct {
	Version uint16                `msgpack:"version"`
	Fields  map[string]FieldModel `msgpack:"fields"`
}

// Build fits a VectorSpace and computes each relevant document's per-field
// sparse TF-IDF vector, returning both the space and the rows ready for
// store.Datastore.UpsertTFIDF.
func Build(ctx context.Context, ds *store.Datastore) (*VectorSpace, []*store.TFIDFRow, error) {
	docs, err := ds.RelevantDocuments(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load relevant documents: %w", err)
	}

	vs := &VectorSpace{Version: CurrentVersion, Fields: map[string]FieldModel{}}
	rowsByDoc := make(map[int64]*store.TFIDFRow, len(docs))
	for _, doc := range docs {
		rowsByDoc[doc.ID] = &store.TFIDFRow{DocumentID: doc.ID, Vectors: map[string][]byte{}}
	}

	for _, field := range tubcrawl.FieldNames {
		docFreq := map[string]int{}
		termFreqs := make(map[int64]map[string]int, len(docs))

		for _, doc := range docs {
			tokens := ngramTokens(doc.Tokens[field])
			tf := map[string]int{}
			for _, tok := range tokens {
				tf[tok]++
			}
			termFreqs[doc.ID] = tf
			for tok := range tf {
				docFreq[tok]++
			}
		}

		n := float64(len(docs))
		idf := make(map[string]float64, len(docFreq))
		for tok, df := range docFreq {
			idf[tok] = math.Log(n/float64(df)) + 1
		}
		vs.Fields[field] = FieldModel{IDF: idf, DocCount: len(docs)}

		for _, doc := range docs {
			vec := weighVector(termFreqs[doc.ID], idf)
			if len(vec) == 0 {
				continue
			}
			b, err := msgpack.Marshal(vec)
			if err != nil {
				return nil, nil, fmt.Errorf("marshal vector for document %d field %s: %w", doc.ID, field, err)
			}
			rowsByDoc[doc.ID].Vectors[field] = b
		}
	}

	rows := make([]*store.TFIDFRow, 0, len(rowsByDoc))
	for _, row := range rowsByDoc {
		rows = append(rows, row)
	}
	return vs, rows, nil
}

// ngramTokens expands a token list into the configured n-gram range
// (Config.Ranking.NgramRangeMin..Max), joining adjacent tokens with an
// underscore, the way a scikit-learn-style ngram_range parameter would.
func ngramTokens(tokens []string) []string {
	minN := tubcrawl.Config.Ranking.NgramRangeMin
	maxN := tubcrawl.Config.Ranking.NgramRangeMax
	if minN < 1 {
		minN = 1
	}
	if maxN < minN {
		maxN = minN
	}

	var out []string
	for n := minN; n <= maxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			if n == 1 {
				out = append(out, tokens[i])
				continue
			}
			gram := tokens[i]
			for j := i + 1; j < i+n; j++ {
				gram += "_" + tokens[j]
			}
			out = append(out, gram)
		}
	}
	return out
}

// weighVector multiplies raw term counts by idf and L2-normalizes the
// result, matching scikit-learn's default TfidfVectorizer norm='l2'.
func weighVector(tf map[string]int, idf map[string]float64) SparseVector {
	raw := make(SparseVector, len(tf))
	var sumSquares float64
	for tok, count := range tf {
		w, ok := idf[tok]
		if !ok {
			continue
		}
		v := float64(count) * w
		raw[tok] = v
		sumSquares += v * v
	}
	if sumSquares == 0 {
		return raw
	}
	norm := math.Sqrt(sumSquares)
	for tok, v := range raw {
		raw[tok] = v / norm
	}
	return raw
}

// ProjectQuery builds a query's sparse vector against an already-fitted
// field model: tokens not present in the model's vocabulary are dropped
// (they could never match a stored document vector anyway), and the result
// is L2-normalized the same way document vectors are.
func ProjectQuery(model FieldModel, tokens []string) SparseVector {
	tf := map[string]int{}
	for _, tok := range ngramTokens(tokens) {
		tf[tok]++
	}
	return weighVector(tf, model.IDF)
}

// Marshal serializes the vector space with msgpack.
func (vs *VectorSpace) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(vs)
	if err != nil {
		return nil, fmt.Errorf("marshal vector space: %w", err)
	}
	return b, nil
}

// Load deserializes a VectorSpace, refusing an artifact built with a
// different Version.
func Load(data []byte) (*VectorSpace, error) {
	var vs VectorSpace
	if err := msgpack.Unmarshal(data, &vs); err != nil {
		return nil, fmt.Errorf("unmarshal vector space: %w", err)
	}
	if vs.Version != CurrentVersion {
		return nil, fmt.Errorf("vector space artifact version %d is not supported (want %d)", vs.Version, CurrentVersion)
	}
	return &vs, nil
}

// DecodeVector unmarshals a stored per-document, per-field vector blob.
func DecodeVector(data []byte) (SparseVector, error) {
	var v SparseVector
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal sparse vector: %w", err)
	}
	return v, nil
}
