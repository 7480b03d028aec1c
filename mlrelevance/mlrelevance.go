// Package mlrelevance adapts the ML URL-relevance classifier that spec.md
// treats as an out-of-scope, black-box collaborator (§1, §4.1). Only the
// interface the crawl core depends on is in scope here; any real classifier
// (trained offline, loaded from disk, served over RPC) can be plugged in by
// implementing Classifier.
package mlrelevance

// Features is the fixed set of inputs the classifier sees for one URL, built
// from the URL entity's cached token projections (spec §4.1 Extract
// features). It intentionally carries no behavior, only data, so a real
// classifier implementation never needs to reach back into the crawler's
// internals.
type Features struct {
	URLTokens         []string
	AnchorTextTokens  []string
	SurroundingTokens []string
	TitleTextTokens   []string
	ServerName        string
}

// Classifier returns a binary relevance verdict for a URL's features. Real
// implementations are expected to be cheap and side-effect free; tubcrawl
// calls this once per harvested link.
type Classifier interface {
	Predict(f Features) bool
}

// LinearClassifier is a tiny, trainable stand-in for the real ML classifier,
// so this repository runs standalone without a trained model on disk. It
// scores a bag-of-words over URLTokens/AnchorTextTokens/TitleTextTokens
// against a learned weight per token and a threshold, the same shape as a
// one-layer logistic model would use for this feature set.
type LinearClassifier struct {
	Weights   map[string]float64
	Bias      float64
	Threshold float64
}

// NewLinearClassifier returns a classifier with all-zero weights, i.e. one
// that predicts the Bias sign until trained.
func NewLinearClassifier() *LinearClassifier {
	return &LinearClassifier{Weights: map[string]float64{}, Threshold: 0}
}

func (c *LinearClassifier) score(f Features) float64 {
	total := c.Bias
	for _, tok := range f.URLTokens {
		total += c.Weights[tok]
	}
	for _, tok := range f.AnchorTextTokens {
		total += 0.5 * c.Weights[tok]
	}
	for _, tok := range f.TitleTextTokens {
		total += 0.5 * c.Weights[tok]
	}
	return total
}

// Predict implements Classifier.
func (c *LinearClassifier) Predict(f Features) bool {
	return c.score(f) >= c.Threshold
}

// Train performs one pass of perceptron updates over the given
// labeled examples. It exists so the fallback classifier can be bootstrapped
// from a small labeled seed set without pulling in a training framework;
// the real classifier this adapts to is explicitly out of scope (spec §1).
func (c *LinearClassifier) Train(examples []Features, labels []bool, learningRate float64) {
	for i, f := range examples {
		want := 0.0
		if labels[i] {
			want = 1.0
		}
		got := 0.0
		if c.Predict(f) {
			got = 1.0
		}
		err := want - got
		if err == 0 {
			continue
		}
		delta := learningRate * err
		c.Bias += delta
		for _, tok := range f.URLTokens {
			c.Weights[tok] += delta
		}
		for _, tok := range f.AnchorTextTokens {
			c.Weights[tok] += delta * 0.5
		}
		for _, tok := range f.TitleTextTokens {
			c.Weights[tok] += delta * 0.5
		}
	}
}

// AlwaysRelevant is a Classifier that predicts true unconditionally, useful
// for tests and for bootstrap/ingest-serp tooling that should not filter on
// ML score at all.
type AlwaysRelevant struct{}

// Predict implements Classifier.
func (AlwaysRelevant) Predict(Features) bool { return true }
