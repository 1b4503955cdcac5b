package vector

import (
	"context"
	"sort"

	"esicmap/internal/logging"
)

// Ranked pairs a candidate with its rounded score.
type Ranked[T any] struct {
	Item  T
	Score float64
}

// Collector accumulates scored candidates in encounter order and yields the
// top k. It lets a store stream candidates without loading them all first.
type Collector[T any] struct {
	query  []float32
	mode   SimilarityMode
	k      int
	logger *logging.Logger

	scored   []Ranked[T]
	skipped  int
	failures int
}

// NewCollector scores against query with mode and keeps at most k results.
// k <= 0 keeps nothing.
func NewCollector[T any](query []float32, mode SimilarityMode, k int, logger *logging.Logger) *Collector[T] {
	return &Collector[T]{
		query:  query,
		mode:   mode,
		k:      k,
		logger: logger,
	}
}

// Add scores one candidate. Candidates without a vector are skipped rather
// than scored as zero. Failed comparisons are logged and kept at score 0.
func (c *Collector[T]) Add(item T, vec []float32) {
	if len(vec) == 0 {
		c.skipped++
		return
	}
	s := Compare(c.query, vec, c.mode)
	if !s.OK() {
		c.failures++
		c.logger.Warn("score fallback to 0: %s", s)
	}
	c.scored = append(c.scored, Ranked[T]{Item: item, Score: Round3(s.Value)})
}

// Skipped returns how many candidates had no vector.
func (c *Collector[T]) Skipped() int {
	return c.skipped
}

// Failures returns how many comparisons fell back to the neutral score.
func (c *Collector[T]) Failures() int {
	return c.failures
}

// Results sorts by descending score and truncates to k. Equal scores keep
// the order in which candidates were added.
func (c *Collector[T]) Results() []Ranked[T] {
	if c.k <= 0 || len(c.scored) == 0 {
		return nil
	}
	out := make([]Ranked[T], len(c.scored))
	copy(out, c.scored)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > c.k {
		out = out[:c.k]
	}
	return out
}

// Candidate is anything that carries stored variants.
type Candidate interface {
	Vector(key VariantKey) []float32
}

// FindTopMatches ranks candidates against query using the vector stored at
// key and the metric that key implies. keep, when non-nil, excludes
// candidates before they are scored.
func FindTopMatches[T Candidate](query []float32, candidates []T, key VariantKey, k int, keep func(T) bool, logger *logging.Logger) []Ranked[T] {
	c := NewCollector[T](query, key.Mode(), k, logger)
	for _, cand := range candidates {
		if keep != nil && !keep(cand) {
			continue
		}
		c.Add(cand, cand.Vector(key))
	}
	return c.Results()
}

// ScanFunc streams candidates with the vector each one stores at key.
type ScanFunc[T any] func(ctx context.Context, key VariantKey, visit func(item T, vec []float32) error) error

// Rank is FindTopMatches over a streamed candidate set. Filtering is the
// scanner's job.
func Rank[T any](ctx context.Context, query []float32, scan ScanFunc[T], key VariantKey, k int, logger *logging.Logger) ([]Ranked[T], error) {
	c := NewCollector[T](query, key.Mode(), k, logger)
	err := scan(ctx, key, func(item T, vec []float32) error {
		c.Add(item, vec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.Results(), nil
}
