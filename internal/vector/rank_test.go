package vector

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"esicmap/internal/logging"
)

type testCandidate struct {
	id      string
	level   int
	section string
	vectors Variants
}

func (c testCandidate) Vector(key VariantKey) []float32 {
	return c.vectors.Get(key)
}

var testKey = ResolveKey(ModeDotProduct, "m", SpanDescription)

func withScore(id string, v float32) testCandidate {
	// dot([1,0], [v, 0]) == v
	return testCandidate{id: id, level: 4, vectors: Variants{testKey: {v, 0}}}
}

func ids(results []Ranked[testCandidate]) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Item.id
	}
	return out
}

func TestFindTopMatchesTieBreakKeepsEncounterOrder(t *testing.T) {
	candidates := []testCandidate{withScore("A", 0.80), withScore("B", 0.80), withScore("C", 0.79)}
	got := FindTopMatches([]float32{1, 0}, candidates, testKey, 2, nil, logging.NewDiscard())

	if strings.Join(ids(got), ",") != "A,B" {
		t.Fatalf("expected [A B], got %v", ids(got))
	}

	// Reversing the encounter order of the tied pair reverses the output.
	candidates[0], candidates[1] = candidates[1], candidates[0]
	got = FindTopMatches([]float32{1, 0}, candidates, testKey, 2, nil, logging.NewDiscard())
	if strings.Join(ids(got), ",") != "B,A" {
		t.Fatalf("expected [B A], got %v", ids(got))
	}
}

func TestFindTopMatchesBoundsAndOrdering(t *testing.T) {
	candidates := []testCandidate{
		withScore("a", 0.1), withScore("b", 0.9), withScore("c", 0.5),
		withScore("d", 0.7), withScore("e", 0.3), withScore("f", 0.9),
	}
	for k := 0; k <= len(candidates)+2; k++ {
		got := FindTopMatches([]float32{1, 0}, candidates, testKey, k, nil, logging.NewDiscard())
		want := min(k, len(candidates))
		if len(got) != want {
			t.Errorf("k=%d: got %d results, want %d", k, len(got), want)
		}
		for i := 1; i < len(got); i++ {
			if got[i].Score > got[i-1].Score {
				t.Errorf("k=%d: scores not non-increasing at %d: %v", k, i, got)
			}
		}
	}
}

func TestFindTopMatchesFewerThanK(t *testing.T) {
	candidates := []testCandidate{
		withScore("a", 0.4),
		withScore("b", 0.6),
		{id: "no-vector", level: 4},
	}
	got := FindTopMatches([]float32{1, 0}, candidates, testKey, 3, nil, logging.NewDiscard())
	if len(got) != 2 {
		t.Fatalf("expected exactly 2 results, got %d (%v)", len(got), ids(got))
	}
	if got[0].Item.id != "b" || got[1].Item.id != "a" {
		t.Errorf("unexpected order %v", ids(got))
	}
}

func TestFindTopMatchesFilterAppliesBeforeScoring(t *testing.T) {
	candidates := []testCandidate{withScore("best", 0.99), withScore("kept", 0.2)}
	candidates[0].level = 3
	keep := func(c testCandidate) bool { return c.level == 4 }

	got := FindTopMatches([]float32{1, 0}, candidates, testKey, 5, keep, logging.NewDiscard())
	if len(got) != 1 || got[0].Item.id != "kept" {
		t.Fatalf("expected only the level-4 candidate, got %v", ids(got))
	}
}

func TestFindTopMatchesRoundsScores(t *testing.T) {
	candidates := []testCandidate{withScore("a", 0.123456)}
	got := FindTopMatches([]float32{1, 0}, candidates, testKey, 1, nil, logging.NewDiscard())
	if got[0].Score != 0.123 {
		t.Errorf("expected score rounded to 0.123, got %v", got[0].Score)
	}
}

func TestCollectorLogsScoreFailures(t *testing.T) {
	var errOut bytes.Buffer
	logger := logging.NewWithWriters("info", &bytes.Buffer{}, &errOut)

	c := NewCollector[string]([]float32{1, 0}, ModeCosine, 5, logger)
	c.Add("mismatch", []float32{1, 0, 0})
	c.Add("missing", nil)
	c.Add("ok", []float32{1, 0})

	if c.Failures() != 1 || c.Skipped() != 1 {
		t.Errorf("failures=%d skipped=%d, want 1 and 1", c.Failures(), c.Skipped())
	}
	if !strings.Contains(errOut.String(), string(FailureDimensionMismatch)) {
		t.Errorf("expected dimension mismatch to be logged, got %q", errOut.String())
	}
	res := c.Results()
	if len(res) != 2 || res[0].Item != "ok" || res[1].Score != 0 {
		t.Errorf("unexpected results %+v", res)
	}
}

func TestEndToEndQueryMatchesStoredCandidate(t *testing.T) {
	key := ResolveKey(ModeCosine, "m", SpanDescription)
	raw := [][]float32{
		{1, 0, 0, 0},
		{0.6, 0.8, 0, 0},
		{0.2, 0.1, 0.9, 0.3},
		{0, 0, 1, 0},
		{0.5, 0.5, 0.5, 0.5},
	}
	candidates := make([]testCandidate, len(raw))
	for i, v := range raw {
		candidates[i] = testCandidate{
			id:      string(rune('1' + i)),
			level:   4,
			vectors: Variants{key: Normalize(v, NormCosine)},
		}
	}

	query := candidates[2].Vector(key)
	keep := func(c testCandidate) bool { return c.level == 4 }
	got := FindTopMatches(query, candidates, key, 1, keep, logging.NewDiscard())

	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	if got[0].Item.id != "3" {
		t.Errorf("expected candidate #3, got #%s", got[0].Item.id)
	}
	if got[0].Score != 1.0 {
		t.Errorf("expected score 1.0, got %v", got[0].Score)
	}
}

type fakeEmbedder struct {
	vectors map[string][]float32
	fail    map[string]bool
	calls   []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text, model string) ([]float32, error) {
	f.calls = append(f.calls, model+"|"+text)
	if f.fail[model] {
		return nil, errors.New("backend unavailable")
	}
	return f.vectors[text], nil
}

func TestBuildVariantsWithoutNegative(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"wheat farming":                {3, 4},
		"wheat farming. \n Includes: x": {0, 2},
	}}
	b := NewBuilder(emb, []string{"m"}, 2)

	got, reports := b.Build(context.Background(), Texts{
		Positive: "wheat farming",
		Full:     "wheat farming. \n Includes: x",
	})
	if len(reports) != 1 || reports[0].Fallback || reports[0].Adjusted {
		t.Fatalf("unexpected report %+v", reports)
	}

	rawFull := got.Get(VariantKey{Family: FamilyRaw, Model: "m", Span: SpanWithNotes})
	if rawFull[0] != 0 || rawFull[1] != 2 {
		t.Errorf("full raw vector = %v, want unadjusted [0 2]", rawFull)
	}
	cosShort := got.Get(VariantKey{Family: FamilyCosine, Model: "m", Span: SpanDescription})
	if !floatEquals(float64(cosShort[0]), 0.6, 1e-6) || !floatEquals(float64(cosShort[1]), 0.8, 1e-6) {
		t.Errorf("short cosine vector = %v, want [0.6 0.8]", cosShort)
	}
	if len(got) != 6 {
		t.Errorf("expected 6 variants, got %d", len(got))
	}
	for _, call := range emb.calls {
		if call == "m|" {
			t.Error("empty negative text must not be embedded")
		}
	}
}

func TestBuildVariantsSameTextEmbedsOnce(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"wheat farming": {3, 4}}}
	b := NewBuilder(emb, []string{"m"}, 2)

	got, _ := b.Build(context.Background(), Texts{Positive: "wheat farming"})
	if len(emb.calls) != 1 {
		t.Errorf("expected a single embed call, got %v", emb.calls)
	}
	short := got.Get(VariantKey{Family: FamilyRaw, Model: "m", Span: SpanDescription})
	full := got.Get(VariantKey{Family: FamilyRaw, Model: "m", Span: SpanWithNotes})
	if short[0] != full[0] || short[1] != full[1] {
		t.Errorf("full span should equal positive embedding, got %v vs %v", full, short)
	}
}

func TestBuildVariantsSubtractsNegative(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"pos":  {1, 1},
		"full": {3, 4},
		"neg":  {3, 0},
	}}
	b := NewBuilder(emb, []string{"m"}, 2)

	got, reports := b.Build(context.Background(), Texts{Positive: "pos", Full: "full", Negative: "neg"})
	if !reports[0].Adjusted {
		t.Error("expected adjusted report")
	}
	raw := got.Get(VariantKey{Family: FamilyRaw, Model: "m", Span: SpanWithNotes})
	if raw[0] != 0 || raw[1] != 4 {
		t.Errorf("adjusted raw = %v, want [0 4]", raw)
	}
	dot := got.Get(VariantKey{Family: FamilyDot, Model: "m", Span: SpanWithNotes})
	if dot[0] != 0 || dot[1] != 1 {
		t.Errorf("adjusted dot = %v, want [0 1]", dot)
	}
}

func TestBuildVariantsNegativeDimensionMismatchFallsBack(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"pos":  {1, 1},
		"full": {3, 4},
		"neg":  {3, 0, 1},
	}}
	b := NewBuilder(emb, []string{"m"}, 2)

	got, reports := b.Build(context.Background(), Texts{Positive: "pos", Full: "full", Negative: "neg"})
	if reports[0].Adjusted || reports[0].Fallback {
		t.Errorf("unexpected report %+v", reports[0])
	}
	raw := got.Get(VariantKey{Family: FamilyRaw, Model: "m", Span: SpanWithNotes})
	if raw[0] != 3 || raw[1] != 4 {
		t.Errorf("expected unadjusted full vector, got %v", raw)
	}
}

func TestBuildVariantsModelFailureIsIsolated(t *testing.T) {
	emb := &fakeEmbedder{
		vectors: map[string][]float32{"text": {1, 2, 3}},
		fail:    map[string]bool{"broken": true},
	}
	b := NewBuilder(emb, []string{"broken", "good"}, 5)

	got, reports := b.Build(context.Background(), Texts{Positive: "text"})
	if !reports[0].Fallback || reports[0].Err == nil {
		t.Errorf("expected fallback report for broken model, got %+v", reports[0])
	}
	if reports[1].Fallback {
		t.Errorf("good model should not fall back: %+v", reports[1])
	}
	for _, key := range KeysForModel("broken") {
		v := got.Get(key)
		if len(v) != 5 || !IsZero(v) {
			t.Errorf("%s = %v, want zero vector of dim 5", key, v)
		}
	}
	if v := got.Get(VariantKey{Family: FamilyRaw, Model: "good", Span: SpanDescription}); len(v) != 3 {
		t.Errorf("good model raw vector = %v", v)
	}
}

func TestBuildVariantsEmptyEmbeddingFallsBack(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{}}
	b := NewBuilder(emb, []string{"m"}, 3)

	got, reports := b.Build(context.Background(), Texts{Positive: "unknown"})
	if !reports[0].Fallback || !errors.Is(reports[0].Err, errEmptyEmbedding) {
		t.Errorf("expected empty-embedding fallback, got %+v", reports[0])
	}
	if v := got.Get(VariantKey{Family: FamilyCosine, Model: "m", Span: SpanWithNotes}); len(v) != 3 || !IsZero(v) {
		t.Errorf("expected zero vector, got %v", v)
	}
}

func sliceScan(cands []testCandidate) ScanFunc[testCandidate] {
	return func(ctx context.Context, key VariantKey, visit func(testCandidate, []float32) error) error {
		for _, c := range cands {
			if err := visit(c, c.Vector(key)); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestRankMatchesFindTopMatches(t *testing.T) {
	cands := []testCandidate{
		withScore("A", 0.2), withScore("B", 0.9), {id: "none"}, withScore("C", 0.9), withScore("D", 0.5),
	}
	query := []float32{1, 0}

	streamed, err := Rank(context.Background(), query, sliceScan(cands), testKey, 3, logging.NewDiscard())
	if err != nil {
		t.Fatal(err)
	}
	direct := FindTopMatches(query, cands, testKey, 3, nil, logging.NewDiscard())

	if got, want := strings.Join(ids(streamed), ","), strings.Join(ids(direct), ","); got != want || got != "B,C,D" {
		t.Errorf("Rank = %s, FindTopMatches = %s, want B,C,D", got, want)
	}
}

func TestRankPropagatesScanError(t *testing.T) {
	boom := errors.New("scan failed")
	scan := func(ctx context.Context, key VariantKey, visit func(testCandidate, []float32) error) error {
		return boom
	}
	if _, err := Rank[testCandidate](context.Background(), []float32{1, 0}, scan, testKey, 3, nil); !errors.Is(err, boom) {
		t.Fatalf("expected scan error, got %v", err)
	}
}
