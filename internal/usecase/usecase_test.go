package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"

	"esicmap/internal/adapter/embedding"
	"esicmap/internal/adapter/llm"
	"esicmap/internal/adapter/memstore"
	"esicmap/internal/domain"
	"esicmap/internal/logging"
	"esicmap/internal/vector"
)

func writeWorkbook(t *testing.T, name string, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), name)
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

var testKey = vector.VariantKey{Family: vector.FamilyCosine, Model: "m", Span: vector.SpanDescription}

func TestLoadESICPreservesOrder(t *testing.T) {
	rows := [][]interface{}{{"Code", "Type", "Title of category"}}
	codes := []string{"A01", "A02", "A03", "A04", "A05", "A06", "A07"}
	for _, c := range codes {
		rows = append(rows, []interface{}{c, "Main", "Title " + c})
	}
	rows = append(rows, []interface{}{"A01", "Main", "duplicate"})
	path := writeWorkbook(t, "esic.xlsx", rows)

	st := memstore.NewMemoryStore()
	builder := vector.NewBuilder(embedding.NewMockEmbedder(8), []string{"m"}, 8)
	uc := NewIngestUseCase(st, builder, nil, 3, logging.NewDiscard())

	var calls int
	var mu sync.Mutex
	res, err := uc.LoadESIC(context.Background(), path, func(done, total int) {
		mu.Lock()
		calls++
		mu.Unlock()
		if total != len(codes) {
			t.Errorf("total = %d, want %d", total, len(codes))
		}
	})
	if err != nil {
		t.Fatalf("LoadESIC failed: %v", err)
	}
	if res.Stored != len(codes) || res.Duplicates != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if calls != len(codes) {
		t.Errorf("progress called %d times, want %d", calls, len(codes))
	}

	var got []string
	err = st.ScanESIC(context.Background(), testKey, func(rec domain.ESICRecord, vec []float32) error {
		got = append(got, rec.Code)
		if len(vec) != 8 {
			t.Errorf("%s: vector length %d", rec.Code, len(vec))
		}
		want := vector.Normalize(mustEmbed(t, "Title "+rec.Code), vector.NormCosine)
		for i := range want {
			if vec[i] != want[i] {
				t.Fatalf("%s: vector does not belong to its record", rec.Code)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != strings.Join(codes, ",") {
		t.Errorf("order = %v, want %v", got, codes)
	}
}

func mustEmbed(t *testing.T, text string) []float32 {
	t.Helper()
	vec, err := embedding.NewMockEmbedder(8).Embed(context.Background(), text, "m")
	if err != nil {
		t.Fatal(err)
	}
	return vec
}

func TestLoadISICFallbackAndAdjusted(t *testing.T) {
	path := writeWorkbook(t, "isic.xlsx", [][]interface{}{
		{"sort_order", "section", "section_label", "code", "level", "full_code", "description", "explanatory_note_inclusion", "explanatory_note_exclusion"},
		{1, "A", "A", "0111", 4, "A0111", "Growing of cereals", "maize", "rice"},
		{2, "A", "A", "0112", 4, "A0112", "Growing of rice", "", ""},
	})

	mock := embedding.NewMockEmbedder(4)
	mock.EmbedFunc = func(ctx context.Context, text, model string) ([]float32, error) {
		if model == "broken" {
			return nil, errors.New("model not found")
		}
		return embedding.NewMockEmbedder(4).Embed(ctx, text, model)
	}
	st := memstore.NewMemoryStore()
	builder := vector.NewBuilder(mock, []string{"m", "broken"}, 4)
	uc := NewIngestUseCase(st, builder, nil, 2, logging.NewDiscard())

	res, err := uc.LoadISIC(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("LoadISIC failed: %v", err)
	}
	if res.Stored != 2 {
		t.Errorf("stored = %d, want 2", res.Stored)
	}
	if res.Fallbacks["broken"] != 2 || res.Fallbacks["m"] != 0 {
		t.Errorf("unexpected fallbacks %v", res.Fallbacks)
	}
	if res.Adjusted != 1 {
		t.Errorf("adjusted = %d, want 1", res.Adjusted)
	}
	if len(res.Errors) != 2 {
		t.Errorf("expected one error per failed record, got %v", res.Errors)
	}

	brokenKey := vector.VariantKey{Family: vector.FamilyCosine, Model: "broken", Span: vector.SpanWithNotes}
	err = st.ScanISIC(context.Background(), domain.Filter{}, brokenKey, func(rec domain.ISICRecord, vec []float32) error {
		if len(vec) != 4 {
			t.Errorf("%s: fallback vector length %d", rec.FullCode, len(vec))
		}
		for _, x := range vec {
			if x != 0 {
				t.Errorf("%s: fallback vector not zero: %v", rec.FullCode, vec)
				break
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLoadESICCancelled(t *testing.T) {
	path := writeWorkbook(t, "esic.xlsx", [][]interface{}{
		{"Code", "Type", "Title of category"},
		{"A01", "Main", "Growing of teff"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := memstore.NewMemoryStore()
	builder := vector.NewBuilder(embedding.NewMockEmbedder(4), []string{"m"}, 4)
	uc := NewIngestUseCase(st, builder, nil, 1, logging.NewDiscard())
	if _, err := uc.LoadESIC(ctx, path, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	stats, _ := st.Stats(context.Background())
	if stats.ESIC != 0 {
		t.Errorf("cancelled load stored %d records", stats.ESIC)
	}
}

func seedStore(t *testing.T) *memstore.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := memstore.NewMemoryStore()
	err := st.PutESIC(ctx, []domain.ESICRecord{
		{Code: "E1", Title: "Cereal farming", Embeddings: vector.Variants{testKey: {1, 0}}},
		{Code: "E2", Title: "Rice farming", Embeddings: vector.Variants{testKey: {0, 1}}},
		{Code: "E3", Title: "Not embedded"},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = st.ReplaceISIC(ctx, []domain.ISICRecord{
		{FullCode: "A0111", Level: 4, SectionLabel: "A", Description: "cereals", Embeddings: vector.Variants{testKey: {1, 0}}},
		{FullCode: "A0112", Level: 4, SectionLabel: "A", Description: "mixed", Embeddings: vector.Variants{testKey: {0.6, 0.8}}},
		{FullCode: "C1061", Level: 4, SectionLabel: "C", Description: "rice milling", Embeddings: vector.Variants{testKey: {0, 1}}},
		{FullCode: "A01", Level: 2, SectionLabel: "A", Description: "crop production", Embeddings: vector.Variants{testKey: {1, 0}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func matchCodes(ms []domain.Match) string {
	codes := make([]string, len(ms))
	for i, m := range ms {
		codes[i] = m.FullCode
	}
	return strings.Join(codes, ",")
}

func TestMapRanksAndPersists(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t)
	uc := NewMappingUseCase(st, logging.NewDiscard())

	opts := MapOptions{
		Mode:    vector.ModeCosine,
		Model:   "m",
		Span:    vector.SpanDescription,
		K:       2,
		Filter:  domain.Filter{Level: 4},
		Persist: true,
	}
	res, err := uc.Map(ctx, opts, nil)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}

	if res.Run.Skipped != 1 || res.Run.Mapped != 2 {
		t.Errorf("unexpected run %+v", res.Run)
	}
	if res.Candidates != 3 {
		t.Errorf("candidates = %d, want 3", res.Candidates)
	}
	if got := matchCodes(res.Results[0].Matches); got != "A0111,A0112" {
		t.Errorf("E1 matches = %s", got)
	}
	if got := matchCodes(res.Results[1].Matches); got != "C1061,A0112" {
		t.Errorf("E2 matches = %s", got)
	}
	if s := res.Results[1].Matches[1].Score; s != 0.8 {
		t.Errorf("E2 second score = %v, want 0.8", s)
	}

	if _, err := uc.Map(ctx, opts, nil); err != nil {
		t.Fatal(err)
	}
	stored, err := st.ListResults(ctx, testKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Errorf("stored results = %d after two runs, want 2", len(stored))
	}
	runs, _ := st.ListRuns(ctx)
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs))
	}
}

func TestMapSectionFilterAndDryRun(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t)
	uc := NewMappingUseCase(st, logging.NewDiscard())

	res, err := uc.Map(ctx, MapOptions{
		Mode:   vector.ModeCosine,
		Model:  "m",
		K:      5,
		Filter: domain.Filter{Level: 4, Section: "A"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := matchCodes(res.Results[1].Matches); got != "A0112,A0111" {
		t.Errorf("E2 section A matches = %s", got)
	}
	stored, _ := st.ListResults(ctx, testKey)
	if len(stored) != 0 {
		t.Errorf("dry run stored %d results", len(stored))
	}
}

func TestMapUnknownKeySkipsEverything(t *testing.T) {
	st := seedStore(t)
	uc := NewMappingUseCase(st, logging.NewDiscard())
	res, err := uc.Map(context.Background(), MapOptions{Mode: vector.ModeDistance, Model: "m", K: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Results) != 0 || res.Run.Skipped != 3 {
		t.Errorf("expected all ESIC records skipped, got %+v", res.Run)
	}
}

func TestQueryMatch(t *testing.T) {
	st := seedStore(t)
	mock := embedding.NewMockEmbedder(2)
	mock.EmbedFunc = func(ctx context.Context, text, model string) ([]float32, error) {
		return []float32{0, 3}, nil
	}
	uc := NewQueryUseCase(st, mock, nil, logging.NewDiscard())

	res, err := uc.Match(context.Background(), "  rice  ", MapOptions{Mode: vector.ModeCosine, Model: "m", K: 2, Filter: domain.Filter{Level: 4}})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if res.Title != "rice" || res.Key != testKey {
		t.Errorf("unexpected result %+v", res)
	}
	if got := matchCodes(res.Matches); got != "C1061,A0112" {
		t.Errorf("matches = %s", got)
	}
	if res.Matches[0].Score != 1 {
		t.Errorf("normalized query should score 1 against its own direction, got %v", res.Matches[0].Score)
	}

	if _, err := uc.Match(context.Background(), " ", MapOptions{Model: "m", K: 2}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestQueryEmbedFailure(t *testing.T) {
	mock := embedding.NewMockEmbedder(2)
	mock.EmbedFunc = func(ctx context.Context, text, model string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}
	uc := NewQueryUseCase(seedStore(t), mock, nil, logging.NewDiscard())
	if _, err := uc.Match(context.Background(), "rice", MapOptions{Mode: vector.ModeCosine, Model: "m", K: 2}); err == nil {
		t.Fatal("expected error when embedding fails")
	}
}

func TestRecommend(t *testing.T) {
	mock := embedding.NewMockEmbedder(2)
	mock.EmbedFunc = func(ctx context.Context, text, model string) ([]float32, error) {
		return []float32{1, 0}, nil
	}
	gen := &llm.MockGenerator{}
	uc := NewQueryUseCase(seedStore(t), mock, gen, logging.NewDiscard())

	rec, err := uc.Recommend(context.Background(), "Cereal farming", MapOptions{Mode: vector.ModeCosine, Model: "m", K: 1, Filter: domain.Filter{Level: 4}}, "qwen3:14b")
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	if rec.Answer != "mock recommendation" {
		t.Errorf("answer = %q", rec.Answer)
	}
	if len(gen.Prompts) != 1 || gen.Prompts[0] != rec.Prompt {
		t.Fatalf("generator did not receive the prompt")
	}
	if !strings.Contains(rec.Prompt, "ISIC Code: A0111") {
		t.Errorf("prompt missing top match:\n%s", rec.Prompt)
	}

	noGen := NewQueryUseCase(seedStore(t), mock, nil, logging.NewDiscard())
	if _, err := noGen.Recommend(context.Background(), "x", MapOptions{Model: "m", K: 1}, "qwen3:14b"); err == nil {
		t.Error("expected error without a generator")
	}
}

func TestBuildReasoningPrompt(t *testing.T) {
	matches := []domain.Match{
		{
			FullCode: "A0111", Description: "Growing of cereals",
			Section: "A", SectionLabel: "Agriculture",
			Division: "01", DivisionLabel: "Crop production",
			Group: "011", GroupLabel: "Non-perennial crops",
			Inclusion: "maize", Score: 0.912,
		},
		{FullCode: "A0112", Description: "Growing of rice", Score: 0.8},
	}
	prompt := BuildReasoningPrompt("Teff farming", matches, "mxbai-embed-large", vector.ModeCosine)

	for _, want := range []string{
		"ESIC Title of Category: Teff farming\n\n",
		"Top 2 ISIC semantic matches retrieved via embedding model 'mxbai-embed-large' and similarity metric 'cosine':",
		"ISIC Code: A0111",
		"Section: A - Agriculture",
		"Includes: maize",
		"Similarity Score: 0.912",
		"Similarity Score: 0.800",
		"no more than 150 words.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Excludes:") {
		t.Error("prompt should omit empty exclusion notes")
	}
}

func TestProbe(t *testing.T) {
	var seen string
	mock := embedding.NewMockEmbedder(2)
	mock.EmbedFunc = func(ctx context.Context, text, model string) ([]float32, error) {
		seen = text
		return []float32{3, 4}, nil
	}
	uc := NewQueryUseCase(memstore.NewMemoryStore(), mock, nil, logging.NewDiscard())
	vec, err := uc.Probe(context.Background(), "m", vector.NormCosine)
	if err != nil {
		t.Fatal(err)
	}
	if seen != SampleText {
		t.Errorf("probe embedded %q", seen)
	}
	if len(vec) != 2 || vec[0] != 0.6 || vec[1] != 0.8 {
		t.Errorf("unexpected probe vector %v", vec)
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t)
	if _, err := NewMappingUseCase(st, logging.NewDiscard()).Map(ctx, MapOptions{
		Mode: vector.ModeCosine, Model: "m", K: 2, Filter: domain.Filter{Level: 4}, Persist: true,
	}, nil); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "output")
	path, n, err := NewExportUseCase(st, logging.NewDiscard()).Export(ctx, testKey, dir, nil)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d rows, want 2", n)
	}
	if want := filepath.Join(dir, "embedding_cosine_m_mapping_results.xlsx"); path != want {
		t.Errorf("path = %s, want %s", path, want)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows("ESIC-ISIC Mapping")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if rows[1][0] != "E1" || rows[1][2] != "A0111" {
		t.Errorf("unexpected first row %v", rows[1])
	}
}
