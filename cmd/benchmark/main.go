package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"esicmap/config"
	"esicmap/internal/adapter/store"
	"esicmap/internal/domain"
	"esicmap/internal/logging"
	"esicmap/internal/usecase"
	"esicmap/internal/vector"
)

// variant is one metric and span combination under comparison.
type variant struct {
	mode vector.SimilarityMode
	span vector.TextSpan
}

func (v variant) String() string {
	return fmt.Sprintf("%s/%s", v.mode, v.span)
}

func main() {
	dir := flag.String("dir", ".", "Working directory holding .esicmap/store.db")
	model := flag.String("model", "", "Embedding model (default from config)")
	topK := flag.Int("k", 5, "Matches per ESIC category")
	level := flag.Int("level", -1, "ISIC level (default from config)")
	show := flag.Int("show", 3, "Disagreements to print per variant")
	flag.Parse()

	cfg, err := config.LoadFromDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(*dir)
	if *model == "" {
		*model = cfg.Embedding.DefaultModel
	}
	if *level < 0 {
		*level = cfg.Search.Level
	}

	st, err := store.NewBoltStore(config.DBPath(*dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	stats, err := st.Stats(ctx)
	if err != nil || stats.ESIC == 0 || stats.ISIC == 0 {
		fmt.Fprintln(os.Stderr, "No records stored - run 'esicmap load' first")
		os.Exit(1)
	}

	fmt.Println("SIMILARITY METRIC BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("ESIC records: %d, ISIC records: %d\n", stats.ESIC, stats.ISIC)
	fmt.Printf("Model: %s, top-%d, level %d\n\n", *model, *topK, *level)

	mapUC := usecase.NewMappingUseCase(st, logging.New("warn"))
	var variants []variant
	for _, span := range []vector.TextSpan{vector.SpanDescription, vector.SpanWithNotes} {
		for _, mode := range vector.SimilarityModes {
			variants = append(variants, variant{mode: mode, span: span})
		}
	}

	results := make(map[variant][]domain.MappingResult, len(variants))
	for _, v := range variants {
		res, err := mapUC.Map(ctx, usecase.MapOptions{
			Mode:   v.mode,
			Model:  *model,
			Span:   v.span,
			K:      *topK,
			Filter: domain.Filter{Level: *level},
		}, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", v, err)
			os.Exit(1)
		}
		results[v] = res.Results
	}

	baseline := variants[0]
	fmt.Printf("%-40s %8s %10s %10s\n", "Variant", "Mapped", "Avg top-1", "Agreement")
	fmt.Println(strings.Repeat("-", 70))
	for _, v := range variants {
		rs := results[v]
		fmt.Printf("%-40s %8d %10.3f %9.1f%%\n", v, len(rs), avgTop1(rs), 100*agreement(results[baseline], rs))
	}

	for _, v := range variants[1:] {
		diffs := disagreements(results[baseline], results[v])
		if len(diffs) == 0 {
			continue
		}
		fmt.Printf("\n%s vs %s, first disagreements:\n", v, baseline)
		for _, d := range diffs[:min(*show, len(diffs))] {
			fmt.Printf("  %s\n", d)
		}
	}
}

func top1(r domain.MappingResult) (domain.Match, bool) {
	if len(r.Matches) == 0 {
		return domain.Match{}, false
	}
	return r.Matches[0], true
}

func avgTop1(rs []domain.MappingResult) float64 {
	total, n := 0.0, 0
	for _, r := range rs {
		if m, ok := top1(r); ok {
			total += m.Score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// agreement is the share of ESIC codes whose top match is the same in
// both result sets, over codes present in both.
func agreement(a, b []domain.MappingResult) float64 {
	top := make(map[string]string, len(a))
	for _, r := range a {
		if m, ok := top1(r); ok {
			top[r.ESICCode] = m.FullCode
		}
	}
	same, both := 0, 0
	for _, r := range b {
		m, ok := top1(r)
		want, seen := top[r.ESICCode]
		if !ok || !seen {
			continue
		}
		both++
		if m.FullCode == want {
			same++
		}
	}
	if both == 0 {
		return 0
	}
	return float64(same) / float64(both)
}

func disagreements(a, b []domain.MappingResult) []string {
	top := make(map[string]domain.Match, len(a))
	for _, r := range a {
		if m, ok := top1(r); ok {
			top[r.ESICCode] = m
		}
	}
	var out []string
	for _, r := range b {
		m, ok := top1(r)
		want, seen := top[r.ESICCode]
		if !ok || !seen || m.FullCode == want.FullCode {
			continue
		}
		out = append(out, fmt.Sprintf("%s %q: %s (%.3f) vs %s (%.3f)", r.ESICCode, r.Title, m.FullCode, m.Score, want.FullCode, want.Score))
	}
	return out
}
