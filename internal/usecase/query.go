package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"esicmap/internal/domain"
	"esicmap/internal/logging"
	"esicmap/internal/port"
	"esicmap/internal/vector"
)

// SampleText is embedded by the endpoint probe.
const SampleText = "Growing of cereals including maize and teff"

// ErrEmptyQuery is returned when the title to match is blank.
var ErrEmptyQuery = errors.New("empty query")

// QueryUseCase matches free-text titles against the stored ISIC catalogue
// and asks a generative model to pick among the matches.
type QueryUseCase struct {
	store     port.CandidateSource
	embedder  port.Embedder
	generator port.Generator
	logger    *logging.Logger
}

// NewQueryUseCase creates a query use case. generator may be nil when only
// matching is needed.
func NewQueryUseCase(store port.CandidateSource, embedder port.Embedder, generator port.Generator, logger *logging.Logger) *QueryUseCase {
	return &QueryUseCase{
		store:     store,
		embedder:  embedder,
		generator: generator,
		logger:    logger,
	}
}

// QueryResult holds the matches for one title.
type QueryResult struct {
	Title   string
	Key     vector.VariantKey
	Mode    vector.SimilarityMode
	Matches []domain.Match
}

// Match embeds title with opts.Model, normalizes it the way the resolved
// key's vectors were stored, and ranks the filtered ISIC candidates.
func (u *QueryUseCase) Match(ctx context.Context, title string, opts MapOptions) (*QueryResult, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyQuery
	}
	if !opts.Mode.Valid() {
		u.logger.Warn("unknown similarity mode %q, using cosine", opts.Mode)
		opts.Mode = vector.ModeCosine
	}
	key := opts.Key()

	raw, err := u.embedder.Embed(ctx, title, opts.Model)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("embed query: model %s returned no vector", opts.Model)
	}
	query := vector.Normalize(raw, key.Family.Normalization())

	scan := func(ctx context.Context, key vector.VariantKey, visit func(domain.ISICRecord, []float32) error) error {
		return u.store.ScanISIC(ctx, opts.Filter, key, visit)
	}
	ranked, err := vector.Rank[domain.ISICRecord](ctx, query, scan, key, opts.K, u.logger)
	if err != nil {
		return nil, fmt.Errorf("rank: %w", err)
	}

	return &QueryResult{
		Title:   title,
		Key:     key,
		Mode:    opts.Mode,
		Matches: project(ranked),
	}, nil
}

// Recommendation is the generated answer together with its inputs.
type Recommendation struct {
	*QueryResult
	Prompt string
	Answer string
}

// Recommend matches title and asks genModel to choose among the matches.
func (u *QueryUseCase) Recommend(ctx context.Context, title string, opts MapOptions, genModel string) (*Recommendation, error) {
	if u.generator == nil {
		return nil, errors.New("no generator configured")
	}
	res, err := u.Match(ctx, title, opts)
	if err != nil {
		return nil, err
	}
	if len(res.Matches) == 0 {
		return nil, fmt.Errorf("no ISIC matches for %q with %s", res.Title, res.Key)
	}

	prompt := BuildReasoningPrompt(res.Title, res.Matches, opts.Model, res.Mode)
	u.logger.Debug("reasoning prompt for %q:\n%s", res.Title, prompt)

	answer, err := u.generator.Generate(ctx, genModel, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate with %s: %w", genModel, err)
	}
	return &Recommendation{QueryResult: res, Prompt: prompt, Answer: strings.TrimSpace(answer)}, nil
}

// BuildReasoningPrompt lists the matches with their hierarchy and notes and
// asks for one recommended ISIC class.
func BuildReasoningPrompt(title string, matches []domain.Match, model string, mode vector.SimilarityMode) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ESIC Title of Category: %s\n\n", title)
	fmt.Fprintf(&sb, "Top %d ISIC semantic matches retrieved via embedding model '%s' and similarity metric '%s':\n", len(matches), model, mode)

	for i, m := range matches {
		fmt.Fprintf(&sb, "\n%d. ISIC Code: %s\n", i+1, m.FullCode)
		fmt.Fprintf(&sb, "   Description: %s\n", m.Description)
		fmt.Fprintf(&sb, "   Section: %s - %s\n", m.Section, m.SectionLabel)
		fmt.Fprintf(&sb, "   Division: %s - %s\n", m.Division, m.DivisionLabel)
		fmt.Fprintf(&sb, "   Group: %s - %s\n", m.Group, m.GroupLabel)
		if m.Inclusion != "" {
			fmt.Fprintf(&sb, "   Includes: %s\n", m.Inclusion)
		}
		if m.Exclusion != "" {
			fmt.Fprintf(&sb, "   Excludes: %s\n", m.Exclusion)
		}
		fmt.Fprintf(&sb, "   Similarity Score: %.3f\n", m.Score)
	}

	sb.WriteString("\nBased on the semantic context, classification structure, and similarity scores provided above, " +
		"recommend the most appropriate ISIC classification for the ESIC (Ethiopian Standard Industrial Classification) category. " +
		"Briefly justify your choice with clear reasoning in no more than 150 words.")
	return sb.String()
}

// Probe embeds SampleText with model and normalizes it with norm.
func (u *QueryUseCase) Probe(ctx context.Context, model string, norm vector.NormalizationMode) ([]float32, error) {
	raw, err := u.embedder.Embed(ctx, SampleText, model)
	if err != nil {
		return nil, fmt.Errorf("embed sample with %s: %w", model, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("model %s returned no vector", model)
	}
	return vector.Normalize(raw, norm), nil
}
