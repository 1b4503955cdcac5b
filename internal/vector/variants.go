package vector

import (
	"context"
	"errors"
	"fmt"
)

// Embedder turns text into a raw embedding with the named model.
type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// Variants maps each variant key to its stored vector.
type Variants map[VariantKey][]float32

// Get returns the vector stored under key, or nil.
func (v Variants) Get(key VariantKey) []float32 {
	if v == nil {
		return nil
	}
	return v[key]
}

// Texts holds the spans embedded for one record. Full defaults to Positive
// when empty. Negative is optional and only affects the full span.
type Texts struct {
	Positive string
	Full     string
	Negative string
}

// ModelReport describes how one model fared while building variants.
type ModelReport struct {
	Model string
	// Fallback is set when the model's keys hold zero vectors.
	Fallback bool
	// Adjusted is set when the exclusion vector was subtracted.
	Adjusted bool
	Err      error
}

var errEmptyEmbedding = errors.New("empty embedding")

// Builder produces every stored variant of a record.
type Builder struct {
	embedder  Embedder
	models    []string
	dimension int
}

// NewBuilder creates a Builder. dimension is the size of the zero vector
// written when a model fails.
func NewBuilder(embedder Embedder, models []string, dimension int) *Builder {
	return &Builder{
		embedder:  embedder,
		models:    models,
		dimension: dimension,
	}
}

// Models returns the embedding models the builder writes.
func (b *Builder) Models() []string {
	return b.models
}

// Build embeds texts with every model. A failing model gets zero vectors
// under all of its keys and the remaining models are still processed.
func (b *Builder) Build(ctx context.Context, texts Texts) (Variants, []ModelReport) {
	out := make(Variants, len(b.models)*len(Families)*2)
	reports := make([]ModelReport, 0, len(b.models))

	for _, model := range b.models {
		report := b.buildModel(ctx, model, texts, out)
		reports = append(reports, report)
	}
	return out, reports
}

func (b *Builder) buildModel(ctx context.Context, model string, texts Texts, out Variants) ModelReport {
	report := ModelReport{Model: model}

	full := texts.Full
	if full == "" {
		full = texts.Positive
	}

	short, err := b.embed(ctx, texts.Positive, model)
	if err != nil {
		return b.fallback(model, fmt.Errorf("positive text: %w", err), out)
	}

	long := short
	if full != texts.Positive {
		long, err = b.embed(ctx, full, model)
		if err != nil {
			return b.fallback(model, fmt.Errorf("full text: %w", err), out)
		}
	}

	if texts.Negative != "" {
		neg, err := b.embed(ctx, texts.Negative, model)
		if err != nil {
			return b.fallback(model, fmt.Errorf("negative text: %w", err), out)
		}
		long, report.Adjusted = Subtract(long, neg)
	}

	for _, f := range Families {
		out[VariantKey{Family: f, Model: model, Span: SpanDescription}] = Normalize(short, f.Normalization())
		out[VariantKey{Family: f, Model: model, Span: SpanWithNotes}] = Normalize(long, f.Normalization())
	}
	return report
}

func (b *Builder) embed(ctx context.Context, text, model string) ([]float32, error) {
	vec, err := b.embedder.Embed(ctx, text, model)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, errEmptyEmbedding
	}
	return vec, nil
}

func (b *Builder) fallback(model string, err error, out Variants) ModelReport {
	for _, key := range KeysForModel(model) {
		out[key] = Zero(b.dimension)
	}
	return ModelReport{Model: model, Fallback: true, Err: err}
}
