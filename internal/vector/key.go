package vector

import (
	"fmt"
	"strings"
)

// KeyFamily is the stored representation a variant key points at.
type KeyFamily string

const (
	FamilyRaw    KeyFamily = "raw"
	FamilyCosine KeyFamily = "cosine"
	FamilyDot    KeyFamily = "dot"
)

// Families lists the stored representations in write order.
var Families = []KeyFamily{FamilyRaw, FamilyCosine, FamilyDot}

// Normalization returns the normalization that produces vectors of family f.
func (f KeyFamily) Normalization() NormalizationMode {
	switch f {
	case FamilyCosine:
		return NormCosine
	case FamilyDot:
		return NormDotProduct
	}
	return NormRaw
}

// VariantKey identifies one stored embedding of a record.
type VariantKey struct {
	Family KeyFamily
	Model  string
	Span   TextSpan
}

// String renders the key as embedding_{family}_{model}[_full].
func (k VariantKey) String() string {
	var sb strings.Builder
	sb.WriteString("embedding_")
	sb.WriteString(string(k.Family))
	sb.WriteByte('_')
	sb.WriteString(k.Model)
	if k.Span == SpanWithNotes {
		sb.WriteString("_full")
	}
	return sb.String()
}

// ParseVariantKey parses embedding_{family}_{model}[_full]. Model names may
// contain underscores.
func ParseVariantKey(s string) (VariantKey, error) {
	rest, ok := strings.CutPrefix(s, "embedding_")
	if !ok {
		return VariantKey{}, fmt.Errorf("variant key %q: missing embedding_ prefix", s)
	}
	family, model, ok := strings.Cut(rest, "_")
	if !ok || model == "" {
		return VariantKey{}, fmt.Errorf("variant key %q: missing model", s)
	}
	key := VariantKey{Family: KeyFamily(family), Span: SpanDescription}
	switch key.Family {
	case FamilyRaw, FamilyCosine, FamilyDot:
	default:
		return VariantKey{}, fmt.Errorf("variant key %q: unknown family %q", s, family)
	}
	if trimmed, full := strings.CutSuffix(model, "_full"); full && trimmed != "" {
		model = trimmed
		key.Span = SpanWithNotes
	}
	key.Model = model
	return key, nil
}

// ResolveKey derives the stored field used for mode, model and span. It is
// the only place this mapping lives; ingestion and ranking both call it.
//
// distance reads the raw vector while cosine and dotProduct read the unit
// vectors. Unknown modes resolve to the cosine family.
func ResolveKey(mode SimilarityMode, model string, span TextSpan) VariantKey {
	family := FamilyCosine
	switch mode {
	case ModeDotProduct:
		family = FamilyDot
	case ModeDistance:
		family = FamilyRaw
	}
	if span != SpanWithNotes {
		span = SpanDescription
	}
	return VariantKey{Family: family, Model: model, Span: span}
}

// Mode returns the similarity metric that reads this key. It inverts
// ResolveKey for supported modes.
func (k VariantKey) Mode() SimilarityMode {
	switch k.Family {
	case FamilyDot:
		return ModeDotProduct
	case FamilyRaw:
		return ModeDistance
	}
	return ModeCosine
}

// KeysForModel returns every variant key written for model.
func KeysForModel(model string) []VariantKey {
	keys := make([]VariantKey, 0, len(Families)*2)
	for _, span := range []TextSpan{SpanDescription, SpanWithNotes} {
		for _, f := range Families {
			keys = append(keys, VariantKey{Family: f, Model: model, Span: span})
		}
	}
	return keys
}
