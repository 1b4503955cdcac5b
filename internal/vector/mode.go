package vector

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMode is returned when a mode string does not name a supported mode.
var ErrUnknownMode = errors.New("unknown mode")

// SimilarityMode selects the metric used to compare two vectors.
type SimilarityMode string

const (
	ModeCosine     SimilarityMode = "cosine"
	ModeDotProduct SimilarityMode = "dotProduct"
	ModeDistance   SimilarityMode = "distance"
)

// SimilarityModes lists every supported metric in display order.
var SimilarityModes = []SimilarityMode{ModeCosine, ModeDotProduct, ModeDistance}

// Valid reports whether m is one of the supported metrics.
func (m SimilarityMode) Valid() bool {
	switch m {
	case ModeCosine, ModeDotProduct, ModeDistance:
		return true
	}
	return false
}

// ParseSimilarityMode parses a metric name. Unknown names yield ModeCosine
// together with ErrUnknownMode so callers can log and keep going.
func ParseSimilarityMode(s string) (SimilarityMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine", "":
		return ModeCosine, nil
	case "dotproduct", "dot", "dot_product":
		return ModeDotProduct, nil
	case "distance", "euclidean", "l2":
		return ModeDistance, nil
	}
	return ModeCosine, fmt.Errorf("%w: similarity %q", ErrUnknownMode, s)
}

// NormalizationMode selects the stored representation of a vector.
type NormalizationMode string

const (
	NormRaw        NormalizationMode = "raw"
	NormCosine     NormalizationMode = "cosine"
	NormDotProduct NormalizationMode = "dotProduct"
)

// ParseNormalizationMode parses a normalization name. Unknown names yield
// NormRaw and ErrUnknownMode.
func ParseNormalizationMode(s string) (NormalizationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw", "none":
		return NormRaw, nil
	case "cosine", "":
		return NormCosine, nil
	case "dotproduct", "dot", "dot_product":
		return NormDotProduct, nil
	}
	return NormRaw, fmt.Errorf("%w: normalization %q", ErrUnknownMode, s)
}

// TextSpan selects which part of an entry's text was embedded.
type TextSpan string

const (
	SpanDescription TextSpan = "description"
	SpanWithNotes   TextSpan = "description-with-notes"
)

// ParseTextSpan parses a span name. Unknown names yield SpanDescription and
// ErrUnknownMode.
func ParseTextSpan(s string) (TextSpan, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "description", "description-only", "short", "":
		return SpanDescription, nil
	case "description-with-notes", "with-notes", "full", "notes":
		return SpanWithNotes, nil
	}
	return SpanDescription, fmt.Errorf("%w: text span %q", ErrUnknownMode, s)
}
