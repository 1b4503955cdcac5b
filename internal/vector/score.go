package vector

import (
	"fmt"
	"math"
)

// Failure tags why a comparison fell back to the neutral score.
type Failure string

const (
	FailureNone              Failure = ""
	FailureEmptyInput        Failure = "empty_input"
	FailureDimensionMismatch Failure = "dimension_mismatch"
	FailureZeroMagnitude     Failure = "zero_magnitude"
	FailureUnknownMode       Failure = "unknown_mode"
	FailureNonFinite         Failure = "non_finite"
)

// Score is the outcome of comparing two vectors. Value is 0 whenever
// Failure is set.
type Score struct {
	Value   float64
	Failure Failure
	Detail  string
}

// OK reports whether the comparison produced a real score.
func (s Score) OK() bool {
	return s.Failure == FailureNone
}

func (s Score) String() string {
	if s.OK() {
		return fmt.Sprintf("%.3f", s.Value)
	}
	if s.Detail != "" {
		return fmt.Sprintf("0 (%s: %s)", s.Failure, s.Detail)
	}
	return fmt.Sprintf("0 (%s)", s.Failure)
}

func failed(f Failure, format string, args ...any) Score {
	return Score{Failure: f, Detail: fmt.Sprintf(format, args...)}
}

// Compare scores a against b under mode.
//
//	cosine:     dot(a,b) / (|a||b|), norms recomputed here
//	dotProduct: dot(a,b) on the vectors as given
//	distance:   1 / (1 + |a-b|), in (0, 1], 1 only when a == b
//
// Compare never panics; bad input maps to a zero Score with a Failure.
func Compare(a, b []float32, mode SimilarityMode) Score {
	if len(a) == 0 || len(b) == 0 {
		return failed(FailureEmptyInput, "len %d vs %d", len(a), len(b))
	}
	if len(a) != len(b) {
		return failed(FailureDimensionMismatch, "dimension %d vs %d", len(a), len(b))
	}

	var value float64
	switch mode {
	case ModeCosine:
		var dot, na, nb float64
		for i := range a {
			fa, fb := float64(a[i]), float64(b[i])
			dot += fa * fb
			na += fa * fa
			nb += fb * fb
		}
		if na == 0 || nb == 0 {
			return failed(FailureZeroMagnitude, "cosine on zero vector")
		}
		value = dot / (math.Sqrt(na) * math.Sqrt(nb))
	case ModeDotProduct:
		value = Dot(a, b)
	case ModeDistance:
		value = 1.0 / (1.0 + Euclidean(a, b))
	default:
		return failed(FailureUnknownMode, "similarity %q", string(mode))
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return failed(FailureNonFinite, "%s produced %v", mode, value)
	}
	return Score{Value: value}
}

// Dot returns the dot product over the common prefix of a and b.
func Dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Euclidean returns the L2 distance over the common prefix of a and b.
func Euclidean(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Round3 rounds v to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
