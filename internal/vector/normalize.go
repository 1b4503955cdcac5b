package vector

import "math"

// Normalize returns the representation of vec stored under mode.
// Cosine and dot-product share the unit-L2 form. A zero vector is returned
// unchanged for every mode. Unknown modes fall back to the raw form.
// The input slice is never modified.
func Normalize(vec []float32, mode NormalizationMode) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)

	if mode != NormCosine && mode != NormDotProduct {
		return out
	}

	norm := L2Norm(vec)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return out
	}
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// L2Norm returns the Euclidean length of vec.
func L2Norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Subtract returns a - b elementwise. When either side is empty or the
// dimensions differ, a copy of a is returned and ok is false.
func Subtract(a, b []float32) (out []float32, ok bool) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		out = make([]float32, len(a))
		copy(out, a)
		return out, false
	}
	out = make([]float32, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out, true
}

// Zero returns a zero vector of dimension dim.
func Zero(dim int) []float32 {
	if dim < 0 {
		dim = 0
	}
	return make([]float32, dim)
}

// IsZero reports whether every element of vec is zero.
func IsZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
