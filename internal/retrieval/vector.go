package retrieval

import "math"

// Cosine returns the cosine similarity of two vectors. Mismatched
// dimensions or a zero vector score 0.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, aSq, bSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aSq += float64(a[i]) * float64(a[i])
		bSq += float64(b[i]) * float64(b[i])
	}
	if aSq == 0 || bSq == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(aSq) * math.Sqrt(bSq)))
}
