package fingerprint

import "math"

// CosineSimilarity returns dot(a,b) / (|a|·|b|), or 0 when the vectors have
// different lengths or either norm is zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EuclideanDistance returns the L2 distance between a and b. Vectors of
// different lengths are compared over the shorter prefix.
func EuclideanDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Centroid returns the component-wise mean of the given vectors. All vectors
// must share the dimensionality of the first; nil is returned for empty input.
func Centroid(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	centroid := make([]float64, dim)
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			centroid[i] += v[i]
		}
	}
	for i := range centroid {
		centroid[i] /= float64(len(vectors))
	}
	return centroid
}

// MeanPairwiseSimilarity returns, for each vector, the mean cosine similarity
// against every other vector. A single vector yields [1].
func MeanPairwiseSimilarity(vectors [][]float64) []float64 {
	n := len(vectors)
	means := make([]float64, n)
	if n == 1 {
		means[0] = 1
		return means
	}
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sum += CosineSimilarity(vectors[i], vectors[j])
		}
		means[i] = sum / float64(n-1)
	}
	return means
}
