package fingerprint

import "math"

// NormalizedEntropy computes the Shannon entropy of the magnitude
// distribution of xs, normalized by log2(n) so the result lands in [0,1].
// Returns 0 for vectors with fewer than 2 components or all-zero magnitude.
//
// Low values indicate a degenerate, spiky response (mass concentrated in few
// components); values near 1 indicate a flat, noise-like response.
func NormalizedEntropy(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var total float64
	for _, x := range xs {
		total += math.Abs(x)
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, x := range xs {
		p := math.Abs(x) / total
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h / math.Log2(float64(len(xs)))
}

// ExtractSpectralFeatures approximates the leading eigenvalues of the
// covariance matrix of a response sample set. The eigenvalue profile acts as
// a coarse fingerprint of the model that produced the responses: models with
// the same underlying weights produce near-identical spectra.
//
// Needs at least 3 samples; otherwise returns a zero vector of length num.
func ExtractSpectralFeatures(responses [][]float64, num int) []float64 {
	features := make([]float64, num)
	if len(responses) < 3 || len(responses[0]) == 0 {
		return features
	}

	n := len(responses)
	m := len(responses[0])

	means := make([]float64, m)
	for _, r := range responses {
		for j := 0; j < m && j < len(r); j++ {
			means[j] += r[j]
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}

	cov := make([][]float64, m)
	for i := range cov {
		cov[i] = make([]float64, m)
	}
	for _, r := range responses {
		for i := 0; i < m; i++ {
			for j := 0; j < m; j++ {
				cov[i][j] += (r[i] - means[i]) * (r[j] - means[j])
			}
		}
	}
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			cov[i][j] /= float64(n - 1)
		}
	}

	for k := 0; k < num && k < m; k++ {
		val, vec := dominantEigen(cov)
		if val == 0 {
			break
		}
		features[k] = val
		deflate(cov, val, vec)
	}
	return features
}

// dominantEigen runs power iteration to approximate the dominant
// eigenvalue/eigenvector pair of a symmetric matrix.
func dominantEigen(matrix [][]float64) (float64, []float64) {
	m := len(matrix)
	vec := make([]float64, m)
	for i := range vec {
		vec[i] = 1
	}

	var val float64
	for iter := 0; iter < 50; iter++ {
		next := make([]float64, m)
		for i := 0; i < m; i++ {
			for j := 0; j < m; j++ {
				next[i] += matrix[i][j] * vec[j]
			}
		}
		var norm float64
		for _, x := range next {
			norm += x * x
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			return 0, vec
		}
		for i := range next {
			next[i] /= norm
		}
		vec = next
		val = norm
	}
	return val, vec
}

// deflate removes the contribution of an eigenpair from a symmetric matrix so
// the next power iteration converges to the next-largest eigenvalue.
func deflate(matrix [][]float64, val float64, vec []float64) {
	m := len(matrix)
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			matrix[i][j] -= val * vec[i] * vec[j]
		}
	}
}
