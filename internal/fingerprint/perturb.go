package fingerprint

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// GeneratePerturbation returns a dim-length intervention vector with
// components uniform in [-magnitude, magnitude], drawn from crypto/rand.
//
// The perturbation must be unpredictable to every agent until the commit
// phase closes; a participant who can predict it can fabricate a plausible
// causal response without running the underlying model.
func GeneratePerturbation(dim int, magnitude float64) ([]float64, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("perturbation dimension must be positive, got %d", dim)
	}
	buf := make([]byte, 8*dim)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	vec := make([]float64, dim)
	for i := 0; i < dim; i++ {
		u := binary.LittleEndian.Uint64(buf[i*8:])
		// Map to [0,1) using the top 53 bits, then to [-magnitude, magnitude].
		f := float64(u>>11) / (1 << 53)
		vec[i] = (2*f - 1) * magnitude
	}
	return vec, nil
}
