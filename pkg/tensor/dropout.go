package tensor

import (
	"fmt"
	"math/rand"
)

// Dropout zeroes elements independently with a fixed probability and rescales
// the survivors by 1/(1-rate), so activations keep their expected magnitude
// (inverted dropout). Each Dropout owns its own random stream, which keeps
// separate stages (for example attention weights vs. block output)
// statistically independent and reproducible under a fixed seed.
//
// A Dropout is not safe for concurrent use: Apply advances the shared random
// stream.
type Dropout struct {
	rate float32
	rng  *rand.Rand
}

// NewDropout creates a dropout stage with the given rate and seed.
// The rate must lie in [0, 1].
func NewDropout(rate float32, seed int64) (*Dropout, error) {
	if rate < 0 || rate > 1 {
		return nil, fmt.Errorf("dropout rate %v outside [0, 1]", rate)
	}
	return &Dropout{
		rate: rate,
		rng:  rand.New(rand.NewSource(seed)),
	}, nil
}

// Rate returns the configured drop probability.
func (d *Dropout) Rate() float32 { return d.rate }

// Apply returns a copy of t with dropout applied. During inference
// (training=false) or at rate 0 the input is returned unchanged, without
// consuming randomness.
func (d *Dropout) Apply(t *Tensor, training bool) *Tensor {
	if !training || d.rate == 0 {
		return t
	}

	result := New(t.Shape...)
	if d.rate >= 1 {
		return result
	}

	scale := 1 / (1 - d.rate)
	for i, v := range t.Data {
		if d.rng.Float32() >= d.rate {
			result.Data[i] = v * scale
		}
	}
	return result
}
