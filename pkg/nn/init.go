package nn

import (
	"math/rand"

	"github.com/chewxy/math32"

	"selfattn/pkg/tensor"
)

// XavierUniform fills t with values drawn uniformly from
// [-sqrt(6/(fanIn+fanOut)), sqrt(6/(fanIn+fanOut))].
func XavierUniform(t *tensor.Tensor, fanIn, fanOut int, rng *rand.Rand) {
	limit := math32.Sqrt(6 / float32(fanIn+fanOut))
	for i := range t.Data {
		t.Data[i] = (2*rng.Float32() - 1) * limit
	}
}
