// Package nn provides the small set of neural-network building blocks the
// attention package is assembled from.
package nn

import (
	"fmt"
	"math/rand"

	"selfattn/pkg/tensor"
)

// Linear is an affine transform over the last dimension: y = x @ W + b.
//
// Weights are read-only during Forward; an external training procedure may
// mutate them between calls.
type Linear struct {
	Weight *tensor.Tensor // (in, out)
	Bias   *tensor.Tensor // (out), nil for a bias-free layer
	In     int
	Out    int
}

// NewLinear creates a linear layer mapping in features to out features.
// Weights get Xavier-uniform initial values drawn from rng; the bias, when
// present, starts at zero.
func NewLinear(in, out int, withBias bool, rng *rand.Rand) *Linear {
	w := tensor.New(in, out)
	XavierUniform(w, in, out, rng)

	l := &Linear{Weight: w, In: in, Out: out}
	if withBias {
		l.Bias = tensor.New(out)
	}
	return l
}

// Forward applies the transform. The input's last dimension must equal In;
// all leading dimensions are treated as batch.
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("linear layer requires at least a 2D input, got shape %v", x.Shape)
	}
	if got := x.Shape[len(x.Shape)-1]; got != l.In {
		return nil, fmt.Errorf("input feature dimension %d does not match layer input size %d", got, l.In)
	}

	out, err := tensor.Matmul(x, l.Weight)
	if err != nil {
		return nil, fmt.Errorf("linear projection failed: %w", err)
	}

	if l.Bias != nil {
		for i := range out.Data {
			out.Data[i] += l.Bias.Data[i%l.Out]
		}
	}
	return out, nil
}
