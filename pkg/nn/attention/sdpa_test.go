package attention

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"

	"selfattn/pkg/tensor"
)

func randomTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.Float32()*2 - 1
	}
	return t
}

// referenceSDPA is a direct loop translation of softmax(q·kᵗ·scale)·v used as
// an oracle for the fused kernel.
func referenceSDPA(q, k, v *tensor.Tensor, scale float32) *tensor.Tensor {
	batch, heads, seq, dim := q.Shape[0], q.Shape[1], q.Shape[2], q.Shape[3]
	out := tensor.New(batch, heads, seq, dim)

	weights := make([]float32, seq)
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			for i := 0; i < seq; i++ {
				maxVal := math32.Inf(-1)
				for j := 0; j < seq; j++ {
					var s float32
					for p := 0; p < dim; p++ {
						s += q.At(b, h, i, p) * k.At(b, h, j, p)
					}
					s *= scale
					weights[j] = s
					if s > maxVal {
						maxVal = s
					}
				}
				var sum float32
				for j := range weights {
					weights[j] = math32.Exp(weights[j] - maxVal)
					sum += weights[j]
				}
				for j := range weights {
					weights[j] /= sum
				}
				for p := 0; p < dim; p++ {
					var acc float32
					for j := 0; j < seq; j++ {
						acc += weights[j] * v.At(b, h, j, p)
					}
					out.SetAt(acc, b, h, i, p)
				}
			}
		}
	}
	return out
}

// TestFusedSDPA_MatchesReference compares the parallel fused kernel against
// the loop oracle on random inputs.
func TestFusedSDPA_MatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	q := randomTensor(rng, 2, 3, 5, 4)
	k := randomTensor(rng, 2, 3, 5, 4)
	v := randomTensor(rng, 2, 3, 5, 4)
	scale := float32(0.5)

	got, err := fusedSDPA(q, k, v, scale, 0, false, 0)
	if err != nil {
		t.Fatalf("fusedSDPA failed: %v", err)
	}
	want := referenceSDPA(q, k, v, scale)

	if !got.Equals(want, 1e-5) {
		diff, _ := tensor.MaxAbsDiff(got, want)
		t.Errorf("fused kernel diverges from reference, max diff %v", diff)
	}
}

func TestFusedSDPA_ShapeErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	q := randomTensor(rng, 2, 2, 3, 4)

	if _, err := fusedSDPA(q.Reshape(2, 2, 12), q, q, 1, 0, false, 0); err == nil {
		t.Error("expected error for non-4D query, got none")
	}
	k := randomTensor(rng, 2, 2, 3, 5)
	if _, err := fusedSDPA(q, k, k, 1, 0, false, 0); err == nil {
		t.Error("expected error for mismatched k/v shape, got none")
	}
}

func TestFusedSDPA_EmptyInput(t *testing.T) {
	q := tensor.New(0, 2, 3, 4)
	out, err := fusedSDPA(q, q.Clone(), q.Clone(), 1, 0, false, 0)
	if err != nil {
		t.Fatalf("fusedSDPA failed on empty batch: %v", err)
	}
	if out.Size() != 0 {
		t.Errorf("output size = %d, want 0", out.Size())
	}
}

// TestFusedSDPA_DropoutDeterminism checks that a fixed seed reproduces the
// same dropout mask across the parallel heads.
func TestFusedSDPA_DropoutDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	q := randomTensor(rng, 2, 4, 6, 8)
	k := randomTensor(rng, 2, 4, 6, 8)
	v := randomTensor(rng, 2, 4, 6, 8)

	first, err := fusedSDPA(q, k, v, 0.25, 0.5, true, 99)
	if err != nil {
		t.Fatalf("fusedSDPA failed: %v", err)
	}
	second, err := fusedSDPA(q, k, v, 0.25, 0.5, true, 99)
	if err != nil {
		t.Fatalf("fusedSDPA failed: %v", err)
	}
	if !first.Equals(second, 0) {
		t.Error("same dropout seed must reproduce the same output")
	}

	other, err := fusedSDPA(q, k, v, 0.25, 0.5, true, 100)
	if err != nil {
		t.Fatalf("fusedSDPA failed: %v", err)
	}
	if first.Equals(other, 0) {
		t.Error("different dropout seeds should give different outputs")
	}
}
