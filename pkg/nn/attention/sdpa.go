package attention

import (
	"fmt"
	"math/rand"
	"runtime"

	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"

	"selfattn/pkg/tensor"
)

// fusedSDPA computes scaled dot-product attention head by head without
// materializing the full attention matrix: for each query row the scores are
// built in a seq-length scratch buffer, softmaxed, optionally dropped, and
// immediately folded into the value-weighted sum.
//
// q, k and v must all be (batch, heads, seq, headDim) and contiguous. Heads
// are processed in parallel; every goroutine writes a disjoint slice of the
// output, so the result does not depend on scheduling. When dropActive is
// set, each head draws from its own stream derived from dropSeed, keeping the
// output reproducible for a fixed seed.
func fusedSDPA(q, k, v *tensor.Tensor, scale, dropRate float32, dropActive bool, dropSeed int64) (*tensor.Tensor, error) {
	if len(q.Shape) != 4 {
		return nil, fmt.Errorf("fused attention expects 4D (batch, heads, seq, headDim) tensors, got shape %v", q.Shape)
	}
	if !q.ShapeEquals(k) || !q.ShapeEquals(v) {
		return nil, fmt.Errorf("mismatched q/k/v shapes: %v, %v, %v", q.Shape, k.Shape, v.Shape)
	}

	batch, heads, seq, headDim := q.Shape[0], q.Shape[1], q.Shape[2], q.Shape[3]
	out := tensor.New(batch, heads, seq, headDim)
	if batch == 0 || heads == 0 || seq == 0 || headDim == 0 {
		return out, nil
	}

	headStride := seq * headDim

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for bh := 0; bh < batch*heads; bh++ {
		bh := bh
		g.Go(func() error {
			off := bh * headStride
			var rng *rand.Rand
			if dropActive {
				rng = rand.New(rand.NewSource(dropSeed + int64(bh)))
			}
			attendHead(
				q.Data[off:off+headStride],
				k.Data[off:off+headStride],
				v.Data[off:off+headStride],
				out.Data[off:off+headStride],
				seq, headDim, scale, dropRate, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// attendHead computes softmax(q·kᵗ·scale)·v for a single head. q, k, v and
// out are (seqLen, headDim) row-major slices. A nil rng disables weight
// dropout.
func attendHead(q, k, v, out []float32, seqLen, headDim int, scale, dropRate float32, rng *rand.Rand) {
	scores := make([]float32, seqLen)

	for i := 0; i < seqLen; i++ {
		qRow := q[i*headDim : (i+1)*headDim]

		// Scores for query row i, tracking the row max for stable softmax.
		maxVal := math32.Inf(-1)
		for j := 0; j < seqLen; j++ {
			kRow := k[j*headDim : (j+1)*headDim]
			var s float32
			for p, qp := range qRow {
				s += qp * kRow[p]
			}
			s *= scale
			scores[j] = s
			if s > maxVal {
				maxVal = s
			}
		}

		var sum float32
		for j, s := range scores {
			e := math32.Exp(s - maxVal)
			scores[j] = e
			sum += e
		}
		inv := 1 / sum
		for j := range scores {
			scores[j] *= inv
		}

		if rng != nil {
			keep := 1 / (1 - dropRate)
			for j := range scores {
				if rng.Float32() < dropRate {
					scores[j] = 0
				} else {
					scores[j] *= keep
				}
			}
		}

		outRow := out[i*headDim : (i+1)*headDim]
		for j, w := range scores {
			if w == 0 {
				continue
			}
			vRow := v[j*headDim : (j+1)*headDim]
			for p := range outRow {
				outRow[p] += w * vRow[p]
			}
		}
	}
}
