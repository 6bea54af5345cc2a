package tensor

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Softmax applies softmax along the given dimension. Each slice along that
// dimension is shifted by its maximum before exponentiation so that large
// scores do not overflow.
func Softmax(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("invalid softmax dimension %d for rank-%d tensor", dim, len(t.Shape))
	}
	if dim == len(t.Shape)-1 {
		return softmaxLast(t), nil
	}

	// Move the target dimension last, run the contiguous kernel, move it back.
	moved, err := t.Transpose(dim, len(t.Shape)-1)
	if err != nil {
		return nil, err
	}
	return softmaxLast(moved).Transpose(dim, len(t.Shape)-1)
}

// SoftmaxLast applies softmax along the last dimension.
func SoftmaxLast(t *Tensor) *Tensor {
	return softmaxLast(t)
}

func softmaxLast(t *Tensor) *Tensor {
	result := New(t.Shape...)
	width := t.Shape[len(t.Shape)-1]
	if width == 0 {
		return result
	}
	rows := len(t.Data) / width

	for r := 0; r < rows; r++ {
		row := t.Data[r*width : (r+1)*width]
		out := result.Data[r*width : (r+1)*width]

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		var sum float32
		for i, v := range row {
			e := math32.Exp(v - maxVal)
			out[i] = e
			sum += e
		}
		inv := 1 / sum
		for i := range out {
			out[i] *= inv
		}
	}
	return result
}
