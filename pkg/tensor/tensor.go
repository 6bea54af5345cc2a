// Package tensor provides the float32 tensor operations backing the
// self-attention block: shape bookkeeping, BLAS-based matrix products,
// numerically stable softmax and inverted dropout.
package tensor

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"
)

// Tensor is a dense multi-dimensional array of float32 values stored in a
// flat, row-major slice with precomputed strides.
type Tensor struct {
	Data    []float32
	Shape   []int
	Strides []int
}

// New creates a tensor with the given shape, initialized to zeros.
func New(shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Tensor{
		Data:    make([]float32, size),
		Shape:   append([]int(nil), shape...),
		Strides: computeStrides(shape),
	}
}

// FromSlice creates a tensor that owns a copy of data, shaped as given.
// Returns an error if the data length does not match the shape.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	size := 1
	for _, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		size *= dim
	}
	if len(data) != size {
		return nil, fmt.Errorf("data length %d does not match shape %v (want %d elements)",
			len(data), shape, size)
	}
	t := New(shape...)
	copy(t.Data, data)
	return t, nil
}

func computeStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// NumDims returns the rank of the tensor.
func (t *Tensor) NumDims() int { return len(t.Shape) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := New(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("got %d indices for a rank-%d tensor", len(indices), len(t.Shape)))
	}
	idx := 0
	for i, ix := range indices {
		if ix < 0 || ix >= t.Shape[i] {
			panic(fmt.Sprintf("index %d out of range for dimension %d (size %d)", ix, i, t.Shape[i]))
		}
		idx += ix * t.Strides[i]
	}
	return idx
}

// At returns the value at the given indices.
func (t *Tensor) At(indices ...int) float32 {
	return t.Data[t.flatIndex(indices)]
}

// SetAt stores a value at the given indices.
func (t *Tensor) SetAt(value float32, indices ...int) {
	t.Data[t.flatIndex(indices)] = value
}

// View returns a tensor with a different shape sharing the same underlying
// data. Returns an error if the total size differs.
func (t *Tensor) View(shape ...int) (*Tensor, error) {
	size := 1
	for _, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		size *= dim
	}
	if size != len(t.Data) {
		return nil, fmt.Errorf("cannot view %d elements as shape %v (%d elements)",
			len(t.Data), shape, size)
	}
	return &Tensor{
		Data:    t.Data,
		Shape:   append([]int(nil), shape...),
		Strides: computeStrides(shape),
	}, nil
}

// Reshape is View for shapes known to be compatible; it panics on mismatch.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	v, err := t.View(shape...)
	if err != nil {
		panic(err)
	}
	return v
}

// Transpose exchanges two dimensions, copying into a new contiguous tensor.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	n := len(t.Shape)
	if dim1 < 0 || dim1 >= n || dim2 < 0 || dim2 >= n {
		return nil, fmt.Errorf("invalid transpose dimensions %d, %d for rank-%d tensor", dim1, dim2, n)
	}
	if dim1 == dim2 {
		return t.Clone(), nil
	}

	newShape := append([]int(nil), t.Shape...)
	newShape[dim1], newShape[dim2] = newShape[dim2], newShape[dim1]
	result := New(newShape...)

	indices := make([]int, n)
	var walk func(dim int)
	walk = func(dim int) {
		if dim == n {
			src := 0
			dst := 0
			for i, ix := range indices {
				src += ix * t.Strides[i]
				switch i {
				case dim1:
					dst += indices[dim2] * result.Strides[dim1]
				case dim2:
					dst += indices[dim1] * result.Strides[dim2]
				default:
					dst += ix * result.Strides[i]
				}
			}
			result.Data[dst] = t.Data[src]
			return
		}
		for i := 0; i < t.Shape[dim]; i++ {
			indices[dim] = i
			walk(dim + 1)
		}
	}
	walk(0)

	return result, nil
}

// NarrowLast copies the [start, end) range of the last dimension into a new
// tensor. All other dimensions are preserved.
func (t *Tensor) NarrowLast(start, end int) (*Tensor, error) {
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("cannot narrow a scalar tensor")
	}
	width := t.Shape[len(t.Shape)-1]
	if start < 0 || end > width || start >= end {
		return nil, fmt.Errorf("invalid range [%d, %d) for last dimension of size %d", start, end, width)
	}

	newShape := append([]int(nil), t.Shape...)
	out := end - start
	newShape[len(newShape)-1] = out
	result := New(newShape...)

	rows := len(t.Data) / width
	for r := 0; r < rows; r++ {
		copy(result.Data[r*out:(r+1)*out], t.Data[r*width+start:r*width+end])
	}
	return result, nil
}

// Scale returns a new tensor with every element multiplied by s.
func (t *Tensor) Scale(s float32) *Tensor {
	result := New(t.Shape...)
	for i, v := range t.Data {
		result.Data[i] = v * s
	}
	return result
}

// Add performs element-wise addition of two tensors of identical shape.
func Add(a, b *Tensor) (*Tensor, error) {
	if !a.ShapeEquals(b) {
		return nil, fmt.Errorf("cannot add tensors of shapes %v and %v", a.Shape, b.Shape)
	}
	result := New(a.Shape...)
	for i := range a.Data {
		result.Data[i] = a.Data[i] + b.Data[i]
	}
	return result, nil
}

// ShapeEquals reports whether two tensors have identical shapes.
func (t *Tensor) ShapeEquals(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// Equals reports whether two tensors have the same shape and element-wise
// values within tolerance.
func (t *Tensor) Equals(other *Tensor, tolerance float32) bool {
	if !t.ShapeEquals(other) {
		return false
	}
	for i := range t.Data {
		if math32.Abs(t.Data[i]-other.Data[i]) > tolerance {
			return false
		}
	}
	return true
}

// MaxAbsDiff returns the largest element-wise absolute difference between two
// tensors of identical shape.
func MaxAbsDiff(a, b *Tensor) (float32, error) {
	if !a.ShapeEquals(b) {
		return 0, fmt.Errorf("cannot compare tensors of shapes %v and %v", a.Shape, b.Shape)
	}
	var max float32
	for i := range a.Data {
		if d := math32.Abs(a.Data[i] - b.Data[i]); d > max {
			max = d
		}
	}
	return max, nil
}

// String renders the shape and a truncated view of the data.
func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString("Tensor[")
	for i, dim := range t.Shape {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", dim)
	}
	sb.WriteString("]: [")
	for i := 0; i < len(t.Data) && i < 8; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%g", t.Data[i])
	}
	if len(t.Data) > 8 {
		sb.WriteString(", ...")
	}
	sb.WriteString("]")
	return sb.String()
}
