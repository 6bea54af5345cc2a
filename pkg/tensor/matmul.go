package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Matmul multiplies two tensors on their last two dimensions.
// For shapes (..., m, n) and (..., n, p) the result has shape (..., m, p);
// the leading batch dimensions must match. A 2D operand paired with a
// higher-rank one is broadcast across the batch.
//
// The inner products run through gonum's float32 BLAS (GEMM), one call per
// batch element.
func Matmul(a, b *Tensor) (*Tensor, error) {
	return matmul(a, b, blas.NoTrans, 1)
}

// MatmulTransB multiplies a by the transpose of b's last two dimensions,
// scaling the result by alpha. For shapes (..., m, n) and (..., p, n) the
// result has shape (..., m, p). Contraction against bᵗ happens inside GEMM,
// so the transpose is never materialized and alpha costs nothing extra.
func MatmulTransB(a, b *Tensor, alpha float32) (*Tensor, error) {
	return matmul(a, b, blas.Trans, alpha)
}

func matmul(a, b *Tensor, tB blas.Transpose, alpha float32) (*Tensor, error) {
	if len(a.Shape) < 2 || len(b.Shape) < 2 {
		return nil, fmt.Errorf("matmul requires at least 2D tensors, got %dD and %dD",
			len(a.Shape), len(b.Shape))
	}

	m := a.Shape[len(a.Shape)-2]
	k := a.Shape[len(a.Shape)-1]

	var n, bK int
	if tB == blas.NoTrans {
		bK = b.Shape[len(b.Shape)-2]
		n = b.Shape[len(b.Shape)-1]
	} else {
		n = b.Shape[len(b.Shape)-2]
		bK = b.Shape[len(b.Shape)-1]
	}
	if k != bK {
		return nil, fmt.Errorf("incompatible shapes for matmul: %v and %v (inner dimensions %d and %d)",
			a.Shape, b.Shape, k, bK)
	}

	aBatch := batchSize(a.Shape)
	bBatch := batchSize(b.Shape)
	if aBatch != bBatch && len(a.Shape) > 2 && len(b.Shape) > 2 {
		return nil, fmt.Errorf("mismatched batch dimensions for matmul: %v and %v", a.Shape, b.Shape)
	}

	batch := aBatch
	batchDims := a.Shape[:len(a.Shape)-2]
	if bBatch > aBatch {
		batch = bBatch
		batchDims = b.Shape[:len(b.Shape)-2]
	}

	resultShape := append(append([]int(nil), batchDims...), m, n)
	result := New(resultShape...)

	for i := 0; i < batch; i++ {
		aOff := 0
		if len(a.Shape) > 2 {
			aOff = i * m * k
		}
		bOff := 0
		if len(b.Shape) > 2 {
			bOff = i * n * bK
		}
		gemm(tB, alpha,
			a.Data[aOff:aOff+m*k], m, k,
			b.Data[bOff:bOff+n*bK], n,
			result.Data[i*m*n:(i+1)*m*n])
	}
	return result, nil
}

func batchSize(shape []int) int {
	batch := 1
	for _, dim := range shape[:len(shape)-2] {
		batch *= dim
	}
	return batch
}

// gemm computes dst = alpha * a @ op(b) for row-major matrices.
func gemm(tB blas.Transpose, alpha float32, a []float32, m, k int, b []float32, n int, dst []float32) {
	if m == 0 || n == 0 {
		return
	}
	A := blas32.General{Rows: m, Cols: k, Stride: k, Data: a}
	var B blas32.General
	if tB == blas.NoTrans {
		B = blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	} else {
		B = blas32.General{Rows: n, Cols: k, Stride: k, Data: b}
	}
	C := blas32.General{Rows: m, Cols: n, Stride: n, Data: dst}
	blas32.Gemm(blas.NoTrans, tB, alpha, A, B, 0, C)
}
