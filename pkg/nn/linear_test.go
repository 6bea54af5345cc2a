package nn

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/require"

	"selfattn/pkg/tensor"
)

func TestNewLinear(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := NewLinear(4, 6, true, rng)

	require.Equal(t, []int{4, 6}, l.Weight.Shape)
	require.Equal(t, []int{6}, l.Bias.Shape)

	// Bias starts at zero, weights inside the Xavier-uniform bound.
	for _, v := range l.Bias.Data {
		require.Zero(t, v)
	}
	limit := math32.Sqrt(6.0 / float32(4+6))
	for _, v := range l.Weight.Data {
		require.LessOrEqual(t, math32.Abs(v), limit)
	}

	noBias := NewLinear(4, 6, false, rng)
	require.Nil(t, noBias.Bias)
}

func TestLinearForward(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := NewLinear(2, 3, true, rng)

	// W = [[1 0 1], [0 1 1]], b = [1 1 1]
	copy(l.Weight.Data, []float32{1, 0, 1, 0, 1, 1})
	copy(l.Bias.Data, []float32{1, 1, 1})

	x, err := tensor.FromSlice([]float32{2, 3}, 1, 1, 2)
	require.NoError(t, err)

	out, err := l.Forward(x)
	require.NoError(t, err)
	require.Equal(t, []int{1, 1, 3}, out.Shape)

	want := []float32{3, 4, 6}
	for i := range want {
		require.InDelta(t, want[i], out.Data[i], 1e-6)
	}
}

func TestLinearForward_BiasBroadcast(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := NewLinear(2, 2, true, rng)
	copy(l.Weight.Data, []float32{0, 0, 0, 0})
	copy(l.Bias.Data, []float32{5, 7})

	x := tensor.New(2, 3, 2)
	out, err := l.Forward(x)
	require.NoError(t, err)

	// Every position gets the bias regardless of batch/sequence index.
	for i := 0; i < len(out.Data); i += 2 {
		require.Equal(t, float32(5), out.Data[i])
		require.Equal(t, float32(7), out.Data[i+1])
	}
}

func TestLinearForward_Errors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := NewLinear(4, 2, false, rng)

	_, err := l.Forward(tensor.New(1, 3, 5))
	require.Error(t, err, "feature dimension 5 must be rejected")

	_, err = l.Forward(tensor.New(4))
	require.Error(t, err, "1D input must be rejected")
}
