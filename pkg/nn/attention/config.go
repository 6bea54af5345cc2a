// Package attention implements a multi-head self-attention block: learned
// query/key/value projections, scaled dot-product attention and an output
// projection, mapping a sequence of feature vectors to a sequence of the
// same shape.
package attention

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two failure modes of the block. Wrap-aware callers
// should test with errors.Is.
var (
	// ErrInvalidConfig reports a construction-time configuration violation.
	ErrInvalidConfig = errors.New("attention: invalid configuration")

	// ErrShapeMismatch reports a malformed input tensor at forward time.
	ErrShapeMismatch = errors.New("attention: shape mismatch")
)

// Backend selects how the scaled dot-product attention core is computed.
// Both backends are numerically equivalent when dropout is inactive.
type Backend int

const (
	// BackendManual materializes the attention score matrix explicitly:
	// scores, softmax, weight dropout and the weighted sum run as separate
	// tensor operations. Required for attention-weight inspection.
	BackendManual Backend = iota

	// BackendFused runs a per-head fused kernel that never materializes the
	// full attention matrix; only a one-row score scratch buffer is live per
	// query position. Attention weights are not retained on this path.
	BackendFused
)

// String implements fmt.Stringer.
func (b Backend) String() string {
	switch b {
	case BackendManual:
		return "manual"
	case BackendFused:
		return "fused"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// Config holds the block hyperparameters. It is immutable after construction;
// the only runtime-mutable knob is the backend selection on the block itself.
type Config struct {
	// HiddenSize is the feature dimension of inputs and outputs.
	HiddenSize int

	// NumHeads is the number of attention heads.
	NumHeads int

	// DropoutRate is the drop probability shared by the two independent
	// dropout stages (attention weights, block output). Must be in [0, 1].
	DropoutRate float32

	// QKVBias adds a bias term to the packed query/key/value projection.
	// The output projection always carries a bias.
	QKVBias bool

	// SaveAttention retains the post-softmax, pre-dropout attention weights
	// of the most recent manual-backend forward call for inspection.
	SaveAttention bool

	// HeadDim overrides the per-head dimension. When zero it defaults to
	// HiddenSize/NumHeads, which then must divide evenly.
	HeadDim int

	// Backend selects the initial attention backend.
	Backend Backend

	// Seed fixes weight initialization and the dropout streams. Zero means
	// seed from the clock.
	Seed int64
}

func (c Config) validate() error {
	if c.HiddenSize <= 0 {
		return fmt.Errorf("%w: hidden size %d must be positive", ErrInvalidConfig, c.HiddenSize)
	}
	if c.NumHeads <= 0 {
		return fmt.Errorf("%w: number of heads %d must be positive", ErrInvalidConfig, c.NumHeads)
	}
	if c.DropoutRate < 0 || c.DropoutRate > 1 {
		return fmt.Errorf("%w: dropout rate %v outside [0, 1]", ErrInvalidConfig, c.DropoutRate)
	}
	if c.HeadDim < 0 {
		return fmt.Errorf("%w: head dimension %d must not be negative", ErrInvalidConfig, c.HeadDim)
	}
	if c.HeadDim == 0 && c.HiddenSize%c.NumHeads != 0 {
		return fmt.Errorf("%w: hidden size %d not divisible by %d heads", ErrInvalidConfig,
			c.HiddenSize, c.NumHeads)
	}
	return nil
}
