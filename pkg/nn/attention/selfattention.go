package attention

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/chewxy/math32"

	"selfattn/pkg/nn"
	"selfattn/pkg/tensor"
)

// SABlock is a multi-head self-attention block.
//
// It owns a packed query/key/value projection (hidden → 3×innerDim), an
// output projection (innerDim → hidden) and two independent dropout stages.
// Forward is a pure function over (parameters, input) apart from the optional
// attention-weight snapshot.
//
// Concurrent Forward calls are safe while no parameter update is in flight
// and dropout is inactive; the block does no locking. With SaveAttention
// enabled, concurrent calls race on the shared snapshot slot — callers that
// inspect snapshots under concurrency must serialize externally.
type SABlock struct {
	cfg      Config
	headDim  int
	innerDim int
	scale    float32

	qkv *nn.Linear // hidden -> 3*innerDim, packed [Q | K | V]
	out *nn.Linear // innerDim -> hidden

	dropWeights *tensor.Dropout
	dropOutput  *tensor.Dropout

	rng     *rand.Rand // seeds the fused kernel's dropout streams
	backend Backend

	// attn holds the post-softmax, pre-dropout weights of the last
	// manual-backend forward call when SaveAttention is set.
	attn *tensor.Tensor
}

// NewSABlock constructs a block from cfg. It fails with ErrInvalidConfig when
// the dropout rate is outside [0, 1] or, with no explicit head dimension,
// when the hidden size is not divisible by the head count.
func NewSABlock(cfg Config) (*SABlock, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	headDim := cfg.HeadDim
	if headDim == 0 {
		headDim = cfg.HiddenSize / cfg.NumHeads
	}
	innerDim := headDim * cfg.NumHeads

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	dropWeights, err := tensor.NewDropout(cfg.DropoutRate, rng.Int63())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	dropOutput, err := tensor.NewDropout(cfg.DropoutRate, rng.Int63())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// Draw the projections in a fixed order so a given seed always yields
	// the same parameters.
	qkv := nn.NewLinear(cfg.HiddenSize, 3*innerDim, cfg.QKVBias, rng)
	out := nn.NewLinear(innerDim, cfg.HiddenSize, true, rng)

	return &SABlock{
		cfg:         cfg,
		headDim:     headDim,
		innerDim:    innerDim,
		scale:       1 / math32.Sqrt(float32(headDim)),
		qkv:         qkv,
		out:         out,
		dropWeights: dropWeights,
		dropOutput:  dropOutput,
		rng:         rng,
		backend:     cfg.Backend,
	}, nil
}

// Config returns the construction-time configuration.
func (b *SABlock) Config() Config { return b.cfg }

// HeadDim returns the per-head feature dimension.
func (b *SABlock) HeadDim() int { return b.headDim }

// InnerDim returns NumHeads × HeadDim, the width of the attention core.
func (b *SABlock) InnerDim() int { return b.innerDim }

// Scale returns the score scaling factor headDim^(-0.5).
func (b *SABlock) Scale() float32 { return b.scale }

// Backend returns the currently selected attention backend.
func (b *SABlock) Backend() Backend { return b.backend }

// SetBackend switches the attention backend. Not safe to call concurrently
// with Forward.
func (b *SABlock) SetBackend(backend Backend) { b.backend = backend }

// QKV exposes the packed query/key/value projection for external parameter
// updates.
func (b *SABlock) QKV() *nn.Linear { return b.qkv }

// OutProj exposes the output projection for external parameter updates.
func (b *SABlock) OutProj() *nn.Linear { return b.out }

// AttentionWeights returns the attention weights retained by the most recent
// manual-backend Forward call, shaped (batch, heads, seq, seq), or nil when
// SaveAttention is disabled or the last call used the fused backend. The
// snapshot is captured post-softmax, before weight dropout.
func (b *SABlock) AttentionWeights() *tensor.Tensor { return b.attn }

// Forward applies the block to x of shape (batch, seq, hidden) and returns a
// tensor of the same shape. Dropout is active only when training is true.
//
// It fails with ErrShapeMismatch for inputs that are not rank 3 or whose
// feature dimension differs from the configured hidden size.
func (b *SABlock) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("%w: expected 3D input (batch, seq, hidden), got %dD with shape %v",
			ErrShapeMismatch, len(x.Shape), x.Shape)
	}
	batch, seq, hidden := x.Shape[0], x.Shape[1], x.Shape[2]
	if hidden != b.cfg.HiddenSize {
		return nil, fmt.Errorf("%w: input feature dimension %d does not match hidden size %d",
			ErrShapeMismatch, hidden, b.cfg.HiddenSize)
	}

	// Packed projection: (batch, seq, hidden) -> (batch, seq, 3*innerDim),
	// the last dimension laid out as [Q | K | V], each chunk head-major.
	packed, err := b.qkv.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("qkv projection failed: %w", err)
	}

	q, err := b.splitHeads(packed, 0, batch, seq)
	if err != nil {
		return nil, err
	}
	k, err := b.splitHeads(packed, 1, batch, seq)
	if err != nil {
		return nil, err
	}
	v, err := b.splitHeads(packed, 2, batch, seq)
	if err != nil {
		return nil, err
	}

	var ctx *tensor.Tensor
	switch b.backend {
	case BackendFused:
		if b.cfg.SaveAttention {
			b.attn = nil
		}
		ctx, err = b.fusedAttention(q, k, v, training)
	default:
		ctx, err = b.manualAttention(q, k, v, training)
	}
	if err != nil {
		return nil, err
	}

	// (batch, heads, seq, headDim) -> (batch, seq, heads*headDim), head
	// order matching the projection split.
	merged, err := ctx.Transpose(1, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to reassemble heads: %w", err)
	}
	merged = merged.Reshape(batch, seq, b.innerDim)

	out, err := b.out.Forward(merged)
	if err != nil {
		return nil, fmt.Errorf("output projection failed: %w", err)
	}
	return b.dropOutput.Apply(out, training), nil
}

// splitHeads extracts chunk index n (0=Q, 1=K, 2=V) of the packed projection
// and rearranges it to (batch, heads, seq, headDim).
func (b *SABlock) splitHeads(packed *tensor.Tensor, n, batch, seq int) (*tensor.Tensor, error) {
	chunk, err := packed.NarrowLast(n*b.innerDim, (n+1)*b.innerDim)
	if err != nil {
		return nil, fmt.Errorf("failed to split qkv chunk %d: %w", n, err)
	}
	split, err := chunk.Reshape(batch, seq, b.cfg.NumHeads, b.headDim).Transpose(1, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to split heads: %w", err)
	}
	return split, nil
}

// manualAttention computes softmax(q·kᵗ·scale)·v with the score matrix
// materialized, capturing the attention snapshot when configured.
func (b *SABlock) manualAttention(q, k, v *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	// The scale folds into the GEMM alpha; kᵗ is contracted in place.
	scores, err := tensor.MatmulTransB(q, k, b.scale)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention scores: %w", err)
	}

	weights := tensor.SoftmaxLast(scores)
	if b.cfg.SaveAttention {
		b.attn = weights.Clone()
	}
	weights = b.dropWeights.Apply(weights, training)

	ctx, err := tensor.Matmul(weights, v)
	if err != nil {
		return nil, fmt.Errorf("failed to apply attention to values: %w", err)
	}
	return ctx, nil
}

// fusedAttention runs the per-head fused kernel. Weight dropout, when active,
// happens inside the kernel on per-head streams seeded from the block RNG.
func (b *SABlock) fusedAttention(q, k, v *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	dropActive := training && b.dropWeights.Rate() > 0
	var dropSeed int64
	if dropActive {
		dropSeed = b.rng.Int63()
	}
	return fusedSDPA(q, k, v, b.scale, b.dropWeights.Rate(), dropActive, dropSeed)
}
