// attnbench runs forward passes through a self-attention block for quick
// inspection and benchmarking: output statistics, per-backend timing and
// manual-vs-fused divergence checks.
package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/chewxy/math32"
	"github.com/spf13/cobra"

	"selfattn/pkg/nn/attention"
	"selfattn/pkg/tensor"
)

type options struct {
	hidden   int
	heads    int
	headDim  int
	batch    int
	seq      int
	dropout  float32
	qkvBias  bool
	saveAttn bool
	fused    bool
	compare  bool
	training bool
	iters    int
	seed     int64
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:          "attnbench",
		Short:        "Run and time a multi-head self-attention block",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.hidden, "hidden", 256, "hidden (feature) size")
	flags.IntVar(&opts.heads, "heads", 8, "number of attention heads")
	flags.IntVar(&opts.headDim, "head-dim", 0, "per-head dimension (0 = hidden/heads)")
	flags.IntVar(&opts.batch, "batch", 4, "batch size")
	flags.IntVar(&opts.seq, "seq", 64, "sequence length")
	flags.Float32Var(&opts.dropout, "dropout", 0, "dropout rate in [0,1]")
	flags.BoolVar(&opts.qkvBias, "qkv-bias", false, "add bias to the qkv projection")
	flags.BoolVar(&opts.saveAttn, "save-attn", false, "retain attention weights (manual backend)")
	flags.BoolVar(&opts.fused, "fused", false, "use the fused attention backend")
	flags.BoolVar(&opts.compare, "compare", false, "run both backends and report max divergence")
	flags.BoolVar(&opts.training, "training", false, "run in training mode (dropout active)")
	flags.IntVar(&opts.iters, "iters", 10, "number of timed forward passes")
	flags.Int64Var(&opts.seed, "seed", 42, "seed for weights, dropout and input")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg := attention.Config{
		HiddenSize:    opts.hidden,
		NumHeads:      opts.heads,
		HeadDim:       opts.headDim,
		DropoutRate:   opts.dropout,
		QKVBias:       opts.qkvBias,
		SaveAttention: opts.saveAttn,
		Seed:          opts.seed,
	}
	if opts.fused {
		cfg.Backend = attention.BackendFused
	}

	block, err := attention.NewSABlock(cfg)
	if err != nil {
		return err
	}

	slog.Info("block configured",
		"hidden", opts.hidden,
		"heads", opts.heads,
		"head_dim", block.HeadDim(),
		"inner_dim", block.InnerDim(),
		"scale", block.Scale(),
		"backend", block.Backend().String(),
	)

	rng := rand.New(rand.NewSource(opts.seed))
	data := make([]float32, opts.batch*opts.seq*opts.hidden)
	for i := range data {
		data[i] = rng.Float32()*2 - 1
	}
	input, err := tensor.FromSlice(data, opts.batch, opts.seq, opts.hidden)
	if err != nil {
		return err
	}

	if opts.compare {
		return compareBackends(block, input)
	}

	// Warm-up pass, also used for the output statistics.
	out, err := block.Forward(input, opts.training)
	if err != nil {
		return err
	}
	reportStats(out)
	if w := block.AttentionWeights(); w != nil {
		slog.Info("attention snapshot retained", "shape", fmt.Sprintf("%v", w.Shape))
	}

	start := time.Now()
	for i := 0; i < opts.iters; i++ {
		if _, err := block.Forward(input, opts.training); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)
	slog.Info("timing",
		"iters", opts.iters,
		"total", elapsed.Round(time.Microsecond).String(),
		"per_pass", (elapsed / time.Duration(opts.iters)).Round(time.Microsecond).String(),
	)
	return nil
}

// compareBackends runs the same input through both attention backends in
// evaluation mode and reports the largest element-wise difference.
func compareBackends(block *attention.SABlock, input *tensor.Tensor) error {
	block.SetBackend(attention.BackendManual)
	manual, err := block.Forward(input, false)
	if err != nil {
		return err
	}

	block.SetBackend(attention.BackendFused)
	fused, err := block.Forward(input, false)
	if err != nil {
		return err
	}

	diff, err := tensor.MaxAbsDiff(manual, fused)
	if err != nil {
		return err
	}
	slog.Info("backend comparison", "max_abs_diff", diff)
	return nil
}

func reportStats(t *tensor.Tensor) {
	var min, max, sum float32
	min = math32.Inf(1)
	max = math32.Inf(-1)
	for _, v := range t.Data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	slog.Info("output",
		"shape", fmt.Sprintf("%v", t.Shape),
		"min", min,
		"max", max,
		"mean", sum/float32(len(t.Data)),
	)
}
