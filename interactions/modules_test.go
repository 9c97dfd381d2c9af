package interactions

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/xla"
)

func TestERMLPForwardShape(t *testing.T) {
	ctx := context.New().Checked(false)
	i := NewERMLP(ctx, 4, 8)
	backend := graphtest.BuildTestBackend()
	out := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
		h := graph.Const(g, [][]float32{{1, 2, 3, 4}, {0, 0, 0, 0}})
		r := graph.Const(g, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})
		tail := graph.Const(g, [][]float32{{0, 0, 1, 0}, {0, 0, 0, 1}})
		return ScoreHRT(i, h, r, tail, nil)
	})
	out.Shape().AssertDims(2, 1)
}

func TestERMLPResetParameters(t *testing.T) {
	ctx := context.New().Checked(false)
	i := NewERMLP(ctx, 4, 8)
	before := tensors.CopyFlatData[float32](i.hiddenWeights.Value())
	beforeDims := i.hiddenWeights.Value().Shape().Dimensions

	i.ResetParameters()
	after := tensors.CopyFlatData[float32](i.hiddenWeights.Value())
	assert.Equal(t, beforeDims, i.hiddenWeights.Value().Shape().Dimensions, "reset must not change shapes")
	assert.NotEqual(t, before, after, "reset must redraw the random weights")

	// Resetting twice must keep working.
	i.ResetParameters()
}

func TestProjEKnownValue(t *testing.T) {
	ctx := context.New().Checked(false)
	i := NewProjE(ctx, 2)
	// Pin the parameters: hidden = tanh(h + r), plus a global bias of 5.
	i.headWeights.SetValue(tensors.FromFlatDataAndDimensions([]float32{1, 1}, 2))
	i.relationWeights.SetValue(tensors.FromFlatDataAndDimensions([]float32{1, 1}, 2))
	i.combinationBias.SetValue(ZerosTensor(2))
	i.globalBias.SetValue(tensors.FromValue(float32(5)))

	backend := graphtest.BuildTestBackend()
	out := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
		h := graph.Const(g, [][]float32{{0, 0}})
		r := graph.Const(g, [][]float32{{0, 0}})
		tail := graph.Const(g, [][]float32{{1, 2}})
		return ScoreHRT(i, h, r, tail, nil)
	})
	require.InDelta(t, 5.0, tensors.CopyFlatData[float32](out)[0], 1e-5)
}

func TestProjEInitializationBound(t *testing.T) {
	ctx := context.New().Checked(false)
	i := NewProjE(ctx, 16)
	bound := math32.Sqrt(6) / 16
	require.InDelta(t, float64(bound), float64(projEBound(16)), 1e-6)
	for _, flat := range [][]float32{
		tensors.CopyFlatData[float32](i.headWeights.Value()),
		tensors.CopyFlatData[float32](i.relationWeights.Value()),
		tensors.CopyFlatData[float32](i.combinationBias.Value()),
	} {
		for _, v := range flat {
			assert.Less(t, math32.Abs(v), bound)
		}
	}
}

func TestConvEForward(t *testing.T) {
	ctx := context.New().Checked(false)
	i, err := NewConvE(ctx, ConvEConfig{EmbeddingDim: 9})
	require.NoError(t, err)

	backend := graphtest.BuildTestBackend()
	out := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
		h := graph.Const(g, [][]float32{{1, 2, 3, 4, 5, 6, 7, 8, 9}})
		r := graph.Const(g, [][]float32{{9, 8, 7, 6, 5, 4, 3, 2, 1}})
		tail := graph.Const(g, [][]float32{{1, 0, 0, 0, 0, 0, 0, 0, 1}})
		ex := (&Extras{}).Set(ExtraTailBias, graph.Const(g, [][]float32{{0.5}}))
		return ScoreHRT(i, h, r, tail, ex)
	})
	out.Shape().AssertDims(1, 1)
}

func TestConvEMissingBias(t *testing.T) {
	ctx := context.New().Checked(false)
	i, err := NewConvE(ctx, ConvEConfig{EmbeddingDim: 9})
	require.NoError(t, err)
	backend := graphtest.BuildTestBackend()
	execErr := exceptions.TryCatch[error](func() {
		context.ExecOnce(backend, ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
			one := graph.Const(g, [][]float32{{1, 2, 3, 4, 5, 6, 7, 8, 9}})
			return ScoreHRT(i, one, one, one, nil)
		})
	})
	require.ErrorIs(t, execErr, ErrMissingArgument)
}

func TestConvEBadGeometry(t *testing.T) {
	ctx := context.New().Checked(false)
	// channels=5 does not divide 9.
	_, err := NewConvE(ctx, ConvEConfig{EmbeddingDim: 9, InputChannels: 5, EmbeddingWidth: 3})
	require.ErrorIs(t, err, ErrFactorization)

	// A 3x3 kernel cannot slide over a 1-column image.
	_, err = NewConvE(context.New().Checked(false), ConvEConfig{EmbeddingDim: 2, EmbeddingWidth: 1, EmbeddingHeight: 2})
	require.Error(t, err)
}

func TestConvEResetParameters(t *testing.T) {
	ctx := context.New().Checked(false)
	i, err := NewConvE(ctx, ConvEConfig{EmbeddingDim: 9})
	require.NoError(t, err)
	before := tensors.CopyFlatData[float32](i.fcWeights.Value())
	i.ResetParameters()
	after := tensors.CopyFlatData[float32](i.fcWeights.Value())
	assert.NotEqual(t, before, after)
	require.Len(t, after, len(before))
}

func TestConvKBForward(t *testing.T) {
	ctx := context.New().Checked(false)
	i := NewConvKB(ctx, ConvKBConfig{EmbeddingDim: 3, NumFilters: 2})
	backend := graphtest.BuildTestBackend()
	out := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
		h := graph.Const(g, [][]float32{{1, 2, 3}, {0, 1, 0}})
		r := graph.Const(g, [][]float32{{1, 1, 1}, {0, 0, 1}})
		tail := graph.Const(g, [][]float32{{2, 3, 4}, {0, 1, 1}})
		return ScoreHRT(i, h, r, tail, nil)
	})
	out.Shape().AssertDims(2, 1)
}

func TestConvKBLinearInitialization(t *testing.T) {
	ctx := context.New().Checked(false)
	i := NewConvKB(ctx, ConvKBConfig{EmbeddingDim: 16, NumFilters: 32})
	fanIn := 16 * 32
	bound := ReluGain * math32.Sqrt(6/float32(fanIn+1))
	flat := tensors.CopyFlatData[float32](i.linearWeights.Value())
	var maxAbs float32
	for _, v := range flat {
		maxAbs = max(maxAbs, math32.Abs(v))
		require.Less(t, math32.Abs(v), bound)
	}
	// With 512 draws the maximum lands beyond the linear-gain bound essentially always.
	assert.Greater(t, maxAbs, bound/math32.Sqrt2)
}

func TestTuckerForward(t *testing.T) {
	ctx := context.New().Checked(false)
	i := NewTucker(ctx, TuckerConfig{EntityDim: 3, RelationDim: 2, DisableBatchNorm: true})
	backend := graphtest.BuildTestBackend()
	out := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
		h := graph.Const(g, [][]float32{{1, 0, 0}})
		r := graph.Const(g, [][]float32{{1, 1}})
		tail := graph.Const(g, [][]float32{{0, 1, 0}})
		return ScoreHRT(i, h, r, tail, nil)
	})
	out.Shape().AssertDims(1, 1)
}

func TestTuckerIdentityCore(t *testing.T) {
	ctx := context.New().Checked(false)
	i := NewTucker(ctx, TuckerConfig{EntityDim: 2, RelationDim: 1, DisableBatchNorm: true})
	// Core fixed to the identity on the entity axes: score reduces to <h, t> * r.
	i.core.SetValue(tensors.FromFlatDataAndDimensions([]float32{1, 0, 0, 1}, 2, 1, 2))

	backend := graphtest.BuildTestBackend()
	out := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
		h := graph.Const(g, [][]float32{{1, 2}})
		r := graph.Const(g, [][]float32{{3}})
		tail := graph.Const(g, [][]float32{{4, 5}})
		return ScoreHRT(i, h, r, tail, nil)
	})
	// 3 * (1*4 + 2*5) = 42.
	require.InDelta(t, 42.0, tensors.CopyFlatData[float32](out)[0], 1e-4)
}

func TestERMLPEForwardShape(t *testing.T) {
	ctx := context.New().Checked(false)
	i := NewERMLPE(ctx, ERMLPEConfig{EmbeddingDim: 4, HiddenDim: 6})
	backend := graphtest.BuildTestBackend()
	out := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
		h := graph.Const(g, [][]float32{{1, 2, 3, 4}})
		r := graph.Const(g, [][]float32{{1, 0, 0, 0}})
		tail := graph.Const(g, [][]float32{{0, 0, 1, 0}})
		return ScoreHRT(i, h, r, tail, nil)
	})
	out.Shape().AssertDims(1, 1)
}

func TestResetParametersTwice(t *testing.T) {
	// Reset is idempotent in shape for every parametric interaction.
	ctx := context.New().Checked(false)
	conv, err := NewConvE(ctx, ConvEConfig{EmbeddingDim: 9})
	require.NoError(t, err)
	for _, i := range []Interaction{
		conv,
		NewConvKB(context.New().Checked(false), ConvKBConfig{EmbeddingDim: 4}),
		NewERMLP(context.New().Checked(false), 4, 0),
		NewERMLPE(context.New().Checked(false), ERMLPEConfig{EmbeddingDim: 4}),
		NewProjE(context.New().Checked(false), 4),
		NewTucker(context.New().Checked(false), TuckerConfig{EntityDim: 4}),
	} {
		i.ResetParameters()
		i.ResetParameters()
	}
}
