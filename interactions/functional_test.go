package interactions

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/xla"
)

// scoreOne scores a single triple through ScoreHRT, building all representations as
// constants. extras rows, if any, are rank-2 (1, features) like the primary inputs.
func scoreOne(t *testing.T, ctx *context.Context, i Interaction, h, r, tail []float32, extras map[ExtraName][]float32) float32 {
	backend := graphtest.BuildTestBackend()
	var out *tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		out = context.ExecOnce(backend, ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
			var ex *Extras
			for name, row := range extras {
				ex = ex.Set(name, graph.Const(g, [][]float32{row}))
			}
			return ScoreHRT(i,
				graph.Const(g, [][]float32{h}),
				graph.Const(g, [][]float32{r}),
				graph.Const(g, [][]float32{tail}),
				ex)
		})
	})
	require.NoError(t, err)
	flat := tensors.CopyFlatData[float32](out)
	require.Len(t, flat, 1)
	return flat[0]
}

func TestTransEScore(t *testing.T) {
	ctx := context.New().Checked(false)
	// h + r == t scores a perfect 0.
	got := scoreOne(t, ctx, NewTransE(2), []float32{1, 0}, []float32{0, 1}, []float32{1, 1}, nil)
	require.InDelta(t, 0.0, got, 1e-5)

	// h + r - t = (2, -1): L1 norm 3.
	got = scoreOne(t, ctx, NewTransE(1), []float32{1, 1}, []float32{2, 1}, []float32{1, 3}, nil)
	require.InDelta(t, -3.0, got, 1e-5)

	// Power norm scores by the squared L2 norm: 4 + 1 = 5.
	i := NewTransE(2)
	i.PowerNorm = true
	got = scoreOne(t, ctx, i, []float32{1, 1}, []float32{2, 1}, []float32{1, 3}, nil)
	require.InDelta(t, -5.0, got, 1e-5)
}

func TestUnstructuredModelScore(t *testing.T) {
	ctx := context.New().Checked(false)
	// Squared distance between (1,2) and (4,6) is 25; the relation is ignored.
	got := scoreOne(t, ctx, NewUnstructuredModel(), []float32{1, 2}, []float32{99, -99}, []float32{4, 6}, nil)
	require.InDelta(t, -25.0, got, 1e-4)
}

func TestStructuredEmbeddingScore(t *testing.T) {
	ctx := context.New().Checked(false)
	// With both projections the identity, SE degenerates to -||h - t||.
	identity := []float32{1, 0, 0, 1, 1, 0, 0, 1}
	got := scoreOne(t, ctx, NewStructuredEmbedding(2), []float32{1, 1}, identity, []float32{4, 5}, nil)
	require.InDelta(t, -5.0, got, 1e-4)
}

func TestDistMultScore(t *testing.T) {
	ctx := context.New().Checked(false)
	// 1*3*5 + 2*4*6 = 63.
	got := scoreOne(t, ctx, NewDistMult(), []float32{1, 2}, []float32{3, 4}, []float32{5, 6}, nil)
	require.InDelta(t, 63.0, got, 1e-4)
}

func TestComplExScore(t *testing.T) {
	ctx := context.New().Checked(false)
	// h=1+2i, r=3+4i, t=5+6i: Re((h*r) * conj(t)-wise product) summed:
	// (1*3-2*4)*5 + (1*4+2*3)*6 = -25 + 60 = 35.
	got := scoreOne(t, ctx, NewComplEx(), []float32{1, 2}, []float32{3, 4}, []float32{5, 6}, nil)
	require.InDelta(t, 35.0, got, 1e-4)
}

func TestComplExOddDimension(t *testing.T) {
	ctx := context.New().Checked(false)
	backend := graphtest.BuildTestBackend()
	err := exceptions.TryCatch[error](func() {
		context.ExecOnce(backend, ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
			one := graph.Const(g, [][]float32{{1, 2, 3}})
			return ScoreHRT(NewComplEx(), one, one, one, nil)
		})
	})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRotatEScore(t *testing.T) {
	ctx := context.New().Checked(false)
	// Unit rotation (r = 1+0i) reduces RotatE to -|h - t|: h=3+4i, t=0 gives -5.
	got := scoreOne(t, ctx, NewRotatE(), []float32{3, 4}, []float32{1, 0}, []float32{0, 0}, nil)
	require.InDelta(t, -5.0, got, 1e-4)
}

func TestHolEScore(t *testing.T) {
	ctx := context.New().Checked(false)
	// Circular correlation of h=(1,2) with t=(3,4) is (11, 10); r=(1,1) sums both.
	got := scoreOne(t, ctx, NewHolE(), []float32{1, 2}, []float32{1, 1}, []float32{3, 4}, nil)
	require.InDelta(t, 21.0, got, 1e-3)
}

func TestRESCALScore(t *testing.T) {
	ctx := context.New().Checked(false)
	// The identity relation matrix reduces RESCAL to <h, t> = 1*3 + 2*4 = 11.
	got := scoreOne(t, ctx, NewRESCAL(), []float32{1, 2}, []float32{1, 0, 0, 1}, []float32{3, 4}, nil)
	require.InDelta(t, 11.0, got, 1e-4)
}

func TestTransRScore(t *testing.T) {
	ctx := context.New().Checked(false)
	// Identity projection matrix and zero relation: -||h - t||^2 over unit-ball vectors.
	extras := map[ExtraName][]float32{
		ExtraRelationMatrix: {1, 0, 0, 1},
	}
	got := scoreOne(t, ctx, NewTransR(), []float32{0.3, 0.4}, []float32{0, 0}, []float32{0.3, 0.4}, extras)
	require.InDelta(t, 0.0, got, 1e-5)

	got = scoreOne(t, ctx, NewTransR(), []float32{0.6, 0}, []float32{0, 0}, []float32{0, 0.8}, extras)
	require.InDelta(t, -1.0, got, 1e-4) // 0.36 + 0.64
}

func TestTransDScore(t *testing.T) {
	ctx := context.New().Checked(false)
	// Zero projection vectors reduce TransD to TransE over norm-clamped entities. All
	// vectors are inside the unit ball, so clamping is a no-op.
	extras := map[ExtraName][]float32{
		ExtraHeadProjection:     {0, 0},
		ExtraRelationProjection: {0, 0},
		ExtraTailProjection:     {0, 0},
	}
	got := scoreOne(t, ctx, NewTransD(2), []float32{0.6, 0.8}, []float32{0, 0}, []float32{0.6, 0.8}, extras)
	require.InDelta(t, 0.0, got, 1e-5)
}

func TestKG2EKullbackLeiblerSelf(t *testing.T) {
	ctx := context.New().Checked(false)
	// Identical difference and relation distributions: KL divergence 0, score 0.
	extras := map[ExtraName][]float32{
		ExtraHeadVariance:     {0.3, 0.6},
		ExtraRelationVariance: {0.5, 1.0},
		ExtraTailVariance:     {0.2, 0.4},
	}
	got := scoreOne(t, ctx, NewKG2E(SimilarityKL), []float32{0.5, 0.7}, []float32{0.3, 0.3}, []float32{0.2, 0.4}, extras)
	require.InDelta(t, 0.0, got, 1e-4)
}

func TestKG2EExpectedLikelihoodSymmetry(t *testing.T) {
	ctx := context.New().Checked(false)
	i := NewKG2E(SimilarityEL)
	// EL compares N(h-t, hVar+tVar) with N(r, rVar) symmetrically: swapping the two
	// distributions must not change the score.
	forward := scoreOne(t, ctx, i, []float32{0.5, 0.1}, []float32{0.2, 0.3}, []float32{0.1, 0.2}, map[ExtraName][]float32{
		ExtraHeadVariance:     {0.3, 0.2},
		ExtraRelationVariance: {0.7, 0.9},
		ExtraTailVariance:     {0.4, 0.5},
	})
	// The swapped setup encodes the relation Gaussian as the difference distribution:
	// mean h-t = (0.2, 0.3), variances (0.7, 0.9) split across head and tail, and the old
	// difference Gaussian (mean (0.4, -0.1), variances (0.7, 0.7)) as the relation.
	swapped := scoreOne(t, ctx, i, []float32{0.2, 0.3}, []float32{0.4, -0.1}, []float32{0, 0}, map[ExtraName][]float32{
		ExtraHeadVariance:     {0.5, 0.5},
		ExtraRelationVariance: {0.7, 0.7},
		ExtraTailVariance:     {0.2, 0.4},
	})
	require.InDelta(t, forward, swapped, 1e-4)
}

func TestNTNScore(t *testing.T) {
	ctx := context.New().Checked(false)
	backend := graphtest.BuildTestBackend()
	var out *tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		out = context.ExecOnce(backend, ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
			// One slice, one-dimensional entities: score = u * tanh(h*w*t + vh*h + vt*t + b).
			h := graph.Const(g, [][]float32{{2}})
			r := graph.Const(g, [][]float32{{0}})
			tail := graph.Const(g, [][]float32{{3}})
			ex := (&Extras{}).
				Set(ExtraNTNW, graph.Const(g, [][][][]float32{{{{0.5}}}})).
				Set(ExtraNTNVHead, graph.Const(g, [][][]float32{{{1}}})).
				Set(ExtraNTNVTail, graph.Const(g, [][][]float32{{{1}}})).
				Set(ExtraNTNBias, graph.Const(g, [][]float32{{0}})).
				Set(ExtraNTNU, graph.Const(g, [][]float32{{2}}))
			return ScoreHRT(NewNTN(), h, r, tail, ex)
		})
	})
	require.NoError(t, err)
	// h*w*t = 3, vh*h = 2, vt*t = 3: 2*tanh(8) ~= 2.
	require.InDelta(t, 2.0, tensors.CopyFlatData[float32](out)[0], 1e-3)
}
