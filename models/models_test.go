package models

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/kge/interactions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGraph = "num_entities=5,num_relations=3,dim=4"

// allModelConfigs lists one working configuration per interaction family.
var allModelConfigs = []string{
	"transe," + testGraph + ",p=1",
	"transe," + testGraph,
	"um," + testGraph,
	"se," + testGraph,
	"transd," + testGraph,
	"transr," + testGraph + ",relation_dim=3",
	"distmult," + testGraph,
	"complex," + testGraph,
	"rotate," + testGraph,
	"hole," + testGraph,
	"rescal," + testGraph,
	"proje," + testGraph,
	"ermlp," + testGraph + ",hidden_dim=6",
	"ermlpe," + testGraph,
	"conve,num_entities=5,num_relations=3,dim=9",
	"convkb," + testGraph + ",num_filters=2",
	"tucker," + testGraph + ",relation_dim=3",
	"ntn," + testGraph + ",num_slices=2",
	"kg2e," + testGraph,
	"kg2e," + testGraph + ",similarity=EL",
}

// TestAllModelsModeConsistency builds every model family and checks that the
// candidate-enumerating scoring modes agree with exact-triple scoring.
func TestAllModelsModeConsistency(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, config := range allModelConfigs {
		t.Run(config, func(t *testing.T) {
			m, err := FromConfigStringWithBackend(backend, config)
			require.NoError(t, err)

			heads := []int32{0, 3}
			relations := []int32{1, 2}
			tails := []int32{4, 0}

			hrt, err := m.ScoreHRT(heads, relations, tails)
			require.NoError(t, err)
			require.Len(t, hrt, 2)

			headScores, err := m.ScoreHeads(relations, tails)
			require.NoError(t, err)
			relationScores, err := m.ScoreRelations(heads, tails)
			require.NoError(t, err)
			tailScores, err := m.ScoreTails(heads, relations)
			require.NoError(t, err)

			for b := range hrt {
				require.Len(t, headScores[b], m.NumEntities())
				require.Len(t, relationScores[b], m.NumRelations())
				require.Len(t, tailScores[b], m.NumEntities())
				assert.InDelta(t, hrt[b], headScores[b][heads[b]], 1e-3,
					"ScoreHeads disagrees with ScoreHRT on batch element %d", b)
				assert.InDelta(t, hrt[b], relationScores[b][relations[b]], 1e-3,
					"ScoreRelations disagrees with ScoreHRT on batch element %d", b)
				assert.InDelta(t, hrt[b], tailScores[b][tails[b]], 1e-3,
					"ScoreTails disagrees with ScoreHRT on batch element %d", b)
			}
		})
	}
}

func TestTransEPerfectTriple(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m, err := NewTransE(backend, Config{NumEntities: 3, NumRelations: 1, EmbeddingDim: 2}, 2)
	require.NoError(t, err)

	// Force h + r == t: entity 0 at (1,0), relation 0 at (0,1), entity 1 at (1,1).
	m.entityEmbeddings.SetValue(tensors.FromFlatDataAndDimensions(
		[]float32{1, 0, 1, 1, 0, 1}, 3, 2))
	m.relationEmbeddings.SetValue(tensors.FromFlatDataAndDimensions(
		[]float32{0, 1}, 1, 2))

	scores, err := m.ScoreHRT([]int32{0}, []int32{0}, []int32{1})
	require.NoError(t, err)
	require.InDelta(t, 0.0, scores[0], 1e-5)

	// And the same triple must be the best tail candidate.
	tailScores, err := m.ScoreTails([]int32{0}, []int32{0})
	require.NoError(t, err)
	for candidate, score := range tailScores[0] {
		if candidate == 1 {
			continue
		}
		require.Less(t, score, tailScores[0][1],
			"tail %d must score below the perfect tail", candidate)
	}
}

func TestTransEEntityNormConstraint(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m, err := NewTransE(backend, Config{NumEntities: 4, NumRelations: 2, EmbeddingDim: 3}, 2)
	require.NoError(t, err)

	// Perturb the table, then re-apply constraints: every row back at unit norm.
	m.entityEmbeddings.SetValue(tensors.FromFlatDataAndDimensions(
		[]float32{3, 0, 0, 0, 5, 0, 1, 2, 2, 0.1, 0, 0}, 4, 3))
	m.ApplyConstraints()

	flat := tensors.CopyFlatData[float32](m.entityEmbeddings.Value())
	for row := 0; row < 4; row++ {
		var sum float32
		for _, v := range flat[row*3 : row*3+3] {
			sum += v * v
		}
		assert.InDelta(t, 1.0, math32.Sqrt(sum), 1e-5, "entity row %d", row)
	}
}

func TestKG2ECovarianceClamp(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := Config{NumEntities: 3, NumRelations: 2, EmbeddingDim: 2}
	m, err := NewKG2E(backend, cfg, KG2EConfig{CMin: 0.05, CMax: 5})
	require.NoError(t, err)

	cov := m.aux[interactions.ExtraHeadVariance].variable
	cov.SetValue(tensors.FromFlatDataAndDimensions(
		[]float32{-1, 0.001, 100, 2, 0.5, 7}, 3, 2))
	m.ApplyConstraints()

	flat := tensors.CopyFlatData[float32](cov.Value())
	for ii, v := range flat {
		assert.GreaterOrEqual(t, v, float32(0.05), "element %d", ii)
		assert.LessOrEqual(t, v, float32(5), "element %d", ii)
	}
}

func TestResetParametersChangesScores(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m, err := NewDistMult(backend, Config{NumEntities: 6, NumRelations: 2, EmbeddingDim: 8})
	require.NoError(t, err)

	heads := []int32{0, 1, 2}
	relations := []int32{0, 1, 0}
	tails := []int32{3, 4, 5}
	before, err := m.ScoreHRT(heads, relations, tails)
	require.NoError(t, err)

	m.ResetParameters()
	after, err := m.ScoreHRT(heads, relations, tails)
	require.NoError(t, err)
	require.NotEqual(t, before, after, "reset must redraw the embeddings")
}

func TestResetParametersRestoresBatchNorm(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m, err := NewERMLPE(backend, Config{NumEntities: 6, NumRelations: 2, EmbeddingDim: 8},
		interactions.ERMLPEConfig{HiddenDim: 8})
	require.NoError(t, err)

	heads := []int32{0, 1}
	relations := []int32{0, 1}
	tails := []int32{2, 3}
	before, err := m.ScoreHRT(heads, relations, tails)
	require.NoError(t, err)

	// The first scoring call builds the normalization state. Shift the running mean and
	// check that the already compiled executor sees the new value.
	bnScope := m.ctx.In("ermlpe_bn0").In("batch_normalization")
	mean := bnScope.GetVariable("mean")
	require.NotNil(t, mean)
	dim := mean.Shape().Dimensions[0]
	shifted := make([]float32, dim)
	for ii := range shifted {
		shifted[ii] = 3
	}
	mean.SetValue(tensors.FromFlatDataAndDimensions(shifted, dim))
	perturbed, err := m.ScoreHRT(heads, relations, tails)
	require.NoError(t, err)
	require.NotEqual(t, before, perturbed, "executor must read the updated running mean")

	// Reset must restore the same variables in place, not recreate them.
	m.ResetParameters()
	require.Same(t, mean, bnScope.GetVariable("mean"))
	assert.Equal(t, make([]float32, dim), tensors.CopyFlatData[float32](mean.Value()))
	after, err := m.ScoreHRT(heads, relations, tails)
	require.NoError(t, err)
	require.Len(t, after, len(heads))
}

func TestScoreValidation(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m, err := NewDistMult(backend, Config{NumEntities: 4, NumRelations: 2, EmbeddingDim: 4})
	require.NoError(t, err)

	_, err = m.ScoreHRT([]int32{0, 1}, []int32{0}, []int32{1, 2})
	require.Error(t, err, "mismatching batch lengths")

	_, err = m.ScoreHRT([]int32{4}, []int32{0}, []int32{1})
	require.Error(t, err, "entity index out of range")

	_, err = m.ScoreTails([]int32{0}, []int32{2})
	require.Error(t, err, "relation index out of range")

	_, err = m.ScoreHRT(nil, nil, nil)
	require.Error(t, err, "empty batch")
}

func TestFromConfigStringErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	_, err := FromConfigStringWithBackend(backend, "frobnicate,"+testGraph)
	require.ErrorContains(t, err, "unknown model")

	_, err = FromConfigStringWithBackend(backend, "transe,"+testGraph+",bogus_key=1")
	require.ErrorContains(t, err, "unknown parameters")

	_, err = FromConfigStringWithBackend(backend, "transe,num_relations=3,dim=4")
	require.Error(t, err, "missing num_entities")

	_, err = FromConfigStringWithBackend(backend, "complex,num_entities=5,num_relations=3,dim=3")
	require.Error(t, err, "odd dimension for complex embeddings")

	_, err = FromConfigStringWithBackend(backend, "kg2e,"+testGraph+",similarity=XX")
	require.ErrorContains(t, err, "similarity")

	_, err = FromConfigStringWithBackend(backend, "conve,num_entities=5,num_relations=3,dim=9,channels=5,width=3")
	require.Error(t, err, "impossible factorization")
}
