package models

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/kge/interactions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config is the graph-level configuration shared by all presets.
type Config struct {
	NumEntities  int
	NumRelations int
	EmbeddingDim int
	// RelationDim is the relation-space dimension for interactions that separate the two
	// spaces (TransR, Tucker); it defaults to EmbeddingDim and is ignored by interactions
	// that fix the relation feature width themselves.
	RelationDim int
}

// Row constrainers, applied by ApplyConstraints after each parameter update.

// normalizeRow rescales a row to exactly unit L2 norm.
func normalizeRow(row []float32) {
	var sum float32
	for _, v := range row {
		sum += v * v
	}
	norm := math32.Sqrt(sum)
	if norm == 0 {
		return
	}
	for ii := range row {
		row[ii] /= norm
	}
}

// clampRowNorm rescales a row back onto the maxNorm sphere only when it exceeds it.
func clampRowNorm(maxNorm float32) func(row []float32) {
	return func(row []float32) {
		var sum float32
		for _, v := range row {
			sum += v * v
		}
		norm := math32.Sqrt(sum)
		if norm <= maxNorm || norm == 0 {
			return
		}
		factor := maxNorm / norm
		for ii := range row {
			row[ii] *= factor
		}
	}
}

// clampRowRange clamps every element of a row into [low, high].
func clampRowRange(low, high float32) func(row []float32) {
	return func(row []float32) {
		for ii, v := range row {
			row[ii] = min(max(v, low), high)
		}
	}
}

func (m *Model) addConstraint(v *context.Variable, rowSize int, apply func(row []float32)) {
	m.constraints = append(m.constraints, constraint{variable: v, rowSize: rowSize, apply: apply})
}

// fixRelationDim forces the relation dimension interactions derive themselves, warning when
// it overrides an explicit (and therefore ignored) setting.
func fixRelationDim(cfg *Config, model string, dim int) {
	if cfg.RelationDim > 0 && cfg.RelationDim != dim {
		klog.Warningf("%s derives its relation dimension (%d), ignoring relation_dim=%d",
			model, dim, cfg.RelationDim)
	}
	cfg.RelationDim = dim
}

// NewTransE builds a TransE model scoring by the negative p-norm of h+r-t. Entity
// embeddings are kept at unit norm.
func NewTransE(backend backends.Backend, cfg Config, p int) (*Model, error) {
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewTransE(p))
	if err != nil {
		return nil, err
	}
	m.addConstraint(m.entityEmbeddings, m.entityDim, normalizeRow)
	m.ApplyConstraints()
	return m, m.compile()
}

// NewUnstructuredModel builds an Unstructured Model, the relation-blind distance baseline.
func NewUnstructuredModel(backend backends.Backend, cfg Config) (*Model, error) {
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewUnstructuredModel())
	if err != nil {
		return nil, err
	}
	return m, m.compile()
}

// NewStructuredEmbedding builds a Structured Embedding model; each relation stores its two
// projection matrices flattened into one row.
func NewStructuredEmbedding(backend backends.Backend, cfg Config, p int) (*Model, error) {
	fixRelationDim(&cfg, "Structured Embedding", 2*cfg.EmbeddingDim*cfg.EmbeddingDim)
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewStructuredEmbedding(p))
	if err != nil {
		return nil, err
	}
	m.addConstraint(m.entityEmbeddings, m.entityDim, normalizeRow)
	m.ApplyConstraints()
	return m, m.compile()
}

// NewTransD builds a TransD model; entity and relation spaces share the embedding
// dimension, with per-entity and per-relation projection vectors as separate tables.
func NewTransD(backend backends.Backend, cfg Config, p int) (*Model, error) {
	if cfg.RelationDim != 0 && cfg.RelationDim != cfg.EmbeddingDim {
		return nil, errors.Errorf(
			"TransD requires matching entity and relation dimensions, got %d and %d",
			cfg.EmbeddingDim, cfg.RelationDim)
	}
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewTransD(p))
	if err != nil {
		return nil, err
	}
	entityProj := m.newTable("entity_projections", func() *tensors.Tensor {
		return interactions.XavierUniformTensor(interactions.LinearGain, m.numEntities, m.entityDim)
	})
	relationProj := m.newTable("relation_projections", func() *tensors.Tensor {
		return interactions.XavierUniformTensor(interactions.LinearGain, m.numRelations, m.entityDim)
	})
	m.registerAux(interactions.ExtraHeadProjection, entityProj)
	m.registerAux(interactions.ExtraTailProjection, entityProj)
	m.registerAux(interactions.ExtraRelationProjection, relationProj)
	m.addConstraint(m.entityEmbeddings, m.entityDim, clampRowNorm(1))
	m.addConstraint(m.relationEmbeddings, m.relationDim, clampRowNorm(1))
	m.ApplyConstraints()
	return m, m.compile()
}

// NewTransR builds a TransR model with a per-relation projection matrix table.
func NewTransR(backend backends.Backend, cfg Config) (*Model, error) {
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewTransR())
	if err != nil {
		return nil, err
	}
	matrices := m.newTable("relation_matrices", func() *tensors.Tensor {
		return interactions.XavierUniformTensor(interactions.LinearGain,
			m.numRelations, m.entityDim*m.relationDim)
	})
	m.registerAux(interactions.ExtraRelationMatrix, matrices, m.entityDim, m.relationDim)
	m.addConstraint(m.entityEmbeddings, m.entityDim, clampRowNorm(1))
	m.addConstraint(m.relationEmbeddings, m.relationDim, clampRowNorm(1))
	m.ApplyConstraints()
	return m, m.compile()
}

// NewDistMult builds a DistMult model. Entity embeddings are kept at unit norm.
func NewDistMult(backend backends.Backend, cfg Config) (*Model, error) {
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewDistMult())
	if err != nil {
		return nil, err
	}
	m.addConstraint(m.entityEmbeddings, m.entityDim, normalizeRow)
	m.ApplyConstraints()
	return m, m.compile()
}

// NewComplEx builds a ComplEx model; the embedding dimension counts real and imaginary
// parts and must be even.
func NewComplEx(backend backends.Backend, cfg Config) (*Model, error) {
	if cfg.EmbeddingDim%2 != 0 {
		return nil, errors.Errorf("ComplEx needs an even embedding dimension, got %d", cfg.EmbeddingDim)
	}
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewComplEx())
	if err != nil {
		return nil, err
	}
	return m, m.compile()
}

// NewRotatE builds a RotatE model; the embedding dimension must be even.
func NewRotatE(backend backends.Backend, cfg Config) (*Model, error) {
	if cfg.EmbeddingDim%2 != 0 {
		return nil, errors.Errorf("RotatE needs an even embedding dimension, got %d", cfg.EmbeddingDim)
	}
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewRotatE())
	if err != nil {
		return nil, err
	}
	return m, m.compile()
}

// NewHolE builds a HolE model with entity embeddings clamped to the unit ball.
func NewHolE(backend backends.Backend, cfg Config) (*Model, error) {
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewHolE())
	if err != nil {
		return nil, err
	}
	m.addConstraint(m.entityEmbeddings, m.entityDim, clampRowNorm(1))
	m.ApplyConstraints()
	return m, m.compile()
}

// NewRESCAL builds a RESCAL model; each relation stores its full bilinear matrix.
func NewRESCAL(backend backends.Backend, cfg Config) (*Model, error) {
	fixRelationDim(&cfg, "RESCAL", cfg.EmbeddingDim*cfg.EmbeddingDim)
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewRESCAL())
	if err != nil {
		return nil, err
	}
	return m, m.compile()
}

// NewProjE builds a ProjE model.
func NewProjE(backend backends.Backend, cfg Config) (*Model, error) {
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewProjE(ctx, cfg.EmbeddingDim))
	if err != nil {
		return nil, err
	}
	return m, m.compile()
}

// NewERMLP builds an ER-MLP model. A hiddenDim of 0 defaults to the embedding dimension.
func NewERMLP(backend backends.Backend, cfg Config, hiddenDim int) (*Model, error) {
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewERMLP(ctx, cfg.EmbeddingDim, hiddenDim))
	if err != nil {
		return nil, err
	}
	return m, m.compile()
}

// NewERMLPE builds an ER-MLP (E) model.
func NewERMLPE(backend backends.Backend, cfg Config, icfg interactions.ERMLPEConfig) (*Model, error) {
	icfg.EmbeddingDim = cfg.EmbeddingDim
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewERMLPE(ctx, icfg))
	if err != nil {
		return nil, err
	}
	return m, m.compile()
}

// NewConvE builds a ConvE model with its per-tail bias table.
func NewConvE(backend backends.Backend, cfg Config, icfg interactions.ConvEConfig) (*Model, error) {
	icfg.EmbeddingDim = cfg.EmbeddingDim
	ctx := context.New().Checked(false)
	conv, err := interactions.NewConvE(ctx, icfg)
	if err != nil {
		return nil, err
	}
	m, err := newModel(backend, ctx, cfg, conv)
	if err != nil {
		return nil, err
	}
	biases := m.newTable("tail_biases", func() *tensors.Tensor {
		return interactions.ZerosTensor(m.numEntities, 1)
	})
	m.registerAux(interactions.ExtraTailBias, biases)
	return m, m.compile()
}

// NewConvKB builds a ConvKB model.
func NewConvKB(backend backends.Backend, cfg Config, icfg interactions.ConvKBConfig) (*Model, error) {
	icfg.EmbeddingDim = cfg.EmbeddingDim
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewConvKB(ctx, icfg))
	if err != nil {
		return nil, err
	}
	return m, m.compile()
}

// NewTucker builds a Tucker model; RelationDim sets the relation-space dimension.
func NewTucker(backend backends.Backend, cfg Config, icfg interactions.TuckerConfig) (*Model, error) {
	icfg.EntityDim = cfg.EmbeddingDim
	if cfg.RelationDim > 0 {
		icfg.RelationDim = cfg.RelationDim
	}
	ctx := context.New().Checked(false)
	i := interactions.NewTucker(ctx, icfg)
	m, err := newModel(backend, ctx, cfg, i)
	if err != nil {
		return nil, err
	}
	return m, m.compile()
}

// NewNTN builds a neural tensor network model with numSlices slices per relation. All NTN
// parameters are per-relation tables; the primary relation embedding is unused by the
// kernel but still identifies relations in the candidate-enumerating modes.
func NewNTN(backend backends.Backend, cfg Config, numSlices int) (*Model, error) {
	if numSlices <= 0 {
		numSlices = 4
	}
	fixRelationDim(&cfg, "NTN", numSlices)
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewNTN())
	if err != nil {
		return nil, err
	}
	dim := m.entityDim
	k := numSlices
	w := m.newTable("ntn_w", func() *tensors.Tensor {
		return interactions.NormalTensor(1.0/float32(dim), m.numRelations, k*dim*dim)
	})
	vh := m.newTable("ntn_vh", func() *tensors.Tensor {
		return interactions.NormalTensor(1.0/float32(dim), m.numRelations, k*dim)
	})
	vt := m.newTable("ntn_vt", func() *tensors.Tensor {
		return interactions.NormalTensor(1.0/float32(dim), m.numRelations, k*dim)
	})
	b := m.newTable("ntn_b", func() *tensors.Tensor {
		return interactions.ZerosTensor(m.numRelations, k)
	})
	u := m.newTable("ntn_u", func() *tensors.Tensor {
		return interactions.NormalTensor(1.0/float32(k), m.numRelations, k)
	})
	m.registerAux(interactions.ExtraNTNW, w, k, dim, dim)
	m.registerAux(interactions.ExtraNTNVHead, vh, k, dim)
	m.registerAux(interactions.ExtraNTNVTail, vt, k, dim)
	m.registerAux(interactions.ExtraNTNBias, b)
	m.registerAux(interactions.ExtraNTNU, u)
	return m, m.compile()
}

// KG2EConfig configures NewKG2E.
type KG2EConfig struct {
	// Similarity is "KL" (default) or "EL".
	Similarity string
	// CMin and CMax bound the covariance diagonals; zero values select 0.05 and 5.
	CMin, CMax float32
}

// NewKG2E builds a KG2E model: embeddings are Gaussian means (clamped to the unit ball)
// with per-entity and per-relation covariance-diagonal tables clamped into [CMin, CMax].
func NewKG2E(backend backends.Backend, cfg Config, kcfg KG2EConfig) (*Model, error) {
	if kcfg.CMin == 0 {
		kcfg.CMin = 0.05
	}
	if kcfg.CMax == 0 {
		kcfg.CMax = 5
	}
	if kcfg.CMin <= 0 || kcfg.CMax <= kcfg.CMin {
		return nil, errors.Errorf("invalid covariance bounds [%g, %g]", kcfg.CMin, kcfg.CMax)
	}
	measure, err := interactions.ParseSimilarity(kcfg.Similarity)
	if err != nil {
		return nil, err
	}
	ctx := context.New().Checked(false)
	m, err := newModel(backend, ctx, cfg, interactions.NewKG2E(measure))
	if err != nil {
		return nil, err
	}
	entityCov := m.newTable("entity_covariances", func() *tensors.Tensor {
		return interactions.UniformTensor(kcfg.CMin, kcfg.CMax, m.numEntities, m.entityDim)
	})
	relationCov := m.newTable("relation_covariances", func() *tensors.Tensor {
		return interactions.UniformTensor(kcfg.CMin, kcfg.CMax, m.numRelations, m.entityDim)
	})
	m.registerAux(interactions.ExtraHeadVariance, entityCov)
	m.registerAux(interactions.ExtraTailVariance, entityCov)
	m.registerAux(interactions.ExtraRelationVariance, relationCov)
	m.addConstraint(m.entityEmbeddings, m.entityDim, clampRowNorm(1))
	m.addConstraint(m.relationEmbeddings, m.relationDim, clampRowNorm(1))
	m.addConstraint(entityCov, m.entityDim, clampRowRange(kcfg.CMin, kcfg.CMax))
	m.addConstraint(relationCov, m.entityDim, clampRowRange(kcfg.CMin, kcfg.CMax))
	m.ApplyConstraints()
	return m, m.compile()
}
