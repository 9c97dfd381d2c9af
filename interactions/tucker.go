package interactions

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/batchnorm"
)

// Tucker scores triples through a shared core tensor contracted with all three
// representations, interleaved with batch normalization and dropout stages. Entity and
// relation dimensions may differ.
type Tucker struct {
	ctx                    *context.Context
	entityDim, relationDim int
	useBatchNorm           bool

	core *context.Variable // (entityDim, relationDim, entityDim)
}

// TuckerConfig configures NewTucker. Zero dropout values select the defaults.
type TuckerConfig struct {
	EntityDim   int
	RelationDim int // defaults to EntityDim

	HeadDropout         float64 // defaults to 0.3
	RelationDropout     float64 // defaults to 0.4
	HeadRelationDropout float64 // defaults to 0.5

	DisableBatchNorm bool
}

// NewTucker returns a Tucker interaction, creating its core tensor as a variable of ctx.
func NewTucker(ctx *context.Context, cfg TuckerConfig) *Tucker {
	if cfg.RelationDim <= 0 {
		cfg.RelationDim = cfg.EntityDim
	}
	if cfg.HeadDropout == 0 {
		cfg.HeadDropout = 0.3
	}
	if cfg.RelationDropout == 0 {
		cfg.RelationDropout = 0.4
	}
	if cfg.HeadRelationDropout == 0 {
		cfg.HeadRelationDropout = 0.5
	}
	ctx.In("tucker_head_dropout").SetParam(layers.ParamDropoutRate, cfg.HeadDropout)
	ctx.In("tucker_relation_dropout").SetParam(layers.ParamDropoutRate, cfg.RelationDropout)
	ctx.In("tucker_head_relation_dropout").SetParam(layers.ParamDropoutRate, cfg.HeadRelationDropout)
	i := &Tucker{
		ctx:          ctx,
		entityDim:    cfg.EntityDim,
		relationDim:  cfg.RelationDim,
		useBatchNorm: !cfg.DisableBatchNorm,
	}
	i.core = ctx.VariableWithValue("tucker_core",
		UniformTensor(-1, 1, cfg.EntityDim, cfg.RelationDim, cfg.EntityDim))
	return i
}

func (i *Tucker) RequiredExtras() []ExtraName { return nil }

func (i *Tucker) ResetParameters() {
	i.core.SetValue(UniformTensor(-1, 1, i.entityDim, i.relationDim, i.entityDim))
	resetBatchNormScope(i.ctx, "tucker_bn0")
	resetBatchNormScope(i.ctx, "tucker_bn1")
}

func (i *Tucker) Forward(h, r, t *Node, _ *Extras) *Node {
	g := h.Graph()
	core := i.core.ValueGraph(g)

	x, leadH := flattenLeading(h)
	if i.useBatchNorm {
		x = batchnorm.New(i.ctx.In("tucker_bn0"), x, -1).Done()
	}
	x = layers.DropoutFromContext(i.ctx.In("tucker_head_dropout"), x)
	x = unflattenLeading(x, leadH)

	// Contract the core with the relation: (..., relationDim) x (dE, dR, dE) -> (..., dE, dE).
	rExp := ExpandAxes(ExpandAxes(r, -2), -1)
	w := ReduceSum(Mul(liftToRank(core, rExp.Rank()), rExp), -2)
	w = layers.DropoutFromContext(i.ctx.In("tucker_relation_dropout"), w)

	// Contract the transformed head with the relation-specific matrix.
	x = ReduceSum(Mul(ExpandAxes(x, -1), w), -2)

	x, lead := flattenLeading(x)
	if i.useBatchNorm {
		x = batchnorm.New(i.ctx.In("tucker_bn1"), x, -1).Done()
	}
	x = layers.DropoutFromContext(i.ctx.In("tucker_head_relation_dropout"), x)
	x = unflattenLeading(x, lead)

	return ReduceSum(Mul(x, t), -1)
}
