package interactions

import (
	"github.com/chewxy/math32"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/batchnorm"
	"github.com/janpfeifer/kge/internal/axes"
)

// ERMLP scores the concatenation h|r|t through a two-layer perceptron with a scalar
// output.
type ERMLP struct {
	ctx                     *context.Context
	embeddingDim, hiddenDim int

	hiddenWeights, hiddenBias *context.Variable
	outputWeights, outputBias *context.Variable
}

// NewERMLP returns an ER-MLP interaction, creating its parameters as variables of ctx.
// A hiddenDim of 0 defaults to embeddingDim.
func NewERMLP(ctx *context.Context, embeddingDim, hiddenDim int) *ERMLP {
	if hiddenDim <= 0 {
		hiddenDim = embeddingDim
	}
	i := &ERMLP{ctx: ctx, embeddingDim: embeddingDim, hiddenDim: hiddenDim}
	i.hiddenWeights = ctx.VariableWithValue("ermlp_hidden_weights", XavierUniformTensor(LinearGain, 3*embeddingDim, hiddenDim))
	i.hiddenBias = ctx.VariableWithValue("ermlp_hidden_bias", ZerosTensor(hiddenDim))
	i.outputWeights = ctx.VariableWithValue("ermlp_output_weights", XavierUniformTensor(ReluGain, hiddenDim, 1))
	i.outputBias = ctx.VariableWithValue("ermlp_output_bias", ZerosTensor(1))
	return i
}

func (i *ERMLP) RequiredExtras() []ExtraName { return nil }

func (i *ERMLP) ResetParameters() {
	i.hiddenWeights.SetValue(XavierUniformTensor(LinearGain, 3*i.embeddingDim, i.hiddenDim))
	i.hiddenBias.SetValue(ZerosTensor(i.hiddenDim))
	i.outputWeights.SetValue(XavierUniformTensor(ReluGain, i.hiddenDim, 1))
	i.outputBias.SetValue(ZerosTensor(1))
}

func (i *ERMLP) Forward(h, r, t *Node, _ *Extras) *Node {
	g := h.Graph()
	x := Concatenate(axes.BroadcastCommon(h, r, t), -1)
	x = activations.Relu(applyLinear(x, i.hiddenWeights.ValueGraph(g), i.hiddenBias.ValueGraph(g)))
	x = applyLinear(x, i.outputWeights.ValueGraph(g), i.outputBias.ValueGraph(g))
	return Squeeze(x, -1)
}

// ERMLPE feeds the concatenation h|t through a deeper perceptron with dropout and batch
// normalization, and scores the result against the relation representation by inner
// product.
type ERMLPE struct {
	ctx                     *context.Context
	embeddingDim, hiddenDim int

	firstWeights, firstBias   *context.Variable
	secondWeights, secondBias *context.Variable
}

// ERMLPEConfig configures NewERMLPE. Zero values select the defaults.
type ERMLPEConfig struct {
	EmbeddingDim  int
	HiddenDim     int     // defaults to EmbeddingDim
	InputDropout  float64 // defaults to 0.2
	HiddenDropout float64 // defaults to 0.3
}

// NewERMLPE returns an ER-MLP (E) interaction, creating its parameters as variables of ctx.
func NewERMLPE(ctx *context.Context, cfg ERMLPEConfig) *ERMLPE {
	if cfg.HiddenDim <= 0 {
		cfg.HiddenDim = cfg.EmbeddingDim
	}
	if cfg.InputDropout == 0 {
		cfg.InputDropout = 0.2
	}
	if cfg.HiddenDropout == 0 {
		cfg.HiddenDropout = 0.3
	}
	ctx.In("ermlpe_input_dropout").SetParam(layers.ParamDropoutRate, cfg.InputDropout)
	ctx.In("ermlpe_hidden_dropout").SetParam(layers.ParamDropoutRate, cfg.HiddenDropout)
	i := &ERMLPE{ctx: ctx, embeddingDim: cfg.EmbeddingDim, hiddenDim: cfg.HiddenDim}
	i.firstWeights = ctx.VariableWithValue("ermlpe_first_weights", XavierUniformTensor(LinearGain, 2*cfg.EmbeddingDim, cfg.HiddenDim))
	i.firstBias = ctx.VariableWithValue("ermlpe_first_bias", ZerosTensor(cfg.HiddenDim))
	i.secondWeights = ctx.VariableWithValue("ermlpe_second_weights", XavierUniformTensor(LinearGain, cfg.HiddenDim, cfg.EmbeddingDim))
	i.secondBias = ctx.VariableWithValue("ermlpe_second_bias", ZerosTensor(cfg.EmbeddingDim))
	return i
}

func (i *ERMLPE) RequiredExtras() []ExtraName { return nil }

func (i *ERMLPE) ResetParameters() {
	i.firstWeights.SetValue(XavierUniformTensor(LinearGain, 2*i.embeddingDim, i.hiddenDim))
	i.firstBias.SetValue(ZerosTensor(i.hiddenDim))
	i.secondWeights.SetValue(XavierUniformTensor(LinearGain, i.hiddenDim, i.embeddingDim))
	i.secondBias.SetValue(ZerosTensor(i.embeddingDim))
	resetBatchNormScope(i.ctx, "ermlpe_bn0")
	resetBatchNormScope(i.ctx, "ermlpe_bn1")
}

func (i *ERMLPE) Forward(h, r, t *Node, _ *Extras) *Node {
	g := h.Graph()
	broadcast := axes.BroadcastCommon(h, t)
	x := Concatenate(broadcast, -1)
	x, lead := flattenLeading(x)
	x = layers.DropoutFromContext(i.ctx.In("ermlpe_input_dropout"), x)
	x = applyLinear(x, i.firstWeights.ValueGraph(g), i.firstBias.ValueGraph(g))
	x = layers.DropoutFromContext(i.ctx.In("ermlpe_hidden_dropout"), x)
	x = batchnorm.New(i.ctx.In("ermlpe_bn0"), x, -1).Done()
	x = activations.Relu(x)
	x = applyLinear(x, i.secondWeights.ValueGraph(g), i.secondBias.ValueGraph(g))
	x = layers.DropoutFromContext(i.ctx.In("ermlpe_hidden_dropout"), x)
	x = batchnorm.New(i.ctx.In("ermlpe_bn1"), x, -1).Done()
	x = activations.Relu(x)
	x = unflattenLeading(x, lead)
	return ReduceSum(Mul(x, r), -1)
}

// ProjE combines head and relation through learned diagonal weights and scores the
// activated combination against the tail, plus a learned global bias.
type ProjE struct {
	ctx          *context.Context
	embeddingDim int
	// Activation applied to the combined hidden state, graph.Tanh by default.
	Activation func(*Node) *Node

	headWeights, relationWeights *context.Variable
	combinationBias, globalBias  *context.Variable
}

// NewProjE returns a ProjE interaction, creating its parameters as variables of ctx.
func NewProjE(ctx *context.Context, embeddingDim int) *ProjE {
	i := &ProjE{ctx: ctx, embeddingDim: embeddingDim, Activation: Tanh}
	bound := projEBound(embeddingDim)
	i.headWeights = ctx.VariableWithValue("proje_head_weights", UniformTensor(-bound, bound, embeddingDim))
	i.relationWeights = ctx.VariableWithValue("proje_relation_weights", UniformTensor(-bound, bound, embeddingDim))
	i.combinationBias = ctx.VariableWithValue("proje_combination_bias", UniformTensor(-bound, bound, embeddingDim))
	i.globalBias = ctx.VariableWithValue("proje_global_bias", UniformTensor(-bound, bound))
	return i
}

func projEBound(embeddingDim int) float32 {
	return math32.Sqrt(6) / float32(embeddingDim)
}

func (i *ProjE) RequiredExtras() []ExtraName { return nil }

func (i *ProjE) ResetParameters() {
	bound := projEBound(i.embeddingDim)
	i.headWeights.SetValue(UniformTensor(-bound, bound, i.embeddingDim))
	i.relationWeights.SetValue(UniformTensor(-bound, bound, i.embeddingDim))
	i.combinationBias.SetValue(UniformTensor(-bound, bound, i.embeddingDim))
	i.globalBias.SetValue(UniformTensor(-bound, bound))
}

func (i *ProjE) Forward(h, r, t *Node, _ *Extras) *Node {
	g := h.Graph()
	return ProjEScore(h, r, t,
		i.headWeights.ValueGraph(g), i.relationWeights.ValueGraph(g),
		i.combinationBias.ValueGraph(g), i.globalBias.ValueGraph(g),
		i.Activation)
}
