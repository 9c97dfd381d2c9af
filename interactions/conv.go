package interactions

import (
	"github.com/chewxy/math32"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/kge/internal/axes"
	"github.com/janpfeifer/kge/internal/geometry"
	"github.com/pkg/errors"
)

// ConvE reshapes head and relation into 2D maps, stacks them into an image, and scores the
// tail against the convolved features. It requires the per-tail bias extra.
type ConvE struct {
	ctx  *context.Context
	geom geometry.Geometry

	embeddingDim, outputChannels int
	kernelHeight, kernelWidth    int
	numInFeatures                int
	useBatchNorm                 bool

	kernel, kernelBias *context.Variable
	fcWeights, fcBias  *context.Variable
}

// ConvEConfig configures NewConvE. InputChannels, EmbeddingHeight and EmbeddingWidth
// follow the factorization rules of the embedding dimension: unset (zero) values are
// derived, a fully unset geometry picks the most square factorization with one channel.
// Other zero values select the defaults.
type ConvEConfig struct {
	EmbeddingDim int

	InputChannels   int
	EmbeddingHeight int
	EmbeddingWidth  int

	OutputChannels int // defaults to 32
	KernelHeight   int // defaults to 3
	KernelWidth    int // defaults to 3

	InputDropout      float64 // defaults to 0.2
	FeatureMapDropout float64 // defaults to 0.2
	OutputDropout     float64 // defaults to 0.3

	DisableBatchNorm bool
}

// NewConvE returns a ConvE interaction, creating its parameters as variables of ctx. It
// fails if the embedding dimension cannot be factorized into the requested image geometry,
// or if the kernel does not fit the stacked image.
func NewConvE(ctx *context.Context, cfg ConvEConfig) (*ConvE, error) {
	if cfg.OutputChannels <= 0 {
		cfg.OutputChannels = 32
	}
	if cfg.KernelHeight <= 0 {
		cfg.KernelHeight = 3
	}
	if cfg.KernelWidth <= 0 {
		cfg.KernelWidth = 3
	}
	if cfg.InputDropout == 0 {
		cfg.InputDropout = 0.2
	}
	if cfg.FeatureMapDropout == 0 {
		cfg.FeatureMapDropout = 0.2
	}
	if cfg.OutputDropout == 0 {
		cfg.OutputDropout = 0.3
	}
	geom, err := geometry.Resolve(cfg.EmbeddingDim, cfg.InputChannels, cfg.EmbeddingWidth, cfg.EmbeddingHeight)
	if err != nil {
		return nil, err
	}
	outHeight := 2*geom.Height - cfg.KernelHeight + 1
	outWidth := geom.Width - cfg.KernelWidth + 1
	if outHeight <= 0 || outWidth <= 0 {
		return nil, errors.Errorf(
			"ConvE kernel %dx%d does not fit the stacked %dx%d image",
			cfg.KernelHeight, cfg.KernelWidth, 2*geom.Height, geom.Width)
	}
	i := &ConvE{
		ctx:            ctx,
		geom:           geom,
		embeddingDim:   cfg.EmbeddingDim,
		outputChannels: cfg.OutputChannels,
		kernelHeight:   cfg.KernelHeight,
		kernelWidth:    cfg.KernelWidth,
		numInFeatures:  cfg.OutputChannels * outHeight * outWidth,
		useBatchNorm:   !cfg.DisableBatchNorm,
	}
	ctx.In("conve_input_dropout").SetParam(layers.ParamDropoutRate, cfg.InputDropout)
	ctx.In("conve_feature_dropout").SetParam(layers.ParamDropoutRate, cfg.FeatureMapDropout)
	ctx.In("conve_output_dropout").SetParam(layers.ParamDropoutRate, cfg.OutputDropout)
	i.kernel = ctx.VariableWithValue("conve_kernel", i.kernelInit())
	i.kernelBias = ctx.VariableWithValue("conve_kernel_bias", ZerosTensor(cfg.OutputChannels))
	i.fcWeights = ctx.VariableWithValue("conve_fc_weights", XavierUniformTensor(LinearGain, i.numInFeatures, cfg.EmbeddingDim))
	i.fcBias = ctx.VariableWithValue("conve_fc_bias", ZerosTensor(cfg.EmbeddingDim))
	return i, nil
}

func (i *ConvE) kernelInit() *tensors.Tensor {
	fanIn := i.geom.Channels * i.kernelHeight * i.kernelWidth
	fanOut := i.outputChannels * i.kernelHeight * i.kernelWidth
	bound := math32.Sqrt(6.0 / float32(fanIn+fanOut))
	return UniformTensor(-bound, bound, i.kernelHeight, i.kernelWidth, i.geom.Channels, i.outputChannels)
}

func (i *ConvE) RequiredExtras() []ExtraName {
	return []ExtraName{ExtraTailBias}
}

func (i *ConvE) ResetParameters() {
	i.kernel.SetValue(i.kernelInit())
	i.kernelBias.SetValue(ZerosTensor(i.outputChannels))
	i.fcWeights.SetValue(XavierUniformTensor(LinearGain, i.numInFeatures, i.embeddingDim))
	i.fcBias.SetValue(ZerosTensor(i.embeddingDim))
	for _, scope := range []string{"conve_bn0", "conve_bn1", "conve_bn2"} {
		resetBatchNormScope(i.ctx, scope)
	}
}

// toImage reshapes flat embeddings (n, channels*height*width) into channels-last images
// (n, height, width, channels).
func (i *ConvE) toImage(x *Node) *Node {
	n := x.Shape().Dim(0)
	x = Reshape(x, n, i.geom.Channels, i.geom.Height, i.geom.Width)
	return TransposeAllDims(x, 0, 2, 3, 1)
}

func (i *ConvE) Forward(h, r, t *Node, extras *Extras) *Node {
	g := h.Graph()
	broadcast := axes.BroadcastCommon(h, r)
	hFlat, lead := flattenLeading(broadcast[0])
	rFlat, _ := flattenLeading(broadcast[1])

	// Stack head over relation along the height axis.
	x := Concatenate([]*Node{i.toImage(hFlat), i.toImage(rFlat)}, 1)
	if i.useBatchNorm {
		x = batchnorm.New(i.ctx.In("conve_bn0"), x, -1).Done()
	}
	x = layers.DropoutFromContext(i.ctx.In("conve_input_dropout"), x)
	x = Convolve(x, i.kernel.ValueGraph(g)).NoPadding().Done()
	x = Add(x, liftToRank(i.kernelBias.ValueGraph(g), x.Rank()))
	if i.useBatchNorm {
		x = batchnorm.New(i.ctx.In("conve_bn1"), x, -1).Done()
	}
	x = activations.Relu(x)
	x = layers.DropoutFromContext(i.ctx.In("conve_feature_dropout"), x)
	x = Reshape(x, x.Shape().Dim(0), i.numInFeatures)
	x = applyLinear(x, i.fcWeights.ValueGraph(g), i.fcBias.ValueGraph(g))
	x = layers.DropoutFromContext(i.ctx.In("conve_output_dropout"), x)
	if i.useBatchNorm {
		x = batchnorm.New(i.ctx.In("conve_bn2"), x, -1).Done()
	}
	x = activations.Relu(x)
	x = unflattenLeading(x, lead)

	scores := ReduceSum(Mul(x, t), -1)
	return Add(scores, Squeeze(extras.TailBias, -1))
}

// ConvKB stacks head, relation and tail as the three columns of a dim x 3 image and scores
// through width-3 convolution filters followed by a linear layer.
type ConvKB struct {
	ctx                      *context.Context
	embeddingDim, numFilters int

	kernel, kernelBias        *context.Variable
	linearWeights, linearBias *context.Variable
}

// ConvKBConfig configures NewConvKB. Zero values select the defaults.
type ConvKBConfig struct {
	EmbeddingDim  int
	NumFilters    int     // defaults to 64
	HiddenDropout float64 // defaults to 0.5
}

// NewConvKB returns a ConvKB interaction, creating its parameters as variables of ctx.
func NewConvKB(ctx *context.Context, cfg ConvKBConfig) *ConvKB {
	if cfg.NumFilters <= 0 {
		cfg.NumFilters = 64
	}
	if cfg.HiddenDropout == 0 {
		cfg.HiddenDropout = 0.5
	}
	ctx.In("convkb_hidden_dropout").SetParam(layers.ParamDropoutRate, cfg.HiddenDropout)
	i := &ConvKB{ctx: ctx, embeddingDim: cfg.EmbeddingDim, numFilters: cfg.NumFilters}
	i.kernel = ctx.VariableWithValue("convkb_kernel", convKBKernelInit(cfg.NumFilters))
	i.kernelBias = ctx.VariableWithValue("convkb_kernel_bias", ZerosTensor(cfg.NumFilters))
	i.linearWeights = ctx.VariableWithValue("convkb_linear_weights",
		XavierUniformTensor(ReluGain, cfg.EmbeddingDim*cfg.NumFilters, 1))
	i.linearBias = ctx.VariableWithValue("convkb_linear_bias", ZerosTensor(1))
	return i
}

// convKBKernelInit builds the (1, 3, 1, numFilters) filter bank initialized to
// [0.1, 0.1, -0.1] along the triple axis, so each filter starts as h+r-t.
func convKBKernelInit(numFilters int) *tensors.Tensor {
	t := tensors.FromShape(shapes.Make(dtypes.Float32, 1, 3, 1, numFilters))
	tensors.MutableFlatData(t, func(flat []float32) {
		for kw := 0; kw < 3; kw++ {
			value := float32(0.1)
			if kw == 2 {
				value = -0.1
			}
			for f := 0; f < numFilters; f++ {
				flat[kw*numFilters+f] = value
			}
		}
	})
	return t
}

func (i *ConvKB) RequiredExtras() []ExtraName { return nil }

func (i *ConvKB) ResetParameters() {
	i.kernel.SetValue(convKBKernelInit(i.numFilters))
	i.kernelBias.SetValue(ZerosTensor(i.numFilters))
	i.linearWeights.SetValue(XavierUniformTensor(ReluGain, i.embeddingDim*i.numFilters, 1))
	i.linearBias.SetValue(ZerosTensor(1))
}

func (i *ConvKB) Forward(h, r, t *Node, _ *Extras) *Node {
	g := h.Graph()
	broadcast := axes.BroadcastCommon(h, r, t)
	columns := make([]*Node, len(broadcast))
	for ii, node := range broadcast {
		columns[ii] = ExpandAxes(node, -1)
	}
	x := Concatenate(columns, -1) // (..., dim, 3)
	x, lead := flattenLeading(x)
	x = ExpandAxes(x, -1) // (n, dim, 3, 1): a one-channel dim x 3 image
	x = Convolve(x, i.kernel.ValueGraph(g)).NoPadding().Done()
	x = Add(x, liftToRank(i.kernelBias.ValueGraph(g), x.Rank()))
	x = activations.Relu(x)
	x = Reshape(x, x.Shape().Dim(0), i.embeddingDim*i.numFilters)
	x = layers.DropoutFromContext(i.ctx.In("convkb_hidden_dropout"), x)
	x = applyLinear(x, i.linearWeights.ValueGraph(g), i.linearBias.ValueGraph(g))
	return Squeeze(unflattenLeading(x, lead), -1)
}
