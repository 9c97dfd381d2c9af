package interactions

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// Parameter initializers. They build host tensors directly so interactions and models can
// (re)initialize variables without going through a computation graph.

// Activation gains for XavierUniformTensor, matching the fan-based heuristics commonly used
// with these nonlinearities.
const (
	LinearGain = 1.0
	ReluGain   = math32.Sqrt2
	TanhGain   = 5.0 / 3.0
)

// UniformTensor returns a float32 tensor of the given dimensions with i.i.d. uniform values
// in [low, high).
func UniformTensor(low, high float32, dims ...int) *tensors.Tensor {
	t := tensors.FromShape(shapes.Make(dtypes.Float32, dims...))
	tensors.MutableFlatData(t, func(flat []float32) {
		for ii := range flat {
			flat[ii] = low + rand.Float32()*(high-low)
		}
	})
	return t
}

// XavierUniformTensor returns a (fanIn, fanOut) float32 tensor with Glorot-uniform values
// scaled by gain.
func XavierUniformTensor(gain float32, fanIn, fanOut int) *tensors.Tensor {
	bound := gain * math32.Sqrt(6.0/float32(fanIn+fanOut))
	return UniformTensor(-bound, bound, fanIn, fanOut)
}

// ZerosTensor returns a zero-initialized float32 tensor of the given dimensions.
func ZerosTensor(dims ...int) *tensors.Tensor {
	return tensors.FromShape(shapes.Make(dtypes.Float32, dims...))
}

// OnesTensor returns a float32 tensor of the given dimensions filled with ones.
func OnesTensor(dims ...int) *tensors.Tensor {
	t := tensors.FromShape(shapes.Make(dtypes.Float32, dims...))
	tensors.MutableFlatData(t, func(flat []float32) {
		for ii := range flat {
			flat[ii] = 1
		}
	})
	return t
}

// batchNormInitialValue maps each variable a batchnorm layer creates to a builder for its
// initial value.
var batchNormInitialValue = map[string]func(dims ...int) *tensors.Tensor{
	"scale":      OnesTensor,
	"offset":     ZerosTensor,
	"mean":       ZerosTensor,
	"variance":   OnesTensor,
	"avg_weight": ZerosTensor,
}

// resetBatchNormScope restores the batch normalization variables under scope to their
// initial values. The values are replaced in place, so executors compiled against the
// existing variables pick up the reset. If the variables were never created (the scope's
// layer never ran), there is nothing to do.
func resetBatchNormScope(ctx *context.Context, scope string) {
	scoped := ctx.In(scope).In("batch_normalization")
	for name, initial := range batchNormInitialValue {
		v := scoped.GetVariable(name)
		if v == nil {
			continue
		}
		v.SetValue(initial(v.Shape().Dimensions...))
	}
}

// NormalTensor returns a float32 tensor of the given dimensions with i.i.d. normal values
// of the given standard deviation.
func NormalTensor(stddev float32, dims ...int) *tensors.Tensor {
	t := tensors.FromShape(shapes.Make(dtypes.Float32, dims...))
	tensors.MutableFlatData(t, func(flat []float32) {
		for ii := range flat {
			flat[ii] = stddev * float32(rand.NormFloat64())
		}
	})
	return t
}
