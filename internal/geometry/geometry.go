// Package geometry resolves the 2D "image" geometry used by convolution-based interaction
// functions: an embedding dimension is factorized into (channels, height, width) with
// channels * height * width == embeddingDim.
package geometry

import (
	"math"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Unset marks a factor the caller leaves to be resolved. Any value <= 0 is treated as unset.
const Unset = 0

// ErrFactorization is returned when an embedding dimension cannot be expressed as
// channels * height * width under the given partial geometry.
var ErrFactorization = errors.New("cannot factorize embedding dimension")

// Geometry is a complete, validated factorization of an embedding dimension.
// It is resolved once at interaction-function construction and immutable afterward.
type Geometry struct {
	Channels, Height, Width int
}

// Resolve completes a partially-specified geometry for embeddingDim.
//
// Policy, in priority order:
//  1. All three unset: channels=1, height is the largest divisor of embeddingDim not
//     exceeding floor(sqrt(embeddingDim)), width=embeddingDim/height.
//  2. Channels unset and at least one of width/height unset: channels=1.
//  3. The (at most one) remaining unset factor is filled by exact integer division.
//
// Anything else, or a final product different from embeddingDim, fails with ErrFactorization.
func Resolve(embeddingDim, channels, width, height int) (Geometry, error) {
	if embeddingDim <= 0 {
		return Geometry{}, errors.Wrapf(ErrFactorization, "embedding dimension must be positive, got %d", embeddingDim)
	}
	original := [3]int{channels, width, height}

	if channels <= 0 && width <= 0 && height <= 0 {
		channels = 1
		root := int(math.Floor(math.Sqrt(float64(embeddingDim))))
		for factor := root; factor >= 1; factor-- {
			if embeddingDim%factor == 0 {
				height = factor
				break
			}
		}
		width = embeddingDim / height
	}
	if channels <= 0 && (width <= 0 || height <= 0) {
		channels = 1
	}

	numUnset := 0
	for _, factor := range [3]int{channels, width, height} {
		if factor <= 0 {
			numUnset++
		}
	}
	if numUnset > 1 {
		return Geometry{}, errors.Wrapf(ErrFactorization,
			"under-determined geometry %v for embedding dimension %d", original, embeddingDim)
	}
	switch {
	case width <= 0:
		width = embeddingDim / (height * channels)
	case height <= 0:
		height = embeddingDim / (width * channels)
	case channels <= 0:
		channels = embeddingDim / (width * height)
	}

	if channels*width*height != embeddingDim {
		return Geometry{}, errors.Wrapf(ErrFactorization,
			"could not resolve %v to a valid factorization of %d", original, embeddingDim)
	}
	g := Geometry{Channels: channels, Height: height, Width: width}
	klog.V(1).Infof("resolved geometry %d = %d channels x %d height x %d width",
		embeddingDim, g.Channels, g.Height, g.Width)
	return g, nil
}
