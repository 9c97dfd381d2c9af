package interactions

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/pkg/errors"
)

// The semantic-matching interactions: all stateless, all scoring by some (generalized)
// bilinear product.

// DistMult scores by the trilinear product sum(h*r*t).
type DistMult struct{ stateless }

// NewDistMult returns a DistMult interaction.
func NewDistMult() *DistMult { return &DistMult{} }

func (*DistMult) Forward(h, r, t *graph.Node, _ *Extras) *graph.Node {
	return DistMultScore(h, r, t)
}

// ComplEx scores by Re(<h, r, conj(t)>) over complex representations stored as
// (real..., imaginary...) halves of the feature axis. Feature dimensions must be even.
type ComplEx struct{ stateless }

// NewComplEx returns a ComplEx interaction.
func NewComplEx() *ComplEx { return &ComplEx{} }

func (*ComplEx) Forward(h, r, t *graph.Node, _ *Extras) *graph.Node {
	checkEvenFeatures("ComplEx", h, r, t)
	return ComplExScore(h, r, t)
}

// RotatE models relations as rotations in the complex plane and scores by -|h*r - t|,
// with the same half-split complex layout as ComplEx.
type RotatE struct{ stateless }

// NewRotatE returns a RotatE interaction.
func NewRotatE() *RotatE { return &RotatE{} }

func (*RotatE) Forward(h, r, t *graph.Node, _ *Extras) *graph.Node {
	checkEvenFeatures("RotatE", h, r, t)
	return RotatEScore(h, r, t)
}

// HolE scores by the inner product of the relation with the circular correlation of head
// and tail.
type HolE struct{ stateless }

// NewHolE returns a HolE interaction.
func NewHolE() *HolE { return &HolE{} }

func (*HolE) Forward(h, r, t *graph.Node, _ *Extras) *graph.Node {
	return HolEScore(h, r, t)
}

// RESCAL scores by the bilinear form h^T M_r t, with the relation matrix flattened into the
// relation representation (..., dim*dim).
type RESCAL struct{ stateless }

// NewRESCAL returns a RESCAL interaction.
func NewRESCAL() *RESCAL { return &RESCAL{} }

func (*RESCAL) Forward(h, r, t *graph.Node, _ *Extras) *graph.Node {
	return RESCALScore(h, r, t)
}

func checkEvenFeatures(name string, nodes ...*graph.Node) {
	for _, node := range nodes {
		if node.Shape().Dim(-1)%2 != 0 {
			panic(errors.Wrapf(ErrShapeMismatch,
				"%s: complex representations need an even feature dimension, got %d",
				name, node.Shape().Dim(-1)))
		}
	}
}
