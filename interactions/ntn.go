package interactions

import (
	"github.com/gomlx/gomlx/graph"
)

// NTN is the neural tensor network interaction. All learned parameters are per-relation and
// arrive as extras (selected by the owning model), so the interaction itself is stateless;
// the primary relation representation is unused. k, the number of slices, is implied by the
// extras' shapes.
type NTN struct {
	stateless
	// Activation applied to the hidden slice scores, graph.Tanh by default.
	Activation func(*graph.Node) *graph.Node
}

// NewNTN returns an NTN interaction with the standard tanh nonlinearity.
func NewNTN() *NTN {
	return &NTN{Activation: graph.Tanh}
}

func (i *NTN) RequiredExtras() []ExtraName {
	return []ExtraName{ExtraNTNW, ExtraNTNVHead, ExtraNTNVTail, ExtraNTNBias, ExtraNTNU}
}

func (i *NTN) Forward(h, _, t *graph.Node, extras *Extras) *graph.Node {
	return NTNScore(h, t, extras.W, extras.VHead, extras.VTail, extras.Bias, extras.U, i.Activation)
}
