package interactions

import (
	"github.com/gomlx/gomlx/graph"
)

// Translational holds the norm hyperparameters shared by the distance-based interactions.
// P selects the norm order; PowerNorm scores by the p-th power of the norm instead, which
// is cheaper and preserves ranking.
type Translational struct {
	stateless
	P         int
	PowerNorm bool
}

// TransE scores triples by -||h + r - t||_p: relations are translations in entity space.
type TransE struct{ Translational }

// NewTransE returns a TransE interaction with the given norm order.
func NewTransE(p int) *TransE {
	return &TransE{Translational{P: p}}
}

func (i *TransE) Forward(h, r, t *graph.Node, _ *Extras) *graph.Node {
	return TransEScore(h, r, t, i.P, i.PowerNorm)
}

// UnstructuredModel scores by -||h - t||_p, ignoring the relation entirely. The relation
// representation is still accepted (and shape-checked) so models can treat it uniformly.
type UnstructuredModel struct{ Translational }

// NewUnstructuredModel returns an UnstructuredModel interaction scoring by the squared
// euclidean distance.
func NewUnstructuredModel() *UnstructuredModel {
	return &UnstructuredModel{Translational{P: 2, PowerNorm: true}}
}

func (i *UnstructuredModel) Forward(h, _, t *graph.Node, _ *Extras) *graph.Node {
	return UnstructuredModelScore(h, t, i.P, i.PowerNorm)
}

// StructuredEmbedding scores by -||M_r^h h - M_r^t t||_p, with both projection matrices
// flattened into the relation representation (..., 2*dim*dim).
type StructuredEmbedding struct{ Translational }

// NewStructuredEmbedding returns a Structured Embedding interaction with the given norm
// order.
func NewStructuredEmbedding(p int) *StructuredEmbedding {
	return &StructuredEmbedding{Translational{P: p}}
}

func (i *StructuredEmbedding) Forward(h, r, t *graph.Node, _ *Extras) *graph.Node {
	return StructuredEmbeddingScore(h, r, t, i.P, i.PowerNorm)
}

// TransD translates in relation space after projecting entities through dynamic projection
// vectors; it requires the head, relation and tail projection extras.
type TransD struct{ Translational }

// NewTransD returns a TransD interaction with the given norm order.
func NewTransD(p int) *TransD {
	return &TransD{Translational{P: p}}
}

func (i *TransD) RequiredExtras() []ExtraName {
	return []ExtraName{ExtraHeadProjection, ExtraRelationProjection, ExtraTailProjection}
}

func (i *TransD) Forward(h, r, t *graph.Node, extras *Extras) *graph.Node {
	return TransDScore(h, r, t,
		extras.HeadProjection, extras.RelationProjection, extras.TailProjection,
		i.P, i.PowerNorm)
}

// TransR projects entities into relation space through a per-relation matrix (the
// RelationMatrix extra) before translating.
type TransR struct{ Translational }

// NewTransR returns a TransR interaction scoring by the squared euclidean distance.
func NewTransR() *TransR {
	return &TransR{Translational{P: 2, PowerNorm: true}}
}

func (i *TransR) RequiredExtras() []ExtraName {
	return []ExtraName{ExtraRelationMatrix}
}

func (i *TransR) Forward(h, r, t *graph.Node, extras *Extras) *graph.Node {
	return TransRScore(h, r, t, extras.RelationMatrix, i.P, i.PowerNorm)
}
