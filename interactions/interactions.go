// Package interactions implements the scoring functions of knowledge-graph embedding models:
// parametric functions that score the plausibility of a (head, relation, tail) triple from
// learned vector representations of its entities and relation.
//
// Every interaction function implements the Interaction interface: a single graph-building
// primitive (Forward) over representations in the canonical broadcast form
// (batch, heads, relations, tails, features...), plus a declaration of the auxiliary inputs
// (Extras) it consumes. The four scoring modes every model supports -- exact triples
// (ScoreHRT), all heads (ScoreH), all relations (ScoreR) and all tails (ScoreT) -- are
// derived combinators in this package and never reimplemented per interaction.
//
// Computation is delegated to GoMLX: interactions build graph nodes and are executed by the
// owning model (see the models package) through context executors on any GoMLX backend.
// Learned sub-parameters are owned by the interaction instance as context variables; they are
// only ever written by an external parameter update, never concurrently with scoring.
package interactions

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/janpfeifer/kge/internal/axes"
	"github.com/janpfeifer/kge/internal/geometry"
	"github.com/pkg/errors"
)

// Errors raised by this package. Violations detected while building a computation graph are
// panics carrying one of these (the GoMLX graph-building convention); use
// exceptions.TryCatch to convert them to plain errors at the API boundary, as the models
// package does.
var (
	// ErrShapeMismatch reports a representation whose axes do not match the named-axis
	// contract of its role.
	ErrShapeMismatch = axes.ErrShapeMismatch

	// ErrDuplicateAxis reports a squeeze/unsqueeze request naming the same axis twice.
	ErrDuplicateAxis = axes.ErrDuplicateAxis

	// ErrFactorization reports an embedding dimension that cannot be factorized into the
	// requested convolution geometry.
	ErrFactorization = geometry.ErrFactorization

	// ErrUnexpectedArgument reports an extra input set by the caller but not understood by
	// the chosen interaction.
	ErrUnexpectedArgument = errors.New("unexpected extra argument for this interaction")

	// ErrMissingArgument reports a mandatory extra input the caller did not supply.
	ErrMissingArgument = errors.New("missing required extra argument")
)

// Interaction is the contract shared by all interaction functions.
//
// Forward is the only scoring primitive: implementations receive head, relation and tail
// representations already expanded to the broadcast form (batch, heads, relations, tails,
// features...) -- with singleton axes where a role is not being enumerated -- and return
// scores shaped (batch, heads, relations, tails). The extras record arrives pre-validated
// and pre-broadcast: only the fields named by RequiredExtras are set.
type Interaction interface {
	// Forward computes broadcast triple scores.
	Forward(h, r, t *graph.Node, extras *Extras) *graph.Node

	// RequiredExtras declares the auxiliary inputs this interaction consumes. The scoring
	// entry points reject calls that set any other field (ErrUnexpectedArgument) or leave a
	// declared one unset (ErrMissingArgument).
	RequiredExtras() []ExtraName

	// ResetParameters reinitializes all owned learned sub-parameters, recursing into owned
	// sub-components. It is a no-op for non-parametric interactions, and never changes
	// parameter shapes.
	ResetParameters()
}

// ExtraName enumerates the auxiliary inputs any interaction may require, each bound to the
// candidate role it broadcasts with.
type ExtraName int

const (
	// ExtraTailBias is the per-tail-entity bias term of ConvE.
	ExtraTailBias ExtraName = iota
	// ExtraRelationMatrix is the per-relation projection matrix of TransR.
	ExtraRelationMatrix
	// ExtraHeadProjection, ExtraRelationProjection and ExtraTailProjection are the
	// projection vectors of TransD.
	ExtraHeadProjection
	ExtraRelationProjection
	ExtraTailProjection
	// ExtraHeadVariance, ExtraRelationVariance and ExtraTailVariance are the (clamped)
	// covariance diagonals of KG2E.
	ExtraHeadVariance
	ExtraRelationVariance
	ExtraTailVariance
	// ExtraNTNW, ExtraNTNVHead, ExtraNTNVTail, ExtraNTNBias and ExtraNTNU are the
	// per-relation tensor, slice vectors, bias and combination weights of NTN.
	ExtraNTNW
	ExtraNTNVHead
	ExtraNTNVTail
	ExtraNTNBias
	ExtraNTNU

	numExtraNames
)

// String implements fmt.Stringer, using the names the owning model supplies them under.
func (n ExtraName) String() string {
	switch n {
	case ExtraTailBias:
		return "t_bias"
	case ExtraRelationMatrix:
		return "m_r"
	case ExtraHeadProjection:
		return "h_p"
	case ExtraRelationProjection:
		return "r_p"
	case ExtraTailProjection:
		return "t_p"
	case ExtraHeadVariance:
		return "h_var"
	case ExtraRelationVariance:
		return "r_var"
	case ExtraTailVariance:
		return "t_var"
	case ExtraNTNW:
		return "w"
	case ExtraNTNVHead:
		return "vh"
	case ExtraNTNVTail:
		return "vt"
	case ExtraNTNBias:
		return "b"
	case ExtraNTNU:
		return "u"
	}
	return "invalid"
}

// Role returns the candidate axis this extra broadcasts with: an extra attached to tail
// entities expands exactly like the tail representation, and so on.
func (n ExtraName) Role() axes.Role {
	switch n {
	case ExtraTailBias, ExtraTailProjection, ExtraTailVariance:
		return axes.Tail
	case ExtraHeadProjection, ExtraHeadVariance:
		return axes.Head
	default:
		return axes.Relation
	}
}

// Extras is the closed record of auxiliary, per-call inputs. Callers set the fields their
// interaction declares; everything else stays nil. Unlike an open keyword mapping, an
// unknown extra cannot even be expressed, and a misdirected one is rejected before any
// computation.
type Extras struct {
	// TailBias is the tail bias term of ConvE, one scalar per tail candidate.
	TailBias *graph.Node

	// RelationMatrix is the TransR projection matrix, shaped (..., entityDim, relationDim).
	RelationMatrix *graph.Node

	// HeadProjection, RelationProjection and TailProjection are the TransD projection
	// vectors.
	HeadProjection, RelationProjection, TailProjection *graph.Node

	// HeadVariance, RelationVariance and TailVariance are the KG2E covariance diagonals,
	// clamped to the owner's [cMin, cMax] before they get here.
	HeadVariance, RelationVariance, TailVariance *graph.Node

	// W, VHead, VTail, Bias and U are the per-relation NTN parameters: W shaped
	// (..., k, dim, dim), VHead/VTail (..., k, dim), Bias/U (..., k).
	W, VHead, VTail, Bias, U *graph.Node
}

// Set assigns the field named by name and returns the receiver, for chaining. A nil
// receiver allocates a new record.
func (e *Extras) Set(name ExtraName, x *graph.Node) *Extras {
	if e == nil {
		e = &Extras{}
	}
	switch name {
	case ExtraTailBias:
		e.TailBias = x
	case ExtraRelationMatrix:
		e.RelationMatrix = x
	case ExtraHeadProjection:
		e.HeadProjection = x
	case ExtraRelationProjection:
		e.RelationProjection = x
	case ExtraTailProjection:
		e.TailProjection = x
	case ExtraHeadVariance:
		e.HeadVariance = x
	case ExtraRelationVariance:
		e.RelationVariance = x
	case ExtraTailVariance:
		e.TailVariance = x
	case ExtraNTNW:
		e.W = x
	case ExtraNTNVHead:
		e.VHead = x
	case ExtraNTNVTail:
		e.VTail = x
	case ExtraNTNBias:
		e.Bias = x
	case ExtraNTNU:
		e.U = x
	}
	return e
}

// get returns the field named by name, nil if unset or if the record itself is nil.
func (e *Extras) get(name ExtraName) *graph.Node {
	if e == nil {
		return nil
	}
	switch name {
	case ExtraTailBias:
		return e.TailBias
	case ExtraRelationMatrix:
		return e.RelationMatrix
	case ExtraHeadProjection:
		return e.HeadProjection
	case ExtraRelationProjection:
		return e.RelationProjection
	case ExtraTailProjection:
		return e.TailProjection
	case ExtraHeadVariance:
		return e.HeadVariance
	case ExtraRelationVariance:
		return e.RelationVariance
	case ExtraTailVariance:
		return e.TailVariance
	case ExtraNTNW:
		return e.W
	case ExtraNTNVHead:
		return e.VHead
	case ExtraNTNVTail:
		return e.VTail
	case ExtraNTNBias:
		return e.Bias
	case ExtraNTNU:
		return e.U
	}
	return nil
}

// names returns the names of all set fields.
func (e *Extras) names() []ExtraName {
	if e == nil {
		return nil
	}
	var set []ExtraName
	for name := ExtraName(0); name < numExtraNames; name++ {
		if e.get(name) != nil {
			set = append(set, name)
		}
	}
	return set
}

// stateless is embedded by interactions with no learned parameters and no extras.
type stateless struct{}

func (stateless) RequiredExtras() []ExtraName { return nil }
func (stateless) ResetParameters()            {}
