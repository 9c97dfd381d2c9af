// Package axes implements the axis-role conventions used to broadcast head, relation and tail
// representations into the common scoring form (batch, heads, relations, tails, features...).
//
// Every interaction function receives its inputs in this form, with exactly one of the three
// candidate axes (heads/relations/tails) allowed to be larger than one -- or all three set to
// one when scoring exact triples. The helpers here move representations in and out of that
// form with explicit roles instead of hardcoded axis numbers.
package axes

import (
	"slices"

	"github.com/gomlx/gomlx/graph"
	"github.com/pkg/errors"
)

// Role names one of the leading axes of the broadcast form.
type Role int

const (
	Batch Role = iota
	Head
	Relation
	Tail
)

// NumRoles is the number of leading (non-feature) axes of the broadcast form.
const NumRoles = 4

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case Batch:
		return "batch"
	case Head:
		return "heads"
	case Relation:
		return "relations"
	case Tail:
		return "tails"
	}
	return "invalid"
}

// Axis returns the axis index the role occupies in the broadcast form.
func (r Role) Axis() int { return int(r) }

var (
	// ErrShapeMismatch is raised (as a panic, following the GoMLX graph-building convention)
	// when a representation tensor does not satisfy its named-axis contract.
	ErrShapeMismatch = errors.New("representation shape does not match its named-axis contract")

	// ErrDuplicateAxis is raised when an axis-removal request names the same axis twice.
	ErrDuplicateAxis = errors.New("duplicate axis")
)

// InsertAxes inserts size-1 axes at the given positions of the resulting shape.
// Positions must be non-negative and given in ascending order.
func InsertAxes(x *graph.Node, positions ...int) *graph.Node {
	for ii, pos := range positions {
		if pos < 0 || (ii > 0 && pos <= positions[ii-1]) {
			panic(errors.Wrapf(ErrDuplicateAxis,
				"InsertAxes requires ascending non-negative positions, got %v", positions))
		}
		x = graph.ExpandAxes(x, pos)
	}
	return x
}

// RemoveAxes squeezes the given singleton axes of x. Negative positions are taken from the
// end. Naming the same axis twice is an error, and every named axis must have dimension 1.
func RemoveAxes(x *graph.Node, positions ...int) *graph.Node {
	rank := x.Rank()
	normalized := make([]int, 0, len(positions))
	seen := make(map[int]bool, len(positions))
	for _, pos := range positions {
		if pos < 0 {
			pos += rank
		}
		if pos < 0 || pos >= rank {
			panic(errors.Wrapf(ErrShapeMismatch,
				"RemoveAxes: axis %v out of range for rank %d", positions, rank))
		}
		if seen[pos] {
			panic(errors.Wrapf(ErrDuplicateAxis, "RemoveAxes: axes %v name axis %d twice", positions, pos))
		}
		seen[pos] = true
		if x.Shape().Dim(pos) != 1 {
			panic(errors.Wrapf(ErrShapeMismatch,
				"RemoveAxes: axis %d of shape %s is not a singleton", pos, x.Shape()))
		}
		normalized = append(normalized, pos)
	}
	// Squeeze from the back so earlier positions remain valid.
	slices.Sort(normalized)
	for ii := len(normalized) - 1; ii >= 0; ii-- {
		x = graph.Squeeze(x, normalized[ii])
	}
	return x
}

// ShapeSpec pairs one representation with its letter-coded axis contract: equal letters must
// map to equal dimensions across all specs checked together, and the rank must equal the code
// length. E.g. "be" for a (batch, entityFeatures) tensor, "nr" for (numCandidates,
// relationFeatures).
type ShapeSpec struct {
	Name string
	Node *graph.Node
	Code string
}

// Check asserts the named-axis contract of all given specs, before any computation happens.
// A violation panics with ErrShapeMismatch.
func Check(specs ...ShapeSpec) {
	dims := make(map[rune]int)
	for _, spec := range specs {
		if spec.Node == nil {
			panic(errors.Wrapf(ErrShapeMismatch, "%s: representation is nil", spec.Name))
		}
		shape := spec.Node.Shape()
		if shape.Rank() != len(spec.Code) {
			panic(errors.Wrapf(ErrShapeMismatch, "%s: expected axes %q (rank %d), got shape %s",
				spec.Name, spec.Code, len(spec.Code), shape))
		}
		for ii, symbol := range spec.Code {
			dim := shape.Dim(ii)
			if prev, found := dims[symbol]; found {
				if prev != dim {
					panic(errors.Wrapf(ErrShapeMismatch,
						"%s: axis %q is %d here but %d elsewhere", spec.Name, string(symbol), dim, prev))
				}
				continue
			}
			dims[symbol] = dim
		}
	}
}

// BroadcastCommon broadcasts the leading candidate axes of the given broadcast-form tensors to
// their common dimensions, leaving each tensor's feature axes untouched. It is needed by
// kernels that concatenate representations and therefore cannot rely on lazy broadcasting.
func BroadcastCommon(nodes ...*graph.Node) []*graph.Node {
	common := [NumRoles]int{1, 1, 1, 1}
	for _, node := range nodes {
		for axis := 0; axis < NumRoles; axis++ {
			dim := node.Shape().Dim(axis)
			if dim == 1 || dim == common[axis] {
				continue
			}
			if common[axis] != 1 {
				panic(errors.Wrapf(ErrShapeMismatch,
					"cannot broadcast %s axis: dimensions %d and %d", Role(axis), common[axis], dim))
			}
			common[axis] = dim
		}
	}
	out := make([]*graph.Node, len(nodes))
	for ii, node := range nodes {
		dims := make([]int, node.Rank())
		copy(dims, common[:])
		for axis := NumRoles; axis < node.Rank(); axis++ {
			dims[axis] = node.Shape().Dim(axis)
		}
		out[ii] = graph.BroadcastToDims(node, dims...)
	}
	return out
}
