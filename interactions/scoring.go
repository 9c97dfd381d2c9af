package interactions

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/janpfeifer/kge/internal/axes"
	"github.com/janpfeifer/kge/internal/generics"
	"github.com/pkg/errors"
)

// noCandidate marks scoring calls that enumerate no candidate set (exact triples).
const noCandidate axes.Role = -1

// ScoreHRT scores a batch of exact triples. The inputs are batch-aligned:
// h and t are (batch, entityFeatures...), r is (batch, relationFeatures...).
// Extras follow the same batch-aligned layout. Returns scores shaped (batch, 1).
func ScoreHRT(i Interaction, h, r, t *graph.Node, extras *Extras) *graph.Node {
	axes.Check(
		axes.ShapeSpec{Name: "h", Node: h, Code: "be"},
		axes.ShapeSpec{Name: "r", Node: r, Code: "br"},
		axes.ShapeSpec{Name: "t", Node: t, Code: "be"},
	)
	scores := scoreBroadcast(i, h, r, t, extras, noCandidate)
	scores = axes.RemoveAxes(scores, axes.Head.Axis(), axes.Relation.Axis(), axes.Tail.Axis())
	return graph.ExpandAxes(scores, -1) // (batch, 1)
}

// ScoreH scores every candidate head against batch-aligned relations and tails.
// allHeads is (numCandidates, entityFeatures...); r and t are batch-aligned as in ScoreHRT.
// Returns scores shaped (batch, numCandidates).
func ScoreH(i Interaction, allHeads, r, t *graph.Node, extras *Extras) *graph.Node {
	axes.Check(
		axes.ShapeSpec{Name: "all_heads", Node: allHeads, Code: "ne"},
		axes.ShapeSpec{Name: "r", Node: r, Code: "br"},
		axes.ShapeSpec{Name: "t", Node: t, Code: "be"},
	)
	scores := scoreBroadcast(i, allHeads, r, t, extras, axes.Head)
	return axes.RemoveAxes(scores, axes.Relation.Axis(), axes.Tail.Axis())
}

// ScoreR scores every candidate relation against batch-aligned heads and tails.
// allRelations is (numCandidates, relationFeatures...). Returns (batch, numCandidates).
func ScoreR(i Interaction, h, allRelations, t *graph.Node, extras *Extras) *graph.Node {
	axes.Check(
		axes.ShapeSpec{Name: "h", Node: h, Code: "be"},
		axes.ShapeSpec{Name: "all_relations", Node: allRelations, Code: "nr"},
		axes.ShapeSpec{Name: "t", Node: t, Code: "be"},
	)
	scores := scoreBroadcast(i, h, allRelations, t, extras, axes.Relation)
	scores = axes.RemoveAxes(scores, axes.Head.Axis(), axes.Tail.Axis())
	return scores
}

// ScoreT scores every candidate tail against batch-aligned heads and relations.
// allTails is (numCandidates, entityFeatures...). Returns (batch, numCandidates).
func ScoreT(i Interaction, h, r, allTails *graph.Node, extras *Extras) *graph.Node {
	axes.Check(
		axes.ShapeSpec{Name: "h", Node: h, Code: "be"},
		axes.ShapeSpec{Name: "r", Node: r, Code: "br"},
		axes.ShapeSpec{Name: "all_tails", Node: allTails, Code: "ne"},
	)
	scores := scoreBroadcast(i, h, r, allTails, extras, axes.Tail)
	return axes.RemoveAxes(scores, axes.Head.Axis(), axes.Relation.Axis())
}

// scoreBroadcast validates extras, expands all representations to the canonical broadcast
// form and invokes the interaction. candidate names the role whose representation (and
// extras) enumerate candidates instead of following the batch, or noCandidate.
func scoreBroadcast(i Interaction, h, r, t *graph.Node, extras *Extras, candidate axes.Role) *graph.Node {
	checkExtras(i, extras)
	h = expandRepresentation(h, axes.Head, candidate)
	r = expandRepresentation(r, axes.Relation, candidate)
	t = expandRepresentation(t, axes.Tail, candidate)
	return i.Forward(h, r, t, expandExtras(extras, candidate))
}

// checkExtras rejects set-but-undeclared and declared-but-unset extras. Shared by all
// scoring modes so the two failure classes surface identically everywhere.
func checkExtras(i Interaction, extras *Extras) {
	required := generics.SetWith(i.RequiredExtras()...)
	for _, name := range extras.names() {
		if !required.Has(name) {
			panic(errors.Wrapf(ErrUnexpectedArgument, "extra %q", name))
		}
	}
	for _, name := range i.RequiredExtras() {
		if extras.get(name) == nil {
			panic(errors.Wrapf(ErrMissingArgument, "extra %q", name))
		}
	}
}

// expandRepresentation lifts x to the broadcast form (batch, heads, relations, tails,
// features...). A candidate-enumerating input (leading axis = candidates) lands its leading
// axis on its role's axis; a batch-aligned input keeps its leading axis at position 0.
func expandRepresentation(x *graph.Node, role axes.Role, candidate axes.Role) *graph.Node {
	if role == candidate {
		positions := make([]int, 0, axes.NumRoles-1)
		for a := 0; a < axes.NumRoles; a++ {
			if a != role.Axis() {
				positions = append(positions, a)
			}
		}
		return axes.InsertAxes(x, positions...)
	}
	return axes.InsertAxes(x, 1, 2, 3)
}

// expandExtras expands each set extra like the primary representation of its role.
func expandExtras(extras *Extras, candidate axes.Role) *Extras {
	if extras == nil {
		return nil
	}
	expanded := &Extras{}
	for _, name := range extras.names() {
		expanded.Set(name, expandRepresentation(extras.get(name), name.Role(), candidate))
	}
	return expanded
}
