// Package models assembles interaction functions into full knowledge-graph embedding
// models: it owns the entity and relation embedding tables (plus any per-entity or
// per-relation auxiliary tables an interaction requires), compiles one executor per scoring
// mode, and converts graph-building panics into plain errors at the API boundary.
package models

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/kge/interactions"
	"github.com/janpfeifer/kge/internal/axes"
	"github.com/pkg/errors"
)

// noCandidate marks executors that enumerate no candidate set.
const noCandidate axes.Role = -1

// auxBinding ties an extra input to its backing table: rows are stored flat and optionally
// reshaped to the extra's feature dimensions after selection.
type auxBinding struct {
	variable *context.Variable
	reshape  []int
}

// constraint reapplies an in-place invariant to one table, row by row.
type constraint struct {
	variable *context.Variable
	rowSize  int
	apply    func(row []float32)
}

// Model is a knowledge-graph embedding model: an interaction function plus the embedding
// tables it scores. All scoring methods are safe for concurrent use; parameter updates
// (SetVariables through the context, ApplyConstraints, ResetParameters) are not.
type Model struct {
	ctx         *context.Context
	backend     backends.Backend
	interaction interactions.Interaction

	numEntities, numRelations int
	entityDim, relationDim    int

	entityEmbeddings   *context.Variable
	relationEmbeddings *context.Variable
	aux                map[interactions.ExtraName]auxBinding
	constraints        []constraint

	resetFns []func()

	hrtExec, headExec, relationExec, tailExec *context.Exec
}

// newModel builds the shared scaffolding of all presets: the primary embedding tables on
// the given context (Xavier-uniform initialized) and the model record. Presets register
// auxiliary tables and constraints before calling compile.
func newModel(backend backends.Backend, ctx *context.Context, cfg Config, i interactions.Interaction) (*Model, error) {
	if backend == nil {
		return nil, errors.New("backend must not be nil")
	}
	if cfg.NumEntities <= 0 || cfg.NumRelations <= 0 {
		return nil, errors.Errorf("invalid graph size: %d entities, %d relations",
			cfg.NumEntities, cfg.NumRelations)
	}
	if cfg.EmbeddingDim <= 0 {
		return nil, errors.Errorf("invalid embedding dimension %d", cfg.EmbeddingDim)
	}
	relationDim := cfg.RelationDim
	if relationDim <= 0 {
		relationDim = cfg.EmbeddingDim
	}
	m := &Model{
		ctx:          ctx,
		backend:      backend,
		interaction:  i,
		numEntities:  cfg.NumEntities,
		numRelations: cfg.NumRelations,
		entityDim:    cfg.EmbeddingDim,
		relationDim:  relationDim,
		aux:          make(map[interactions.ExtraName]auxBinding),
	}
	m.entityEmbeddings = m.newTable("entity_embeddings", func() *tensors.Tensor {
		return interactions.XavierUniformTensor(interactions.LinearGain, m.numEntities, m.entityDim)
	})
	m.relationEmbeddings = m.newTable("relation_embeddings", func() *tensors.Tensor {
		return interactions.XavierUniformTensor(interactions.LinearGain, m.numRelations, m.relationDim)
	})
	return m, nil
}

// newTable creates a table variable and records its initializer for ResetParameters.
func (m *Model) newTable(name string, init func() *tensors.Tensor) *context.Variable {
	v := m.ctx.VariableWithValue(name, init())
	m.resetFns = append(m.resetFns, func() { v.SetValue(init()) })
	return v
}

// registerAux backs the extra input name with its own table: one row per entity or
// relation, depending on the extra's role. reshape, if set, gives the feature dimensions
// the flat rows are reshaped to after selection. The same table may back several extras
// (e.g. both KG2E entity-variance extras).
func (m *Model) registerAux(name interactions.ExtraName, table *context.Variable, reshape ...int) {
	m.aux[name] = auxBinding{variable: table, reshape: reshape}
}

// compile builds the four executors, one per scoring mode. Any graph-building failure
// (including interaction contract violations) surfaces as an error.
func (m *Model) compile() error {
	return exceptions.TryCatch[error](func() {
		m.hrtExec = context.NewExec(m.backend, m.ctx, func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
			h := m.gatherRows(m.entityEmbeddings, inputs[0])
			r := m.gatherRows(m.relationEmbeddings, inputs[1])
			t := m.gatherRows(m.entityEmbeddings, inputs[2])
			extras := m.buildExtras(inputs[0].Graph(), noCandidate, map[axes.Role]*graph.Node{
				axes.Head: inputs[0], axes.Relation: inputs[1], axes.Tail: inputs[2],
			})
			return interactions.ScoreHRT(m.interaction, h, r, t, extras)
		})
		m.headExec = context.NewExec(m.backend, m.ctx, func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
			g := inputs[0].Graph()
			allHeads := m.entityEmbeddings.ValueGraph(g)
			r := m.gatherRows(m.relationEmbeddings, inputs[0])
			t := m.gatherRows(m.entityEmbeddings, inputs[1])
			extras := m.buildExtras(g, axes.Head, map[axes.Role]*graph.Node{
				axes.Relation: inputs[0], axes.Tail: inputs[1],
			})
			return interactions.ScoreH(m.interaction, allHeads, r, t, extras)
		})
		m.relationExec = context.NewExec(m.backend, m.ctx, func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
			g := inputs[0].Graph()
			h := m.gatherRows(m.entityEmbeddings, inputs[0])
			allRelations := m.relationEmbeddings.ValueGraph(g)
			t := m.gatherRows(m.entityEmbeddings, inputs[1])
			extras := m.buildExtras(g, axes.Relation, map[axes.Role]*graph.Node{
				axes.Head: inputs[0], axes.Tail: inputs[1],
			})
			return interactions.ScoreR(m.interaction, h, allRelations, t, extras)
		})
		m.tailExec = context.NewExec(m.backend, m.ctx, func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
			g := inputs[0].Graph()
			h := m.gatherRows(m.entityEmbeddings, inputs[0])
			r := m.gatherRows(m.relationEmbeddings, inputs[1])
			allTails := m.entityEmbeddings.ValueGraph(g)
			extras := m.buildExtras(g, axes.Tail, map[axes.Role]*graph.Node{
				axes.Head: inputs[0], axes.Relation: inputs[1],
			})
			return interactions.ScoreT(m.interaction, h, r, allTails, extras)
		})
	})
}

// gatherRows selects rows of a table variable by index.
func (m *Model) gatherRows(table *context.Variable, indices *graph.Node) *graph.Node {
	return graph.Gather(table.ValueGraph(indices.Graph()), graph.ExpandAxes(indices, -1))
}

// buildExtras assembles the extras record for one executor: extras whose role enumerates
// candidates get their full table, the others get rows selected by the matching index
// input.
func (m *Model) buildExtras(g *graph.Graph, candidate axes.Role, indices map[axes.Role]*graph.Node) *interactions.Extras {
	if len(m.aux) == 0 {
		return nil
	}
	extras := &interactions.Extras{}
	for name, binding := range m.aux {
		var node *graph.Node
		if role := name.Role(); role == candidate {
			node = binding.variable.ValueGraph(g)
		} else {
			node = m.gatherRows(binding.variable, indices[role])
		}
		if len(binding.reshape) > 0 {
			dims := append([]int{node.Shape().Dim(0)}, binding.reshape...)
			node = graph.Reshape(node, dims...)
		}
		extras.Set(name, node)
	}
	return extras
}

// ScoreHRT scores the given triples, one score per position. All slices must have the same
// length.
func (m *Model) ScoreHRT(heads, relations, tails []int32) ([]float32, error) {
	if err := m.checkBatch(len(heads), len(relations), len(tails)); err != nil {
		return nil, err
	}
	if err := m.checkIndices("head", heads, m.numEntities); err != nil {
		return nil, err
	}
	if err := m.checkIndices("relation", relations, m.numRelations); err != nil {
		return nil, err
	}
	if err := m.checkIndices("tail", tails, m.numEntities); err != nil {
		return nil, err
	}
	out, err := m.run(m.hrtExec, heads, relations, tails)
	if err != nil {
		return nil, err
	}
	return tensors.CopyFlatData[float32](out), nil
}

// ScoreHeads scores every entity as head of each (relation, tail) pair. Row i of the result
// holds the scores of all entities for pair i.
func (m *Model) ScoreHeads(relations, tails []int32) ([][]float32, error) {
	if err := m.checkBatch(len(relations), len(tails)); err != nil {
		return nil, err
	}
	if err := m.checkIndices("relation", relations, m.numRelations); err != nil {
		return nil, err
	}
	if err := m.checkIndices("tail", tails, m.numEntities); err != nil {
		return nil, err
	}
	out, err := m.run(m.headExec, relations, tails)
	if err != nil {
		return nil, err
	}
	return rows(out, m.numEntities), nil
}

// ScoreRelations scores every relation for each (head, tail) pair.
func (m *Model) ScoreRelations(heads, tails []int32) ([][]float32, error) {
	if err := m.checkBatch(len(heads), len(tails)); err != nil {
		return nil, err
	}
	if err := m.checkIndices("head", heads, m.numEntities); err != nil {
		return nil, err
	}
	if err := m.checkIndices("tail", tails, m.numEntities); err != nil {
		return nil, err
	}
	out, err := m.run(m.relationExec, heads, tails)
	if err != nil {
		return nil, err
	}
	return rows(out, m.numRelations), nil
}

// ScoreTails scores every entity as tail of each (head, relation) pair.
func (m *Model) ScoreTails(heads, relations []int32) ([][]float32, error) {
	if err := m.checkBatch(len(heads), len(relations)); err != nil {
		return nil, err
	}
	if err := m.checkIndices("head", heads, m.numEntities); err != nil {
		return nil, err
	}
	if err := m.checkIndices("relation", relations, m.numRelations); err != nil {
		return nil, err
	}
	out, err := m.run(m.tailExec, heads, relations)
	if err != nil {
		return nil, err
	}
	return rows(out, m.numEntities), nil
}

func (m *Model) checkBatch(lengths ...int) error {
	if lengths[0] == 0 {
		return errors.New("empty batch")
	}
	for _, l := range lengths[1:] {
		if l != lengths[0] {
			return errors.Errorf("index slices have mismatching lengths %v", lengths)
		}
	}
	return nil
}

func (m *Model) checkIndices(kind string, indices []int32, limit int) error {
	for _, idx := range indices {
		if idx < 0 || int(idx) >= limit {
			return errors.Errorf("%s index %d out of range [0, %d)", kind, idx, limit)
		}
	}
	return nil
}

func (m *Model) run(exec *context.Exec, indexInputs ...[]int32) (*tensors.Tensor, error) {
	args := make([]any, len(indexInputs))
	for ii, input := range indexInputs {
		args[ii] = tensors.FromFlatDataAndDimensions(input, len(input))
	}
	var out *tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		out = exec.Call(args...)[0]
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rows splits a (batch, n) score tensor into per-batch-element slices.
func rows(t *tensors.Tensor, n int) [][]float32 {
	flat := tensors.CopyFlatData[float32](t)
	out := make([][]float32, 0, len(flat)/n)
	for start := 0; start < len(flat); start += n {
		out = append(out, flat[start:start+n])
	}
	return out
}

// Interaction returns the wrapped interaction function.
func (m *Model) Interaction() interactions.Interaction { return m.interaction }

// Context returns the context holding all model variables, for checkpointing or training.
func (m *Model) Context() *context.Context { return m.ctx }

// NumEntities returns the entity vocabulary size.
func (m *Model) NumEntities() int { return m.numEntities }

// NumRelations returns the relation vocabulary size.
func (m *Model) NumRelations() int { return m.numRelations }

// EnumerateVariables calls fn for every model variable, embedding tables and interaction
// parameters alike.
func (m *Model) EnumerateVariables(fn func(v *context.Variable)) {
	m.ctx.EnumerateVariables(fn)
}

// ApplyConstraints re-establishes the model's embedding invariants in place (entity norm
// constraints, covariance clamps, ...), the step trainers run after each parameter update.
func (m *Model) ApplyConstraints() {
	for _, c := range m.constraints {
		value := c.variable.Value()
		flat := tensors.CopyFlatData[float32](value)
		for start := 0; start+c.rowSize <= len(flat); start += c.rowSize {
			c.apply(flat[start : start+c.rowSize])
		}
		c.variable.SetValue(tensors.FromFlatDataAndDimensions(flat, value.Shape().Dimensions...))
	}
}

// ResetParameters reinitializes all embedding tables and the interaction's parameters, and
// reapplies the constraints. Shapes never change.
func (m *Model) ResetParameters() {
	for _, reset := range m.resetFns {
		reset()
	}
	m.interaction.ResetParameters()
	m.ApplyConstraints()
}
