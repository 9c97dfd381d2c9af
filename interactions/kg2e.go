package interactions

import (
	"strings"

	"github.com/gomlx/gomlx/graph"
	"github.com/pkg/errors"
)

// Similarity selects how KG2E compares the entity-difference Gaussian with the relation
// Gaussian.
type Similarity int

const (
	// SimilarityKL scores by the negated Kullback-Leibler divergence (asymmetric, the
	// default).
	SimilarityKL Similarity = iota
	// SimilarityEL scores by the log expected likelihood (symmetric).
	SimilarityEL
)

// String implements fmt.Stringer.
func (s Similarity) String() string {
	switch s {
	case SimilarityKL:
		return "KL"
	case SimilarityEL:
		return "EL"
	}
	return "invalid"
}

// ParseSimilarity parses a similarity name, case-insensitively. The empty string selects
// the default (KL).
func ParseSimilarity(name string) (Similarity, error) {
	switch strings.ToUpper(name) {
	case "", "KL":
		return SimilarityKL, nil
	case "EL":
		return SimilarityEL, nil
	}
	return 0, errors.Errorf("unknown KG2E similarity %q, valid values are KL and EL", name)
}

// KG2E represents entities and relations as diagonal Gaussians: the primary
// representations are the means and the variance extras carry the covariance diagonals,
// clamped by the owning model before they get here. The triple is scored by comparing the
// h-t difference distribution with the relation distribution.
type KG2E struct {
	stateless
	Measure Similarity
}

// NewKG2E returns a KG2E interaction with the given similarity measure.
func NewKG2E(measure Similarity) *KG2E {
	return &KG2E{Measure: measure}
}

func (i *KG2E) RequiredExtras() []ExtraName {
	return []ExtraName{ExtraHeadVariance, ExtraRelationVariance, ExtraTailVariance}
}

func (i *KG2E) Forward(h, r, t *graph.Node, extras *Extras) *graph.Node {
	muE := graph.Sub(h, t)
	varE := graph.Add(extras.HeadVariance, extras.TailVariance)
	switch i.Measure {
	case SimilarityEL:
		return KG2EExpectedLikelihood(muE, varE, r, extras.RelationVariance)
	default:
		return graph.Neg(KG2EKullbackLeibler(muE, varE, r, extras.RelationVariance))
	}
}
