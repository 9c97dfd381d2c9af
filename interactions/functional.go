package interactions

import (
	"slices"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/kge/internal/axes"
)

// This file holds the stateless kernels: pure graph-building functions over representations
// already in broadcast form. Stateful interactions (ConvE, ERMLP, ...) compose these with
// their owned parameters.

// liftToRank prepends singleton axes to x until it has the given rank, so it broadcasts
// against full-rank operands.
func liftToRank(x *Node, rank int) *Node {
	for x.Rank() < rank {
		x = ExpandAxes(x, 0)
	}
	return x
}

// pNorm reduces the last axis of x to its L_p norm, or to the p-th power of it when
// powerNorm is set (cheaper, same ordering).
func pNorm(x *Node, p int, powerNorm bool) *Node {
	var sum *Node
	if p == 2 {
		sum = ReduceSum(Mul(x, x), -1)
	} else {
		sum = ReduceSum(PowScalar(Abs(x), float64(p)), -1)
	}
	if powerNorm {
		return sum
	}
	if p == 2 {
		return Sqrt(sum)
	}
	return PowScalar(sum, 1.0/float64(p))
}

// matVecMul multiplies matrices m (..., rows, cols) with vectors v (..., cols) into
// (..., rows), broadcasting leading axes.
func matVecMul(m, v *Node) *Node {
	v = liftToRank(ExpandAxes(v, -2), m.Rank())
	return ReduceSum(Mul(m, v), -1)
}

// vecMatMul multiplies vectors v (..., rows) with matrices m (..., rows, cols) into
// (..., cols), broadcasting leading axes.
func vecMatMul(v, m *Node) *Node {
	vExp := ExpandAxes(v, -1)
	rank := max(vExp.Rank(), m.Rank())
	return ReduceSum(Mul(liftToRank(vExp, rank), liftToRank(m, rank)), -2)
}

// applyLinear applies the affine map x@weights+bias over the last axis of x.
// weights is (in, out), bias is (out) or nil.
func applyLinear(x, weights, bias *Node) *Node {
	y := vecMatMul(x, weights)
	if bias != nil {
		y = Add(y, liftToRank(bias, y.Rank()))
	}
	return y
}

// clampNorm rescales vectors along the last axis whose L2 norm exceeds maxNorm back onto
// the maxNorm sphere, leaving shorter vectors untouched.
func clampNorm(x *Node, maxNorm float64) *Node {
	norm := Sqrt(ReduceSum(Mul(x, x), -1))
	norm = MaxScalar(ExpandAxes(norm, -1), 1e-9)
	factor := Min(OnesLike(norm), Div(MulScalar(OnesLike(norm), maxNorm), norm))
	return Mul(x, factor)
}

// splitHalves splits the last axis of x in two equal halves, e.g. the real and imaginary
// parts of an interleaved complex representation.
func splitHalves(x *Node) (lo, hi *Node) {
	rank := x.Rank()
	dim := x.Shape().Dim(-1)
	specs := make([]SliceAxisSpec, rank)
	for ii := range specs {
		specs[ii] = AxisRange()
	}
	specs[rank-1] = AxisRange(0, dim/2)
	lo = Slice(x, specs...)
	specs[rank-1] = AxisRange(dim/2, dim)
	hi = Slice(x, specs...)
	return
}

// flattenLeading collapses the four broadcast axes of x into one, returning the flattened
// tensor and the original leading dimensions (for unflattenLeading). Layers that only
// operate on flat batches (dense, convolution, batch normalization) work on the flattened
// view.
func flattenLeading(x *Node) (flat *Node, lead []int) {
	lead = slices.Clone(x.Shape().Dimensions[:axes.NumRoles])
	n := 1
	for _, dim := range lead {
		n *= dim
	}
	dims := append([]int{n}, x.Shape().Dimensions[axes.NumRoles:]...)
	return Reshape(x, dims...), lead
}

// unflattenLeading restores the broadcast axes collapsed by flattenLeading.
func unflattenLeading(x *Node, lead []int) *Node {
	dims := append(slices.Clone(lead), x.Shape().Dimensions[1:]...)
	return Reshape(x, dims...)
}

// splitLastAxis reshapes the last axis of x into the given dimensions.
func splitLastAxis(x *Node, dims ...int) *Node {
	newDims := slices.Clone(x.Shape().Dimensions[:x.Rank()-1])
	newDims = append(newDims, dims...)
	return Reshape(x, newDims...)
}

// TransEScore scores triples by the negative p-norm of h+r-t.
func TransEScore(h, r, t *Node, p int, powerNorm bool) *Node {
	return Neg(pNorm(Sub(Add(h, r), t), p, powerNorm))
}

// UnstructuredModelScore ignores the relation and scores by the negative p-norm of h-t.
func UnstructuredModelScore(h, t *Node, p int, powerNorm bool) *Node {
	return Neg(pNorm(Sub(h, t), p, powerNorm))
}

// StructuredEmbeddingScore projects head and tail through the two relation-specific
// matrices packed in r (..., 2*dim*dim) and scores by the negative p-norm of the gap.
func StructuredEmbeddingScore(h, r, t *Node, p int, powerNorm bool) *Node {
	dim := h.Shape().Dim(-1)
	rHead, rTail := splitHalves(r)
	projH := matVecMul(splitLastAxis(rHead, dim, dim), h)
	projT := matVecMul(splitLastAxis(rTail, dim, dim), t)
	return Neg(pNorm(Sub(projH, projT), p, powerNorm))
}

// TransDScore projects head and tail into the relation space through dynamic projection
// vectors (hp, tp for the entities, rp for the relation), norm-clamps the projections and
// scores the translated gap by its negative p-norm.
func TransDScore(h, r, t, hp, rp, tp *Node, p int, powerNorm bool) *Node {
	projH := clampNorm(projectEntity(h, hp, rp), 1)
	projT := clampNorm(projectEntity(t, tp, rp), 1)
	return Neg(pNorm(Sub(Add(projH, r), projT), p, powerNorm))
}

// projectEntity computes (rp ep^T + I) e without materializing the projection matrix:
// rp*(ep.e) + e.
func projectEntity(e, ep, rp *Node) *Node {
	dot := ExpandAxes(ReduceSum(Mul(e, ep), -1), -1)
	return Add(Mul(rp, dot), e)
}

// TransRScore projects head and tail through the relation matrix mr
// (..., entityDim, relationDim), norm-clamps the projections and scores the translated gap.
func TransRScore(h, r, t, mr *Node, p int, powerNorm bool) *Node {
	projH := clampNorm(vecMatMul(h, mr), 1)
	projT := clampNorm(vecMatMul(t, mr), 1)
	return Neg(pNorm(Sub(Add(projH, r), projT), p, powerNorm))
}

// DistMultScore scores by the trilinear product sum(h*r*t).
func DistMultScore(h, r, t *Node) *Node {
	return ReduceSum(Mul(Mul(h, r), t), -1)
}

// ComplExScore treats the two halves of the last axis as real and imaginary parts and
// scores by Re(<h, r, conj(t)>).
func ComplExScore(h, r, t *Node) *Node {
	hRe, hIm := splitHalves(h)
	rRe, rIm := splitHalves(r)
	tRe, tIm := splitHalves(t)
	re := Mul(Sub(Mul(hRe, rRe), Mul(hIm, rIm)), tRe)
	im := Mul(Add(Mul(hRe, rIm), Mul(hIm, rRe)), tIm)
	return ReduceSum(Add(re, im), -1)
}

// RotatEScore rotates the complex head by the complex relation and scores by the negative
// distance to the tail: -|h*r - t|.
func RotatEScore(h, r, t *Node) *Node {
	hRe, hIm := splitHalves(h)
	rRe, rIm := splitHalves(r)
	tRe, tIm := splitHalves(t)
	dRe := Sub(Sub(Mul(hRe, rRe), Mul(hIm, rIm)), tRe)
	dIm := Sub(Add(Mul(hRe, rIm), Mul(hIm, rRe)), tIm)
	return Neg(Sqrt(ReduceSum(Add(Mul(dRe, dRe), Mul(dIm, dIm)), -1)))
}

// HolEScore scores by the inner product of r with the circular correlation of h and t,
// computed in the Fourier domain.
func HolEScore(h, r, t *Node) *Node {
	fH := FFT(ConvertDType(h, dtypes.Complex64))
	fT := FFT(ConvertDType(t, dtypes.Complex64))
	composite := Real(InverseFFT(Mul(Conj(fH), fT)))
	return ReduceSum(Mul(r, composite), -1)
}

// RESCALScore scores by the bilinear form h^T M_r t, with the relation matrix flattened
// into r (..., dim*dim).
func RESCALScore(h, r, t *Node) *Node {
	dim := h.Shape().Dim(-1)
	m := splitLastAxis(r, dim, dim)
	return ReduceSum(Mul(h, matVecMul(m, t)), -1)
}

// ProjEScore combines head and relation through the diagonal weights de, dr and bias bc,
// applies the activation and scores the tail projection plus the global bias bp (a scalar).
func ProjEScore(h, r, t, de, dr, bc, bp *Node, activation func(*Node) *Node) *Node {
	rank := max(h.Rank(), r.Rank())
	hidden := Add(Add(Mul(h, liftToRank(de, rank)), Mul(r, liftToRank(dr, rank))), liftToRank(bc, rank))
	hidden = activation(hidden)
	return Add(ReduceSum(Mul(t, hidden), -1), bp)
}

// NTNScore is the neural tensor network kernel. The per-relation parameters arrive
// broadcast-ready: w (..., k, dim, dim), vh and vt (..., k, dim), b and u (..., k).
func NTNScore(h, t, w, vh, vt, b, u *Node, activation func(*Node) *Node) *Node {
	tExp := ExpandAxes(ExpandAxes(t, -2), -2)               // (..., 1, 1, dim)
	wT := ReduceSum(Mul(w, liftToRank(tExp, w.Rank())), -1) // (..., k, dim)
	hExp := ExpandAxes(h, -2)                               // (..., 1, dim)
	hWT := ReduceSum(Mul(wT, liftToRank(hExp, wT.Rank())), -1)
	vhH := ReduceSum(Mul(vh, liftToRank(hExp, vh.Rank())), -1)
	vtT := ReduceSum(Mul(vt, liftToRank(ExpandAxes(t, -2), vt.Rank())), -1)
	hidden := activation(Add(Add(hWT, vhH), Add(vtT, b)))
	return ReduceSum(Mul(u, hidden), -1)
}

const log2Pi = 1.8378770664093453 // log(2*pi)

// KG2EKullbackLeibler returns KL(N(muE, varE) || N(muR, varR)) for diagonal Gaussians,
// reduced over the feature axis.
func KG2EKullbackLeibler(muE, varE, muR, varR *Node) *Node {
	dim := float64(muE.Shape().Dim(-1))
	traceTerm := ReduceSum(Div(varE, varR), -1)
	diff := Sub(muR, muE)
	quadTerm := ReduceSum(Div(Mul(diff, diff), varR), -1)
	logDet := Sub(ReduceSum(Log(varR), -1), ReduceSum(Log(varE), -1))
	return MulScalar(AddScalar(Add(Add(traceTerm, quadTerm), logDet), -dim), 0.5)
}

// KG2EExpectedLikelihood returns the log of the expected likelihood of the two diagonal
// Gaussians, a symmetric similarity.
func KG2EExpectedLikelihood(muE, varE, muR, varR *Node) *Node {
	dim := float64(muE.Shape().Dim(-1))
	sum := Add(varE, varR)
	diff := Sub(muE, muR)
	quadTerm := ReduceSum(Div(Mul(diff, diff), sum), -1)
	logDet := ReduceSum(Log(sum), -1)
	return MulScalar(AddScalar(Add(quadTerm, logDet), dim*log2Pi), -0.5)
}
