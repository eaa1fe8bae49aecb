package isat

import "gonum.org/v1/gonum/floats"

// node is an internal vertex of the partition tree. Each side holds either
// a child node or a leaf, never both; the hyperplane (v, a) separates the
// two descendant regions. Ownership of nodes and leaves belongs to the
// tree; parent pointers are non-owning back-links used for traversal only.
type node struct {
	leafLeft  *ChemPoint
	leafRight *ChemPoint
	left      *node
	right     *node
	parent    *node

	// Hyperplane v^T*x = a: queries with v^T*phi > a descend right (the
	// side of the more recently added point), others left. v is not
	// normalised; a absorbs its magnitude.
	v []float64
	a float64
}

// newNode builds a node separating two leaves. The hyperplane is the
// perpendicular bisector of the segment joining the leaves, measured in
// the metric of the left leaf's ellipsoid: v = L*L^T*(phiR - phiL), which
// in the transformed space where the left EOA is the unit sphere reduces
// to the Euclidean bisector.
func newNode(leafLeft, leafRight *ChemPoint, parent *node) *node {
	n := &node{
		leafLeft:  leafLeft,
		leafRight: leafRight,
		parent:    parent,
	}
	n.v = calcV(leafLeft, leafRight)
	n.a = calcA(n.v, leafLeft, leafRight)
	return n
}

// calcV computes the hyperplane normal L*L^T*(phiR - phiL) in the full
// composition space, using the left leaf's EOA factor. When the left leaf
// was tabulated in a reduced space, inactive species keep the plain
// difference: their metric is the identity.
func calcV(left, right *ChemPoint) []float64 {
	nEq := left.nSpecies + 2
	phiL, phiR := left.phi, right.phi

	dphi := make([]float64, left.dim)
	for k := range dphi {
		ci := left.compIndex(k)
		dphi[k] = phiR[ci] - phiL[ci]
	}

	// y = LT*dphi, then vRed = LT^T*y, both upper-triangular products.
	y := make([]float64, left.dim)
	for i := range y {
		var s float64
		for j := i; j < left.dim; j++ {
			s += left.lt.At(i, j) * dphi[j]
		}
		y[i] = s
	}
	vRed := make([]float64, left.dim)
	for j := range vRed {
		var s float64
		for i := 0; i <= j; i++ {
			s += left.lt.At(i, j) * y[i]
		}
		vRed[j] = s
	}

	v := make([]float64, nEq)
	for i := 0; i < nEq; i++ {
		v[i] = phiR[i] - phiL[i]
	}
	for k := 0; k < left.dim; k++ {
		v[left.compIndex(k)] = vRed[k]
	}
	return v
}

// calcA returns v^T*(phiL+phiR)/2, the hyperplane offset at the midpoint.
func calcA(v []float64, left, right *ChemPoint) float64 {
	var a float64
	for i, vi := range v {
		a += vi * (left.phi[i] + right.phi[i]) / 2
	}
	return a
}

// vPhi evaluates the hyperplane functional v^T*phiq.
func (n *node) vPhi(phiq []float64) float64 {
	return floats.Dot(n.v, phiq)
}
