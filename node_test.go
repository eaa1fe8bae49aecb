package isat

import (
	"math"
	"testing"
)

func TestNodeHyperplaneSeparatesItsLeaves(t *testing.T) {
	left := testLeaf(t, []float64{0, 0, 0}, 0.05, 0.1, 1)
	right := testLeaf(t, []float64{3, 1, -1}, 0.05, 0.1, 1)

	n := newNode(left, right, nil)

	if vL := n.vPhi(left.phi); vL > n.a {
		t.Errorf("left leaf on the right side: v.phi=%v, a=%v", vL, n.a)
	}
	if vR := n.vPhi(right.phi); vR <= n.a {
		t.Errorf("right leaf on the left side: v.phi=%v, a=%v", vR, n.a)
	}
	if n.leafLeft != left || n.leafRight != right {
		t.Error("leaf slots not wired")
	}
}

func TestNodeHyperplaneMidpoint(t *testing.T) {
	left := testLeaf(t, []float64{-1, 0, 2}, 0.05, 0.1, 1)
	right := testLeaf(t, []float64{2, -1, 0}, 0.05, 0.1, 1)

	n := newNode(left, right, nil)

	// The midpoint of the two compositions lies exactly on the plane.
	mid := []float64{0.5, -0.5, 1}
	if d := n.vPhi(mid) - n.a; math.Abs(d) > 1e-12 {
		t.Errorf("midpoint off the hyperplane by %v", d)
	}
}

func TestNodeHyperplaneWithIsotropicEOA(t *testing.T) {
	// With an isotropic EOA factor c*I, v is proportional to phiR-phiL.
	left := testLeaf(t, []float64{0, 0, 0}, 0.05, 0.1, 1)
	right := testLeaf(t, []float64{4, 2, 0}, 0.05, 0.1, 1)

	n := newNode(left, right, nil)

	want := []float64{4 * 0.25, 2 * 0.25, 0} // (L*L^T)*d with L = 0.5*I
	for i := range want {
		if math.Abs(n.v[i]-want[i]) > 1e-9 {
			t.Errorf("v[%d]: got %v, want %v", i, n.v[i], want[i])
		}
	}
}

func TestNodeHyperplaneReducedLeaf(t *testing.T) {
	// The left leaf lives in a reduced space; inactive species use the
	// identity metric in v.
	nSpecies := 3
	nEq := nSpecies + 2
	phiL := []float64{0, 0, 0, 1000, 1e5}
	phiR := []float64{1, 2, 4, 1000, 1e5}
	red := &reduction{active: []bool{true, true, false}, inert: -1}

	left, err := newChemPoint(phiL, phiL, scaledIdentity(nEq, 0.05), ones(nEq), 0.1, nSpecies, red, 0)
	if err != nil {
		t.Fatalf("newChemPoint: %v", err)
	}
	right := testLeaf(t, phiR, 0.05, 0.1, nSpecies)

	n := newNode(left, right, nil)

	// Active species scaled by L*L^T = 0.25; inactive passed through.
	if got, want := n.v[0], 0.25; math.Abs(got-want) > 1e-9 {
		t.Errorf("v[0]: got %v, want %v", got, want)
	}
	if got, want := n.v[2], 4.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("v[2] (inactive): got %v, want %v", got, want)
	}
}
