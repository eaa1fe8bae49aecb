package isat

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// qrUpdate applies the rank-one update R <- qr(R + u*v^T) in place,
// restoring upper-triangularity with Givens rotations, and accumulates the
// same rotations into the paired orthogonal factor qt so the decomposition
// stays consistent across grows. R is the n x n upper-triangular EOA
// factor; u and v have length n.
//
// The sequence follows the classic qrupdate of Numerical Recipes: rotate u
// onto e_0 (turning R into an upper-Hessenberg matrix), add the collapsed
// update to the first row, then rotate the subdiagonal away again.
func qrUpdate(r, qt *mat.Dense, n int, u, v []float64) {
	w := make([]float64, n)
	copy(w, u)

	k := n - 1
	for k >= 0 && w[k] == 0 {
		k--
	}
	if k < 0 {
		k = 0
	}

	for i := k - 1; i >= 0; i-- {
		rotate(r, qt, i, w[i], -w[i+1], n)
		w[i] = math.Hypot(w[i], w[i+1])
	}

	for j := 0; j < n; j++ {
		r.Set(0, j, r.At(0, j)+w[0]*v[j])
	}

	// Chase the subdiagonal introduced above back to zero.
	for i := 0; i < k; i++ {
		rotate(r, qt, i, r.At(i, i), -r.At(i+1, i), n)
	}
}

// rotate applies a Givens rotation built from (a, b) to rows i and i+1 of
// r and qt, zeroing the contribution of b. In r only columns i..n-1 can be
// nonzero in those rows, so earlier columns are skipped; qt rows are full.
func rotate(r, qt *mat.Dense, i int, a, b float64, n int) {
	var c, s float64
	switch {
	case a == 0:
		c = 0
		s = 1
		if b < 0 {
			s = -1
		}
	case math.Abs(a) > math.Abs(b):
		f := b / a
		c = math.Copysign(1/math.Sqrt(1+f*f), a)
		s = f * c
	default:
		f := a / b
		s = math.Copysign(1/math.Sqrt(1+f*f), b)
		c = f * s
	}

	for j := i; j < n; j++ {
		y := r.At(i, j)
		z := r.At(i+1, j)
		r.Set(i, j, c*y-s*z)
		r.Set(i+1, j, s*y+c*z)
	}
	for j := 0; j < n; j++ {
		y := qt.At(i, j)
		z := qt.At(i+1, j)
		qt.Set(i, j, c*y-s*z)
		qt.Set(i+1, j, s*y+c*z)
	}
}
