package isat

import "gonum.org/v1/gonum/mat"

// ChemistrySolver produces the mapped composition Rphi and its Jacobian
// A = dRphi/dphi for a full composition vector phi (species mass fractions,
// temperature, pressure). It is invoked only on a cache miss.
//
// Compute must behave as a pure function of phi: the table assumes two
// calls with the same input yield the same output, and it never mutates
// the returned slices or matrix.
type ChemistrySolver interface {
	Compute(phi []float64) (rphi []float64, a *mat.Dense, err error)
}

// SolverFunc adapts a plain function into a ChemistrySolver.
type SolverFunc func(phi []float64) ([]float64, *mat.Dense, error)

func (f SolverFunc) Compute(phi []float64) ([]float64, *mat.Dense, error) { return f(phi) }
