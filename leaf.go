package isat

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerate reports that a freshly computed point could not be
// tabulated because its composition or mapping is non-finite or its
// Jacobian produced a numerically degenerate EOA factorization. The chemistry result itself is still valid; the table
// returns it without storing a leaf.
var ErrDegenerate = errors.New("isat: degenerate Jacobian, point not tabulated")

// minSemiAxis clamps the singular values of the EOA factor from below so
// the ellipsoid semi-axes never exceed 2 in scaled space (Pope 1997).
const minSemiAxis = 0.5

// reduction captures the active-species mask a Reducer produced for the
// query that created a leaf. A nil reduction tabulates in the full space.
type reduction struct {
	active []bool
	inert  int
}

// ChemPoint is one stored tabulation entry: a leaf of the partition tree.
//
// It holds the sampled composition phi, its mapping rphi, the Jacobian A,
// and the upper-triangular factor of the ellipsoid of accuracy
// E = {x : ||LT*(x-phi)|| <= 1}. When mechanism reduction was active at
// creation, A and LT live in the reduced space of the active species plus
// temperature and pressure, while phi and rphi keep full dimension.
type ChemPoint struct {
	phi  []float64
	rphi []float64

	a  *mat.Dense // Jacobian, dim x dim, reduced space when DAC is active
	lt *mat.Dense // upper-triangular EOA factor, dim x dim
	qt *mat.Dense // orthogonal factor paired with lt, maintained across grows

	scaleFactor []float64
	epsTol      float64

	nSpecies int
	dim      int // active species + 2, == nSpecies+2 without reduction

	reduced              bool
	completeToSimplified []int // len nSpecies, -1 for inactive species
	simplifiedToComplete []int // len dim-2
	inertSpecie          int

	node *node

	nUsed        int
	nGrown       int
	timeTag      float64
	lastTimeUsed float64
	lastError    float64
	toRemove     bool
}

// newChemPoint builds a leaf from a computed mapping. The EOA factor is
// the upper-triangular R of the QR decomposition of B*A/eps, with singular
// values clamped from below at minSemiAxis via an SVD pass.
//
// a is the full-space Jacobian; when red is non-nil only its active rows
// and columns enter the ellipsoid. Returns ErrDegenerate when the inputs
// are non-finite or the factorization collapses.
func newChemPoint(phi, rphi []float64, a *mat.Dense, scaleFactor []float64, epsTol float64, nSpecies int, red *reduction, timeTag float64) (*ChemPoint, error) {
	nEq := nSpecies + 2

	for _, vec := range [][]float64{phi, rphi} {
		for _, x := range vec {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, ErrDegenerate
			}
		}
	}

	p := &ChemPoint{
		phi:          append([]float64(nil), phi...),
		rphi:         append([]float64(nil), rphi...),
		scaleFactor:  scaleFactor,
		epsTol:       epsTol,
		nSpecies:     nSpecies,
		dim:          nEq,
		inertSpecie:  -1,
		timeTag:      timeTag,
		lastTimeUsed: timeTag,
	}

	if red != nil {
		p.reduced = true
		p.inertSpecie = red.inert
		p.completeToSimplified = make([]int, nSpecies)
		for i := range p.completeToSimplified {
			p.completeToSimplified[i] = -1
		}
		for i, on := range red.active {
			if on {
				p.completeToSimplified[i] = len(p.simplifiedToComplete)
				p.simplifiedToComplete = append(p.simplifiedToComplete, i)
			}
		}
		p.dim = len(p.simplifiedToComplete) + 2
	}

	n := p.dim

	// Restrict the Jacobian to the active block.
	p.a = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		ci := p.compIndex(i)
		for j := 0; j < n; j++ {
			p.a.Set(i, j, a.At(ci, p.compIndex(j)))
		}
	}

	// M = B*A/eps with B = diag(1/scaleFactor), restricted like A.
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		ci := p.compIndex(i)
		rowScale := 1.0 / (scaleFactor[ci] * epsTol)
		for j := 0; j < n; j++ {
			v := p.a.At(i, j) * rowScale
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, ErrDegenerate
			}
			m.Set(i, j, v)
		}
	}

	var qr mat.QR
	qr.Factorize(m)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)
	p.lt = &r

	p.qt = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p.qt.Set(i, j, q.At(j, i))
		}
	}

	if err := p.clampSemiAxes(); err != nil {
		return nil, err
	}
	return p, nil
}

// clampSemiAxes bounds the EOA semi-axes: every singular value of lt below
// minSemiAxis is raised to it, and the clamped factor is re-triangularized
// so lt stays an upper-triangular matrix with the same ellipsoid.
func (p *ChemPoint) clampSemiAxes() error {
	var svd mat.SVD
	if ok := svd.Factorize(p.lt, mat.SVDFull); !ok {
		return ErrDegenerate
	}
	vals := svd.Values(nil)
	clamped := false
	for i, d := range vals {
		if math.IsNaN(d) {
			return ErrDegenerate
		}
		if d < minSemiAxis {
			vals[i] = minSemiAxis
			clamped = true
		}
	}
	if !clamped {
		return nil
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	d := mat.NewDiagDense(p.dim, vals)

	var ud, c mat.Dense
	ud.Mul(&u, d)
	c.Mul(&ud, v.T())

	// ||c*x|| defines the same ellipsoid as ||r2*x|| for c = q2*r2.
	var qr mat.QR
	qr.Factorize(&c)
	var r2 mat.Dense
	qr.RTo(&r2)
	p.lt = &r2
	return nil
}

// compIndex maps a reduced-space coordinate to its full-space index.
// Temperature and pressure are always the last two components.
func (p *ChemPoint) compIndex(k int) int {
	if !p.reduced {
		return k
	}
	switch nA := p.dim - 2; {
	case k < nA:
		return p.simplifiedToComplete[k]
	case k == nA:
		return p.nSpecies // temperature
	default:
		return p.nSpecies + 1 // pressure
	}
}

// reducedDelta returns phiq - phi in the leaf's EOA space.
func (p *ChemPoint) reducedDelta(phiq []float64) []float64 {
	d := make([]float64, p.dim)
	for k := range d {
		ci := p.compIndex(k)
		d[k] = phiq[ci] - p.phi[ci]
	}
	return d
}

// InEOA reports whether phiq lies inside the ellipsoid of accuracy:
// ||LT*(phiq-phi)||^2 <= 1 in the leaf's (possibly reduced) space.
// Inactive species do not enter the test. It has no side effects.
func (p *ChemPoint) InEOA(phiq []float64) bool {
	n := p.dim
	var norm2 float64
	for i := 0; i < n; i++ {
		var yi float64
		for j := i; j < n; j++ {
			cj := p.compIndex(j)
			yi += p.lt.At(i, j) * (phiq[cj] - p.phi[cj])
		}
		norm2 += yi * yi
	}
	return norm2 <= 1
}

// Grow expands the EOA to the minimum-volume ellipsoid covering both the
// current EOA and phiq, by Pope's rank-one construction: with
// p' = LT*(phiq-phi) on or outside the unit sphere, the update
// G = I + gamma*p'*p'^T (gamma = (1/|p'|-1)/|p'|^2) maps the transformed
// space so that phiq lands exactly on the boundary. The triangular factor
// is restored through a Givens QR update.
//
// Callers must have verified CheckSolution first. Returns true when the
// EOA now covers phiq.
func (p *ChemPoint) Grow(phiq []float64) bool {
	n := p.dim
	d := p.reducedDelta(phiq)

	// p' = LT*d, upper-triangular product.
	pp := make([]float64, n)
	for i := 0; i < n; i++ {
		var s float64
		for j := i; j < n; j++ {
			s += p.lt.At(i, j) * d[j]
		}
		pp[i] = s
	}

	s := floats.Norm(pp, 2)
	s2 := s * s
	if s <= 1 {
		// Already covered; nothing to grow.
		return true
	}
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return false
	}

	gamma := (1/s - 1) / s2

	// G*LT = LT + (gamma*p')*(LT^T*p')^T, a rank-one update.
	u := make([]float64, n)
	v := make([]float64, n)
	for i := 0; i < n; i++ {
		u[i] = gamma * pp[i]
	}
	for j := 0; j < n; j++ {
		var t float64
		for i := 0; i <= j; i++ {
			t += pp[i] * p.lt.At(i, j)
		}
		v[j] = t
	}

	qrUpdate(p.lt, p.qt, n, u, v)
	p.nGrown++
	return true
}

// CheckSolution compares the directly computed mapping rphiq against the
// leaf's linear model and reports whether the scaled error is within the
// tolerance, in which case the miss may be resolved by growing this EOA
// instead of adding a new leaf. The error is recorded in LastError.
func (p *ChemPoint) CheckSolution(phiq, rphiq []float64) bool {
	n := p.dim
	d := p.reducedDelta(phiq)

	var err2 float64
	for i := 0; i < n; i++ {
		ci := p.compIndex(i)
		var lin float64
		for j := 0; j < n; j++ {
			lin += p.a.At(i, j) * d[j]
		}
		e := (rphiq[ci] - p.rphi[ci] - lin) / p.scaleFactor[ci]
		err2 += e * e
	}
	p.lastError = math.Sqrt(err2)
	return p.lastError <= p.epsTol
}

// interpolate returns the linear estimate Rphi + A*(phiq-phi) in full
// dimension. Under mechanism reduction the active block goes through the
// Jacobian while inactive species, untouched by reaction, carry their
// composition change through unchanged.
func (p *ChemPoint) interpolate(phiq []float64) []float64 {
	nEq := p.nSpecies + 2
	out := make([]float64, nEq)

	for i := 0; i < p.nSpecies; i++ {
		out[i] = p.rphi[i] + (phiq[i] - p.phi[i])
	}

	d := p.reducedDelta(phiq)
	for i := 0; i < p.dim; i++ {
		ci := p.compIndex(i)
		var lin float64
		for j := 0; j < p.dim; j++ {
			lin += p.a.At(i, j) * d[j]
		}
		out[ci] = p.rphi[ci] + lin
	}
	return out
}

// Accessors. Returned slices are the leaf's own storage; treat as
// read-only.

// Phi returns the stored composition vector.
func (p *ChemPoint) Phi() []float64 { return p.phi }

// RPhi returns the stored mapping of Phi.
func (p *ChemPoint) RPhi() []float64 { return p.rphi }

// NUsed returns how many retrieves this leaf has answered.
func (p *ChemPoint) NUsed() int { return p.nUsed }

// NGrown returns how many times the EOA has been grown.
func (p *ChemPoint) NGrown() int { return p.nGrown }

// TimeTag returns the simulation time at which the leaf was created.
func (p *ChemPoint) TimeTag() float64 { return p.timeTag }

// LastTimeUsed returns the simulation time of the last retrieve.
func (p *ChemPoint) LastTimeUsed() float64 { return p.lastTimeUsed }

// LastError returns the scaled linearisation error from the most recent
// CheckSolution call.
func (p *ChemPoint) LastError() float64 { return p.lastError }

// ActiveCount returns the number of active species in the leaf's space:
// nSpecies when no reduction was applied.
func (p *ChemPoint) ActiveCount() int { return p.dim - 2 }

// InertSpecie returns the inert species index recorded at creation, or -1.
func (p *ChemPoint) InertSpecie() int { return p.inertSpecie }
