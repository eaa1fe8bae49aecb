package isat

import "fmt"

// Reducer narrows the active composition subspace for an incoming state,
// abstracting dynamic adaptive chemistry (DAC) mechanism reduction. The
// table calls ReduceMechanism once for each cache miss that adds a new
// leaf, before tabulating the freshly computed point (misses resolved by a
// grow or left untabulated on a full tree do not call it), and consumes
// only the resulting active-species
// mask; ranking and graph traversal internals are the reducer's own
// business.
//
// Implementations must treat each call as independent: the mask reported
// by ActiveSpecies refers to the most recent ReduceMechanism call.
type Reducer interface {
	// ReduceMechanism classifies species as active or inactive for the
	// composition c at temperature T and pressure p. c holds the species
	// entries of phi only (length nSpecies).
	ReduceMechanism(c []float64, T, p float64) error

	// ActiveSpecies returns the mask from the last ReduceMechanism call;
	// entry i is true when species i is active. The table does not retain
	// the returned slice across queries.
	ActiveSpecies() []bool

	// NsSimp returns the number of active species in the last reduction.
	NsSimp() int

	// EpsDAC returns the reduction tolerance.
	EpsDAC() float64

	// SearchInitSet returns the indices of species that are always kept
	// active (fuel, oxidiser, key radicals).
	SearchInitSet() []int

	// Online reports whether reduction is currently enabled. When false
	// the table tabulates in the full composition space.
	Online() bool
}

// ThresholdReducer is a concrete Reducer that classifies a species as
// active when its scaled concentration exceeds the reduction tolerance,
// or when it belongs to the search-initiating set. It captures the DAC
// contract without needing reaction-path data, which belongs to the host
// chemistry model.
type ThresholdReducer struct {
	nSpecie       int
	eps           float64
	searchInitSet []int
	online        bool

	activeSpecies []bool
	nsSimp        int
}

// NewThresholdReducer builds a reducer over nSpecie species with tolerance
// eps. Species listed in searchInitSet are always active.
func NewThresholdReducer(nSpecie int, eps float64, searchInitSet []int) (*ThresholdReducer, error) {
	if nSpecie < 1 {
		return nil, fmt.Errorf("isat: reducer needs at least one species, got %d", nSpecie)
	}
	if eps <= 0 {
		return nil, fmt.Errorf("isat: reducer tolerance must be > 0, got %g", eps)
	}
	for _, s := range searchInitSet {
		if s < 0 || s >= nSpecie {
			return nil, fmt.Errorf("isat: search init set entry %d out of range [0, %d)", s, nSpecie)
		}
	}
	set := make([]int, len(searchInitSet))
	copy(set, searchInitSet)
	return &ThresholdReducer{
		nSpecie:       nSpecie,
		eps:           eps,
		searchInitSet: set,
		online:        true,
		activeSpecies: make([]bool, nSpecie),
	}, nil
}

// SetOnline toggles reduction. While offline the table runs full-space.
func (r *ThresholdReducer) SetOnline(on bool) { r.online = on }

func (r *ThresholdReducer) ReduceMechanism(c []float64, T, p float64) error {
	if len(c) != r.nSpecie {
		return fmt.Errorf("isat: reducer got %d species, want %d", len(c), r.nSpecie)
	}

	// Largest concentration sets the scale for the threshold test.
	cMax := 0.0
	for _, ci := range c {
		if ci > cMax {
			cMax = ci
		}
	}

	r.nsSimp = 0
	for i := range r.activeSpecies {
		r.activeSpecies[i] = cMax > 0 && c[i] > r.eps*cMax
		if r.activeSpecies[i] {
			r.nsSimp++
		}
	}
	for _, s := range r.searchInitSet {
		if !r.activeSpecies[s] {
			r.activeSpecies[s] = true
			r.nsSimp++
		}
	}

	// A reduction that deactivates everything would leave the tabulation
	// dimensionless; keep at least one species.
	if r.nsSimp == 0 {
		r.activeSpecies[0] = true
		r.nsSimp = 1
	}
	return nil
}

func (r *ThresholdReducer) ActiveSpecies() []bool { return r.activeSpecies }
func (r *ThresholdReducer) NsSimp() int           { return r.nsSimp }
func (r *ThresholdReducer) EpsDAC() float64       { return r.eps }
func (r *ThresholdReducer) SearchInitSet() []int  { return r.searchInitSet }
func (r *ThresholdReducer) Online() bool          { return r.online }
