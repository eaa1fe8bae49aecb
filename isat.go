package isat

import (
	"errors"
	"fmt"
	"math"
)

// Table is an in-situ adaptive tabulation cache over one chemistry solver.
// It owns the partition tree, the MRU list and the cleaning schedule.
// A Table must not be shared between goroutines; give each worker its own.
type Table struct {
	cfg Config

	nSpecies int
	nEq      int

	solver  ChemistrySolver
	reducer Reducer
	inert   int

	tree *tree
	mru  []*ChemPoint

	now          float64
	previousTime float64

	cleaningRequired bool

	totRetrieve  int64
	nFailedFirst int64
	grows        int64
	adds         int64
	evictions    int64
	rebalances   int64
}

// New builds a table for compositions of nSpecies species (plus
// temperature and pressure). The solver is called on every cache miss.
func New(nSpecies int, solver ChemistrySolver, cfg Config) (*Table, error) {
	if nSpecies < 1 {
		return nil, fmt.Errorf("isat: nSpecies must be >= 1, got %d", nSpecies)
	}
	if solver == nil {
		return nil, errors.New("isat: solver must not be nil")
	}
	cfg, err := validateConfig(cfg, nSpecies)
	if err != nil {
		return nil, err
	}
	return &Table{
		cfg:      cfg,
		nSpecies: nSpecies,
		nEq:      nSpecies + 2,
		solver:   solver,
		inert:    -1,
		tree:     newTree(cfg),
	}, nil
}

// WithReducer attaches a mechanism-reduction pre-filter. While the reducer
// reports Online, new leaves are tabulated in the reduced space of its
// active species. inertSpecie is the index of the inert species carried
// for the host model, or -1 for none.
func (tb *Table) WithReducer(r Reducer, inertSpecie int) *Table {
	tb.reducer = r
	tb.inert = inertSpecie
	return tb
}

// SetTime advances the simulation clock used for leaf time tags, use
// stamps and the cleaning schedule.
func (tb *Table) SetTime(t float64) { tb.now = t }

// Size returns the number of stored leaves.
func (tb *Table) Size() int { return tb.tree.size }

// Depth returns the current partition tree depth.
func (tb *Table) Depth() int { return tb.tree.depth() }

// Stats returns a snapshot of the table diagnostics.
func (tb *Table) Stats() Stats {
	return Stats{
		Size:         tb.tree.size,
		Depth:        tb.tree.depth(),
		TotRetrieve:  tb.totRetrieve,
		NFailedFirst: tb.nFailedFirst,
		Grows:        tb.grows,
		Adds:         tb.adds,
		Evictions:    tb.evictions,
		Rebalances:   tb.rebalances,
	}
}

// Query returns R(phi) for the packed composition vector phi (species,
// temperature, pressure), answering from the table when a stored EOA
// covers phi and integrating directly otherwise. The decision loop is:
// primary retrieve, secondary retrieve, MRU retrieve, compute-and-grow,
// compute-and-add.
func (tb *Table) Query(phi []float64) ([]float64, error) {
	if len(phi) != tb.nEq {
		return nil, fmt.Errorf("isat: query vector has length %d, want %d", len(phi), tb.nEq)
	}

	// Housekeeping runs between queries, never inside the retrieve path.
	if tb.cleaningRequired || tb.now-tb.previousTime >= tb.cfg.CheckEntireTreeInterval {
		tb.CleanAndBalance()
	}

	var c0 *ChemPoint
	if tb.tree.size > 0 {
		c0 = tb.tree.search(phi)

		if c0.InEOA(phi) {
			return tb.retrieveFrom(c0, phi), nil
		}

		if tb.cfg.Max2ndSearch > 0 {
			if c2, ok := tb.tree.secondarySearch(phi, c0); ok {
				tb.nFailedFirst++
				return tb.retrieveFrom(c2, phi), nil
			}
		}

		if tb.cfg.MRURetrieve {
			for _, lf := range tb.mru {
				if lf.InEOA(phi) {
					tb.nFailedFirst++
					return tb.retrieveFrom(lf, phi), nil
				}
			}
		}
	}

	rphi, a, err := tb.solver.Compute(phi)
	if err != nil {
		return nil, err
	}

	// A miss whose true mapping still matches the candidate's linear model
	// means the candidate's EOA was too conservative: grow it.
	if c0 != nil && c0.CheckSolution(phi, rphi) {
		if c0.Grow(phi) {
			tb.grows++
		}
		return rphi, nil
	}

	if tb.tree.isFull() {
		tb.cleaningRequired = true
		return rphi, nil
	}

	red, err := tb.reduceFor(phi)
	if err != nil {
		return nil, err
	}
	leaf, err := newChemPoint(phi, rphi, a, tb.cfg.ScaleFactor, tb.cfg.Tolerance, tb.nSpecies, red, tb.now)
	if err != nil {
		if errors.Is(err, ErrDegenerate) {
			// Compute-only outcome: the mapping is fine, the tree is
			// untouched.
			return rphi, nil
		}
		return nil, err
	}
	tb.tree.insert(leaf, c0)
	tb.adds++
	return rphi, nil
}

// retrieveFrom answers a query from a stored leaf: interpolate, stamp the
// leaf, promote it in the MRU list.
func (tb *Table) retrieveFrom(lf *ChemPoint, phi []float64) []float64 {
	rphi := lf.interpolate(phi)
	lf.nUsed++
	lf.lastTimeUsed = tb.now
	tb.totRetrieve++
	tb.addToMRU(lf)
	return rphi
}

// reduceFor runs the reducer for the query state and packages its mask,
// or returns nil when reduction is off.
func (tb *Table) reduceFor(phi []float64) (*reduction, error) {
	if tb.reducer == nil || !tb.reducer.Online() {
		return nil, nil
	}
	T := phi[tb.nEq-2]
	p := phi[tb.nEq-1]
	if err := tb.reducer.ReduceMechanism(phi[:tb.nSpecies], T, p); err != nil {
		return nil, err
	}
	mask := tb.reducer.ActiveSpecies()
	active := make([]bool, tb.nSpecies)
	copy(active, mask)
	return &reduction{active: active, inert: tb.inert}, nil
}

// addToMRU promotes lf to the front of the MRU list, evicting the least
// recently used entry when the list is at capacity.
func (tb *Table) addToMRU(lf *ChemPoint) {
	if tb.cfg.MRUSize <= 0 {
		return
	}
	for i, p := range tb.mru {
		if p == lf {
			copy(tb.mru[1:i+1], tb.mru[:i])
			tb.mru[0] = lf
			return
		}
	}
	if len(tb.mru) < tb.cfg.MRUSize {
		tb.mru = append(tb.mru, nil)
	}
	copy(tb.mru[1:], tb.mru)
	tb.mru[0] = lf
}

// dropFromMRU removes lf from the MRU list if present.
func (tb *Table) dropFromMRU(lf *ChemPoint) {
	for i, p := range tb.mru {
		if p == lf {
			tb.mru = append(tb.mru[:i], tb.mru[i+1:]...)
			return
		}
	}
}

// CleanAndBalance sweeps the tree for stale or worn-out leaves, deletes
// them, and rebalances when the tree is full, too deep, or answering too
// many retrieves through the secondary path. It runs automatically between
// queries when needed; calling it directly is also safe. Reports whether
// the tree changed.
func (tb *Table) CleanAndBalance() bool {
	changed := false

	if tb.cfg.Clean && tb.tree.size > 0 {
		var toRemove []*ChemPoint
		for _, lf := range tb.tree.leaves() {
			if tb.stale(lf) {
				lf.toRemove = true
				toRemove = append(toRemove, lf)
			}
		}
		for _, lf := range toRemove {
			tb.dropFromMRU(lf)
			tb.tree.deleteLeaf(lf)
			tb.evictions++
			changed = true
		}
	}

	if tb.shouldBalance() && tb.tree.balance() {
		tb.rebalances++
		changed = true
	}

	tb.cleaningRequired = false
	tb.previousTime = tb.now
	return changed
}

// stale reports whether a leaf should be evicted: unused or alive for too
// long, retrieved more often than the health threshold allows, or grown so
// many times that its linearisation is no longer trusted.
func (tb *Table) stale(lf *ChemPoint) bool {
	if tb.now-lf.lastTimeUsed > tb.cfg.MaxUseInterval {
		return true
	}
	if tb.now-lf.timeTag > tb.cfg.MaxLifeTime {
		return true
	}
	if tb.cfg.CheckGrown > 0 && lf.nGrown > tb.cfg.CheckGrown {
		return true
	}
	if tb.cfg.CheckUsed > 0 && float64(lf.nUsed) > tb.cfg.CheckUsed*float64(tb.cfg.MaxElements) {
		return true
	}
	return false
}

// shouldBalance applies the rebalance triggers: a full tree, a depth above
// MaxDepthFactor*log2(size), or a secondary-retrieve fraction above
// Max2ndRetBalance. The tree itself still enforces MinBalanceThreshold.
func (tb *Table) shouldBalance() bool {
	if tb.tree.size <= tb.cfg.MinBalanceThreshold || tb.tree.size < 2 {
		return false
	}
	if tb.tree.isFull() {
		return true
	}
	if float64(tb.tree.depth()) > tb.cfg.MaxDepthFactor*math.Log2(float64(tb.tree.size)) {
		return true
	}
	if tb.cfg.Max2ndRetBalance < 1 && tb.totRetrieve > 0 {
		if float64(tb.nFailedFirst)/float64(tb.totRetrieve) > tb.cfg.Max2ndRetBalance {
			return true
		}
	}
	return false
}

// Clear drops every stored leaf and node. Counters are preserved; a
// cleared table keeps serving queries and repopulates from scratch.
func (tb *Table) Clear() {
	tb.tree.clear()
	tb.mru = nil
	tb.cleaningRequired = false
}
