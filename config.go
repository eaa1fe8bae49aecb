package isat

import (
	"fmt"
	"math"
)

// Config controls tabulation behavior.
// Start with [DefaultConfig], then set the required fields (Tolerance,
// ScaleFactor, MaxElements) and override whatever else you need.
type Config struct {
	// Tolerance is the EOA error tolerance epsilon. A retrieved mapping is
	// guaranteed to differ from the directly integrated one by at most this
	// amount in the scaled norm. Required, must be > 0.
	Tolerance float64

	// ScaleFactor holds one positive scale per composition component
	// (nSpecies species entries, then temperature, then pressure). All
	// distance and ellipsoid work happens in the scaled space
	// diag(1/ScaleFactor). Required, length must be nSpecies+2.
	ScaleFactor []float64

	// MaxElements caps the number of stored leaves. When the cap is hit,
	// new points are no longer added and a cleaning pass is scheduled.
	// Required, must be >= 1.
	MaxElements int

	// Max2ndSearch bounds how many leaf EOA tests a secondary tree search
	// may perform after a failed primary retrieve. 0 disables secondary
	// search. Default: 0.
	Max2ndSearch int

	// MinBalanceThreshold is the tree size at or below which rebalancing is
	// never attempted. 0 means 0.1*MaxElements. Default: 0.
	MinBalanceThreshold int

	// MaxNbBalanceTest caps how many candidate split directions the
	// rebalance pass examines, in descending variance order. 0 means
	// max(2, nSpecies/100). Default: 0.
	MaxNbBalanceTest int

	// BalanceProp is the minimum fraction of leaves that must land on each
	// side of the root hyperplane for a split direction to be accepted
	// outright. Must be in (0, 0.5). Default: 0.35.
	BalanceProp float64

	// Clean enables the periodic cleaning sweep that evicts stale leaves.
	// Default: true.
	Clean bool

	// CheckUsed marks a leaf for eviction once its retrieve count exceeds
	// CheckUsed*MaxElements, forcing a fresh integration of heavily reused
	// regions. 0 disables the check. Default: 0.
	CheckUsed float64

	// CheckGrown marks a leaf for eviction once it has been grown more than
	// this many times; repeatedly grown ellipsoids drift away from the
	// linearisation they were built on. 0 disables the check. Default: 0.
	CheckGrown int

	// MRUSize is the capacity of the most-recently-used leaf list scanned
	// as a last retrieve attempt. 0 disables the list. Default: 0.
	MRUSize int

	// MRURetrieve enables scanning the MRU list after primary (and
	// secondary, if enabled) retrieves fail. Ignored when MRUSize is 0.
	// Default: true when MRUSize > 0.
	MRURetrieve bool

	// CheckEntireTreeInterval is the simulation-time interval between full
	// cleaning sweeps, in the same units as SetTime. Default: +Inf (only
	// sweep when a cleaning is explicitly required).
	CheckEntireTreeInterval float64

	// MaxLifeTime evicts a leaf once the simulation time since its creation
	// exceeds this value. Default: +Inf.
	MaxLifeTime float64

	// MaxUseInterval evicts a leaf once the simulation time since its last
	// retrieve exceeds this value. Default: +Inf.
	MaxUseInterval float64

	// Max2ndRetBalance forces a rebalance when the fraction of retrieves
	// answered by secondary search or the MRU list exceeds this value.
	// Must be in (0, 1]. Default: 1.0 (never force).
	Max2ndRetBalance float64

	// MaxDepthFactor triggers a rebalance when the tree depth exceeds
	// MaxDepthFactor*log2(size). Must be >= 1. Default: 2.
	MaxDepthFactor float64

	// Seed seeds the RNG used to shuffle leaves during rebalance. A fixed
	// seed makes the rebuilt topology reproducible. Default: 1.
	Seed int64
}

// DefaultConfig returns a Config with reasonable defaults. Tolerance,
// ScaleFactor and MaxElements must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		BalanceProp:             0.35,
		Clean:                   true,
		MRURetrieve:             true,
		CheckEntireTreeInterval: math.Inf(1),
		MaxLifeTime:             math.Inf(1),
		MaxUseInterval:          math.Inf(1),
		Max2ndRetBalance:        1.0,
		MaxDepthFactor:          2.0,
		Seed:                    1,
	}
}

// validateConfig checks cfg against the composition-space size and resolves
// derived defaults into the returned copy. The caller's struct is not
// modified.
func validateConfig(cfg Config, nSpecies int) (Config, error) {
	nEq := nSpecies + 2

	if cfg.Tolerance <= 0 {
		return cfg, fmt.Errorf("isat: Tolerance must be > 0, got %g", cfg.Tolerance)
	}
	if len(cfg.ScaleFactor) != nEq {
		return cfg, fmt.Errorf("isat: ScaleFactor must have length nSpecies+2 = %d, got %d", nEq, len(cfg.ScaleFactor))
	}
	for i, s := range cfg.ScaleFactor {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return cfg, fmt.Errorf("isat: ScaleFactor[%d] must be finite and > 0, got %g", i, s)
		}
	}
	if cfg.MaxElements < 1 {
		return cfg, fmt.Errorf("isat: MaxElements must be >= 1, got %d", cfg.MaxElements)
	}
	if cfg.Max2ndSearch < 0 {
		return cfg, fmt.Errorf("isat: Max2ndSearch must be >= 0, got %d", cfg.Max2ndSearch)
	}
	if cfg.BalanceProp <= 0 || cfg.BalanceProp >= 0.5 {
		return cfg, fmt.Errorf("isat: BalanceProp must be in (0, 0.5), got %g", cfg.BalanceProp)
	}
	if cfg.CheckUsed < 0 {
		return cfg, fmt.Errorf("isat: CheckUsed must be >= 0 (0 disables), got %g", cfg.CheckUsed)
	}
	if cfg.CheckGrown < 0 {
		return cfg, fmt.Errorf("isat: CheckGrown must be >= 0 (0 disables), got %d", cfg.CheckGrown)
	}
	if cfg.MRUSize < 0 {
		return cfg, fmt.Errorf("isat: MRUSize must be >= 0 (0 disables), got %d", cfg.MRUSize)
	}
	if cfg.Max2ndRetBalance <= 0 || cfg.Max2ndRetBalance > 1 {
		return cfg, fmt.Errorf("isat: Max2ndRetBalance must be in (0, 1], got %g", cfg.Max2ndRetBalance)
	}
	if cfg.MaxDepthFactor < 1 {
		return cfg, fmt.Errorf("isat: MaxDepthFactor must be >= 1, got %g", cfg.MaxDepthFactor)
	}
	if cfg.CheckEntireTreeInterval <= 0 {
		return cfg, fmt.Errorf("isat: CheckEntireTreeInterval must be > 0, got %g", cfg.CheckEntireTreeInterval)
	}
	if cfg.MaxLifeTime <= 0 {
		return cfg, fmt.Errorf("isat: MaxLifeTime must be > 0, got %g", cfg.MaxLifeTime)
	}
	if cfg.MaxUseInterval <= 0 {
		return cfg, fmt.Errorf("isat: MaxUseInterval must be > 0, got %g", cfg.MaxUseInterval)
	}

	// Resolve derived defaults.
	if cfg.MinBalanceThreshold == 0 {
		cfg.MinBalanceThreshold = cfg.MaxElements / 10
	}
	if cfg.MinBalanceThreshold < 0 {
		return cfg, fmt.Errorf("isat: MinBalanceThreshold must be >= 0, got %d", cfg.MinBalanceThreshold)
	}
	if cfg.MaxNbBalanceTest == 0 {
		cfg.MaxNbBalanceTest = nSpecies / 100
		if cfg.MaxNbBalanceTest < 2 {
			cfg.MaxNbBalanceTest = 2
		}
	}
	if cfg.MaxNbBalanceTest < 0 {
		return cfg, fmt.Errorf("isat: MaxNbBalanceTest must be >= 0, got %d", cfg.MaxNbBalanceTest)
	}

	// Scale copy so later caller mutation cannot skew stored ellipsoids.
	sf := make([]float64, nEq)
	copy(sf, cfg.ScaleFactor)
	cfg.ScaleFactor = sf

	return cfg, nil
}

// Stats is a read-only snapshot of table diagnostics.
type Stats struct {
	// Size is the current number of stored leaves.
	Size int

	// Depth is the current depth of the partition tree.
	Depth int

	// TotRetrieve counts queries answered from the table (primary,
	// secondary, or MRU).
	TotRetrieve int64

	// NFailedFirst counts retrieves that missed on the primary search but
	// were answered by secondary search or the MRU list.
	NFailedFirst int64

	// Grows counts EOA grow operations.
	Grows int64

	// Adds counts leaves added to the tree.
	Adds int64

	// Evictions counts leaves removed by the cleaning sweep.
	Evictions int64

	// Rebalances counts completed tree rebalance passes.
	Rebalances int64
}
