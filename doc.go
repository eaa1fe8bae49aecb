// Package isat implements an in-situ adaptive tabulation (ISAT) cache for
// expensive vector-valued functions, following Pope's algorithm for
// combustion chemistry.
//
// ISAT memoises the result of a stiff chemistry integration R(phi) together
// with its Jacobian A and an ellipsoid of accuracy (EOA) around each stored
// composition. Queries that fall inside a stored EOA are answered by linear
// interpolation within a guaranteed error tolerance; queries that fall
// outside trigger a direct integration, after which the cache either grows
// an existing ellipsoid or stores a new point.
//
// Basic usage:
//
//	cfg := isat.DefaultConfig()
//	cfg.Tolerance = 1e-4
//	cfg.ScaleFactor = scale // one entry per species, plus T and p
//	cfg.MaxElements = 10000
//	table, err := isat.New(nSpecies, solver, cfg)
//	// per cell, per timestep:
//	table.SetTime(t)
//	rphi, err := table.Query(phi)
//
// The solver is any ChemistrySolver; it is called only on a cache miss and
// must return the mapped composition and its Jacobian.
//
// Stored points are indexed by a binary space partition tree whose internal
// nodes carry separating hyperplanes derived from the leaf ellipsoids.
// The tree supports a bounded secondary search and an MRU fallback for
// queries whose primary descent lands in the wrong region, and is
// periodically cleaned of stale leaves and rebalanced to keep its depth
// logarithmic.
//
// A Table is not safe for concurrent use. The intended deployment is one
// table per worker thread, matching the per-cell access pattern of a
// reacting-flow solver.
package isat
