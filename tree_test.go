package isat

import (
	"math"
	"math/rand/v2"
	"testing"
)

func testTreeConfig(maxElements int) Config {
	cfg := DefaultConfig()
	cfg.Tolerance = 0.1
	cfg.MaxElements = maxElements
	cfg.Max2ndSearch = 100
	return cfg
}

// newTestTree builds a tree and a set of leaves at the given compositions,
// inserting them in order.
func newTestTree(t *testing.T, cfg Config, phis [][]float64) (*tree, []*ChemPoint) {
	t.Helper()
	tr := newTree(cfg)
	leaves := make([]*ChemPoint, len(phis))
	for i, phi := range phis {
		leaves[i] = testLeaf(t, phi, 0.05, cfg.Tolerance, len(phi)-2)
		tr.insert(leaves[i], nil)
	}
	return tr, leaves
}

// checkTreeInvariants walks the whole tree checking the structural
// invariants: back-pointers, no node with two empty sides, size == number
// of reachable leaves.
func checkTreeInvariants(t *testing.T, tr *tree) {
	t.Helper()
	if tr.root == nil {
		if tr.size != 0 {
			t.Fatalf("nil root with size %d", tr.size)
		}
		return
	}
	count := 0
	var walk func(n *node)
	walk = func(n *node) {
		if n.left == nil && n.right == nil && n.leafLeft == nil && n.leafRight == nil {
			t.Fatal("node with two empty sides")
		}
		if n.left != nil && n.leafLeft != nil {
			t.Fatal("node with both child node and leaf on the left")
		}
		if n.right != nil && n.leafRight != nil {
			t.Fatal("node with both child node and leaf on the right")
		}
		for _, lf := range []*ChemPoint{n.leafLeft, n.leafRight} {
			if lf == nil {
				continue
			}
			count++
			if lf.node != n {
				t.Fatal("leaf back-pointer does not match its node")
			}
		}
		if n.left != nil {
			if n.left.parent != n {
				t.Fatal("left child parent mismatch")
			}
			walk(n.left)
		}
		if n.right != nil {
			if n.right.parent != n {
				t.Fatal("right child parent mismatch")
			}
			walk(n.right)
		}
	}
	walk(tr.root)
	if count != tr.size {
		t.Fatalf("size %d but %d reachable leaves", tr.size, count)
	}
}

func TestTreeInsertAndSearch(t *testing.T) {
	phis := [][]float64{
		{0, 0, 0},
		{10, 0, 0},
		{0, 10, 0},
		{10, 10, 0},
		{-10, -10, 0},
	}
	tr, leaves := newTestTree(t, testTreeConfig(100), phis)

	if tr.size != len(phis) {
		t.Fatalf("size: got %d, want %d", tr.size, len(phis))
	}
	checkTreeInvariants(t, tr)

	// Searching for a stored composition must land on its own leaf.
	for i, phi := range phis {
		if got := tr.search(phi); got != leaves[i] {
			t.Errorf("search(%v) landed on %v", phi, got.phi)
		}
	}
	// A nearby query lands on the geometric neighbor.
	if got := tr.search([]float64{9.5, 0.5, 0}); got != leaves[1] {
		t.Errorf("search near (10,0,0) landed on %v", got.phi)
	}
}

func TestTreeSizeTransitions(t *testing.T) {
	tr := newTree(testTreeConfig(100))
	if got := tr.search([]float64{0, 0, 0}); got != nil {
		t.Fatal("search on empty tree should return nil")
	}

	a := testLeaf(t, []float64{0, 0, 0}, 0.05, 0.1, 1)
	tr.insert(a, nil)
	if tr.size != 1 || tr.root.leafLeft != a || tr.root.v != nil {
		t.Fatal("size-1 tree should hold the leaf in a placeholder root")
	}
	if got := tr.search([]float64{99, 99, 99}); got != a {
		t.Fatal("size-1 search must return the only leaf")
	}

	b := testLeaf(t, []float64{10, 0, 0}, 0.05, 0.1, 1)
	tr.insert(b, nil)
	if tr.size != 2 || tr.root.leafLeft != a || tr.root.leafRight != b {
		t.Fatal("size-2 tree should be a real node holding both leaves")
	}
	if tr.root.v == nil {
		t.Fatal("size-2 root must carry a hyperplane")
	}
	checkTreeInvariants(t, tr)
}

func TestTreeDeleteLeaf(t *testing.T) {
	phis := [][]float64{
		{0, 0, 0}, {10, 0, 0}, {0, 10, 0}, {10, 10, 0},
	}
	tr, leaves := newTestTree(t, testTreeConfig(100), phis)

	// Delete a leaf whose sibling is a leaf.
	tr.deleteLeaf(leaves[3])
	if tr.size != 3 {
		t.Fatalf("size after delete: got %d, want 3", tr.size)
	}
	checkTreeInvariants(t, tr)

	// Delete down to one.
	tr.deleteLeaf(leaves[1])
	checkTreeInvariants(t, tr)
	tr.deleteLeaf(leaves[2])
	checkTreeInvariants(t, tr)
	if tr.size != 1 {
		t.Fatalf("size: got %d, want 1", tr.size)
	}
	if tr.root.leafLeft != leaves[0] {
		t.Fatal("last remaining leaf should sit in the placeholder root")
	}

	tr.deleteLeaf(leaves[0])
	if tr.size != 0 || tr.root != nil {
		t.Fatal("deleting the last leaf should empty the tree")
	}
}

func TestTreeDeleteTransplantsNodeSibling(t *testing.T) {
	// Build a shape where the deleted leaf's sibling is a whole subtree.
	phis := [][]float64{
		{0, 0, 0}, {100, 0, 0}, {101, 0, 0}, {102, 0, 0},
	}
	tr, leaves := newTestTree(t, testTreeConfig(100), phis)
	checkTreeInvariants(t, tr)

	// leaves[0] sits alone on the far side; its sibling is the subtree
	// holding the three clustered leaves.
	tr.deleteLeaf(leaves[0])
	if tr.size != 3 {
		t.Fatalf("size: got %d, want 3", tr.size)
	}
	checkTreeInvariants(t, tr)
	for _, lf := range leaves[1:] {
		if got := tr.search(lf.phi); got != lf {
			t.Errorf("leaf %v unreachable after transplant", lf.phi)
		}
	}
}

func TestTreeInOrderTraversal(t *testing.T) {
	phis := [][]float64{
		{0, 0, 0}, {10, 0, 0}, {-10, 0, 0}, {5, 5, 0}, {-5, -5, 0},
	}
	tr, leaves := newTestTree(t, testTreeConfig(100), phis)

	got := tr.leaves()
	if len(got) != len(leaves) {
		t.Fatalf("leaves(): got %d, want %d", len(got), len(leaves))
	}
	seen := make(map[*ChemPoint]bool)
	for _, lf := range got {
		if seen[lf] {
			t.Fatal("leaf visited twice in in-order traversal")
		}
		seen[lf] = true
	}
	for _, lf := range leaves {
		if !seen[lf] {
			t.Errorf("leaf %v missing from traversal", lf.phi)
		}
	}
}

func TestTreeDepth(t *testing.T) {
	tr := newTree(testTreeConfig(100))
	if tr.depth() != 0 {
		t.Errorf("empty depth: got %d, want 0", tr.depth())
	}
	tr.insert(testLeaf(t, []float64{0, 0, 0}, 0.05, 0.1, 1), nil)
	if tr.depth() != 1 {
		t.Errorf("size-1 depth: got %d, want 1", tr.depth())
	}
	tr.insert(testLeaf(t, []float64{1, 0, 0}, 0.05, 0.1, 1), nil)
	if tr.depth() != 1 {
		t.Errorf("size-2 depth: got %d, want 1", tr.depth())
	}
	tr.insert(testLeaf(t, []float64{2, 0, 0}, 0.05, 0.1, 1), nil)
	if tr.depth() != 2 {
		t.Errorf("size-3 depth: got %d, want 2", tr.depth())
	}
}

func TestTreeClear(t *testing.T) {
	phis := [][]float64{{0, 0, 0}, {10, 0, 0}, {0, 10, 0}}
	tr, leaves := newTestTree(t, testTreeConfig(100), phis)

	tr.clear()
	if tr.size != 0 || tr.root != nil {
		t.Fatal("clear must empty the tree")
	}
	for _, lf := range leaves {
		if lf.node != nil {
			t.Error("clear must sever leaf back-pointers")
		}
	}

	// The tree keeps working after clear.
	tr.insert(testLeaf(t, []float64{1, 1, 1}, 0.05, 0.1, 1), nil)
	if tr.size != 1 {
		t.Fatal("insert after clear failed")
	}
	checkTreeInvariants(t, tr)
}

func TestSecondarySearchFindsSiblingEOA(t *testing.T) {
	cfg := testTreeConfig(100)
	tr := newTree(cfg)

	// Wide EOA at the origin (radius 2), narrow EOA at (1,0,0)
	// (radius 0.1).
	wide := testLeaf(t, []float64{0, 0, 0}, 0.05, 0.1, 1)
	narrow := testLeaf(t, []float64{1, 0, 0}, 1.0, 0.1, 1)
	tr.insert(wide, nil)
	tr.insert(narrow, nil)

	// The hyperplane crosses x = 0.5; phiq is classified toward the
	// narrow leaf but only the wide EOA contains it.
	phiq := []float64{0.6, 0.5, 0}
	c0 := tr.search(phiq)
	if c0 != narrow {
		t.Fatalf("setup: primary search should land on the narrow leaf, got %v", c0.phi)
	}
	if c0.InEOA(phiq) {
		t.Fatal("setup: narrow EOA should not contain phiq")
	}

	found, ok := tr.secondarySearch(phiq, c0)
	if !ok || found != wide {
		t.Fatalf("secondary search: got (%v, %v), want the wide leaf", found, ok)
	}
	if tr.n2ndSearch < 1 {
		t.Error("secondary search should have tested at least one EOA")
	}
}

func TestSecondarySearchRespectsBudget(t *testing.T) {
	cfg := testTreeConfig(100)
	cfg.Max2ndSearch = 1
	tr := newTree(cfg)

	// Eight narrow leaves; the query is outside every EOA, so the search
	// can only spend its budget.
	for i := 0; i < 8; i++ {
		tr.insert(testLeaf(t, []float64{float64(10 + i), 0, 0}, 1.0, 0.1, 1), nil)
	}

	phiq := []float64{14.5, 3, 0}
	c0 := tr.search(phiq)

	if _, ok := tr.secondarySearch(phiq, c0); ok {
		t.Fatal("no EOA covers phiq, secondary search cannot succeed")
	}
	if tr.n2ndSearch > 1 {
		t.Errorf("budget exceeded: %d EOA tests with Max2ndSearch=1", tr.n2ndSearch)
	}

	// The counter is reset on each top-level call, so a repeat search
	// gets a fresh budget rather than accumulating.
	if _, ok := tr.secondarySearch(phiq, c0); ok {
		t.Fatal("repeat search cannot succeed either")
	}
	if tr.n2ndSearch > 1 {
		t.Errorf("repeat search exceeded budget: %d EOA tests", tr.n2ndSearch)
	}
}

func TestSecondarySearchDisabled(t *testing.T) {
	cfg := testTreeConfig(100)
	cfg.Max2ndSearch = 0
	tr, leaves := newTestTree(t, cfg, [][]float64{{0, 0, 0}, {10, 0, 0}})

	if _, ok := tr.secondarySearch([]float64{0.1, 0, 0}, leaves[1]); ok {
		t.Error("secondary search must be disabled with Max2ndSearch=0")
	}
}

func TestBalanceConservesLeavesAndBoundsDepth(t *testing.T) {
	cfg := testTreeConfig(200)
	cfg.MinBalanceThreshold = 10
	rng := rand.New(rand.NewPCG(42, 43))

	phis := make([][]float64, 100)
	for i := range phis {
		phis[i] = []float64{
			rng.Float64()*2 - 1,
			rng.Float64()*2 - 1,
			rng.Float64()*2 - 1,
		}
	}
	tr, leaves := newTestTree(t, cfg, phis)
	checkTreeInvariants(t, tr)

	before := make(map[*ChemPoint][]float64, len(leaves))
	ltBefore := make(map[*ChemPoint]float64, len(leaves))
	for _, lf := range leaves {
		before[lf] = append([]float64(nil), lf.phi...)
		ltBefore[lf] = lf.lt.At(0, 0)
	}

	if !tr.balance() {
		t.Fatal("balance refused to run")
	}
	checkTreeInvariants(t, tr)

	if tr.size != 100 {
		t.Fatalf("size after balance: got %d, want 100", tr.size)
	}
	after := tr.leaves()
	if len(after) != 100 {
		t.Fatalf("leaves after balance: got %d, want 100", len(after))
	}
	for _, lf := range after {
		phi, ok := before[lf]
		if !ok {
			t.Fatal("balance invented a leaf")
		}
		for i := range phi {
			if phi[i] != lf.phi[i] {
				t.Fatal("balance modified a leaf composition")
			}
		}
		if lf.lt.At(0, 0) != ltBefore[lf] {
			t.Fatal("balance modified a leaf EOA factor")
		}
	}

	// ceil(2*log2(100)) = 14. The rebuilt depth is logarithmic in
	// expectation; an unlucky permutation can exceed the bound, so allow
	// a few reshuffles before declaring failure.
	maxDepth := int(math.Ceil(2 * math.Log2(100)))
	d := tr.depth()
	for try := 0; d > maxDepth && try < 5; try++ {
		tr.balance()
		d = tr.depth()
	}
	if d > maxDepth {
		t.Errorf("depth after balance: got %d, want <= %d", d, maxDepth)
	}
}

func TestBalanceBelowThreshold(t *testing.T) {
	cfg := testTreeConfig(200)
	cfg.MinBalanceThreshold = 50
	tr, _ := newTestTree(t, cfg, [][]float64{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}})
	if tr.balance() {
		t.Error("balance must refuse below MinBalanceThreshold")
	}
}

func TestBalanceCoincidentLeaves(t *testing.T) {
	cfg := testTreeConfig(200)
	cfg.MinBalanceThreshold = 1
	phi := []float64{1, 2, 3}
	tr := newTree(cfg)
	for i := 0; i < 4; i++ {
		tr.insert(testLeaf(t, phi, 0.05, 0.1, 1), nil)
	}
	// Identical compositions leave no split direction; balance must
	// decline rather than build a root from one leaf twice.
	if tr.balance() {
		t.Error("balance should decline on coincident leaves")
	}
	checkTreeInvariants(t, tr)
}
