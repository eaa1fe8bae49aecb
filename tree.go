package isat

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// tree is the binary space partition over stored leaves. Internal nodes
// carry separating hyperplanes; every node side holds either a child node
// or a leaf. With a single stored point the root is a placeholder node
// keeping that leaf in its left slot and no hyperplane.
type tree struct {
	root *node
	size int

	maxElements  int
	max2ndSearch int

	// n2ndSearch counts leaf EOA tests within one top-level secondary
	// search; inSubTree only increments it, secondarySearch resets it.
	n2ndSearch int

	minBalanceThreshold int
	maxNbBalanceTest    int
	balanceProp         float64

	rng *rand.Rand
}

func newTree(cfg Config) *tree {
	seed := uint64(cfg.Seed)
	return &tree{
		maxElements:         cfg.MaxElements,
		max2ndSearch:        cfg.Max2ndSearch,
		minBalanceThreshold: cfg.MinBalanceThreshold,
		maxNbBalanceTest:    cfg.MaxNbBalanceTest,
		balanceProp:         cfg.BalanceProp,
		rng:                 rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (t *tree) isFull() bool { return t.size >= t.maxElements }

// search descends from the root along the hyperplanes and returns the leaf
// in whose region phiq falls, or nil for an empty tree. It does not test
// EOA containment; the result is only the best geometric candidate.
func (t *tree) search(phiq []float64) *ChemPoint {
	switch {
	case t.size == 0:
		return nil
	case t.size == 1:
		return t.root.leafLeft
	}

	n := t.root
	for {
		if n.vPhi(phiq) > n.a {
			if n.right != nil {
				n = n.right
				continue
			}
			return n.leafRight
		}
		if n.left != nil {
			n = n.left
			continue
		}
		return n.leafLeft
	}
}

// insert splices newLeaf into the tree next to phi0, the leaf whose region
// contains newLeaf's composition. A nil phi0 triggers a primary search.
func (t *tree) insert(newLeaf, phi0 *ChemPoint) {
	switch {
	case t.size == 0:
		t.root = &node{leafLeft: newLeaf}
		newLeaf.node = t.root

	case t.size == 1:
		existing := t.root.leafLeft
		t.root = newNode(existing, newLeaf, nil)
		existing.node = t.root
		newLeaf.node = t.root

	default:
		if phi0 == nil {
			phi0 = t.search(newLeaf.phi)
		}
		parent := phi0.node
		n := newNode(phi0, newLeaf, parent)
		t.replaceLeafSlot(phi0, n)
		phi0.node = n
		newLeaf.node = n
	}
	t.size++
}

// replaceLeafSlot makes phi0's parent point at n in the slot that held
// phi0 as a leaf.
func (t *tree) replaceLeafSlot(phi0 *ChemPoint, n *node) {
	parent := phi0.node
	if phi0 == parent.leafRight {
		parent.leafRight = nil
		parent.right = n
	} else if phi0 == parent.leafLeft {
		parent.leafLeft = nil
		parent.left = n
	} else {
		panic("isat: leaf back-pointer does not match its node")
	}
}

// deleteLeaf removes x and the node that held it, promoting x's sibling
// into the grandparent slot. The tree never keeps a node with two empty
// sides.
func (t *tree) deleteLeaf(x *ChemPoint) {
	switch {
	case t.size == 1:
		t.root = nil
		x.node = nil

	case t.size > 1:
		z := x.node
		if sib := t.leafSibling(x); sib != nil {
			switch {
			case z.parent == nil:
				// z was root; shrink to the single-leaf placeholder.
				t.root = &node{leafLeft: sib}
				sib.node = t.root
			case z == z.parent.left:
				z.parent.leafLeft = sib
				z.parent.left = nil
				sib.node = z.parent
			default:
				z.parent.leafRight = sib
				z.parent.right = nil
				sib.node = z.parent
			}
		} else {
			n := t.nodeSiblingOfLeaf(x)
			if n == nil {
				panic("isat: leaf has neither leaf nor node sibling")
			}
			t.transplant(z, n)
		}
		x.node = nil
	}
	t.size--
}

// transplant replaces subtree u with subtree v in u's parent.
func (t *tree) transplant(u, v *node) {
	switch {
	case u.parent == nil:
		t.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

// leafSibling returns the leaf sharing x's node, or nil when the other
// side is a subtree.
func (t *tree) leafSibling(x *ChemPoint) *ChemPoint {
	if t.size <= 1 {
		return nil
	}
	y := x.node
	if x == y.leafLeft {
		return y.leafRight
	}
	return y.leafLeft
}

// nodeSiblingOfLeaf returns the subtree sharing x's node, or nil when the
// other side is a leaf.
func (t *tree) nodeSiblingOfLeaf(x *ChemPoint) *node {
	if t.size <= 1 {
		return nil
	}
	y := x.node
	if x == y.leafLeft {
		return y.right
	}
	return y.left
}

// leafSiblingOfNode returns the leaf in y's parent's other slot, or nil.
func (t *tree) leafSiblingOfNode(y *node) *ChemPoint {
	if y.parent == nil {
		return nil
	}
	if y == y.parent.left {
		return y.parent.leafRight
	}
	return y.parent.leafLeft
}

// nodeSiblingOfNode returns the subtree in y's parent's other slot, or nil.
func (t *tree) nodeSiblingOfNode(y *node) *node {
	if y.parent == nil {
		return nil
	}
	if y == y.parent.left {
		return y.parent.right
	}
	return y.parent.left
}

// secondarySearch walks upward from the failed candidate x, testing the
// EOA of each ancestor's other side, descending into sibling subtrees with
// inSubTree. At most max2ndSearch leaf EOA tests are spent; the counter is
// reset here and only here.
func (t *tree) secondarySearch(phiq []float64, x *ChemPoint) (*ChemPoint, bool) {
	t.n2ndSearch = 0
	if t.max2ndSearch <= 0 || t.size <= 1 {
		return nil, false
	}

	if xs := t.leafSibling(x); xs != nil {
		t.n2ndSearch++
		if xs.InEOA(phiq) {
			return xs, true
		}
	} else if found, ok := t.inSubTree(phiq, t.nodeSiblingOfLeaf(x)); ok {
		return found, true
	}

	for y := x.node; y.parent != nil && t.n2ndSearch < t.max2ndSearch; y = y.parent {
		if xs := t.leafSiblingOfNode(y); xs != nil {
			t.n2ndSearch++
			if xs.InEOA(phiq) {
				return xs, true
			}
		} else if found, ok := t.inSubTree(phiq, t.nodeSiblingOfNode(y)); ok {
			return found, true
		}
	}
	return nil, false
}

// inSubTree searches the subtree rooted at y for a covering EOA, walking
// the hyperplanes toward the more promising side first but visiting the
// other side when that fails, within the remaining n2ndSearch budget.
func (t *tree) inSubTree(phiq []float64, y *node) (*ChemPoint, bool) {
	if y == nil || t.n2ndSearch >= t.max2ndSearch {
		return nil, false
	}

	if y.vPhi(phiq) <= y.a {
		if y.left == nil {
			t.n2ndSearch++
			if x := y.leafLeft; x.InEOA(phiq) {
				return x, true
			}
		} else if x, ok := t.inSubTree(phiq, y.left); ok {
			return x, true
		}

		if t.n2ndSearch < t.max2ndSearch && y.right == nil {
			t.n2ndSearch++
			x := y.leafRight
			return x, x.InEOA(phiq)
		}
		return t.inSubTree(phiq, y.right)
	}

	if y.right == nil {
		t.n2ndSearch++
		if x := y.leafRight; x.InEOA(phiq) {
			return x, true
		}
	} else if x, ok := t.inSubTree(phiq, y.right); ok {
		return x, true
	}

	if t.n2ndSearch < t.max2ndSearch && y.left == nil {
		t.n2ndSearch++
		x := y.leafLeft
		return x, x.InEOA(phiq)
	}
	return t.inSubTree(phiq, y.left)
}

// treeMin returns the leftmost leaf under subTreeRoot.
func treeMin(subTreeRoot *node) *ChemPoint {
	if subTreeRoot == nil {
		return nil
	}
	for subTreeRoot.left != nil {
		subTreeRoot = subTreeRoot.left
	}
	return subTreeRoot.leafLeft
}

// treeSuccessor returns the next leaf after x in an in-order walk, or nil
// when x is the rightmost leaf.
func (t *tree) treeSuccessor(x *ChemPoint) *ChemPoint {
	if t.size <= 1 {
		return nil
	}
	if x == x.node.leafLeft {
		if x.node.right == nil {
			return x.node.leafRight
		}
		return treeMin(x.node.right)
	}
	for y := x.node; y.parent != nil; y = y.parent {
		if y == y.parent.left {
			if y.parent.right == nil {
				return y.parent.leafRight
			}
			return treeMin(y.parent.right)
		}
	}
	// Came up from the right everywhere: x was the tree maximum.
	return nil
}

// leaves collects every leaf by in-order traversal.
func (t *tree) leaves() []*ChemPoint {
	out := make([]*ChemPoint, 0, t.size)
	for x := treeMin(t.root); x != nil; x = t.treeSuccessor(x) {
		out = append(out, x)
	}
	return out
}

// depth returns 1 + the longer child depth, 0 for an empty tree. A node
// whose sides are both leaves has depth 1.
func (t *tree) depth() int { return depthOf(t.root) }

func depthOf(n *node) int {
	if n == nil {
		return 0
	}
	l, r := depthOf(n.left), depthOf(n.right)
	if l > r {
		return 1 + l
	}
	return 1 + r
}

// clear drops every node and leaf, severing back-pointers so nothing
// retains the old topology, and resets size to 0.
func (t *tree) clear() {
	clearSubTree(t.root)
	t.root = nil
	t.size = 0
}

func clearSubTree(n *node) {
	if n == nil {
		return
	}
	if n.leafLeft != nil {
		n.leafLeft.node = nil
	}
	if n.leafRight != nil {
		n.leafRight.node = nil
	}
	clearSubTree(n.left)
	clearSubTree(n.right)
	n.left, n.right, n.parent = nil, nil, nil
	n.leafLeft, n.leafRight = nil, nil
}

// balance reshapes the tree: pick the composition direction that best
// splits the leaves around their mean, root the new tree on the two
// extreme leaves along it, and re-insert the rest in random order, which
// keeps the expected depth O(log n). Sequential re-insertion of sorted
// leaves would re-create a degenerate chain, so the shuffle is not
// optional. Returns false when the tree is too small to bother.
func (t *tree) balance() bool {
	if t.size <= t.minBalanceThreshold || t.size < 2 {
		return false
	}

	leaves := t.leaves()
	nEq := len(leaves[0].phi)

	// Per-dimension mean and variance over the stored compositions.
	mean := make([]float64, nEq)
	variance := make([]float64, nEq)
	col := make([]float64, len(leaves))
	for d := 0; d < nEq; d++ {
		for i, lf := range leaves {
			col[i] = lf.phi[d]
		}
		mean[d], variance[d] = stat.MeanVariance(col, nil)
	}

	// Directions in descending variance order.
	order := make([]int, nEq)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return variance[order[i]] > variance[order[j]]
	})

	// Probe the top-variance directions for an acceptable split ratio,
	// remembering the most balanced one seen as the fallback.
	sz := float64(t.size)
	maxDir := -1
	bestBalance := sz
	nbLeft := 0
	for nbTests := 0; nbTests < t.maxNbBalanceTest && nbTests < nEq-1; nbTests++ {
		if nbTests > 0 &&
			float64(nbLeft) >= t.balanceProp*sz &&
			float64(nbLeft) <= (1-t.balanceProp)*sz {
			break
		}
		curDir := order[nbTests]
		nbLeft = 0
		for _, lf := range leaves {
			if lf.phi[curDir] < mean[curDir] {
				nbLeft++
			}
		}
		if b := math.Abs(float64(nbLeft) - 0.5*sz); b < bestBalance {
			bestBalance = b
			maxDir = curDir
		}
	}
	if maxDir < 0 {
		maxDir = order[0]
	}

	// The two extreme leaves along the chosen direction become the
	// children of the new root.
	minID, maxID := 0, 0
	for j, lf := range leaves {
		if lf.phi[maxDir] < leaves[minID].phi[maxDir] {
			minID = j
		}
		if lf.phi[maxDir] > leaves[maxID].phi[maxDir] {
			maxID = j
		}
	}
	if minID == maxID {
		// All leaves coincide along maxDir; a rebuild cannot help.
		return false
	}
	minRef, maxRef := leaves[minID], leaves[maxID]

	t.root = newNode(minRef, maxRef, nil)
	minRef.node = t.root
	maxRef.node = t.root

	// Re-insert the remaining leaves in random order.
	idx := make([]int, len(leaves))
	for i := range idx {
		idx[i] = i
	}
	t.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	for _, j := range idx {
		if j == minID || j == maxID {
			continue
		}
		lf := leaves[j]
		phi0 := t.search(lf.phi)
		n := newNode(phi0, lf, phi0.node)
		t.replaceLeafSlot(phi0, n)
		phi0.node = n
		lf.node = n
	}
	return true
}
