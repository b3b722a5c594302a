package arc

// DomTree holds the immediate-dominator relation over a function's
// reachable blocks. Unreachable blocks are excluded: they have no idom
// and dominate nothing.
type DomTree struct {
	idom      []ID // per block; NoID for entry and unreachable blocks
	reachable []bool
	rpo       []ID
	children  [][]ID
}

// ReversePostOrder returns the reachable blocks of f in reverse
// post-order, starting from the entry block.
func ReversePostOrder(f *Func) []ID {
	visited := make([]bool, len(f.Blocks))
	var order []ID

	var dfs func(b ID)
	dfs = func(b ID) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, s := range f.Blocks[b].Term.Succs() {
			dfs(s)
		}
		order = append(order, b)
	}
	dfs(f.Entry)

	// Reverse the post-order to get RPO.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// BuildDomTree computes the immediate dominator tree for f using
// Cooper, Harvey, and Kennedy's "A Simple, Fast Dominance Algorithm".
func BuildDomTree(f *Func) *DomTree {
	t := &DomTree{
		idom:      make([]ID, len(f.Blocks)),
		reachable: make([]bool, len(f.Blocks)),
		children:  make([][]ID, len(f.Blocks)),
		rpo:       ReversePostOrder(f),
	}
	for i := range t.idom {
		t.idom[i] = NoID
	}
	if len(t.rpo) == 0 {
		return t
	}

	rpoNum := make([]int, len(f.Blocks))
	for i, b := range t.rpo {
		rpoNum[b] = i
		t.reachable[b] = true
	}

	preds := predecessors(f)

	// intersect finds the closest common dominator.
	intersect := func(b1, b2 ID) ID {
		for b1 != b2 {
			for rpoNum[b1] > rpoNum[b2] {
				b1 = t.idom[b1]
			}
			for rpoNum[b2] > rpoNum[b1] {
				b2 = t.idom[b2]
			}
		}
		return b1
	}

	// Entry dominates itself (sentinel during iteration).
	entry := t.rpo[0]
	t.idom[entry] = entry

	changed := true
	for changed {
		changed = false
		for _, b := range t.rpo[1:] { // skip entry
			var newIdom = NoID
			for _, p := range preds[b] {
				if t.reachable[p] && t.idom[p] != NoID {
					newIdom = p
					break
				}
			}
			if newIdom == NoID {
				continue
			}
			for _, p := range preds[b] {
				if p == newIdom || !t.reachable[p] {
					continue
				}
				if t.idom[p] != NoID {
					newIdom = intersect(p, newIdom)
				}
			}
			if t.idom[b] != newIdom {
				t.idom[b] = newIdom
				changed = true
			}
		}
	}

	// Fix entry: no idom (was sentinel).
	t.idom[entry] = NoID

	for _, b := range t.rpo {
		if t.idom[b] != NoID {
			t.children[t.idom[b]] = append(t.children[t.idom[b]], b)
		}
	}
	return t
}

// Idom returns the immediate dominator of b. The second result is
// false for the entry block and unreachable blocks.
func (t *DomTree) Idom(b ID) (ID, bool) {
	if int(b) >= len(t.idom) || t.idom[b] == NoID {
		return NoID, false
	}
	return t.idom[b], true
}

// Reachable reports whether b is reachable from the entry block.
func (t *DomTree) Reachable(b ID) bool {
	return int(b) < len(t.reachable) && t.reachable[b]
}

// Dominates reports whether a dominates b. Every reachable block
// dominates itself; unreachable blocks dominate nothing and are
// dominated by nothing.
func (t *DomTree) Dominates(a, b ID) bool {
	if !t.Reachable(a) || !t.Reachable(b) {
		return false
	}
	for {
		if a == b {
			return true
		}
		next := t.idom[b]
		if next == NoID {
			return false
		}
		b = next
	}
}

// DominatedPreorder returns b followed by every block b strictly
// dominates, in dominator-tree preorder.
func (t *DomTree) DominatedPreorder(b ID) []ID {
	if !t.Reachable(b) {
		return nil
	}
	var out []ID
	var walk func(ID)
	walk = func(x ID) {
		out = append(out, x)
		for _, c := range t.children[x] {
			walk(c)
		}
	}
	walk(b)
	return out
}
