package arc

import "github.com/upstat-io/sigil-lang-sub022/internal/types"

// PairResetReuse rewrites drops of provably-unique cells into
// Reset/Reuse pairs, eliding the paired allocation. A candidate drop is
// an RcDec of a variable whose derived ownership is Fresh (refcount
// statically 1, so the drop deallocates); a candidate target is a later
// Construct whose type's shape key matches the dropped variable's type.
//
// Two placements are recognized:
//
//   - intra-block: the Construct follows the drop in the same block;
//   - cross-block: the Construct lives in a block dominated by the drop
//     block, and every path leaving the drop reaches a matching
//     Construct before returning (so the reuse token is consumed on all
//     paths).
//
// The RcDec becomes Reset yielding a fresh token; the Construct becomes
// Reuse consuming it. Field projections of the dying cell were already
// emitted before the drop, so backends read the old fields before the
// in-place overwrite.
//
// Dom and ref must describe f's current (post RC insertion) form.
func PairResetReuse(f *Func, cls Classifier, derived map[ID]Derived, dom *DomTree, ref *Refined) {
	for _, bid := range ReversePostOrder(f) {
		b := f.Blocks[bid]
		for i := 0; i < len(b.Instrs); i++ {
			in := &b.Instrs[i]
			if in.Op != OpRcDec {
				continue
			}
			v := in.Src
			d, ok := derived[v]
			if !ok || d.Kind != DerivedFresh {
				continue
			}
			shape := cls.ShapeKey(f.TypeOf(v))
			if shape == NoShape {
				continue
			}

			if cb, ci, ok := findReuseTarget(f, cls, dom, ref, b, i, v, shape); ok {
				token := f.NewVar(types.NoIdx)
				b.Instrs[i] = Instr{Op: OpReset, Dst: token, Src: v}
				target := &f.Blocks[cb].Instrs[ci]
				*target = Instr{
					Op:    OpReuse,
					Dst:   target.Dst,
					Type:  target.Type,
					Token: token,
					Ctor:  target.Ctor,
					Tag:   target.Tag,
					Args:  target.Args,
				}
			}
		}
	}
}

// findReuseTarget locates the Construct that can reuse the cell dropped
// at b.Instrs[dropIdx]. It prefers an intra-block target, then searches
// the blocks b dominates.
func findReuseTarget(f *Func, cls Classifier, dom *DomTree, ref *Refined, b *Block, dropIdx int, v ID, shape ShapeKey) (block ID, instr int, ok bool) {
	// Intra-block: first matching Construct after the drop, with no
	// intervening observation of the dropped value.
	if idx, ok := matchingConstruct(f, cls, b, dropIdx+1, v, shape); ok {
		return b.ID, idx, true
	}
	if usedFrom(b, dropIdx+1, v) {
		return NoID, 0, false
	}

	// Cross-block: the dropped value must never be observed again, and
	// every path out of b must hit a matching Construct before any
	// return, otherwise the token would leak on the paths that miss it.
	if ref.LiveForUse[b.ID].has(v) {
		return NoID, 0, false
	}
	for _, cid := range dom.DominatedPreorder(b.ID) {
		if cid == b.ID {
			continue
		}
		c := f.Blocks[cid]
		idx, found := matchingConstruct(f, cls, c, 0, v, shape)
		if !found {
			continue
		}
		if !allPathsReach(f, b.ID, cid) {
			continue
		}
		return cid, idx, true
	}
	return NoID, 0, false
}

// matchingConstruct scans b.Instrs[from:] for the first Construct whose
// shape matches, stopping early if the dropped value is observed.
func matchingConstruct(f *Func, cls Classifier, b *Block, from int, v ID, shape ShapeKey) (int, bool) {
	for j := from; j < len(b.Instrs); j++ {
		in := &b.Instrs[j]
		observed := false
		in.Uses(func(u ID) {
			if u == v {
				observed = true
			}
		})
		if observed {
			return 0, false
		}
		if in.Op == OpConstruct && cls.ShapeKey(in.Type) == shape {
			return j, true
		}
	}
	return 0, false
}

// usedFrom reports whether v is observed by b.Instrs[from:] or b's
// terminator.
func usedFrom(b *Block, from int, v ID) bool {
	used := false
	see := func(u ID) {
		if u == v {
			used = true
		}
	}
	for j := from; j < len(b.Instrs); j++ {
		b.Instrs[j].Uses(see)
	}
	b.Term.Uses(see)
	return used
}

// allPathsReach reports whether every execution path starting at the
// successors of from passes through target before reaching a return.
// Cycles that bypass target are treated as failing paths.
func allPathsReach(f *Func, from, target ID) bool {
	// 0 unvisited, 1 in progress, 2 reaches, 3 fails
	state := make([]int8, len(f.Blocks))
	var walk func(ID) bool
	walk = func(b ID) bool {
		if b == target {
			return true
		}
		switch state[b] {
		case 1:
			return false
		case 2:
			return true
		case 3:
			return false
		}
		state[b] = 1
		term := &f.Blocks[b].Term
		if term.Kind == TermReturn || len(term.Edges) == 0 {
			state[b] = 3
			return false
		}
		for _, s := range term.Succs() {
			if !walk(s) {
				state[b] = 3
				return false
			}
		}
		state[b] = 2
		return true
	}
	for _, s := range f.Blocks[from].Term.Succs() {
		if !walk(s) {
			return false
		}
	}
	return len(f.Blocks[from].Term.Succs()) > 0
}
