package arc

import (
	"fmt"
	"sort"
)

// InsertRC rewrites f's instruction stream with explicit RcInc/RcDec
// placements, using the annotated signatures in funcs, the per-variable
// derived ownership, and refined liveness. The rules:
//
//   - before an instruction that takes ownership of an argument (call
//     argument bound to an Owned parameter, constructor field, closure
//     capture), emit RcInc unless this is the argument's final use, in
//     which case the reference transfers;
//   - at a variable's refined last use, if the function owns a
//     reference (derived Owned or Fresh) and the use did not transfer
//     it, emit RcDec immediately after;
//   - results and parameters that are never used are dropped at their
//     definition point;
//   - a value that dies on one CFG edge but stays live on a sibling
//     edge is dropped on the dying edge, splitting the edge with a
//     trampoline block when the destination has other predecessors.
//
// Liveness is tracked per ownership root: a Project/Unpack result
// borrows its source cell, so any use of the projection extends the
// source's effective lifetime, and the source is dropped only after its
// last borrower dies.
//
// An ownership transfer that cannot be attributed to a classified
// variable indicates malformed SSA upstream and aborts with an error.
func InsertRC(f *Func, cls Classifier, funcs map[string]*Func, derived map[ID]Derived, ref *Refined) error {
	tracked := func(v ID) bool {
		return v != NoID && cls.IsRefcounted(f.TypeOf(v))
	}

	// rootOf follows the borrowed-from chain to the owning cell. A
	// borrowed parameter roots itself.
	rootOf := func(v ID) ID {
		for {
			d, ok := derived[v]
			if !ok || d.Kind != DerivedBorrowedFrom || d.Source == v {
				return v
			}
			v = d.Source
		}
	}
	// ownsRoot reports whether the function holds a droppable
	// reference for root r (borrowed parameters are not ours to drop).
	ownsRoot := func(r ID) bool {
		d, ok := derived[r]
		return ok && (d.Kind == DerivedOwned || d.Kind == DerivedFresh)
	}

	reach := make([]bool, len(f.Blocks))
	for _, b := range ReversePostOrder(f) {
		reach[b] = true
	}

	// Verify every tracked use is classified before mutating anything.
	for _, b := range f.Blocks {
		if !reach[b.ID] {
			continue
		}
		var bad error
		check := func(v ID) {
			if tracked(v) {
				if _, ok := derived[v]; !ok && bad == nil {
					bad = fmt.Errorf("arc: %s: b%d uses unclassified variable v%d", f.Name, b.ID, v)
				}
			}
		}
		for i := range b.Instrs {
			b.Instrs[i].Uses(check)
		}
		b.Term.Uses(check)
		if bad != nil {
			return bad
		}
	}

	// Root-extended liveness: project the per-variable sets down to
	// ownership roots.
	n := len(f.Blocks)
	extIn := make([]VarSet, n)
	extOut := make([]VarSet, n)
	extLast := make([]map[ID]int, n)
	for _, b := range f.Blocks {
		in, out := make(VarSet), make(VarSet)
		for v := range ref.Basic.LiveIn[b.ID] {
			in.add(rootOf(v))
		}
		for v := range ref.Basic.LiveOut[b.ID] {
			out.add(rootOf(v))
		}
		last := make(map[ID]int)
		for v, idx := range ref.LastUse[b.ID] {
			r := rootOf(v)
			if prev, ok := last[r]; !ok || idx > prev {
				last[r] = idx
			}
		}
		extIn[b.ID], extOut[b.ID], extLast[b.ID] = in, out, last
	}

	type edgeOps struct {
		block ID
		edge  int
		ops   []Instr
	}
	var pending []edgeOps

	for _, b := range f.Blocks {
		if !reach[b.ID] {
			continue
		}
		liveOut := extOut[b.ID]
		lastUse := extLast[b.ID]

		var out []Instr

		// Parameters that arrive dead are dropped on entry.
		deadParams := func(params []ID) {
			for _, p := range params {
				if !tracked(p) || !ownsRoot(p) {
					continue
				}
				if _, used := lastUse[p]; !used && !liveOut.has(p) {
					out = append(out, Instr{Op: OpRcDec, Dst: NoID, Src: p})
				}
			}
		}
		if b.ID == f.Entry {
			vars := make([]ID, 0, len(f.Params))
			for i := range f.Params {
				vars = append(vars, f.Params[i].Var)
			}
			deadParams(vars)
		}
		deadParams(b.Params)

		transferred := make(map[ID]bool)

		// isFinalUse reports whether using v at instruction index i is
		// the final use of its root, making an ownership transfer
		// possible without an RcInc.
		isFinalUse := func(v ID, i int) bool {
			r := rootOf(v)
			if r != v || !ownsRoot(r) || transferred[r] {
				return false
			}
			return lastUse[r] == i && !liveOut.has(r)
		}

		for i := range b.Instrs {
			in := b.Instrs[i]

			// RcInc for non-final owned-argument uses. Within one
			// instruction, only the last occurrence of a duplicated
			// argument can transfer.
			positions := ownedArgPositions(&in, funcs)
			for pi, argIdx := range positions {
				v := in.Args[argIdx]
				if !tracked(v) {
					continue
				}
				final := isFinalUse(v, i)
				for _, later := range positions[pi+1:] {
					if in.Args[later] == v {
						final = false
					}
				}
				if final {
					transferred[v] = true
				} else {
					out = append(out, Instr{Op: OpRcInc, Dst: NoID, Src: v})
				}
			}

			// Explicit drops already present in the input consume
			// their reference; never stack a second RcDec on them.
			if (in.Op == OpRcDec || in.Op == OpReset) && tracked(in.Src) {
				transferred[rootOf(in.Src)] = true
			}

			out = append(out, in)

			// Drop the definition immediately if nothing ever uses it.
			if d, ok := in.Defines(); ok && tracked(d) && ownsRoot(d) && rootOf(d) == d {
				if _, used := lastUse[d]; !used && !liveOut.has(d) {
					out = append(out, Instr{Op: OpRcDec, Dst: NoID, Src: d})
				}
			}

			// Drop roots whose final borrower use is this instruction.
			var drops []ID
			for r, idx := range lastUse {
				if idx != i || liveOut.has(r) || transferred[r] || !ownsRoot(r) {
					continue
				}
				drops = append(drops, r)
			}
			sort.Slice(drops, func(x, y int) bool { return drops[x] < drops[y] })
			for _, r := range drops {
				out = append(out, Instr{Op: OpRcDec, Dst: NoID, Src: r})
			}
		}

		// Terminator. Returns transfer their value (incrementing first
		// when the function does not own a standalone reference);
		// jump-edge arguments transfer into block parameters.
		termIdx := len(b.Instrs)
		switch b.Term.Kind {
		case TermReturn:
			v := b.Term.Value
			if tracked(v) {
				if rootOf(v) != v || !ownsRoot(v) {
					out = append(out, Instr{Op: OpRcInc, Dst: NoID, Src: v})
				} else {
					transferred[v] = true
				}
			}
		case TermJump:
			out = append(out, edgeIncs(&b.Term.Edges[0], extIn, tracked, rootOf, ownsRoot)...)
		case TermBranch, TermSwitch:
			for ei := range b.Term.Edges {
				incs := edgeIncs(&b.Term.Edges[ei], extIn, tracked, rootOf, ownsRoot)
				if len(incs) > 0 {
					pending = append(pending, edgeOps{block: b.ID, edge: ei, ops: incs})
				}
			}
		}

		// Roots whose last use is the terminator and which did not
		// transfer die here: before a return, or per-edge otherwise.
		if b.Term.Kind == TermReturn {
			var drops []ID
			for r, idx := range lastUse {
				if idx == termIdx && !transferred[r] && ownsRoot(r) {
					drops = append(drops, r)
				}
			}
			sort.Slice(drops, func(x, y int) bool { return drops[x] < drops[y] })
			for _, r := range drops {
				out = append(out, Instr{Op: OpRcDec, Dst: NoID, Src: r})
			}
		} else {
			exitLive := make(VarSet)
			for r := range liveOut {
				exitLive.add(r)
			}
			for r, idx := range lastUse {
				if idx == termIdx && !transferred[r] {
					exitLive.add(r)
				}
			}
			for ei := range b.Term.Edges {
				e := &b.Term.Edges[ei]
				var drops []ID
				for r := range exitLive {
					if !ownsRoot(r) || transferred[r] || extIn[e.Dest].has(r) {
						continue
					}
					if containsID(e.Args, r) {
						continue
					}
					drops = append(drops, r)
				}
				if len(drops) == 0 {
					continue
				}
				sort.Slice(drops, func(x, y int) bool { return drops[x] < drops[y] })
				ops := make([]Instr, len(drops))
				for di, r := range drops {
					ops[di] = Instr{Op: OpRcDec, Dst: NoID, Src: r}
				}
				if b.Term.Kind == TermJump {
					out = append(out, ops...)
				} else {
					pending = append(pending, edgeOps{block: b.ID, edge: ei, ops: ops})
				}
			}
		}

		b.Instrs = out
	}

	// Materialize per-edge operations, splitting critical edges with
	// trampoline blocks where the destination has other predecessors.
	if len(pending) > 0 {
		preds := predecessors(f)
		merged := make(map[[2]int][]Instr)
		var order [][2]int
		for _, p := range pending {
			key := [2]int{int(p.block), p.edge}
			if _, ok := merged[key]; !ok {
				order = append(order, key)
			}
			merged[key] = append(merged[key], p.ops...)
		}
		for _, key := range order {
			b := f.Blocks[key[0]]
			e := &b.Term.Edges[key[1]]
			ops := merged[key]
			if len(preds[e.Dest]) == 1 {
				dest := f.Blocks[e.Dest]
				dest.Instrs = append(append([]Instr{}, ops...), dest.Instrs...)
				continue
			}
			tramp := f.NewBlock()
			tramp.Instrs = ops
			tramp.Jump(e.Dest, e.Args...)
			e.Dest = tramp.ID
			e.Args = nil
		}
	}
	return nil
}

func containsID(ids []ID, v ID) bool {
	for _, x := range ids {
		if x == v {
			return true
		}
	}
	return false
}

// edgeIncs returns the RcInc instructions required before transferring
// e's arguments into the destination's block parameters. An argument
// needs an increment when the function does not own a standalone
// reference for it, when its root stays live past the edge, or when it
// is bound to more than one parameter on the same edge. Transfers are
// per-edge: a value handed off on one branch edge still dies (and is
// dropped) on the sibling edges.
func edgeIncs(e *Edge, extIn []VarSet, tracked func(ID) bool, rootOf func(ID) ID, ownsRoot func(ID) bool) []Instr {
	var incs []Instr
	for ai, v := range e.Args {
		if !tracked(v) {
			continue
		}
		final := rootOf(v) == v && ownsRoot(v) && !extIn[e.Dest].has(v)
		for _, later := range e.Args[ai+1:] {
			if later == v {
				final = false
			}
		}
		if !final {
			incs = append(incs, Instr{Op: OpRcInc, Dst: NoID, Src: v})
		}
	}
	return incs
}

// ownedArgPositions returns the indices of in.Args whose values the
// instruction takes ownership of. Constructor fields and closure
// captures are stored; call arguments follow the callee's annotated
// signature, with unknown callees assumed to own everything.
func ownedArgPositions(in *Instr, funcs map[string]*Func) []int {
	switch in.Op {
	case OpConstruct, OpReuse, OpMakeClosure:
		return allPositions(len(in.Args))
	case OpSet:
		return []int{0}
	case OpCallClosure:
		return allPositions(len(in.Args))
	case OpCall:
		callee := funcs[in.Callee]
		if callee == nil {
			return allPositions(len(in.Args))
		}
		var out []int
		for i := range in.Args {
			if i >= len(callee.Params) || callee.Params[i].Own == Owned {
				out = append(out, i)
			}
		}
		return out
	}
	return nil
}

func allPositions(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
