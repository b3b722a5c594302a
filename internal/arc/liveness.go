package arc

// VarSet is a set of variable ids.
type VarSet map[ID]bool

func (s VarSet) add(v ID)      { s[v] = true }
func (s VarSet) has(v ID) bool { return s[v] }

// Liveness holds per-block live-in/live-out sets, restricted to
// reference-counted variables. Primitives are excluded to bound cost.
type Liveness struct {
	LiveIn  []VarSet // indexed by block id
	LiveOut []VarSet
}

// ComputeLiveness runs standard backward dataflow to a fixed point:
//
//	live-in(B)  = (live-out(B) − defs(B)) ∪ uses(B)
//	live-out(B) = ∪ live-in(successors)
func ComputeLiveness(f *Func, cls Classifier) *Liveness {
	gen, kill := genKill(f, cls, false)
	lv := &Liveness{}
	lv.LiveIn, lv.LiveOut = solveBackward(f, gen, kill)
	return lv
}

// genKill computes per-block gen (upward-exposed uses) and kill
// (definitions) sets. Block parameters count as definitions. With
// usesOnly set, RC bookkeeping ops contribute no uses.
func genKill(f *Func, cls Classifier, usesOnly bool) (gen, kill []VarSet) {
	n := len(f.Blocks)
	gen = make([]VarSet, n)
	kill = make([]VarSet, n)

	tracked := func(v ID) bool {
		return v != NoID && cls.IsRefcounted(f.TypeOf(v))
	}

	for _, b := range f.Blocks {
		g, k := make(VarSet), make(VarSet)
		for _, p := range b.Params {
			if tracked(p) {
				k.add(p)
			}
		}
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if !usesOnly || !in.Op.IsRC() {
				in.Uses(func(v ID) {
					if tracked(v) && !k.has(v) {
						g.add(v)
					}
				})
			}
			if d, ok := in.Defines(); ok && tracked(d) {
				k.add(d)
			}
		}
		b.Term.Uses(func(v ID) {
			if tracked(v) && !k.has(v) {
				g.add(v)
			}
		})
		gen[b.ID], kill[b.ID] = g, k
	}
	return gen, kill
}

// solveBackward iterates the backward dataflow equations to a fixed
// point, sweeping blocks in postorder (fastest for backward problems).
func solveBackward(f *Func, gen, kill []VarSet) (liveIn, liveOut []VarSet) {
	n := len(f.Blocks)
	liveIn = make([]VarSet, n)
	liveOut = make([]VarSet, n)
	for i := 0; i < n; i++ {
		liveIn[i] = make(VarSet)
		liveOut[i] = make(VarSet)
	}

	rpo := ReversePostOrder(f)
	changed := true
	for changed {
		changed = false
		for i := len(rpo) - 1; i >= 0; i-- {
			b := f.Blocks[rpo[i]]
			out := liveOut[b.ID]
			for _, s := range b.Term.Succs() {
				for v := range liveIn[s] {
					if !out.has(v) {
						out.add(v)
						changed = true
					}
				}
			}
			in := liveIn[b.ID]
			for v := range out {
				if !kill[b.ID].has(v) && !in.has(v) {
					in.add(v)
					changed = true
				}
			}
			for v := range gen[b.ID] {
				if !in.has(v) {
					in.add(v)
					changed = true
				}
			}
		}
	}
	return liveIn, liveOut
}

// Refined extends basic liveness with the exact instruction index of
// each reference-counted variable's final use within a block. RC
// insertion drops a variable at its last use, not at block exit;
// conservative block-exit drops would delay deallocation and defeat
// reuse detection.
//
// The index len(Instrs) denotes a use by the terminator. LiveForUse
// mirrors LiveOut but counts only genuine uses (RC bookkeeping ops are
// excluded), which the reuse transform consults when it must prove a
// dropped value is never observed again.
type Refined struct {
	Basic      *Liveness
	LastUse    []map[ID]int // indexed by block id
	LiveForUse []VarSet
}

// RefineLiveness runs a per-block reverse walk over instructions,
// seeded with the basic live-out sets.
func RefineLiveness(f *Func, cls Classifier, basic *Liveness) *Refined {
	n := len(f.Blocks)
	r := &Refined{
		Basic:   basic,
		LastUse: make([]map[ID]int, n),
	}

	tracked := func(v ID) bool {
		return v != NoID && cls.IsRefcounted(f.TypeOf(v))
	}

	for _, b := range f.Blocks {
		last := make(map[ID]int)
		record := func(idx int) func(ID) {
			return func(v ID) {
				if !tracked(v) {
					return
				}
				if _, seen := last[v]; !seen {
					last[v] = idx
				}
			}
		}
		b.Term.Uses(record(len(b.Instrs)))
		for i := len(b.Instrs) - 1; i >= 0; i-- {
			b.Instrs[i].Uses(record(i))
		}
		r.LastUse[b.ID] = last
	}

	useGen, kill := genKill(f, cls, true)
	_, r.LiveForUse = solveBackward(f, useGen, kill)
	return r
}
