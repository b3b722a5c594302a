package arc

import (
	"testing"

	"github.com/upstat-io/sigil-lang-sub022/internal/types"
)

// pairResetReuse recomputes the analyses and runs the transform.
func pairResetReuse(t *testing.T, f *Func, cls Classifier) {
	t.Helper()
	derived, dom, ref := analyze(f, cls)
	PairResetReuse(f, cls, derived, dom, ref)
	if err := VerifyDom(f); err != nil {
		t.Fatalf("verify after pairing: %v", err)
	}
}

// TestPairIntraBlock verifies the basic rewrite: a drop of a fresh cell
// followed by a same-shape Construct in the same block becomes
// Reset/Reuse.
func TestPairIntraBlock(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.list)
	b0 := f.Blocks[0]
	v0 := emitConstruct(f, b0, tt.list, "Nil", 0)
	emitRcDec(b0, v0)
	v1 := emitConstruct(f, b0, tt.list, "Nil", 0)
	b0.Return(v1)

	pairResetReuse(t, f, tt.cls)

	reset := &b0.Instrs[1]
	if reset.Op != OpReset || reset.Src != v0 {
		t.Fatalf("Instrs[1] = %s, want Reset v%d:\n%s", reset.Op, v0, Sprint(f, tt.pool))
	}
	reuse := &b0.Instrs[2]
	if reuse.Op != OpReuse || reuse.Token != reset.Dst || reuse.Dst != v1 {
		t.Errorf("Instrs[2] = %s (token v%d), want Reuse consuming v%d", reuse.Op, reuse.Token, reset.Dst)
	}
	if f.TypeOf(reset.Dst) != types.NoIdx {
		t.Errorf("token v%d has type %v, want untyped", reset.Dst, f.TypeOf(reset.Dst))
	}
}

// TestPairRequiresFresh verifies that drops of values whose uniqueness
// is not statically known are left alone.
func TestPairRequiresFresh(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.list)
	v0 := f.NewParam(tt.list, Owned)
	b0 := f.Blocks[0]
	emitRcDec(b0, v0)
	v1 := emitConstruct(f, b0, tt.list, "Nil", 0)
	b0.Return(v1)

	pairResetReuse(t, f, tt.cls)

	if b0.Instrs[0].Op != OpRcDec {
		t.Errorf("drop of possibly-shared v%d was rewritten to %s", v0, b0.Instrs[0].Op)
	}
}

// TestPairShapeMismatchSkipped verifies that a Construct of a different
// shape is not a reuse target.
func TestPairShapeMismatchSkipped(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.pair)
	b0 := f.Blocks[0]
	v0 := emitConstruct(f, b0, tt.list, "Nil", 0)
	emitRcDec(b0, v0)
	a := emitConstInt(f, b0, 1)
	v1 := emitConstruct(f, b0, tt.pair, "Pair", 0, a, a)
	b0.Return(v1)

	pairResetReuse(t, f, tt.cls)

	if countOps(f, OpReset) != 0 || countOps(f, OpReuse) != 0 {
		t.Errorf("mismatched shapes were paired:\n%s", Sprint(f, tt.pool))
	}
}

// TestPairBlockedByObservation verifies that an instruction reading the
// dropped value between the drop and the Construct prevents pairing.
func TestPairBlockedByObservation(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.list)
	b0 := f.Blocks[0]
	v0 := emitConstruct(f, b0, tt.list, "Nil", 0)
	emitRcDec(b0, v0)
	shared := f.NewVar(types.BoolIdx)
	b0.Emit(Instr{Op: OpIsShared, Dst: shared, Type: types.BoolIdx, Src: v0})
	v1 := emitConstruct(f, b0, tt.list, "Nil", 0)
	b0.Return(v1)

	derived, dom, ref := analyze(f, tt.cls)
	PairResetReuse(f, tt.cls, derived, dom, ref)

	if b0.Instrs[1].Op != OpRcDec {
		t.Errorf("drop paired across an observation of v%d:\n%s", v0, Sprint(f, tt.pool))
	}
}

// TestPairCrossBlock verifies pairing across blocks when the drop block
// dominates the Construct and every path reaches it.
func TestPairCrossBlock(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.list)
	b0 := f.Blocks[0]
	b1 := f.NewBlock()

	v0 := emitConstruct(f, b0, tt.list, "Nil", 0)
	emitRcDec(b0, v0)
	b0.Jump(b1.ID)
	v1 := emitConstruct(f, b1, tt.list, "Nil", 0)
	b1.Return(v1)

	pairResetReuse(t, f, tt.cls)

	if b0.Instrs[1].Op != OpReset {
		t.Fatalf("b0.Instrs[1] = %s, want Reset:\n%s", b0.Instrs[1].Op, Sprint(f, tt.pool))
	}
	if b1.Instrs[0].Op != OpReuse || b1.Instrs[0].Token != b0.Instrs[1].Dst {
		t.Errorf("b1.Instrs[0] = %s, want Reuse consuming v%d", b1.Instrs[0].Op, b0.Instrs[1].Dst)
	}
}

// TestPairCrossBlockNotAllPaths verifies the conservative case: if one
// path out of the drop block returns without reconstructing, the token
// would leak, so no pairing happens.
func TestPairCrossBlockNotAllPaths(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.list)
	b0 := f.Blocks[0]
	b1 := f.NewBlock()
	b2 := f.NewBlock()

	cond := emitConstBool(f, b0, true)
	v0 := emitConstruct(f, b0, tt.list, "Nil", 0)
	emitRcDec(b0, v0)
	b0.Branch(cond, b1.ID, b2.ID)

	v1 := emitConstruct(f, b1, tt.list, "Nil", 0)
	b1.Return(v1)

	// b2 returns without reconstructing anything.
	b2.Return(NoID)

	pairResetReuse(t, f, tt.cls)

	if b0.Instrs[2].Op != OpRcDec {
		t.Errorf("paired despite a path that skips reconstruction:\n%s", Sprint(f, tt.pool))
	}
}

// TestPairCrossBlockLoopFails verifies that a cycle bypassing the
// Construct defeats the all-paths requirement.
func TestPairCrossBlockLoopFails(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.list)
	b0 := f.Blocks[0]
	b1 := f.NewBlock()
	b2 := f.NewBlock()

	cond := emitConstBool(f, b0, true)
	v0 := emitConstruct(f, b0, tt.list, "Nil", 0)
	emitRcDec(b0, v0)
	b0.Jump(b1.ID)

	// b1 loops on itself before ever reaching the Construct in b2.
	b1.Branch(cond, b1.ID, b2.ID)
	v1 := emitConstruct(f, b2, tt.list, "Nil", 0)
	b2.Return(v1)

	pairResetReuse(t, f, tt.cls)

	if b0.Instrs[2].Op != OpRcDec {
		t.Errorf("paired across a loop that can bypass the target:\n%s", Sprint(f, tt.pool))
	}
}
