package arc

import (
	"strings"
	"testing"

	"github.com/upstat-io/sigil-lang-sub022/internal/types"
)

func analyzeFBIP(t *testing.T, f *Func, cls Classifier) Report {
	t.Helper()
	derived, dom, ref := analyze(f, cls)
	return AnalyzeFBIP(f, cls, derived, dom, ref)
}

// TestFBIPEmptyFunction verifies that a function with no Construct and
// no drops yields an empty report with is-fbip false.
func TestFBIPEmptyFunction(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", types.IntIdx)
	n := f.NewParam(types.IntIdx, Owned)
	f.Blocks[0].Return(n)

	rep := analyzeFBIP(t, f, tt.cls)

	if len(rep.Achieved) != 0 || len(rep.Missed) != 0 {
		t.Errorf("report = %d achieved, %d missed, want empty", len(rep.Achieved), len(rep.Missed))
	}
	if rep.IsFBIP {
		t.Errorf("IsFBIP = true for a function that never allocates")
	}
}

// TestFBIPAchievedPair verifies that a Reset immediately followed by a
// same-type Reuse of its token is one achieved entry and no missed
// entries, with is-fbip true.
func TestFBIPAchievedPair(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.list)
	v0 := f.NewParam(tt.list, Owned)
	b0 := f.Blocks[0]

	tok := f.NewVar(types.NoIdx)
	b0.Emit(Instr{Op: OpReset, Dst: tok, Src: v0})
	v1 := f.NewVar(tt.list)
	b0.Emit(Instr{Op: OpReuse, Dst: v1, Type: tt.list, Token: tok, Ctor: "Nil"})
	b0.Return(v1)

	rep := analyzeFBIP(t, f, tt.cls)

	if len(rep.Achieved) != 1 {
		t.Fatalf("achieved = %d, want 1", len(rep.Achieved))
	}
	a := rep.Achieved[0]
	if a.Var != v0 || a.Token != tok || a.ResetBlock != b0.ID || a.ReuseBlock != b0.ID {
		t.Errorf("achieved entry = %+v, want reset/reuse of v%d via v%d in b0", a, v0, tok)
	}
	if len(rep.Missed) != 0 {
		t.Errorf("missed = %d, want 0", len(rep.Missed))
	}
	if !rep.IsFBIP {
		t.Errorf("IsFBIP = false, want true")
	}
}

// TestFBIPMissedDominatedConstruct verifies that a plain drop followed
// by a dominated same-type Construct is reported as missed, with
// is-fbip false.
func TestFBIPMissedDominatedConstruct(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.list)
	v0 := f.NewParam(tt.list, Owned)
	b0 := f.Blocks[0]
	b1 := f.NewBlock()

	emitRcDec(b0, v0)
	b0.Jump(b1.ID)
	v1 := emitConstruct(f, b1, tt.list, "Nil", 0)
	b1.Return(v1)

	rep := analyzeFBIP(t, f, tt.cls)

	if len(rep.Missed) == 0 {
		t.Fatalf("missed empty, want at least one entry")
	}
	if rep.Missed[0].Var != v0 {
		t.Errorf("missed var = v%d, want v%d", rep.Missed[0].Var, v0)
	}
	if rep.IsFBIP {
		t.Errorf("IsFBIP = true with a missed opportunity")
	}
}

// TestFBIPPossiblySharedWinsOverTypeMismatch verifies the reason
// choice: a drop followed by a different-type Construct and then a
// same-type Construct reports PossiblyShared, never TypeMismatch.
func TestFBIPPossiblySharedWinsOverTypeMismatch(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.list)
	v0 := f.NewParam(tt.list, Owned)
	b0 := f.Blocks[0]

	emitRcDec(b0, v0)
	a := emitConstInt(f, b0, 1)
	emitConstruct(f, b0, tt.pair, "Pair", 0, a, a)
	v1 := emitConstruct(f, b0, tt.list, "Nil", 0)
	b0.Return(v1)

	rep := analyzeFBIP(t, f, tt.cls)

	if len(rep.Missed) != 1 {
		t.Fatalf("missed = %d, want 1", len(rep.Missed))
	}
	if rep.Missed[0].Reason != ReasonPossiblyShared {
		t.Errorf("reason = %s, want possibly-shared (a same-type candidate exists)", rep.Missed[0].Reason)
	}
}

// TestFBIPTypeMismatch verifies that a drop whose reachable Constructs
// are all of other refcounted shapes reports TypeMismatch.
func TestFBIPTypeMismatch(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.pair)
	v0 := f.NewParam(tt.list, Owned)
	b0 := f.Blocks[0]

	emitRcDec(b0, v0)
	a := emitConstInt(f, b0, 1)
	v1 := emitConstruct(f, b0, tt.pair, "Pair", 0, a, a)
	b0.Return(v1)

	rep := analyzeFBIP(t, f, tt.cls)

	if len(rep.Missed) != 1 {
		t.Fatalf("missed = %d, want 1", len(rep.Missed))
	}
	if rep.Missed[0].Reason != ReasonTypeMismatch {
		t.Errorf("reason = %s, want type-mismatch", rep.Missed[0].Reason)
	}
}

// TestFBIPDanglingResetMissed verifies that a Reset whose token no
// Reuse ever consumes is still a drop site: followed by a same-type
// Construct it surfaces as a missed entry rather than vanishing from
// the report.
func TestFBIPDanglingResetMissed(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.list)
	v0 := f.NewParam(tt.list, Owned)
	b0 := f.Blocks[0]

	tok := f.NewVar(types.NoIdx)
	b0.Emit(Instr{Op: OpReset, Dst: tok, Src: v0})
	v1 := emitConstruct(f, b0, tt.list, "Nil", 0)
	b0.Return(v1)

	rep := analyzeFBIP(t, f, tt.cls)

	if len(rep.Achieved) != 0 {
		t.Errorf("achieved = %d, want 0 (token is never consumed)", len(rep.Achieved))
	}
	if len(rep.Missed) != 1 {
		t.Fatalf("missed = %d, want 1", len(rep.Missed))
	}
	m := rep.Missed[0]
	if m.Var != v0 || m.Block != b0.ID || m.Idx != 0 || m.Reason != ReasonPossiblyShared {
		t.Errorf("missed entry = %+v, want possibly-shared drop of v%d at b0[0]", m, v0)
	}
	if rep.IsFBIP {
		t.Errorf("IsFBIP = true, want false")
	}
}

// TestFBIPBareDropNoEntry verifies that a drop with no reconstruction
// anywhere is an ordinary deallocation: no report entry at all.
func TestFBIPBareDropNoEntry(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", types.IntIdx)
	v0 := f.NewParam(tt.list, Owned)
	b0 := f.Blocks[0]

	emitRcDec(b0, v0)
	n := emitConstInt(f, b0, 0)
	b0.Return(n)

	rep := analyzeFBIP(t, f, tt.cls)

	if len(rep.Achieved) != 0 || len(rep.Missed) != 0 {
		t.Errorf("report = %d achieved, %d missed, want empty", len(rep.Achieved), len(rep.Missed))
	}
}

// TestFBIPBorrowedAliasSkipped verifies that drops of borrowed aliases
// are never report entries.
func TestFBIPBorrowedAliasSkipped(t *testing.T) {
	tt := newTestTypes()
	f := NewFunc("f", tt.list)
	v0 := f.NewParam(tt.list, Borrowed)
	b0 := f.Blocks[0]

	emitRcDec(b0, v0) // bogus drop of a borrowed param
	v1 := emitConstruct(f, b0, tt.list, "Nil", 0)
	b0.Return(v1)

	rep := analyzeFBIP(t, f, tt.cls)

	if len(rep.Missed) != 0 {
		t.Errorf("missed = %d for a borrowed alias, want 0", len(rep.Missed))
	}
}

// TestFBIPExplainFormat sanity-checks the rendered report.
func TestFBIPExplainFormat(t *testing.T) {
	rep := Report{
		Func:   "rev",
		IsFBIP: true,
		Achieved: []AchievedReuse{
			{Var: 3, Token: 7, ResetBlock: 1, ResetIdx: 2, ReuseBlock: 1, ReuseIdx: 4},
		},
	}

	var sb strings.Builder
	rep.Explain(&sb)
	out := sb.String()

	if !strings.Contains(out, "func rev: fbip=true") {
		t.Errorf("missing header in %q", out)
	}
	if !strings.Contains(out, "reuse v3: reset b1[2] -> reuse b1[4]") {
		t.Errorf("missing achieved line in %q", out)
	}
}
