package arc

import (
	"github.com/upstat-io/sigil-lang-sub022/internal/types"
)

// testTypes bundles the pool, classifier, and the refcounted types most
// tests share.
type testTypes struct {
	pool *types.Pool
	cls  *PoolClassifier
	list types.Idx // enum IntList = Nil | Cons(int, IntList)
	box  types.Idx // struct Box { s str }
	pair types.Idx // struct Pair { a int, b int }
}

func newTestTypes() *testTypes {
	p := types.NewPool()
	list := p.DeclareEnum("IntList")
	p.SetVariants(list, []types.Variant{
		{Name: "Nil"},
		{Name: "Cons", Fields: []types.Idx{types.IntIdx, list}},
	})
	box := p.StructOf("Box", []types.Field{{Name: "s", Type: types.StrIdx}})
	pair := p.StructOf("Pair", []types.Field{
		{Name: "a", Type: types.IntIdx},
		{Name: "b", Type: types.IntIdx},
	})
	return &testTypes{pool: p, cls: NewPoolClassifier(p), list: list, box: box, pair: pair}
}

// analyze recomputes everything the transforms read for f's current
// form.
func analyze(f *Func, cls Classifier) (map[ID]Derived, *DomTree, *Refined) {
	derived := DeriveOwnership(f, cls)
	dom := BuildDomTree(f)
	ref := RefineLiveness(f, cls, ComputeLiveness(f, cls))
	return derived, dom, ref
}

func emitConstInt(f *Func, b *Block, v int64) ID {
	d := f.NewVar(types.IntIdx)
	b.Emit(Instr{Op: OpConstInt, Dst: d, Type: types.IntIdx, AuxInt: v})
	return d
}

func emitConstBool(f *Func, b *Block, v bool) ID {
	d := f.NewVar(types.BoolIdx)
	var n int64
	if v {
		n = 1
	}
	b.Emit(Instr{Op: OpConstBool, Dst: d, Type: types.BoolIdx, AuxInt: n})
	return d
}

func emitConstruct(f *Func, b *Block, typ types.Idx, ctor string, tag int, args ...ID) ID {
	d := f.NewVar(typ)
	b.Emit(Instr{Op: OpConstruct, Dst: d, Type: typ, Ctor: ctor, Tag: tag, Args: args})
	return d
}

func emitProject(f *Func, b *Block, typ types.Idx, src ID, field int) ID {
	d := f.NewVar(typ)
	b.Emit(Instr{Op: OpProject, Dst: d, Type: typ, Src: src, Field: field})
	return d
}

// emitCall appends a direct call; ret == types.NoIdx means the result
// is discarded.
func emitCall(f *Func, b *Block, callee string, ret types.Idx, args ...ID) ID {
	d := NoID
	if ret != types.NoIdx {
		d = f.NewVar(ret)
	}
	b.Emit(Instr{Op: OpCall, Dst: d, Type: ret, Callee: callee, Args: args})
	return d
}

func emitRcDec(b *Block, v ID) {
	b.Emit(Instr{Op: OpRcDec, Dst: NoID, Src: v})
}

// borrowedCallee builds a no-op function with one borrowed parameter,
// for use as a known callee in signature maps.
func borrowedCallee(name string, paramType types.Idx) *Func {
	g := NewFunc(name, types.UnitIdx)
	g.NewParam(paramType, Borrowed)
	g.Blocks[0].Return(NoID)
	return g
}

func countOps(f *Func, op Op) int {
	n := 0
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			if b.Instrs[i].Op == op {
				n++
			}
		}
	}
	return n
}
