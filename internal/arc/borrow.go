package arc

import "fmt"

// InferSignatures decides Borrowed vs Owned for every reference-counted
// parameter in the compilation unit. A parameter becomes Owned when its
// value may escape the function: it is returned, stored into a heap
// cell, captured by a closure, forwarded to an Owned parameter of some
// call, or explicitly dropped. Everything else stays Borrowed; in
// particular a jump-edge argument is not an escape, because the edge
// transfer emits its own increment when the function holds no
// standalone reference.
//
// The analysis is a whole-program fixed point over the call graph,
// implemented as an explicit worklist: all parameters start Borrowed
// (optimistic), and sweeps promote to Owned until a full pass changes
// nothing. Promotion is monotonic, so the loop converges within one
// sweep per parameter; exceeding that bound is an internal error.
//
// Scalar parameters are annotated Owned and ignored by every later
// pass; only reference-counted parameters carry meaning here.
func InferSignatures(fns []*Func, cls Classifier) error {
	byName := make(map[string]*Func, len(fns))
	for _, f := range fns {
		byName[f.Name] = f
	}

	total := 0
	for _, f := range fns {
		for i := range f.Params {
			p := &f.Params[i]
			if cls.IsRefcounted(f.TypeOf(p.Var)) {
				p.Own = Borrowed
				total++
			} else {
				p.Own = Owned
			}
		}
	}

	for sweep := 0; ; sweep++ {
		if sweep > total+1 {
			return fmt.Errorf("arc: parameter ownership inference failed to converge after %d sweeps", sweep)
		}
		changed := false
		for _, f := range fns {
			if promoteEscaping(f, cls, byName) {
				changed = true
			}
		}
		if !changed {
			return nil
		}
	}
}

// promoteEscaping promotes f's parameters that escape under the current
// signature annotations. It reports whether any annotation changed.
func promoteEscaping(f *Func, cls Classifier, byName map[string]*Func) bool {
	isParam := make(map[ID]int, len(f.Params))
	for i := range f.Params {
		if f.Params[i].Own == Borrowed {
			isParam[f.Params[i].Var] = i
		}
	}
	if len(isParam) == 0 {
		return false
	}

	escapes := make(map[ID]bool)
	mark := func(v ID) {
		if _, ok := isParam[v]; ok {
			escapes[v] = true
		}
	}

	for _, b := range f.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			switch in.Op {
			case OpConstruct, OpReuse, OpMakeClosure:
				// Stored into a heap cell or captured.
				for _, a := range in.Args {
					mark(a)
				}
			case OpSet:
				mark(in.Args[0])
			case OpCall:
				callee := byName[in.Callee]
				for j, a := range in.Args {
					if callee == nil || j >= len(callee.Params) || callee.Params[j].Own == Owned {
						// Unknown callees assume every parameter Owned.
						mark(a)
					}
				}
			case OpCallClosure:
				// Nothing is known about a closure's retention.
				for _, a := range in.Args {
					mark(a)
				}
			case OpRcDec, OpReset:
				// An explicit drop consumes a reference the function
				// must own.
				mark(in.Src)
			}
		}
		// Jump-edge arguments are not escapes: the block parameter
		// they bind is an owned local, and the edge transfer inserts
		// the increment when the function does not own the value.
		if b.Term.Kind == TermReturn && b.Term.Value != NoID {
			mark(b.Term.Value)
		}
	}

	changed := false
	for v := range escapes {
		i := isParam[v]
		if f.Params[i].Own != Owned {
			f.Params[i].Own = Owned
			changed = true
		}
	}
	return changed
}

// DerivedKind classifies what a variable's definition says about its
// reference count.
type DerivedKind int

const (
	// DerivedOwned: the variable holds its own reference (call result,
	// literal, block parameter, owned function parameter).
	DerivedOwned DerivedKind = iota
	// DerivedBorrowedFrom: the variable aliases a component of Source
	// and holds no reference of its own. A borrowed function parameter
	// is recorded as borrowing from itself.
	DerivedBorrowedFrom
	// DerivedFresh: the variable was just constructed and its
	// reference count is statically 1; the first drop provably
	// deallocates, which is the precondition for Reset/Reuse.
	DerivedFresh
)

func (k DerivedKind) String() string {
	switch k {
	case DerivedOwned:
		return "owned"
	case DerivedBorrowedFrom:
		return "borrowed-from"
	case DerivedFresh:
		return "fresh"
	}
	return "invalid"
}

// Derived is the per-variable ownership classification.
type Derived struct {
	Kind   DerivedKind
	Source ID // meaningful for DerivedBorrowedFrom
}

// DeriveOwnership classifies every reference-counted variable of f in
// a single forward pass. SSA guarantees one definition site per
// variable, so no fixed point is needed, and the result is a pure
// function of the input: identical inputs yield identical maps.
func DeriveOwnership(f *Func, cls Classifier) map[ID]Derived {
	out := make(map[ID]Derived)

	tracked := func(v ID) bool {
		return v != NoID && cls.IsRefcounted(f.TypeOf(v))
	}

	for i := range f.Params {
		p := &f.Params[i]
		if !tracked(p.Var) {
			continue
		}
		if p.Own == Owned {
			out[p.Var] = Derived{Kind: DerivedOwned}
		} else {
			out[p.Var] = Derived{Kind: DerivedBorrowedFrom, Source: p.Var}
		}
	}

	for _, bid := range ReversePostOrder(f) {
		b := f.Blocks[bid]
		for _, p := range b.Params {
			if tracked(p) {
				out[p] = Derived{Kind: DerivedOwned}
			}
		}
		for i := range b.Instrs {
			in := &b.Instrs[i]
			d, ok := in.Defines()
			if !ok || !tracked(d) {
				continue
			}
			switch in.Op {
			case OpConstruct, OpMakeClosure, OpReuse:
				out[d] = Derived{Kind: DerivedFresh}
			case OpProject, OpUnpack:
				out[d] = Derived{Kind: DerivedBorrowedFrom, Source: in.Src}
			case OpCopy:
				if src, ok := out[in.Src]; ok {
					out[d] = src
				} else {
					out[d] = Derived{Kind: DerivedOwned}
				}
			default:
				// Call results, literals, IsShared.
				out[d] = Derived{Kind: DerivedOwned}
			}
		}
	}
	return out
}
