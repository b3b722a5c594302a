package arc

import (
	"fmt"
	"io"
)

// MissReason classifies why a reuse opportunity was not taken.
type MissReason int

const (
	// ReasonPossiblyShared: a structurally matching Construct was
	// reachable from the drop, but the pair was not rewritten to
	// Reset/Reuse, typically because the dropped value could be
	// aliased elsewhere.
	ReasonPossiblyShared MissReason = iota
	// ReasonTypeMismatch: no Construct of the dropped value's shape is
	// reachable at all, but a refcounted Construct of a different
	// shape was inspected in the same region.
	ReasonTypeMismatch
)

func (r MissReason) String() string {
	if r == ReasonTypeMismatch {
		return "type-mismatch"
	}
	return "possibly-shared"
}

// AchievedReuse is one confirmed Reset/Reuse pair: an allocation elided
// by constructing into the dropped cell's memory.
type AchievedReuse struct {
	Var        ID // the dropped cell
	Token      ID
	ResetBlock ID
	ResetIdx   int
	ReuseBlock ID
	ReuseIdx   int
}

// MissedReuse is one drop site that could plausibly have reused its
// cell but did not.
type MissedReuse struct {
	Var    ID
	Block  ID
	Idx    int
	Reason MissReason
}

// Report is the per-function output of the FBIP analysis. It is
// advisory output for performance tooling; missed entries never fail a
// compile.
type Report struct {
	Func     string
	Achieved []AchievedReuse
	Missed   []MissedReuse
	IsFBIP   bool
}

// AnalyzeFBIP classifies the reuse behavior of every drop site in f
// whose variable the function owns (derived Owned or Fresh; borrowed
// aliases are never drop sites). A drop expressed as a token-shared
// Reset/Reuse pair counts as achieved; a plain RcDec with a
// structurally matching Construct reachable in the dominated region
// counts as missed — the transform rewrites every provably-unique
// (Fresh) drop it can, so what remains is typically a value that might
// be aliased elsewhere. A Reset whose token no Reuse consumes is a drop
// site like any other and is classified the same way. A bare drop with
// no reconstruction target is an ordinary deallocation and produces no
// entry.
//
// IsFBIP holds iff at least one reuse was achieved and no plausible
// opportunity was missed: the function actually runs in place.
func AnalyzeFBIP(f *Func, cls Classifier, derived map[ID]Derived, dom *DomTree, ref *Refined) Report {
	rep := Report{Func: f.Name}

	classifyDrop := func(v ID, b *Block, i int) {
		shape := cls.ShapeKey(f.TypeOf(v))
		if shape == NoShape {
			return
		}
		sameShape, otherShape := scanConstructs(f, cls, dom, b, i, shape)
		switch {
		case sameShape:
			rep.Missed = append(rep.Missed, MissedReuse{
				Var: v, Block: b.ID, Idx: i, Reason: ReasonPossiblyShared,
			})
		case otherShape:
			rep.Missed = append(rep.Missed, MissedReuse{
				Var: v, Block: b.ID, Idx: i, Reason: ReasonTypeMismatch,
			})
		}
	}

	for _, bid := range ReversePostOrder(f) {
		b := f.Blocks[bid]
		for i := range b.Instrs {
			in := &b.Instrs[i]
			switch in.Op {
			case OpReset:
				v := in.Src
				if d, ok := derived[v]; !ok || d.Kind == DerivedBorrowedFrom {
					continue
				}
				if rb, ri, ok := findReuse(f, dom, b, i, in.Dst); ok {
					rep.Achieved = append(rep.Achieved, AchievedReuse{
						Var:        v,
						Token:      in.Dst,
						ResetBlock: b.ID,
						ResetIdx:   i,
						ReuseBlock: rb,
						ReuseIdx:   ri,
					})
					continue
				}
				// A Reset whose token nothing consumes still frees
				// the cell; classify it like a plain drop.
				classifyDrop(v, b, i)
			case OpRcDec:
				v := in.Src
				if d, ok := derived[v]; !ok || d.Kind == DerivedBorrowedFrom {
					continue
				}
				classifyDrop(v, b, i)
			}
		}
	}

	rep.IsFBIP = len(rep.Achieved) > 0 && len(rep.Missed) == 0
	return rep
}

// findReuse locates the Reuse consuming the given token, searching the
// reset block forward and then the blocks it dominates.
func findReuse(f *Func, dom *DomTree, b *Block, resetIdx int, token ID) (block ID, idx int, ok bool) {
	for j := resetIdx + 1; j < len(b.Instrs); j++ {
		if in := &b.Instrs[j]; in.Op == OpReuse && in.Token == token {
			return b.ID, j, true
		}
	}
	for _, cid := range dom.DominatedPreorder(b.ID) {
		if cid == b.ID {
			continue
		}
		c := f.Blocks[cid]
		for j := range c.Instrs {
			if in := &c.Instrs[j]; in.Op == OpReuse && in.Token == token {
				return cid, j, true
			}
		}
	}
	return NoID, 0, false
}

// scanConstructs scans forward from the drop through its block and the
// blocks it dominates, reporting whether a Construct of the dropped
// shape, or of some other refcounted shape, is reachable.
func scanConstructs(f *Func, cls Classifier, dom *DomTree, b *Block, dropIdx int, shape ShapeKey) (sameShape, otherShape bool) {
	inspect := func(in *Instr) {
		if in.Op != OpConstruct && in.Op != OpReuse {
			return
		}
		k := cls.ShapeKey(in.Type)
		if k == NoShape {
			return
		}
		if k == shape {
			sameShape = true
		} else {
			otherShape = true
		}
	}
	for j := dropIdx + 1; j < len(b.Instrs); j++ {
		inspect(&b.Instrs[j])
	}
	for _, cid := range dom.DominatedPreorder(b.ID) {
		if cid == b.ID {
			continue
		}
		c := f.Blocks[cid]
		for j := range c.Instrs {
			inspect(&c.Instrs[j])
		}
	}
	return sameShape, otherShape
}

// Explain renders the report in the form consumed by --explain-fbip.
func (r *Report) Explain(w io.Writer) {
	fmt.Fprintf(w, "func %s: fbip=%v\n", r.Func, r.IsFBIP)
	for _, a := range r.Achieved {
		fmt.Fprintf(w, "  reuse v%d: reset b%d[%d] -> reuse b%d[%d]\n",
			a.Var, a.ResetBlock, a.ResetIdx, a.ReuseBlock, a.ReuseIdx)
	}
	for _, m := range r.Missed {
		fmt.Fprintf(w, "  missed v%d at b%d[%d]: %s\n", m.Var, m.Block, m.Idx, m.Reason)
	}
}
