package arc

import (
	"fmt"
	"strings"

	"github.com/upstat-io/sigil-lang-sub022/internal/types"
)

// Verify checks the structural integrity of an ARC function.
// It returns an error describing all violations found, or nil if valid.
func Verify(f *Func) error {
	var errs []string

	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if len(f.Blocks) == 0 {
		add("func %s: no blocks", f.Name)
		return combineErrors(errs)
	}
	if int(f.Entry) >= len(f.Blocks) {
		add("func %s: entry block b%d out of range", f.Name, f.Entry)
		return combineErrors(errs)
	}

	// 1. Blocks are stored at their own ids.
	for i, b := range f.Blocks {
		if b.ID != ID(i) {
			add("func %s: Blocks[%d] has id b%d", f.Name, i, b.ID)
		}
	}

	// 2. The entry block takes its values from the function
	// parameters, not from jump edges.
	if len(f.Blocks[f.Entry].Params) != 0 {
		add("func %s: entry block b%d has %d block params, want 0",
			f.Name, f.Entry, len(f.Blocks[f.Entry].Params))
	}

	// 3. Single definition per variable. Function parameters, block
	// parameters, and instruction destinations all define.
	defCount := make(map[ID]int)
	for i := range f.Params {
		defCount[f.Params[i].Var]++
	}
	for _, b := range f.Blocks {
		for _, p := range b.Params {
			defCount[p]++
		}
		for i := range b.Instrs {
			if d, ok := b.Instrs[i].Defines(); ok {
				defCount[d]++
			}
		}
	}
	for v, n := range defCount {
		if n > 1 {
			add("func %s: v%d defined %d times", f.Name, v, n)
		}
		if v < 0 || int(v) >= len(f.VarType) {
			add("func %s: v%d defined but not in the variable table", f.Name, v)
		}
	}

	// 4. Every used variable is defined somewhere, and every variable
	// id is in range.
	for _, b := range f.Blocks {
		checkUse := func(where string) func(ID) {
			return func(v ID) {
				if v < 0 || int(v) >= len(f.VarType) {
					add("func %s, b%d: %s uses out-of-range v%d", f.Name, b.ID, where, v)
					return
				}
				if defCount[v] == 0 {
					add("func %s, b%d: %s uses undefined v%d", f.Name, b.ID, where, v)
				}
			}
		}
		for i := range b.Instrs {
			b.Instrs[i].Uses(checkUse(fmt.Sprintf("instr %d (%s)", i, b.Instrs[i].Op)))
		}
		b.Term.Uses(checkUse("terminator"))
	}

	// 5. Terminator shape: valid kind, edge targets in range, edge
	// argument counts matching destination block parameters.
	for _, b := range f.Blocks {
		t := &b.Term
		switch t.Kind {
		case TermReturn:
			if len(t.Edges) != 0 {
				add("func %s, b%d: return has %d edges, want 0", f.Name, b.ID, len(t.Edges))
			}
		case TermJump:
			if len(t.Edges) != 1 {
				add("func %s, b%d: jump has %d edges, want 1", f.Name, b.ID, len(t.Edges))
			}
		case TermBranch:
			if len(t.Edges) != 2 {
				add("func %s, b%d: branch has %d edges, want 2", f.Name, b.ID, len(t.Edges))
			}
			if t.Value == NoID {
				add("func %s, b%d: branch has no condition", f.Name, b.ID)
			}
		case TermSwitch:
			if len(t.Edges) != len(t.Cases)+1 {
				add("func %s, b%d: switch has %d edges for %d cases (default edge required)",
					f.Name, b.ID, len(t.Edges), len(t.Cases))
			}
			if t.Value == NoID {
				add("func %s, b%d: switch has no scrutinee", f.Name, b.ID)
			}
		default:
			add("func %s, b%d: invalid terminator", f.Name, b.ID)
		}
		for ei := range t.Edges {
			e := &t.Edges[ei]
			if e.Dest < 0 || int(e.Dest) >= len(f.Blocks) {
				add("func %s, b%d: edge %d targets out-of-range b%d", f.Name, b.ID, ei, e.Dest)
				continue
			}
			dest := f.Blocks[e.Dest]
			if len(e.Args) != len(dest.Params) {
				add("func %s, b%d: edge %d passes %d args, b%d takes %d params",
					f.Name, b.ID, ei, len(e.Args), e.Dest, len(dest.Params))
			}
		}
	}

	// 6. Reset/Reuse token discipline within the function: every Reuse
	// consumes a token produced by exactly one Reset, at most once.
	resetTokens := make(map[ID]bool)
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			if in := &b.Instrs[i]; in.Op == OpReset {
				resetTokens[in.Dst] = true
			}
		}
	}
	tokenUses := make(map[ID]int)
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Op != OpReuse {
				continue
			}
			if !resetTokens[in.Token] {
				add("func %s, b%d: Reuse at %d consumes v%d which no Reset produces",
					f.Name, b.ID, i, in.Token)
			}
			tokenUses[in.Token]++
		}
	}
	for tok, n := range tokenUses {
		if n > 1 {
			add("func %s: token v%d consumed by %d Reuse instructions", f.Name, tok, n)
		}
	}

	return combineErrors(errs)
}

// VerifyDom checks dominance properties: every use of a variable is
// dominated by its definition (or preceded by it within the block), and
// every Reuse is dominated by its Reset. It calls Verify first.
func VerifyDom(f *Func) error {
	if err := Verify(f); err != nil {
		return err
	}

	var errs []string
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	dom := BuildDomTree(f)

	// Definition sites: block id and instruction index (-1 for
	// parameters, which are live from block entry).
	type defSite struct {
		block ID
		idx   int
	}
	defs := make(map[ID]defSite)
	for i := range f.Params {
		defs[f.Params[i].Var] = defSite{block: f.Entry, idx: -1}
	}
	for _, b := range f.Blocks {
		for _, p := range b.Params {
			defs[p] = defSite{block: b.ID, idx: -1}
		}
		for i := range b.Instrs {
			if d, ok := b.Instrs[i].Defines(); ok {
				defs[d] = defSite{block: b.ID, idx: i}
			}
		}
	}

	for _, b := range f.Blocks {
		if !dom.Reachable(b.ID) {
			continue
		}
		checkUse := func(useIdx int) func(ID) {
			return func(v ID) {
				ds, ok := defs[v]
				if !ok {
					return // reported by Verify
				}
				if ds.block == b.ID {
					if ds.idx >= useIdx {
						add("func %s, b%d: v%d used at %d before definition at %d",
							f.Name, b.ID, v, useIdx, ds.idx)
					}
				} else if !dom.Dominates(ds.block, b.ID) {
					add("func %s, b%d: v%d used but defined in b%d which does not dominate b%d",
						f.Name, b.ID, v, ds.block, b.ID)
				}
			}
		}
		for i := range b.Instrs {
			b.Instrs[i].Uses(checkUse(i))
		}
		b.Term.Uses(checkUse(len(b.Instrs)))
	}

	// Reset tokens must be untyped.
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			if in := &b.Instrs[i]; in.Op == OpReset && f.TypeOf(in.Dst) != types.NoIdx {
				add("func %s, b%d: Reset at %d yields typed token v%d", f.Name, b.ID, i, in.Dst)
			}
		}
	}

	return combineErrors(errs)
}

// combineErrors creates an error from a list of error strings, or returns nil.
func combineErrors(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("ARC verification failed:\n  %s", strings.Join(errs, "\n  "))
}
