package arc

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/upstat-io/sigil-lang-sub022/internal/types"
)

// Fprint writes the textual form of an ARC function to w.
//
// Format:
//
//	func name(v0 str owned, v1 int owned) str:
//	  b0: (entry)
//	    v2 = Project <str> [0] v0
//	    RcDec v0
//	    v3 = Construct <Pair> {Pair} v2 v2
//	    Return v3
func Fprint(w io.Writer, f *Func, pool *types.Pool) {
	fmt.Fprintf(w, "func %s(", f.Name)
	for i := range f.Params {
		if i > 0 {
			fmt.Fprintf(w, ", ")
		}
		p := &f.Params[i]
		fmt.Fprintf(w, "v%d %s %s", p.Var, typeString(pool, p.Type), p.Own)
	}
	fmt.Fprintf(w, ") %s:\n", typeString(pool, f.Ret))

	preds := predecessors(f)
	for _, b := range f.Blocks {
		fprintBlock(w, f, b, preds[b.ID], pool)
	}
}

func fprintBlock(w io.Writer, f *Func, b *Block, preds []ID, pool *types.Pool) {
	label := ""
	if b.ID == f.Entry {
		label = " (entry)"
	}

	params := ""
	if len(b.Params) > 0 {
		parts := make([]string, len(b.Params))
		for i, p := range b.Params {
			parts[i] = fmt.Sprintf("v%d", p)
		}
		params = "(" + strings.Join(parts, ", ") + ")"
	}

	predsStr := ""
	if len(preds) > 0 {
		parts := make([]string, len(preds))
		for i, p := range preds {
			parts[i] = fmt.Sprintf("b%d", p)
		}
		predsStr = " <- " + strings.Join(parts, " ")
	}

	fmt.Fprintf(w, "  b%d%s:%s%s\n", b.ID, params, label, predsStr)

	for i := range b.Instrs {
		fmt.Fprintf(w, "    %s\n", formatInstr(&b.Instrs[i], pool))
	}
	fmt.Fprintf(w, "    %s\n", formatTerm(&b.Term))
}

// formatInstr formats one instruction.
func formatInstr(in *Instr, pool *types.Pool) string {
	var sb strings.Builder

	if in.Op.IsVoid() {
		sb.WriteString(in.Op.String())
	} else {
		fmt.Fprintf(&sb, "v%d = %s", in.Dst, in.Op)
	}

	switch in.Op {
	case OpConstruct, OpReuse, OpCall, OpCallClosure, OpMakeClosure,
		OpProject, OpUnpack, OpPrim, OpCopy, OpConstStr:
		fmt.Fprintf(&sb, " <%s>", typeString(pool, in.Type))
	}

	switch in.Op {
	case OpConstInt, OpConstBool:
		fmt.Fprintf(&sb, " [%d]", in.AuxInt)
	case OpConstFloat:
		fmt.Fprintf(&sb, " [%g]", in.AuxFloat)
	case OpConstStr:
		fmt.Fprintf(&sb, " [%q]", in.AuxStr)
	case OpProject, OpUnpack, OpSet:
		fmt.Fprintf(&sb, " [%d]", in.Field)
	case OpSetTag:
		fmt.Fprintf(&sb, " [%d]", in.Tag)
	}

	switch in.Op {
	case OpConstruct, OpReuse:
		fmt.Fprintf(&sb, " {%s}", in.Ctor)
	case OpCall, OpMakeClosure:
		fmt.Fprintf(&sb, " {%s}", in.Callee)
	case OpPrim:
		fmt.Fprintf(&sb, " {%s}", in.AuxStr)
	}

	if in.Src != NoID && usesSrc(in.Op) {
		fmt.Fprintf(&sb, " v%d", in.Src)
	}
	if in.Op == OpReuse && in.Token != NoID {
		fmt.Fprintf(&sb, " v%d", in.Token)
	}
	for _, a := range in.Args {
		fmt.Fprintf(&sb, " v%d", a)
	}

	return sb.String()
}

// formatTerm formats a block terminator.
func formatTerm(t *Term) string {
	edge := func(e *Edge) string {
		if len(e.Args) == 0 {
			return fmt.Sprintf("b%d", e.Dest)
		}
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			parts[i] = fmt.Sprintf("v%d", a)
		}
		return fmt.Sprintf("b%d(%s)", e.Dest, strings.Join(parts, ", "))
	}
	switch t.Kind {
	case TermReturn:
		if t.Value != NoID {
			return fmt.Sprintf("Return v%d", t.Value)
		}
		return "Return"
	case TermJump:
		return "Jump -> " + edge(&t.Edges[0])
	case TermBranch:
		return fmt.Sprintf("Branch v%d -> %s %s", t.Value, edge(&t.Edges[0]), edge(&t.Edges[1]))
	case TermSwitch:
		var sb strings.Builder
		fmt.Fprintf(&sb, "Switch v%d ->", t.Value)
		for i, c := range t.Cases {
			fmt.Fprintf(&sb, " [%d]%s", c, edge(&t.Edges[i]))
		}
		fmt.Fprintf(&sb, " default:%s", edge(&t.Edges[len(t.Edges)-1]))
		return sb.String()
	default:
		return "???"
	}
}

func typeString(pool *types.Pool, t types.Idx) string {
	if t == types.NoIdx {
		return "token"
	}
	if pool == nil {
		return fmt.Sprintf("t%d", t)
	}
	return pool.String(t)
}

// Sprint returns the textual form of a function as a string.
func Sprint(f *Func, pool *types.Pool) string {
	var sb strings.Builder
	Fprint(&sb, f, pool)
	return sb.String()
}

// Print writes the textual form of a function to stdout.
func Print(f *Func, pool *types.Pool) {
	Fprint(os.Stdout, f, pool)
}
