// Package arc implements the automatic-reference-counting optimization
// pass for the Sigil compiler: parameter borrow inference, per-variable
// ownership derivation, RcInc/RcDec insertion, Reset/Reuse constructor
// memory reuse, and the FBIP (functional-but-in-place) report.
//
// The input is a list of typed, SSA-formed functions. Variables and
// blocks are dense integer ids into per-function tables. Block
// parameters receive values through jump-edge arguments; there are no
// phi instructions.
package arc

import (
	"github.com/upstat-io/sigil-lang-sub022/internal/types"
)

// ID identifies a variable or a block within one function.
type ID int32

// NoID marks the absence of a variable.
const NoID ID = -1

// Ownership annotates a function parameter.
type Ownership int

const (
	// Borrowed parameters must not be retained past the call; the
	// callee emits no RC traffic for them.
	Borrowed Ownership = iota
	// Owned parameters transfer a reference to the callee; the caller
	// pre-increments when it keeps its own reference.
	Owned
)

func (o Ownership) String() string {
	if o == Owned {
		return "owned"
	}
	return "borrowed"
}

// Param is one function parameter with its inferred ownership.
type Param struct {
	Var  ID
	Type types.Idx
	Own  Ownership
}

// Func is one function in ARC form. Blocks[i].ID == i for all blocks,
// and VarType[v] holds the type of variable v.
type Func struct {
	Name    string
	Params  []Param
	Ret     types.Idx
	Blocks  []*Block
	Entry   ID
	VarType []types.Idx
}

// Block is a basic block: parameters, a straight-line instruction list,
// and exactly one terminator. There is no fallthrough.
type Block struct {
	ID     ID
	Params []ID
	Instrs []Instr
	Term   Term
}

// NewFunc creates a function with an empty entry block. Parameters are
// allocated as the first variables, in order.
func NewFunc(name string, ret types.Idx) *Func {
	f := &Func{Name: name, Ret: ret}
	f.NewBlock()
	return f
}

// NewVar allocates a fresh variable of the given type.
func (f *Func) NewVar(typ types.Idx) ID {
	f.VarType = append(f.VarType, typ)
	return ID(len(f.VarType) - 1)
}

// NewParam allocates a fresh variable and appends it to the parameter
// list with the given ownership.
func (f *Func) NewParam(typ types.Idx, own Ownership) ID {
	v := f.NewVar(typ)
	f.Params = append(f.Params, Param{Var: v, Type: typ, Own: own})
	return v
}

// NewBlock appends an empty block to the function.
func (f *Func) NewBlock() *Block {
	b := &Block{ID: ID(len(f.Blocks))}
	f.Blocks = append(f.Blocks, b)
	return b
}

// NewBlockParam allocates a fresh variable and appends it to b's
// parameter list.
func (f *Func) NewBlockParam(b *Block, typ types.Idx) ID {
	v := f.NewVar(typ)
	b.Params = append(b.Params, v)
	return v
}

// BlockByID returns the block with the given id.
func (f *Func) BlockByID(id ID) *Block { return f.Blocks[id] }

// NumVars returns the number of variables allocated in f.
func (f *Func) NumVars() int { return len(f.VarType) }

// TypeOf returns the type of variable v, or types.NoIdx for a Reset
// token (tokens are untyped).
func (f *Func) TypeOf(v ID) types.Idx {
	if v < 0 || int(v) >= len(f.VarType) {
		return types.NoIdx
	}
	return f.VarType[v]
}

// ParamOwnership returns the ownership annotation of the parameter
// holding variable v, if v is a parameter.
func (f *Func) ParamOwnership(v ID) (Ownership, bool) {
	for i := range f.Params {
		if f.Params[i].Var == v {
			return f.Params[i].Own, true
		}
	}
	return Borrowed, false
}

// Op is an ARC instruction opcode.
type Op int

const (
	OpInvalid Op = iota

	// Constants
	OpConstInt   // integer literal; AuxInt = value
	OpConstFloat // float literal; AuxFloat = value
	OpConstBool  // bool literal; AuxInt = 0 or 1
	OpConstStr   // string literal; AuxStr = value
	OpConstUnit  // unit literal

	// Values
	OpCopy    // Dst = Src (rename)
	OpPrim    // scalar primitive; AuxStr = operator, Args = operands
	OpProject // Dst = field Field of struct/tuple Src; borrows Src
	OpUnpack  // Dst = payload field Field of enum Src at variant Tag; borrows Src

	// Allocation
	OpConstruct   // heap allocation; Ctor = constructor name, Tag = variant tag, Args = fields
	OpMakeClosure // partial application; Callee = function, Args = captured values

	// Calls
	OpCall        // direct call; Callee = function name, Args = arguments
	OpCallClosure // indirect call; Src = closure, Args = arguments

	// Reference counting
	OpRcInc // increment refcount of Src; void
	OpRcDec // decrement refcount of Src, freeing at zero; void

	// Constructor memory reuse
	OpReset // invalidate dying cell Src; Dst = reuse token (untyped)
	OpReuse // construct into Token's cell; otherwise as OpConstruct

	// Reuse expansion (emitted by backends lowering OpReuse; this pass
	// only verifies and prints them)
	OpIsShared // Dst = whether Src's refcount exceeds one
	OpSet      // in-place store Args[0] into field Field of cell Src; void
	OpSetTag   // in-place store variant tag Tag into cell Src; void

	opCount // sentinel; must be last
)

// OpInfo holds metadata about an ARC operation.
type OpInfo struct {
	Name   string // human-readable name
	IsVoid bool   // true if the op defines no variable
	IsRC   bool   // true if the op is RC bookkeeping, not a real use
}

// opInfoTable maps each Op to its OpInfo. Index by Op value.
var opInfoTable = [opCount]OpInfo{
	OpInvalid: {Name: "Invalid"},

	OpConstInt:   {Name: "ConstInt"},
	OpConstFloat: {Name: "ConstFloat"},
	OpConstBool:  {Name: "ConstBool"},
	OpConstStr:   {Name: "ConstStr"},
	OpConstUnit:  {Name: "ConstUnit"},

	OpCopy:    {Name: "Copy"},
	OpPrim:    {Name: "Prim"},
	OpProject: {Name: "Project"},
	OpUnpack:  {Name: "Unpack"},

	OpConstruct:   {Name: "Construct"},
	OpMakeClosure: {Name: "MakeClosure"},

	OpCall:        {Name: "Call"},
	OpCallClosure: {Name: "CallClosure"},

	OpRcInc: {Name: "RcInc", IsVoid: true, IsRC: true},
	OpRcDec: {Name: "RcDec", IsVoid: true, IsRC: true},

	OpReset: {Name: "Reset", IsRC: true},
	OpReuse: {Name: "Reuse"},

	OpIsShared: {Name: "IsShared"},
	OpSet:      {Name: "Set", IsVoid: true},
	OpSetTag:   {Name: "SetTag", IsVoid: true},
}

// String returns the human-readable name of the op.
func (o Op) String() string {
	if o >= 0 && int(o) < len(opInfoTable) {
		return opInfoTable[o].Name
	}
	return "unknown"
}

// Info returns the OpInfo for this op.
func (o Op) Info() OpInfo {
	if o >= 0 && int(o) < len(opInfoTable) {
		return opInfoTable[o]
	}
	return OpInfo{Name: "unknown"}
}

// IsVoid returns true if this op defines no variable.
func (o Op) IsVoid() bool { return o.Info().IsVoid }

// IsRC returns true if this op is RC bookkeeping rather than a real use
// of its operands.
func (o Op) IsRC() bool { return o.Info().IsRC }

// Instr is one ARC instruction. It is a flat struct; which fields are
// meaningful depends on Op (see the Op constants).
type Instr struct {
	Op     Op
	Dst    ID        // defined variable; NoID for void ops
	Type   types.Idx // result type of Dst where meaningful
	Src    ID        // unary operand
	Token  ID        // OpReuse: token produced by a dominating OpReset
	Field  int       // OpProject, OpUnpack, OpSet: field index
	Tag    int       // OpConstruct, OpReuse, OpUnpack, OpSetTag: variant tag
	Ctor   string    // OpConstruct, OpReuse: constructor name
	Callee string    // OpCall, OpMakeClosure: callee function name

	Args []ID

	AuxInt   int64
	AuxFloat float64
	AuxStr   string
}

// Defines reports the variable defined by the instruction, if any.
func (in *Instr) Defines() (ID, bool) {
	if in.Op.IsVoid() || in.Dst == NoID {
		return NoID, false
	}
	return in.Dst, true
}

// Uses calls fn for every variable the instruction reads, in operand
// order. RC bookkeeping ops still report their operand.
func (in *Instr) Uses(fn func(ID)) {
	if in.Src != NoID && usesSrc(in.Op) {
		fn(in.Src)
	}
	if in.Op == OpReuse && in.Token != NoID {
		fn(in.Token)
	}
	for _, a := range in.Args {
		fn(a)
	}
}

func usesSrc(op Op) bool {
	switch op {
	case OpCopy, OpProject, OpUnpack, OpCallClosure, OpRcInc, OpRcDec,
		OpReset, OpIsShared, OpSet, OpSetTag:
		return true
	}
	return false
}

// TermKind identifies the kind of a block terminator.
type TermKind int

const (
	TermInvalid TermKind = iota
	TermReturn
	TermJump
	TermBranch
	TermSwitch
)

func (k TermKind) String() string {
	switch k {
	case TermReturn:
		return "Return"
	case TermJump:
		return "Jump"
	case TermBranch:
		return "Branch"
	case TermSwitch:
		return "Switch"
	}
	return "Invalid"
}

// Edge is one CFG edge: the destination block and the values bound to
// its block parameters.
type Edge struct {
	Dest ID
	Args []ID
}

// Term is a block terminator.
//
//	Return: Value = result (NoID for unit)
//	Jump:   Edges[0]
//	Branch: Value = condition, Edges[0] = then, Edges[1] = else
//	Switch: Value = scrutinee, Cases[i] selects Edges[i],
//	        Edges[len(Cases)] = default
type Term struct {
	Kind  TermKind
	Value ID
	Edges []Edge
	Cases []int
}

// Uses calls fn for every variable the terminator reads.
func (t *Term) Uses(fn func(ID)) {
	if t.Value != NoID && t.Kind != TermJump {
		fn(t.Value)
	}
	for i := range t.Edges {
		for _, a := range t.Edges[i].Args {
			fn(a)
		}
	}
}

// Succs returns the successor block ids in edge order.
func (t *Term) Succs() []ID {
	if len(t.Edges) == 0 {
		return nil
	}
	s := make([]ID, len(t.Edges))
	for i := range t.Edges {
		s[i] = t.Edges[i].Dest
	}
	return s
}

// Return sets b's terminator to return v.
func (b *Block) Return(v ID) {
	b.Term = Term{Kind: TermReturn, Value: v}
}

// Jump sets b's terminator to an unconditional jump.
func (b *Block) Jump(dest ID, args ...ID) {
	b.Term = Term{Kind: TermJump, Value: NoID, Edges: []Edge{{Dest: dest, Args: args}}}
}

// Branch sets b's terminator to a conditional branch.
func (b *Block) Branch(cond ID, then, els ID) {
	b.Term = Term{Kind: TermBranch, Value: cond, Edges: []Edge{{Dest: then}, {Dest: els}}}
}

// Switch sets b's terminator to a multi-way branch on an enum tag.
// The final edge is the default.
func (b *Block) Switch(scrut ID, cases []int, edges []Edge) {
	b.Term = Term{Kind: TermSwitch, Value: scrut, Edges: edges, Cases: cases}
}

// Emit appends an instruction to b and returns its index.
func (b *Block) Emit(in Instr) int {
	b.Instrs = append(b.Instrs, in)
	return len(b.Instrs) - 1
}

// predecessors returns, for each block id, the list of predecessor
// block ids in deterministic order.
func predecessors(f *Func) [][]ID {
	preds := make([][]ID, len(f.Blocks))
	for _, b := range f.Blocks {
		for _, s := range b.Term.Succs() {
			preds[s] = append(preds[s], b.ID)
		}
	}
	return preds
}
