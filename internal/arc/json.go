package arc

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/upstat-io/sigil-lang-sub022/internal/types"
)

// ReadModule decodes a compilation unit from its JSON form: a type
// table followed by the function list. The format is the contract
// between the lowering front end and this pass.
//
// Type references are integers: 0..5 name the predeclared primitives
// (unit, bool, int, float, byte, str), and i+6 names the i-th entry of
// the "types" array. Named types may reference entries in any order
// (recursive enums are the norm); structural types resolve once their
// components have.
func ReadModule(r io.Reader) (*Module, error) {
	var jm jsonModule
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&jm); err != nil {
		return nil, fmt.Errorf("arc: decoding module: %w", err)
	}

	pool := types.NewPool()
	idx, err := resolveTypes(pool, jm.Types)
	if err != nil {
		return nil, err
	}
	resolve := func(ref int) (types.Idx, error) {
		return resolveRef(idx, ref)
	}

	mod := &Module{Pool: pool}
	for fi := range jm.Functions {
		fn, err := decodeFunc(&jm.Functions[fi], resolve)
		if err != nil {
			return nil, err
		}
		mod.Funcs = append(mod.Funcs, fn)
	}
	return mod, nil
}

type jsonModule struct {
	Types     []jsonType `json:"types"`
	Functions []jsonFunc `json:"functions"`
}

type jsonType struct {
	Kind     string        `json:"kind"`
	Name     string        `json:"name,omitempty"`
	Elem     *int          `json:"elem,omitempty"`
	Elems    []int         `json:"elems,omitempty"`
	Ok       *int          `json:"ok,omitempty"`
	Err      *int          `json:"err,omitempty"`
	Params   []int         `json:"params,omitempty"`
	Result   *int          `json:"result,omitempty"`
	Fields   []jsonField   `json:"fields,omitempty"`
	Variants []jsonVariant `json:"variants,omitempty"`
}

type jsonField struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

type jsonVariant struct {
	Name   string `json:"name"`
	Fields []int  `json:"fields,omitempty"`
}

type jsonFunc struct {
	Name   string      `json:"name"`
	Params []jsonParam `json:"params"`
	Ret    int         `json:"ret"`
	Entry  int         `json:"entry"`
	Vars   []int       `json:"vars"`
	Blocks []jsonBlock `json:"blocks"`
}

type jsonParam struct {
	Var int    `json:"var"`
	Own string `json:"own,omitempty"`
}

type jsonBlock struct {
	ID     int         `json:"id"`
	Params []int       `json:"params,omitempty"`
	Instrs []jsonInstr `json:"instrs"`
	Term   jsonTerm    `json:"term"`
}

type jsonInstr struct {
	Op     string  `json:"op"`
	Dst    *int    `json:"dst,omitempty"`
	Type   *int    `json:"type,omitempty"`
	Src    *int    `json:"src,omitempty"`
	Token  *int    `json:"token,omitempty"`
	Field  int     `json:"field,omitempty"`
	Tag    int     `json:"tag,omitempty"`
	Ctor   string  `json:"ctor,omitempty"`
	Callee string  `json:"callee,omitempty"`
	Args   []int   `json:"args,omitempty"`
	Int    int64   `json:"int,omitempty"`
	Float  float64 `json:"float,omitempty"`
	Str    string  `json:"str,omitempty"`
}

type jsonTerm struct {
	Kind  string     `json:"kind"`
	Value *int       `json:"value,omitempty"`
	Edges []jsonEdge `json:"edges,omitempty"`
	Cases []int      `json:"cases,omitempty"`
}

type jsonEdge struct {
	Dest int   `json:"dest"`
	Args []int `json:"args,omitempty"`
}

// resolveTypes converts the JSON type table into pool indices. Named
// types are declared up front so variants and fields can reference them
// before their defining entry resolves.
func resolveTypes(pool *types.Pool, tbl []jsonType) ([]types.Idx, error) {
	idx := make([]types.Idx, len(tbl))
	for i := range idx {
		idx[i] = types.NoIdx
	}
	for i := range tbl {
		switch tbl[i].Kind {
		case "struct":
			idx[i] = pool.DeclareStruct(tbl[i].Name)
		case "enum":
			idx[i] = pool.DeclareEnum(tbl[i].Name)
		}
	}

	ref := func(r int) (types.Idx, bool) {
		if r < int(types.StrIdx)+1 {
			if r < 0 {
				return types.NoIdx, false
			}
			return types.Idx(r), true
		}
		j := r - int(types.StrIdx) - 1
		if j >= len(idx) || idx[j] == types.NoIdx {
			return types.NoIdx, false
		}
		return idx[j], true
	}

	// Structural entries may reference each other; iterate until no
	// entry makes progress.
	remaining := len(tbl)
	for remaining > 0 {
		progress := false
		for i := range tbl {
			t := &tbl[i]
			if t.Kind == "done" {
				continue
			}
			done := false
			switch t.Kind {
			case "struct":
				fields := make([]types.Field, 0, len(t.Fields))
				ok := true
				for _, f := range t.Fields {
					ft, k := ref(f.Type)
					if !k {
						ok = false
						break
					}
					fields = append(fields, types.Field{Name: f.Name, Type: ft})
				}
				if ok {
					pool.SetFields(idx[i], fields)
					done = true
				}
			case "enum":
				variants := make([]types.Variant, 0, len(t.Variants))
				ok := true
				for _, v := range t.Variants {
					fs := make([]types.Idx, 0, len(v.Fields))
					for _, fr := range v.Fields {
						ft, k := ref(fr)
						if !k {
							ok = false
							break
						}
						fs = append(fs, ft)
					}
					if !ok {
						break
					}
					variants = append(variants, types.Variant{Name: v.Name, Fields: fs})
				}
				if ok {
					pool.SetVariants(idx[i], variants)
					done = true
				}
			case "list":
				if t.Elem == nil {
					return nil, fmt.Errorf("arc: type %d: list without elem", i)
				}
				if e, k := ref(*t.Elem); k {
					idx[i] = pool.ListOf(e)
					done = true
				}
			case "option":
				if t.Elem == nil {
					return nil, fmt.Errorf("arc: type %d: option without elem", i)
				}
				if e, k := ref(*t.Elem); k {
					idx[i] = pool.OptionOf(e)
					done = true
				}
			case "result":
				if t.Ok == nil || t.Err == nil {
					return nil, fmt.Errorf("arc: type %d: result without ok/err", i)
				}
				okT, k1 := ref(*t.Ok)
				errT, k2 := ref(*t.Err)
				if k1 && k2 {
					idx[i] = pool.ResultOf(okT, errT)
					done = true
				}
			case "tuple":
				elems := make([]types.Idx, 0, len(t.Elems))
				ok := true
				for _, er := range t.Elems {
					e, k := ref(er)
					if !k {
						ok = false
						break
					}
					elems = append(elems, e)
				}
				if ok {
					idx[i] = pool.TupleOf(elems...)
					done = true
				}
			case "func":
				params := make([]types.Idx, 0, len(t.Params))
				ok := t.Result != nil
				for _, pr := range t.Params {
					e, k := ref(pr)
					if !k {
						ok = false
						break
					}
					params = append(params, e)
				}
				var res types.Idx
				if ok {
					res, ok = ref(*t.Result)
				}
				if ok {
					idx[i] = pool.FuncOf(params, res)
					done = true
				}
			default:
				return nil, fmt.Errorf("arc: type %d: unknown kind %q", i, t.Kind)
			}
			if done {
				progress = true
				remaining--
				tbl[i].Kind = "done"
			}
		}
		if !progress {
			return nil, fmt.Errorf("arc: type table has an unresolvable structural cycle")
		}
	}
	return idx, nil
}

func resolveRef(idx []types.Idx, r int) (types.Idx, error) {
	if r < 0 {
		return types.NoIdx, nil
	}
	if r <= int(types.StrIdx) {
		return types.Idx(r), nil
	}
	j := r - int(types.StrIdx) - 1
	if j >= len(idx) {
		return types.NoIdx, fmt.Errorf("arc: type reference %d out of range", r)
	}
	return idx[j], nil
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, len(opInfoTable))
	for op := Op(1); op < opCount; op++ {
		m[op.String()] = op
	}
	return m
}()

func decodeFunc(jf *jsonFunc, resolve func(int) (types.Idx, error)) (*Func, error) {
	ret, err := resolve(jf.Ret)
	if err != nil {
		return nil, fmt.Errorf("arc: func %s: %w", jf.Name, err)
	}
	f := &Func{Name: jf.Name, Ret: ret, Entry: ID(jf.Entry)}

	for _, vr := range jf.Vars {
		t, err := resolve(vr)
		if err != nil {
			return nil, fmt.Errorf("arc: func %s: %w", jf.Name, err)
		}
		f.VarType = append(f.VarType, t)
	}

	for _, p := range jf.Params {
		v := ID(p.Var)
		own := Borrowed
		if p.Own == "owned" {
			own = Owned
		}
		f.Params = append(f.Params, Param{Var: v, Type: f.TypeOf(v), Own: own})
	}

	for bi := range jf.Blocks {
		jb := &jf.Blocks[bi]
		b := &Block{ID: ID(jb.ID)}
		for _, p := range jb.Params {
			b.Params = append(b.Params, ID(p))
		}
		for ii := range jb.Instrs {
			in, err := decodeInstr(&jb.Instrs[ii], resolve)
			if err != nil {
				return nil, fmt.Errorf("arc: func %s, b%d[%d]: %w", jf.Name, jb.ID, ii, err)
			}
			b.Instrs = append(b.Instrs, in)
		}
		term, err := decodeTerm(&jb.Term)
		if err != nil {
			return nil, fmt.Errorf("arc: func %s, b%d: %w", jf.Name, jb.ID, err)
		}
		b.Term = term
		f.Blocks = append(f.Blocks, b)
	}
	return f, nil
}

func optID(p *int) ID {
	if p == nil {
		return NoID
	}
	return ID(*p)
}

func decodeInstr(ji *jsonInstr, resolve func(int) (types.Idx, error)) (Instr, error) {
	op, ok := opByName[ji.Op]
	if !ok {
		return Instr{}, fmt.Errorf("unknown op %q", ji.Op)
	}
	typ := types.NoIdx
	if ji.Type != nil {
		t, err := resolve(*ji.Type)
		if err != nil {
			return Instr{}, err
		}
		typ = t
	}
	in := Instr{
		Op:       op,
		Dst:      optID(ji.Dst),
		Type:     typ,
		Src:      optID(ji.Src),
		Token:    optID(ji.Token),
		Field:    ji.Field,
		Tag:      ji.Tag,
		Ctor:     ji.Ctor,
		Callee:   ji.Callee,
		AuxInt:   ji.Int,
		AuxFloat: ji.Float,
		AuxStr:   ji.Str,
	}
	for _, a := range ji.Args {
		in.Args = append(in.Args, ID(a))
	}
	return in, nil
}

func decodeTerm(jt *jsonTerm) (Term, error) {
	edges := make([]Edge, 0, len(jt.Edges))
	for i := range jt.Edges {
		e := Edge{Dest: ID(jt.Edges[i].Dest)}
		for _, a := range jt.Edges[i].Args {
			e.Args = append(e.Args, ID(a))
		}
		edges = append(edges, e)
	}
	switch jt.Kind {
	case "return":
		return Term{Kind: TermReturn, Value: optID(jt.Value)}, nil
	case "jump":
		return Term{Kind: TermJump, Value: NoID, Edges: edges}, nil
	case "branch":
		return Term{Kind: TermBranch, Value: optID(jt.Value), Edges: edges}, nil
	case "switch":
		return Term{Kind: TermSwitch, Value: optID(jt.Value), Edges: edges, Cases: jt.Cases}, nil
	}
	return Term{}, fmt.Errorf("unknown terminator kind %q", jt.Kind)
}
