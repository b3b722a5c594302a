// Package types implements the interned type pool for the Sigil compiler.
// Types are referenced by dense Idx values into a per-compilation pool;
// structural types (lists, tuples, options) are interned, nominal types
// (structs, enums) are registered by name and may be self-referential.
package types

import (
	"fmt"
	"strings"
)

// Idx is a dense index into a Pool.
type Idx int32

// NoIdx marks the absence of a type.
const NoIdx Idx = -1

// Tag identifies the kind of a type.
type Tag int

const (
	Invalid Tag = iota
	Unit
	Bool
	Int
	Float
	Byte
	Str
	List
	Tuple
	FuncVal
	Struct
	Enum
	Option
	Result

	tagCount // sentinel; must be last
)

var tagNames = [tagCount]string{
	Invalid: "invalid",
	Unit:    "unit",
	Bool:    "bool",
	Int:     "int",
	Float:   "float",
	Byte:    "byte",
	Str:     "str",
	List:    "list",
	Tuple:   "tuple",
	FuncVal: "func",
	Struct:  "struct",
	Enum:    "enum",
	Option:  "option",
	Result:  "result",
}

// String returns the human-readable name of the tag.
func (t Tag) String() string {
	if t >= 0 && int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "unknown"
}

// Predeclared primitive indices. Every Pool lays out its first entries
// in this order, so these are valid for any pool.
const (
	UnitIdx Idx = iota
	BoolIdx
	IntIdx
	FloatIdx
	ByteIdx
	StrIdx

	numPredeclared
)

// Field is a named struct field.
type Field struct {
	Name string
	Type Idx
}

// Variant is one constructor of an enum.
type Variant struct {
	Name   string
	Fields []Idx
}

// entry holds the data for one type in the pool.
type entry struct {
	tag      Tag
	name     string    // Struct, Enum
	elems    []Idx     // List elem, Tuple elems, Option elem, Result (ok, err), FuncVal (params..., result)
	fields   []Field   // Struct
	variants []Variant // Enum
}

// Pool is an interned table of types for one compilation unit.
// The zero value is not usable; call NewPool.
type Pool struct {
	entries  []entry
	interned map[string]Idx // structural types only
	named    map[string]Idx // Struct/Enum by name
}

// NewPool returns a pool with the primitive types predeclared.
func NewPool() *Pool {
	p := &Pool{
		interned: make(map[string]Idx),
		named:    make(map[string]Idx),
	}
	for _, tag := range []Tag{Unit, Bool, Int, Float, Byte, Str} {
		p.entries = append(p.entries, entry{tag: tag})
	}
	return p
}

// Len returns the number of types in the pool.
func (p *Pool) Len() int { return len(p.entries) }

func (p *Pool) add(e entry) Idx {
	p.entries = append(p.entries, e)
	return Idx(len(p.entries) - 1)
}

func (p *Pool) intern(key string, e entry) Idx {
	if i, ok := p.interned[key]; ok {
		return i
	}
	i := p.add(e)
	p.interned[key] = i
	return i
}

// ListOf returns the interned list type with the given element type.
func (p *Pool) ListOf(elem Idx) Idx {
	return p.intern(fmt.Sprintf("list(%d)", elem), entry{tag: List, elems: []Idx{elem}})
}

// OptionOf returns the interned option type with the given element type.
func (p *Pool) OptionOf(elem Idx) Idx {
	return p.intern(fmt.Sprintf("option(%d)", elem), entry{tag: Option, elems: []Idx{elem}})
}

// ResultOf returns the interned result type with the given ok and err types.
func (p *Pool) ResultOf(ok, err Idx) Idx {
	return p.intern(fmt.Sprintf("result(%d,%d)", ok, err), entry{tag: Result, elems: []Idx{ok, err}})
}

// TupleOf returns the interned tuple type with the given element types.
func (p *Pool) TupleOf(elems ...Idx) Idx {
	var sb strings.Builder
	sb.WriteString("tuple(")
	for i, e := range elems {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", e)
	}
	sb.WriteByte(')')
	return p.intern(sb.String(), entry{tag: Tuple, elems: append([]Idx(nil), elems...)})
}

// FuncOf returns the interned function type with the given parameter and
// result types.
func (p *Pool) FuncOf(params []Idx, result Idx) Idx {
	var sb strings.Builder
	sb.WriteString("func(")
	for i, e := range params {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", e)
	}
	fmt.Fprintf(&sb, ")%d", result)
	elems := append(append([]Idx(nil), params...), result)
	return p.intern(sb.String(), entry{tag: FuncVal, elems: elems})
}

// DeclareStruct registers a struct type by name with no fields yet.
// Calling it again with the same name returns the existing index, so a
// struct may reference itself (through a list or option) via SetFields.
func (p *Pool) DeclareStruct(name string) Idx {
	if i, ok := p.named[name]; ok {
		return i
	}
	i := p.add(entry{tag: Struct, name: name})
	p.named[name] = i
	return i
}

// SetFields installs the fields of a declared struct.
func (p *Pool) SetFields(i Idx, fields []Field) {
	p.entries[i].fields = append([]Field(nil), fields...)
}

// StructOf declares a struct and installs its fields in one step.
func (p *Pool) StructOf(name string, fields []Field) Idx {
	i := p.DeclareStruct(name)
	p.SetFields(i, fields)
	return i
}

// DeclareEnum registers an enum type by name with no variants yet.
func (p *Pool) DeclareEnum(name string) Idx {
	if i, ok := p.named[name]; ok {
		return i
	}
	i := p.add(entry{tag: Enum, name: name})
	p.named[name] = i
	return i
}

// SetVariants installs the variants of a declared enum.
func (p *Pool) SetVariants(i Idx, variants []Variant) {
	p.entries[i].variants = append([]Variant(nil), variants...)
}

// EnumOf declares an enum and installs its variants in one step.
func (p *Pool) EnumOf(name string, variants []Variant) Idx {
	i := p.DeclareEnum(name)
	p.SetVariants(i, variants)
	return i
}

// Lookup returns the named type with the given name, if declared.
func (p *Pool) Lookup(name string) (Idx, bool) {
	i, ok := p.named[name]
	return i, ok
}

// Tag returns the tag of type i.
func (p *Pool) Tag(i Idx) Tag {
	if i < 0 || int(i) >= len(p.entries) {
		return Invalid
	}
	return p.entries[i].tag
}

// Name returns the declared name of a struct or enum, or "".
func (p *Pool) Name(i Idx) string { return p.entries[i].name }

// Elem returns the element type of a list or option.
func (p *Pool) Elem(i Idx) Idx { return p.entries[i].elems[0] }

// Elems returns the element types of a tuple.
func (p *Pool) Elems(i Idx) []Idx { return p.entries[i].elems }

// OkType and ErrType return the components of a result type.
func (p *Pool) OkType(i Idx) Idx  { return p.entries[i].elems[0] }
func (p *Pool) ErrType(i Idx) Idx { return p.entries[i].elems[1] }

// Params returns the parameter types of a function type.
func (p *Pool) Params(i Idx) []Idx {
	e := p.entries[i].elems
	return e[:len(e)-1]
}

// Result returns the result type of a function type.
func (p *Pool) Result(i Idx) Idx {
	e := p.entries[i].elems
	return e[len(e)-1]
}

// Fields returns the fields of a struct type.
func (p *Pool) Fields(i Idx) []Field { return p.entries[i].fields }

// Variants returns the variants of an enum type.
func (p *Pool) Variants(i Idx) []Variant { return p.entries[i].variants }

// String returns a human-readable representation of type i.
func (p *Pool) String(i Idx) string {
	if i < 0 || int(i) >= len(p.entries) {
		return "<invalid>"
	}
	e := &p.entries[i]
	switch e.tag {
	case Unit, Bool, Int, Float, Byte, Str:
		return e.tag.String()
	case List:
		return "[" + p.String(e.elems[0]) + "]"
	case Option:
		return p.String(e.elems[0]) + "?"
	case Result:
		return "result[" + p.String(e.elems[0]) + ", " + p.String(e.elems[1]) + "]"
	case Tuple:
		parts := make([]string, len(e.elems))
		for j, el := range e.elems {
			parts[j] = p.String(el)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case FuncVal:
		params := e.elems[:len(e.elems)-1]
		parts := make([]string, len(params))
		for j, el := range params {
			parts[j] = p.String(el)
		}
		return "fn(" + strings.Join(parts, ", ") + ") " + p.String(e.elems[len(e.elems)-1])
	case Struct, Enum:
		return e.name
	}
	return "<invalid>"
}
