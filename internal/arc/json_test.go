package arc

import (
	"strings"
	"testing"

	"github.com/upstat-io/sigil-lang-sub022/internal/types"
)

const sampleModule = `{
  "types": [
    {"kind": "list", "elem": 2},
    {"kind": "enum", "name": "IntList", "variants": [
      {"name": "Nil"},
      {"name": "Cons", "fields": [2, 7]}
    ]}
  ],
  "functions": [
    {
      "name": "head",
      "params": [{"var": 0, "own": "borrowed"}],
      "ret": 2,
      "entry": 0,
      "vars": [7, 2],
      "blocks": [
        {
          "id": 0,
          "instrs": [
            {"op": "Unpack", "dst": 1, "type": 2, "src": 0, "field": 0, "tag": 1}
          ],
          "term": {"kind": "return", "value": 1}
        }
      ]
    }
  ]
}`

// TestReadModule decodes the sample and checks the type table and the
// function body.
func TestReadModule(t *testing.T) {
	mod, err := ReadModule(strings.NewReader(sampleModule))
	if err != nil {
		t.Fatalf("ReadModule: %v", err)
	}

	list, ok := mod.Pool.Lookup("IntList")
	if !ok {
		t.Fatalf("IntList not in the pool")
	}
	if mod.Pool.Tag(list) != types.Enum {
		t.Errorf("IntList tag = %v, want enum", mod.Pool.Tag(list))
	}
	variants := mod.Pool.Variants(list)
	if len(variants) != 2 || len(variants[1].Fields) != 2 || variants[1].Fields[1] != list {
		t.Errorf("IntList variants = %+v, want recursive Cons", variants)
	}

	if len(mod.Funcs) != 1 {
		t.Fatalf("got %d functions, want 1", len(mod.Funcs))
	}
	f := mod.Funcs[0]
	if f.Name != "head" || f.Ret != types.IntIdx {
		t.Errorf("func = %s ret %v, want head ret int", f.Name, f.Ret)
	}
	if len(f.Params) != 1 || f.Params[0].Var != 0 || f.Params[0].Own != Borrowed {
		t.Errorf("params = %+v, want [v0 borrowed]", f.Params)
	}
	if f.TypeOf(0) != list {
		t.Errorf("v0 type = %v, want IntList", f.TypeOf(0))
	}

	b0 := f.Blocks[0]
	if len(b0.Instrs) != 1 {
		t.Fatalf("got %d instrs, want 1", len(b0.Instrs))
	}
	in := &b0.Instrs[0]
	if in.Op != OpUnpack || in.Dst != 1 || in.Src != 0 || in.Tag != 1 {
		t.Errorf("instr = %+v, want Unpack v1 = v0[0]@1", in)
	}
	if b0.Term.Kind != TermReturn || b0.Term.Value != 1 {
		t.Errorf("term = %+v, want Return v1", b0.Term)
	}

	if err := VerifyDom(f); err != nil {
		t.Errorf("decoded function fails verification: %v", err)
	}
}

// TestReadModuleUnknownOp rejects instructions with unknown opcodes.
func TestReadModuleUnknownOp(t *testing.T) {
	src := `{"types": [], "functions": [{
        "name": "f", "params": [], "ret": 0, "entry": 0, "vars": [],
        "blocks": [{"id": 0, "instrs": [{"op": "Bogus"}],
                    "term": {"kind": "return"}}]}]}`

	if _, err := ReadModule(strings.NewReader(src)); err == nil {
		t.Errorf("unknown op accepted, want error")
	}
}

// TestReadModuleUnknownField rejects unknown JSON keys, catching
// front-end / pass format drift early.
func TestReadModuleUnknownField(t *testing.T) {
	src := `{"types": [], "functions": [], "extra": true}`

	if _, err := ReadModule(strings.NewReader(src)); err == nil {
		t.Errorf("unknown field accepted, want error")
	}
}

// TestReadModuleStructuralCycle rejects a type table whose structural
// entries reference each other without a named type breaking the loop.
func TestReadModuleStructuralCycle(t *testing.T) {
	src := `{"types": [
        {"kind": "list", "elem": 7},
        {"kind": "list", "elem": 6}
    ], "functions": []}`

	_, err := ReadModule(strings.NewReader(src))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("ReadModule = %v, want unresolvable-cycle error", err)
	}
}

// TestReadModuleForwardReference verifies that a structural type may
// reference a named type declared later in the table.
func TestReadModuleForwardReference(t *testing.T) {
	src := `{"types": [
        {"kind": "list", "elem": 7},
        {"kind": "struct", "name": "Point", "fields": [
            {"name": "x", "type": 2}, {"name": "y", "type": 2}
        ]}
    ], "functions": []}`

	mod, err := ReadModule(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ReadModule: %v", err)
	}
	point, ok := mod.Pool.Lookup("Point")
	if !ok {
		t.Fatalf("Point not in the pool")
	}
	if mod.Pool.Tag(point) != types.Struct || len(mod.Pool.Fields(point)) != 2 {
		t.Errorf("Point decoded as %v with %d fields", mod.Pool.Tag(point), len(mod.Pool.Fields(point)))
	}
}
