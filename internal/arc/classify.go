package arc

import (
	"fmt"
	"strings"

	"github.com/upstat-io/sigil-lang-sub022/internal/types"
)

// ShapeKey is a structural fingerprint of a type. Two allocations are
// reuse-compatible iff their shape keys compare equal.
type ShapeKey string

// NoShape is the shape of types that never live in a reusable cell.
const NoShape ShapeKey = ""

// Classifier answers the two type questions the pass is allowed to ask.
// It is threaded as an explicit parameter everywhere; there is no
// global type state.
type Classifier interface {
	// IsRefcounted reports whether values of the type live in
	// heap cells managed by reference counting.
	IsRefcounted(t types.Idx) bool

	// ShapeKey returns the structural fingerprint of the type, or
	// NoShape for non-refcounted types.
	ShapeKey(t types.Idx) ShapeKey
}

// PoolClassifier is the type-pool-backed Classifier. Results are
// memoized; recursive types are handled by marking entries in progress
// and treating a cycle as refcounted (recursion forces a boxed layout).
type PoolClassifier struct {
	pool   *types.Pool
	memo   map[types.Idx]classState
	shapes map[types.Idx]ShapeKey
}

type classState int8

const (
	classUnknown classState = iota
	classInProgress
	classScalar
	classRef
)

// NewPoolClassifier returns a classifier over the given pool.
func NewPoolClassifier(pool *types.Pool) *PoolClassifier {
	return &PoolClassifier{
		pool:   pool,
		memo:   make(map[types.Idx]classState),
		shapes: make(map[types.Idx]ShapeKey),
	}
}

// IsRefcounted implements Classifier.
func (c *PoolClassifier) IsRefcounted(t types.Idx) bool {
	return c.classify(t) == classRef
}

func (c *PoolClassifier) classify(t types.Idx) classState {
	if t == types.NoIdx {
		return classScalar
	}
	switch c.memo[t] {
	case classScalar:
		return classScalar
	case classRef:
		return classRef
	case classInProgress:
		// Cycle: the type contains itself, so it must be boxed.
		return classRef
	}
	c.memo[t] = classInProgress
	st := c.classifyUncached(t)
	c.memo[t] = st
	return st
}

func (c *PoolClassifier) classifyUncached(t types.Idx) classState {
	switch c.pool.Tag(t) {
	case types.Unit, types.Bool, types.Int, types.Float, types.Byte:
		return classScalar
	case types.Str, types.List, types.Tuple, types.FuncVal,
		types.Struct, types.Option, types.Result:
		return classRef
	case types.Enum:
		// An enum whose variants all carry no payload lowers to a
		// plain integer tag.
		for _, v := range c.pool.Variants(t) {
			if len(v.Fields) > 0 {
				return classRef
			}
		}
		return classScalar
	}
	return classScalar
}

// ShapeKey implements Classifier.
func (c *PoolClassifier) ShapeKey(t types.Idx) ShapeKey {
	if !c.IsRefcounted(t) {
		return NoShape
	}
	if k, ok := c.shapes[t]; ok {
		return k
	}
	k := c.shapeUncached(t)
	c.shapes[t] = k
	return k
}

func (c *PoolClassifier) shapeUncached(t types.Idx) ShapeKey {
	p := c.pool
	switch p.Tag(t) {
	case types.Str:
		return "str"
	case types.List:
		return "list"
	case types.FuncVal:
		return ShapeKey(fmt.Sprintf("closure/%d", len(p.Params(t))))
	case types.Tuple:
		return ShapeKey(fmt.Sprintf("tuple/%d", len(p.Elems(t))))
	case types.Option:
		return "option/1"
	case types.Result:
		return "result/1"
	case types.Struct:
		var sb strings.Builder
		fmt.Fprintf(&sb, "struct:%s/%d", p.Name(t), len(p.Fields(t)))
		for _, f := range p.Fields(t) {
			fmt.Fprintf(&sb, ":%v", p.Tag(f.Type))
		}
		return ShapeKey(sb.String())
	case types.Enum:
		var sb strings.Builder
		fmt.Fprintf(&sb, "enum:%s", p.Name(t))
		for _, v := range p.Variants(t) {
			fmt.Fprintf(&sb, "/%d", len(v.Fields))
		}
		return ShapeKey(sb.String())
	}
	return NoShape
}
