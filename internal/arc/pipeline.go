package arc

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/upstat-io/sigil-lang-sub022/internal/types"
)

// Module is a compilation unit ready for reference-count insertion.
type Module struct {
	Pool  *types.Pool
	Funcs []*Func
}

// FuncByName returns the function with the given name, or nil.
func (m *Module) FuncByName(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Config controls pipeline execution behavior.
type Config struct {
	Jobs       int    // max functions processed concurrently (<=0: unlimited)
	Verify     bool   // verify IR before and after rewriting each function
	DumpBefore string // dump IR before this stage ("*" for all)
	DumpAfter  string // dump IR after this stage ("*" for all)
	DumpFunc   string // restrict dumps to this function name
	DumpTo     io.Writer
}

// Stage names accepted by DumpBefore/DumpAfter.
const (
	StageRC    = "rc"
	StageReuse = "reuse"
)

// Run executes the full pass over every function in the module:
// signature inference first (whole-program), then per-function ownership
// derivation, reference-count insertion, and reset/reuse pairing.
// Functions are independent after inference, so the per-function stage
// runs concurrently. Reports come back in module order.
func Run(ctx context.Context, mod *Module, cfg Config) ([]Report, error) {
	cls := NewPoolClassifier(mod.Pool)

	if err := InferSignatures(mod.Funcs, cls); err != nil {
		return nil, err
	}

	byName := make(map[string]*Func, len(mod.Funcs))
	for _, f := range mod.Funcs {
		byName[f.Name] = f
	}

	dumpW := cfg.DumpTo
	if dumpW == nil {
		dumpW = os.Stderr
	}
	var dumpMu sync.Mutex
	dump := func(label string, f *Func) {
		dumpMu.Lock()
		defer dumpMu.Unlock()
		fmt.Fprintf(dumpW, "--- %s (%s) ---\n", label, f.Name)
		Fprint(dumpW, f, mod.Pool)
		fmt.Fprintln(dumpW)
	}

	reports := make([]Report, len(mod.Funcs))

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Jobs > 0 {
		g.SetLimit(cfg.Jobs)
	}
	for i, f := range mod.Funcs {
		i, f := i, f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep, err := runFunc(f, cls, byName, cfg, dump)
			if err != nil {
				return fmt.Errorf("arc: %s: %w", f.Name, err)
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func runFunc(f *Func, cls Classifier, byName map[string]*Func, cfg Config, dump func(string, *Func)) (Report, error) {
	if cfg.Verify {
		if err := Verify(f); err != nil {
			return Report{}, fmt.Errorf("verify input: %w", err)
		}
	}

	derived := DeriveOwnership(f, cls)
	live := ComputeLiveness(f, cls)
	ref := RefineLiveness(f, cls, live)

	if shouldDump(cfg.DumpBefore, StageRC) && matchFunc(cfg.DumpFunc, f.Name) {
		dump("before rc", f)
	}
	if err := InsertRC(f, cls, byName, derived, ref); err != nil {
		return Report{}, err
	}
	if shouldDump(cfg.DumpAfter, StageRC) && matchFunc(cfg.DumpFunc, f.Name) {
		dump("after rc", f)
	}

	// Insertion may split edges and append ops, so the reuse stage
	// recomputes everything it reads.
	derived = DeriveOwnership(f, cls)
	dom := BuildDomTree(f)
	live = ComputeLiveness(f, cls)
	ref = RefineLiveness(f, cls, live)

	if shouldDump(cfg.DumpBefore, StageReuse) && matchFunc(cfg.DumpFunc, f.Name) {
		dump("before reuse", f)
	}
	PairResetReuse(f, cls, derived, dom, ref)
	if shouldDump(cfg.DumpAfter, StageReuse) && matchFunc(cfg.DumpFunc, f.Name) {
		dump("after reuse", f)
	}

	if cfg.Verify {
		if err := VerifyDom(f); err != nil {
			return Report{}, fmt.Errorf("verify output: %w", err)
		}
	}

	derived = DeriveOwnership(f, cls)
	dom = BuildDomTree(f)
	live = ComputeLiveness(f, cls)
	ref = RefineLiveness(f, cls, live)
	rep := AnalyzeFBIP(f, cls, derived, dom, ref)
	sortReport(&rep)
	return rep, nil
}

func sortReport(rep *Report) {
	sort.Slice(rep.Achieved, func(i, j int) bool {
		a, b := rep.Achieved[i], rep.Achieved[j]
		if a.ResetBlock != b.ResetBlock {
			return a.ResetBlock < b.ResetBlock
		}
		return a.ResetIdx < b.ResetIdx
	})
	sort.Slice(rep.Missed, func(i, j int) bool {
		a, b := rep.Missed[i], rep.Missed[j]
		if a.Block != b.Block {
			return a.Block < b.Block
		}
		return a.Idx < b.Idx
	})
}

func shouldDump(pattern, name string) bool {
	return pattern == "*" || pattern == name
}

func matchFunc(filter, name string) bool {
	return filter == "" || filter == name
}
