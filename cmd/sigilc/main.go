// Package main implements the Sigil reference-count compiler stage.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/xyproto/env/v2"

	"github.com/upstat-io/sigil-lang-sub022/internal/arc"
)

// Compiler flags. Environment variables supply defaults so CI runs can
// flip verification or dumping without touching the invocation.
var (
	emitARC     = flag.Bool("emit-arc", false, "Output IR after reference-count insertion")
	explainFBIP = flag.Bool("explain-fbip", false, "Output the reuse report per function")
	verify      = flag.Bool("verify", env.Bool("SIGIL_ARC_VERIFY"), "Verify IR before and after rewriting")
	dumpBefore  = flag.String("dump-before", env.Str("SIGIL_DUMP_BEFORE"), "Dump IR before stage (rc, reuse, or \"*\")")
	dumpAfter   = flag.String("dump-after", env.Str("SIGIL_DUMP_AFTER"), "Dump IR after stage (rc, reuse, or \"*\")")
	dumpFunc    = flag.String("dump-func", env.Str("SIGIL_DUMP_FUNC"), "Only dump specific function")
	jobs        = flag.Int("jobs", env.Int("SIGIL_ARC_JOBS", runtime.NumCPU()), "Max functions rewritten concurrently")
	output      = flag.String("o", "", "Output file")
	version     = flag.Bool("version", false, "Print version")
)

// Version information
const Version = "0.1.0-dev"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Sigil ARC Stage %s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: sigilc [options] <module.json>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *version {
		fmt.Printf("sigilc version %s\n", Version)
		fmt.Printf("go version %s\n", runtime.Version())
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "error: no input file")
		fmt.Fprintln(os.Stderr, "usage: sigilc [options] <module.json>")
		os.Exit(1)
	}

	os.Exit(runCompile(args[0]))
}

// runCompile reads the module, runs the pass, and writes whatever the
// flags asked for. "-" reads the module from stdin.
func runCompile(filename string) int {
	var in io.Reader
	if filename == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	mod, err := arc.ReadModule(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	cfg := arc.Config{
		Jobs:       *jobs,
		Verify:     *verify,
		DumpBefore: *dumpBefore,
		DumpAfter:  *dumpAfter,
		DumpFunc:   *dumpFunc,
	}
	reports, err := arc.Run(context.Background(), mod, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	out := io.Writer(os.Stdout)
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	if *emitARC {
		for i, fn := range mod.Funcs {
			if *dumpFunc != "" && fn.Name != *dumpFunc {
				continue
			}
			if i > 0 {
				fmt.Fprintln(out)
			}
			arc.Fprint(out, fn, mod.Pool)
		}
	}

	if *explainFBIP {
		for i := range reports {
			if *dumpFunc != "" && reports[i].Func != *dumpFunc {
				continue
			}
			reports[i].Explain(out)
		}
	}

	return 0
}
