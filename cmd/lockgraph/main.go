// Command lockgraph statically checks this module's package import graph
// against the lock-ordering rule in §9 of the core specification: scheduler
// lock -> process/thread lookup -> IPC registry -> shmem registry -> PFA.
// A package later in that order must never import (and therefore never
// call into, and therefore never risk acquiring a lock of) a package earlier
// in the order while already holding its own lock — which for a
// statically-checkable approximation means: an import edge from a later
// package to an earlier one is the violation to flag, since it is the
// shape that lets the later package's lock be held while entering the
// earlier package.
//
// This is a conservative, import-graph-level approximation of a true
// lock-order checker (it cannot see which functions actually hold a lock
// across a call), grounded on the same idea as go/packages-based vet
// passes: load the module, inspect each package's Imports, and report
// edges that contradict the declared order.
package main

import (
	"fmt"
	"os"

	"golang.org/x/tools/go/packages"
)

// order lists package path suffixes from outermost (acquired first) to
// innermost (acquired last), mirroring §9's stated lock order.
var order = []string{
	"sched",
	"proc",
	"ipc",
	"shmem",
	"pfa",
}

func rank(pkgPath string) int {
	for i, suffix := range order {
		if hasSuffixPath(pkgPath, suffix) {
			return i
		}
	}
	return -1
}

func hasSuffixPath(pkgPath, suffix string) bool {
	if pkgPath == suffix {
		return true
	}
	n := len(pkgPath)
	s := len(suffix)
	return n > s && pkgPath[n-s-1] == '/' && pkgPath[n-s:] == suffix
}

func main() {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	pkgs, err := packages.Load(cfg, "./...")
	if err != nil {
		fmt.Fprintln(os.Stderr, "lockgraph: load failed:", err)
		os.Exit(1)
	}

	violations := 0
	for _, pkg := range pkgs {
		from := rank(pkg.PkgPath)
		if from < 0 {
			continue
		}
		for importPath := range pkg.Imports {
			to := rank(importPath)
			if to < 0 {
				continue
			}
			if to < from {
				fmt.Printf("violation: %s (order %d) imports %s (order %d), contradicting the scheduler->process->ipc->shmem->pfa lock order\n",
					pkg.PkgPath, from, importPath, to)
				violations++
			}
		}
	}

	if violations > 0 {
		fmt.Printf("%d lock-order violation(s) found\n", violations)
		os.Exit(1)
	}
	fmt.Println("lock order OK")
}
