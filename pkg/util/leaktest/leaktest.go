// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

// Package leaktest provides tools to detect leaked goroutines in tests.
// To use it, call "defer leaktest.AfterTest(t)()" at the beginning of each
// test that may use goroutines.
package leaktest

import (
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/maruel/panicparse/v2/stack"
	"github.com/xmldb/xmldb/pkg/testutils"
)

// ignoredTops lists the innermost frames of goroutines owned by the
// runtime.
var ignoredTops = []string{
	"os/signal.signal_recv",
	"signal.signal_recv",
	"sigterm.handler",
	"runtime_mcall",
	"goroutine in C code",
}

// ignoredEntries lists the functions that start goroutines owned by the
// testing framework, or kept alive by net/http for connection reuse.
var ignoredEntries = []string{
	"main.main",
	"runtime.main",
	"testing.Main(",
	"testing.tRunner(",
	"testing.(*T).Run(",
	"testing.(*M).",
	"testing.runTests",
	"os/signal.loop",
	"runtime.ensureSigM",
	"net/http.(*persistConn).",
}

func matchesAny(c stack.Call, funcs []string) bool {
	name := c.Func.Complete
	for _, f := range funcs {
		if strings.HasPrefix(name+"(", f) || strings.HasPrefix(name, f) {
			return true
		}
	}
	return false
}

// entry returns the function the goroutine was started with. The
// runtime.goexit frame below it is skipped.
func entry(g *stack.Goroutine) (stack.Call, bool) {
	calls := g.Stack.Calls
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Func.Complete != "runtime.goexit" {
			return calls[i], true
		}
	}
	return stack.Call{}, false
}

// interesting reports whether g may have been leaked by a test. Only the
// innermost frame and the entry function are matched; frames in between
// never exclude a goroutine.
func interesting(g *stack.Goroutine) bool {
	if len(g.Stack.Calls) == 0 {
		return false
	}
	if matchesAny(g.Stack.Calls[0], ignoredTops) {
		return false
	}
	e, ok := entry(g)
	return ok && !matchesAny(e, ignoredEntries)
}

func interestingGoroutines() (map[int]string, error) {
	var buf []byte
	gs, err := testutils.ParseGoroutines(testutils.Stacks(&buf))
	if err != nil {
		return nil, err
	}
	ids := make(map[int]string)
	for _, g := range gs {
		if g.First || !interesting(g) {
			continue
		}
		ids[g.ID] = describe(g)
	}
	return ids, nil
}

func describe(g *stack.Goroutine) string {
	var sb strings.Builder
	sb.WriteString(g.State)
	for _, c := range g.Stack.Calls {
		sb.WriteString("\n\t")
		sb.WriteString(c.Func.Complete)
		sb.WriteString(" ")
		sb.WriteString(c.SrcName)
	}
	return sb.String()
}

// AfterTest snapshots the currently-running goroutines and returns a
// function to be run at the end of tests to see whether any goroutines
// leaked.
func AfterTest(t testutils.TestFatalerLogger) func() {
	orig, err := interestingGoroutines()
	if err != nil {
		t.Fatal(err)
	}
	return func() {
		t.Helper()
		if failed, ok := t.(interface{ Failed() bool }); ok && failed.Failed() {
			// The test already failed; a leak report would only add noise.
			return
		}
		// Loop, waiting for goroutines to shut down. Wait up to 5 seconds,
		// but finish as quickly as possible.
		deadline := time.Now().Add(5 * time.Second)
		for {
			leaked, err := diffGoroutines(orig)
			if err != nil {
				t.Fatal(err)
			}
			if len(leaked) == 0 {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("leaked goroutines:\n%s", strings.Join(leaked, "\n"))
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func diffGoroutines(orig map[int]string) ([]string, error) {
	cur, err := interestingGoroutines()
	if err != nil {
		return nil, errors.Wrap(err, "checking for leaked goroutines")
	}
	var leaked []string
	for id, desc := range cur {
		if _, ok := orig[id]; !ok {
			leaked = append(leaked, desc)
		}
	}
	sort.Strings(leaked)
	return leaked, nil
}
