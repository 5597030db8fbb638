// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package testutils

import (
	"bytes"
	"io"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/maruel/panicparse/v2/stack"
)

// goroutineStalledStates maps all goroutine states as reported by runtime.Stack
// to a boolean representing whether that state indicates a stalled goroutine. A
// stalled goroutine is one that is waiting on a change on another goroutine in
// order for it to make forward progress itself.
var goroutineStalledStates = map[string]bool{
	// See gStatusStrings in runtime/traceback.go.
	"idle":      false,
	"runnable":  false,
	"running":   false,
	"syscall":   false,
	"waiting":   true,
	"dead":      false,
	"copystack": false,
	"???":       false,

	// runtime.goroutineheader may override these G statuses with a waitReason.
	// See waitReasonStrings in runtime/runtime2.go.
	"GC assist marking":       false,
	"IO wait":                 false,
	"chan receive (nil chan)": true,
	"chan send (nil chan)":    true,
	"dumping heap":            false,
	"garbage collection":      false,
	"garbage collection scan": false,
	"panicwait":               false,
	"select":                  true,
	"select (no cases)":       true,
	"GC assist wait":          false,
	"GC sweep wait":           false,
	"GC scavenge wait":        false,
	"chan receive":            true,
	"chan send":               true,
	"finalizer wait":          false,
	"force gc (idle)":         false,
	// Mutex waits are short lived in the lock table; a goroutine parked on a
	// mutex is about to make progress.
	"semacquire":             false,
	"sync.Mutex.Lock":        false,
	"sync.RWMutex.RLock":     false,
	"sync.RWMutex.Lock":      false,
	"sleep":                  false,
	"sync.Cond.Wait":         true,
	"timer goroutine (idle)": false,
	"trace reader (blocked)": false,
	"wait for GC cycle":      false,
	"GC worker (idle)":       false,
}

// FuncName returns the fully qualified name of the function f, suitable as a
// filter for GoroutineStatus.
func FuncName(f interface{}) string {
	return runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
}

// Stacks is a wrapper for runtime.Stack that attempts to recover the data
// for all goroutines. It uses the provided buffer to avoid repeat
// allocations.
func Stacks(buf *[]byte) []byte {
	// We don't know how big the buffer needs to be to collect all the
	// goroutines. Start with 64 KB and try a few times, doubling each time.
	if len(*buf) == 0 {
		*buf = make([]byte, 1<<16)
	}
	for {
		n := runtime.Stack(*buf, true /* all */)
		if n < len(*buf) {
			return (*buf)[:n]
		}
		*buf = make([]byte, 2*len(*buf))
	}
}

// ParseGoroutines parses a goroutine dump produced by runtime.Stack.
func ParseGoroutines(b []byte) ([]*stack.Goroutine, error) {
	s, _, err := stack.ScanSnapshot(bytes.NewBuffer(b), io.Discard, stack.DefaultOpts())
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "could not parse goroutine dump")
	}
	if s == nil {
		return nil, nil
	}
	return s.Goroutines, nil
}

// GoroutineStatus returns a stack trace for each goroutine whose stack frame
// matches the provided filter.
func GoroutineStatus(t TestFataler, filter string, buf *[]byte) []*stack.Goroutine {
	t.Helper()
	gs, err := ParseGoroutines(Stacks(buf))
	if err != nil {
		t.Fatal(err)
	}
	matching := gs[:0]
	for _, g := range gs {
		for _, call := range g.Stack.Calls {
			if strings.Contains(call.Func.Complete, filter) {
				matching = append(matching, g)
				break
			}
		}
	}
	return matching
}

// WaitForBlocked waits until exactly n goroutines whose stacks contain
// filter are parked in a stalled state (a channel operation, a select or a
// condition variable) and stay parked across two consecutive goroutine
// dumps. It is used to make sure that a lock request has entered its wait
// queue before a test proceeds.
func WaitForBlocked(t TestFatalerLogger, filter string, n int) {
	t.Helper()
	var buf []byte
	var prev []int
	SucceedsSoon(t, func() error {
		status := GoroutineStatus(t, filter, &buf)
		if len(status) != n {
			prev = nil
			return errors.Errorf("found %d goroutines matching %q, expected %d", len(status), filter, n)
		}
		ids := make([]int, 0, len(status))
		for _, g := range status {
			// Unknown states are treated as not stalled; the goroutine is
			// checked again on the next iteration.
			if !goroutineStalledStates[g.State] {
				prev = nil
				return errors.Errorf("goroutine %d is not stalled; status %s", g.ID, g.State)
			}
			ids = append(ids, g.ID)
		}
		if prev == nil || !reflect.DeepEqual(ids, prev) {
			prev = ids
			time.Sleep(5 * time.Millisecond)
			return errors.Errorf("goroutines rapidly changing")
		}
		return nil
	})
}
