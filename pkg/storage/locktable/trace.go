// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package locktable

import (
	"encoding/json"
	"path"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Trace records where a lock was requested. The program counters are
// resolved to frames lazily, when the trace is displayed.
type Trace struct {
	At  time.Time
	PCs []uintptr
}

// internalPrefixes lists the function name prefixes that are skipped
// when looking for the caller responsible for a lock request.
var internalPrefixes = []string{
	reflect.TypeOf(Trace{}).PkgPath() + ".",
	"runtime.",
}

// captureTrace records at most depth frames of the stack of the caller,
// skipping skip frames above captureTrace. A depth of -1 captures the
// whole stack.
func captureTrace(at time.Time, depth, skip int) Trace {
	size := depth
	if depth < 0 {
		size = 64
	}
	for {
		pcs := make([]uintptr, size)
		n := runtime.Callers(skip+2, pcs)
		if depth >= 0 || n < size {
			return Trace{At: at, PCs: pcs[:n:n]}
		}
		size *= 2
	}
}

// Frames resolves the program counters of the trace.
func (t Trace) Frames() []runtime.Frame {
	if len(t.PCs) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(t.PCs)
	res := make([]runtime.Frame, 0, len(t.PCs))
	for {
		f, more := frames.Next()
		res = append(res, f)
		if !more {
			break
		}
	}
	return res
}

// Reason returns a short description of the call site that requested the
// lock: the first frame outside of the lock table, rendered as
// "pkg.Func(line)". It returns the empty string if there is no such frame.
func (t Trace) Reason() string {
	for _, f := range t.Frames() {
		if isInternalFrame(f.Function) {
			continue
		}
		return path.Base(f.Function) + "(" + strconv.Itoa(f.Line) + ")"
	}
	return ""
}

// Lines renders the frames of the trace one per line as
// "pkg.Func file:line".
func (t Trace) Lines() []string {
	frames := t.Frames()
	lines := make([]string, 0, len(frames))
	for _, f := range frames {
		lines = append(lines, path.Base(f.Function)+" "+path.Base(f.File)+":"+strconv.Itoa(f.Line))
	}
	return lines
}

// MarshalJSON implements json.Marshaler. The frames are resolved and
// rendered as by Lines; an empty trace encodes as null.
func (t Trace) MarshalJSON() ([]byte, error) {
	if len(t.PCs) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		At     time.Time `json:"at"`
		Frames []string  `json:"frames"`
	}{At: t.At, Frames: t.Lines()})
}

func isInternalFrame(fn string) bool {
	for _, p := range internalPrefixes {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return false
}
