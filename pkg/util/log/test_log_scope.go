// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package log

import (
	"strings"
	"testing"
)

// TestLogScope represents the lifetime of a logging output redirection
// for a test. Use Scope() to create one.
type TestLogScope struct {
	restore func()
}

// Scope redirects the log output to the test's log for the duration of
// the test. The caller is responsible for calling Close() at the end.
//
// The expected usage is:
//
//	defer log.Scope(t).Close(t)
func Scope(t testing.TB) *TestLogScope {
	return &TestLogScope{restore: SetOutput(testWriter{t: t})}
}

// Close restores the previous log output.
func (l *TestLogScope) Close(t testing.TB) {
	t.Helper()
	if l.restore != nil {
		l.restore()
		l.restore = nil
	}
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(b []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(b), "\n"))
	return len(b), nil
}
