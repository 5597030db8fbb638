// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

// Package log implements context-aware leveled logging.
//
// Every logging call takes a context.Context. Tags attached to the context
// with github.com/cockroachdb/logtags are rendered in front of the message, so
// that a subsystem only needs to annotate its context once:
//
//	ctx = logtags.AddTag(ctx, "locks", nil)
//	log.Infof(ctx, "registry started with %d shards", n)
//
// Messages are formatted with github.com/cockroachdb/redact. Arguments that
// are not marked safe are enclosed in redaction markers; the markers are
// stripped on output unless redactable output was requested with
// SetRedactable.
package log

import (
	"context"
	"io"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/redact"
	"github.com/xmldb/xmldb/pkg/util/syncutil"
	"go.opentelemetry.io/otel/trace"
)

// Severity identifies the sort of log: info, warning etc.
type Severity int32

// The severities understood by the logger.
const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeverityError
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SafeValue implements redact.SafeValue.
func (Severity) SafeValue() {}

// char returns the one-letter abbreviation used in entry headers.
func (s Severity) char() byte {
	return s.String()[0]
}

type loggerT struct {
	mu struct {
		syncutil.Mutex
		w io.Writer
	}
	verbosity  atomic.Int32
	redactable atomic.Bool
}

var logging = func() *loggerT {
	l := &loggerT{}
	l.mu.w = os.Stderr
	return l
}()

// SetOutput redirects the log output to w and returns a function restoring
// the previous destination.
func SetOutput(w io.Writer) (restore func()) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	prev := logging.mu.w
	logging.mu.w = w
	return func() {
		logging.mu.Lock()
		defer logging.mu.Unlock()
		logging.mu.w = prev
	}
}

// SetVerbosity sets the global verbosity level used by V and VEventf and
// returns a function restoring the previous level.
func SetVerbosity(level int32) (restore func()) {
	prev := logging.verbosity.Swap(level)
	return func() { logging.verbosity.Store(prev) }
}

// SetRedactable controls whether redaction markers are kept in the output.
func SetRedactable(redactable bool) {
	logging.redactable.Store(redactable)
}

// V returns true if the logging verbosity is set to the specified level or
// higher.
func V(level int32) bool {
	return logging.verbosity.Load() >= level
}

// Infof logs to the INFO log.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, SeverityInfo, format, args)
}

// Info logs a constant message to the INFO log.
func Info(ctx context.Context, msg redact.RedactableString) {
	logDepth(ctx, 1, SeverityInfo, "%s", []interface{}{msg})
}

// Warningf logs to the WARNING log.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, SeverityWarning, format, args)
}

// Errorf logs to the ERROR log.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, SeverityError, format, args)
}

// VEventf either logs a message to the INFO log if the verbosity is at least
// level, or adds an event to the trace span in the context, or both.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	vEventf(ctx, 1, level, format, args)
}

// Event looks for a recording span in the context and adds an event to it.
// The message is also logged if the verbosity is at least 3.
func Event(ctx context.Context, msg string) {
	vEventf(ctx, 1, 3, "%s", []interface{}{redact.SafeString(msg)})
}

// Eventf looks for a recording span in the context and formats and adds an
// event to it. The message is also logged if the verbosity is at least 3.
func Eventf(ctx context.Context, format string, args ...interface{}) {
	vEventf(ctx, 1, 3, format, args)
}

func vEventf(ctx context.Context, depth int, level int32, format string, args []interface{}) {
	sp := trace.SpanFromContext(ctx)
	recording := sp.IsRecording()
	if !recording && !V(level) {
		return
	}
	msg := redact.Sprintf(format, args...)
	if recording {
		sp.AddEvent(msg.StripMarkers())
	}
	if V(level) {
		output(ctx, depth+1, SeverityInfo, msg)
	}
}

func logDepth(ctx context.Context, depth int, sev Severity, format string, args []interface{}) {
	output(ctx, depth+1, sev, redact.Sprintf(format, args...))
}

func output(ctx context.Context, depth int, sev Severity, msg redact.RedactableString) {
	e := makeEntry(ctx, sev, depth+1, msg)
	buf := formatEntry(e, logging.redactable.Load())

	logging.mu.Lock()
	defer logging.mu.Unlock()
	_, _ = logging.mu.w.Write(buf)
}
