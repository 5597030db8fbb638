// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package log

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"github.com/petermattis/goid"
)

// logEntry is a single log event before formatting.
type logEntry struct {
	sev       Severity
	time      time.Time
	goroutine int64
	file      string
	line      int
	tags      *logtags.Buffer
	msg       redact.RedactableString
}

func makeEntry(
	ctx context.Context, sev Severity, depth int, msg redact.RedactableString,
) logEntry {
	e := logEntry{
		sev:       sev,
		time:      time.Now(),
		goroutine: goid.Get(),
		tags:      logtags.FromContext(ctx),
		msg:       msg,
	}
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		e.file = filepath.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file))
		e.line = line
	} else {
		e.file = "???"
	}
	return e
}

// formatEntry renders an entry using the crdb-v1 layout:
//
//	I261017 14:21:47.876932 42 locktable/registry.go:123 [locks] message
//
// The marker ⋮ after the location indicates that the message carries
// redaction markers.
func formatEntry(e logEntry, redactable bool) []byte {
	var buf bytes.Buffer
	buf.WriteByte(e.sev.char())
	buf.WriteString(e.time.Format("060102 15:04:05.000000"))
	fmt.Fprintf(&buf, " %d %s:%d ", e.goroutine, e.file, e.line)
	if redactable {
		buf.WriteString("⋮ ")
	}
	formatTags(e.tags, &buf)
	if redactable {
		buf.WriteString(string(e.msg))
	} else {
		buf.WriteString(e.msg.StripMarkers())
	}
	if buf.Len() == 0 || buf.Bytes()[buf.Len()-1] != '\n' {
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// formatTags writes the context tags in brackets, followed by a space. Tags
// with single-letter keys are written without an equal sign, e.g. "n1".
func formatTags(tags *logtags.Buffer, buf *bytes.Buffer) {
	if tags == nil {
		return
	}
	buf.WriteByte('[')
	for i, t := range tags.Get() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(t.Key())
		if t.Value() == nil {
			continue
		}
		if len(t.Key()) > 1 {
			buf.WriteByte('=')
		}
		buf.WriteString(t.ValueStr())
	}
	buf.WriteString("] ")
}
