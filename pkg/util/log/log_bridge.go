// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package log

import (
	"context"
	stdLog "log"
	"strings"

	"github.com/cockroachdb/redact"
)

// NewStdLogger creates a *stdLog.Logger that forwards messages to the
// logs of this package with the specified severity. It is used to plug
// library loggers, e.g. http.Server.ErrorLog.
func NewStdLogger(severity Severity, prefix string) *stdLog.Logger {
	if prefix != "" && !strings.HasSuffix(prefix, ": ") {
		prefix += ": "
	}
	return stdLog.New(logBridge(severity), prefix, 0)
}

// logBridge provides the Write method that enables a standard library
// logger to write into this package.
type logBridge Severity

// Write implements io.Writer.
func (lb logBridge) Write(b []byte) (n int, err error) {
	msg := strings.TrimSuffix(string(b), "\n")
	// The bridge cannot tell safe from unsafe parts of the message, so the
	// whole message is considered unsafe.
	output(context.Background(), 2, Severity(lb), redact.Sprint(msg))
	return len(b), nil
}
