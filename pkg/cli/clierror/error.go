// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

// Package clierror attaches process exit codes to errors.
package clierror

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/xmldb/xmldb/pkg/cli/exit"
)

// Error is an error that requests a specific exit code when it
// terminates a command.
type Error struct {
	exitCode exit.Code
	cause    error
}

// NewError wraps cause with an exit code.
func NewError(cause error, exitCode exit.Code) error {
	return &Error{exitCode: exitCode, cause: cause}
}

// GetExitCode returns the exit code attached to the error.
func (e *Error) GetExitCode() exit.Code { return e.exitCode }

// Error implements the error interface.
func (e *Error) Error() string { return fmt.Sprintf("%v", e) }

// Cause implements causer.
func (e *Error) Cause() error { return e.cause }

// Unwrap implements the Go 1.13 wrapper interface.
func (e *Error) Unwrap() error { return e.cause }

// Format implements fmt.Formatter.
func (e *Error) Format(s fmt.State, verb rune) { errors.FormatError(e, s, verb) }

// FormatError implements errors.Formatter.
func (e *Error) FormatError(p errors.Printer) error {
	if p.Detail() {
		p.Printf("error with exit code: %d", e.exitCode)
	}
	return e.cause
}

// ExitCode returns the exit code requested by err, or the generic error
// code if err does not carry one.
func ExitCode(err error) exit.Code {
	var cliErr *Error
	if errors.As(err, &cliErr) {
		return cliErr.exitCode
	}
	return exit.UnspecifiedError()
}
