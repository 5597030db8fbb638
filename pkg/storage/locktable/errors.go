// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package locktable

import "github.com/cockroachdb/errors"

// The errors returned by the lock table. Callers test for them with
// errors.Is; the returned errors wrap these sentinels with the key, mode
// and owner of the offending request.
var (
	// ErrInvalidArgument is returned for malformed requests: an invalid
	// mode or owner, a negative timeout or a malformed collection path.
	ErrInvalidArgument = errors.New("invalid lock request")
	// ErrTimedOut is returned when a request was not granted within its
	// timeout, including non-blocking attempts that were not grantable.
	ErrTimedOut = errors.New("lock request timed out")
	// ErrCancelled is returned when a pending request was cancelled by
	// Registry.Cancel or by its context.
	ErrCancelled = errors.New("lock request cancelled")
	// ErrIllegalRelease is returned when releasing a hold that does not
	// exist.
	ErrIllegalRelease = errors.New("illegal lock release")
	// ErrInstanceNotAvailable is returned once the lock table is shutting
	// down.
	ErrInstanceNotAvailable = errors.New("lock table not available")
	// ErrUpgradeDeadlock is returned by upgrade requests that would have to
	// wait on other readers when upgrade checking is enabled. It is also an
	// ErrInvalidArgument.
	ErrUpgradeDeadlock = errors.Mark(
		errors.New("lock upgrade would lead to a self-deadlock"), ErrInvalidArgument)
)
