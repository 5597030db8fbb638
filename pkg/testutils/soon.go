// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package testutils

import (
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultSucceedsSoonDuration is the maximum amount of time unittests
// will wait for a condition to become true.
const DefaultSucceedsSoonDuration = 45 * time.Second

// SucceedsSoon fails the test (with t.Fatal) unless the supplied function
// runs without error within a preset maximum duration. The function is
// invoked immediately at first and then successively with an exponential
// backoff starting at 1ns and ending at around 1s.
func SucceedsSoon(t TestFatalerLogger, fn func() error) {
	t.Helper()
	if err := SucceedsWithin(fn, DefaultSucceedsSoonDuration); err != nil {
		t.Fatalf("condition failed to evaluate within %s: %s", DefaultSucceedsSoonDuration, err)
	}
}

// SucceedsWithin returns an error unless the supplied function runs
// without error within the given duration.
func SucceedsWithin(fn func() error, duration time.Duration) error {
	deadline := time.Now().Add(duration)
	var lastErr error
	for wait := time.Duration(1); time.Now().Before(deadline); wait *= 2 {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if wait > time.Second {
			wait = time.Second
		}
		time.Sleep(wait)
	}
	return errors.Wrapf(lastErr, "condition failed to evaluate within %s", duration)
}
