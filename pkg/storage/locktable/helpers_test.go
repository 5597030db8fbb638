// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package locktable_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/xmldb/xmldb/pkg/storage/lock"
	"github.com/xmldb/xmldb/pkg/storage/locktable"
	"github.com/xmldb/xmldb/pkg/testutils"
)

var (
	ownerX = lock.Owner{Thread: 101}
	ownerY = lock.Owner{Thread: 102}
	ownerZ = lock.Owner{Thread: 103}
	ownerA = lock.Owner{Thread: 104}
	ownerB = lock.Owner{Thread: 105}

	keyK = lock.CollectionKey("/db/apps")
)

type acquireResult struct {
	hold locktable.Hold
	err  error
}

// acquireAsync issues req in a new goroutine. The result is delivered on
// the returned channel.
func acquireAsync(ctx context.Context, r *locktable.Registry, req locktable.Request) <-chan acquireResult {
	ch := make(chan acquireResult, 1)
	go func() {
		h, err := r.Acquire(ctx, req)
		ch <- acquireResult{hold: h, err: err}
	}()
	return ch
}

// waitForWaiters waits until key has n queued requests.
func waitForWaiters(t *testing.T, r *locktable.Registry, key lock.Key, n int) {
	t.Helper()
	testutils.SucceedsSoon(t, func() error {
		if got := len(r.Snapshot().Attempting[key]); got != n {
			return errors.Errorf("%d requests waiting on %s, expected %d", got, key, n)
		}
		return nil
	})
}

// checkInvariants verifies that no WRITE hold coexists with a hold of
// another owner in snap.
func checkInvariants(snap *locktable.Snapshot) error {
	for key, byMode := range snap.Acquired {
		writers := byMode[lock.Write]
		if len(writers) > 1 {
			return errors.Errorf("%s has %d WRITE holders", key, len(writers))
		}
		for w := range writers {
			for r := range byMode[lock.Read] {
				if r != w {
					return errors.Errorf("%s: WRITE held by %s and READ held by %s", key, w, r)
				}
			}
		}
		for m, byOwner := range byMode {
			for o, hs := range byOwner {
				if hs.Count <= 0 {
					return errors.Errorf("%s: %s hold of %s has count %d", key, m, o, hs.Count)
				}
			}
		}
	}
	return nil
}
