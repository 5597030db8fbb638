// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package locktable

import (
	"testing"
	"time"

	"github.com/cockroachdb/redact"
	"github.com/stretchr/testify/require"
	"github.com/xmldb/xmldb/pkg/storage/lock"
	"github.com/xmldb/xmldb/pkg/util/syncutil"
)

func TestLockEventFormat(t *testing.T) {
	at := time.UnixMilli(1792233600000)
	r := NewRegistry(Config{Clock: func() time.Time { return at }})
	h := Hold{Key: lock.DocumentKey("/db/apps/a.xml"), Mode: lock.Read, Owner: lock.Owner{Thread: 7, Txn: 3}}

	require.Equal(t,
		"Attempt DOCUMENT(READ) of /db/apps/a.xml by g7/txn3 at 1792233600000",
		r.event(eventAttempt, h, 0, nil).String())
	require.Equal(t,
		"Released DOCUMENT(READ) of /db/apps/a.xml by g7/txn3 at 1792233600000. count=2",
		r.event(eventReleased, h, 2, nil).String())
	require.EqualValues(t,
		"AttemptFailed DOCUMENT(READ) of ‹×› by g7/txn3 at 1792233600000",
		redact.Sprint(r.event(eventAttemptFailed, h, 0, nil)).Redact())

	// Frames of the lock table itself are not a reason.
	tr := captureTrace(at, -1, 0)
	require.Regexp(t, `^testing\.tRunner\(\d+\)$`, tr.Reason())
}

func TestShardLifecycle(t *testing.T) {
	r := NewRegistry(Config{Shards: 1})
	k := lock.CollectionKey("/db")
	s, e := r.ref(k)
	s2, e2 := r.ref(k)
	require.Same(t, s, s2)
	require.Same(t, e, e2)
	require.Equal(t, 2, e.refs)
	r.unref(s, e)
	require.Equal(t, 1, r.Len())
	r.unref(s, e)
	require.Equal(t, 0, r.Len())

	// Entries with state outlive their references.
	s, e = r.ref(k)
	e.mu.Lock()
	e.addHoldLocked(lock.Read, lock.Owner{Thread: 1}, nil, r.cfg.Metrics)
	e.mu.Unlock()
	r.unref(s, e)
	require.Same(t, e, r.lookup(k))
}

func TestEntryRequiresMutex(t *testing.T) {
	if syncutil.DeadlockEnabled {
		t.Skip("deadlock mutexes do not track their holder")
	}
	m := NewMetrics()
	e := newEntry(lock.CollectionKey("/db"))
	owner := lock.Owner{Thread: 1}
	require.Panics(t, func() { e.addHoldLocked(lock.Read, owner, nil, m) })
	require.Panics(t, func() { e.processQueueLocked(m) })
	require.Panics(t, func() { e.cancelOwnerLocked(owner, m) })
	require.Panics(t, func() { e.snapshotLocked(newSnapshot(time.Time{})) })

	e.mu.Lock()
	defer e.mu.Unlock()
	require.Equal(t, 1, e.addHoldLocked(lock.Read, owner, nil, m))
	count, ok := e.releaseHoldLocked(lock.Read, owner, m)
	require.True(t, ok)
	require.Zero(t, count)
	require.True(t, e.emptyLocked())
}
