// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package locktable

import (
	"time"

	"github.com/xmldb/xmldb/pkg/storage/lock"
	"github.com/xmldb/xmldb/pkg/util/syncutil"
)

// holder is the state of a granted lock of one owner in one mode.
type holder struct {
	count int
	// traces has one element per reentrant acquisition when traces are
	// captured, in acquisition order.
	traces []Trace
}

type waiterState int8

const (
	waiting waiterState = iota
	// granted is set by the goroutine that granted the request, which
	// also recorded the hold.
	granted
	// cancelled is set by Registry.Cancel, which also removed the waiter
	// from the queue.
	cancelled
	// abandoned is set by the waiting goroutine itself after a timeout,
	// a context cancellation or a shutdown.
	abandoned
)

// waiter is a pending lock request.
type waiter struct {
	mode       lock.Mode
	owner      lock.Owner
	enqueuedAt time.Time
	trace      *Trace

	// signal is closed when the state leaves waiting on behalf of another
	// goroutine.
	signal chan struct{}
	// state is protected by the entry mutex.
	state waiterState
}

// entry is the lock state of a single key: the holders per mode and the
// FIFO queue of waiters.
//
// An entry is referenced from its shard while it is non-empty or while an
// operation holds a reference to it. Once both are gone it is removed from
// the shard and never used again.
type entry struct {
	key lock.Key
	// refs is protected by the shard mutex.
	refs int

	mu struct {
		syncutil.Mutex
		holders [lock.MaxMode + 1]map[lock.Owner]*holder
		queue   []*waiter
	}
}

func newEntry(key lock.Key) *entry {
	e := &entry{key: key}
	for _, m := range lock.Modes {
		e.mu.holders[m] = make(map[lock.Owner]*holder)
	}
	return e
}

func (e *entry) holderLocked(mode lock.Mode, owner lock.Owner) *holder {
	return e.mu.holders[mode][owner]
}

// compatibleLocked returns whether owner could hold mode given the holds
// of all other owners. Holds of owner itself never conflict.
func (e *entry) compatibleLocked(mode lock.Mode, owner lock.Owner) bool {
	for _, m := range lock.Modes {
		if mode.Compatible(m) {
			continue
		}
		for o := range e.mu.holders[m] {
			if o != owner {
				return false
			}
		}
	}
	return true
}

// otherHoldersLocked returns the owners other than owner holding mode.
func (e *entry) otherHoldersLocked(mode lock.Mode, owner lock.Owner) []lock.Owner {
	var res []lock.Owner
	for o := range e.mu.holders[mode] {
		if o != owner {
			res = append(res, o)
		}
	}
	return res
}

// addHoldLocked records one acquisition of mode by owner and returns the
// resulting count.
func (e *entry) addHoldLocked(mode lock.Mode, owner lock.Owner, tr *Trace, m *Metrics) int {
	e.mu.AssertHeld()
	h := e.mu.holders[mode][owner]
	if h == nil {
		h = &holder{}
		e.mu.holders[mode][owner] = h
		m.Holders.Inc()
	}
	h.count++
	if tr != nil {
		h.traces = append(h.traces, *tr)
	}
	return h.count
}

// releaseHoldLocked undoes one acquisition of mode by owner and returns
// the remaining count. It returns false if owner does not hold mode.
func (e *entry) releaseHoldLocked(mode lock.Mode, owner lock.Owner, m *Metrics) (int, bool) {
	e.mu.AssertHeld()
	h := e.mu.holders[mode][owner]
	if h == nil || h.count == 0 {
		return 0, false
	}
	h.count--
	if n := len(h.traces); n > 0 {
		h.traces[n-1] = Trace{}
		h.traces = h.traces[:n-1]
	}
	if h.count == 0 {
		delete(e.mu.holders[mode], owner)
		m.Holders.Dec()
	}
	return h.count, true
}

func (e *entry) enqueueLocked(w *waiter, m *Metrics) {
	e.mu.AssertHeld()
	e.mu.queue = append(e.mu.queue, w)
	m.Waits.Inc()
	m.Waiters.Inc()
}

// removeWaiterLocked removes w from the queue. It returns false if w was
// not queued.
func (e *entry) removeWaiterLocked(w *waiter, m *Metrics) bool {
	e.mu.AssertHeld()
	for i, q := range e.mu.queue {
		if q == w {
			copy(e.mu.queue[i:], e.mu.queue[i+1:])
			e.mu.queue[len(e.mu.queue)-1] = nil
			e.mu.queue = e.mu.queue[:len(e.mu.queue)-1]
			m.Waiters.Dec()
			return true
		}
	}
	return false
}

// processQueueLocked grants the waiters at the head of the queue for as
// long as they are compatible with the current holds. A run of READ
// waiters is thus granted as a batch, while a WRITE waiter is granted only
// once it reaches the head and the holds of other owners have drained.
// Waiters behind a waiter that cannot be granted keep waiting.
func (e *entry) processQueueLocked(m *Metrics) {
	e.mu.AssertHeld()
	for len(e.mu.queue) > 0 {
		w := e.mu.queue[0]
		if !e.compatibleLocked(w.mode, w.owner) {
			return
		}
		e.mu.queue[0] = nil
		e.mu.queue = e.mu.queue[1:]
		m.Waiters.Dec()
		e.addHoldLocked(w.mode, w.owner, w.trace, m)
		w.state = granted
		close(w.signal)
	}
}

// cancelOwnerLocked cancels all pending requests of owner and returns how
// many were removed.
func (e *entry) cancelOwnerLocked(owner lock.Owner, m *Metrics) int {
	e.mu.AssertHeld()
	var n int
	kept := e.mu.queue[:0]
	for _, w := range e.mu.queue {
		if w.owner != owner {
			kept = append(kept, w)
			continue
		}
		w.state = cancelled
		close(w.signal)
		m.Waiters.Dec()
		n++
	}
	for i := len(kept); i < len(e.mu.queue); i++ {
		e.mu.queue[i] = nil
	}
	e.mu.queue = kept
	if n > 0 {
		// The head of the queue may have changed.
		e.processQueueLocked(m)
	}
	return n
}

func (e *entry) emptyLocked() bool {
	e.mu.AssertHeld()
	if len(e.mu.queue) > 0 {
		return false
	}
	for _, m := range lock.Modes {
		if len(e.mu.holders[m]) > 0 {
			return false
		}
	}
	return true
}

// snapshotLocked copies the holds and the waiters of the entry into snap.
func (e *entry) snapshotLocked(snap *Snapshot) {
	e.mu.AssertHeld()
	for _, m := range lock.Modes {
		for o, h := range e.mu.holders[m] {
			snap.addHold(e.key, m, o, HoldState{
				Count:  h.count,
				Traces: append([]Trace(nil), h.traces...),
			})
		}
	}
	for _, w := range e.mu.queue {
		ws := WaitState{Mode: w.mode, Owner: w.owner, EnqueuedAt: w.enqueuedAt}
		if w.trace != nil {
			ws.Trace = *w.trace
		}
		snap.addWaiter(e.key, ws)
	}
}
