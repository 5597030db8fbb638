// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package locktable

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/xmldb/xmldb/pkg/storage/lock"
	"github.com/xmldb/xmldb/pkg/util/log"
	"github.com/xmldb/xmldb/pkg/util/syncutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/xmldb/xmldb/pkg/storage/locktable")

// Request is a request to acquire a lock.
type Request struct {
	Key   lock.Key
	Mode  lock.Mode
	Owner lock.Owner
	// Timeout bounds the time spent waiting for the lock. Zero makes the
	// request fail immediately with ErrTimedOut if it cannot be granted
	// right away, lock.NoTimeout waits indefinitely.
	Timeout time.Duration
	// CaptureTrace records the call stack of the request even when
	// Config.TraceStackDepth is zero.
	CaptureTrace bool
}

// SafeFormat implements redact.SafeFormatter.
func (r Request) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s lock on %s by %s", r.Mode, r.Key, r.Owner)
}

// Hold is a granted lock. A Hold stays valid until it has been released
// as many times as it was acquired.
type Hold struct {
	Key   lock.Key
	Mode  lock.Mode
	Owner lock.Owner
}

// SafeFormat implements redact.SafeFormatter.
func (h Hold) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s lock on %s held by %s", h.Mode, h.Key, h.Owner)
}

// String implements fmt.Stringer.
func (h Hold) String() string {
	return redact.StringWithoutMarkers(h)
}

type shard struct {
	mu      syncutil.RWMutex
	entries map[lock.Key]*entry
}

// Registry is the lock table: the arena of per-key lock entries. It is
// safe for concurrent use.
//
// Operations on distinct keys only meet on a short lookup in the shard
// owning the key. The lock order is shard mutex, then entry mutex; no
// goroutine ever holds two entry mutexes.
type Registry struct {
	cfg       Config
	shards    []shard
	warnEvery *log.EveryN
}

// NewRegistry creates a lock table.
func NewRegistry(cfg Config) *Registry {
	cfg.setDefaults()
	r := &Registry{
		cfg:       cfg,
		shards:    make([]shard, cfg.Shards),
		warnEvery: log.Every(10 * time.Second),
	}
	for i := range r.shards {
		r.shards[i].entries = make(map[lock.Key]*entry)
	}
	return r
}

// Metrics returns the metrics of the registry.
func (r *Registry) Metrics() *Metrics {
	return r.cfg.Metrics
}

func (r *Registry) shardFor(key lock.Key) *shard {
	d := xxhash.New()
	_, _ = d.Write([]byte{byte(key.Category)})
	_, _ = d.WriteString(key.ID)
	return &r.shards[d.Sum64()%uint64(len(r.shards))]
}

// ref returns the entry for key, creating it if needed, with a reference
// that must be dropped with unref.
func (r *Registry) ref(key lock.Key) (*shard, *entry) {
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = newEntry(key)
		s.entries[key] = e
	}
	e.refs++
	return s, e
}

// unref drops a reference obtained from ref, removing the entry from the
// shard if it is no longer referenced and holds no state.
func (r *Registry) unref(s *shard, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs > 0 {
		return
	}
	e.mu.Lock()
	empty := e.emptyLocked()
	e.mu.Unlock()
	if empty {
		delete(s.entries, e.key)
	}
}

// lookup returns the entry for key without creating it or taking a
// reference. An entry removed concurrently is empty and stays empty, so
// inspecting it is harmless.
func (r *Registry) lookup(key lock.Key) *entry {
	s := r.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[key]
}

// entries returns the entries of all shards, one shard at a time.
func (r *Registry) entries(f func(*entry)) {
	var buf []*entry
	for i := range r.shards {
		s := &r.shards[i]
		buf = buf[:0]
		s.mu.RLock()
		for _, e := range s.entries {
			buf = append(buf, e)
		}
		s.mu.RUnlock()
		for _, e := range buf {
			f(e)
		}
	}
}

func (r *Registry) validate(req Request) error {
	if !req.Mode.Valid() {
		return errors.Wrapf(ErrInvalidArgument, "invalid lock mode %s", req.Mode)
	}
	if !req.Owner.Valid() {
		return errors.Wrapf(ErrInvalidArgument, "invalid lock owner for %s", req.Key)
	}
	if req.Key.Category < lock.Collection || req.Key.Category > lock.MaxCategory {
		return errors.Wrapf(ErrInvalidArgument, "invalid lock category %s", req.Key.Category)
	}
	if req.Timeout < 0 {
		return errors.Wrapf(ErrInvalidArgument, "negative timeout %s", req.Timeout)
	}
	return nil
}

func (r *Registry) captureTrace(req Request) *Trace {
	depth := r.cfg.TraceStackDepth
	if depth == 0 {
		if !req.CaptureTrace {
			return nil
		}
		depth = defaultTraceDepth
	}
	// Skip Registry.captureTrace and the public entry point, the caller's
	// frame is found by Trace.Reason.
	tr := captureTrace(r.cfg.Clock(), depth, 1)
	return &tr
}

// TryAcquire attempts to acquire a lock without waiting. It returns
// ErrTimedOut if the lock cannot be granted immediately.
func (r *Registry) TryAcquire(
	ctx context.Context, key lock.Key, mode lock.Mode, owner lock.Owner,
) (Hold, error) {
	return r.Acquire(ctx, Request{Key: key, Mode: mode, Owner: owner})
}

// Acquire acquires a lock, waiting up to req.Timeout for it.
//
// A request by an owner that already holds the requested mode, or that
// holds WRITE and asks for READ, is granted immediately and increments the
// reentrancy count. A READ holder asking for WRITE is upgraded in place if
// it is the only holder; otherwise the request queues like any other. An
// owner upgraded in place holds both modes until it releases them, so the
// only WRITE hold that coexists with another hold is a READ hold of the
// same owner.
// All other requests are granted immediately only if they are compatible
// with the holds of other owners and nobody is waiting; they never barge
// ahead of queued requests.
//
// A waiting request returns ErrTimedOut once its timeout elapses,
// ErrCancelled if it is cancelled through Cancel or its context, and
// ErrInstanceNotAvailable if the registry is shutting down. A request that
// is granted concurrently with one of these events returns the Hold.
func (r *Registry) Acquire(ctx context.Context, req Request) (Hold, error) {
	if err := r.validate(req); err != nil {
		return Hold{}, err
	}
	if r.cfg.Stopper.IsQuiescing() {
		return Hold{}, errors.Wrapf(ErrInstanceNotAvailable, "acquiring %s", req)
	}
	tr := r.captureTrace(req)
	hold := Hold{Key: req.Key, Mode: req.Mode, Owner: req.Owner}
	log.VEventf(ctx, 2, "%s", r.event(eventAttempt, hold, 0, tr))

	s, e := r.ref(req.Key)
	defer r.unref(s, e)

	e.mu.Lock()
	count, ok, err := r.grantImmediatelyLocked(ctx, e, req, tr)
	if ok || err != nil {
		e.mu.Unlock()
		if err != nil {
			log.VEventf(ctx, 2, "%s", r.event(eventAttemptFailed, hold, 0, tr))
			return Hold{}, err
		}
		r.cfg.Metrics.acquired(req.Key, req.Mode)
		log.VEventf(ctx, 2, "%s", r.event(eventAcquired, hold, count, tr))
		return hold, nil
	}
	if req.Timeout == 0 {
		e.mu.Unlock()
		log.VEventf(ctx, 2, "%s", r.event(eventAttemptFailed, hold, 0, tr))
		return Hold{}, errors.Wrapf(ErrTimedOut, "%s not immediately available", req)
	}
	w := &waiter{
		mode:       req.Mode,
		owner:      req.Owner,
		enqueuedAt: r.cfg.Clock(),
		trace:      tr,
		signal:     make(chan struct{}),
	}
	e.enqueueLocked(w, r.cfg.Metrics)
	if r.cfg.WarnWaitOnReadForWrite && req.Mode == lock.Write {
		if readers := e.otherHoldersLocked(lock.Read, req.Owner); len(readers) > 0 && r.warnEvery.ShouldLog() {
			log.Warningf(ctx, "about to wait for WRITE lock on %s, but READ lock held by other owners: %v",
				req.Key, readers)
		}
	}
	e.mu.Unlock()

	if err := r.waitOn(ctx, e, w, req); err != nil {
		log.VEventf(ctx, 2, "%s", r.event(eventAttemptFailed, hold, 0, tr))
		return Hold{}, err
	}
	r.cfg.Metrics.acquired(req.Key, req.Mode)
	log.VEventf(ctx, 2, "%s", r.event(eventAcquired, hold, r.HoldCount(hold), tr))
	return hold, nil
}

// grantImmediatelyLocked grants req if it does not need to wait. It
// returns the new reentrancy count and true if the request was granted,
// and an error if the request must fail without waiting.
func (r *Registry) grantImmediatelyLocked(
	ctx context.Context, e *entry, req Request, tr *Trace,
) (int, bool, error) {
	m := r.cfg.Metrics
	if e.holderLocked(req.Mode, req.Owner) != nil {
		// Reentrant acquisition.
		return e.addHoldLocked(req.Mode, req.Owner, tr, m), true, nil
	}
	switch req.Mode {
	case lock.Read:
		if e.holderLocked(lock.Write, req.Owner) != nil {
			// A writer may always read.
			return e.addHoldLocked(req.Mode, req.Owner, tr, m), true, nil
		}
	case lock.Write:
		if e.holderLocked(lock.Read, req.Owner) != nil {
			// Upgrade. The other owners in the queue wait on us, so a sole
			// reader is upgraded in place regardless of the queue.
			if e.compatibleLocked(lock.Write, req.Owner) {
				log.VEventf(ctx, 2, "upgrading %s in place", req)
				return e.addHoldLocked(req.Mode, req.Owner, tr, m), true, nil
			}
			if r.cfg.UpgradeCheck {
				return 0, false, errors.Wrapf(ErrUpgradeDeadlock,
					"%s: READ lock also held by %v", req, e.otherHoldersLocked(lock.Read, req.Owner))
			}
			return 0, false, nil
		}
	}
	if len(e.mu.queue) == 0 && e.compatibleLocked(req.Mode, req.Owner) {
		return e.addHoldLocked(req.Mode, req.Owner, tr, m), true, nil
	}
	return 0, false, nil
}

// waitOn blocks until w is granted or abandoned.
func (r *Registry) waitOn(ctx context.Context, e *entry, w *waiter, req Request) error {
	ctx, sp := tracer.Start(ctx, "locktable.wait", trace.WithAttributes(
		attribute.String("lock.key", req.Key.String()),
		attribute.String("lock.mode", req.Mode.String()),
		attribute.String("lock.owner", req.Owner.String()),
	))
	defer sp.End()
	log.Eventf(ctx, "waiting for %s", req)
	start := time.Now()
	defer func() {
		r.cfg.Metrics.WaitDuration.Observe(time.Since(start).Seconds())
	}()

	var timerC <-chan time.Time
	if req.Timeout != lock.NoTimeout {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	var abandonErr error
	select {
	case <-w.signal:
	case <-timerC:
		abandonErr = errors.Wrapf(ErrTimedOut, "%s not granted within %s", req, req.Timeout)
	case <-ctx.Done():
		abandonErr = errors.Mark(
			errors.Wrapf(ctx.Err(), "waiting for %s", req), ErrCancelled)
	case <-r.cfg.Stopper.ShouldQuiesce():
		abandonErr = errors.Wrapf(ErrInstanceNotAvailable, "waiting for %s", req)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch w.state {
	case granted:
		log.Event(ctx, "lock granted")
		return nil
	case cancelled:
		r.cfg.Metrics.Cancellations.Inc()
		err := errors.Wrapf(ErrCancelled, "%s cancelled", req)
		sp.SetStatus(codes.Error, err.Error())
		return err
	case waiting:
		if !e.removeWaiterLocked(w, r.cfg.Metrics) {
			return errors.AssertionFailedf("waiting %s not found in queue", req)
		}
		w.state = abandoned
		// Waiters behind w may be grantable now.
		e.processQueueLocked(r.cfg.Metrics)
		switch {
		case errors.Is(abandonErr, ErrTimedOut):
			r.cfg.Metrics.Timeouts.Inc()
		case errors.Is(abandonErr, ErrCancelled):
			r.cfg.Metrics.Cancellations.Inc()
		}
		sp.SetStatus(codes.Error, abandonErr.Error())
		return abandonErr
	default:
		return errors.AssertionFailedf("unexpected waiter state %d for %s", w.state, req)
	}
}

// Release undoes one acquisition of h. Once a hold has been released as
// many times as it was acquired it disappears and the waiters at the head
// of the queue are re-evaluated. Releasing a hold that does not exist
// returns ErrIllegalRelease and leaves the lock table untouched.
func (r *Registry) Release(ctx context.Context, h Hold) error {
	e := r.lookup(h.Key)
	if e == nil {
		return r.illegalRelease(ctx, h)
	}
	s, e := r.ref(h.Key)
	defer r.unref(s, e)

	e.mu.Lock()
	count, ok := e.releaseHoldLocked(h.Mode, h.Owner, r.cfg.Metrics)
	if ok && count == 0 {
		e.processQueueLocked(r.cfg.Metrics)
	}
	e.mu.Unlock()
	if !ok {
		return r.illegalRelease(ctx, h)
	}
	log.VEventf(ctx, 2, "%s", r.event(eventReleased, h, count, nil))
	return nil
}

func (r *Registry) illegalRelease(ctx context.Context, h Hold) error {
	r.cfg.Metrics.IllegalReleases.Inc()
	err := errors.Wrapf(ErrIllegalRelease, "releasing %s", h)
	log.Errorf(ctx, "%v", err)
	return err
}

// Cancel aborts all pending requests of owner. The aborted requests return
// ErrCancelled. Locks already held by owner are not affected. It returns
// the number of requests aborted; cancelling an owner without pending
// requests is a no-op.
func (r *Registry) Cancel(ctx context.Context, owner lock.Owner) int {
	var n int
	r.entries(func(e *entry) {
		e.mu.Lock()
		defer e.mu.Unlock()
		n += e.cancelOwnerLocked(owner, r.cfg.Metrics)
	})
	if n > 0 {
		log.Infof(ctx, "cancelled %d pending lock requests of %s", n, owner)
	}
	return n
}

// IsLockedForWrite returns whether some owner holds a WRITE lock on key.
func (r *Registry) IsLockedForWrite(key lock.Key) bool {
	return r.isLocked(key, lock.Write)
}

// IsLockedForRead returns whether some owner holds a READ lock on key.
func (r *Registry) IsLockedForRead(key lock.Key) bool {
	return r.isLocked(key, lock.Read)
}

func (r *Registry) isLocked(key lock.Key, mode lock.Mode) bool {
	e := r.lookup(key)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.mu.holders[mode]) > 0
}

// HoldCount returns the reentrancy count of h, or zero if it is not held.
func (r *Registry) HoldCount(h Hold) int {
	e := r.lookup(h.Key)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if hl := e.holderLocked(h.Mode, h.Owner); hl != nil {
		return hl.count
	}
	return 0
}

// Len returns the number of keys with lock state.
func (r *Registry) Len() int {
	var n int
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
