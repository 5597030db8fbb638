// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

// Package stop provides a Stopper, which coordinates the graceful
// shutdown of a server or a test.
package stop

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/xmldb/xmldb/pkg/util/log"
	"github.com/xmldb/xmldb/pkg/util/syncutil"
)

// ErrUnavailable indicates that the server is quiescing and is unable to
// process new work.
var ErrUnavailable = errors.New("node unavailable; try another peer")

// A Closer is closed when the Stopper stops.
type Closer interface {
	Close()
}

// CloserFn is type that allows any function to be a Closer.
type CloserFn func()

// Close implements the Closer interface.
func (f CloserFn) Close() {
	f()
}

// A Stopper provides control over the lifecycle of goroutines started
// through it via its RunAsyncTask method.
//
// When Stop is invoked, the Stopper first closes the ShouldQuiesce channel,
// which signals blocked operations to give up. It then waits for all
// running tasks to finish, runs the registered closers in reverse order and
// finally closes IsStopped.
type Stopper struct {
	quiescer  chan struct{}
	stopped   chan struct{}
	quiescing atomic.Bool

	mu struct {
		syncutil.Mutex
		stopping bool
		numTasks int
		idle     chan struct{}
		closers  []Closer
	}
}

// NewStopper returns an instance of Stopper.
func NewStopper() *Stopper {
	return &Stopper{
		quiescer: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// AddCloser adds an object to close after the stopper has been stopped.
// If the stopper is already stopping, the closer is closed immediately.
func (s *Stopper) AddCloser(c Closer) {
	s.mu.Lock()
	if s.mu.stopping {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.mu.closers = append(s.mu.closers, c)
	s.mu.Unlock()
}

// RunAsyncTask runs function f in a goroutine. It returns ErrUnavailable
// if the stopper is quiescing, in which case f is not run.
func (s *Stopper) RunAsyncTask(ctx context.Context, taskName string, f func(context.Context)) error {
	s.mu.Lock()
	if s.mu.stopping {
		s.mu.Unlock()
		return errors.Wrapf(ErrUnavailable, "refusing to start %s", taskName)
	}
	s.mu.numTasks++
	s.mu.Unlock()

	go func() {
		defer s.taskDone()
		f(ctx)
	}()
	return nil
}

func (s *Stopper) taskDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.numTasks--
	if s.mu.numTasks == 0 && s.mu.idle != nil {
		close(s.mu.idle)
		s.mu.idle = nil
	}
}

// NumTasks returns the number of active tasks.
func (s *Stopper) NumTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.numTasks
}

// ShouldQuiesce returns a channel which will be closed when Stop() has
// been invoked and outstanding tasks should begin to quiesce.
func (s *Stopper) ShouldQuiesce() <-chan struct{} {
	if s == nil {
		// A nil stopper never quiesces.
		return nil
	}
	return s.quiescer
}

// IsQuiescing returns true once Stop has been called.
func (s *Stopper) IsQuiescing() bool {
	return s != nil && s.quiescing.Load()
}

// IsStopped returns a channel which will be closed after Stop() has been
// invoked to full completion.
func (s *Stopper) IsStopped() <-chan struct{} {
	return s.stopped
}

// Stop signals all live tasks to quiesce, waits for them to finish and
// then runs the closers. Calling Stop more than once is a no-op.
func (s *Stopper) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.mu.stopping {
		s.mu.Unlock()
		<-s.stopped
		return
	}
	s.mu.stopping = true
	var idle chan struct{}
	if s.mu.numTasks > 0 {
		idle = make(chan struct{})
		s.mu.idle = idle
	}
	s.mu.Unlock()

	s.quiescing.Store(true)
	close(s.quiescer)
	if idle != nil {
		log.Infof(ctx, "quiescing; waiting for %d tasks", s.NumTasks())
		<-idle
	}

	s.mu.Lock()
	closers := s.mu.closers
	s.mu.closers = nil
	s.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close()
	}
	close(s.stopped)
}
