// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

// Package lockstatus exposes the state of the lock table to operators:
// programmatically through Status, and over HTTP through NewHandler.
package lockstatus

import (
	"context"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/mattn/go-isatty"
	"github.com/xmldb/xmldb/pkg/storage/lock"
	"github.com/xmldb/xmldb/pkg/storage/locktable"
	"github.com/xmldb/xmldb/pkg/storage/locktable/lockdump"
	"github.com/xmldb/xmldb/pkg/util/log"
	"github.com/xmldb/xmldb/pkg/util/stop"
)

// Acquired maps resource ids to the holds on them, by category, mode and
// owner.
type Acquired map[string]map[lock.Category]map[lock.Mode]map[lock.Owner]locktable.HoldState

// Attempting maps resource ids to the pending requests on them, by
// category, in queue order.
type Attempting map[string]map[lock.Category][]locktable.WaitState

// Status is the management facade of a lock table. Every method takes
// exactly one snapshot.
type Status struct {
	r       *locktable.Registry
	stopper *stop.Stopper
	console io.Writer
}

// NewStatus returns the facade for r. Console dumps are written to
// console, or to stdout if it is nil.
func NewStatus(r *locktable.Registry, stopper *stop.Stopper, console io.Writer) *Status {
	if console == nil {
		console = os.Stdout
	}
	return &Status{r: r, stopper: stopper, console: console}
}

func (s *Status) snapshot(ctx context.Context, op string) (*locktable.Snapshot, error) {
	if s.stopper.IsQuiescing() {
		return nil, errors.Wrapf(locktable.ErrInstanceNotAvailable, "%s", op)
	}
	snap := s.r.Snapshot()
	log.VEventf(ctx, 2, "%s: snapshot of %d resources", op, len(snap.Keys()))
	return snap, nil
}

// GetAcquired returns the granted locks.
func (s *Status) GetAcquired(ctx context.Context) (Acquired, error) {
	snap, err := s.snapshot(ctx, "listing acquired locks")
	if err != nil {
		return nil, err
	}
	res := make(Acquired, len(snap.Acquired))
	for key, byMode := range snap.Acquired {
		byCategory, ok := res[key.ID]
		if !ok {
			byCategory = make(map[lock.Category]map[lock.Mode]map[lock.Owner]locktable.HoldState)
			res[key.ID] = byCategory
		}
		byCategory[key.Category] = byMode
	}
	return res, nil
}

// GetAttempting returns the pending lock requests.
func (s *Status) GetAttempting(ctx context.Context) (Attempting, error) {
	snap, err := s.snapshot(ctx, "listing attempted locks")
	if err != nil {
		return nil, err
	}
	res := make(Attempting, len(snap.Attempting))
	for key, waiters := range snap.Attempting {
		byCategory, ok := res[key.ID]
		if !ok {
			byCategory = make(map[lock.Category][]locktable.WaitState)
			res[key.ID] = byCategory
		}
		byCategory[key.Category] = waiters
	}
	return res, nil
}

// consoleStyle returns the pretty style for terminals and tab-separated
// values otherwise.
func consoleStyle(w io.Writer) lockdump.Style {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return lockdump.StylePretty
	}
	return lockdump.StyleTSV
}

// DumpToConsole writes a table of the holds and waiters to the console.
// With full set, the call stacks of each hold and waiter follow.
func (s *Status) DumpToConsole(ctx context.Context, full bool) error {
	snap, err := s.snapshot(ctx, "dumping locks to console")
	if err != nil {
		return err
	}
	return lockdump.WriteText(s.console, snap, lockdump.TextOptions{Style: consoleStyle(s.console), Full: full})
}

// DumpToLog writes the holds and waiters to the INFO log, one entry per
// line.
func (s *Status) DumpToLog(ctx context.Context, full bool) error {
	snap, err := s.snapshot(ctx, "dumping locks to log")
	if err != nil {
		return err
	}
	ctx = logtags.AddTag(ctx, "lockdump", nil)
	if snap.Empty() {
		log.Info(ctx, "no locks held or requested")
		return nil
	}
	for _, l := range lockdump.LogLines(snap, full) {
		log.Infof(ctx, "%s", l)
	}
	return nil
}

// DumpExport writes a structured export of the lock table to w.
func (s *Status) DumpExport(ctx context.Context, w io.Writer, format lockdump.Format, full bool) error {
	snap, err := s.snapshot(ctx, "exporting locks")
	if err != nil {
		return err
	}
	return lockdump.WriteExport(w, lockdump.BuildExport(snap, full), format)
}
