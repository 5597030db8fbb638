// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package locktable

import (
	"time"

	"github.com/cockroachdb/redact"
)

type eventKind int8

const (
	eventAttempt eventKind = iota
	eventAttemptFailed
	eventAcquired
	eventReleased
)

var eventKindNames = [...]string{
	eventAttempt:       "Attempt",
	eventAttemptFailed: "AttemptFailed",
	eventAcquired:      "Acquired",
	eventReleased:      "Released",
}

func (k eventKind) String() string { return eventKindNames[k] }

// SafeValue implements redact.SafeValue.
func (eventKind) SafeValue() {}

// lockEvent is the log line describing a step in the life of a lock
// request, e.g.
//
//	Acquired COLLECTION(WRITE) of /db/apps for #cli.runDemo(88) by g42 at 1792233600000. count=1
type lockEvent struct {
	kind  eventKind
	hold  Hold
	count int
	trace *Trace
	at    time.Time
}

func (r *Registry) event(kind eventKind, h Hold, count int, tr *Trace) lockEvent {
	return lockEvent{kind: kind, hold: h, count: count, trace: tr, at: r.cfg.Clock()}
}

// SafeFormat implements redact.SafeFormatter.
func (ev lockEvent) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s %s(%s) of %s", ev.kind, ev.hold.Key.Category, ev.hold.Mode, ev.hold.Key.ID)
	if ev.trace != nil {
		if reason := ev.trace.Reason(); reason != "" {
			w.Printf(" for #%s", redact.SafeString(reason))
		}
	}
	w.Printf(" by %s at %d", ev.hold.Owner, redact.Safe(ev.at.UnixMilli()))
	if ev.kind == eventAcquired || ev.kind == eventReleased {
		w.Printf(". count=%d", redact.Safe(ev.count))
	}
}

// String implements fmt.Stringer.
func (ev lockEvent) String() string {
	return redact.StringWithoutMarkers(ev)
}
