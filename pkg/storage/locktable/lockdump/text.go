// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

// Package lockdump renders lock table snapshots for humans and tools: as
// text tables for the console, as log lines, and as structured XML, JSON
// or YAML exports. All renderings are pure functions of a snapshot.
package lockdump

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/xmldb/xmldb/pkg/storage/lock"
	"github.com/xmldb/xmldb/pkg/storage/locktable"
)

// TextOptions controls WriteText.
type TextOptions struct {
	Style Style
	// Full appends the captured call stacks of each hold and waiter.
	Full bool
}

var columns = []string{"resource", "category", "mode", "owner", "state", "count", "since"}

const (
	stateHeld    = "held"
	stateWaiting = "waiting"
)

// since renders the age of t relative to the time of the snapshot.
func since(t, takenAt time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, takenAt, "ago", "from now")
}

type holdRow struct {
	key   lock.Key
	mode  lock.Mode
	owner lock.Owner
	state locktable.HoldState
}

// orderedHolds returns the holds of key ordered by mode, then owner.
func orderedHolds(snap *locktable.Snapshot, key lock.Key) []holdRow {
	var res []holdRow
	for _, m := range lock.Modes {
		for _, o := range snap.Holders(key, m) {
			res = append(res, holdRow{key: key, mode: m, owner: o, state: snap.Acquired[key][m][o]})
		}
	}
	return res
}

func firstTraceAt(traces []locktable.Trace) time.Time {
	if len(traces) == 0 {
		return time.Time{}
	}
	return traces[0].At
}

// rows returns one row per hold and one per waiter, ordered by key.
func rows(snap *locktable.Snapshot) [][]string {
	var res [][]string
	for _, key := range snap.Keys() {
		for _, h := range orderedHolds(snap, key) {
			res = append(res, []string{
				key.ID, key.Category.String(), h.mode.String(), h.owner.String(),
				stateHeld, strconv.Itoa(h.state.Count), since(firstTraceAt(h.state.Traces), snap.TakenAt),
			})
		}
		for _, w := range snap.Attempting[key] {
			res = append(res, []string{
				key.ID, key.Category.String(), w.Mode.String(), w.Owner.String(),
				stateWaiting, "", since(w.EnqueuedAt, snap.TakenAt),
			})
		}
	}
	return res
}

// WriteText writes a table of the holds and waiters of snap to w.
func WriteText(w io.Writer, snap *locktable.Snapshot, opts TextOptions) error {
	if err := printRows(w, columns, rows(snap), opts.Style); err != nil {
		return err
	}
	if !opts.Full {
		return nil
	}
	var sb strings.Builder
	for _, section := range traceSections(snap) {
		sb.WriteString(section.title)
		sb.WriteString(":\n")
		for _, l := range section.lines {
			sb.WriteString("    ")
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

type traceSection struct {
	title string
	lines []string
}

func traceSections(snap *locktable.Snapshot) []traceSection {
	var res []traceSection
	for _, key := range snap.Keys() {
		for _, h := range orderedHolds(snap, key) {
			for i, tr := range h.state.Traces {
				res = append(res, traceSection{
					title: fmt.Sprintf("%s lock on %s held by %s (%d of %d), acquired %s",
						h.mode, key, h.owner, i+1, len(h.state.Traces), since(tr.At, snap.TakenAt)),
					lines: tr.Lines(),
				})
			}
		}
		for _, w := range snap.Attempting[key] {
			if len(w.Trace.PCs) == 0 {
				continue
			}
			res = append(res, traceSection{
				title: fmt.Sprintf("%s lock on %s requested by %s, waiting since %s",
					w.Mode, key, w.Owner, since(w.EnqueuedAt, snap.TakenAt)),
				lines: w.Trace.Lines(),
			})
		}
	}
	return res
}

// LogLines renders snap as one line per hold and waiter, for writing to
// the log. With full set, the call stacks follow their hold or waiter.
func LogLines(snap *locktable.Snapshot, full bool) []string {
	var res []string
	for _, row := range rows(snap) {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s %s %s %s %s", row[1], row[0], row[2], row[3], row[4])
		if row[5] != "" {
			fmt.Fprintf(&sb, " count=%s", row[5])
		}
		if row[6] != "" {
			fmt.Fprintf(&sb, " since=%s", row[6])
		}
		res = append(res, sb.String())
	}
	if full {
		for _, section := range traceSections(snap) {
			res = append(res, section.title)
			for _, l := range section.lines {
				res = append(res, "    "+l)
			}
		}
	}
	return res
}
