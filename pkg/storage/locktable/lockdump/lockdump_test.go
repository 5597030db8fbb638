// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package lockdump_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/xmldb/xmldb/pkg/storage/lock"
	"github.com/xmldb/xmldb/pkg/storage/locktable"
	"github.com/xmldb/xmldb/pkg/storage/locktable/lockdump"
	"github.com/xmldb/xmldb/pkg/testutils"
	"github.com/xmldb/xmldb/pkg/util/leaktest"
)

var startTime = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

// manualClock is a clock that only moves when advanced.
type manualClock struct {
	nanos atomic.Int64
}

func newManualClock(t time.Time) *manualClock {
	c := &manualClock{}
	c.nanos.Store(t.UnixNano())
	return c
}

func (c *manualClock) Now() time.Time {
	return time.Unix(0, c.nanos.Load()).UTC()
}

func (c *manualClock) Advance(d time.Duration) {
	c.nanos.Add(int64(d))
}

type pending struct {
	req locktable.Request
	ch  chan error
}

type testEnv struct {
	clock   *manualClock
	r       *locktable.Registry
	pending map[lock.Owner]*pending
}

func newTestEnv() *testEnv {
	clock := newManualClock(startTime)
	return &testEnv{
		clock:   clock,
		r:       locktable.NewRegistry(locktable.Config{Clock: clock.Now}),
		pending: make(map[lock.Owner]*pending),
	}
}

func scanRequest(t *testing.T, d *datadriven.TestData) locktable.Request {
	var ownerStr, keyStr, modeStr string
	d.ScanArgs(t, "owner", &ownerStr)
	d.ScanArgs(t, "key", &keyStr)
	d.ScanArgs(t, "mode", &modeStr)
	cat := lock.Collection
	if d.HasArg("category") {
		var catStr string
		d.ScanArgs(t, "category", &catStr)
		var err error
		cat, err = lock.ParseCategory(catStr)
		require.NoError(t, err)
	}
	owner, err := lock.ParseOwner(ownerStr)
	require.NoError(t, err)
	mode, err := lock.ParseMode(modeStr)
	require.NoError(t, err)
	return locktable.Request{
		Key:   lock.Key{Category: cat, ID: keyStr},
		Mode:  mode,
		Owner: owner,
	}
}

func (env *testEnv) scanOwner(t *testing.T, d *datadriven.TestData) lock.Owner {
	var ownerStr string
	d.ScanArgs(t, "owner", &ownerStr)
	owner, err := lock.ParseOwner(ownerStr)
	require.NoError(t, err)
	return owner
}

// acquireAndWait issues req in the background and waits until it is
// either granted or queued behind the current holders.
func (env *testEnv) acquireAndWait(t *testing.T, req locktable.Request) string {
	req.Timeout = lock.NoTimeout
	p := &pending{req: req, ch: make(chan error, 1)}
	queued := len(env.r.Snapshot().Attempting[req.Key])
	go func() {
		_, err := env.r.Acquire(context.Background(), req)
		p.ch <- err
	}()
	var res string
	testutils.SucceedsSoon(t, func() error {
		select {
		case err := <-p.ch:
			res = resultString(err)
			return nil
		default:
		}
		if len(env.r.Snapshot().Attempting[req.Key]) > queued {
			env.pending[req.Owner] = p
			res = "waiting"
			return nil
		}
		return errors.New("request neither granted nor queued")
	})
	return res
}

func resultString(err error) string {
	switch {
	case err == nil:
		return "granted"
	case errors.Is(err, locktable.ErrCancelled):
		return "cancelled"
	case errors.Is(err, locktable.ErrTimedOut):
		return "timed out"
	default:
		return fmt.Sprintf("error: %v", err)
	}
}

func TestLockDump(t *testing.T) {
	defer leaktest.AfterTest(t)()

	datadriven.Walk(t, "testdata", func(t *testing.T, path string) {
		var env *testEnv
		defer func() {
			if env != nil {
				for owner := range env.pending {
					env.r.Cancel(context.Background(), owner)
					<-env.pending[owner].ch
				}
			}
		}()
		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			ctx := context.Background()
			if d.Cmd != "new-registry" && env == nil {
				d.Fatalf(t, "new-registry must come first")
			}
			switch d.Cmd {
			case "new-registry":
				env = newTestEnv()
				return ""

			case "acquire":
				req := scanRequest(t, d)
				if d.HasArg("wait") {
					return env.acquireAndWait(t, req)
				}
				_, err := env.r.Acquire(ctx, req)
				return resultString(err)

			case "await":
				owner := env.scanOwner(t, d)
				p, ok := env.pending[owner]
				if !ok {
					d.Fatalf(t, "no pending request for %s", owner)
				}
				delete(env.pending, owner)
				return resultString(<-p.ch)

			case "release":
				req := scanRequest(t, d)
				if err := env.r.Release(ctx, locktable.Hold{Key: req.Key, Mode: req.Mode, Owner: req.Owner}); err != nil {
					return fmt.Sprintf("error: %v", err)
				}
				return "ok"

			case "cancel":
				owner := env.scanOwner(t, d)
				return fmt.Sprintf("cancelled %d", env.r.Cancel(ctx, owner))

			case "advance":
				var durStr string
				d.ScanArgs(t, "dur", &durStr)
				dur, err := time.ParseDuration(durStr)
				require.NoError(t, err)
				env.clock.Advance(dur)
				return ""

			case "dump":
				style := lockdump.StyleTSV
				if d.HasArg("style") {
					var styleStr string
					d.ScanArgs(t, "style", &styleStr)
					var err error
					style, err = lockdump.ParseStyle(styleStr)
					require.NoError(t, err)
				}
				var sb strings.Builder
				require.NoError(t, lockdump.WriteText(&sb, env.r.Snapshot(), lockdump.TextOptions{Style: style}))
				return sb.String()

			case "export":
				var formatStr string
				d.ScanArgs(t, "format", &formatStr)
				format, err := lockdump.ParseFormat(formatStr)
				require.NoError(t, err)
				var sb strings.Builder
				ex := lockdump.BuildExport(env.r.Snapshot(), false)
				require.NoError(t, lockdump.WriteExport(&sb, ex, format))
				return sb.String()

			case "log-lines":
				return strings.Join(lockdump.LogLines(env.r.Snapshot(), false), "\n")

			default:
				d.Fatalf(t, "unknown command %s", d.Cmd)
				return ""
			}
		})
	})
}

// populate sets up a registry where g1 holds /db and /db/apps and g2 waits
// to read /db/apps.
func populate(t *testing.T) (*locktable.Registry, func()) {
	clock := newManualClock(startTime)
	r := locktable.NewRegistry(locktable.Config{Clock: clock.Now, TraceStackDepth: 8})
	ctx := context.Background()
	owner1 := lock.Owner{Thread: 1}
	_, err := r.TryAcquire(ctx, lock.CollectionKey("/db/apps"), lock.Write, owner1)
	require.NoError(t, err)
	_, err = r.TryAcquire(ctx, lock.CollectionKey("/db"), lock.Read, owner1)
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	done := make(chan error, 1)
	waiter := lock.Owner{Thread: 2}
	go func() {
		_, err := r.Acquire(ctx, locktable.Request{
			Key: lock.CollectionKey("/db/apps"), Mode: lock.Read, Owner: waiter, Timeout: lock.NoTimeout,
		})
		done <- err
	}()
	testutils.SucceedsSoon(t, func() error {
		if len(r.Snapshot().Attempting[lock.CollectionKey("/db/apps")]) != 1 {
			return errors.New("waiter not queued")
		}
		return nil
	})
	clock.Advance(time.Minute)
	return r, func() {
		require.Equal(t, 1, r.Cancel(ctx, waiter))
		require.True(t, errors.Is(<-done, locktable.ErrCancelled))
	}
}

func TestPrettyStyle(t *testing.T) {
	defer leaktest.AfterTest(t)()
	r, cleanup := populate(t)
	defer cleanup()

	var sb strings.Builder
	require.NoError(t, lockdump.WriteText(&sb, r.Snapshot(), lockdump.TextOptions{Style: lockdump.StylePretty}))
	out := sb.String()
	require.Contains(t, out, "resource")
	require.Contains(t, out, "/db/apps")
	require.Contains(t, out, "1 minute ago")
	require.Contains(t, out, "+--")
	require.True(t, strings.HasSuffix(out, "(3 rows)\n"), out)
}

func TestRecordsAndHTMLStyles(t *testing.T) {
	defer leaktest.AfterTest(t)()
	r, cleanup := populate(t)
	defer cleanup()
	snap := r.Snapshot()

	var sb strings.Builder
	require.NoError(t, lockdump.WriteText(&sb, snap, lockdump.TextOptions{Style: lockdump.StyleRecords}))
	require.Contains(t, sb.String(), "-[ RECORD 3 ]\n")
	require.Contains(t, sb.String(), "state    | waiting\n")

	sb.Reset()
	require.NoError(t, lockdump.WriteText(&sb, snap, lockdump.TextOptions{Style: lockdump.StyleHTML}))
	require.Contains(t, sb.String(), "<th>resource</th>")
	require.Contains(t, sb.String(), "<td>WRITE</td>")
}

func TestFullDumpIncludesTraces(t *testing.T) {
	defer leaktest.AfterTest(t)()
	r, cleanup := populate(t)
	defer cleanup()
	snap := r.Snapshot()

	var sb strings.Builder
	require.NoError(t, lockdump.WriteText(&sb, snap, lockdump.TextOptions{Style: lockdump.StyleTSV, Full: true}))
	require.Contains(t, sb.String(), "WRITE lock on COLLECTION(/db/apps) held by g1 (1 of 1), acquired 1 minute ago:\n")
	require.Contains(t, sb.String(), "READ lock on COLLECTION(/db/apps) requested by g2, waiting since 1 minute ago:\n")
	require.Contains(t, sb.String(), "    lockdump_test.populate ")

	lines := lockdump.LogLines(snap, true)
	require.Equal(t, "COLLECTION /db READ g1 held count=1 since=1 minute ago", lines[0])
	require.Contains(t, strings.Join(lines, "\n"), "held by g1 (1 of 1)")
}

func TestExportXML(t *testing.T) {
	defer leaktest.AfterTest(t)()
	r, cleanup := populate(t)
	defer cleanup()

	var sb strings.Builder
	ex := lockdump.BuildExport(r.Snapshot(), false)
	require.NoError(t, lockdump.WriteExport(&sb, ex, lockdump.FormatXML))
	const expected = `<?xml version="1.0" encoding="UTF-8"?>
<locks takenAt="2026-10-17T12:01:05Z">
  <resource id="/db" category="COLLECTION">
    <hold mode="READ" owner="g1" count="1"></hold>
  </resource>
  <resource id="/db/apps" category="COLLECTION">
    <hold mode="WRITE" owner="g1" count="1">
      <waitingForRead>
        <owner>g2</owner>
      </waitingForRead>
    </hold>
    <attempting>
      <attempt mode="READ" owner="g2" enqueuedAt="2026-10-17T12:00:05Z"></attempt>
    </attempting>
  </resource>
</locks>
`
	require.Equal(t, expected, sb.String())

	sb.Reset()
	full := lockdump.BuildExport(r.Snapshot(), true)
	require.NoError(t, lockdump.WriteExport(&sb, full, lockdump.FormatXML))
	require.Contains(t, sb.String(), `<trace at="2026-10-17T12:00:00Z">`)
	require.Contains(t, sb.String(), "<frame>lockdump_test.populate ")
}

func TestParseStyleAndFormat(t *testing.T) {
	for _, s := range []lockdump.Style{
		lockdump.StylePretty, lockdump.StyleTSV, lockdump.StyleCSV, lockdump.StyleRecords, lockdump.StyleHTML,
	} {
		parsed, err := lockdump.ParseStyle(strings.ToUpper(s.String()))
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
	_, err := lockdump.ParseStyle("fancy")
	require.EqualError(t, err, `unknown display style "fancy"`)

	for _, f := range []lockdump.Format{lockdump.FormatXML, lockdump.FormatJSON, lockdump.FormatYAML} {
		parsed, err := lockdump.ParseFormat(f.String())
		require.NoError(t, err)
		require.Equal(t, f, parsed)
	}
	_, err = lockdump.ParseFormat("toml")
	require.EqualError(t, err, `unknown export format "toml"`)
}
