// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package lockstatus_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/xmldb/xmldb/pkg/server/lockstatus"
	"github.com/xmldb/xmldb/pkg/storage/lock"
	"github.com/xmldb/xmldb/pkg/storage/locktable"
	"github.com/xmldb/xmldb/pkg/storage/locktable/lockdump"
	"github.com/xmldb/xmldb/pkg/testutils"
	"github.com/xmldb/xmldb/pkg/util/leaktest"
	"github.com/xmldb/xmldb/pkg/util/log"
	"github.com/xmldb/xmldb/pkg/util/stop"
)

var (
	ownerW = lock.Owner{Thread: 1}
	ownerR = lock.Owner{Thread: 2}
	apps   = lock.CollectionKey("/db/apps")
)

type testServer struct {
	stopper  *stop.Stopper
	registry *locktable.Registry
	prom     *prometheus.Registry
	console  *bytes.Buffer
	status   *lockstatus.Status
	waitErr  chan error
}

// newTestServer sets up a lock table where ownerW holds apps for WRITE and
// ownerR waits to read it.
func newTestServer(t *testing.T) *testServer {
	ts := &testServer{
		stopper: stop.NewStopper(),
		prom:    prometheus.NewRegistry(),
		console: &bytes.Buffer{},
		waitErr: make(chan error, 1),
	}
	metrics := locktable.NewMetrics()
	require.NoError(t, metrics.Register(ts.prom))
	ts.registry = locktable.NewRegistry(locktable.Config{Stopper: ts.stopper, Metrics: metrics})
	ts.status = lockstatus.NewStatus(ts.registry, ts.stopper, ts.console)

	ctx := context.Background()
	_, err := ts.registry.TryAcquire(ctx, apps, lock.Write, ownerW)
	require.NoError(t, err)
	require.NoError(t, ts.stopper.RunAsyncTask(ctx, "reader", func(ctx context.Context) {
		_, err := ts.registry.Acquire(ctx, locktable.Request{
			Key: apps, Mode: lock.Read, Owner: ownerR, Timeout: lock.NoTimeout,
		})
		ts.waitErr <- err
	}))
	testutils.SucceedsSoon(t, func() error {
		if len(ts.registry.Snapshot().Attempting[apps]) != 1 {
			return errors.New("reader not queued")
		}
		return nil
	})
	return ts
}

// stop shuts the server down; the pending reader fails.
func (ts *testServer) stop(t *testing.T) {
	ts.stopper.Stop(context.Background())
	require.True(t, errors.Is(<-ts.waitErr, locktable.ErrInstanceNotAvailable))
}

func TestGetAcquiredAndAttempting(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	ts := newTestServer(t)
	defer ts.stop(t)

	acquired, err := ts.status.GetAcquired(ctx)
	require.NoError(t, err)
	require.Len(t, acquired, 1)
	require.Equal(t, 1, acquired["/db/apps"][lock.Collection][lock.Write][ownerW].Count)
	require.Empty(t, acquired["/db/apps"][lock.Collection][lock.Read])

	attempting, err := ts.status.GetAttempting(ctx)
	require.NoError(t, err)
	waiters := attempting["/db/apps"][lock.Collection]
	require.Len(t, waiters, 1)
	require.Equal(t, ownerR, waiters[0].Owner)
	require.Equal(t, lock.Read, waiters[0].Mode)
}

func TestDumps(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	ts := newTestServer(t)
	defer ts.stop(t)

	require.NoError(t, ts.status.DumpToConsole(ctx, false))
	lines := strings.Split(ts.console.String(), "\n")
	require.Equal(t, "2 rows", lines[0])
	require.True(t, strings.HasPrefix(lines[2], "/db/apps\tCOLLECTION\tWRITE\tg1\theld\t1"), lines[2])
	require.True(t, strings.HasPrefix(lines[3], "/db/apps\tCOLLECTION\tREAD\tg2\twaiting\t"), lines[3])

	var logBuf bytes.Buffer
	restore := log.SetOutput(&logBuf)
	err := ts.status.DumpToLog(ctx, false)
	restore()
	require.NoError(t, err)
	require.Contains(t, logBuf.String(), "[lockdump] COLLECTION /db/apps WRITE g1 held count=1\n")
	require.Contains(t, logBuf.String(), "[lockdump] COLLECTION /db/apps READ g2 waiting since=")

	var export bytes.Buffer
	require.NoError(t, ts.status.DumpExport(ctx, &export, lockdump.FormatJSON, false))
	require.Contains(t, export.String(), `"waitingForRead": [
            "g2"
          ]`)
}

func TestDumpToLogEmpty(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	stopper := stop.NewStopper()
	defer stopper.Stop(context.Background())
	status := lockstatus.NewStatus(locktable.NewRegistry(locktable.Config{Stopper: stopper}), stopper, nil)

	var logBuf bytes.Buffer
	restore := log.SetOutput(&logBuf)
	err := status.DumpToLog(context.Background(), true)
	restore()
	require.NoError(t, err)
	require.Contains(t, logBuf.String(), "[lockdump] no locks held or requested\n")
}

func TestUnavailableWhenQuiescing(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	ts := newTestServer(t)
	ts.stop(t)

	_, err := ts.status.GetAcquired(ctx)
	require.True(t, errors.Is(err, locktable.ErrInstanceNotAvailable), "%v", err)
	_, err = ts.status.GetAttempting(ctx)
	require.True(t, errors.Is(err, locktable.ErrInstanceNotAvailable), "%v", err)
	require.True(t, errors.Is(ts.status.DumpToConsole(ctx, false), locktable.ErrInstanceNotAvailable))
	require.True(t, errors.Is(ts.status.DumpToLog(ctx, false), locktable.ErrInstanceNotAvailable))
	require.True(t, errors.Is(
		ts.status.DumpExport(ctx, &bytes.Buffer{}, lockdump.FormatXML, false), locktable.ErrInstanceNotAvailable))
	require.Empty(t, ts.console.String())
}
