// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package locktable_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xmldb/xmldb/pkg/storage/lock"
	"github.com/xmldb/xmldb/pkg/storage/locktable"
	"github.com/xmldb/xmldb/pkg/util/leaktest"
	"github.com/xmldb/xmldb/pkg/util/log"
)

func lockFromHelper(t *testing.T, r *locktable.Registry, capture bool) locktable.Hold {
	h, err := r.Acquire(context.Background(), locktable.Request{
		Key: keyK, Mode: lock.Read, Owner: ownerX, CaptureTrace: capture,
	})
	require.NoError(t, err)
	return h
}

func TestTraces(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	t.Run("disabled", func(t *testing.T) {
		r := locktable.NewRegistry(locktable.Config{})
		h := lockFromHelper(t, r, false)
		require.Empty(t, r.Snapshot().Acquired[keyK][lock.Read][ownerX].Traces)
		require.NoError(t, r.Release(context.Background(), h))
	})

	t.Run("per request", func(t *testing.T) {
		r := locktable.NewRegistry(locktable.Config{})
		h := lockFromHelper(t, r, true)
		traces := r.Snapshot().Acquired[keyK][lock.Read][ownerX].Traces
		require.Len(t, traces, 1)
		require.True(t, strings.HasPrefix(traces[0].Reason(), "locktable_test.lockFromHelper("), traces[0].Reason())
		require.NoError(t, r.Release(context.Background(), h))
	})

	t.Run("bounded depth", func(t *testing.T) {
		r := locktable.NewRegistry(locktable.Config{TraceStackDepth: 3})
		h := lockFromHelper(t, r, false)
		lockFromHelper(t, r, false)
		traces := r.Snapshot().Acquired[keyK][lock.Read][ownerX].Traces
		require.Len(t, traces, 2)
		for _, tr := range traces {
			require.LessOrEqual(t, len(tr.PCs), 3)
			require.Len(t, tr.Lines(), len(tr.Frames()))
		}

		require.NoError(t, r.Release(context.Background(), h))
		require.Len(t, r.Snapshot().Acquired[keyK][lock.Read][ownerX].Traces, 1)
		require.NoError(t, r.Release(context.Background(), h))
	})

	t.Run("full", func(t *testing.T) {
		r := locktable.NewRegistry(locktable.Config{TraceStackDepth: -1})
		h := lockFromHelper(t, r, false)
		tr := r.Snapshot().Acquired[keyK][lock.Read][ownerX].Traces[0]
		var sawTest bool
		for _, l := range tr.Lines() {
			if strings.HasPrefix(l, "locktable_test.TestTraces") {
				sawTest = true
			}
		}
		require.True(t, sawTest, "%s", strings.Join(tr.Lines(), "\n"))
		require.NoError(t, r.Release(context.Background(), h))
	})
	t.Run("json", func(t *testing.T) {
		b, err := json.Marshal(locktable.Trace{})
		require.NoError(t, err)
		require.Equal(t, "null", string(b))

		r := locktable.NewRegistry(locktable.Config{TraceStackDepth: -1})
		h := lockFromHelper(t, r, false)
		b, err = json.Marshal(r.Snapshot().Acquired[keyK][lock.Read][ownerX])
		require.NoError(t, err)
		var decoded struct {
			Count  int
			Traces []struct {
				Frames []string
			}
		}
		require.NoError(t, json.Unmarshal(b, &decoded))
		require.Equal(t, 1, decoded.Count)
		require.Len(t, decoded.Traces, 1)
		require.NotEmpty(t, decoded.Traces[0].Frames)
		require.NoError(t, r.Release(context.Background(), h))
	})
}
