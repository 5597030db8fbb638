// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/xmldb/xmldb/pkg/cli/clierror"
	"github.com/xmldb/xmldb/pkg/cli/exit"
	"github.com/xmldb/xmldb/pkg/server/lockstatus"
	"github.com/xmldb/xmldb/pkg/storage/lock"
	"github.com/xmldb/xmldb/pkg/storage/locktable"
	"github.com/xmldb/xmldb/pkg/testutils"
	"github.com/xmldb/xmldb/pkg/util/leaktest"
	"github.com/xmldb/xmldb/pkg/util/log"
	"github.com/xmldb/xmldb/pkg/util/stop"
)

// runWithOutput runs the command line and returns what it printed.
func runWithOutput(ctx context.Context, args ...string) (string, error) {
	var buf bytes.Buffer
	xdbCmd.SetOut(&buf)
	defer xdbCmd.SetOut(nil)
	err := RunContext(ctx, args)
	return buf.String(), err
}

func TestSettingsFromFileAndFlags(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	configFile := filepath.Join(t.TempDir(), "locks.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
shards: 8
lock-timeout: 5s
upgrade-check: true
`), 0644))

	_, err := runWithOutput(context.Background(),
		"locks", "demo", "--config", configFile, "--shards=4", "--workers=1", "--ops=0")
	require.NoError(t, err)
	require.Equal(t, 4, cliCtx.settings.Shards)
	require.Equal(t, 5*time.Second, cliCtx.settings.LockTimeout)
	require.True(t, cliCtx.settings.UpgradeCheck)

	// Flags do not carry over to the next invocation.
	_, err = runWithOutput(context.Background(), "locks", "demo", "--workers=1", "--ops=0")
	require.NoError(t, err)
	require.Equal(t, locktable.DefaultSettings(), cliCtx.settings)

	_, err = runWithOutput(context.Background(), "locks", "demo", "--shards=0", "--ops=0")
	require.EqualError(t, err, "shards must be positive, got 0")

	require.NoError(t, os.WriteFile(configFile, []byte("shard: 8\n"), 0644))
	_, err = runWithOutput(context.Background(), "locks", "demo", "--config", configFile, "--ops=0")
	require.Error(t, err)
	require.Contains(t, err.Error(), "field shard not found")
}

func TestDemo(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	out, err := runWithOutput(context.Background(),
		"locks", "demo", "--workers=4", "--ops=25", "--collections=2", "--write-ratio=30",
		"--lock-timeout=20s", "--dump-interval=1ms", "--collections-multi-writer")
	require.NoError(t, err)
	require.Contains(t, out, "100 lock operations by 4 workers in ")
	require.Contains(t, out, "100 granted, 0 timed out\n")
	require.True(t, strings.HasSuffix(out, "lock table is empty\n"), out)

	_, err = runWithOutput(context.Background(), "locks", "demo", "--workers=0")
	require.Equal(t, exit.CommandLineFlagError(), clierror.ExitCode(err))
}

func TestDump(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()

	stopper := stop.NewStopper()
	r := locktable.NewRegistry(locktable.Config{Stopper: stopper})
	_, err := r.TryAcquire(ctx, lock.CollectionKey("/db"), lock.Write, lock.Owner{Thread: 7})
	require.NoError(t, err)
	srv := httptest.NewServer(lockstatus.NewHandler(lockstatus.NewStatus(r, stopper, io.Discard), nil))
	defer srv.Close()
	defer http.DefaultClient.CloseIdleConnections()

	out, err := runWithOutput(ctx, "locks", "dump", "--url", srv.URL, "--style=tsv")
	require.NoError(t, err)
	require.Equal(t, "1 row\n"+
		"resource\tcategory\tmode\towner\tstate\tcount\tsince\n"+
		"/db\tCOLLECTION\tWRITE\tg7\theld\t1\t\n", out)

	out, err = runWithOutput(ctx, "locks", "dump", "--url", srv.URL, "--format=yaml")
	require.NoError(t, err)
	require.Contains(t, out, "- id: /db\n  category: COLLECTION\n")

	_, err = runWithOutput(ctx, "locks", "dump", "--url", srv.URL, "--format=toml")
	require.Equal(t, exit.CommandLineFlagError(), clierror.ExitCode(err))

	_, err = runWithOutput(ctx, "locks", "dump", "--url", srv.URL, "--style=fancy")
	require.Error(t, err)

	stopper.Stop(ctx)
	_, err = runWithOutput(ctx, "locks", "dump", "--url", srv.URL)
	require.Equal(t, exit.ServerUnavailable(), clierror.ExitCode(err), "%v", err)
	require.Contains(t, err.Error(), "503 Service Unavailable")
}

func TestServe(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	defer http.DefaultClient.CloseIdleConnections()

	urlFile := filepath.Join(t.TempDir(), "url")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		_, err := runWithOutput(ctx, "locks", "serve",
			"--listen-addr=127.0.0.1:0", "--listening-url-file", urlFile, "--trace-stack-depth=4")
		errCh <- err
	}()

	var serverURL string
	testutils.SucceedsSoon(t, func() error {
		b, err := os.ReadFile(urlFile)
		if err != nil {
			return err
		}
		if !bytes.HasSuffix(b, []byte("\n")) {
			return errors.New("listening URL not written yet")
		}
		serverURL = strings.TrimSpace(string(b))
		return nil
	})

	for path, expected := range map[string]string{
		"/debug/locks/acquired":   "{}",
		"/debug/locks/attempting": "{}",
	} {
		resp, err := http.Get(serverURL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, resp.Body.Close())
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, expected, string(body))
	}
	resp, err := http.Get(serverURL + "/debug/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	require.Contains(t, string(body), "go_goroutines")
	require.Contains(t, string(body), "xmldb_locks_holders 0")

	cancel()
	require.NoError(t, <-errCh)
	_, err = os.Stat(urlFile)
	require.True(t, os.IsNotExist(err), "%v", err)
}

func TestVersion(t *testing.T) {
	out, err := runWithOutput(context.Background(), "version")
	require.NoError(t, err)
	require.Contains(t, out, "Go Version:")
}
