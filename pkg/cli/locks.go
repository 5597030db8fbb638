// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/xmldb/xmldb/pkg/cli/clierror"
	"github.com/xmldb/xmldb/pkg/cli/exit"
	"github.com/xmldb/xmldb/pkg/server/lockstatus"
	"github.com/xmldb/xmldb/pkg/storage/locktable"
	"github.com/xmldb/xmldb/pkg/storage/locktable/lockdump"
	"github.com/xmldb/xmldb/pkg/util/log"
	"github.com/xmldb/xmldb/pkg/util/stop"
)

var locksCmd = &cobra.Command{
	Use:   "locks [command]",
	Short: "lock table commands",
	Long: `
Serve, inspect and exercise the lock table.
`,
}

func init() {
	locksCmd.AddCommand(serveCmd, dumpCmd, demoCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the lock table endpoints over HTTP",
	Long: `
Start a lock table and serve its status endpoints over HTTP until
interrupted:

  /debug/locks/acquired    granted locks, as JSON
  /debug/locks/attempting  pending lock requests, as JSON
  /debug/locks/dump        table or export of the lock table
  /debug/metrics           Prometheus metrics

The lock table is dumped to the log on shutdown.
`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// lockServer bundles a lock table with its facade and metrics.
type lockServer struct {
	registry *locktable.Registry
	status   *lockstatus.Status
	prom     *prometheus.Registry
}

func newLockServer(stopper *stop.Stopper, console io.Writer) (*lockServer, error) {
	prom := prometheus.NewRegistry()
	metrics := locktable.NewMetrics()
	if err := metrics.Register(prom); err != nil {
		return nil, err
	}
	if err := prom.Register(collectors.NewGoCollector()); err != nil {
		return nil, errors.Wrap(err, "registering runtime metrics")
	}
	r := locktable.NewRegistry(cliCtx.settings.Config(stopper, metrics))
	return &lockServer{
		registry: r,
		status:   lockstatus.NewStatus(r, stopper, console),
		prom:     prom,
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := logtags.AddTag(cmd.Context(), "locks", nil)
	stopper := stop.NewStopper()
	defer stopper.Stop(ctx)

	ls, err := newLockServer(stopper, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", serveCtx.listenAddr)
	if err != nil {
		return clierror.NewError(
			errors.Wrapf(err, "listening on %s", serveCtx.listenAddr), exit.CommandLineFlagError())
	}
	srv := &http.Server{
		Handler:           lockstatus.NewHandler(ls.status, ls.prom),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.NewStdLogger(log.SeverityError, "http"),
	}
	serverURL := "http://" + ln.Addr().String()
	if serveCtx.listeningURLFile != "" {
		if err := os.WriteFile(serveCtx.listeningURLFile, []byte(serverURL+"\n"), 0644); err != nil {
			_ = ln.Close()
			return errors.Wrap(err, "writing listening URL file")
		}
		urlFile := serveCtx.listeningURLFile
		stopper.AddCloser(stop.CloserFn(func() { _ = os.Remove(urlFile) }))
	}

	errCh := make(chan error, 1)
	if err := stopper.RunAsyncTask(ctx, "serve-http", func(context.Context) {
		errCh <- srv.Serve(ln)
	}); err != nil {
		_ = ln.Close()
		return err
	}
	log.Infof(ctx, "lock table listening on %s with settings:\n%s", serverURL, cliCtx.settings)
	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", serverURL)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var returnErr error
	select {
	case err := <-errCh:
		return errors.Wrap(err, "serving lock table")
	case sig := <-signalCh:
		log.Infof(ctx, "received signal %s, shutting down", sig)
		if sig == os.Interrupt {
			returnErr = clierror.NewError(errors.New("interrupted"), exit.Interrupted())
		}
	case <-ctx.Done():
		log.Infof(ctx, "shutting down")
	}

	if err := ls.status.DumpToLog(ctx, false); err != nil {
		log.Warningf(ctx, "dumping lock table: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warningf(ctx, "shutting down http server: %v", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		log.Warningf(ctx, "http server: %v", err)
	}
	return returnErr
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "dump the lock table of a running server",
	Long: `
Fetch and print the holds and waiters of the lock table of a running
server. Text dumps are printed as tables; --format selects a structured
export instead.
`,
	Args: cobra.NoArgs,
	RunE: runDump,
}

func dumpURL() (string, error) {
	u, err := url.Parse(dumpCtx.url)
	if err != nil {
		return "", clierror.NewError(errors.Wrap(err, "invalid --url"), exit.CommandLineFlagError())
	}
	u.Path = path.Join(u.Path, lockstatus.Endpoint, "dump")
	q := url.Values{}
	q.Set("format", dumpCtx.format)
	if dumpCtx.format == "text" {
		q.Set("style", dumpCtx.style.String())
	} else if _, err := lockdump.ParseFormat(dumpCtx.format); err != nil {
		return "", clierror.NewError(err, exit.CommandLineFlagError())
	}
	if dumpCtx.full {
		q.Set("full", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func runDump(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	target, err := dumpURL()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	log.VEventf(ctx, 2, "fetching %s", target)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", dumpCtx.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := errors.Newf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusServiceUnavailable {
			return clierror.NewError(errors.Wrap(err, "server unavailable"), exit.ServerUnavailable())
		}
		return errors.Wrap(err, "fetching lock table")
	}
	_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
	return errors.Wrap(err, "printing lock table")
}
