// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package cli

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/xmldb/xmldb/pkg/cli/clierror"
	"github.com/xmldb/xmldb/pkg/cli/exit"
	"github.com/xmldb/xmldb/pkg/storage/lock"
	"github.com/xmldb/xmldb/pkg/storage/locktable"
	"github.com/xmldb/xmldb/pkg/util/log"
	"github.com/xmldb/xmldb/pkg/util/stop"
	"golang.org/x/sync/errgroup"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "run a lock workload against an in-memory lock table",
	Long: `
Run concurrent workers that lock collections and documents under /db/demo,
then print a summary. The command fails if locks are left behind.
`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

type demoStats struct {
	granted  atomic.Int64
	timedOut atomic.Int64
}

func demoCollection(i int) string {
	return fmt.Sprintf("/db/demo/c%d", i)
}

// runDemoWorker runs demoCtx.ops operations. Each locks a collection and,
// every other time, a document in it, then releases both.
func runDemoWorker(
	ctx context.Context, r *locktable.Registry, worker int, timeout time.Duration, stats *demoStats,
) error {
	owner := lock.CurrentOwner()
	ctx = logtags.AddTag(ctx, "worker", worker)
	rng := rand.New(rand.NewSource(int64(worker)))
	for i := 0; i < demoCtx.ops; i++ {
		mode := lock.Read
		if rng.Intn(100) < demoCtx.writeRatio {
			mode = lock.Write
		}
		coll := demoCollection(rng.Intn(demoCtx.collections))
		ml, err := r.LockCollection(ctx, owner, coll, mode, timeout)
		if errors.Is(err, locktable.ErrTimedOut) {
			stats.timedOut.Add(1)
			continue
		} else if err != nil {
			return err
		}
		var doc *locktable.ManagedLock
		if i%2 == 0 {
			doc, err = r.LockDocument(ctx, owner, fmt.Sprintf("%s/doc%d.xml", coll, rng.Intn(4)), mode, timeout)
			if err != nil {
				err = errors.CombineErrors(err, ml.Close(ctx))
				if !errors.Is(err, locktable.ErrTimedOut) {
					return err
				}
				stats.timedOut.Add(1)
				continue
			}
		}
		stats.granted.Add(1)
		time.Sleep(time.Duration(rng.Intn(50)) * time.Microsecond)
		if doc != nil {
			if err := doc.Close(ctx); err != nil {
				return errors.CombineErrors(err, ml.Close(ctx))
			}
		}
		if err := ml.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

func runDemo(cmd *cobra.Command, _ []string) error {
	if demoCtx.workers < 1 || demoCtx.collections < 1 || demoCtx.ops < 0 {
		return clierror.NewError(
			errors.New("--workers and --collections must be positive"), exit.CommandLineFlagError())
	}
	ctx := logtags.AddTag(cmd.Context(), "demo", nil)
	stopper := stop.NewStopper()
	defer stopper.Stop(ctx)

	ls, err := newLockServer(stopper, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	done := make(chan struct{})
	if demoCtx.dumpInterval > 0 {
		if err := stopper.RunAsyncTask(ctx, "lock-dumper", func(ctx context.Context) {
			ticker := time.NewTicker(demoCtx.dumpInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-stopper.ShouldQuiesce():
					return
				case <-ticker.C:
					if err := ls.status.DumpToLog(ctx, demoCtx.full); err != nil {
						log.Warningf(ctx, "%v", err)
					}
				}
			}
		}); err != nil {
			return err
		}
	}

	var stats demoStats
	start := time.Now()
	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < demoCtx.workers; i++ {
		worker := i + 1
		g.Go(func() error {
			return runDemoWorker(gCtx, ls.registry, worker, cliCtx.settings.LockTimeout, &stats)
		})
	}
	err = g.Wait()
	close(done)
	if err != nil {
		return errors.Wrap(err, "running lock workload")
	}
	elapsed := time.Since(start)

	out := cmd.OutOrStdout()
	total := int64(demoCtx.workers * demoCtx.ops)
	fmt.Fprintf(out, "%s lock operations by %d workers in %s: %s granted, %s timed out\n",
		humanize.Comma(total), demoCtx.workers, elapsed.Round(time.Millisecond),
		humanize.Comma(stats.granted.Load()), humanize.Comma(stats.timedOut.Load()))

	if n := ls.registry.Len(); n != 0 {
		if err := ls.status.DumpToConsole(ctx, demoCtx.full); err != nil {
			log.Warningf(ctx, "%v", err)
		}
		return clierror.NewError(
			errors.Newf("%d lock table entries left after the workload", n), exit.LocksLeaked())
	}
	fmt.Fprintln(out, "lock table is empty")
	return nil
}
