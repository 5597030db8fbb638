// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

// Package cli implements the xdb command line: a lock table server, a
// client dumping the lock table of a running server and a demo workload.
package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/xmldb/xmldb/pkg/cli/clierror"
	"github.com/xmldb/xmldb/pkg/cli/exit"
)

// Proxy to allow overrides in tests.
var osStderr = os.Stderr

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "output version information",
	Long: `
Output build version information.
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 1, 2, ' ', 0)
		version := "(devel)"
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
			version = info.Main.Version
		}
		fmt.Fprintf(tw, "Build Tag:   %s\n", version)
		fmt.Fprintf(tw, "Platform:    %s %s/%s\n", runtime.Compiler, runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(tw, "Go Version:  %s\n", runtime.Version())
		_ = tw.Flush()
	},
}

var xdbCmd = &cobra.Command{
	Use:   "xdb [command] (flags)",
	Short: "XML database lock table tools",
	Long:  `Tools to serve, inspect and exercise the lock table of the XML database.`,
	// Errors are reported by Main, with their exit code.
	SilenceErrors: true,
	SilenceUsage:  true,
}

// isInteractive indicates whether stdout refers to a terminal.
var isInteractive = isatty.IsTerminal(os.Stdout.Fd()) ||
	isatty.IsCygwinTerminal(os.Stdout.Fd())

func init() {
	cobra.EnableCommandSorting = false

	xdbCmd.AddCommand(
		locksCmd,
		versionCmd,
	)
}

// Main is the entry point of the xdb binary. It does not return.
func Main() {
	if err := Run(os.Args[1:]); err != nil {
		fmt.Fprintf(osStderr, "ERROR: %v\n", err)
		exit.WithCode(clierror.ExitCode(err))
	}
	exit.WithCode(exit.Success())
}

// Run runs the command line with the given arguments.
func Run(args []string) error {
	return RunContext(context.Background(), args)
}

// RunContext runs the command line with the given arguments. Canceling
// ctx stops long-running commands.
func RunContext(ctx context.Context, args []string) error {
	initCLIDefaults()
	xdbCmd.SetArgs(args)
	return xdbCmd.ExecuteContext(ctx)
}
