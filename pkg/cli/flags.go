// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/xmldb/xmldb/pkg/cli/cliflags"
	"github.com/xmldb/xmldb/pkg/util/log"
)

// AddPersistentPreRunE add 'fn' as a persistent pre-run function to 'cmd'.
// If the command has an existing pre-run function, it is saved and will be called
// at the beginning of 'fn'.
// This allows an arbitrary number of pre-run functions with ordering based
// on the order in which AddPersistentPreRunE is called (usually package init order).
func AddPersistentPreRunE(cmd *cobra.Command, fn func(*cobra.Command, []string) error) {
	// Save any existing hooks.
	wrapped := cmd.PersistentPreRunE

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Run the previous hook if it exists.
		if wrapped != nil {
			if err := wrapped(cmd, args); err != nil {
				return err
			}
		}

		// Now we can call the new function.
		return fn(cmd, args)
	}
}

type envFlag struct {
	f        *pflag.FlagSet
	flagInfo cliflags.FlagInfo
}

// envFlags lists the flags that can be set through the environment.
var envFlags []envFlag

func setFlagFromEnv(f *pflag.FlagSet, flagInfo cliflags.FlagInfo) {
	if flagInfo.EnvVar == "" {
		return
	}
	envFlags = append(envFlags, envFlag{f: f, flagInfo: flagInfo})
	applyEnvFlag(f, flagInfo)
}

func applyEnvFlag(f *pflag.FlagSet, flagInfo cliflags.FlagInfo) {
	if value, set := os.LookupEnv(flagInfo.EnvVar); set {
		if err := f.Set(flagInfo.Name, value); err != nil {
			panic(err)
		}
	}
}

// applyEnvFlags sets the flags from the environment again, after the
// defaults have been restored.
func applyEnvFlags() {
	for _, ef := range envFlags {
		applyEnvFlag(ef.f, ef.flagInfo)
	}
}

// StringFlag creates a string flag and registers it with the FlagSet.
func StringFlag(f *pflag.FlagSet, valPtr *string, flagInfo cliflags.FlagInfo, defaultVal string) {
	f.StringVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, defaultVal, flagInfo.Usage())

	setFlagFromEnv(f, flagInfo)
}

// IntFlag creates an int flag and registers it with the FlagSet.
func IntFlag(f *pflag.FlagSet, valPtr *int, flagInfo cliflags.FlagInfo, defaultVal int) {
	f.IntVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, defaultVal, flagInfo.Usage())

	setFlagFromEnv(f, flagInfo)
}

// BoolFlag creates a bool flag and registers it with the FlagSet.
func BoolFlag(f *pflag.FlagSet, valPtr *bool, flagInfo cliflags.FlagInfo, defaultVal bool) {
	f.BoolVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, defaultVal, flagInfo.Usage())

	setFlagFromEnv(f, flagInfo)
}

// DurationFlag creates a duration flag and registers it with the FlagSet.
func DurationFlag(
	f *pflag.FlagSet, valPtr *time.Duration, flagInfo cliflags.FlagInfo, defaultVal time.Duration,
) {
	f.DurationVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, defaultVal, flagInfo.Usage())

	setFlagFromEnv(f, flagInfo)
}

// VarFlag creates a custom-variable flag and registers it with the FlagSet.
func VarFlag(f *pflag.FlagSet, value pflag.Value, flagInfo cliflags.FlagInfo) {
	f.VarP(value, flagInfo.Name, flagInfo.Shorthand, flagInfo.Usage())

	setFlagFromEnv(f, flagInfo)
}

func init() {
	setCliContextDefaults()
	setServeContextDefaults()
	setDumpContextDefaults()
	setDemoContextDefaults()

	// Every command inherits the verbosity flag.
	IntFlag(xdbCmd.PersistentFlags(), &cliCtx.verbosity, cliflags.Verbosity, cliCtx.verbosity)
	AddPersistentPreRunE(xdbCmd, func(*cobra.Command, []string) error {
		log.SetVerbosity(int32(cliCtx.verbosity))
		return nil
	})

	// Commands that run a lock table.
	for _, cmd := range []*cobra.Command{serveCmd, demoCmd} {
		f := cmd.Flags()
		StringFlag(f, &cliCtx.configFile, cliflags.Config, cliCtx.configFile)
		IntFlag(f, &cliCtx.flagSettings.Shards, cliflags.Shards, cliCtx.flagSettings.Shards)
		IntFlag(f, &cliCtx.flagSettings.TraceStackDepth, cliflags.TraceStackDepth, cliCtx.flagSettings.TraceStackDepth)
		BoolFlag(f, &cliCtx.flagSettings.UpgradeCheck, cliflags.UpgradeCheck, cliCtx.flagSettings.UpgradeCheck)
		BoolFlag(f, &cliCtx.flagSettings.WarnWaitOnReadForWrite, cliflags.WarnWaitOnReadForWrite,
			cliCtx.flagSettings.WarnWaitOnReadForWrite)
		BoolFlag(f, &cliCtx.flagSettings.CollectionsMultiWriter, cliflags.CollectionsMultiWriter,
			cliCtx.flagSettings.CollectionsMultiWriter)
		DurationFlag(f, &cliCtx.flagSettings.LockTimeout, cliflags.LockTimeout, cliCtx.flagSettings.LockTimeout)

		cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
			return loadSettings(cmd)
		}
	}

	// Serve command.
	{
		f := serveCmd.Flags()
		StringFlag(f, &serveCtx.listenAddr, cliflags.ListenAddr, serveCtx.listenAddr)
		StringFlag(f, &serveCtx.listeningURLFile, cliflags.ListeningURLFile, serveCtx.listeningURLFile)
	}

	// Dump command.
	{
		f := dumpCmd.Flags()
		StringFlag(f, &dumpCtx.url, cliflags.URL, dumpCtx.url)
		StringFlag(f, &dumpCtx.format, cliflags.Format, dumpCtx.format)
		VarFlag(f, &dumpCtx.style, cliflags.Style)
		BoolFlag(f, &dumpCtx.full, cliflags.Full, dumpCtx.full)
	}

	// Demo command.
	{
		f := demoCmd.Flags()
		IntFlag(f, &demoCtx.workers, cliflags.Workers, demoCtx.workers)
		IntFlag(f, &demoCtx.ops, cliflags.Ops, demoCtx.ops)
		IntFlag(f, &demoCtx.collections, cliflags.Collections, demoCtx.collections)
		IntFlag(f, &demoCtx.writeRatio, cliflags.WriteRatio, demoCtx.writeRatio)
		DurationFlag(f, &demoCtx.dumpInterval, cliflags.DumpInterval, demoCtx.dumpInterval)
		BoolFlag(f, &demoCtx.full, cliflags.Full, demoCtx.full)
	}
}
