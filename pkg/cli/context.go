// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package cli

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/xmldb/xmldb/pkg/cli/cliflags"
	"github.com/xmldb/xmldb/pkg/storage/locktable"
	"github.com/xmldb/xmldb/pkg/storage/locktable/lockdump"
)

// initCLIDefaults sets the default values of all the context structs
// and forgets the flags set by a previous invocation. Tests run several
// commands in the same process.
func initCLIDefaults() {
	setCliContextDefaults()
	setServeContextDefaults()
	setDumpContextDefaults()
	setDemoContextDefaults()
	resetFlags(xdbCmd)
	applyEnvFlags()
}

func resetFlags(cmd *cobra.Command) {
	unset := func(f *pflag.Flag) { f.Changed = false }
	cmd.Flags().VisitAll(unset)
	cmd.PersistentFlags().VisitAll(unset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// cliContext captures the command-line parameters shared by all
// commands.
var cliCtx struct {
	// verbosity is the log verbosity.
	verbosity int
	// configFile is the path of the YAML lock table settings.
	configFile string
	// settings are the effective lock table settings, after the
	// configuration file and the flags have been applied.
	settings locktable.Settings
	// flagSettings receives the values of the lock table setting flags;
	// the flags that were set are copied into settings.
	flagSettings locktable.Settings
}

func setCliContextDefaults() {
	cliCtx.verbosity = 0
	cliCtx.configFile = ""
	cliCtx.settings = locktable.DefaultSettings()
	cliCtx.flagSettings = locktable.DefaultSettings()
}

// settingFlags copies the value of each lock table setting flag from
// flagSettings.
var settingFlags = map[string]func(dst *locktable.Settings, src locktable.Settings){
	cliflags.Shards.Name: func(dst *locktable.Settings, src locktable.Settings) {
		dst.Shards = src.Shards
	},
	cliflags.TraceStackDepth.Name: func(dst *locktable.Settings, src locktable.Settings) {
		dst.TraceStackDepth = src.TraceStackDepth
	},
	cliflags.UpgradeCheck.Name: func(dst *locktable.Settings, src locktable.Settings) {
		dst.UpgradeCheck = src.UpgradeCheck
	},
	cliflags.WarnWaitOnReadForWrite.Name: func(dst *locktable.Settings, src locktable.Settings) {
		dst.WarnWaitOnReadForWrite = src.WarnWaitOnReadForWrite
	},
	cliflags.CollectionsMultiWriter.Name: func(dst *locktable.Settings, src locktable.Settings) {
		dst.CollectionsMultiWriter = src.CollectionsMultiWriter
	},
	cliflags.LockTimeout.Name: func(dst *locktable.Settings, src locktable.Settings) {
		dst.LockTimeout = src.LockTimeout
	},
}

// loadSettings computes cliCtx.settings: the defaults, overridden by the
// configuration file if any, overridden by the flags set on cmd.
func loadSettings(cmd *cobra.Command) error {
	s := locktable.DefaultSettings()
	if cliCtx.configFile != "" {
		data, err := os.ReadFile(cliCtx.configFile)
		if err != nil {
			return errors.Wrap(err, "reading lock table configuration")
		}
		if s, err = locktable.ParseSettings(data); err != nil {
			return errors.Wrapf(err, "in %s", cliCtx.configFile)
		}
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if apply, ok := settingFlags[f.Name]; ok {
			apply(&s, cliCtx.flagSettings)
		}
	})
	if err := s.Validate(); err != nil {
		return err
	}
	cliCtx.settings = s
	return nil
}

// serveCtx captures the command-line parameters of the `locks serve`
// command.
var serveCtx struct {
	listenAddr       string
	listeningURLFile string
}

func setServeContextDefaults() {
	serveCtx.listenAddr = "localhost:8080"
	serveCtx.listeningURLFile = ""
}

// dumpCtx captures the command-line parameters of the `locks dump`
// command.
var dumpCtx struct {
	url    string
	format string
	style  styleValue
	full   bool
}

func setDumpContextDefaults() {
	dumpCtx.url = "http://localhost:8080"
	dumpCtx.format = "text"
	dumpCtx.style = styleValue{style: defaultStyle()}
	dumpCtx.full = false
}

// defaultStyle returns the text style used when none is requested: a
// pretty table on terminals, tab-separated values otherwise.
func defaultStyle() lockdump.Style {
	if isInteractive {
		return lockdump.StylePretty
	}
	return lockdump.StyleTSV
}

// styleValue is a pflag.Value for lockdump styles.
type styleValue struct {
	style lockdump.Style
}

var _ pflag.Value = (*styleValue)(nil)

// String implements pflag.Value.
func (s *styleValue) String() string { return s.style.String() }

// Type implements pflag.Value.
func (s *styleValue) Type() string { return "string" }

// Set implements pflag.Value.
func (s *styleValue) Set(v string) error {
	style, err := lockdump.ParseStyle(v)
	if err != nil {
		return err
	}
	s.style = style
	return nil
}

// demoCtx captures the command-line parameters of the `locks demo`
// command.
var demoCtx struct {
	workers      int
	ops          int
	collections  int
	writeRatio   int
	dumpInterval time.Duration
	full         bool
}

func setDemoContextDefaults() {
	demoCtx.workers = 8
	demoCtx.ops = 200
	demoCtx.collections = 4
	demoCtx.writeRatio = 20
	demoCtx.dumpInterval = 0
	demoCtx.full = false
}
