// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

// Package cliflags defines the names, environment variables and help texts
// of the command line flags.
package cliflags

import "strings"

// FlagInfo contains the static information for a CLI flag.
type FlagInfo struct {
	// Name of the flag as used on the command line.
	Name string

	// Shorthand is the short form of the flag (optional).
	Shorthand string

	// EnvVar is the name of the environment variable through which the
	// flag value can be controlled (optional).
	EnvVar string

	// Description of the flag.
	Description string
}

// Usage returns the usage string of the flag, including the environment
// variable that sets it.
func (f FlagInfo) Usage() string {
	s := strings.TrimSpace(f.Description)
	if f.EnvVar != "" {
		s += "\nEnvironment variable: " + f.EnvVar
	}
	return s
}

// Flags shared by all commands.
var (
	Verbosity = FlagInfo{
		Name:        "verbosity",
		Shorthand:   "v",
		EnvVar:      "XMLDB_VERBOSITY",
		Description: `Verbosity of the log. Level 2 logs every lock event.`,
	}

	Config = FlagInfo{
		Name:   "config",
		EnvVar: "XMLDB_CONFIG",
		Description: `
Path to a YAML file with the lock table settings. Flags given on the
command line override the values of the file.`,
	}
)

// Lock table settings.
var (
	Shards = FlagInfo{
		Name:        "shards",
		Description: `Number of shards of the lock table.`,
	}

	TraceStackDepth = FlagInfo{
		Name: "trace-stack-depth",
		Description: `
Number of stack frames recorded for each lock request: 0 records none, -1
records the whole stack.`,
	}

	UpgradeCheck = FlagInfo{
		Name: "upgrade-check",
		Description: `
Fail READ to WRITE upgrades that would have to wait on other readers
instead of queueing them.`,
	}

	WarnWaitOnReadForWrite = FlagInfo{
		Name:        "warn-wait-on-read-for-write",
		Description: `Log a warning when a WRITE request waits on READ locks of other owners.`,
	}

	CollectionsMultiWriter = FlagInfo{
		Name: "collections-multi-writer",
		Description: `
Lock the ancestors of a collection locked for WRITE in READ mode, allowing
concurrent writers in disjoint sub-trees.`,
	}

	LockTimeout = FlagInfo{
		Name:        "lock-timeout",
		Description: `How long a lock request waits before giving up.`,
	}
)

// Server and client flags.
var (
	ListenAddr = FlagInfo{
		Name:        "listen-addr",
		EnvVar:      "XMLDB_LISTEN_ADDR",
		Description: `Address on which the lock table endpoints are served.`,
	}

	ListeningURLFile = FlagInfo{
		Name: "listening-url-file",
		Description: `
After the server has started listening, write its URL to this file.`,
	}

	URL = FlagInfo{
		Name:        "url",
		EnvVar:      "XMLDB_URL",
		Description: `URL of the server to inspect.`,
	}

	Format = FlagInfo{
		Name: "format",
		Description: `
Output format of the dump: text, xml, json or yaml.`,
	}

	Style = FlagInfo{
		Name: "style",
		Description: `
Layout of text dumps: pretty, tsv, csv, records or html. The default is
pretty on terminals and tsv otherwise.`,
	}

	Full = FlagInfo{
		Name:        "full",
		Description: `Include the call stacks of the holds and waiters.`,
	}
)

// Demo workload flags.
var (
	Workers = FlagInfo{
		Name:        "workers",
		Description: `Number of concurrent workers.`,
	}

	Ops = FlagInfo{
		Name:        "ops",
		Description: `Number of lock operations run by each worker.`,
	}

	Collections = FlagInfo{
		Name:        "collections",
		Description: `Number of leaf collections the workers contend on.`,
	}

	WriteRatio = FlagInfo{
		Name:        "write-ratio",
		Description: `Percentage of operations that lock for WRITE.`,
	}

	DumpInterval = FlagInfo{
		Name:        "dump-interval",
		Description: `Interval at which the lock table is dumped to the log. 0 disables.`,
	}
)
