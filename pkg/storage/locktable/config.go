// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package locktable

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xmldb/xmldb/pkg/util/stop"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultShards is the number of shards of the entry map used when
	// none is configured.
	DefaultShards = 16
	// defaultTraceDepth is the number of frames captured for requests that
	// ask for a trace when no depth is configured.
	defaultTraceDepth = 16
)

// Config contains the dependencies and the options of a Registry.
type Config struct {
	// Stopper is used to abort blocked requests on shutdown. It may be nil.
	Stopper *stop.Stopper
	// Metrics receives the lock table metrics. If nil, a fresh unregistered
	// set is used.
	Metrics *Metrics
	// Shards is the number of shards of the entry map. Zero means
	// DefaultShards.
	Shards int
	// TraceStackDepth controls the capture of call stacks for holds and
	// waiters: 0 captures nothing, -1 captures the full stack and n > 0
	// captures at most n frames.
	TraceStackDepth int
	// UpgradeCheck makes an upgrade from READ to WRITE fail with
	// ErrUpgradeDeadlock instead of queueing when other owners also hold
	// READ.
	UpgradeCheck bool
	// WarnWaitOnReadForWrite logs a warning when a WRITE request has to
	// wait for READ locks held by other owners.
	WarnWaitOnReadForWrite bool
	// CollectionsMultiWriter makes LockCollection take READ locks on the
	// ancestors of a collection locked for WRITE, allowing concurrent
	// writers in disjoint sub-trees.
	CollectionsMultiWriter bool
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

func (c *Config) setDefaults() {
	if c.Metrics == nil {
		c.Metrics = NewMetrics()
	}
	if c.Shards <= 0 {
		c.Shards = DefaultShards
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Settings is the serializable part of the configuration, read from the
// "locks" section of a server configuration file.
type Settings struct {
	Shards                 int           `yaml:"shards"`
	TraceStackDepth        int           `yaml:"trace-stack-depth"`
	UpgradeCheck           bool          `yaml:"upgrade-check"`
	WarnWaitOnReadForWrite bool          `yaml:"warn-wait-on-read-for-write"`
	CollectionsMultiWriter bool          `yaml:"collections-multi-writer"`
	LockTimeout            time.Duration `yaml:"lock-timeout"`
}

// DefaultSettings returns the settings used in the absence of a
// configuration file.
func DefaultSettings() Settings {
	return Settings{
		Shards:      DefaultShards,
		LockTimeout: 30 * time.Second,
	}
}

// ParseSettings parses YAML settings on top of the defaults. Unknown
// fields are rejected.
func ParseSettings(data []byte) (Settings, error) {
	s := DefaultSettings()
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return Settings{}, errors.Wrap(err, "parsing lock table settings")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the settings for consistency.
func (s Settings) Validate() error {
	if s.Shards < 1 {
		return errors.Newf("shards must be positive, got %d", s.Shards)
	}
	if s.TraceStackDepth < -1 {
		return errors.Newf("trace-stack-depth must be -1, 0 or positive, got %d", s.TraceStackDepth)
	}
	if s.LockTimeout < 0 {
		return errors.Newf("lock-timeout must not be negative, got %s", s.LockTimeout)
	}
	return nil
}

// String renders the settings as YAML.
func (s Settings) String() string {
	b, err := yaml.Marshal(s)
	if err != nil {
		return err.Error()
	}
	return string(b)
}

// Config returns a registry configuration carrying these settings.
func (s Settings) Config(stopper *stop.Stopper, metrics *Metrics) Config {
	return Config{
		Stopper:                stopper,
		Metrics:                metrics,
		Shards:                 s.Shards,
		TraceStackDepth:        s.TraceStackDepth,
		UpgradeCheck:           s.UpgradeCheck,
		WarnWaitOnReadForWrite: s.WarnWaitOnReadForWrite,
		CollectionsMultiWriter: s.CollectionsMultiWriter,
	}
}
