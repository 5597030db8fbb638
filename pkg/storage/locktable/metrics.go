// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package locktable

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmldb/xmldb/pkg/storage/lock"
)

const metricsNamespace = "xmldb_locks"

// Metrics holds the lock table metrics.
type Metrics struct {
	Acquired        *prometheus.CounterVec
	Waits           prometheus.Counter
	Timeouts        prometheus.Counter
	Cancellations   prometheus.Counter
	IllegalReleases prometheus.Counter
	Holders         prometheus.Gauge
	Waiters         prometheus.Gauge
	WaitDuration    prometheus.Histogram
}

// NewMetrics creates an unregistered set of lock table metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Acquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "acquired_total",
			Help:      "Number of granted lock requests, including reentrant ones",
		}, []string{"category", "mode"}),
		Waits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "waits_total",
			Help:      "Number of lock requests that had to wait in a queue",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "timeouts_total",
			Help:      "Number of lock requests that timed out",
		}),
		Cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cancellations_total",
			Help:      "Number of pending lock requests that were cancelled",
		}),
		IllegalReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "illegal_releases_total",
			Help:      "Number of releases of locks that were not held",
		}),
		Holders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "holders",
			Help:      "Number of (resource, mode, owner) holds currently granted",
		}),
		Waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "waiters",
			Help:      "Number of lock requests currently waiting",
		}),
		WaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "wait_duration_seconds",
			Help:      "Time spent by lock requests in a wait queue",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 12),
		}),
	}
}

// Register registers all metrics with r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Acquired, m.Waits, m.Timeouts, m.Cancellations, m.IllegalReleases,
		m.Holders, m.Waiters, m.WaitDuration,
	} {
		if err := r.Register(c); err != nil {
			return errors.Wrap(err, "registering lock table metrics")
		}
	}
	return nil
}

func (m *Metrics) acquired(key lock.Key, mode lock.Mode) {
	m.Acquired.WithLabelValues(key.Category.String(), mode.String()).Inc()
}
