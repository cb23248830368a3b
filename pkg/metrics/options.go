package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace replaces the "pmsource" metric prefix.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem replaces the "fcm" subsystem of clustering, queue, worker
// and HTTP series. System gauges always use "system".
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithLatencyBuckets sets the millisecond buckets shared by fit, scan,
// worker and HTTP latency histograms.
func WithLatencyBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.latencyBuckets = buckets
		}
	}
}

// WithIterationCap sizes the fit_iterations buckets for fits capped at
// maxIter iterations: exponential from 1 up to the cap.
func WithIterationCap(maxIter int) Option {
	return func(m *Manager) {
		if maxIter < 2 {
			return
		}
		n := 10
		if maxIter < n {
			n = maxIter
		}
		m.iterationBuckets = prometheus.ExponentialBucketsRange(1, float64(maxIter), n)
	}
}

// WithMetricsEnabled turns recording on or off. Collectors are registered
// either way.
func WithMetricsEnabled(enabled bool) Option {
	return func(m *Manager) {
		m.enabled = enabled
	}
}

// WithConstLabels attaches labels to every series, e.g. a deployment or
// monitoring-site name. Empty keys are dropped.
func WithConstLabels(labels map[string]string) Option {
	return func(m *Manager) {
		for k, v := range labels {
			if k != "" {
				m.constLabels[k] = v
			}
		}
	}
}

// WithRegistry registers collectors on r instead of the default registerer.
func WithRegistry(r prometheus.Registerer) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}
