// Package metrics provides Prometheus metrics for locket.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "locket"

// Injection metrics (pkg/manager)
var (
	// InjectionsTotal counts total secret file materializations.
	InjectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "injections_total",
			Help:      "Total number of secret files materialized",
		},
		[]string{"result"},
	)

	// InjectionDuration tracks read-render-write latency per file.
	InjectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "injection_duration_seconds",
			Help:      "Time spent rendering and writing one secret file",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{},
	)

	// FilesManaged tracks the current registry size.
	FilesManaged = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "files_managed",
			Help:      "Number of secret files currently tracked by the registry",
		},
	)
)

// Provider metrics (pkg/provider)
var (
	// FetchesTotal counts total secret-reference fetches per backend.
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetches_total",
			Help:      "Total number of secret reference fetches",
		},
		[]string{"backend", "result"},
	)

	// FetchDuration tracks fetch latency per backend.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching secrets from a backend",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// CredentialRotationsTotal counts ManagedProvider credential swaps.
	CredentialRotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "credential_rotations_total",
			Help:      "Total number of provider credential rotations",
		},
		[]string{"backend"},
	)
)

// Process supervisor metrics (pkg/process)
var (
	// RestartsTotal counts supervised child restarts.
	RestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Total number of supervised process restarts",
		},
	)

	// ChildExitsTotal counts supervised child exits by outcome.
	ChildExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "child_exits_total",
			Help:      "Total number of supervised child process exits",
		},
		[]string{"outcome"},
	)
)

// Volume plugin metrics (pkg/volume)
var (
	// ActiveVolumes tracks currently mounted plugin volumes.
	ActiveVolumes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "volume",
			Name:      "active_volumes",
			Help:      "Number of volumes currently provisioned by the plugin",
		},
	)

	// MountRefCount tracks the reference count of each active volume.
	MountRefCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "volume",
			Name:      "mount_ref_count",
			Help:      "Reference count of a mounted volume",
		},
		[]string{"volume"},
	)

	// PluginRequestsTotal counts Docker volume-driver protocol requests.
	PluginRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "volume",
			Name:      "plugin_requests_total",
			Help:      "Total number of Docker volume plugin API requests",
		},
		[]string{"endpoint", "result"},
	)
)

// RecordInjection records one manager.process outcome.
func RecordInjection(success bool, duration float64) {
	result := "success"
	if !success {
		result = "error"
	}
	InjectionsTotal.WithLabelValues(result).Inc()
	InjectionDuration.WithLabelValues().Observe(duration)
}

// RecordFetch records one provider fetch outcome.
func RecordFetch(backend string, success bool, duration float64) {
	result := "success"
	if !success {
		result = "error"
	}
	FetchesTotal.WithLabelValues(backend, result).Inc()
	FetchDuration.WithLabelValues(backend).Observe(duration)
}

// RecordRestart records a supervised process restart.
func RecordRestart() {
	RestartsTotal.Inc()
}

// RecordChildExit records a supervised child's terminal outcome.
func RecordChildExit(outcome string) {
	ChildExitsTotal.WithLabelValues(outcome).Inc()
}

// RecordPluginRequest records one Docker volume plugin API call.
func RecordPluginRequest(endpoint string, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	PluginRequestsTotal.WithLabelValues(endpoint, result).Inc()
}
