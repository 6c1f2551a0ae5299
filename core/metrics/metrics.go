package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covering the module lifecycle, dependency installation and event
// dispatch. Counters carry a status label so operators can alert on failed
// transitions per module id.
var (
	// ModuleTransitionCounter counts lifecycle transitions by outcome.
	ModuleTransitionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breadcord_module_transitions_total",
		Help: "Total number of module lifecycle transitions.",
	}, []string{"module", "state", "status"})

	// DependencyInstallCounter counts dependency install attempts.
	DependencyInstallCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breadcord_dependency_installs_total",
		Help: "Total number of dependency install attempts.",
	}, []string{"status"})

	// EventDispatchCounter counts platform events dispatched to module handlers.
	EventDispatchCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breadcord_events_dispatched_total",
		Help: "Total number of platform events dispatched to module handlers.",
	}, []string{"module", "category", "status"})

	// HandlerDuration measures the duration of module event handler invocations.
	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "breadcord_handler_duration_seconds",
		Help:    "Duration of module event handler invocations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"module", "category"})

	// SettingsWriteCounter counts persisted settings writes.
	SettingsWriteCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breadcord_settings_writes_total",
		Help: "Total number of settings store writes.",
	}, []string{"status"})
)
