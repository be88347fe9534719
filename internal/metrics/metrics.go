// Package metrics exposes Prometheus counters and gauges for the
// control plane's operational surface.
//
// Metrics are registered on a private registry so tests can create
// independent instances without collisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus instruments for Hardpoint Core.
type Metrics struct {
	registry *prometheus.Registry

	PairingsInitiated   prometheus.Counter
	PairingsCompleted   prometheus.Counter
	PairingsFailed      *prometheus.CounterVec
	TokensIssued        *prometheus.CounterVec
	TokensRevoked       prometheus.Counter
	TokenValidations    *prometheus.CounterVec
	HealthChecksFailed  prometheus.Counter
	DevicesOffline      prometheus.Gauge
	SandboxTerminations prometheus.Counter
	DeferredJobsQueued  prometheus.Gauge
	CommandsHandled     *prometheus.CounterVec
}

// New creates a Metrics instance with all instruments registered on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PairingsInitiated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hardpoint",
			Name:      "pairings_initiated_total",
			Help:      "Pairing challenges issued.",
		}),
		PairingsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hardpoint",
			Name:      "pairings_completed_total",
			Help:      "Devices successfully paired.",
		}),
		PairingsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hardpoint",
			Name:      "pairings_failed_total",
			Help:      "Pairing failures by reason.",
		}, []string{"reason"}),
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hardpoint",
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by kind (session, action).",
		}, []string{"kind"}),
		TokensRevoked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hardpoint",
			Name:      "tokens_revoked_total",
			Help:      "Token identifiers added to the revocation index.",
		}),
		TokenValidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hardpoint",
			Name:      "token_validations_total",
			Help:      "Token validation outcomes (ok, expired, revoked, invalid).",
		}, []string{"outcome"}),
		HealthChecksFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hardpoint",
			Name:      "health_checks_failed_total",
			Help:      "Failed device health checks.",
		}),
		DevicesOffline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hardpoint",
			Name:      "devices_offline",
			Help:      "Devices currently marked offline.",
		}),
		SandboxTerminations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hardpoint",
			Name:      "sandbox_terminations_total",
			Help:      "Sandboxes terminated for resource violations.",
		}),
		DeferredJobsQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hardpoint",
			Name:      "deferred_jobs_queued",
			Help:      "Jobs queued while a consumable is exhausted.",
		}),
		CommandsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hardpoint",
			Name:      "commands_handled_total",
			Help:      "Command gateway outcomes (dispatched, deferred, rejected).",
		}, []string{"outcome"}),
	}
}

// Handler returns an HTTP handler serving the metrics in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
