package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"route", "method", "status"},
	)
	ReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "http_in_flight_requests", Help: "In-flight HTTP requests"},
	)
	// AuthOutcomes counts auth operations by operation and error kind ("ok" on success).
	AuthOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "identity_auth_outcomes_total", Help: "Auth operations by outcome"},
		[]string{"operation", "outcome"},
	)
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "identity_provider_requests_total", Help: "User-info calls to the identity provider"},
		[]string{"outcome"},
	)
	TokenCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "identity_token_cache_total", Help: "Auth token cache lookups"},
		[]string{"result"},
	)
)

var once sync.Once

// MustRegister registers all collectors with the default registry. Safe to call
// more than once.
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(RequestsTotal, ReqDuration, InFlight, AuthOutcomes, ProviderRequests, TokenCache)
	})
}
