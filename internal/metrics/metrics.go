// Package metrics holds the Prometheus collectors for the OAuth service.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oauthd"

// Grant results recorded on the token grants counter.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics groups the service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	authorizations *prometheus.CounterVec
	grants         *prometheus.CounterVec
	revocations    prometheus.Counter
	introspections *prometheus.CounterVec
	auditDropped   prometheus.Counter
}

// New creates the collectors on a fresh registry, along with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorizations_total",
			Help:      "Authorization requests by result.",
		}, []string{"result"}),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_grants_total",
			Help:      "Token endpoint requests by grant type and result.",
		}, []string{"grant_type", "result"}),
		revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Token revocation requests.",
		}),
		introspections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "introspections_total",
			Help:      "Token introspection requests by outcome.",
		}, []string{"active"}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit events dropped because the buffer was full.",
		}),
	}

	reg.MustRegister(
		m.authorizations,
		m.grants,
		m.revocations,
		m.introspections,
		m.auditDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format. A nil
// Metrics serves 404.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}

	return ResultFailure
}

// Authorization records an authorize call.
func (m *Metrics) Authorization(ok bool) {
	if m == nil {
		return
	}

	m.authorizations.WithLabelValues(result(ok)).Inc()
}

// Grant records a token endpoint call. Unsupported grant types are
// bucketed under "unsupported" to bound label cardinality.
func (m *Metrics) Grant(grantType string, ok bool) {
	if m == nil {
		return
	}

	switch grantType {
	case "authorization_code", "refresh_token", "client_credentials":
	default:
		grantType = "unsupported"
	}

	m.grants.WithLabelValues(grantType, result(ok)).Inc()
}

// Revocation records a revoke call.
func (m *Metrics) Revocation() {
	if m == nil {
		return
	}

	m.revocations.Inc()
}

// Introspection records an introspect call.
func (m *Metrics) Introspection(active bool) {
	if m == nil {
		return
	}

	m.introspections.WithLabelValues(strconv.FormatBool(active)).Inc()
}

// AuditDropped records an audit event lost to a full buffer.
func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}

	m.auditDropped.Inc()
}
