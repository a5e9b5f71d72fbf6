// Package metrics defines the Prometheus collectors shared across the
// OAuth Client Layer, Token Verifier, and Auth Coordinator (§10 "Ambient
// stack"): token exchange outcomes, JWKS cache hit/miss, and Session
// state transitions. Collectors are registered against
// prometheus.DefaultRegisterer at package init, the way a library
// embedded into a larger binary is expected to behave; an embedding
// application mounts promhttp.Handler() itself (internal/httpapi does
// this for the bundled demonstration server).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TokenExchanges counts every token-endpoint round trip by grant_type and
// outcome ("success" or "failure").
var TokenExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mcpauth",
	Subsystem: "oauth",
	Name:      "token_exchanges_total",
	Help:      "Total token endpoint requests, by grant type and outcome.",
}, []string{"grant_type", "outcome"})

// JWKSCacheResults counts JWKS key lookups by whether they hit the cache
// or required a fetch.
var JWKSCacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mcpauth",
	Subsystem: "verifier",
	Name:      "jwks_cache_results_total",
	Help:      "JWKS key lookups, by cache result (hit or miss).",
}, []string{"result"})

// SessionStateTransitions counts every Auth Coordinator Session state
// transition by the state entered.
var SessionStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mcpauth",
	Subsystem: "coordinator",
	Name:      "session_state_transitions_total",
	Help:      "Auth Coordinator Session state transitions, by state entered.",
}, []string{"state"})

// RecordTokenExchange records the outcome of one token-endpoint call.
func RecordTokenExchange(grantType string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	TokenExchanges.WithLabelValues(grantType, outcome).Inc()
}

// RecordJWKSCacheHit records a JWKS lookup that was served from cache.
func RecordJWKSCacheHit() { JWKSCacheResults.WithLabelValues("hit").Inc() }

// RecordJWKSCacheMiss records a JWKS lookup that required a fetch.
func RecordJWKSCacheMiss() { JWKSCacheResults.WithLabelValues("miss").Inc() }

// RecordSessionTransition records a Session entering state.
func RecordSessionTransition(state string) {
	SessionStateTransitions.WithLabelValues(state).Inc()
}
