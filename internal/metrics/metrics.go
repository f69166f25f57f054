// Package metrics provides Prometheus metrics for cardbot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Phase labels for issuance metrics.
const (
	PhaseInitialize = "initialize"
	PhaseRefresh    = "refresh"
)

// Reason labels for skipped refresh checks.
const (
	SkipNotInitialized = "not_initialized"
	SkipFresh          = "fresh"
	SkipInFlight       = "in_flight"
)

var (
	// Registry holds every cardbot collector and is served on /metrics.
	Registry = prometheus.NewRegistry()

	// TokenIssuanceTotal counts calls to the credential issuer.
	TokenIssuanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardbot",
			Subsystem: "token",
			Name:      "issuance_total",
			Help:      "Total number of access token issuance calls",
		},
		[]string{"phase", "result"},
	)

	// TokenExpiryTimestamp is the unix time at which the current token expires.
	TokenExpiryTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cardbot",
			Subsystem: "token",
			Name:      "expiry_timestamp_seconds",
			Help:      "Unix timestamp at which the current access token expires",
		},
	)

	// TokenRefreshSkippedTotal counts refresh checks that did not call the issuer.
	TokenRefreshSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardbot",
			Subsystem: "token",
			Name:      "refresh_skipped_total",
			Help:      "Total number of refresh checks that skipped issuance",
		},
		[]string{"reason"},
	)

	// BotMessagesTotal counts chat messages received from the stream connection.
	BotMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardbot",
			Subsystem: "bot",
			Name:      "messages_total",
			Help:      "Total number of chat messages received",
		},
		[]string{"platform", "handled"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TokenIssuanceTotal,
		TokenExpiryTimestamp,
		TokenRefreshSkippedTotal,
		BotMessagesTotal,
	)
}

// RecordIssuance counts one issuer call for the given phase.
func RecordIssuance(phase string, success bool) {
	result := ResultFailure
	if success {
		result = ResultSuccess
	}
	TokenIssuanceTotal.WithLabelValues(phase, result).Inc()
}

// SetTokenExpiry publishes the expiry time of the installed token.
func SetTokenExpiry(expiresAt time.Time) {
	TokenExpiryTimestamp.Set(float64(expiresAt.Unix()))
}

// RecordRefreshSkipped counts a refresh check that made no issuer call.
func RecordRefreshSkipped(reason string) {
	TokenRefreshSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordBotMessage counts a received chat message.
func RecordBotMessage(platform string, handled bool) {
	label := "false"
	if handled {
		label = "true"
	}
	BotMessagesTotal.WithLabelValues(platform, label).Inc()
}
