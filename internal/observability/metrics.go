// Package observability holds the service-level Prometheus collectors.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsIssuedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "access_service",
		Subsystem: "qr",
		Name:      "sessions_issued_total",
		Help:      "Number of QR sessions issued.",
	})

	checkinCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_service",
		Subsystem: "checkin",
		Name:      "attempts_total",
		Help:      "Check-in attempts by outcome; denials carry their reason code.",
	}, []string{"outcome", "reason"})

	lastCheckinGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "access_service",
		Subsystem: "checkin",
		Name:      "last_authorized_timestamp_seconds",
		Help:      "Unix timestamp of the most recent authorized check-in.",
	})

	webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_service",
		Subsystem: "billing",
		Name:      "webhooks_total",
		Help:      "Payment gateway webhook deliveries by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(sessionsIssuedCounter, checkinCounter, lastCheckinGauge, webhookCounter)
}

// RecordSessionIssued increments the issuance counter.
func RecordSessionIssued() {
	sessionsIssuedCounter.Inc()
}

// RecordCheckinAuthorized tracks a successful redemption.
func RecordCheckinAuthorized(ts time.Time) {
	checkinCounter.WithLabelValues("autorizado", "").Inc()
	if !ts.IsZero() {
		lastCheckinGauge.Set(float64(ts.Unix()))
	}
}

// RecordCheckinDenied tracks a rejected redemption by reason code.
func RecordCheckinDenied(reason string) {
	checkinCounter.WithLabelValues("negado", reason).Inc()
}

// RecordWebhook tracks a gateway delivery outcome.
func RecordWebhook(outcome string) {
	webhookCounter.WithLabelValues(outcome).Inc()
}
