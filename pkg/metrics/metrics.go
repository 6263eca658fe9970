// Package metrics holds the Prometheus instruments for report execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Report outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected" // caller error: bad params, unknown report
	OutcomeFailed   = "failed"   // backend error
)

var (
	// Report Metrics
	ReportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_report_runs_total",
			Help: "Total number of report runs by outcome",
		},
		[]string{"report", "dialect", "outcome"},
	)

	ReportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insights_report_duration_seconds",
			Help:    "Duration of report runs in seconds, including rendering",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"report", "dialect"},
	)

	// Relational store metrics
	DBQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insights_db_query_duration_seconds",
			Help:    "Duration of PostgreSQL report queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_db_query_errors_total",
			Help: "Total number of failed PostgreSQL report queries",
		},
		[]string{"error_type"}, // "timeout", "other"
	)

	// Analytics API metrics
	AnalyticsRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_analytics_requests_total",
			Help: "Total number of analytics query API attempts by result",
		},
		[]string{"result"}, // "ok", "throttled", "server", "generic"
	)

	AnalyticsRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "insights_analytics_retries_total",
			Help: "Total number of analytics query retries",
		},
	)

	AnalyticsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "insights_analytics_in_flight",
			Help: "Analytics queries currently holding a limiter slot",
		},
	)
)

// RecordReportRun records one report run.
func RecordReportRun(report, dialect, outcome string, duration time.Duration) {
	ReportRuns.WithLabelValues(report, dialect, outcome).Inc()
	ReportDuration.WithLabelValues(report, dialect).Observe(duration.Seconds())
}

// RecordDBQuery records one relational query. errorType is "" on success.
func RecordDBQuery(duration time.Duration, errorType string) {
	DBQueryDuration.Observe(duration.Seconds())
	if errorType != "" {
		DBQueryErrors.WithLabelValues(errorType).Inc()
	}
}
