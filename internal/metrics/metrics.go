// Package metrics provides Prometheus instrumentation for the trust core.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustcore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ConsentTransitionsTotal counts consent state transitions.
	ConsentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "consent_transitions_total",
			Help:      "Total consent state transitions by source and target state.",
		},
		[]string{"from", "to"},
	)

	// SignalsDetectedTotal counts harassment signals by detector type.
	SignalsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "signals_detected_total",
			Help:      "Total harassment signals detected by signal type.",
		},
		[]string{"type"},
	)

	// ShieldActivationsTotal counts shield activations by level.
	ShieldActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "shield_activations_total",
			Help:      "Total harassment shield activations by protection level.",
		},
		[]string{"level"},
	)

	// ShieldEscalationsTotal counts shield level escalations.
	ShieldEscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "shield_escalations_total",
			Help:      "Total shield escalations by source and target level.",
		},
		[]string{"from", "to"},
	)

	// ShieldResolutionsTotal counts resolved shields.
	ShieldResolutionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trustcore",
		Name:      "shield_resolutions_total",
		Help:      "Total harassment shields resolved.",
	})

	// BehaviorEventsTotal counts logged behavior events by type.
	BehaviorEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "behavior_events_total",
			Help:      "Total behavior events logged by event type.",
		},
		[]string{"type"},
	)

	// BehaviorExpiredTotal counts behavior log entries removed by the
	// retention sweep.
	BehaviorExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trustcore",
		Name:      "behavior_expired_total",
		Help:      "Total behavior log entries deleted after retention expiry.",
	})

	// ModerationFeedbackTotal counts moderator feedback by signal type and label.
	ModerationFeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "moderation_feedback_total",
			Help:      "Total moderator feedback recorded by signal type and label.",
		},
		[]string{"type", "label"},
	)

	// FeedbackAppliedTotal counts feedback folded into confidence rules.
	FeedbackAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "feedback_applied_total",
			Help:      "Total feedback entries applied to confidence rules by signal type.",
		},
		[]string{"type"},
	)

	// ProfileEvaluationsTotal counts risk profile evaluations by resulting level.
	ProfileEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "profile_evaluations_total",
			Help:      "Total risk profile evaluations by resulting risk level.",
		},
		[]string{"level"},
	)

	// TriggerExecutionsTotal counts executed risk triggers.
	TriggerExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "trigger_executions_total",
			Help:      "Total protective trigger executions by trigger.",
		},
		[]string{"trigger"},
	)

	// AssessmentsTotal counts orchestrated risk assessments by decided action.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "assessments_total",
			Help:      "Total risk assessments by decided action.",
		},
		[]string{"action"},
	)

	// GathererSkipsTotal counts assessments that skipped a provider because
	// its circuit breaker was open.
	GathererSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "gatherer_skips_total",
			Help:      "Total signal gatherers skipped by open circuit breaker, by domain.",
		},
		[]string{"domain"},
	)

	// GathererFailuresTotal counts failed or timed-out signal gatherers.
	GathererFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "gatherer_failures_total",
			Help:      "Total signal gatherer failures and timeouts by domain.",
		},
		[]string{"domain"},
	)

	// NotificationsTotal counts safety notifications by category and priority.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "notifications_total",
			Help:      "Total safety notifications recorded by category and priority.",
		},
		[]string{"category", "priority"},
	)

	// CasesOpenedTotal counts moderation cases by priority.
	CasesOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "cases_opened_total",
			Help:      "Total moderation cases opened by priority.",
		},
		[]string{"priority"},
	)

	// EnforcementChangesTotal counts account status transitions.
	EnforcementChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "enforcement_changes_total",
			Help:      "Total account enforcement status changes by source and target status.",
		},
		[]string{"from", "to"},
	)

	// ActiveWebSocketClients tracks connected moderator feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trustcore",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustcore", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustcore", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustcore", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustcore", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustcore", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustcore", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ConsentTransitionsTotal,
		SignalsDetectedTotal,
		ShieldActivationsTotal,
		ShieldEscalationsTotal,
		ShieldResolutionsTotal,
		BehaviorEventsTotal,
		BehaviorExpiredTotal,
		ModerationFeedbackTotal,
		FeedbackAppliedTotal,
		ProfileEvaluationsTotal,
		TriggerExecutionsTotal,
		AssessmentsTotal,
		GathererSkipsTotal,
		GathererFailuresTotal,
		NotificationsTotal,
		CasesOpenedTotal,
		EnforcementChangesTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
