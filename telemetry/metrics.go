// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SessionJoins      prometheus.Counter
	SessionLeaves     prometheus.Counter
	RoomMerges        prometheus.Counter
	RoomSeparates     prometheus.Counter
	EventsDispatched  *prometheus.CounterVec
	EventsDropped     prometheus.Counter
	APICallsTotal     prometheus.Counter
	APICallFailures   prometheus.Counter
	APIAuthRetries    prometheus.Counter
	TokenRefreshes    prometheus.Counter

	// Histograms (seconds)
	DispatchDuration prometheus.Observer
	APICallDuration  prometheus.Observer

	// Gauges
	ActiveSessionsGauge prometheus.Gauge
	ChannelsCachedGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SessionJoins = promauto.NewCounter(prometheus.CounterOpts{Name: "multichat_session_joins_total", Help: "Number of chat room joins completed"})
		SessionLeaves = promauto.NewCounter(prometheus.CounterOpts{Name: "multichat_session_leaves_total", Help: "Number of chat room leaves completed"})
		RoomMerges = promauto.NewCounter(prometheus.CounterOpts{Name: "multichat_room_merges_total", Help: "Number of merge operations applied"})
		RoomSeparates = promauto.NewCounter(prometheus.CounterOpts{Name: "multichat_room_separates_total", Help: "Number of separate operations applied"})
		EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "multichat_events_dispatched_total", Help: "Feed events dispatched to a registered target"}, []string{"kind"})
		EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "multichat_events_dropped_total", Help: "Feed events dropped (no registered target or full buffer)"})
		APICallsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "multichat_api_calls_total", Help: "Remote API calls executed through the resilient client"})
		APICallFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "multichat_api_call_failures_total", Help: "Remote API calls that surfaced an error"})
		APIAuthRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "multichat_api_auth_retries_total", Help: "Calls retried after an in-band credential refresh"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "multichat_token_refreshes_total", Help: "Credential refreshes (in-band and preemptive)"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "multichat_dispatch_duration_seconds", Help: "Per-event dispatch duration seconds", Buckets: prometheus.DefBuckets})
		APICallDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "multichat_api_call_duration_seconds", Help: "Remote API call duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "multichat_active_sessions", Help: "Currently joined chat sessions"})
		ChannelsCachedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "multichat_channels_cached", Help: "Channel states currently cached"})
	})
}

// CountAPICall increments the executed-calls counter.
func CountAPICall() {
	if APICallsTotal != nil {
		APICallsTotal.Inc()
	}
}

// CountAPIFailure increments the failed-calls counter.
func CountAPIFailure() {
	if APICallFailures != nil {
		APICallFailures.Inc()
	}
}

// CountAuthRetry increments the refresh-and-retry counter.
func CountAuthRetry() {
	if APIAuthRetries != nil {
		APIAuthRetries.Inc()
	}
}

// CountTokenRefresh increments the credential-refresh counter.
func CountTokenRefresh() {
	if TokenRefreshes != nil {
		TokenRefreshes.Inc()
	}
}

// CountJoin / CountLeave / CountMerge / CountSeparate track room operations.
func CountJoin() {
	if SessionJoins != nil {
		SessionJoins.Inc()
	}
}

func CountLeave() {
	if SessionLeaves != nil {
		SessionLeaves.Inc()
	}
}

func CountMerge() {
	if RoomMerges != nil {
		RoomMerges.Inc()
	}
}

func CountSeparate() {
	if RoomSeparates != nil {
		RoomSeparates.Inc()
	}
}

// AddActiveSessions moves the joined-sessions gauge by delta.
func AddActiveSessions(delta int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Add(float64(delta))
	}
}

// SetChannelsCached records the current channel-cache size.
func SetChannelsCached(n int) {
	if ChannelsCachedGauge != nil {
		ChannelsCachedGauge.Set(float64(n))
	}
}

// SetActiveSessions records the current number of joined sessions.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// CountDispatched increments the dispatch counter for an event kind.
func CountDispatched(kind string) {
	if EventsDispatched != nil {
		EventsDispatched.WithLabelValues(kind).Inc()
	}
}

// CountDropped increments the dropped-events counter.
func CountDropped() {
	if EventsDropped != nil {
		EventsDropped.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns the default logger annotated with the context's
// correlation id, if any.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
