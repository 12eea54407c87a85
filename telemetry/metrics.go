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
	TimeAddedSeconds prometheus.Counter
	PointsAdded      prometheus.Counter
	ChatLines        prometheus.Counter
	ChatReconnects   prometheus.Counter
	CuesPlayed       *prometheus.CounterVec
	StoreWrites      *prometheus.CounterVec
	SyncPushes       *prometheus.CounterVec
	ChatEvents       *prometheus.CounterVec

	// Histograms (seconds)
	SyncPushDuration prometheus.Observer

	// Gauges
	RemainingGauge     prometheus.Gauge
	RunningGauge       prometheus.Gauge // 1=running,0=stopped
	ChatConnectedGauge prometheus.Gauge // 1=joined,0=not joined
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TimeAddedSeconds = promauto.NewCounter(prometheus.CounterOpts{Name: "overtime_time_added_seconds_total", Help: "Seconds added to the countdown (positive additions only)"})
		PointsAdded = promauto.NewCounter(prometheus.CounterOpts{Name: "overtime_points_added_total", Help: "Points recorded into daily statistics"})
		ChatLines = promauto.NewCounter(prometheus.CounterOpts{Name: "overtime_chat_lines_total", Help: "Protocol lines received from chat"})
		ChatReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "overtime_chat_reconnects_total", Help: "Automatic chat reconnect attempts"})
		CuesPlayed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overtime_cues_total", Help: "Audible cues requested, by cue"}, []string{"cue"})
		StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overtime_store_writes_total", Help: "Persistent store writes, by result"}, []string{"result"})
		SyncPushes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overtime_sync_pushes_total", Help: "Remote sync pushes, by result (ok, failed, dropped)"}, []string{"result"})
		ChatEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overtime_chat_events_total", Help: "Viewer events converted from chat, by kind"}, []string{"kind"})
		SyncPushDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "overtime_sync_push_duration_seconds", Help: "Remote sync push duration seconds", Buckets: prometheus.DefBuckets})
		RemainingGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "overtime_remaining_seconds", Help: "Remaining countdown seconds as of the last tick or mutation"})
		RunningGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "overtime_running", Help: "Countdown running=1 stopped=0"})
		ChatConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "overtime_chat_connected", Help: "Chat channel joined=1 otherwise 0"})
	})
}

// SetTimer records the engine's remaining seconds and running flag.
func SetTimer(remaining int, running bool) {
	if RemainingGauge != nil {
		RemainingGauge.Set(float64(remaining))
	}
	if RunningGauge != nil {
		if running {
			RunningGauge.Set(1)
		} else {
			RunningGauge.Set(0)
		}
	}
}

// RecordTimeAdded counts a positive addition and any points that came with it.
func RecordTimeAdded(seconds, points int) {
	if TimeAddedSeconds != nil && seconds > 0 {
		TimeAddedSeconds.Add(float64(seconds))
	}
	if PointsAdded != nil && points > 0 {
		PointsAdded.Add(float64(points))
	}
}

// RecordCue counts a cue request.
func RecordCue(cue string) {
	if CuesPlayed != nil {
		CuesPlayed.WithLabelValues(cue).Inc()
	}
}

// RecordStoreWrite counts a store write by outcome.
func RecordStoreWrite(err error) {
	if StoreWrites == nil {
		return
	}
	if err != nil {
		StoreWrites.WithLabelValues("error").Inc()
		return
	}
	StoreWrites.WithLabelValues("ok").Inc()
}

// RecordSync counts a remote sync outcome: ok, failed or dropped.
func RecordSync(result string) {
	if SyncPushes != nil {
		SyncPushes.WithLabelValues(result).Inc()
	}
}

// RecordChatLine counts a received protocol line.
func RecordChatLine() {
	if ChatLines != nil {
		ChatLines.Inc()
	}
}

// RecordChatEvent counts a classified viewer event.
func RecordChatEvent(kind string) {
	if ChatEvents != nil {
		ChatEvents.WithLabelValues(kind).Inc()
	}
}

// RecordReconnect counts an automatic reconnect attempt.
func RecordReconnect() {
	if ChatReconnects != nil {
		ChatReconnects.Inc()
	}
}

// SetChatConnected sets gauge to 1 if joined else 0.
func SetChatConnected(connected bool) {
	if ChatConnectedGauge != nil {
		if connected {
			ChatConnectedGauge.Set(1)
		} else {
			ChatConnectedGauge.Set(0)
		}
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

// WithCorrelation returns a new context embedding the correlation id.
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

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
