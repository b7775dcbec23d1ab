package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"holdtalk/audio"
	"holdtalk/session"
	"holdtalk/upload"
)

// Metrics holds the session counters. It implements session.Observer.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	UploadFailures    prometheus.Counter
	PermissionDenied  prometheus.Counter
	Errors            *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge

	HoldDuration    prometheus.Histogram
	SessionDuration prometheus.Histogram
	UploadDuration  prometheus.Histogram
	ClipSize        prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "holdtalk_sessions_started_total",
			Help: "Sessions that entered the listening state",
		}),
		SessionsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "holdtalk_sessions_completed_total",
			Help: "Sessions that returned to idle after an upload attempt",
		}),
		UploadFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "holdtalk_upload_failures_total",
			Help: "Uploads that failed, timed out or got a non-2xx response",
		}),
		PermissionDenied: f.NewCounter(prometheus.CounterOpts{
			Name: "holdtalk_permission_denied_total",
			Help: "Presses rejected because the microphone could not be opened",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "holdtalk_session_errors_total",
			Help: "Session errors by kind",
		}, []string{"kind"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "holdtalk_active_sessions",
			Help: "1 while a session is listening or processing",
		}),
		HoldDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "holdtalk_hold_duration_seconds",
			Help:    "Time between press and release",
			Buckets: prometheus.ExponentialBuckets(0.125, 2, 10), // 125ms to ~1 minute
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "holdtalk_session_duration_seconds",
			Help:    "Time between press and return to idle",
			Buckets: prometheus.ExponentialBuckets(0.125, 2, 10),
		}),
		UploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "holdtalk_upload_duration_seconds",
			Help:    "Wall time of the upload request",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
		ClipSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "holdtalk_clip_size_bytes",
			Help:    "Size of encoded clips",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~2MB
		}),
	}
}

func (m *Metrics) StatusChanged(s session.Status) {
	switch s.State {
	case session.Listening:
		m.SessionsStarted.Inc()
		m.ActiveSessions.Set(1)
	case session.Processing:
		m.ActiveSessions.Set(1)
	default:
		m.ActiveSessions.Set(0)
	}
}

func (m *Metrics) SessionError(_ uuid.UUID, err error) {
	kind := "other"
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		kind = "permission_denied"
		m.PermissionDenied.Inc()
	case errors.Is(err, audio.ErrUnsupported):
		kind = "unsupported"
	case errors.Is(err, upload.ErrUploadFailed):
		kind = "upload"
		m.UploadFailures.Inc()
	}
	m.Errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionFinished(s session.Summary) {
	m.SessionsCompleted.Inc()
	m.HoldDuration.Observe(s.Held.Seconds())
	m.SessionDuration.Observe(s.Total.Seconds())
	if len(s.Clip.Data) > 0 {
		m.ClipSize.Observe(float64(len(s.Clip.Data)))
	}
	if s.Result != nil && s.Result.Metrics != nil {
		m.UploadDuration.Observe(s.Result.Metrics.Total.Seconds())
	}
}

var _ session.Observer = (*Metrics)(nil)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
