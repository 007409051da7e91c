package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session outcomes.
const (
	SessionEstablished      = "established"
	SessionRejectedMissing  = "rejected_missing"
	SessionRejectedInvalid  = "rejected_invalid"
	SessionRejectedInternal = "rejected_internal"
)

// Pipeline outcomes.
const (
	PipelineOK               = "ok"
	PipelineNoSpeech         = "no_speech"
	PipelineDecodeError      = "decode_error"
	PipelineTranscribeError  = "transcription_error"
	PipelineGenerateError    = "generation_error"
	PipelinePersistenceError = "persistence_error"
)

// Metrics holds the Prometheus collectors of the voice service.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions prometheus.Gauge
	Sessions       *prometheus.CounterVec
	Messages       *prometheus.CounterVec

	// Pipeline metrics
	Pipelines        *prometheus.CounterVec
	PipelineDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_sessions_active",
			Help: "Current number of authenticated voice sessions",
		}),
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_sessions_total",
			Help: "Total number of session handshakes by outcome",
		}, []string{"outcome"}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_messages_total",
			Help: "Total number of inbound messages by type",
		}, []string{"type"}),

		Pipelines: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_pipeline_total",
			Help: "Total number of audio pipeline runs by outcome",
		}, []string{"outcome"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_pipeline_duration_seconds",
			Help:    "Time from audio receipt to reply",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionOpened() {
	m.Sessions.WithLabelValues(SessionEstablished).Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	m.ActiveSessions.Dec()
}

func (m *Metrics) SessionRejected(outcome string) {
	m.Sessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MessageReceived(msgType string) {
	m.Messages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) PipelineFinished(outcome string, elapsed time.Duration) {
	m.Pipelines.WithLabelValues(outcome).Inc()
	m.PipelineDuration.Observe(elapsed.Seconds())
}

// Middleware records request counts and latencies by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			// Hijacked connections (websocket upgrades) never write a status.
			status = http.StatusSwitchingProtocols
		}

		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
