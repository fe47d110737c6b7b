// Package metrics exposes the authority and its HTTP surface to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/cafesync/internal/fault"
	"github.com/roach88/cafesync/internal/wire"
)

const namespace = "cafesync"

// Recorder holds every collector. It satisfies the gateway's metrics
// interface.
type Recorder struct {
	gatherer prometheus.Gatherer

	intents         *prometheus.CounterVec
	intentDuration  *prometheus.HistogramVec
	deltas          *prometheus.CounterVec
	observers       prometheus.Gauge
	observerDropped prometheus.Counter
	tickDuration    prometheus.Histogram

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	return NewWith(reg, reg)
}

// NewWith registers the collectors on reg and serves from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: g,
		intents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intents_total",
				Help:      "Intents handled by the authority, by kind and outcome code",
			},
			[]string{"kind", "code"},
		),
		intentDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "intent_duration_seconds",
				Help:      "Time from intent receipt to result",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"kind"},
		),
		deltas: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deltas_broadcast_total",
				Help:      "Deltas broadcast to observers, by message type",
			},
			[]string{"type"},
		),
		observers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Currently joined observers",
		}),
		observerDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observers_dropped_total",
			Help:      "Observers dropped for falling behind",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent advancing the world by one tick",
			Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (r *Recorder) IntentHandled(kind wire.IntentKind, code fault.Code, elapsed time.Duration) {
	c := string(code)
	if c == "" {
		c = "ok"
	}
	r.intents.WithLabelValues(string(kind), c).Inc()
	r.intentDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (r *Recorder) DeltaBroadcast(kind wire.Kind) {
	r.deltas.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) Observers(n int) {
	r.observers.Set(float64(n))
}

func (r *Recorder) ObserverDropped() {
	r.observerDropped.Inc()
}

func (r *Recorder) Ticked(d time.Duration) {
	r.tickDuration.Observe(d.Seconds())
}

// Middleware records request counts and latency per route.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		r.httpRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		r.httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
