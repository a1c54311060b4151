package metric

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/yndnr/weft-go/internal/core/router"
)

const namespace = "weft"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Worker pool
	WorkersIdle prometheus.Gauge
	WorkersBusy prometheus.Gauge
	AcceptTotal *prometheus.CounterVec

	// Sessions
	SessionsActive   *prometheus.GaugeVec
	SessionsTotal    *prometheus.CounterVec
	SessionRequests  *prometheus.HistogramVec
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	DispatchFailures *prometheus.CounterVec

	// Stages and client
	RateLimited      *prometheus.CounterVec
	ClientHandshakes *prometheus.CounterVec
}

// NewRegistry creates a registry with every weft metric registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		WorkersIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_idle",
			Help:      "Workers waiting for a connection.",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Workers serving a connection.",
		}),
		AcceptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accepts_total",
			Help:      "Accept attempts by acceptor and result.",
		}, []string{"acceptor", "result"}),

		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Connections currently being served.",
		}, []string{"acceptor"}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Connections served to completion.",
		}, []string{"acceptor"}),
		SessionRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_requests",
			Help:      "Requests served per connection.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"acceptor"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Dispatched requests by final verb and status.",
		}, []string{"acceptor", "result", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent dispatching a request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"acceptor"}),
		DispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Dispatches that ended in an error.",
		}, []string{"acceptor"}),

		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"route"}),
		ClientHandshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_handshakes_total",
			Help:      "Client 100-continue handshakes by final state.",
		}, []string{"state"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.WorkersIdle,
		r.WorkersBusy,
		r.AcceptTotal,
		r.SessionsActive,
		r.SessionsTotal,
		r.SessionRequests,
		r.RequestsTotal,
		r.RequestDuration,
		r.DispatchFailures,
		r.RateLimited,
		r.ClientHandshakes,
	)
	return r
}

// Handler returns an HTTP handler for /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// WriteText writes the metric families whose name starts with prefix in the
// Prometheus text format. An empty prefix writes everything.
func (r *Registry) WriteText(w io.Writer, prefix string) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("metric: gather: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), prefix) {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metric: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Workers implements workerpool.Observer.
func (r *Registry) Workers(idle, busy int) {
	r.WorkersIdle.Set(float64(idle))
	r.WorkersBusy.Set(float64(busy))
}

// AcceptDone implements workerpool.Observer.
func (r *Registry) AcceptDone(acceptor string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.AcceptTotal.WithLabelValues(acceptor, result).Inc()
}

// SessionStarted implements workerpool.Observer.
func (r *Registry) SessionStarted(acceptor string) {
	r.SessionsActive.WithLabelValues(acceptor).Inc()
}

// SessionEnded implements workerpool.Observer.
func (r *Registry) SessionEnded(acceptor string, requests int) {
	r.SessionsActive.WithLabelValues(acceptor).Dec()
	r.SessionsTotal.WithLabelValues(acceptor).Inc()
	r.SessionRequests.WithLabelValues(acceptor).Observe(float64(requests))
}

// RequestDone implements workerpool.Observer.
func (r *Registry) RequestDone(acceptor string, res router.Result, status int, elapsed time.Duration, err error) {
	if err != nil {
		r.DispatchFailures.WithLabelValues(acceptor).Inc()
		status = http.StatusInternalServerError
	}
	r.RequestsTotal.WithLabelValues(acceptor, res.String(), strconv.Itoa(status)).Inc()
	r.RequestDuration.WithLabelValues(acceptor).Observe(elapsed.Seconds())
}

// IncRateLimited counts a request rejected on route.
func (r *Registry) IncRateLimited(route string) {
	r.RateLimited.WithLabelValues(route).Inc()
}

// RecordHandshake counts a finished client handshake by its final state.
func (r *Registry) RecordHandshake(state string) {
	r.ClientHandshakes.WithLabelValues(state).Inc()
}
