package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlexKimmel/folio/internal/gateway"
)

type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ResponseSize     *prometheus.HistogramVec
	RateLimited      *prometheus.CounterVec
	LimiterErrors    *prometheus.CounterVec
	Submissions      *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	SweptEntries     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_requests_total",
				Help: "Total HTTP requests processed",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "folio_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		ResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "folio_response_size_bytes",
				Help:    "Response body size in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 6),
			},
			[]string{"route"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_rate_limited_total",
				Help: "Total requests rejected due to rate limiting",
			},
			[]string{"route"},
		),
		LimiterErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_limiter_errors_total",
				Help: "Total rate limiter errors",
			},
			[]string{"route"},
		),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_contact_submissions_total",
				Help: "Contact submissions by outcome",
			},
			[]string{"outcome"},
		),
		DeliveryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_email_failures_total",
				Help: "Failed email deliveries by kind",
			},
			[]string{"kind"},
		),
		SweptEntries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "folio_ratelimit_swept_total",
				Help: "Rate limit entries reclaimed by the sweep",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.ResponseSize, m.RateLimited, m.LimiterErrors,
		m.Submissions, m.DeliveryFailures, m.SweptEntries,
	)
	return m
}

// TrackEntries exports the live limiter entry count as a gauge.
func (m *Metrics) TrackEntries(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "folio_ratelimit_entries",
			Help: "Client identifiers currently tracked by the rate limiter",
		},
		func() float64 { return float64(count()) },
	))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Middleware records per-request metrics. Install it with chi's Use so the
// matched route pattern is available once the handler returns.
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			route := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}

			method := r.Method
			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
			m.ResponseSize.WithLabelValues(route).Observe(float64(rec.bytes))
		})
	}
}
