package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/folio/internal/contact"
	"github.com/AlexKimmel/folio/internal/gateway"
	"github.com/AlexKimmel/folio/internal/mail"
	"github.com/AlexKimmel/folio/internal/obs"
	"github.com/AlexKimmel/folio/internal/ratelimit"
)

const ContactRoute = "/api/contact"

type Deps struct {
	Logger      zerolog.Logger
	Guard       *ratelimit.Guard
	Mailer      mail.Dispatcher
	Metrics     *obs.Metrics
	Gatherer    prometheus.Gatherer
	MetricsPath string
	MaxBody     int64
	Version     string
}

// New wires the routes and wraps them as logger -> recover -> body limit.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	skip := map[string]struct{}{
		"/health":  {},
		"/version": {},
	}
	if d.MetricsPath != "" {
		skip[d.MetricsPath] = struct{}{}
	}
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware(skip))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(d.Version))
	})

	if d.MetricsPath != "" && d.Gatherer != nil {
		r.Method(http.MethodGet, d.MetricsPath, promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	h := contact.NewHandler(d.Guard, d.Mailer, hooks(d.Metrics))
	r.Post(ContactRoute, h.ServeHTTP)
	r.Get(ContactRoute+"/limit", h.Status)

	return gateway.Chain(
		r,
		obs.Logger(d.Logger),
		gateway.Recover(),
		gateway.BodyLimit(d.MaxBody),
	)
}

func hooks(m *obs.Metrics) contact.Hooks {
	if m == nil {
		return contact.Hooks{}
	}
	return contact.Hooks{
		OnOutcome: func(outcome string) {
			m.Submissions.WithLabelValues(outcome).Inc()
			if outcome == contact.OutcomeRateLimited {
				m.RateLimited.WithLabelValues(ContactRoute).Inc()
			}
		},
		OnLimiterError: func() {
			m.LimiterErrors.WithLabelValues(ContactRoute).Inc()
		},
		OnDeliveryFailure: func(kind mail.Kind) {
			m.DeliveryFailures.WithLabelValues(kind.String()).Inc()
		},
	}
}
