// Package httpserver serves the HTTP surface of the backend: health, metrics
// and the HTTP form of the payment verification function.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/and161185/charforge/internal/service"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deps are the collaborators of the router.
type Deps struct {
	Payments service.PaymentService
	SignKey  []byte
	Gatherer prometheus.Gatherer
	Log      *zap.Logger

	// VerifyRate and VerifyBurst bound calls to the verification function.
	VerifyRate  rate.Limit
	VerifyBurst int

	// Ready reports backend readiness for /healthz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func renderError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

// NewRouter builds the chi router.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.VerifyRate <= 0 {
		d.VerifyRate = 5
	}
	if d.VerifyBurst <= 0 {
		d.VerifyBurst = 10
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		RequestLogger(d.Log),
		middleware.Recoverer,
	)

	r.Get("/healthz", healthHandler(d.Ready))
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	vh := &verifyHandler{payments: d.Payments, log: d.Log, validate: validator.New()}
	r.Route("/v1/functions", func(r chi.Router) {
		r.Use(RateLimit(rate.NewLimiter(d.VerifyRate, d.VerifyBurst), d.Log))
		r.Use(BearerAuth(d.SignKey, d.Log))
		r.Post("/verify-payment", vh.ServeHTTP)
	})
	return r
}

func healthHandler(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				renderError(w, r, http.StatusServiceUnavailable, "not ready")
				return
			}
		}
		render.JSON(w, r, map[string]string{"status": "ok"})
	}
}
