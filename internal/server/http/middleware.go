package httpserver

import (
	"net/http"
	"time"

	"github.com/and161185/charforge/internal/server/authn"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestLogger logs one line per request with zap.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("dur", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}

// RateLimit rejects requests above the limiter's rate with 429.
func RateLimit(lim *rate.Limiter, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				log.Warn("too many requests", zap.String("path", r.URL.Path))
				renderError(w, r, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerAuth requires a valid access token and stores the subject in the
// request context.
func BearerAuth(signKey []byte, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := authn.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				renderError(w, r, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			id, err := authn.ParseAccessToken(signKey, tok)
			if err != nil {
				log.Info("invalid token", zap.String("request_id", middleware.GetReqID(r.Context())))
				renderError(w, r, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(authn.WithUserID(r.Context(), id)))
		})
	}
}
