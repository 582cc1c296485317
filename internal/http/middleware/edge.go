package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// EdgeConfig configures the net/http layer that sits in front of the router.
type EdgeConfig struct {
	AllowedOrigins []string
	// RateLimitRequests per RateLimitWindow per client IP; zero disables it.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Edge wraps next with CORS handling and per-IP rate limiting. Neither layer
// wraps the ResponseWriter, so websocket upgrades still reach the hijacker.
func Edge(next http.Handler, cfg EdgeConfig) http.Handler {
	h := next
	if cfg.RateLimitRequests > 0 {
		h = httprate.Limit(
			cfg.RateLimitRequests,
			cfg.RateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			}),
		)(h)
	}
	if len(cfg.AllowedOrigins) > 0 {
		h = cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", RequestIDHeader, "X-Admin-Token"},
			ExposedHeaders: []string{RequestIDHeader},
			MaxAge:         86400,
		})(h)
	}
	return h
}
