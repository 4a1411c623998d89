package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// NewOpsRouter returns the ops handler: /metrics for Prometheus and /healthz
// which runs every health check with a short deadline.
func NewOpsRouter(checks map[string]HealthFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 500*time.Millisecond)
		defer cancel()

		for name, fn := range checks {
			if err := fn(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = fmt.Fprintf(w, "unhealthy: %s: %v", name, err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// NewOpsServer wraps NewOpsRouter in an *http.Server listening on port.
// The caller owns ListenAndServe and Shutdown.
func NewOpsServer(port string, checks map[string]HealthFunc) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           NewOpsRouter(checks),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
