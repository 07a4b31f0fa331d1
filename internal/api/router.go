package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/intervue/moodline/internal/logging"
	"github.com/intervue/moodline/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every route.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics)

	r.Route("/api/emotion", func(r chi.Router) {
		r.Post("/frame", h.Frame)
		r.Get("/health", h.Health)
	})
	r.Get("/api/sessions/{sessionID}/emotions", h.SessionEmotions)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestMetrics counts responses by route pattern and logs each request at
// debug level.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.RecordHTTPRequest(route, status)

		logging.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}
