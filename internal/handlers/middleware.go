package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/genc-murat/ringtsdb/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument tags every request with an id, logs it, and feeds the request
// counters and latency histogram.
func instrument(m *metrics.Metrics, log *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := uuid.NewString()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tmpl, err := cur.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			m.RequestTotal.WithLabelValues(route, http.StatusText(rec.status)).Inc()
			m.Duration.WithLabelValues(route).Observe(elapsed.Seconds())
			log.Debug("request",
				"id", reqID,
				"method", r.Method,
				"route", route,
				"status", rec.status,
				"elapsed", elapsed,
			)
		})
	}
}
