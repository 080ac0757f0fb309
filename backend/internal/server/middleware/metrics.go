package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/docease/telecare/backend/internal/metrics"
)

// Metrics returns middleware that records Prometheus metrics.
// The chi wrapper is used so websocket upgrades can still hijack the
// connection.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(time.Since(start).Seconds())
	})
}

// normalizePath normalizes paths to avoid high cardinality in metrics.
func normalizePath(path string) string {
	for _, role := range []string{"/api/user/", "/api/doctor/"} {
		if strings.HasPrefix(path, role) {
			return "/api/{role}/" + strings.TrimPrefix(path, role)
		}
	}
	if strings.HasPrefix(path, "/api/") || path == "/ws" || path == "/health" || path == "/metrics" {
		return path
	}
	return "other"
}
