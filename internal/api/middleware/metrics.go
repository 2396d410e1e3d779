// metrics.go — Prometheus HTTP метрики: dr_http_requests_total,
// dr_http_request_duration_seconds. Идентификаторы в путях заменяются
// на {id}, чтобы ограничить кардинальность.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dr_http_requests_total",
			Help: "Общее количество HTTP-запросов к Defects Register",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dr_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Defects Register в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware собирает количество и длительность запросов по endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.statusCode)
			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath приводит путь к шаблону маршрута:
// /api/v1/defects/42/files → /api/v1/defects/{id}/files,
// /storage/v1/object/sign/bucket/1/a.jpg → /storage/v1/object/sign/{object}.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/storage/v1/object/sign/") {
		return "/storage/v1/object/sign/{object}"
	}
	if strings.HasPrefix(path, "/static/") {
		return "/static/{file}"
	}

	segments := strings.Split(path, "/")
	for i, s := range segments {
		if s == "" {
			continue
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}
