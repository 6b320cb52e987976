// metrics.go — Prometheus метрики filedrop.
// HTTP метрики: fd_http_requests_total, fd_http_request_duration_seconds.
// Бизнес-метрики экспортируются для обновления из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fd_http_requests_total",
			Help: "Общее количество HTTP-запросов к filedrop",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fd_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к filedrop в секундах",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики
var (
	// OperationsTotal — количество операций по типу и результату.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fd_operations_total",
			Help: "Общее количество файловых операций",
		},
		[]string{"operation", "result"},
	)

	// UploadBytesTotal — принятые байты (прямая загрузка и чанки).
	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_upload_bytes_total",
		Help: "Общее количество принятых байтов",
	})

	// DownloadBytesTotal — отданные байты.
	DownloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_download_bytes_total",
		Help: "Общее количество отданных байтов",
	})

	// ActiveUploadSessions — сессии загрузки, созданные и ещё не завершённые
	// этим процессом.
	ActiveUploadSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fd_active_upload_sessions",
		Help: "Количество незавершённых сессий загрузки",
	})

	// SweepRemovedTotal — удалённые sweep-ом объекты.
	SweepRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fd_sweep_removed_total",
			Help: "Количество объектов, удалённых sweep",
		},
		[]string{"kind"},
	)

	// RateLimitedTotal — отклонённые лимитером запросы.
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_rate_limited_total",
		Help: "Количество запросов, отклонённых лимитером",
	})

	// PublicCacheHits / PublicCacheMisses — кэш расположения публичных файлов.
	PublicCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_public_cache_hits_total",
		Help: "Попадания в кэш расположения публичных файлов",
	})
	PublicCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_public_cache_misses_total",
		Help: "Промахи кэша расположения публичных файлов",
	})
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Лейбл path — шаблон маршрута chi, а не фактический URL,
// чтобы имена файлов и id сессий не раздували кардинальность.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			path := routePattern(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		})
	}
}

// routePattern возвращает шаблон маршрута chi после обработки запроса.
// Для несовпавших маршрутов — "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return "unmatched"
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
