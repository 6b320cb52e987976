// Пакет server — HTTP-сервер filedrop с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/filedrop/internal/api/handlers"
	"github.com/bigkaa/goartstore/filedrop/internal/api/middleware"
	"github.com/bigkaa/goartstore/filedrop/internal/config"
	"github.com/bigkaa/goartstore/filedrop/internal/ratelimit"
)

// OwnerAuth — источник владельца запроса (JWT middleware).
type OwnerAuth interface {
	Middleware() func(http.Handler) http.Handler
}

// Server — HTTP-сервер filedrop.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// auth == nil — режим разработки: владелец берётся из X-Owner-ID.
// limiter == nil — публичное скачивание без ограничения частоты.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	api *handlers.APIHandler,
	auth OwnerAuth,
	limiter *ratelimit.Limiter,
) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, api, auth, limiter),
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	// Настройка TLS
	if cfg.TLSEnabled() {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер filedrop.
func NewRouter(
	logger *slog.Logger,
	api *handlers.APIHandler,
	auth OwnerAuth,
	limiter *ratelimit.Limiter,
) http.Handler {
	router := chi.NewRouter()

	router.Use(chimw.Recoverer)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	// HEAD обслуживается GET-обработчиками без тела
	router.Use(chimw.GetHead)

	// Публичные endpoints
	router.Get("/health/live", api.Health.HealthLive)
	router.Get("/health/ready", api.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/api/v1/info", api.System.GetInfo)
	router.With(middleware.RateLimit(limiter)).Get("/public/{name}", api.Files.PublicDownload)

	// Endpoints владельца
	router.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(auth.Middleware())
		} else {
			r.Use(middleware.DevOwner())
		}
		r.Use(middleware.RequireOwner())

		r.Route("/api/v1/files", func(r chi.Router) {
			r.Post("/", api.Files.UploadFile)
			r.Get("/", api.Files.ListFiles)
			r.Get("/{name}", api.Files.DownloadFile)
			r.Delete("/{name}", api.Files.DeleteFile)
		})

		r.Route("/api/v1/uploads", func(r chi.Router) {
			r.Post("/", api.Uploads.InitUpload)
			r.Post("/chunk", api.Uploads.UploadChunk)
			r.Post("/finalize", api.Uploads.FinalizeUpload)
			r.Get("/{upload_id}", api.Uploads.UploadStatus)
		})

		r.Post("/api/v1/maintenance/sweep", api.Maintenance.Sweep)
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом FD_SHUTDOWN_TIMEOUT.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSEnabled()),
		)

		var err error
		if s.cfg.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
