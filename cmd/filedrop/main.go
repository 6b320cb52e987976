// Точка входа filedrop — сервиса приёма и отдачи файлов
// в пространствах владельцев.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/goartstore/filedrop/internal/api/handlers"
	"github.com/bigkaa/goartstore/filedrop/internal/api/middleware"
	"github.com/bigkaa/goartstore/filedrop/internal/config"
	"github.com/bigkaa/goartstore/filedrop/internal/ratelimit"
	"github.com/bigkaa/goartstore/filedrop/internal/server"
	"github.com/bigkaa/goartstore/filedrop/internal/service"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/filestore"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/namespace"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/wal"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("filedrop запускается",
		slog.String("service_id", cfg.ServiceID),
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.Bool("auth", cfg.AuthEnabled()),
	)

	// --- Инициализация компонентов ---

	// 1. Пространства владельцев
	ns, err := namespace.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации директории данных", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. WAL-движок
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Файловое хранилище
	store := filestore.New(filestore.DefaultBlockSize)

	// 4. Восстановление незавершённых загрузок
	if _, err := service.NewRecovery(walEngine, store, cfg.Retention, logger).Run(); err != nil {
		logger.Error("Ошибка восстановления WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Сервисы
	locator := service.NewPublicLocator(cfg.PublicCacheSize, cfg.PublicCacheTTL)
	uploadSvc := service.NewUploadService(cfg, ns, store, walEngine, logger)
	sessionSvc := service.NewSessionService(cfg, ns, store, walEngine, logger)
	downloadSvc := service.NewDownloadService(cfg, ns, store, locator, logger)
	fileSvc := service.NewFileService(ns, store, locator, sessionSvc, logger)

	ctx := context.Background()

	// 6. Аутентификация и мониторинг JWKS
	var (
		auth         server.OwnerAuth
		dephealthSvc *service.DephealthService
		deps         handlers.DependencyChecker
	)
	if cfg.AuthEnabled() {
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			TLSSkipVerify:   cfg.TLSSkipVerify,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWT", slog.String("error", err.Error()))
			os.Exit(1)
		}
		auth = jwtAuth
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))

		dephealthSvc, err = service.NewDephealthService(service.DephealthParams{
			ServiceID:     resolveDephealthName(cfg),
			Group:         cfg.DephealthGroup,
			DepName:       cfg.DephealthDepName,
			JWKSUrl:       cfg.JWKSUrl,
			CheckInterval: cfg.DephealthCheckInterval,
			TLSSkipVerify: cfg.TLSSkipVerify,
		}, logger)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
		} else if err := dephealthSvc.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
			dephealthSvc = nil
		} else {
			deps = dephealthSvc
		}
	} else {
		logger.Warn("FD_JWKS_URL не задан, владелец берётся из заголовка " + middleware.DevOwnerHeader)
	}

	// 7. Лимитер публичного скачивания
	var limiter *ratelimit.Limiter
	if cfg.RateLimitMax > 0 {
		limiter = ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow, cfg.RateLimitBlock, ratelimit.DefaultMaxKeys)
	}

	// 8. Handlers
	apiHandler := handlers.NewAPIHandler(
		handlers.NewFilesHandler(uploadSvc, downloadSvc, fileSvc, logger),
		handlers.NewUploadsHandler(sessionSvc, logger),
		handlers.NewSystemHandler(cfg, diskUsageFn(cfg.DataDir), logger),
		handlers.NewMaintenanceHandler(fileSvc, logger),
		handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir, deps),
	)

	// 9. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, auth, limiter)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("filedrop остановлен")
}

// diskUsageFn возвращает функцию для получения информации об ёмкости диска.
func diskUsageFn(dataDir string) handlers.DiskUsageFunc {
	return func() (int64, int64, int64, error) {
		return filestore.DiskUsage(dataDir)
	}
}
