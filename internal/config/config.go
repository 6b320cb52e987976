// Пакет config — загрузка и валидация конфигурации filedrop
// из переменных окружения FD_*.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

const (
	// minRangeBlock, maxRangeBlock — границы блока отдачи диапазонов.
	minRangeBlock = 256 << 10
	maxRangeBlock = 32 << 20
)

// Config содержит все параметры конфигурации filedrop.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Имя сервиса (вершина графа topologymetrics)
	ServiceID string
	// Корневая директория пространств владельцев
	DataDir string
	// Путь к директории WAL
	WALDir string

	// Предел размера прямой загрузки в байтах (0 — без ограничения)
	MaxUploadSize int64
	// Размер чанка возобновляемой загрузки в байтах
	ChunkSize int64
	// Срок хранения загруженных файлов
	Retention time.Duration
	// Размер блока отдачи файлов в байтах, уже ограниченный [256 КБ, 32 МБ]
	RangeBlockSize int
	// TTL брошенных сессий загрузки (0 — сессии хранятся бессрочно)
	SessionTTL time.Duration

	// Размер и TTL кэша расположения публичных файлов
	PublicCacheSize int
	PublicCacheTTL  time.Duration

	// Лимитер публичного скачивания: лимит в окне и длительность блокировки.
	// RateLimitMax = 0 отключает лимитер.
	RateLimitMax    int
	RateLimitWindow time.Duration
	RateLimitBlock  time.Duration

	// URL JWKS endpoint. Пустое значение — запуск без аутентификации.
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Пропуск проверки TLS-сертификата JWKS endpoint (только для разработки)
	TLSSkipVerify bool
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Допуск расхождения часов при проверке exp/nbf
	JWTLeeway time.Duration

	// Путь к TLS сертификату и ключу. HTTPS включается, если заданы оба.
	TLSCert string
	TLSKey  string

	// Таймауты HTTP-сервера
	HTTPReadHeaderTimeout time.Duration
	HTTPReadTimeout       time.Duration
	HTTPWriteTimeout      time.Duration
	HTTPIdleTimeout       time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics (FD_DEPHEALTH_GROUP)
	DephealthGroup string
	// Имя зависимости в метриках topologymetrics (FD_DEPHEALTH_DEP_NAME)
	DephealthDepName string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
}

// AuthEnabled сообщает, включена ли JWT-аутентификация.
func (c *Config) AuthEnabled() bool {
	return c.JWKSUrl != ""
}

// TLSEnabled сообщает, работает ли сервер по HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// FD_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("FD_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FD_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("FD_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	cfg.ServiceID = getEnvDefault("FD_SERVICE_ID", "filedrop")

	// FD_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("FD_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// FD_WAL_DIR — по умолчанию <data>/.wal (скрытая, не попадает в поиск пространств)
	cfg.WALDir = getEnvDefault("FD_WAL_DIR", filepath.Join(cfg.DataDir, ".wal"))

	// FD_MAX_UPLOAD_SIZE — 0 означает без ограничения
	cfg.MaxUploadSize, err = getEnvInt64("FD_MAX_UPLOAD_SIZE", 0)
	if err != nil {
		return nil, fmt.Errorf("FD_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize < 0 {
		return nil, fmt.Errorf("FD_MAX_UPLOAD_SIZE: значение не может быть отрицательным")
	}

	// FD_CHUNK_SIZE — размер чанка (по умолчанию 64 МБ)
	cfg.ChunkSize, err = getEnvInt64("FD_CHUNK_SIZE", 64<<20)
	if err != nil {
		return nil, fmt.Errorf("FD_CHUNK_SIZE: %w", err)
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("FD_CHUNK_SIZE: значение должно быть положительным")
	}

	// FD_RETENTION_DAYS — срок хранения (по умолчанию 5 дней)
	days, err := getEnvInt("FD_RETENTION_DAYS", 5)
	if err != nil {
		return nil, fmt.Errorf("FD_RETENTION_DAYS: %w", err)
	}
	if days <= 0 {
		return nil, fmt.Errorf("FD_RETENTION_DAYS: значение должно быть положительным")
	}
	cfg.Retention = time.Duration(days) * 24 * time.Hour

	// FD_RANGE_BLOCK_MB — блок отдачи в МБ, дробное значение допускается
	blockMB, err := getEnvFloat("FD_RANGE_BLOCK_MB", 4)
	if err != nil {
		return nil, fmt.Errorf("FD_RANGE_BLOCK_MB: %w", err)
	}
	cfg.RangeBlockSize = clampRangeBlock(blockMB)

	cfg.SessionTTL, err = getEnvDuration("FD_SESSION_TTL", 0)
	if err != nil {
		return nil, fmt.Errorf("FD_SESSION_TTL: %w", err)
	}
	if cfg.SessionTTL < 0 {
		return nil, fmt.Errorf("FD_SESSION_TTL: значение не может быть отрицательным")
	}

	cfg.PublicCacheSize, err = getEnvInt("FD_PUBLIC_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("FD_PUBLIC_CACHE_SIZE: %w", err)
	}
	if cfg.PublicCacheSize <= 0 {
		return nil, fmt.Errorf("FD_PUBLIC_CACHE_SIZE: значение должно быть положительным")
	}
	cfg.PublicCacheTTL, err = getEnvDuration("FD_PUBLIC_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FD_PUBLIC_CACHE_TTL: %w", err)
	}

	cfg.RateLimitMax, err = getEnvInt("FD_RATE_LIMIT_MAX", 120)
	if err != nil {
		return nil, fmt.Errorf("FD_RATE_LIMIT_MAX: %w", err)
	}
	if cfg.RateLimitMax < 0 {
		return nil, fmt.Errorf("FD_RATE_LIMIT_MAX: значение не может быть отрицательным")
	}
	cfg.RateLimitWindow, err = getEnvDuration("FD_RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FD_RATE_LIMIT_WINDOW: %w", err)
	}
	if cfg.RateLimitMax > 0 && cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("FD_RATE_LIMIT_WINDOW: должно быть > 0 при FD_RATE_LIMIT_MAX > 0, получено %s", cfg.RateLimitWindow)
	}
	cfg.RateLimitBlock, err = getEnvDuration("FD_RATE_LIMIT_BLOCK", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FD_RATE_LIMIT_BLOCK: %w", err)
	}
	if cfg.RateLimitBlock < 0 {
		return nil, fmt.Errorf("FD_RATE_LIMIT_BLOCK: значение не может быть отрицательным")
	}

	// FD_JWKS_URL — пустое значение отключает аутентификацию (разработка)
	cfg.JWKSUrl = getEnvDefault("FD_JWKS_URL", "")
	cfg.JWKSCACert = getEnvDefault("FD_JWKS_CA_CERT", "")

	cfg.TLSSkipVerify, err = getEnvBool("FD_TLS_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("FD_TLS_SKIP_VERIFY: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDuration("FD_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("FD_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FD_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("FD_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_JWT_LEEWAY: %w", err)
	}

	cfg.TLSCert = getEnvDefault("FD_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("FD_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("FD_TLS_CERT и FD_TLS_KEY задаются только вместе")
	}

	// Таймауты чтения и записи рассчитаны на многогигабайтные загрузки
	cfg.HTTPReadHeaderTimeout, err = getEnvDuration("FD_HTTP_READ_HEADER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_HTTP_READ_HEADER_TIMEOUT: %w", err)
	}
	cfg.HTTPReadTimeout, err = getEnvDuration("FD_HTTP_READ_TIMEOUT", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FD_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("FD_HTTP_WRITE_TIMEOUT", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FD_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("FD_HTTP_IDLE_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FD_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("FD_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_SHUTDOWN_TIMEOUT: %w", err)
	}

	// FD_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("FD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("FD_DEPHEALTH_GROUP", "filedrop")
	cfg.DephealthDepName = getEnvDefault("FD_DEPHEALTH_DEP_NAME", "auth-jwks")
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	// FD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FD_LOG_LEVEL: %w", err)
	}

	// FD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// clampRangeBlock переводит МБ в байты и ограничивает [256 КБ, 32 МБ].
func clampRangeBlock(mb float64) int {
	n := int(mb * float64(1<<20))
	if n < minRangeBlock {
		return minRangeBlock
	}
	if n > maxRangeBlock {
		return maxRangeBlock
	}
	return n
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvFloat возвращает float64 значение переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvBool возвращает bool значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q (допустимые: true, false)", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
