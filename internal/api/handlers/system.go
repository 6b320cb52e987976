// system.go — обработчик GET /api/v1/info (параметры filedrop).
// Публичный endpoint (без аутентификации): клиенту нужен chunk_size
// и пределы до начала загрузки.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/filedrop/internal/config"
)

// DiskUsageFunc возвращает ёмкость ФС директории данных.
type DiskUsageFunc func() (total, used, available int64, err error)

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg       *config.Config
	diskUsage DiskUsageFunc
	logger    *slog.Logger
}

// NewSystemHandler создаёт обработчик системных endpoints.
// diskUsage может быть nil: тогда capacity не заполняется.
func NewSystemHandler(cfg *config.Config, diskUsage DiskUsageFunc, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		cfg:       cfg,
		diskUsage: diskUsage,
		logger:    logger.With(slog.String("component", "system_handler")),
	}
}

type capacityInfo struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

type infoResponse struct {
	Service        string        `json:"service"`
	Version        string        `json:"version"`
	ChunkSize      int64         `json:"chunk_size"`
	MaxUploadSize  int64         `json:"max_upload_size"`
	RetentionDays  int           `json:"retention_days"`
	RangeBlockSize int           `json:"range_block_size"`
	AuthEnabled    bool          `json:"auth_enabled"`
	Capacity       *capacityInfo `json:"capacity,omitempty"`
}

// GetInfo обрабатывает GET /api/v1/info.
func (h *SystemHandler) GetInfo(w http.ResponseWriter, _ *http.Request) {
	resp := infoResponse{
		Service:        h.cfg.ServiceID,
		Version:        config.Version,
		ChunkSize:      h.cfg.ChunkSize,
		MaxUploadSize:  h.cfg.MaxUploadSize,
		RetentionDays:  int(h.cfg.Retention.Hours() / 24),
		RangeBlockSize: h.cfg.RangeBlockSize,
		AuthEnabled:    h.cfg.AuthEnabled(),
	}

	if h.diskUsage != nil {
		total, used, available, err := h.diskUsage()
		if err != nil {
			h.logger.Warn("Не удалось получить ёмкость диска", slog.String("error", err.Error()))
		} else {
			resp.Capacity = &capacityInfo{TotalBytes: total, UsedBytes: used, AvailableBytes: available}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
