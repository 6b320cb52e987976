// maintenance.go — обработчик POST /api/v1/maintenance/sweep.
// Удаляет истёкшие файлы и устаревшие сессии пространства владельца.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/filedrop/internal/api/middleware"
	"github.com/bigkaa/goartstore/filedrop/internal/service"
)

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	files  *service.FileService
	logger *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(files *service.FileService, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		files:  files,
		logger: logger.With(slog.String("component", "maintenance_handler")),
	}
}

// Sweep обрабатывает POST /api/v1/maintenance/sweep.
// Ответ: {"removed": [...], "removed_sessions": [...]}.
func (h *MaintenanceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.files.Maintain(r.Context(), middleware.OwnerFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
