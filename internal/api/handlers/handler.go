// handler.go — APIHandler собирает доменные handlers filedrop
// и общие помощники ответа.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/filedrop/internal/api/errors"
	"github.com/bigkaa/goartstore/filedrop/internal/service"
)

// APIHandler — все доменные handlers, которые монтирует сервер.
type APIHandler struct {
	Files       *FilesHandler
	Uploads     *UploadsHandler
	System      *SystemHandler
	Maintenance *MaintenanceHandler
	Health      *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	files *FilesHandler,
	uploads *UploadsHandler,
	system *SystemHandler,
	maintenance *MaintenanceHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		Files:       files,
		Uploads:     uploads,
		System:      system,
		Maintenance: maintenance,
		Health:      health,
	}
}

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError отображает ошибку сервиса в HTTP-ответ.
// Сообщение IOFailure клиенту не показывается, только логируется.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var se *service.Error
	message := err.Error()
	if errors.As(err, &se) {
		message = se.Message
	}

	switch service.KindOf(err) {
	case service.KindInvalidInput:
		apierrors.ValidationError(w, message)
	case service.KindNotFound:
		apierrors.NotFound(w, message)
	case service.KindOutOfOrder:
		apierrors.OutOfOrder(w, message)
	case service.KindIncomplete:
		apierrors.Incomplete(w, message)
	case service.KindSizeLimitExceeded:
		apierrors.FileTooLarge(w, message, se.Limit)
	default:
		logger.Error("Ошибка обработки запроса", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
