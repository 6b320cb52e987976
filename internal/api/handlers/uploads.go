// uploads.go — HTTP handlers возобновляемой загрузки чанками.
// Init → chunk* → finalize; status для восстановления прогресса.
package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/filedrop/internal/api/errors"
	"github.com/bigkaa/goartstore/filedrop/internal/api/middleware"
	"github.com/bigkaa/goartstore/filedrop/internal/service"
)

const (
	// maxJSONBody — предел тела JSON-запросов init/finalize
	maxJSONBody = 64 << 10
	// maxFieldSize — предел значения текстового поля multipart
	maxFieldSize = 256
)

// UploadsHandler — обработчик endpoints сессий загрузки.
type UploadsHandler struct {
	sessions *service.SessionService
	logger   *slog.Logger
}

// NewUploadsHandler создаёт обработчик сессий загрузки.
func NewUploadsHandler(sessions *service.SessionService, logger *slog.Logger) *UploadsHandler {
	return &UploadsHandler{
		sessions: sessions,
		logger:   logger.With(slog.String("component", "uploads_handler")),
	}
}

type initRequest struct {
	Filename  string `json:"filename"`
	TotalSize *int64 `json:"total_size"`
}

type initResponse struct {
	Success   bool   `json:"success"`
	UploadID  string `json:"upload_id"`
	ChunkSize int64  `json:"chunk_size"`
}

type chunkResponse struct {
	Success       bool  `json:"success"`
	ReceivedBytes int64 `json:"received_bytes"`
	Completed     bool  `json:"completed"`
	TotalSize     int64 `json:"total_size"`
}

type finalizeRequest struct {
	UploadID string `json:"upload_id"`
}

// InitUpload обрабатывает POST /api/v1/uploads.
func (h *UploadsHandler) InitUpload(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TotalSize == nil {
		apierrors.ValidationError(w, "Поле 'total_size' обязательно")
		return
	}

	sess, err := h.sessions.Init(r.Context(), middleware.OwnerFromContext(r.Context()), req.Filename, *req.TotalSize)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, initResponse{
		Success:   true,
		UploadID:  sess.ID,
		ChunkSize: sess.ChunkSize,
	})
}

// UploadChunk обрабатывает POST /api/v1/uploads/chunk.
// multipart/form-data: поля upload_id и chunk_index должны идти
// до части chunk, которая читается потоком прямо в .part.
func (h *UploadsHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается multipart/form-data: "+err.Error())
		return
	}

	var (
		uploadID   string
		chunkIndex = int64(-1)
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			apierrors.ValidationError(w, "Поле 'chunk' обязательно")
			return
		}
		if err != nil {
			apierrors.ValidationError(w, "Ошибка разбора multipart: "+err.Error())
			return
		}

		switch part.FormName() {
		case "upload_id":
			uploadID, err = readField(part)
		case "chunk_index":
			var v string
			if v, err = readField(part); err == nil {
				chunkIndex, err = strconv.ParseInt(v, 10, 64)
				if err == nil && chunkIndex < 0 {
					err = strconv.ErrRange
				}
			}
		case "chunk":
			if uploadID == "" || chunkIndex < 0 {
				part.Close()
				apierrors.ValidationError(w, "Поля 'upload_id' и 'chunk_index' должны предшествовать 'chunk'")
				return
			}
			result, appendErr := h.sessions.Append(r.Context(), middleware.OwnerFromContext(r.Context()), uploadID, chunkIndex, part)
			part.Close()
			if appendErr != nil {
				writeServiceError(w, h.logger, appendErr)
				return
			}
			writeJSON(w, http.StatusOK, chunkResponse{
				Success:       true,
				ReceivedBytes: result.ReceivedBytes,
				Completed:     result.Completed,
				TotalSize:     result.TotalSize,
			})
			return
		}
		part.Close()
		if err != nil {
			apierrors.ValidationError(w, "Некорректное поле '"+part.FormName()+"'")
			return
		}
	}
}

// FinalizeUpload обрабатывает POST /api/v1/uploads/finalize.
func (h *UploadsHandler) FinalizeUpload(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UploadID) == "" {
		apierrors.ValidationError(w, "Поле 'upload_id' обязательно")
		return
	}

	file, err := h.sessions.Finalize(r.Context(), middleware.OwnerFromContext(r.Context()), req.UploadID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, StoredFile: file})
}

// UploadStatus обрабатывает GET /api/v1/uploads/{upload_id}.
func (h *UploadsHandler) UploadStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.sessions.Status(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "upload_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// decodeJSON разбирает тело запроса в v; при ошибке сам пишет 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// readField читает короткое текстовое поле multipart.
func readField(part io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFieldSize {
		return "", strconv.ErrRange
	}
	return strings.TrimSpace(string(data)), nil
}
