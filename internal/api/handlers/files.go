// files.go — HTTP handlers файловых операций filedrop.
// Upload, List, Download (с Range), Delete и публичное скачивание.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/filedrop/internal/api/errors"
	"github.com/bigkaa/goartstore/filedrop/internal/api/middleware"
	"github.com/bigkaa/goartstore/filedrop/internal/domain/model"
	"github.com/bigkaa/goartstore/filedrop/internal/service"
)

const (
	// headerFilename — имя файла для загрузки сырым телом
	headerFilename = "X-Filename"
	// headerTotalSize — заявленный размер файла
	headerTotalSize = "X-Total-Size"
	// filePart — имя multipart-части с файлом
	filePart = "file"
)

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	uploads   *service.UploadService
	downloads *service.DownloadService
	files     *service.FileService
	logger    *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	uploads *service.UploadService,
	downloads *service.DownloadService,
	files *service.FileService,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		uploads:   uploads,
		downloads: downloads,
		files:     files,
		logger:    logger.With(slog.String("component", "files_handler")),
	}
}

// uploadResponse — ответ на прямую загрузку и finalize.
type uploadResponse struct {
	Success bool `json:"success"`
	*model.StoredFile
}

// fileListResponse — ответ GET /api/v1/files.
type fileListResponse struct {
	Files []model.FileInfo `json:"files"`
	Count int              `json:"count"`
}

// UploadFile обрабатывает POST /api/v1/files.
// Тело — либо сам файл (имя в ?filename= или X-Filename), либо
// multipart/form-data с частью file. Файл читается потоком.
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	declared, err := declaredSize(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	filename := requestFilename(r)
	var body io.Reader = r.Body

	if isMultipart(r) {
		part, err := findFilePart(r)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		defer part.Close()
		if filename == "" {
			filename = part.FileName()
		}
		body = part
		// Content-Length multipart-запроса включает границы частей
		if r.Header.Get(headerTotalSize) == "" {
			declared = 0
		}
	}

	file, err := h.uploads.Upload(r.Context(), service.DirectUploadParams{
		Owner:        middleware.OwnerFromContext(r.Context()),
		Reader:       body,
		Filename:     filename,
		DeclaredSize: declared,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Success: true, StoredFile: file})
}

// ListFiles обрабатывает GET /api/v1/files.
// Перед листингом удаляет истёкшие файлы владельца.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.files.ListFiles(r.Context(), middleware.OwnerFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, fileListResponse{Files: files, Count: len(files)})
}

// DownloadFile обрабатывает GET /api/v1/files/{name}.
// Поддерживает Range (206, 416).
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	ret, err := h.downloads.RetrieveOwned(
		middleware.OwnerFromContext(r.Context()),
		chi.URLParam(r, "name"),
		r.Header.Get("Range"),
	)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.serve(w, r, ret)
}

// PublicDownload обрабатывает GET /public/{name} без аутентификации.
func (h *FilesHandler) PublicDownload(w http.ResponseWriter, r *http.Request) {
	ret, err := h.downloads.RetrievePublic(chi.URLParam(r, "name"), r.Header.Get("Range"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.serve(w, r, ret)
}

// DeleteFile обрабатывает DELETE /api/v1/files/{name}.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	err := h.files.Delete(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// serve отдаёт подготовленный Retrieval. Обрыв соединения посреди
// отдачи только логируется: статус уже отправлен.
func (h *FilesHandler) serve(w http.ResponseWriter, r *http.Request, ret *service.Retrieval) {
	defer ret.Close()

	for key, values := range ret.Header {
		w.Header()[key] = values
	}
	w.WriteHeader(ret.Status)

	if r.Method == http.MethodHead {
		return
	}
	if n, err := ret.WriteTo(w); err != nil {
		h.logger.Warn("Отдача файла прервана",
			slog.String("path", r.URL.Path),
			slog.Int64("written", n),
			slog.String("error", err.Error()),
		)
	}
}

// requestFilename — имя файла из ?filename= или X-Filename.
// Заголовок может быть percent-encoded для не-ASCII имён.
func requestFilename(r *http.Request) string {
	if name := r.URL.Query().Get("filename"); name != "" {
		return name
	}
	name := r.Header.Get(headerFilename)
	if decoded, err := url.PathUnescape(name); err == nil {
		return decoded
	}
	return name
}

// declaredSize — заявленный размер из X-Total-Size, иначе Content-Length.
func declaredSize(r *http.Request) (int64, error) {
	if v := r.Header.Get(headerTotalSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0, errors.New("Некорректный заголовок " + headerTotalSize)
		}
		return n, nil
	}
	if r.ContentLength > 0 {
		return r.ContentLength, nil
	}
	return 0, nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

// findFilePart пропускает части до file и возвращает её, не читая тело.
func findFilePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errors.New("Ошибка разбора multipart: " + err.Error())
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errors.New("Поле 'file' обязательно")
		}
		if err != nil {
			return nil, errors.New("Ошибка разбора multipart: " + err.Error())
		}
		if part.FormName() == filePart {
			return part, nil
		}
		part.Close()
	}
}
