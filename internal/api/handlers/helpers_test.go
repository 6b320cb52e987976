package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/filedrop/internal/api/middleware"
	"github.com/bigkaa/goartstore/filedrop/internal/config"
	"github.com/bigkaa/goartstore/filedrop/internal/service"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/filestore"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/namespace"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testAPI — роутер поверх настоящих сервисов во временной директории.
type testAPI struct {
	cfg    *config.Config
	router http.Handler
}

func newTestAPI(t *testing.T, mutate ...func(*config.Config)) *testAPI {
	t.Helper()
	dataDir := t.TempDir()

	cfg := &config.Config{
		ServiceID:       "filedrop",
		DataDir:         dataDir,
		WALDir:          filepath.Join(dataDir, ".wal"),
		ChunkSize:       4,
		Retention:       5 * 24 * time.Hour,
		RangeBlockSize:  8,
		PublicCacheSize: 16,
		PublicCacheTTL:  time.Minute,
	}
	for _, m := range mutate {
		m(cfg)
	}

	ns, err := namespace.New(cfg.DataDir)
	require.NoError(t, err)
	walEngine, err := wal.New(cfg.WALDir, testLogger())
	require.NoError(t, err)

	logger := testLogger()
	store := filestore.New(16)
	locator := service.NewPublicLocator(cfg.PublicCacheSize, cfg.PublicCacheTTL)
	sessions := service.NewSessionService(cfg, ns, store, walEngine, logger)
	files := service.NewFileService(ns, store, locator, sessions, logger)

	api := NewAPIHandler(
		NewFilesHandler(
			service.NewUploadService(cfg, ns, store, walEngine, logger),
			service.NewDownloadService(cfg, ns, store, locator, logger),
			files,
			logger,
		),
		NewUploadsHandler(sessions, logger),
		NewSystemHandler(cfg, func() (int64, int64, int64, error) { return 100, 40, 60, nil }, logger),
		NewMaintenanceHandler(files, logger),
		NewHealthHandler(cfg.DataDir, cfg.WALDir, nil),
	)

	r := chi.NewRouter()
	r.Get("/api/v1/info", api.System.GetInfo)
	r.Get("/health/live", api.Health.HealthLive)
	r.Get("/health/ready", api.Health.HealthReady)
	r.Get("/public/{name}", api.Files.PublicDownload)
	r.Group(func(r chi.Router) {
		r.Use(middleware.DevOwner(), middleware.RequireOwner())
		r.Post("/api/v1/files", api.Files.UploadFile)
		r.Get("/api/v1/files", api.Files.ListFiles)
		r.Get("/api/v1/files/{name}", api.Files.DownloadFile)
		r.Delete("/api/v1/files/{name}", api.Files.DeleteFile)
		r.Post("/api/v1/uploads", api.Uploads.InitUpload)
		r.Post("/api/v1/uploads/chunk", api.Uploads.UploadChunk)
		r.Post("/api/v1/uploads/finalize", api.Uploads.FinalizeUpload)
		r.Get("/api/v1/uploads/{upload_id}", api.Uploads.UploadStatus)
		r.Post("/api/v1/maintenance/sweep", api.Maintenance.Sweep)
	})

	return &testAPI{cfg: cfg, router: r}
}

// do выполняет запрос от имени owner (пустой — без владельца).
func (a *testAPI) do(t *testing.T, owner string, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if owner != "" {
		req.Header.Set(middleware.DevOwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// upload загружает content сырым телом и возвращает имя на диске.
func (a *testAPI) upload(t *testing.T, owner, name string, content []byte) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files?filename="+name, bytes.NewReader(content))
	rec := a.do(t, owner, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]any
	decode(t, rec, &resp)
	return resp["filename"].(string)
}

// jsonRequest создаёт запрос с JSON-телом.
func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartField — поле multipart-тела; file != "" делает его файловой частью.
type multipartField struct {
	name  string
	file  string
	value []byte
}

func multipartRequest(t *testing.T, target string, fields ...multipartField) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		var (
			w   io.Writer
			err error
		)
		if f.file != "" {
			w, err = mw.CreateFormFile(f.name, f.file)
		} else {
			w, err = mw.CreateFormField(f.name)
		}
		require.NoError(t, err)
		_, err = w.Write(f.value)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

// errorCode извлекает error.code из тела ошибки.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	return body.Error.Code
}
