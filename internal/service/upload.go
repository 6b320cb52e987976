// upload.go — прямая загрузка файла одним потоком с WAL-транзакцией.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/filedrop/internal/api/middleware"
	"github.com/bigkaa/goartstore/filedrop/internal/config"
	"github.com/bigkaa/goartstore/filedrop/internal/domain/model"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/attr"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/filestore"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/namespace"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/wal"
)

// msgUploaded — сообщение об успешной загрузке.
const msgUploaded = "Файл успешно загружен"

// DirectUploadParams — параметры прямой загрузки.
type DirectUploadParams struct {
	// Owner — владелец (sub из JWT)
	Owner string
	// Reader — поток данных файла
	Reader io.Reader
	// Filename — имя файла от клиента
	Filename string
	// DeclaredSize — заявленный размер (0 — неизвестен)
	DeclaredSize int64
}

// UploadService — сервис прямой загрузки.
type UploadService struct {
	cfg       *config.Config
	ns        *namespace.Store
	store     *filestore.FileStore
	walEngine *wal.WAL
	logger    *slog.Logger
	now       func() time.Time
}

// NewUploadService создаёт сервис прямой загрузки.
func NewUploadService(
	cfg *config.Config,
	ns *namespace.Store,
	store *filestore.FileStore,
	walEngine *wal.WAL,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		cfg:       cfg,
		ns:        ns,
		store:     store,
		walEngine: walEngine,
		logger:    logger.With(slog.String("component", "upload_service")),
		now:       utcNow,
	}
}

// Upload сохраняет файл в пространство владельца.
//
// Поток:
//  1. Проверка имени, владельца и заявленного размера
//  2. WAL StartTransaction
//  3. WriteStream (блоками, с пределом размера)
//  4. Запись .meta
//  5. WAL Commit
//
// При ошибке частичный файл удаляется, транзакция откатывается.
func (s *UploadService) Upload(ctx context.Context, params DirectUploadParams) (*model.StoredFile, error) {
	file, err := s.upload(ctx, params)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, err
	}
	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	return file, nil
}

func (s *UploadService) upload(ctx context.Context, params DirectUploadParams) (*model.StoredFile, error) {
	name := strings.TrimSpace(params.Filename)
	if err := namespace.CheckOriginalName(name); err != nil {
		return nil, nameError(err)
	}
	if params.Reader == nil {
		return nil, invalidInput("Файл не передан")
	}

	limit := s.cfg.MaxUploadSize
	if limit > 0 && params.DeclaredSize > limit {
		return nil, sizeLimitExceeded(limit)
	}

	dir, err := resolveNamespace(s.ns, params.Owner)
	if err != nil {
		return nil, err
	}

	now := s.now()
	stored, err := namespace.StoredName(now, name)
	if err != nil {
		return nil, invalidInput("Некорректное имя файла %q", name)
	}
	finalPath := filepath.Join(dir, stored)

	walEntry, err := s.walEngine.StartTransaction(wal.OpDirectUpload, wal.Target{
		Owner:       params.Owner,
		Dir:         dir,
		StoredName:  stored,
		TempPath:    filestore.TempPath(finalPath),
		DisplayName: name,
	})
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		return nil, ioFailure(err, "Внутренняя ошибка при создании транзакции")
	}

	size, err := s.store.WriteStream(finalPath, &ctxReader{ctx: ctx, r: params.Reader}, filestore.WriteOptions{
		DeclaredSize: params.DeclaredSize,
		Limit:        limit,
	})
	if err != nil {
		s.rollback(walEntry.TransactionID)
		if errors.Is(err, filestore.ErrSizeLimit) {
			s.logger.Warn("Превышен предел размера загрузки",
				slog.String("owner", params.Owner),
				slog.String("filename", name),
				slog.Int64("limit", limit),
			)
			return nil, sizeLimitExceeded(limit)
		}
		s.logger.Error("Ошибка сохранения файла",
			slog.String("owner", params.Owner),
			slog.String("stored_name", stored),
			slog.String("error", err.Error()),
		)
		return nil, ioFailure(err, "Ошибка сохранения файла на диск")
	}
	middleware.UploadBytesTotal.Add(float64(size))

	meta := model.NewFileMetadata(params.Owner, name, now, s.cfg.Retention)
	writeMetadata(s.logger, dir, stored, meta)

	if err := s.walEngine.Commit(walEntry.TransactionID); err != nil {
		s.logger.Error("Ошибка коммита WAL (данные сохранены)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("stored_name", stored),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Файл загружен",
		slog.String("owner", params.Owner),
		slog.String("stored_name", stored),
		slog.Int64("size", size),
	)

	return newStoredFile(params.Owner, stored, size, meta, msgUploaded), nil
}

func (s *UploadService) rollback(txID string) {
	if err := s.walEngine.Rollback(txID); err != nil {
		s.logger.Error("Ошибка отката WAL",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

// resolveNamespace разрешает пространство владельца в ошибку сервиса.
func resolveNamespace(ns *namespace.Store, owner string) (string, error) {
	dir, err := ns.Resolve(owner)
	if err != nil {
		return "", ownerError(err)
	}
	return dir, nil
}

// ownerError отображает ошибку разрешения пространства в ошибку сервиса.
func ownerError(err error) *Error {
	switch {
	case errors.Is(err, namespace.ErrEmptyOwner):
		return invalidInput("Владелец не задан")
	case errors.Is(err, namespace.ErrOwnerTooLong):
		return invalidInput("Идентификатор владельца длиннее %d байт", namespace.MaxOwnerLen)
	}
	return ioFailure(err, "Пространство владельца недоступно")
}

// nameError отображает отказ CheckOriginalName в ошибку сервиса.
func nameError(err error) *Error {
	if errors.Is(err, namespace.ErrNameTooLong) {
		return invalidInput("Имя файла длиннее %d байт", namespace.MaxOriginalNameLen)
	}
	return invalidInput("Имя файла не задано")
}

// writeMetadata записывает .meta. Сбой не прерывает операцию:
// файл без метаданных считается бессрочным.
func writeMetadata(logger *slog.Logger, dir, stored string, meta *model.FileMetadata) {
	if err := attr.WriteFile(dir, stored, meta); err != nil {
		logger.Warn("Не удалось записать метаданные файла",
			slog.String("stored_name", stored),
			slog.String("error", err.Error()),
		)
	}
}

// readMetadata читает .meta; повреждённый sidecar логируется
// и считается отсутствующим.
func readMetadata(logger *slog.Logger, dir, stored string) *model.FileMetadata {
	meta, err := attr.ReadFile(dir, stored)
	if err != nil {
		logger.Warn("Метаданные файла не прочитаны",
			slog.String("stored_name", stored),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return meta
}

func newStoredFile(owner, stored string, size int64, meta *model.FileMetadata, message string) *model.StoredFile {
	return &model.StoredFile{
		Owner:         owner,
		Name:          stored,
		DisplayName:   meta.OriginalName,
		Size:          size,
		SizeFormatted: FormatSize(size),
		CreatedAt:     meta.UploadDate,
		ExpiresAt:     meta.ExpiresDate,
		Message:       message,
	}
}

// ctxReader прерывает чтение после отмены контекста запроса.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func utcNow() time.Time {
	return time.Now().UTC()
}
