// session.go — возобновляемая загрузка: init → append* → finalize.
// Каждая сессия — пара файлов в пространстве владельца:
// .upload_<id>.json (запись сессии) и .upload_<id>.part (накопленные байты).
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/filedrop/internal/api/middleware"
	"github.com/bigkaa/goartstore/filedrop/internal/config"
	"github.com/bigkaa/goartstore/filedrop/internal/domain/model"
	"github.com/bigkaa/goartstore/filedrop/internal/domain/upload"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/attr"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/filestore"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/namespace"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/wal"
)

// SessionStatus — состояние сессии для клиента, потерявшего прогресс.
type SessionStatus struct {
	model.UploadSession
	// NextChunkIndex — индекс чанка, ожидаемого следующим
	NextChunkIndex int64 `json:"next_chunk_index"`
	// ChunkCount — общее число чанков
	ChunkCount int64 `json:"chunk_count"`
	// State — выведенное состояние сессии
	State upload.State `json:"state"`
}

// SessionService — менеджер сессий возобновляемой загрузки.
// Операции над одной сессией сериализуются, разные сессии независимы.
type SessionService struct {
	cfg       *config.Config
	ns        *namespace.Store
	store     *filestore.FileStore
	walEngine *wal.WAL
	locks     *keyedMutex
	logger    *slog.Logger
	now       func() time.Time
}

// NewSessionService создаёт менеджер сессий.
func NewSessionService(
	cfg *config.Config,
	ns *namespace.Store,
	store *filestore.FileStore,
	walEngine *wal.WAL,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		cfg:       cfg,
		ns:        ns,
		store:     store,
		walEngine: walEngine,
		locks:     newKeyedMutex(),
		logger:    logger.With(slog.String("component", "session_service")),
		now:       utcNow,
	}
}

// Init создаёт новую сессию: пустой .part и запись сессии.
func (s *SessionService) Init(ctx context.Context, owner, originalName string, totalSize int64) (*model.UploadSession, error) {
	name := strings.TrimSpace(originalName)
	if err := namespace.CheckOriginalName(name); err != nil {
		return nil, nameError(err)
	}
	if totalSize < 0 {
		return nil, invalidInput("Некорректный размер файла: %d", totalSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, ioFailure(err, "Запрос отменён")
	}

	dir, err := resolveNamespace(s.ns, owner)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &model.UploadSession{
		ID:           uuid.New().String(),
		UserID:       owner,
		Filename:     namespace.Sanitize(name),
		OriginalName: name,
		TotalSize:    totalSize,
		ChunkSize:    s.cfg.ChunkSize,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	partPath := attr.PartPath(dir, sess.ID)
	if err := s.store.CreateEmpty(partPath); err != nil {
		s.logger.Error("Ошибка создания файла сессии",
			slog.String("upload_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return nil, ioFailure(err, "Не удалось создать сессию загрузки")
	}
	if err := attr.WriteSession(dir, sess); err != nil {
		_ = s.store.Remove(partPath)
		s.logger.Error("Ошибка записи сессии",
			slog.String("upload_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return nil, ioFailure(err, "Не удалось создать сессию загрузки")
	}

	middleware.ActiveUploadSessions.Inc()
	middleware.OperationsTotal.WithLabelValues("session_init", "success").Inc()
	s.logger.Info("Сессия загрузки создана",
		slog.String("owner", owner),
		slog.String("upload_id", sess.ID),
		slog.String("filename", sess.Filename),
		slog.Int64("total_size", totalSize),
		slog.Int64("chunk_size", sess.ChunkSize),
	)
	return sess, nil
}

// Append принимает чанк chunkIndex. Индекс должен совпадать с
// received_bytes / chunk_size. Сбой посреди чанка откатывает .part
// к прежнему received_bytes, чтобы клиент мог повторить тот же индекс.
func (s *SessionService) Append(ctx context.Context, owner, id string, chunkIndex int64, chunk io.Reader) (*model.AppendResult, error) {
	res, err := s.appendChunk(ctx, owner, id, chunkIndex, chunk)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("session_append", "error").Inc()
		return nil, err
	}
	middleware.OperationsTotal.WithLabelValues("session_append", "success").Inc()
	return res, nil
}

func (s *SessionService) appendChunk(ctx context.Context, owner, id string, chunkIndex int64, chunk io.Reader) (*model.AppendResult, error) {
	if chunk == nil {
		return nil, invalidInput("Чанк не передан")
	}
	dir, id, err := s.locate(owner, id)
	if err != nil {
		return nil, err
	}

	release := s.locks.Lock(dir + "/" + id)
	defer release()

	sess, err := s.load(dir, id)
	if err != nil {
		return nil, err
	}

	state := upload.StateOf(sess.ReceivedBytes, sess.TotalSize)
	if !upload.CanPerform(state, upload.OpAppend) {
		return nil, invalidInput("Приём чанков недоступен в состоянии %s", state)
	}
	if expected := sess.NextIndex(); chunkIndex != expected {
		return nil, outOfOrder("Ожидался чанк %d, получен %d", expected, chunkIndex)
	}

	partPath := attr.PartPath(dir, id)
	offset := sess.ReceivedBytes
	n, err := s.store.Append(partPath, offset, &ctxReader{ctx: ctx, r: chunk}, sess.ChunkSize)
	if err != nil {
		switch {
		case errors.Is(err, filestore.ErrNotFound):
			return nil, notFound("Данные сессии %s отсутствуют", id)
		case errors.Is(err, filestore.ErrSizeLimit):
			return nil, invalidInput("Чанк длиннее chunk_size (%d байт)", sess.ChunkSize)
		}
		s.logger.Error("Ошибка приёма чанка",
			slog.String("upload_id", id),
			slog.Int64("chunk_index", chunkIndex),
			slog.String("error", err.Error()),
		)
		return nil, ioFailure(err, "Ошибка записи чанка")
	}

	// Короткий чанк допустим только последним
	if n > 0 && n < sess.ChunkSize && offset+n < sess.TotalSize {
		s.truncateBack(partPath, offset, id)
		return nil, invalidInput("Чанк %d короче chunk_size и не последний", chunkIndex)
	}

	sess.ReceivedBytes = offset + n
	sess.UpdatedAt = s.now()
	next := upload.StateOf(sess.ReceivedBytes, sess.TotalSize)
	if next != state {
		if err := upload.Transition(state, next); err != nil {
			s.truncateBack(partPath, offset, id)
			return nil, invalidInput("%s", err.Error())
		}
	}

	if err := attr.WriteSession(dir, sess); err != nil {
		s.truncateBack(partPath, offset, id)
		s.logger.Error("Ошибка обновления сессии",
			slog.String("upload_id", id),
			slog.String("error", err.Error()),
		)
		return nil, ioFailure(err, "Ошибка сохранения прогресса")
	}
	middleware.UploadBytesTotal.Add(float64(n))

	s.logger.Debug("Чанк принят",
		slog.String("upload_id", id),
		slog.Int64("chunk_index", chunkIndex),
		slog.Int64("received_bytes", sess.ReceivedBytes),
		slog.Int64("total_size", sess.TotalSize),
	)

	return &model.AppendResult{
		ReceivedBytes: sess.ReceivedBytes,
		TotalSize:     sess.TotalSize,
		Completed:     sess.IsComplete(),
	}, nil
}

// Finalize переименовывает .part в итоговое имя, пишет .meta и удаляет
// запись сессии. Незавершённая сессия остаётся нетронутой.
func (s *SessionService) Finalize(ctx context.Context, owner, id string) (*model.StoredFile, error) {
	file, err := s.finalize(ctx, owner, id)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("session_finalize", "error").Inc()
		return nil, err
	}
	middleware.OperationsTotal.WithLabelValues("session_finalize", "success").Inc()
	return file, nil
}

func (s *SessionService) finalize(ctx context.Context, owner, id string) (*model.StoredFile, error) {
	dir, id, err := s.locate(owner, id)
	if err != nil {
		return nil, err
	}

	release := s.locks.Lock(dir + "/" + id)
	defer release()

	sess, err := s.load(dir, id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, ioFailure(err, "Запрос отменён")
	}

	state := upload.StateOf(sess.ReceivedBytes, sess.TotalSize)
	if !upload.CanPerform(state, upload.OpFinalize) {
		return nil, incomplete("Получено %d из %d байт", sess.ReceivedBytes, sess.TotalSize)
	}

	partPath := attr.PartPath(dir, id)
	if !s.store.Exists(partPath) {
		return nil, notFound("Данные сессии %s отсутствуют", id)
	}

	now := s.now()
	stored, err := namespace.StoredName(now, sess.OriginalName)
	if err != nil {
		return nil, invalidInput("Некорректное имя файла %q", sess.OriginalName)
	}
	finalPath := filepath.Join(dir, stored)

	walEntry, err := s.walEngine.StartTransaction(wal.OpSessionFinalize, wal.Target{
		Owner:       owner,
		Dir:         dir,
		StoredName:  stored,
		TempPath:    partPath,
		SessionID:   id,
		DisplayName: sess.OriginalName,
	})
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		return nil, ioFailure(err, "Внутренняя ошибка при создании транзакции")
	}

	if err := s.store.Promote(partPath, finalPath); err != nil {
		s.rollback(walEntry.TransactionID)
		if errors.Is(err, filestore.ErrNotFound) {
			return nil, notFound("Данные сессии %s отсутствуют", id)
		}
		s.logger.Error("Ошибка переименования файла сессии",
			slog.String("upload_id", id),
			slog.String("error", err.Error()),
		)
		return nil, ioFailure(err, "Ошибка завершения загрузки")
	}

	size := sess.ReceivedBytes
	if info, err := s.store.Stat(finalPath); err == nil {
		size = info.Size()
	}

	meta := model.NewFileMetadata(owner, sess.OriginalName, now, s.cfg.Retention)
	writeMetadata(s.logger, dir, stored, meta)

	if err := attr.DeleteSession(dir, id); err != nil {
		s.logger.Warn("Не удалось удалить запись сессии",
			slog.String("upload_id", id),
			slog.String("error", err.Error()),
		)
	}

	if err := s.walEngine.Commit(walEntry.TransactionID); err != nil {
		s.logger.Error("Ошибка коммита WAL (данные сохранены)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("stored_name", stored),
			slog.String("error", err.Error()),
		)
	}

	middleware.ActiveUploadSessions.Dec()
	s.logger.Info("Загрузка по частям завершена",
		slog.String("owner", owner),
		slog.String("upload_id", id),
		slog.String("stored_name", stored),
		slog.Int64("size", size),
		slog.String("state", string(upload.StateFinalized)),
	)

	return newStoredFile(owner, stored, size, meta, msgUploaded), nil
}

// Status возвращает прогресс сессии без изменений.
func (s *SessionService) Status(_ context.Context, owner, id string) (*SessionStatus, error) {
	dir, id, err := s.locate(owner, id)
	if err != nil {
		return nil, err
	}

	release := s.locks.Lock(dir + "/" + id)
	defer release()

	sess, err := s.load(dir, id)
	if err != nil {
		return nil, err
	}
	return &SessionStatus{
		UploadSession:  *sess,
		NextChunkIndex: sess.NextIndex(),
		ChunkCount:     sess.ChunkCount(),
		State:          upload.StateOf(sess.ReceivedBytes, sess.TotalSize),
	}, nil
}

// SweepStale удаляет сессии владельца, не обновлявшиеся дольше
// FD_SESSION_TTL. При TTL = 0 ничего не делает.
// Возвращает id удалённых сессий.
func (s *SessionService) SweepStale(ctx context.Context, owner string) ([]string, error) {
	if s.cfg.SessionTTL <= 0 {
		return nil, nil
	}
	dir, err := s.ns.Path(owner)
	if err != nil {
		return nil, ownerError(err)
	}

	sessions, broken, err := attr.ScanSessions(dir)
	if err != nil {
		return nil, ioFailure(err, "Ошибка сканирования сессий")
	}
	for _, id := range broken {
		s.logger.Warn("Повреждённая запись сессии пропущена", slog.String("upload_id", id))
	}

	cutoff := s.now().Add(-s.cfg.SessionTTL)
	var removed []string
	for _, sess := range sessions {
		if ctx.Err() != nil {
			break
		}
		if !sess.UpdatedAt.Before(cutoff) {
			continue
		}
		if s.removeSession(dir, sess.ID, cutoff) {
			removed = append(removed, sess.ID)
		}
	}
	return removed, nil
}

// removeSession удаляет сессию под её мьютексом, повторно
// проверив устаревание.
func (s *SessionService) removeSession(dir, id string, cutoff time.Time) bool {
	release := s.locks.Lock(dir + "/" + id)
	defer release()

	sess, err := attr.ReadSession(dir, id)
	if err != nil || !sess.UpdatedAt.Before(cutoff) {
		return false
	}
	if err := s.store.Remove(attr.PartPath(dir, id)); err != nil {
		s.logger.Warn("Не удалось удалить данные сессии",
			slog.String("upload_id", id),
			slog.String("error", err.Error()),
		)
		return false
	}
	if err := attr.DeleteSession(dir, id); err != nil {
		s.logger.Warn("Не удалось удалить запись сессии",
			slog.String("upload_id", id),
			slog.String("error", err.Error()),
		)
		return false
	}

	middleware.ActiveUploadSessions.Dec()
	middleware.SweepRemovedTotal.WithLabelValues("session").Inc()
	s.logger.Info("Устаревшая сессия удалена",
		slog.String("upload_id", id),
		slog.Time("updated_at", sess.UpdatedAt),
	)
	return true
}

// locate проверяет id сессии и возвращает пространство владельца.
// Некорректный id неотличим от неизвестного.
func (s *SessionService) locate(owner, id string) (string, string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", "", notFound("Сессия загрузки не найдена")
	}
	dir, err := s.ns.Path(owner)
	if err != nil {
		return "", "", ownerError(err)
	}
	return dir, parsed.String(), nil
}

func (s *SessionService) load(dir, id string) (*model.UploadSession, error) {
	sess, err := attr.ReadSession(dir, id)
	if err != nil {
		if errors.Is(err, attr.ErrNotFound) {
			return nil, notFound("Сессия загрузки не найдена")
		}
		if errors.Is(err, attr.ErrCorrupt) {
			s.logger.Warn("Повреждённая запись сессии",
				slog.String("upload_id", id),
				slog.String("error", err.Error()),
			)
			return nil, notFound("Сессия загрузки не найдена")
		}
		return nil, ioFailure(err, "Ошибка чтения сессии")
	}
	return sess, nil
}

func (s *SessionService) truncateBack(partPath string, offset int64, id string) {
	if err := s.store.Truncate(partPath, offset); err != nil {
		s.logger.Error("Не удалось откатить чанк",
			slog.String("upload_id", id),
			slog.Int64("offset", offset),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SessionService) rollback(txID string) {
	if err := s.walEngine.Rollback(txID); err != nil {
		s.logger.Error("Ошибка отката WAL",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}
