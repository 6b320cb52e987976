// recovery.go — разбор незавершённых WAL-транзакций при старте.
//
// direct_upload: временный файл удаляется. Если итоговый файл уже на месте
// (сбой после rename), недостающий .meta дописывается и транзакция
// коммитится, иначе откатывается.
//
// session_finalize: если .part уже переименован в итоговое имя,
// дописывается .meta и удаляется запись сессии. Если .part на месте,
// транзакция откатывается и сессию можно финализировать повторно.
package service

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/filedrop/internal/domain/model"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/attr"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/filestore"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/wal"
)

// RecoveryResult — итог восстановления.
type RecoveryResult struct {
	Committed  int
	RolledBack int
	Cleaned    int
}

// Recovery — восстановление состояния хранилища по WAL.
type Recovery struct {
	walEngine *wal.WAL
	store     *filestore.FileStore
	retention time.Duration
	logger    *slog.Logger
}

// NewRecovery создаёт восстановление. retention — срок хранения
// для .meta, дописываемых по итогам восстановления.
func NewRecovery(walEngine *wal.WAL, store *filestore.FileStore, retention time.Duration, logger *slog.Logger) *Recovery {
	return &Recovery{
		walEngine: walEngine,
		store:     store,
		retention: retention,
		logger:    logger.With(slog.String("component", "recovery")),
	}
}

// Run разбирает все pending-транзакции и очищает завершённые записи.
func (r *Recovery) Run() (*RecoveryResult, error) {
	pending, err := r.walEngine.RecoverPending()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения WAL: %w", err)
	}

	result := &RecoveryResult{}
	for _, entry := range pending {
		var commit bool
		switch entry.Operation {
		case wal.OpDirectUpload:
			commit = r.recoverDirectUpload(entry)
		case wal.OpSessionFinalize:
			commit = r.recoverFinalize(entry)
		default:
			r.logger.Warn("Неизвестная операция WAL",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
			)
		}

		if commit {
			if err := r.walEngine.Commit(entry.TransactionID); err != nil {
				r.logger.Error("Ошибка коммита при восстановлении",
					slog.String("tx_id", entry.TransactionID),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.Committed++
		} else {
			if err := r.walEngine.Rollback(entry.TransactionID); err != nil {
				r.logger.Error("Ошибка отката при восстановлении",
					slog.String("tx_id", entry.TransactionID),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.RolledBack++
		}
	}

	cleaned, err := r.walEngine.CleanCommitted()
	if err != nil {
		r.logger.Warn("Очистка WAL не выполнена", slog.String("error", err.Error()))
	}
	result.Cleaned = cleaned

	if len(pending) > 0 {
		r.logger.Info("Восстановление WAL завершено",
			slog.Int("committed", result.Committed),
			slog.Int("rolled_back", result.RolledBack),
		)
	}
	return result, nil
}

func (r *Recovery) recoverDirectUpload(entry *wal.Entry) bool {
	t := entry.Target
	if t.TempPath != "" {
		if err := r.store.Remove(t.TempPath); err != nil {
			r.logger.Warn("Не удалось удалить временный файл",
				slog.String("path", t.TempPath),
				slog.String("error", err.Error()),
			)
		}
	}

	finalPath := filepath.Join(t.Dir, t.StoredName)
	if !r.store.Exists(finalPath) {
		return false
	}
	r.ensureMetadata(entry, finalPath)
	return true
}

func (r *Recovery) recoverFinalize(entry *wal.Entry) bool {
	t := entry.Target
	finalPath := filepath.Join(t.Dir, t.StoredName)
	if r.store.Exists(t.TempPath) || !r.store.Exists(finalPath) {
		return false
	}

	r.ensureMetadata(entry, finalPath)
	if err := attr.DeleteSession(t.Dir, t.SessionID); err != nil {
		r.logger.Warn("Не удалось удалить запись сессии",
			slog.String("upload_id", t.SessionID),
			slog.String("error", err.Error()),
		)
	}
	return true
}

// ensureMetadata дописывает .meta, если его нет. Время загрузки —
// mtime итогового файла.
func (r *Recovery) ensureMetadata(entry *wal.Entry, finalPath string) {
	t := entry.Target
	meta, err := attr.ReadFile(t.Dir, t.StoredName)
	if err == nil && meta != nil {
		return
	}

	uploaded := entry.StartedAt
	if info, err := r.store.Stat(finalPath); err == nil {
		uploaded = info.ModTime().UTC()
	}
	name := t.DisplayName
	if name == "" {
		name = t.StoredName
	}
	writeMetadata(r.logger, t.Dir, t.StoredName, model.NewFileMetadata(t.Owner, name, uploaded, r.retention))
}
