package wal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WAL — журнал загрузок, которые ещё не стали видимыми файлами.
// Прямая загрузка и finalize сессии открывают запись до того, как
// частичный файл появится на диске, и закрывают её после rename.
// Запись, оставшаяся pending после рестарта, указывает на частичный
// файл, который нужно удалить или довести до итогового имени.
type WAL struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New открывает журнал в dir, создавая директорию при необходимости.
// Директория, недоступная для записи, — ошибка старта.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию WAL %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("директория WAL %s недоступна для записи: %w", dir, err)
	}
	f.Close()
	os.Remove(f.Name())

	return &WAL{
		dir:    dir,
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// StartTransaction записывает намерение op над target до первой записи
// частичного файла. target.TempPath должен быть заполнен: по нему
// восстановление находит остатки.
func (w *WAL) StartTransaction(op OperationType, target Target) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		Target:        target,
		StartedAt:     time.Now().UTC(),
	}
	if err := w.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось записать начало %s для %s: %w", op, target.StoredName, err)
	}

	w.logger.Debug("Загрузка записана в WAL",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("owner", target.Owner),
		slog.String("stored_name", target.StoredName),
		slog.String("session_id", target.SessionID),
	)
	return entry, nil
}

// Commit закрывает запись после того, как итоговый файл и его .meta
// на месте.
func (w *WAL) Commit(txID string) error {
	return w.finish(txID, StatusCommitted)
}

// Rollback закрывает запись, когда частичный файл удалён.
func (w *WAL) Rollback(txID string) error {
	return w.finish(txID, StatusRolledBack)
}

// finish переводит pending-запись в конечный статус. Повторное
// закрытие — ошибка.
func (w *WAL) finish(txID string, status TransactionStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать WAL-запись %s: %w", txID, err)
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("WAL-запись %s уже закрыта со статусом %s", txID, entry.Status)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now
	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось закрыть WAL-запись %s: %w", txID, err)
	}

	w.logger.Debug("Загрузка закрыта в WAL",
		slog.String("tx_id", txID),
		slog.String("status", string(status)),
		slog.String("owner", entry.Target.Owner),
		slog.String("stored_name", entry.Target.StoredName),
		slog.Duration("duration", now.Sub(entry.StartedAt)),
	)
	return nil
}

// RecoverPending возвращает загрузки, прерванные рестартом.
// Нечитаемые записи пропускаются с предупреждением.
func (w *WAL) RecoverPending() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var pending []*Entry
	err := w.scan(func(_ string, entry *Entry) {
		if entry.Status != StatusPending {
			return
		}
		pending = append(pending, entry)
		w.logger.Warn("Найдена прерванная загрузка",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("owner", entry.Target.Owner),
			slog.String("temp_path", entry.Target.TempPath),
			slog.Time("started_at", entry.StartedAt),
		)
	})
	return pending, err
}

// GetTransaction читает запись по идентификатору.
func (w *WAL) GetTransaction(txID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.readEntry(txID)
}

// CleanCommitted удаляет закрытые записи и возвращает их число.
func (w *WAL) CleanCommitted() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cleaned := 0
	err := w.scan(func(path string, entry *Entry) {
		if entry.Status == StatusPending {
			return
		}
		if err := os.Remove(path); err != nil {
			w.logger.Warn("Не удалось удалить закрытую WAL-запись",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		cleaned++
	})
	if cleaned > 0 {
		w.logger.Info("Закрытые записи WAL удалены", slog.Int("cleaned", cleaned))
	}
	return cleaned, err
}

// scan вызывает fn для каждой читаемой записи журнала.
// Вызывается под w.mu.
func (w *WAL) scan(fn func(path string, entry *Entry)) error {
	paths, err := filepath.Glob(filepath.Join(w.dir, "*"+walSuffix))
	if err != nil {
		return fmt.Errorf("не удалось сканировать директорию WAL: %w", err)
	}
	for _, path := range paths {
		entry, err := w.readEntry(strings.TrimSuffix(filepath.Base(path), walSuffix))
		if err != nil {
			w.logger.Warn("Нечитаемая WAL-запись пропущена",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		fn(path, entry)
	}
	return nil
}

// writeEntry сохраняет запись через temp файл, fsync и rename:
// на диске всегда лежит либо старая, либо новая версия.
func (w *WAL) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	path := filepath.Join(w.dir, walFileName(entry.TransactionID))
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err == nil {
		err = os.Rename(tmpPath, path)
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (w *WAL) readEntry(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, walFileName(txID)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	return &entry, nil
}

// Dir возвращает путь к директории WAL.
func (w *WAL) Dir() string {
	return w.dir
}
