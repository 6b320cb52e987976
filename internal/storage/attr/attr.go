// Пакет attr — sidecar-файлы рядом с данными в пространстве владельца.
//
//	.<stored>.meta       метаданные сохранённого файла
//	.upload_<id>.json    запись сессии возобновляемой загрузки
//	.upload_<id>.part    накапливаемые байты сессии (пишет filestore)
//
// Все записи атомарны: temp → fsync → rename.
package attr

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/filedrop/internal/domain/model"
)

const (
	// MetaSuffix — суффикс sidecar-файла метаданных.
	MetaSuffix = ".meta"
	// SessionPrefix — префикс файлов сессии загрузки.
	SessionPrefix = ".upload_"
	// SessionSuffix — суффикс записи сессии.
	SessionSuffix = ".json"
	// PartSuffix — суффикс накапливаемого payload сессии.
	PartSuffix = ".part"
)

// maxSidecarSize — максимальный размер sidecar-файла (4 КБ).
// Ограничение гарантирует атомарность записи.
const maxSidecarSize = 4096

// ErrNotFound — sidecar отсутствует.
var ErrNotFound = errors.New("sidecar не найден")

// ErrCorrupt — sidecar существует, но не разбирается.
var ErrCorrupt = errors.New("sidecar повреждён")

// MetaPath возвращает путь к .meta для файла stored.
// Пример: "/data/user_a/20260101_000000_x.txt" → "/data/user_a/.20260101_000000_x.txt.meta"
func MetaPath(dir, stored string) string {
	return filepath.Join(dir, "."+stored+MetaSuffix)
}

// SessionPath возвращает путь к записи сессии.
func SessionPath(dir, id string) string {
	return filepath.Join(dir, SessionPrefix+id+SessionSuffix)
}

// PartPath возвращает путь к payload сессии.
func PartPath(dir, id string) string {
	return filepath.Join(dir, SessionPrefix+id+PartSuffix)
}

// IsSidecar сообщает, является ли запись директории служебной
// (.meta, .json, .part, .tmp и любые другие скрытые файлы).
func IsSidecar(name string) bool {
	return strings.HasPrefix(name, ".")
}

// SessionIDFromName извлекает id из имени записи сессии.
// Второе значение false, если имя не относится к записи сессии.
func SessionIDFromName(name string) (string, bool) {
	if !strings.HasPrefix(name, SessionPrefix) || !strings.HasSuffix(name, SessionSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, SessionPrefix), SessionSuffix)
	if id == "" {
		return "", false
	}
	return id, true
}

// WriteFile атомарно записывает метаданные файла stored.
func WriteFile(dir, stored string, meta *model.FileMetadata) error {
	return writeJSON(MetaPath(dir, stored), meta)
}

// ReadFile читает метаданные файла stored.
// Отсутствующий sidecar — (nil, nil). Повреждённый — (nil, ErrCorrupt):
// вызывающий код логирует и считает, что метаданных нет.
func ReadFile(dir, stored string) (*model.FileMetadata, error) {
	var meta model.FileMetadata
	if err := readJSON(MetaPath(dir, stored), &meta); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &meta, nil
}

// DeleteFile удаляет .meta. Отсутствие файла не ошибка.
func DeleteFile(dir, stored string) error {
	return remove(MetaPath(dir, stored))
}

// WriteSession атомарно записывает запись сессии.
func WriteSession(dir string, s *model.UploadSession) error {
	return writeJSON(SessionPath(dir, s.ID), s)
}

// ReadSession читает запись сессии. Отсутствие — ErrNotFound.
func ReadSession(dir, id string) (*model.UploadSession, error) {
	var s model.UploadSession
	if err := readJSON(SessionPath(dir, id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession удаляет запись сессии. Отсутствие файла не ошибка.
func DeleteSession(dir, id string) error {
	return remove(SessionPath(dir, id))
}

// ScanSessions возвращает все читаемые записи сессий пространства.
// Повреждённые записи пропускаются, их id возвращаются вторым значением.
func ScanSessions(dir string) ([]*model.UploadSession, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("ошибка сканирования директории %s: %w", dir, err)
	}

	var (
		sessions []*model.UploadSession
		broken   []string
	)
	for _, e := range entries {
		id, ok := SessionIDFromName(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		s, err := ReadSession(dir, id)
		if err != nil {
			broken = append(broken, id)
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, broken, nil
}

// writeJSON сериализует v и атомарно записывает его в path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации %s: %w", filepath.Base(path), err)
	}

	if len(data) > maxSidecarSize {
		return fmt.Errorf("размер %s (%d байт) превышает максимум (%d байт)", filepath.Base(path), len(data), maxSidecarSize)
	}

	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка чтения %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return nil
}

func remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления %s: %w", path, err)
	}
	return nil
}
