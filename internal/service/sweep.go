// sweep.go — ленивое удаление истёкших файлов, листинг и удаление.
// Фонового таймера нет: sweep выполняется при листинге пространства
// и по явному запросу maintenance.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/filedrop/internal/api/middleware"
	"github.com/bigkaa/goartstore/filedrop/internal/domain/model"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/attr"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/filestore"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/namespace"
)

// SweepResult — итог maintenance sweep пространства.
type SweepResult struct {
	// Removed — удалённые истёкшие файлы
	Removed []string `json:"removed"`
	// RemovedSessions — удалённые устаревшие сессии
	RemovedSessions []string `json:"removed_sessions"`
}

// FileService — sweep, листинг и удаление файлов пространства.
type FileService struct {
	ns       *namespace.Store
	store    *filestore.FileStore
	locator  *PublicLocator
	sessions *SessionService
	logger   *slog.Logger
	now      func() time.Time
}

// NewFileService создаёт сервис файлов пространства.
// sessions может быть nil: тогда maintenance не трогает сессии.
func NewFileService(
	ns *namespace.Store,
	store *filestore.FileStore,
	locator *PublicLocator,
	sessions *SessionService,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		ns:       ns,
		store:    store,
		locator:  locator,
		sessions: sessions,
		logger:   logger.With(slog.String("component", "sweeper")),
		now:      utcNow,
	}
}

// Sweep удаляет истёкшие файлы пространства owner вместе с .meta.
// Файлы без метаданных не истекают. Ошибки по отдельным файлам
// логируются и не прерывают проход. Возвращает имена удалённых файлов.
func (s *FileService) Sweep(ctx context.Context, owner string) ([]string, error) {
	dir, err := s.ns.Path(owner)
	if err != nil {
		return nil, ownerError(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ioFailure(err, "Ошибка чтения пространства")
	}

	now := s.now()
	removed := []string{}
	failed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		name := e.Name()
		if e.IsDir() || attr.IsSidecar(name) {
			continue
		}
		meta := readMetadata(s.logger, dir, name)
		if !meta.IsExpired(now) {
			continue
		}

		if err := s.store.Remove(filepath.Join(dir, name)); err != nil {
			failed++
			s.logger.Warn("Не удалось удалить истёкший файл",
				slog.String("stored_name", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := attr.DeleteFile(dir, name); err != nil {
			s.logger.Warn("Не удалось удалить метаданные",
				slog.String("stored_name", name),
				slog.String("error", err.Error()),
			)
		}
		s.locator.Forget(name)
		middleware.SweepRemovedTotal.WithLabelValues("file").Inc()
		removed = append(removed, name)
	}

	if len(removed) > 0 || failed > 0 {
		s.logger.Info("Sweep завершён",
			slog.String("owner", owner),
			slog.Int("removed", len(removed)),
			slog.Int("failed", failed),
		)
	}
	return removed, nil
}

// Maintain выполняет sweep файлов и устаревших сессий владельца.
func (s *FileService) Maintain(ctx context.Context, owner string) (*SweepResult, error) {
	removed, err := s.Sweep(ctx, owner)
	if err != nil {
		return nil, err
	}
	result := &SweepResult{Removed: removed, RemovedSessions: []string{}}
	if s.sessions != nil {
		ids, err := s.sessions.SweepStale(ctx, owner)
		if err != nil {
			return nil, err
		}
		if ids != nil {
			result.RemovedSessions = ids
		}
	}
	middleware.OperationsTotal.WithLabelValues("sweep", "success").Inc()
	return result, nil
}

// ListFiles выполняет sweep и возвращает файлы пространства,
// новые первыми.
func (s *FileService) ListFiles(ctx context.Context, owner string) ([]model.FileInfo, error) {
	dir, err := resolveNamespace(s.ns, owner)
	if err != nil {
		return nil, err
	}
	if _, err := s.Sweep(ctx, owner); err != nil {
		s.logger.Warn("Sweep при листинге не выполнен",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ioFailure(err, "Ошибка чтения пространства")
	}

	now := s.now()
	files := []model.FileInfo{}
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || attr.IsSidecar(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		fi := model.FileInfo{
			Name:          name,
			DisplayName:   namespace.DisplayName(name),
			Size:          info.Size(),
			SizeFormatted: FormatSize(info.Size()),
			Modified:      info.ModTime().UTC(),
			Extension:     extensionOf(name),
		}
		if meta := readMetadata(s.logger, dir, name); meta != nil {
			if meta.OriginalName != "" {
				fi.DisplayName = meta.OriginalName
			}
			if days, ok := meta.DaysLeft(now); ok {
				fi.ExpiresDate = meta.ExpiresDate
				fi.DaysLeft = &days
			}
		}
		files = append(files, fi)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Modified.After(files[j].Modified)
	})
	return files, nil
}

// Delete удаляет файл владельца и его метаданные.
func (s *FileService) Delete(_ context.Context, owner, stored string) error {
	if !namespace.ValidStoredName(stored) {
		return invalidInput("Некорректное имя файла")
	}
	dir, err := s.ns.Path(owner)
	if err != nil {
		return ownerError(err)
	}

	path := filepath.Join(dir, stored)
	if _, err := s.store.Stat(path); err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return notFound("Файл %s не найден", stored)
		}
		return ioFailure(err, "Ошибка доступа к файлу")
	}
	if err := s.store.Remove(path); err != nil {
		middleware.OperationsTotal.WithLabelValues("delete", "error").Inc()
		return ioFailure(err, "Ошибка удаления файла")
	}
	if err := attr.DeleteFile(dir, stored); err != nil {
		s.logger.Warn("Не удалось удалить метаданные",
			slog.String("stored_name", stored),
			slog.String("error", err.Error()),
		)
	}
	s.locator.Forget(stored)

	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()
	s.logger.Info("Файл удалён",
		slog.String("owner", owner),
		slog.String("stored_name", stored),
	)
	return nil
}

// extensionOf — расширение в верхнем регистре, "FILE" если его нет.
func extensionOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "FILE"
	}
	return strings.ToUpper(name[i+1:])
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize форматирует размер по основанию 1024 с точностью
// до двух знаков: "0 B", "500.0 B", "1.5 KB", "2.25 MB".
func FormatSize(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	i := 0
	for p := float64(n); p >= 1024 && i < len(sizeUnits)-1; p /= 1024 {
		i++
	}
	v := math.Round(float64(n)/math.Pow(1024, float64(i))*100) / 100
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return fmt.Sprintf("%s %s", s, sizeUnits[i])
}
