// download.go — отдача файлов целиком и по диапазонам.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bigkaa/goartstore/filedrop/internal/api/middleware"
	"github.com/bigkaa/goartstore/filedrop/internal/config"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/filestore"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/namespace"
)

// defaultRangeBlock — блок отдачи, если он не задан конфигурацией.
const defaultRangeBlock = 4 << 20

// Retrieval — подготовленный ответ на скачивание: статус, заголовки
// и тело, которое отдаётся блоками через WriteTo.
// Вызывающий код обязан вызвать Close.
type Retrieval struct {
	// Status — 200, 206 или 416
	Status int
	// Header — заголовки ответа
	Header http.Header

	file      *os.File
	offset    int64
	length    int64
	blockSize int
}

// WriteTo копирует тело ответа в w блоками blockSize.
// Для 416 тело пустое.
func (r *Retrieval) WriteTo(w io.Writer) (int64, error) {
	if r.file == nil || r.length == 0 {
		return 0, nil
	}
	src := io.NewSectionReader(r.file, r.offset, r.length)
	buf := make([]byte, r.blockSize)
	n, err := io.CopyBuffer(w, onlyReader{src}, buf)
	middleware.DownloadBytesTotal.Add(float64(n))
	return n, err
}

// Close закрывает файл.
func (r *Retrieval) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// DownloadService — поиск и отдача файлов.
type DownloadService struct {
	cfg     *config.Config
	ns      *namespace.Store
	store   *filestore.FileStore
	locator *PublicLocator
	logger  *slog.Logger
	now     func() time.Time
}

// NewDownloadService создаёт сервис скачивания.
func NewDownloadService(
	cfg *config.Config,
	ns *namespace.Store,
	store *filestore.FileStore,
	locator *PublicLocator,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		cfg:     cfg,
		ns:      ns,
		store:   store,
		locator: locator,
		logger:  logger.With(slog.String("component", "download_service")),
		now:     utcNow,
	}
}

// Open готовит ответ для файла path. rangeHeader — значение заголовка
// Range (пустое — весь файл). displayName попадает в Content-Disposition.
func (s *DownloadService) Open(path, displayName, rangeHeader string) (*Retrieval, error) {
	f, info, err := s.store.Open(path)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return nil, notFound("Файл %s не найден", filepath.Base(path))
		}
		return nil, ioFailure(err, "Ошибка открытия файла")
	}

	total := info.Size()
	h := http.Header{}
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType(displayName))
	h.Set("Content-Disposition", contentDisposition(displayName))
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	blockSize := s.cfg.RangeBlockSize
	if blockSize <= 0 {
		blockSize = defaultRangeBlock
	}
	ret := &Retrieval{Header: h, file: f, blockSize: blockSize}

	var (
		br     ByteRange
		result = RangeFull
	)
	if rangeHeader != "" {
		br, result = ParseRange(rangeHeader, total)
	}

	switch result {
	case RangePartial:
		ret.Status = http.StatusPartialContent
		ret.offset = br.Start
		ret.length = br.Length()
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", br.Start, br.End, total))
	case RangeUnsatisfiable:
		f.Close()
		ret.file = nil
		ret.Status = http.StatusRequestedRangeNotSatisfiable
		h.Del("Content-Type")
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
	default:
		ret.Status = http.StatusOK
		ret.length = total
	}
	h.Set("Content-Length", strconv.FormatInt(ret.length, 10))

	middleware.OperationsTotal.WithLabelValues("download", strconv.Itoa(ret.Status)).Inc()
	return ret, nil
}

// RetrieveOwned ищет stored сначала в пространстве owner (без проверки
// срока хранения), затем среди публичных файлов.
func (s *DownloadService) RetrieveOwned(owner, stored, rangeHeader string) (*Retrieval, error) {
	if !namespace.ValidStoredName(stored) {
		return nil, invalidInput("Некорректное имя файла")
	}
	dir, err := s.ns.Path(owner)
	if err != nil {
		return nil, ownerError(err)
	}

	path := filepath.Join(dir, stored)
	if s.store.Exists(path) {
		return s.Open(path, s.displayName(dir, stored), rangeHeader)
	}
	return s.RetrievePublic(stored, rangeHeader)
}

// RetrievePublic ищет stored во всех пространствах, пропуская
// истёкшие файлы. Найденное расположение кэшируется.
func (s *DownloadService) RetrievePublic(stored, rangeHeader string) (*Retrieval, error) {
	if !namespace.ValidStoredName(stored) {
		return nil, invalidInput("Некорректное имя файла")
	}

	dir, err := s.findPublic(stored)
	if err != nil {
		return nil, err
	}
	return s.Open(filepath.Join(dir, stored), s.displayName(dir, stored), rangeHeader)
}

func (s *DownloadService) findPublic(stored string) (string, error) {
	if dir, ok := s.locator.Lookup(stored); ok {
		if s.servable(dir, stored) {
			return dir, nil
		}
		s.locator.Forget(stored)
	}

	dirs, err := s.ns.List()
	if err != nil {
		return "", ioFailure(err, "Ошибка поиска файла")
	}
	for _, dir := range dirs {
		if s.servable(dir, stored) {
			s.locator.Remember(stored, dir)
			return dir, nil
		}
	}
	return "", notFound("Файл %s не найден", stored)
}

// servable — файл существует и не истёк.
func (s *DownloadService) servable(dir, stored string) bool {
	if !s.store.Exists(filepath.Join(dir, stored)) {
		return false
	}
	meta := readMetadata(s.logger, dir, stored)
	return !meta.IsExpired(s.now())
}

func (s *DownloadService) displayName(dir, stored string) string {
	if meta := readMetadata(s.logger, dir, stored); meta != nil && meta.OriginalName != "" {
		return meta.OriginalName
	}
	return namespace.DisplayName(stored)
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

// onlyReader скрывает WriterTo у источника, чтобы io.CopyBuffer
// копировал блоками заданного размера.
type onlyReader struct {
	io.Reader
}
