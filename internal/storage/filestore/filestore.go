// Пакет filestore — операции с физическими файлами в пространствах.
// Обеспечивает блочную streaming-запись с ограничением размера,
// дозапись чанков с откатом при сбое, атомарное переименование
// готового файла и чтение без загрузки файла в память.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultBlockSize — размер блока streaming-записи (8 МБ).
const DefaultBlockSize = 8 << 20

// ErrSizeLimit — записанные данные превысили предел размера.
var ErrSizeLimit = errors.New("превышен максимальный размер файла")

// ErrNotFound — файл не найден.
var ErrNotFound = errors.New("файл не найден")

// FileStore — запись и чтение файлов данных. Пути передаются абсолютными,
// разрешение пространства выполняет вызывающий код.
type FileStore struct {
	// blockSize — размер буфера копирования
	blockSize int
}

// WriteOptions — параметры WriteStream.
type WriteOptions struct {
	// DeclaredSize — заявленный клиентом размер (0 — неизвестен).
	// Используется только для предварительного выделения места.
	DeclaredSize int64
	// Limit — максимальный размер в байтах (0 — без ограничения)
	Limit int64
}

// New создаёт FileStore с размером блока blockSize (<= 0 — 8 МБ).
func New(blockSize int) *FileStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &FileStore{blockSize: blockSize}
}

// TempPath возвращает путь временного файла для finalPath.
// Имя начинается с точки, поэтому листинги и sweep его не видят.
func TempPath(finalPath string) string {
	return filepath.Join(filepath.Dir(finalPath), "."+filepath.Base(finalPath)+".tmp")
}

// WriteStream записывает данные из reader в finalPath блоками.
// Паттерн: temp файл → запись → fsync → atomic rename.
// При превышении Limit или ошибке temp файл удаляется;
// превышение возвращается как ErrSizeLimit.
func (fs *FileStore) WriteStream(finalPath string, reader io.Reader, opts WriteOptions) (int64, error) {
	tmpPath := TempPath(finalPath)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if opts.DeclaredSize > 0 {
		// Сбой выделения места не влияет на запись
		_ = preallocate(f, opts.DeclaredSize)
	}

	src := reader
	if opts.Limit > 0 {
		// Читаем на один байт больше предела, чтобы отличить
		// ровно Limit байт от превышения
		src = io.LimitReader(reader, opts.Limit+1)
	}

	buf := make([]byte, fs.blockSize)
	size, err := io.CopyBuffer(f, onlyReader{src}, buf)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return size, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if opts.Limit > 0 && size > opts.Limit {
		f.Close()
		os.Remove(tmpPath)
		return size, ErrSizeLimit
	}

	// Пришло меньше заявленного: освобождаем зарезервированный хвост
	if size < opts.DeclaredSize {
		if err := f.Truncate(size); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return size, fmt.Errorf("ошибка освобождения резерва: %w", err)
		}
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return size, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return size, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return size, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return size, nil
}

// CreateEmpty создаёт пустой файл. Существующий файл — ошибка.
func (fs *FileStore) CreateEmpty(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания файла %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// Append дописывает данные из reader в конец path, начиная с offset.
// Если файл длиннее offset (остаток прерванной дозаписи), он сначала
// обрезается до offset. При ошибке посреди записи или превышении limit
// (0 — без ограничения) файл обрезается обратно до offset, чтобы чанк
// можно было повторить. Возвращает число записанных байтов.
func (fs *FileStore) Append(path string, offset int64, reader io.Reader, limit int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка открытия файла %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("ошибка stat %s: %w", filepath.Base(path), err)
	}
	if info.Size() != offset {
		if err := f.Truncate(offset); err != nil {
			return 0, fmt.Errorf("ошибка выравнивания %s до %d: %w", filepath.Base(path), offset, err)
		}
	}

	src := reader
	if limit > 0 {
		src = io.LimitReader(reader, limit+1)
	}

	buf := make([]byte, fs.blockSize)
	n, err := io.CopyBuffer(f, onlyReader{src}, buf)
	if err == nil && limit > 0 && n > limit {
		err = ErrSizeLimit
	}
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		if tErr := f.Truncate(offset); tErr != nil {
			return n, fmt.Errorf("ошибка дозаписи: %w (откат не удался: %v)", err, tErr)
		}
		if errors.Is(err, ErrSizeLimit) {
			return 0, err
		}
		return 0, fmt.Errorf("ошибка дозаписи: %w", err)
	}
	return n, nil
}

// Truncate обрезает файл до size байт.
func (fs *FileStore) Truncate(path string, size int64) error {
	if err := os.Truncate(path, size); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обрезки %s до %d: %w", filepath.Base(path), size, err)
	}
	return nil
}

// Promote атомарно переименовывает src в dst в пределах одной ФС.
func (fs *FileStore) Promote(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Open открывает обычный файл для чтения.
// Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(path string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("ошибка открытия файла %s: %w", filepath.Base(path), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("ошибка stat %s: %w", filepath.Base(path), err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

// Stat возвращает информацию об обычном файле.
func (fs *FileStore) Stat(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка stat %s: %w", filepath.Base(path), err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}
	return info, nil
}

// Exists проверяет существование обычного файла.
func (fs *FileStore) Exists(path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// Remove удаляет файл. Возвращает nil если файл уже не существует.
func (fs *FileStore) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", filepath.Base(path), err)
	}
	return nil
}

// onlyReader скрывает WriterTo/ReaderFrom, чтобы io.CopyBuffer
// действительно копировал блоками заданного размера.
type onlyReader struct {
	io.Reader
}
