// Пакет namespace — пространства владельцев внутри директории данных.
// Каждому владельцу соответствует своя директория <data>/user_<owner>,
// все файлы владельца и его сессии загрузки лежат только в ней.
// Владельцу с символами вне [A-Za-z0-9._-] соответствует
// user_~<sha256 владельца>: разные владельцы не делят директорию.
// Здесь же живут правила санитизации имён файлов.
package namespace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DirPrefix — префикс директории пространства владельца.
const DirPrefix = "user_"

// maxNameLen — предел длины имени файла в байтах (NAME_MAX большинства ФС).
const maxNameLen = 255

// MaxStoredNameLen — предел имени на диске. Самое длинное служебное имя
// ".<stored>.meta.tmp" на 10 байт длиннее и тоже укладывается в NAME_MAX.
const MaxStoredNameLen = maxNameLen - len(".") - len(".meta.tmp")

// MaxOriginalNameLen — предел исходного имени файла от клиента в байтах.
const MaxOriginalNameLen = maxNameLen

// MaxOwnerLen — предел идентификатора владельца в байтах.
const MaxOwnerLen = 255

// hashMarker отмечает директорию, названную по хэшу владельца.
// Символ не проходит Sanitize, поэтому с читаемым именем не совпадёт.
const hashMarker = "~"

// storedTimeLayout — формат временного префикса имени на диске.
const storedTimeLayout = "20060102_150405"

// ErrEmptyOwner — владелец не задан.
var ErrEmptyOwner = errors.New("владелец не задан")

// ErrOwnerTooLong — идентификатор владельца длиннее MaxOwnerLen.
var ErrOwnerTooLong = errors.New("идентификатор владельца слишком длинный")

// ErrEmptyName — имя файла пустое после санитизации.
var ErrEmptyName = errors.New("имя файла пустое")

// ErrNameTooLong — исходное имя длиннее MaxOriginalNameLen.
var ErrNameTooLong = errors.New("имя файла слишком длинное")

// Store — управление пространствами владельцев.
type Store struct {
	// dataDir — корневая директория данных (FD_DATA_DIR)
	dataDir string
}

// New создаёт Store и директорию данных, если её ещё нет.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// DataDir возвращает корневую директорию данных.
func (s *Store) DataDir() string {
	return s.dataDir
}

// Path возвращает путь пространства владельца без создания директории.
func (s *Store) Path(owner string) (string, error) {
	if strings.TrimSpace(owner) == "" {
		return "", ErrEmptyOwner
	}
	if len(owner) > MaxOwnerLen {
		return "", ErrOwnerTooLong
	}
	return filepath.Join(s.dataDir, dirName(owner)), nil
}

// dirName — имя директории пространства. Имя должно однозначно
// определять владельца, поэтому владелец, который меняется при
// санитизации или не помещается в NAME_MAX, получает хэш.
func dirName(owner string) string {
	if len(DirPrefix)+len(owner) <= maxNameLen && Sanitize(owner) == owner {
		return DirPrefix + owner
	}
	sum := sha256.Sum256([]byte(owner))
	return DirPrefix + hashMarker + hex.EncodeToString(sum[:])
}

// Resolve возвращает директорию пространства владельца, создавая её при
// необходимости. Повторный вызов возвращает тот же путь.
func (s *Store) Resolve(owner string) (string, error) {
	dir, err := s.Path(owner)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("не удалось создать пространство %s: %w", dir, err)
	}
	return dir, nil
}

// List возвращает все существующие пространства, отсортированные по имени.
// Директории без префикса user_ (например, WAL) пропускаются.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения директории данных %s: %w", s.dataDir, err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), DirPrefix) {
			continue
		}
		dirs = append(dirs, filepath.Join(s.dataDir, e.Name()))
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Sanitize приводит имя к безопасному виду: любой символ вне
// [A-Za-z0-9._-] заменяется на '_', ведущая точка тоже заменяется,
// результат обрезается до 255 байт.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}

	out := b.String()
	if strings.HasPrefix(out, ".") {
		out = "_" + out[1:]
	}
	// Все символы результата однобайтовые, обрезка безопасна
	if len(out) > maxNameLen {
		out = out[:maxNameLen]
	}
	return out
}

// CheckOriginalName проверяет исходное имя файла до любой записи на диск.
func CheckOriginalName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > MaxOriginalNameLen {
		return ErrNameTooLong
	}
	return nil
}

// StoredName формирует имя на диске: YYYYMMDD_HHMMSS_<sanitized>.
// Итог не длиннее MaxStoredNameLen.
func StoredName(now time.Time, name string) (string, error) {
	if err := CheckOriginalName(name); err != nil {
		return "", err
	}
	clean := Sanitize(strings.TrimSpace(name))
	prefix := now.Format(storedTimeLayout) + "_"
	if len(prefix)+len(clean) > MaxStoredNameLen {
		clean = clean[:MaxStoredNameLen-len(prefix)]
	}
	return prefix + clean, nil
}

// ValidStoredName проверяет имя, пришедшее от клиента при скачивании
// или удалении: одна компонента пути без ведущей точки. Точки внутри
// имени допустимы, "." и ".." отсекает запрет ведущей точки.
func ValidStoredName(name string) bool {
	if name == "" || len(name) > maxNameLen {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return true
}

// DisplayName возвращает отображаемое имя, когда метаданных нет:
// всё после третьего '_' (без префикса YYYYMMDD_HHMMSS_).
// Для имён без префикса возвращается исходное имя.
func DisplayName(stored string) string {
	parts := strings.SplitN(stored, "_", 3)
	if len(parts) == 3 && len(parts[0]) == 8 && len(parts[1]) == 6 && parts[2] != "" {
		return parts[2]
	}
	return stored
}
