package attr

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/filedrop/internal/domain/model"
)

// testMetadata создаёт тестовые метаданные.
func testMetadata() *model.FileMetadata {
	now := time.Now().UTC().Truncate(time.Second)
	return model.NewFileMetadata("alice", "test photo.jpg", now, 5*24*time.Hour)
}

// testSession создаёт тестовую запись сессии.
func testSession() *model.UploadSession {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.UploadSession{
		ID:           "5f0b2c1e-7a0d-4c1b-9d43-1d2f3e4a5b6c",
		UserID:       "alice",
		Filename:     "video.mp4",
		OriginalName: "video.mp4",
		TotalSize:    1000,
		ChunkSize:    100,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// TestWriteAndReadFile проверяет запись и чтение .meta.
func TestWriteAndReadFile(t *testing.T) {
	dir := t.TempDir()
	meta := testMetadata()

	if err := WriteFile(dir, "20260101_000000_test_photo.jpg", meta); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, ".20260101_000000_test_photo.jpg.meta")); err != nil {
		t.Fatalf(".meta файл не создан: %v", err)
	}

	got, err := ReadFile(dir, "20260101_000000_test_photo.jpg")
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if got == nil {
		t.Fatal("метаданные не прочитаны")
	}
	if got.OriginalName != meta.OriginalName {
		t.Errorf("OriginalName: ожидалось %q, получено %q", meta.OriginalName, got.OriginalName)
	}
	if got.UserID != meta.UserID {
		t.Errorf("UserID: ожидалось %q, получено %q", meta.UserID, got.UserID)
	}
	if !got.UploadDate.Equal(meta.UploadDate) {
		t.Errorf("UploadDate: ожидалось %v, получено %v", meta.UploadDate, got.UploadDate)
	}
	if got.ExpiresDate == nil || !got.ExpiresDate.Equal(*meta.ExpiresDate) {
		t.Errorf("ExpiresDate: ожидалось %v, получено %v", meta.ExpiresDate, got.ExpiresDate)
	}
}

// TestWriteFile_AtomicNoTmpFile проверяет, что temp файл не остаётся после записи.
func TestWriteFile_AtomicNoTmpFile(t *testing.T) {
	dir := t.TempDir()

	if err := WriteFile(dir, "x.txt", testMetadata()); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	if _, err := os.Stat(MetaPath(dir, "x.txt") + ".tmp"); !os.IsNotExist(err) {
		t.Error("временный файл не должен существовать после атомарной записи")
	}
}

// TestReadFile_Missing проверяет, что отсутствие .meta не ошибка.
func TestReadFile_Missing(t *testing.T) {
	meta, err := ReadFile(t.TempDir(), "nothing.txt")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if meta != nil {
		t.Error("ожидались nil метаданные")
	}
}

// TestReadFile_Corrupt проверяет ErrCorrupt для невалидного JSON.
func TestReadFile_Corrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(MetaPath(dir, "bad.txt"), []byte("{broken"), 0o640); err != nil {
		t.Fatalf("ошибка создания файла: %v", err)
	}

	meta, err := ReadFile(dir, "bad.txt")
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("ожидалась ErrCorrupt, получено %v", err)
	}
	if meta != nil {
		t.Error("ожидались nil метаданные")
	}
}

// TestWriteFile_NoExpiry проверяет метаданные без срока хранения.
func TestWriteFile_NoExpiry(t *testing.T) {
	dir := t.TempDir()
	meta := model.NewFileMetadata("bob", "a.bin", time.Now().UTC(), 0)

	if err := WriteFile(dir, "a.bin", meta); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	got, err := ReadFile(dir, "a.bin")
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if got.ExpiresDate != nil {
		t.Error("ExpiresDate должен быть nil")
	}
	if got.IsExpired(time.Now().Add(1000 * time.Hour)) {
		t.Error("файл без срока хранения не должен истекать")
	}
}

// TestDeleteFile проверяет удаление .meta, включая повторное.
func TestDeleteFile(t *testing.T) {
	dir := t.TempDir()
	if err := WriteFile(dir, "x.txt", testMetadata()); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	if err := DeleteFile(dir, "x.txt"); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if _, err := os.Stat(MetaPath(dir, "x.txt")); !os.IsNotExist(err) {
		t.Error("файл должен быть удалён")
	}
	if err := DeleteFile(dir, "x.txt"); err != nil {
		t.Errorf("удаление несуществующего файла не должно возвращать ошибку: %v", err)
	}
}

// TestSessionRoundTrip проверяет запись, чтение и удаление записи сессии.
func TestSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := testSession()
	s.ReceivedBytes = 300

	if err := WriteSession(dir, s); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	got, err := ReadSession(dir, s.ID)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if got.ReceivedBytes != 300 || got.TotalSize != 1000 || got.ChunkSize != 100 {
		t.Errorf("счётчики не совпадают: %+v", got)
	}
	if got.NextIndex() != 3 {
		t.Errorf("NextIndex: ожидалось 3, получено %d", got.NextIndex())
	}

	if err := DeleteSession(dir, s.ID); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if _, err := ReadSession(dir, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestScanSessions проверяет сканирование сессий с пропуском повреждённых.
func TestScanSessions(t *testing.T) {
	dir := t.TempDir()

	good := testSession()
	if err := WriteSession(dir, good); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	os.WriteFile(SessionPath(dir, "broken"), []byte("nope"), 0o640)
	os.WriteFile(PartPath(dir, good.ID), nil, 0o640)
	os.WriteFile(filepath.Join(dir, "20260101_000000_file.txt"), []byte("data"), 0o640)

	sessions, broken, err := ScanSessions(dir)
	if err != nil {
		t.Fatalf("ошибка сканирования: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != good.ID {
		t.Errorf("ожидалась одна сессия %s, получено %v", good.ID, sessions)
	}
	if len(broken) != 1 || broken[0] != "broken" {
		t.Errorf("ожидался один повреждённый id, получено %v", broken)
	}
}

// TestIsSidecar проверяет распознавание служебных файлов.
func TestIsSidecar(t *testing.T) {
	for _, name := range []string{".x.meta", ".upload_1.json", ".upload_1.part", ".x.meta.tmp"} {
		if !IsSidecar(name) {
			t.Errorf("%s должен быть служебным файлом", name)
		}
	}
	if IsSidecar("20260101_000000_x.txt") {
		t.Error("обычный файл не должен быть служебным")
	}
}

// TestSessionIDFromName проверяет извлечение id из имени записи.
func TestSessionIDFromName(t *testing.T) {
	id, ok := SessionIDFromName(".upload_abc.json")
	if !ok || id != "abc" {
		t.Errorf("ожидалось abc, получено %q (%v)", id, ok)
	}
	if _, ok := SessionIDFromName(".upload_abc.part"); ok {
		t.Error(".part не является записью сессии")
	}
	if _, ok := SessionIDFromName(".upload_.json"); ok {
		t.Error("пустой id не допускается")
	}
}

// TestWrite_TooLarge проверяет отклонение слишком больших sidecar-файлов.
func TestWrite_TooLarge(t *testing.T) {
	dir := t.TempDir()
	meta := testMetadata()
	meta.OriginalName = strings.Repeat("A", 5000)

	if err := WriteFile(dir, "large.txt", meta); err == nil {
		t.Error("ожидалась ошибка для слишком большого sidecar")
	}
}
