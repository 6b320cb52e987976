package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/filedrop/internal/config"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/attr"
)

func TestSweep_Expiration(t *testing.T) {
	env := newTestEnv(t)
	stored := env.put(t, "alice", "temp.txt", []byte("bye"))
	dir := env.nsDir(t, "alice")

	// Файл без метаданных никогда не истекает
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legacy.txt"), []byte("keep"), 0o640))

	removed, err := env.files.Sweep(t.Context(), "alice")
	require.NoError(t, err)
	assert.Empty(t, removed, "срок ещё не вышел")

	env.clock.Advance(5*24*time.Hour + time.Second)

	removed, err = env.files.Sweep(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{stored}, removed)

	_, err = os.Stat(filepath.Join(dir, stored))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(attr.MetaPath(dir, stored))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "legacy.txt"))
	assert.NoError(t, err)

	// Повторный sweep ничего не находит
	removed, err = env.files.Sweep(t.Context(), "alice")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSweep_CorruptMetadataNeverExpires(t *testing.T) {
	env := newTestEnv(t)
	stored := env.put(t, "alice", "odd.txt", []byte("x"))
	dir := env.nsDir(t, "alice")
	require.NoError(t, os.WriteFile(attr.MetaPath(dir, stored), []byte("{broken"), 0o640))

	env.clock.Advance(30 * 24 * time.Hour)
	removed, err := env.files.Sweep(t.Context(), "alice")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSweep_MissingNamespace(t *testing.T) {
	env := newTestEnv(t)

	removed, err := env.files.Sweep(t.Context(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, removed)

	_, err = env.files.Sweep(t.Context(), "")
	assert.True(t, IsKind(err, KindInvalidInput))
}

func TestListFiles(t *testing.T) {
	env := newTestEnv(t)
	first := env.put(t, "alice", "first.pdf", payload(1536))
	env.clock.Advance(time.Second)
	second := env.put(t, "alice", "README", payload(10))
	dir := env.nsDir(t, "alice")

	// Незавершённая сессия не попадает в список
	_, err := env.sessions.Init(t.Context(), "alice", "pending.bin", 100)
	require.NoError(t, err)

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(dir, first), old, old))

	env.clock.Advance(2 * 24 * time.Hour)
	files, err := env.files.ListFiles(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, second, files[0].Name, "новые первыми")
	assert.Equal(t, "README", files[0].DisplayName)
	assert.Equal(t, "FILE", files[0].Extension)

	assert.Equal(t, first, files[1].Name)
	assert.Equal(t, "first.pdf", files[1].DisplayName)
	assert.Equal(t, "PDF", files[1].Extension)
	assert.Equal(t, int64(1536), files[1].Size)
	assert.Equal(t, "1.5 KB", files[1].SizeFormatted)
	require.NotNil(t, files[1].DaysLeft)
	assert.Equal(t, 2, *files[1].DaysLeft)
	require.NotNil(t, files[1].ExpiresDate)
}

func TestListFiles_SweepsExpired(t *testing.T) {
	env := newTestEnv(t)
	env.put(t, "alice", "gone.txt", []byte("x"))

	env.clock.Advance(6 * 24 * time.Hour)
	files, err := env.files.ListFiles(t.Context(), "alice")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestListFiles_CreatesNamespace(t *testing.T) {
	env := newTestEnv(t)

	files, err := env.files.ListFiles(t.Context(), "carol")
	require.NoError(t, err)
	assert.Empty(t, files)

	info, err := os.Stat(env.nsDir(t, "carol"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	stored := env.put(t, "alice", "doomed.txt", []byte("x"))
	dir := env.nsDir(t, "alice")

	require.NoError(t, env.files.Delete(t.Context(), "alice", stored))
	_, err := os.Stat(filepath.Join(dir, stored))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(attr.MetaPath(dir, stored))
	assert.True(t, os.IsNotExist(err))

	err = env.files.Delete(t.Context(), "alice", stored)
	assert.True(t, IsKind(err, KindNotFound))

	err = env.files.Delete(t.Context(), "alice", "../x")
	assert.True(t, IsKind(err, KindInvalidInput))
}

func TestDelete_OtherOwner(t *testing.T) {
	env := newTestEnv(t)
	stored := env.put(t, "alice", "mine.txt", []byte("x"))

	err := env.files.Delete(t.Context(), "bob", stored)
	assert.True(t, IsKind(err, KindNotFound))
	assert.FileExists(t, filepath.Join(env.nsDir(t, "alice"), stored))
}

func TestMaintain(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.SessionTTL = time.Hour })
	stored := env.put(t, "alice", "old.txt", []byte("x"))
	sess, err := env.sessions.Init(t.Context(), "alice", "stale.bin", 10)
	require.NoError(t, err)

	env.clock.Advance(6 * 24 * time.Hour)
	result, err := env.files.Maintain(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{stored}, result.Removed)
	assert.Equal(t, []string{sess.ID}, result.RemovedSessions)
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1, "1.0 B"},
		{500, "500.0 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{2359296, "2.25 MB"},
		{5 << 30, "5.0 GB"},
		{3 << 40, "3.0 TB"},
		{2048 << 40, "2048.0 TB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSize(tt.n), "FormatSize(%d)", tt.n)
	}
}
