package service

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/filedrop/internal/config"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/filestore"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/namespace"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClock — управляемые часы для сервисов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv — сервисы поверх временной директории данных.
type testEnv struct {
	cfg       *config.Config
	ns        *namespace.Store
	store     *filestore.FileStore
	wal       *wal.WAL
	locator   *PublicLocator
	clock     *fakeClock
	uploads   *UploadService
	sessions  *SessionService
	downloads *DownloadService
	files     *FileService
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	dataDir := t.TempDir()

	cfg := &config.Config{
		DataDir:         dataDir,
		WALDir:          filepath.Join(dataDir, ".wal"),
		ChunkSize:       100,
		Retention:       5 * 24 * time.Hour,
		RangeBlockSize:  64,
		PublicCacheSize: 16,
		PublicCacheTTL:  time.Minute,
	}
	for _, m := range mutate {
		m(cfg)
	}

	ns, err := namespace.New(cfg.DataDir)
	require.NoError(t, err)
	walEngine, err := wal.New(cfg.WALDir, testLogger())
	require.NoError(t, err)

	store := filestore.New(32)
	locator := NewPublicLocator(cfg.PublicCacheSize, cfg.PublicCacheTTL)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	env := &testEnv{
		cfg:       cfg,
		ns:        ns,
		store:     store,
		wal:       walEngine,
		locator:   locator,
		clock:     clock,
		uploads:   NewUploadService(cfg, ns, store, walEngine, testLogger()),
		sessions:  NewSessionService(cfg, ns, store, walEngine, testLogger()),
		downloads: NewDownloadService(cfg, ns, store, locator, testLogger()),
	}
	env.files = NewFileService(ns, store, locator, env.sessions, testLogger())

	env.uploads.now = clock.Now
	env.sessions.now = clock.Now
	env.downloads.now = clock.Now
	env.files.now = clock.Now
	return env
}

// put загружает content напрямую и возвращает имя на диске.
func (e *testEnv) put(t *testing.T, owner, name string, content []byte) string {
	t.Helper()
	file, err := e.uploads.Upload(t.Context(), DirectUploadParams{
		Owner:    owner,
		Reader:   bytes.NewReader(content),
		Filename: name,
	})
	require.NoError(t, err)
	return file.Name
}

// nsDir — директория пространства владельца.
func (e *testEnv) nsDir(t *testing.T, owner string) string {
	t.Helper()
	dir, err := e.ns.Path(owner)
	require.NoError(t, err)
	return dir
}

// failingReader отдаёт data, затем возвращает ошибку.
type failingReader struct {
	data []byte
	pos  int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, errors.New("соединение разорвано")
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// payload — детерминированные тестовые данные.
func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}
