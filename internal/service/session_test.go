package service

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/filedrop/internal/config"
	"github.com/bigkaa/goartstore/filedrop/internal/domain/upload"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/attr"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/namespace"
)

// uploadChunks отправляет content чанками по chunkSize.
func uploadChunks(t *testing.T, env *testEnv, owner, id string, content []byte) {
	t.Helper()
	size := int(env.cfg.ChunkSize)
	for i := 0; i*size < len(content); i++ {
		end := min((i+1)*size, len(content))
		_, err := env.sessions.Append(t.Context(), owner, id, int64(i), bytes.NewReader(content[i*size:end]))
		require.NoError(t, err, "чанк %d", i)
	}
}

func TestSession_ChunkedEquivalence(t *testing.T) {
	env := newTestEnv(t)
	content := payload(350)

	sess, err := env.sessions.Init(t.Context(), "alice", "video.mp4", int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, int64(100), sess.ChunkSize)
	_, err = uuid.Parse(sess.ID)
	require.NoError(t, err)

	uploadChunks(t, env, "alice", sess.ID, content)

	file, err := env.sessions.Finalize(t.Context(), "alice", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "20260301_120000_video.mp4", file.Name)
	assert.Equal(t, int64(350), file.Size)

	// Результат идентичен прямой загрузке тех же байтов
	direct := env.put(t, "bob", "video.mp4", content)
	chunked, err := os.ReadFile(filepath.Join(env.nsDir(t, "alice"), file.Name))
	require.NoError(t, err)
	plain, err := os.ReadFile(filepath.Join(env.nsDir(t, "bob"), direct))
	require.NoError(t, err)
	assert.Equal(t, plain, chunked)

	// Запись сессии и .part удалены, .meta записан
	dir := env.nsDir(t, "alice")
	_, err = os.Stat(attr.SessionPath(dir, sess.ID))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(attr.PartPath(dir, sess.ID))
	assert.True(t, os.IsNotExist(err))
	meta, err := attr.ReadFile(dir, file.Name)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "video.mp4", meta.OriginalName)

	// После finalize сессия неизвестна
	_, err = env.sessions.Status(t.Context(), "alice", sess.ID)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestSession_InitValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.sessions.Init(t.Context(), "alice", " ", 10)
	assert.True(t, IsKind(err, KindInvalidInput))

	_, err = env.sessions.Init(t.Context(), "alice", "a.bin", -1)
	assert.True(t, IsKind(err, KindInvalidInput))

	_, err = env.sessions.Init(t.Context(), "", "a.bin", 1)
	assert.True(t, IsKind(err, KindInvalidInput))

	a, err := env.sessions.Init(t.Context(), "alice", "a.bin", 1)
	require.NoError(t, err)
	b, err := env.sessions.Init(t.Context(), "alice", "a.bin", 1)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID, "каждый init создаёт новую сессию")
}

// TestSession_InitNameBounds проверяет, что самые длинные допустимые имя
// и владелец помещаются в sidecar-файлы, а более длинное имя
// отклоняется до создания сессии.
func TestSession_InitNameBounds(t *testing.T) {
	env := newTestEnv(t)

	// '<' экранируется в JSON шестью байтами
	owner := strings.Repeat("<", namespace.MaxOwnerLen)
	name := strings.Repeat("<", namespace.MaxOriginalNameLen)
	sess, err := env.sessions.Init(t.Context(), owner, name, 10)
	require.NoError(t, err)
	uploadChunks(t, env, owner, sess.ID, payload(10))

	file, err := env.sessions.Finalize(t.Context(), owner, sess.ID)
	require.NoError(t, err)
	assert.Len(t, file.Name, namespace.MaxStoredNameLen)
	meta, err := attr.ReadFile(env.nsDir(t, owner), file.Name)
	require.NoError(t, err)
	require.NotNil(t, meta)

	_, err = env.sessions.Init(t.Context(), "alice", strings.Repeat("n", namespace.MaxOriginalNameLen+1), 10)
	assert.True(t, IsKind(err, KindInvalidInput), "длинное имя: %v", err)
	_, err = os.Stat(env.nsDir(t, "alice"))
	assert.True(t, os.IsNotExist(err), "пространство не должно создаваться")
}

func TestSession_StrictOrdering(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Init(t.Context(), "alice", "a.bin", 300)
	require.NoError(t, err)

	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 1, bytes.NewReader(payload(100)))
	assert.True(t, IsKind(err, KindOutOfOrder), "пропуск чанка: %v", err)

	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 0, bytes.NewReader(payload(100)))
	require.NoError(t, err)

	// Повтор уже принятого индекса
	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 0, bytes.NewReader(payload(100)))
	assert.True(t, IsKind(err, KindOutOfOrder), "повтор чанка: %v", err)

	status, err := env.sessions.Status(t.Context(), "alice", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), status.ReceivedBytes, "отклонённые чанки не меняют сессию")
	assert.Equal(t, int64(1), status.NextChunkIndex)
	assert.Equal(t, upload.StateAccumulating, status.State)
}

func TestSession_FinalizeBeforeComplete(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Init(t.Context(), "alice", "a.bin", 250)
	require.NoError(t, err)

	_, err = env.sessions.Finalize(t.Context(), "alice", sess.ID)
	assert.True(t, IsKind(err, KindIncomplete))

	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 0, bytes.NewReader(payload(100)))
	require.NoError(t, err)

	_, err = env.sessions.Finalize(t.Context(), "alice", sess.ID)
	assert.True(t, IsKind(err, KindIncomplete))

	// Сессия цела и продолжается с того же места
	status, err := env.sessions.Status(t.Context(), "alice", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), status.ReceivedBytes)

	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 1, bytes.NewReader(payload(100)))
	require.NoError(t, err)
	res, err := env.sessions.Append(t.Context(), "alice", sess.ID, 2, bytes.NewReader(payload(50)))
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, int64(250), res.ReceivedBytes)
	assert.Equal(t, int64(250), res.TotalSize)

	_, err = env.sessions.Finalize(t.Context(), "alice", sess.ID)
	require.NoError(t, err)
}

func TestSession_AppendFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Init(t.Context(), "alice", "a.bin", 200)
	require.NoError(t, err)

	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 0, bytes.NewReader(payload(100)))
	require.NoError(t, err)

	// Обрыв посреди чанка 1
	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 1, &failingReader{data: payload(40)})
	require.Error(t, err)
	assert.Equal(t, KindIOFailure, KindOf(err))

	info, err := os.Stat(attr.PartPath(env.nsDir(t, "alice"), sess.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Size(), ".part обрезан до принятых байтов")

	// Повтор того же индекса
	res, err := env.sessions.Append(t.Context(), "alice", sess.ID, 1, bytes.NewReader(payload(100)))
	require.NoError(t, err)
	assert.True(t, res.Completed)
}

func TestSession_ChunkSizeRules(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Init(t.Context(), "alice", "a.bin", 150)
	require.NoError(t, err)

	// Чанк длиннее chunk_size отклоняется
	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 0, bytes.NewReader(payload(101)))
	assert.True(t, IsKind(err, KindInvalidInput), "длинный чанк: %v", err)

	// Короткий непоследний чанк отклоняется
	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 0, bytes.NewReader(payload(30)))
	assert.True(t, IsKind(err, KindInvalidInput), "короткий чанк: %v", err)

	info, err := os.Stat(attr.PartPath(env.nsDir(t, "alice"), sess.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 0, bytes.NewReader(payload(100)))
	require.NoError(t, err)

	// Последний чанк длиннее остатка, но в пределах chunk_size, принимается
	res, err := env.sessions.Append(t.Context(), "alice", sess.ID, 1, bytes.NewReader(payload(80)))
	require.NoError(t, err)
	assert.Equal(t, int64(180), res.ReceivedBytes)
	assert.True(t, res.Completed)

	file, err := env.sessions.Finalize(t.Context(), "alice", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(180), file.Size)
}

// TestSession_CompleteRejectsChunks проверяет, что полная сессия
// не принимает чанки и finalize сохраняет ровно принятые байты.
func TestSession_CompleteRejectsChunks(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Init(t.Context(), "alice", "a.bin", 200)
	require.NoError(t, err)
	uploadChunks(t, env, "alice", sess.ID, payload(200))

	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 2, bytes.NewReader(payload(50)))
	assert.True(t, IsKind(err, KindInvalidInput), "чанк после complete: %v", err)

	info, err := os.Stat(attr.PartPath(env.nsDir(t, "alice"), sess.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(200), info.Size())

	file, err := env.sessions.Finalize(t.Context(), "alice", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), file.Size)
}

func TestSession_EmptyFile(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Init(t.Context(), "alice", "empty.txt", 0)
	require.NoError(t, err)

	status, err := env.sessions.Status(t.Context(), "alice", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, upload.StateComplete, status.State)

	// Сессия нулевого размера сразу полная
	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 0, bytes.NewReader(payload(60)))
	assert.True(t, IsKind(err, KindInvalidInput), "чанк в пустую сессию: %v", err)

	file, err := env.sessions.Finalize(t.Context(), "alice", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), file.Size)
	assert.Equal(t, "0 B", file.SizeFormatted)
}

func TestSession_UnknownAndForeign(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Init(t.Context(), "alice", "a.bin", 10)
	require.NoError(t, err)

	tests := []struct {
		name  string
		owner string
		id    string
	}{
		{"неизвестный id", "alice", uuid.New().String()},
		{"некорректный id", "alice", "../../etc/passwd"},
		{"чужая сессия", "bob", sess.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.sessions.Append(t.Context(), tt.owner, tt.id, 0, bytes.NewReader(payload(10)))
			assert.True(t, IsKind(err, KindNotFound), "append: %v", err)
			_, err = env.sessions.Finalize(t.Context(), tt.owner, tt.id)
			assert.True(t, IsKind(err, KindNotFound), "finalize: %v", err)
			_, err = env.sessions.Status(t.Context(), tt.owner, tt.id)
			assert.True(t, IsKind(err, KindNotFound), "status: %v", err)
		})
	}
}

func TestSession_MissingPart(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Init(t.Context(), "alice", "a.bin", 0)
	require.NoError(t, err)

	require.NoError(t, os.Remove(attr.PartPath(env.nsDir(t, "alice"), sess.ID)))

	_, err = env.sessions.Finalize(t.Context(), "alice", sess.ID)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestSession_ConcurrentAppendSerialized(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Init(t.Context(), "alice", "a.bin", 100)
	require.NoError(t, err)

	// Несколько клиентов шлют чанк 0 одновременно: принят ровно один
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.sessions.Append(t.Context(), "alice", sess.ID, 0, bytes.NewReader(payload(100))); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	status, err := env.sessions.Status(t.Context(), "alice", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), status.ReceivedBytes)
	assert.Equal(t, 0, env.sessions.locks.size(), "мьютексы освобождены")
}

func TestSession_SweepStale(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.SessionTTL = time.Hour })

	old, err := env.sessions.Init(t.Context(), "alice", "old.bin", 10)
	require.NoError(t, err)
	env.clock.Advance(2 * time.Hour)
	fresh, err := env.sessions.Init(t.Context(), "alice", "fresh.bin", 10)
	require.NoError(t, err)

	removed, err := env.sessions.SweepStale(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, removed)

	dir := env.nsDir(t, "alice")
	_, err = os.Stat(attr.PartPath(dir, old.ID))
	assert.True(t, os.IsNotExist(err))
	_, err = env.sessions.Status(t.Context(), "alice", fresh.ID)
	assert.NoError(t, err)
}

func TestSession_SweepStaleDisabled(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.sessions.Init(t.Context(), "alice", "old.bin", 10)
	require.NoError(t, err)
	env.clock.Advance(365 * 24 * time.Hour)

	removed, err := env.sessions.SweepStale(t.Context(), "alice")
	require.NoError(t, err)
	assert.Empty(t, removed)
}
