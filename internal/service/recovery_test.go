package service

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/filedrop/internal/storage/attr"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/filestore"
	"github.com/bigkaa/goartstore/filedrop/internal/storage/wal"
)

func newTestRecovery(env *testEnv) *Recovery {
	return NewRecovery(env.wal, env.store, env.cfg.Retention, testLogger())
}

func TestRecovery_DirectUploadPartial(t *testing.T) {
	env := newTestEnv(t)
	dir, err := env.ns.Resolve("alice")
	require.NoError(t, err)

	final := filepath.Join(dir, "20260301_120000_crash.bin")
	tmp := filestore.TempPath(final)
	require.NoError(t, os.WriteFile(tmp, payload(10), 0o640))

	entry, err := env.wal.StartTransaction(wal.OpDirectUpload, wal.Target{
		Owner: "alice", Dir: dir, StoredName: filepath.Base(final), TempPath: tmp,
	})
	require.NoError(t, err)

	result, err := newTestRecovery(env).Run()
	require.NoError(t, err)
	assert.Equal(t, 1, result.RolledBack)
	assert.Equal(t, 1, result.Cleaned)

	assert.NoFileExists(t, tmp)
	assert.NoFileExists(t, final)
	_, err = env.wal.GetTransaction(entry.TransactionID)
	assert.Error(t, err, "завершённая запись удалена")
}

func TestRecovery_DirectUploadRenamed(t *testing.T) {
	env := newTestEnv(t)
	dir, err := env.ns.Resolve("alice")
	require.NoError(t, err)

	// Сбой после rename, но до записи .meta
	final := filepath.Join(dir, "20260301_120000_done.bin")
	require.NoError(t, os.WriteFile(final, payload(10), 0o640))
	_, err = env.wal.StartTransaction(wal.OpDirectUpload, wal.Target{
		Owner: "alice", Dir: dir, StoredName: filepath.Base(final),
		TempPath: filestore.TempPath(final), DisplayName: "done.bin",
	})
	require.NoError(t, err)

	result, err := newTestRecovery(env).Run()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Committed)

	meta, err := attr.ReadFile(dir, filepath.Base(final))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "done.bin", meta.OriginalName)
	assert.Equal(t, "alice", meta.UserID)
	assert.NotNil(t, meta.ExpiresDate)
}

func TestRecovery_FinalizeBeforeRename(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Init(t.Context(), "alice", "big.bin", 50)
	require.NoError(t, err)
	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 0, bytes.NewReader(payload(50)))
	require.NoError(t, err)

	dir := env.nsDir(t, "alice")
	_, err = env.wal.StartTransaction(wal.OpSessionFinalize, wal.Target{
		Owner: "alice", Dir: dir, StoredName: "20260301_120000_big.bin",
		TempPath: attr.PartPath(dir, sess.ID), SessionID: sess.ID, DisplayName: "big.bin",
	})
	require.NoError(t, err)

	result, err := newTestRecovery(env).Run()
	require.NoError(t, err)
	assert.Equal(t, 1, result.RolledBack)

	// Сессию можно финализировать повторно
	file, err := env.sessions.Finalize(t.Context(), "alice", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), file.Size)
}

func TestRecovery_FinalizeAfterRename(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Init(t.Context(), "alice", "big.bin", 50)
	require.NoError(t, err)
	_, err = env.sessions.Append(t.Context(), "alice", sess.ID, 0, bytes.NewReader(payload(50)))
	require.NoError(t, err)

	dir := env.nsDir(t, "alice")
	stored := "20260301_120000_big.bin"
	part := attr.PartPath(dir, sess.ID)
	_, err = env.wal.StartTransaction(wal.OpSessionFinalize, wal.Target{
		Owner: "alice", Dir: dir, StoredName: stored,
		TempPath: part, SessionID: sess.ID, DisplayName: "big.bin",
	})
	require.NoError(t, err)
	require.NoError(t, os.Rename(part, filepath.Join(dir, stored)))

	result, err := newTestRecovery(env).Run()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Committed)

	assert.NoFileExists(t, attr.SessionPath(dir, sess.ID))
	meta, err := attr.ReadFile(dir, stored)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "big.bin", meta.OriginalName)
}

func TestRecovery_NothingPending(t *testing.T) {
	env := newTestEnv(t)
	env.put(t, "alice", "ok.txt", []byte("x"))

	result, err := newTestRecovery(env).Run()
	require.NoError(t, err)
	assert.Zero(t, result.Committed)
	assert.Zero(t, result.RolledBack)
	assert.Equal(t, 1, result.Cleaned, "запись успешной загрузки очищена")
}
