package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "git-ftp.lck")

	l, err := AcquireLocal(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))

	require.NoError(t, l.Release())
	assert.NoFileExists(t, path)
	assert.NoError(t, l.Release(), "release must be idempotent")
}

func TestAcquireLocal_AlreadyRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "git-ftp.lck")

	first, err := AcquireLocal(path)
	require.NoError(t, err)
	defer func() { _ = first.Release() }()

	_, err = AcquireLocal(path)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.FileExists(t, path, "the holder keeps its lock")
}

func TestAcquireLocal_LiveForeignPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "git-ftp.lck")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0644))

	_, err := AcquireLocal(path)
	assert.True(t, errors.Is(err, ErrAlreadyRunning), "got %v", err)
}

func TestAcquireLocal_ReclaimsStale(t *testing.T) {
	for name, content := range map[string]string{
		"dead pid":   "2147483646\n",
		"garbage":    "not-a-pid",
		"empty file": "",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "git-ftp.lck")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			old := time.Now().Add(-time.Minute)
			require.NoError(t, os.Chtimes(path, old, old))

			l, err := AcquireLocal(path)
			require.NoError(t, err)
			defer func() { _ = l.Release() }()

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))
		})
	}
}

func TestAcquireLocal_FreshUnreadableLockIsHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "git-ftp.lck")
	// another process created the file but has not written its PID yet
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l, err := AcquireLocal(path)
	assert.Nil(t, l)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.FileExists(t, path)
}

func TestAcquireLocal_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "git-ftp.lck")

	l, err := AcquireLocal(path)
	require.NoError(t, err)
	_, err = AcquireLocal(path)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "git-ftp.lck", entries[0].Name())

	require.NoError(t, l.Release())
}

func TestAcquireLocal_MissingDirectory(t *testing.T) {
	_, err := AcquireLocal(filepath.Join(t.TempDir(), "missing", "git-ftp.lck"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyRunning)
}

func TestReleaseNil(t *testing.T) {
	var l *Local
	assert.NoError(t, l.Release())
}
