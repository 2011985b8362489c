package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)

	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM syscalls").Scan(&n))
	assert.Zero(t, n)
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	for name, want := range map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
		"synchronous":  "1",
		"user_version": "1",
	} {
		got, err := s.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpen_ReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.WriteBoot(context.Background(), testBoot("run-1")))
	require.NoError(t, s.Close())

	ro, err := Open(path, ReadOnly())
	require.NoError(t, err)
	defer ro.Close()

	boots, err := ro.ReadBoots(context.Background())
	require.NoError(t, err)
	assert.Len(t, boots, 1)
	assert.Error(t, ro.WriteBoot(context.Background(), testBoot("run-2")))
}

func TestOpen_ReadOnlyMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.db"), ReadOnly())
	assert.Error(t, err)
}
