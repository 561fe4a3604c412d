package diag

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTinyWriter bypasses the megabyte granularity of the constructor.
func newTinyWriter(t *testing.T, limit int64, keep int) (*RotatingFileWriter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.log")
	w := &RotatingFileWriter{path: path, limit: limit, keep: keep}
	require.NoError(t, w.open())
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func TestRotatingFileWriter_BasicWrite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "run.log")
	w, err := NewRotatingFileWriter(path, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestRotatingFileWriter_Rotates(t *testing.T) {
	t.Parallel()
	w, path := newTinyWriter(t, 50, 2)
	line := strings.Repeat("A", 39) + "\n"

	for range 4 {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	for _, p := range []string{path, path + ".1", path + ".2"} {
		data, err := os.ReadFile(p)
		require.NoError(t, err, p)
		assert.Equal(t, line, string(data), p)
	}
	_, err := os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err), "backups past the retention count are removed")
}

func TestRotatingFileWriter_NoBackups(t *testing.T) {
	t.Parallel()
	w, path := newTinyWriter(t, 10, 0)
	_, err := w.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingFileWriter_WriteAfterClose(t *testing.T) {
	t.Parallel()
	w, _ := newTinyWriter(t, 10, 0)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err := w.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
