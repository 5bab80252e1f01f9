package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObject(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	s, err := New(base)
	require.NoError(t, err)

	uri, err := s.PutObject(context.Background(), "raw/run-1/tip-board.html", "text/html", []byte("<html/>"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(base, "raw/run-1/tip-board.html"), uri)

	data, err := os.ReadFile(filepath.Join(base, "raw", "run-1", "tip-board.html"))
	require.NoError(t, err)
	require.Equal(t, "<html/>", string(data))
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.PutObject(context.Background(), "../escape.html", "text/html", []byte("x"))
	require.Error(t, err)

	_, err = s.PutObject(context.Background(), "  ", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestNewCreatesBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "snapshots")
	_, err := New(base)
	require.NoError(t, err)

	info, err := os.Stat(base)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewRejectsFilePath(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := New(file)
	require.Error(t, err)

	_, err = New("")
	require.Error(t, err)
}
