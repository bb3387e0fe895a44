package atomicfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteCreatesParentAndContent(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "sub", "dir", "out.env")

	require.NoError(t, Write(target, []byte("DB=secret123\n"), 0o600, 0o700))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "DB=secret123\n", string(data))

	info, err := os.Stat(target)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Join(root, "sub", "dir"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())
}

func TestWriteOverwritesAtomically(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "out")
	require.NoError(t, Write(target, []byte("old"), 0o600, 0o700))
	require.NoError(t, Write(target, []byte("new-content"), 0o600, 0o700))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "new-content", string(data))

	// No leftover temp files in the directory.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCopyStreams(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "out", "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))

	require.NoError(t, Copy(src, dst, 0o600, 0o700))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestMoveRenames(t *testing.T) {
	root := t.TempDir()
	from := filepath.Join(root, "from")
	to := filepath.Join(root, "to")
	require.NoError(t, os.WriteFile(from, []byte("x"), 0o600))

	require.NoError(t, Move(from, to))

	_, err := os.Stat(from)
	require.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(to)
	require.NoError(t, err)
	require.Equal(t, "x", string(data))
}
