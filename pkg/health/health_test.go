package health

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsReadyEmptyPath(t *testing.T) {
	require.False(t, IsReady(""))
}

func TestMarkReadyThenIsReady(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nested", "status")

	require.False(t, IsReady(p))
	require.NoError(t, MarkReady(p))
	require.True(t, IsReady(p))

	contents, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "ready", string(contents))
}

func TestClearRemovesFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "status")
	require.NoError(t, MarkReady(p))

	require.NoError(t, Clear(p))
	require.False(t, IsReady(p))
}

func TestClearMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Clear(filepath.Join(dir, "absent")))
}

func TestMarkReadyAndClearEmptyPathAreNoop(t *testing.T) {
	require.NoError(t, MarkReady(""))
	require.NoError(t, Clear(""))
}
