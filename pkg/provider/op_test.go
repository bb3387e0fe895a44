package provider

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpbradley/locket/pkg/reference"
)

// writeFakeOp installs a fake `op` CLI on PATH that succeeds `whoami` and
// answers `read --no-newline <ref>` from a fixed table, so OpProvider can be
// exercised without the real 1Password CLI or a network call.
func writeFakeOp(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake op script is POSIX shell only")
	}

	dir := t.TempDir()
	script := `#!/bin/sh
if [ "$1" = "whoami" ]; then
  exit 0
fi
if [ "$1" = "read" ]; then
  case "$3" in
    "op://Production/DB/password") printf 'hunter2' ;;
    *) echo "not found" 1>&2; exit 1 ;;
  esac
  exit 0
fi
exit 1
`
	path := filepath.Join(dir, "op")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestOpProviderFetchMap(t *testing.T) {
	writeFakeOp(t)

	p, err := NewOpProvider(context.Background(), OpConfig{ServiceAccountToken: "tok"})
	require.NoError(t, err)

	ref, err := reference.Parse("op://Production/DB/password")
	require.NoError(t, err)

	out, err := p.FetchMap(context.Background(), []reference.Reference{ref})
	require.NoError(t, err)
	require.Equal(t, SecretString("hunter2"), out[ref])
}

func TestOpProviderFetchMapMissingSecretErrors(t *testing.T) {
	writeFakeOp(t)

	p, err := NewOpProvider(context.Background(), OpConfig{ServiceAccountToken: "tok"})
	require.NoError(t, err)

	ref, err := reference.Parse("op://Production/DB/other")
	require.NoError(t, err)

	_, err = p.FetchMap(context.Background(), []reference.Reference{ref})
	require.Error(t, err)
}

func TestOpProviderParseIgnoresOtherBackends(t *testing.T) {
	writeFakeOp(t)
	p, err := NewOpProvider(context.Background(), OpConfig{ServiceAccountToken: "tok"})
	require.NoError(t, err)

	_, ok := p.Parse("00000001-0000-0000-0000-000000000000")
	require.False(t, ok)
}
