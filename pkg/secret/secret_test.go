package secret

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpbradley/locket/pkg/pathutil"
)

func writeTemp(t *testing.T, contents string) pathutil.CanonicalPath {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o600))
	canon, err := pathutil.Canon(p)
	require.NoError(t, err)
	return canon
}

func TestFileSourceRead(t *testing.T) {
	path := writeTemp(t, "hello")
	src := FileSource(path)
	data, ok, err := src.Read(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(data))
}

func TestFileSourceTooLarge(t *testing.T) {
	path := writeTemp(t, "0123456789")
	src := FileSource(path)
	_, _, err := src.Read(5)
	require.Error(t, err)
}

func TestFileSourceMissingDegradesToFalse(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nope")
	src := Source{kind: kindFile, path: pathutil.UnsafeCanonical(missing)}
	_, ok, err := src.Read(0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLiteralSourceNeverReturnsFalse(t *testing.T) {
	src := LiteralSource("label", []byte("v"))
	data, ok, err := src.Read(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(data))
}

func TestParseSecretArgBarePath(t *testing.T) {
	path := writeTemp(t, "x")
	s, err := ParseSecretArg(path.String())
	require.NoError(t, err)
	require.False(t, s.IsNamed())
	require.True(t, s.Source.IsFile())
}

func TestParseSecretArgNamedLiteral(t *testing.T) {
	s, err := ParseSecretArg("DB={{op://v/i/f}}")
	require.NoError(t, err)
	require.Equal(t, "DB", s.Key)
	require.False(t, s.Source.IsFile())
}

func TestParseSecretArgNamedFile(t *testing.T) {
	path := writeTemp(t, "x")
	s, err := ParseSecretArg("DB=@" + path.String())
	require.NoError(t, err)
	require.Equal(t, "DB", s.Key)
	require.True(t, s.Source.IsFile())
}

func TestSanitizeLabel(t *testing.T) {
	require.Equal(t, "a_b", SanitizeLabel("a/b"))
	require.Equal(t, "secret", SanitizeLabel("///"))
}
