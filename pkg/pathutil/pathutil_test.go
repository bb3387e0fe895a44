package pathutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpbradley/locket/pkg/errs"
)

func TestCleanLexical(t *testing.T) {
	require.Equal(t, "/a/b", Clean("/a/./c/../b"))
	require.Equal(t, "/a/b", Clean("/a//b/"))
}

func TestAbsoluteNoIO(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	abs, err := Absolute(missing)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(abs.String()))
}

func TestCanonMissingIsSourceMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	_, err := Canon(missing)
	require.Error(t, err)
	var se *errs.SecretError
	require.ErrorAs(t, err, &se)
	require.Equal(t, errs.SecretSourceMissing, se.Kind)
}

func TestHasPrefixDirBoundary(t *testing.T) {
	foo := MustAbsolute("/foo")
	foo2 := MustAbsolute("/foo2")
	fooChild := MustAbsolute("/foo/bar")

	require.False(t, foo2.HasPrefixDir(foo), "sibling with shared string prefix must not match")
	require.True(t, fooChild.HasPrefixDir(foo))
	require.True(t, foo.HasPrefixDir(foo), "a path is its own prefix")
}

func TestRelativeToAndJoin(t *testing.T) {
	root := MustAbsolute("/tpl")
	child := MustAbsolute("/tpl/a/x")
	rel := child.RelativeTo(root)
	require.Equal(t, filepath.Join("a", "x"), rel)

	out := MustAbsolute("/out")
	require.Equal(t, "/out/a/x", out.Join(rel).String())
}
