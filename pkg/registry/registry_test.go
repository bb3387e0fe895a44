package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bpbradley/locket/pkg/pathutil"
	"github.com/bpbradley/locket/pkg/secret"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
}

func TestResolveLongestPrefix(t *testing.T) {
	root := t.TempDir()
	srcA := filepath.Join(root, "tpl", "a")
	srcB := filepath.Join(root, "tpl", "a", "nested")
	writeFile(t, filepath.Join(srcA, "x"))
	writeFile(t, filepath.Join(srcB, "y"))

	mA, err := NewMapping(srcA, filepath.Join(root, "out-a"))
	require.NoError(t, err)
	mB, err := NewMapping(srcB, filepath.Join(root, "out-b"))
	require.NoError(t, err)

	r, err := New([]Mapping{mA, mB}, nil, 0)
	require.NoError(t, err)

	canonNested, err := pathutil.Canon(filepath.Join(srcB, "y"))
	require.NoError(t, err)

	dst, ok := r.Resolve(canonNested)
	require.True(t, ok)
	require.Equal(t, filepath.Join(root, "out-b", "y"), dst.String())
}

func TestMappingDestReturnsOwningMappingRoot(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "tpl")
	out := filepath.Join(root, "out")
	writeFile(t, filepath.Join(src, "a", "x"))

	m, err := NewMapping(src, out)
	require.NoError(t, err)
	r, err := New([]Mapping{m}, nil, 0)
	require.NoError(t, err)

	canon, err := pathutil.Canon(filepath.Join(src, "a", "x"))
	require.NoError(t, err)

	dst, ok := r.MappingDest(canon)
	require.True(t, ok)
	require.Equal(t, out, dst.String())

	_, ok = r.MappingDest(pathutil.UnsafeCanonical(filepath.Join(root, "elsewhere")))
	require.False(t, ok)
}

func TestUpsertIdempotent(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "tpl")
	writeFile(t, filepath.Join(src, "x"))
	m, err := NewMapping(src, filepath.Join(root, "out"))
	require.NoError(t, err)

	r, err := New([]Mapping{m}, nil, 0)
	require.NoError(t, err)

	canon, err := pathutil.Canon(filepath.Join(src, "x"))
	require.NoError(t, err)

	f1, ok := r.Upsert(canon)
	require.True(t, ok)
	f2, ok := r.Upsert(canon)
	require.True(t, ok)
	require.Equal(t, f1.Dest.String(), f2.Dest.String())
}

func TestUpsertUnmappedDegradesToFalse(t *testing.T) {
	root := t.TempDir()
	r, err := New(nil, nil, 0)
	require.NoError(t, err)

	outside := pathutil.UnsafeCanonical(filepath.Join(root, "elsewhere", "x"))
	_, ok := r.Upsert(outside)
	require.False(t, ok)
}

func TestPinnedTakesPrecedenceOverMapping(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "tpl")
	writeFile(t, filepath.Join(src, "x"))
	m, err := NewMapping(src, filepath.Join(root, "out"))
	require.NoError(t, err)

	canon, err := pathutil.Canon(filepath.Join(src, "x"))
	require.NoError(t, err)

	pinnedDest, err := pathutil.Absolute(filepath.Join(root, "pinned-out", "x"))
	require.NoError(t, err)
	pinned := secret.File{Source: secret.FileSource(canon), Dest: pinnedDest}

	r, err := New([]Mapping{m}, []secret.File{pinned}, 0)
	require.NoError(t, err)

	dst, ok := r.Resolve(canon)
	require.True(t, ok)
	require.Equal(t, pinnedDest.String(), dst.String())
}

func TestRemoveSubtreeIsPrefixSafe(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "tpl")
	writeFile(t, filepath.Join(src, "foo", "x"))
	writeFile(t, filepath.Join(src, "foo2", "y"))

	m, err := NewMapping(src, filepath.Join(root, "out"))
	require.NoError(t, err)
	r, err := New([]Mapping{m}, nil, 0)
	require.NoError(t, err)

	fooDir, err := pathutil.Canon(filepath.Join(src, "foo"))
	require.NoError(t, err)

	removed := r.Remove(fooDir)
	require.Len(t, removed, 1)
	require.Equal(t, filepath.Join(root, "out", "foo", "x"), removed[0].Dest.String())

	remaining := r.Files()
	require.Len(t, remaining, 1)
	require.Equal(t, filepath.Join(root, "out", "foo2", "y"), remaining[0].Dest.String())
}

func TestCollisionsDetectsDuplicateDestination(t *testing.T) {
	root := t.TempDir()
	srcA := filepath.Join(root, "tpl-a")
	srcB := filepath.Join(root, "tpl-b")
	writeFile(t, filepath.Join(srcA, "shared"))
	writeFile(t, filepath.Join(srcB, "shared"))

	mA, err := NewMapping(srcA, filepath.Join(root, "out"))
	require.NoError(t, err)
	mB, err := NewMapping(srcB, filepath.Join(root, "out"))
	require.NoError(t, err)

	r, err := New([]Mapping{mA, mB}, nil, 0)
	require.NoError(t, err)

	err = r.Collisions()
	require.Error(t, err)
}

func TestCollisionsDetectsStructureConflict(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "tpl")
	writeFile(t, filepath.Join(src, "x"))

	m, err := NewMapping(src, filepath.Join(root, "out"))
	require.NoError(t, err)
	r, err := New([]Mapping{m}, nil, 0)
	require.NoError(t, err)

	nestedDest, err := pathutil.Absolute(filepath.Join(root, "out", "x", "deeper"))
	require.NoError(t, err)
	literalSrc := pathutil.UnsafeCanonical(filepath.Join(root, "literal"))
	extra := secret.File{Source: secret.FileSource(literalSrc), Dest: nestedDest}

	err = r.Collisions(extra)
	require.Error(t, err)
}

// TestTryRebaseDirectoryRename exercises spec.md §8 scenario 4: mapping
// /tpl -> /out; files /tpl/a/x, /tpl/a/y, /tpl/b/z; event Move{/tpl/a ->
// /tpl/a2}. try_rebase must succeed, leaving /out/a2/x, /out/a2/y, /out/b/z
// and nothing under /tpl/a.
func TestTryRebaseDirectoryRename(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "tpl")
	writeFile(t, filepath.Join(src, "a", "x"))
	writeFile(t, filepath.Join(src, "a", "y"))
	writeFile(t, filepath.Join(src, "b", "z"))

	m, err := NewMapping(src, filepath.Join(root, "out"))
	require.NoError(t, err)
	r, err := New([]Mapping{m}, nil, 0)
	require.NoError(t, err)

	fromDir := filepath.Join(src, "a")
	toDir := filepath.Join(src, "a2")
	require.NoError(t, os.Rename(fromDir, toDir))

	from := pathutil.UnsafeCanonical(fromDir)
	to, err := pathutil.Canon(toDir)
	require.NoError(t, err)

	oldRoot, newRoot, ok := r.TryRebase(from, to)
	require.True(t, ok)
	require.Equal(t, filepath.Join(root, "out", "a"), oldRoot.String())
	require.Equal(t, filepath.Join(root, "out", "a2"), newRoot.String())

	files := r.Files()
	dests := make([]string, 0, len(files))
	for _, f := range files {
		dests = append(dests, f.Dest.String())
	}
	require.ElementsMatch(t, []string{
		filepath.Join(root, "out", "a2", "x"),
		filepath.Join(root, "out", "a2", "y"),
		filepath.Join(root, "out", "b", "z"),
	}, dests)

	stillUnderOldA, ok := r.Resolve(pathutil.UnsafeCanonical(filepath.Join(fromDir, "x")))
	require.True(t, ok) // resolve is purely lexical projection, still succeeds...
	require.Equal(t, filepath.Join(root, "out", "a", "x"), stillUnderOldA.String())
	// ...but no tracked entry remains keyed under /tpl/a.
	for _, f := range files {
		require.NotEqual(t, filepath.Join(src, "a", "x"), f.Source.Path().String())
		require.NotEqual(t, filepath.Join(src, "a", "y"), f.Source.Path().String())
	}
}

func TestTryRebaseFailsOnDrift(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "tpl")
	writeFile(t, filepath.Join(src, "a", "x"))

	m, err := NewMapping(src, filepath.Join(root, "out"))
	require.NoError(t, err)
	r, err := New([]Mapping{m}, nil, 0)
	require.NoError(t, err)

	// Simulate drift: manually overwrite the tracked destination so it no
	// longer matches the mapping's linear projection.
	key := filepath.Join(src, "a", "x")
	entry := r.entries[key]
	drifted, err := pathutil.Absolute(filepath.Join(root, "out", "manually-moved"))
	require.NoError(t, err)
	entry.File.Dest = drifted
	r.entries[key] = entry

	toDir := filepath.Join(src, "a2")
	require.NoError(t, os.Rename(filepath.Join(src, "a"), toDir))
	from := pathutil.UnsafeCanonical(filepath.Join(src, "a"))
	to, err := pathutil.Canon(toDir)
	require.NoError(t, err)

	_, _, ok := r.TryRebase(from, to)
	require.False(t, ok)
}

func TestTryRebaseFailsOnMismatchedMapping(t *testing.T) {
	root := t.TempDir()
	srcA := filepath.Join(root, "tpl-a")
	srcB := filepath.Join(root, "tpl-b")
	writeFile(t, filepath.Join(srcA, "sub", "x"))
	writeFile(t, filepath.Join(srcB, "y"))

	mA, err := NewMapping(srcA, filepath.Join(root, "out-a"))
	require.NoError(t, err)
	mB, err := NewMapping(srcB, filepath.Join(root, "out-b"))
	require.NoError(t, err)
	r, err := New([]Mapping{mA, mB}, nil, 0)
	require.NoError(t, err)

	from := pathutil.UnsafeCanonical(filepath.Join(srcA, "sub"))
	to := pathutil.UnsafeCanonical(srcB) // different mapping entirely

	_, _, ok := r.TryRebase(from, to)
	require.False(t, ok)
}

func TestTryRebaseEmptySubtreeStillSucceeds(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "tpl")
	writeFile(t, filepath.Join(src, "keep"))

	m, err := NewMapping(src, filepath.Join(root, "out"))
	require.NoError(t, err)
	r, err := New([]Mapping{m}, nil, 0)
	require.NoError(t, err)

	from := pathutil.UnsafeCanonical(filepath.Join(src, "empty-dir"))
	to := pathutil.UnsafeCanonical(filepath.Join(src, "empty-dir-renamed"))

	oldRoot, newRoot, ok := r.TryRebase(from, to)
	require.True(t, ok)
	require.Equal(t, filepath.Join(root, "out", "empty-dir"), oldRoot.String())
	require.Equal(t, filepath.Join(root, "out", "empty-dir-renamed"), newRoot.String())
}
