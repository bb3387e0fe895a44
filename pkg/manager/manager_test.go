package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpbradley/locket/pkg/pathutil"
	"github.com/bpbradley/locket/pkg/provider"
	"github.com/bpbradley/locket/pkg/reference"
	"github.com/bpbradley/locket/pkg/registry"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newRegistry(t *testing.T, srcRoot, dstRoot string) *registry.Registry {
	t.Helper()
	m, err := registry.NewMapping(srcRoot, dstRoot)
	require.NoError(t, err)
	reg, err := registry.New([]registry.Mapping{m}, nil, 1<<20)
	require.NoError(t, err)
	return reg
}

func TestInjectAllRendersTaggedTemplate(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "tpl")
	dst := filepath.Join(tmp, "out")
	writeFile(t, filepath.Join(src, "db.env"), "DB={{op://v/i/f}}\n")

	reg := newRegistry(t, src, dst)
	mgr := New(reg, nil)

	p := &fakeSecretProvider{values: map[string]string{"op://v/i/f": "secret123"}}
	require.NoError(t, mgr.InjectAll(context.Background(), p))

	out, err := os.ReadFile(filepath.Join(dst, "db.env"))
	require.NoError(t, err)
	require.Equal(t, "DB=secret123\n", string(out))
}

func TestInjectAllPreservesUnresolvedTags(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "tpl")
	dst := filepath.Join(tmp, "out")
	writeFile(t, filepath.Join(src, "f.env"), "A={{op://v/i/a}},B={{op://v/i/b}}")

	reg := newRegistry(t, src, dst)
	mgr := New(reg, nil)

	p := &fakeSecretProvider{values: map[string]string{"op://v/i/a": "1"}}
	require.NoError(t, mgr.InjectAll(context.Background(), p))

	out, err := os.ReadFile(filepath.Join(dst, "f.env"))
	require.NoError(t, err)
	require.Equal(t, "A=1,B={{op://v/i/b}}", string(out))
}

func TestInjectAllPassesThroughWhenNoReferencesRecognized(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "tpl")
	dst := filepath.Join(tmp, "out")
	writeFile(t, filepath.Join(src, "plain.txt"), "just some text\n")

	reg := newRegistry(t, src, dst)
	mgr := New(reg, nil)

	p := &fakeSecretProvider{values: map[string]string{}}
	require.NoError(t, mgr.InjectAll(context.Background(), p))

	out, err := os.ReadFile(filepath.Join(dst, "plain.txt"))
	require.NoError(t, err)
	require.Equal(t, "just some text\n", string(out))
}

func TestProcessCopyUnmodifiedOnFetchFailure(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "tpl")
	dst := filepath.Join(tmp, "out")
	writeFile(t, filepath.Join(src, "db.env"), "DB={{op://v/i/f}}\n")

	reg := newRegistry(t, src, dst)
	mgr := New(reg, nil, WithPolicy(PolicyCopyUnmodified))

	p := &fakeSecretProvider{failErr: errFetch}
	require.NoError(t, mgr.InjectAll(context.Background(), p))

	out, err := os.ReadFile(filepath.Join(dst, "db.env"))
	require.NoError(t, err)
	require.Equal(t, "DB={{op://v/i/f}}\n", string(out))
}

func TestProcessErrorPolicyPropagates(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "tpl")
	dst := filepath.Join(tmp, "out")
	writeFile(t, filepath.Join(src, "db.env"), "DB={{op://v/i/f}}\n")

	reg := newRegistry(t, src, dst)
	mgr := New(reg, nil, WithPolicy(PolicyError))

	p := &fakeSecretProvider{failErr: errFetch}
	require.Error(t, mgr.InjectAll(context.Background(), p))
}

func TestHandleFsEventWriteUpsertsNewFile(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "tpl")
	dst := filepath.Join(tmp, "out")
	require.NoError(t, os.MkdirAll(src, 0o755))

	reg := newRegistry(t, src, dst)
	mgr := New(reg, nil)
	p := &fakeSecretProvider{values: map[string]string{"op://v/i/f": "hunter2"}}

	newFile := filepath.Join(src, "new.env")
	writeFile(t, newFile, "X={{op://v/i/f}}")

	require.NoError(t, mgr.HandleFsEvent(context.Background(), p, Event{Kind: EventWrite, Src: newFile}))

	out, err := os.ReadFile(filepath.Join(dst, "new.env"))
	require.NoError(t, err)
	require.Equal(t, "X=hunter2", string(out))
}

func TestHandleFsEventRemoveDeletesDestinationAndBubbles(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "tpl")
	dst := filepath.Join(tmp, "out")
	writeFile(t, filepath.Join(src, "a", "x.env"), "X={{op://v/i/f}}")

	reg := newRegistry(t, src, dst)
	mgr := New(reg, nil)
	p := &fakeSecretProvider{values: map[string]string{"op://v/i/f": "v"}}
	require.NoError(t, mgr.InjectAll(context.Background(), p))

	require.FileExists(t, filepath.Join(dst, "a", "x.env"))

	srcFile, err := pathutil.Canon(filepath.Join(src, "a", "x.env"))
	require.NoError(t, err)

	require.NoError(t, mgr.HandleFsEvent(context.Background(), p, Event{Kind: EventRemove, Src: srcFile.String()}))

	require.NoFileExists(t, filepath.Join(dst, "a", "x.env"))
	require.NoDirExists(t, filepath.Join(dst, "a"))
	require.DirExists(t, dst)
}

func TestHandleFsEventMoveRebasesDirectory(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "tpl")
	dst := filepath.Join(tmp, "out")
	writeFile(t, filepath.Join(src, "a", "x"), "X={{op://v/i/f}}")
	writeFile(t, filepath.Join(src, "a", "y"), "Y={{op://v/i/f}}")
	writeFile(t, filepath.Join(src, "b", "z"), "Z={{op://v/i/f}}")

	reg := newRegistry(t, src, dst)
	mgr := New(reg, nil)
	p := &fakeSecretProvider{values: map[string]string{"op://v/i/f": "v"}}
	require.NoError(t, mgr.InjectAll(context.Background(), p))

	oldDir, err := pathutil.Canon(filepath.Join(src, "a"))
	require.NoError(t, err)
	newDir := filepath.Join(src, "a2")
	require.NoError(t, os.Rename(oldDir.String(), newDir))

	require.NoError(t, mgr.HandleFsEvent(context.Background(), p, Event{
		Kind: EventMove, From: oldDir.String(), To: newDir,
	}))

	require.FileExists(t, filepath.Join(dst, "a2", "x"))
	require.FileExists(t, filepath.Join(dst, "a2", "y"))
	require.FileExists(t, filepath.Join(dst, "b", "z"))
	require.NoDirExists(t, filepath.Join(dst, "a"))
}

var errFetch = fetchFailure{}

type fetchFailure struct{}

func (fetchFailure) Error() string { return "fetch failed" }

// fakeSecretProvider adapts a fixed lookup table to the provider.Provider
// interface for manager-package tests.
type fakeSecretProvider struct {
	values  map[string]string
	failErr error
}

func (f *fakeSecretProvider) Parse(raw string) (reference.Reference, bool) {
	ref, ok := reference.TryParse(raw)
	if !ok {
		return nil, false
	}
	if _, isOp := ref.(reference.OpRef); !isOp {
		return nil, false
	}
	return ref, true
}

func (f *fakeSecretProvider) FetchMap(ctx context.Context, refs []reference.Reference) (map[reference.Reference]provider.SecretString, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	out := make(map[reference.Reference]provider.SecretString, len(refs))
	for _, r := range refs {
		if v, ok := f.values[r.String()]; ok {
			out[r] = provider.SecretString(v)
		}
	}
	return out, nil
}
