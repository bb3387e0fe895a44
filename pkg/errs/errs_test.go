package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretErrorUnwrapAndMessage(t *testing.T) {
	inner := errors.New("disk full")
	err := NewSecret(SecretIo, "/tmp/x", inner)

	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "io")
	require.Contains(t, err.Error(), "/tmp/x")
	require.Contains(t, err.Error(), "disk full")
}

func TestNewCollisionNamesBothPaths(t *testing.T) {
	err := NewCollision("/src/a", "/src/b", "/out/secret.env")
	require.Equal(t, SecretCollision, err.Kind)
	require.Contains(t, err.Error(), "/src/a")
	require.Contains(t, err.Error(), "/out/secret.env")
	require.Contains(t, err.Error(), "/src/b")
}

func TestNewStructureConflict(t *testing.T) {
	err := NewStructureConflict("/out/a", "/out/a/b")
	require.Equal(t, SecretStructureConflict, err.Kind)
	require.Contains(t, err.Error(), "/out/a/b")
}

func TestNewLoopAndDestructive(t *testing.T) {
	loop := NewLoop("/tpl", "/tpl/sub")
	require.Equal(t, SecretLoop, loop.Kind)

	destructive := NewDestructive("/out/tpl", "/out")
	require.Equal(t, SecretDestructive, destructive.Kind)
}

func TestProviderErrorIsNotFound(t *testing.T) {
	notFound := &ProviderError{Kind: ProviderNotFound, Key: "op://v/i/f"}
	require.True(t, IsNotFound(notFound))
	require.Contains(t, notFound.Error(), "op://v/i/f")

	wrapped := fmt.Errorf("batch failed: %w", notFound)
	require.True(t, IsNotFound(wrapped))

	require.False(t, IsNotFound(errors.New("plain")))
}

func TestProviderErrorExecFormatsStderr(t *testing.T) {
	err := &ProviderError{Kind: ProviderExec, Program: "op", Status: 1, Stderr: "not authorized"}
	require.Contains(t, err.Error(), "op")
	require.Contains(t, err.Error(), "not authorized")
}

func TestWatchErrorMessageIncludesPathWhenSet(t *testing.T) {
	withPath := &WatchError{Kind: WatchIo, Path: "/tpl", Err: errors.New("boom")}
	require.Contains(t, withPath.Error(), "/tpl")

	withoutPath := &WatchError{Kind: WatchDisconnected, Err: errors.New("closed")}
	require.NotContains(t, withoutPath.Error(), "/tpl")
}

func TestHandlerAndPluginErrorUnwrap(t *testing.T) {
	inner := errors.New("child failed")
	h := &HandlerError{Kind: HandlerExited, Err: inner}
	require.ErrorIs(t, h, inner)

	p := NewPlugin(PluginInUse, nil)
	require.Equal(t, "in_use", p.Error())
}
