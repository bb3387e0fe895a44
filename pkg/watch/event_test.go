package watch

import (
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

func TestMapFsEventRemove(t *testing.T) {
	ev, ok := mapFsEvent(fsnotify.Event{Name: "/x", Op: fsnotify.Remove})
	require.True(t, ok)
	require.Equal(t, Event{Kind: Remove, Src: "/x"}, ev)
}

func TestMapFsEventRenameMapsToRemove(t *testing.T) {
	ev, ok := mapFsEvent(fsnotify.Event{Name: "/x", Op: fsnotify.Rename})
	require.True(t, ok)
	require.Equal(t, Event{Kind: Remove, Src: "/x"}, ev)
}

func TestMapFsEventCreateAndWriteMapToWrite(t *testing.T) {
	for _, op := range []fsnotify.Op{fsnotify.Create, fsnotify.Write} {
		ev, ok := mapFsEvent(fsnotify.Event{Name: "/x", Op: op})
		require.True(t, ok)
		require.Equal(t, Event{Kind: Write, Src: "/x"}, ev)
	}
}

func TestMapFsEventChmodIgnored(t *testing.T) {
	_, ok := mapFsEvent(fsnotify.Event{Name: "/x", Op: fsnotify.Chmod})
	require.False(t, ok)
}

func TestEventString(t *testing.T) {
	require.Equal(t, "Write(/a)", Event{Kind: Write, Src: "/a"}.String())
	require.Equal(t, "Remove(/a)", Event{Kind: Remove, Src: "/a"}.String())
	require.Equal(t, "Move(/a->/b)", Event{Kind: Move, From: "/a", To: "/b"}.String())
}
