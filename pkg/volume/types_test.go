package volume

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewVolumeNameRejectsEmptyAndUnsafe(t *testing.T) {
	_, err := NewVolumeName("")
	require.Error(t, err)

	_, err = NewVolumeName("a/b")
	require.Error(t, err)

	n, err := NewVolumeName("my-volume")
	require.NoError(t, err)
	require.Equal(t, "my-volume", n.String())
}

func TestNewMountIdRejectsEmpty(t *testing.T) {
	_, err := NewMountId("")
	require.Error(t, err)

	m, err := NewMountId("container-123")
	require.NoError(t, err)
	require.Equal(t, "container-123", m.String())
}

func TestParentDir(t *testing.T) {
	require.Equal(t, "/var/lib", parentDir("/var/lib/locket"))
	require.Equal(t, "/", parentDir("/locket"))
	require.Equal(t, "/", parentDir("locket"))
}
