package volume

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpbradley/locket/pkg/manager"
)

func TestParseVolumeSpecLayersOverDefaults(t *testing.T) {
	defaults := VolumeSpec{
		Watch:       true,
		Policy:      manager.PolicyCopyUnmodified,
		MaxFileSize: 1 << 20,
		Mount:       DefaultMountConfig,
	}

	spec, err := ParseVolumeSpec(defaults, map[string]string{
		"policy": "error",
	})
	require.NoError(t, err)
	require.Equal(t, manager.PolicyError, spec.Policy)
	require.True(t, spec.Watch, "watch should be inherited from defaults when not overridden")
	require.Equal(t, int64(1<<20), spec.MaxFileSize)
}

func TestParseVolumeSpecParsesNamedSecrets(t *testing.T) {
	spec, err := ParseVolumeSpec(DefaultVolumeSpec(), map[string]string{
		"secret.DB_PASSWORD": "{{op://vault/item/password}}",
	})
	require.NoError(t, err)
	require.Len(t, spec.Secrets, 1)
	require.Equal(t, "DB_PASSWORD", spec.Secrets[0].Key)
}

func TestParseVolumeSpecOverridesMountAndWatch(t *testing.T) {
	spec, err := ParseVolumeSpec(DefaultVolumeSpec(), map[string]string{
		"watch":         "true",
		"max-file-size": "2048",
		"mount-size":    "4096",
		"mount-mode":    "700",
	})
	require.NoError(t, err)
	require.True(t, spec.Watch)
	require.Equal(t, int64(2048), spec.MaxFileSize)
	require.Equal(t, int64(4096), spec.Mount.SizeBytes)
	require.Equal(t, uint32(0o700), uint32(spec.Mount.Mode))
}

func TestParseVolumeSpecRejectsInvalidOptions(t *testing.T) {
	cases := map[string]string{
		"watch":         "not-a-bool",
		"policy":        "bogus",
		"max-file-size": "not-an-int",
		"mount-size":    "not-an-int",
		"mount-mode":    "not-octal",
	}
	for key, val := range cases {
		_, err := ParseVolumeSpec(DefaultVolumeSpec(), map[string]string{key: val})
		require.Errorf(t, err, "option %s=%s should have failed to parse", key, val)
	}
}
