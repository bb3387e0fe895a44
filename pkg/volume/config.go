package volume

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bpbradley/locket/pkg/manager"
	"github.com/bpbradley/locket/pkg/secret"
)

// VolumeSpec is the resolved configuration for one Docker volume: which
// secrets to materialize, whether to keep them live-updated, and the
// tmpfs/injection parameters, grounded on
// original_source/src/volume/config.rs's VolumeSpec/VolumeArgs.
type VolumeSpec struct {
	Secrets     []secret.Secret
	Watch       bool
	Policy      manager.Policy
	MaxFileSize int64
	Mount       MountConfig
}

// DefaultVolumeSpec mirrors VolumeArgs' defaults: passthrough-on-failure,
// no watching, a 10MB secret size ceiling.
func DefaultVolumeSpec() VolumeSpec {
	return VolumeSpec{
		Policy:      manager.PolicyCopyUnmodified,
		MaxFileSize: 10 << 20,
		Mount:       DefaultMountConfig,
	}
}

// ParseVolumeSpec builds a VolumeSpec from Docker's driver_opts map, layered
// over defaults (typically the plugin's own CLI/config-level volume
// defaults, spec.md §6 "volume ... <volume defaults>"): "secret" (repeatable
// via "secret.<name>=...") entries become secret.Secret values; "watch",
// "policy", "max-file-size", "mount-size", and "mount-mode" override
// defaults, matching original_source/src/volume/config.rs's
// TryFrom<HashMap<String,String>> for VolumeArgs.
func ParseVolumeSpec(defaults VolumeSpec, opts map[string]string) (VolumeSpec, error) {
	spec := defaults

	for k, v := range opts {
		switch {
		case k == "secret" || strings.HasPrefix(k, "secret."):
			arg := v
			if name, ok := strings.CutPrefix(k, "secret."); ok {
				arg = name + "=" + v
			}
			s, err := secret.ParseSecretArg(arg)
			if err != nil {
				return VolumeSpec{}, err
			}
			spec.Secrets = append(spec.Secrets, s)
		case k == "watch":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return VolumeSpec{}, fmt.Errorf("invalid watch option %q: %w", v, err)
			}
			spec.Watch = b
		case k == "policy":
			switch v {
			case "error":
				spec.Policy = manager.PolicyError
			case "copy-unmodified", "passthrough":
				spec.Policy = manager.PolicyCopyUnmodified
			case "ignore":
				spec.Policy = manager.PolicyIgnore
			default:
				return VolumeSpec{}, fmt.Errorf("unknown policy option %q", v)
			}
		case k == "max-file-size":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return VolumeSpec{}, fmt.Errorf("invalid max-file-size option %q: %w", v, err)
			}
			spec.MaxFileSize = n
		case k == "mount-size":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return VolumeSpec{}, fmt.Errorf("invalid mount-size option %q: %w", v, err)
			}
			spec.Mount.SizeBytes = n
		case k == "mount-mode":
			n, err := strconv.ParseUint(v, 8, 32)
			if err != nil {
				return VolumeSpec{}, fmt.Errorf("invalid mount-mode option %q: %w", v, err)
			}
			spec.Mount.Mode = os.FileMode(n)
		}
	}
	return spec, nil
}
