// Package volume implements the Docker volume plugin (spec.md §4.K, §6):
// validated VolumeName/MountId identifiers, a tmpfs-backed VolumeMount, a
// reference-counted VolumeRegistry that provisions secrets into each volume
// on first mount via pkg/manager and pkg/watch, and the Unix-socket
// Docker volume-driver HTTP protocol. Grounded on
// original_source/src/volume/{types,config,registry,api,service}.rs.
package volume

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"syscall"

	"github.com/bpbradley/locket/pkg/errs"
)

// VolumeName validates a Docker volume name: non-empty, no slashes, no NUL
// bytes (original_source/src/volume/types.rs VolumeName::validate).
type VolumeName string

var unsafeNameChars = regexp.MustCompile(`[/\x00]`)

// NewVolumeName validates and wraps s.
func NewVolumeName(s string) (VolumeName, error) {
	if s == "" {
		return "", errs.NewPlugin(errs.PluginValidation, fmt.Errorf("volume name cannot be empty"))
	}
	if unsafeNameChars.MatchString(s) {
		return "", errs.NewPlugin(errs.PluginValidation, fmt.Errorf("volume name cannot contain slashes or null bytes: %q", s))
	}
	return VolumeName(s), nil
}

func (n VolumeName) String() string { return string(n) }

// MountId identifies one container's claim on a volume; a volume may be
// mounted by more than one container at once, hence the reference count
// keyed by this type in VolumeRegistry.
type MountId string

// NewMountId validates and wraps s.
func NewMountId(s string) (MountId, error) {
	if s == "" {
		return "", errs.NewPlugin(errs.PluginValidation, fmt.Errorf("mount id cannot be empty"))
	}
	return MountId(s), nil
}

func (m MountId) String() string { return string(m) }

// MountConfig parameterizes the tmpfs backing a volume.
type MountConfig struct {
	SizeBytes int64
	Mode      os.FileMode
}

// DefaultMountConfig matches original_source/src/volume/config.rs's
// MountConfig::default (10MB, 0700).
var DefaultMountConfig = MountConfig{SizeBytes: 10 << 20, Mode: 0o700}

// VolumeMount manages one tmpfs mount at target: mount, unmount, and
// is_mounted, grounded on original_source/src/volume/types.rs's VolumeMount.
// Go's standard library exposes the mount(2)/umount2(2) syscalls directly on
// Linux (syscall.Mount/syscall.Unmount); no pack repo wraps them, and a
// Docker volume plugin only ever runs on a Linux host, so stdlib is the
// grounded and sufficient choice here.
type VolumeMount struct {
	target string
	cfg    MountConfig
}

// NewVolumeMount builds a VolumeMount over target with cfg.
func NewVolumeMount(target string, cfg MountConfig) *VolumeMount {
	return &VolumeMount{target: target, cfg: cfg}
}

// Path returns the mount's target directory.
func (m *VolumeMount) Path() string { return m.target }

// Mount creates target if missing and mounts a tmpfs over it.
func (m *VolumeMount) Mount() error {
	if _, err := os.Stat(m.target); os.IsNotExist(err) {
		if err := os.MkdirAll(m.target, 0o755); err != nil {
			return errs.NewPlugin(errs.PluginInternal, fmt.Errorf("creating mount target: %w", err))
		}
	}

	data := fmt.Sprintf("size=%d,mode=%o", m.cfg.SizeBytes, m.cfg.Mode)
	if err := syscall.Mount("tmpfs", m.target, "tmpfs", 0, data); err != nil {
		return errs.NewPlugin(errs.PluginInternal, fmt.Errorf("mount failed: %w", err))
	}
	return nil
}

// Unmount repeatedly unmounts target until no tmpfs layer remains, mirroring
// the original's "successively unwound" loop for a target that was somehow
// mounted more than once, then removes the now-empty directory.
func (m *VolumeMount) Unmount() error {
	for {
		err := syscall.Unmount(m.target, 0)
		if err == nil {
			continue
		}
		if err == syscall.EINVAL {
			break
		}
		return errs.NewPlugin(errs.PluginInternal, fmt.Errorf("unmount failed: %w", err))
	}

	if _, err := os.Stat(m.target); err == nil {
		if err := os.Remove(m.target); err != nil {
			return errs.NewPlugin(errs.PluginInternal, fmt.Errorf("removing mount target: %w", err))
		}
	}
	return nil
}

// IsMounted reports whether target's device id differs from its parent's,
// the same heuristic the original uses (won't detect bind mounts).
func (m *VolumeMount) IsMounted() bool {
	self, err := os.Stat(m.target)
	if err != nil {
		return false
	}
	parent, err := os.Stat(parentDir(m.target))
	if err != nil {
		return false
	}
	selfStat, ok1 := self.Sys().(*syscall.Stat_t)
	parentStat, ok2 := parent.Sys().(*syscall.Stat_t)
	if !ok1 || !ok2 {
		return false
	}
	return selfStat.Dev != parentStat.Dev
}

func parentDir(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/"
	}
	return p[:i]
}
