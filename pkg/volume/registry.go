package volume

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bpbradley/locket/pkg/atomicfile"
	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/manager"
	"github.com/bpbradley/locket/pkg/metrics"
	"github.com/bpbradley/locket/pkg/pathutil"
	"github.com/bpbradley/locket/pkg/provider"
	"github.com/bpbradley/locket/pkg/registry"
	"github.com/bpbradley/locket/pkg/secret"
	"github.com/bpbradley/locket/pkg/watch"
)

// VolumeInfo is the Docker-facing view of a volume (spec.md §6, "Get"/"List").
type VolumeInfo struct {
	Name       string
	Mountpoint string
	CreatedAt  string
	Status     map[string]string
}

// VolumeDriver is the Docker volume-driver contract a DockerPluginService
// dispatches to, grounded on original_source/src/volume/driver.rs.
type VolumeDriver interface {
	Create(ctx context.Context, name VolumeName, opts map[string]string) error
	Remove(ctx context.Context, name VolumeName) error
	Mount(ctx context.Context, name VolumeName, id MountId) (string, error)
	Unmount(ctx context.Context, name VolumeName, id MountId) error
	Path(ctx context.Context, name VolumeName) (string, error)
	Get(ctx context.Context, name VolumeName) (*VolumeInfo, error)
	List(ctx context.Context) ([]VolumeInfo, error)
}

// volumeMetadata is the on-disk persisted form of a volume, grounded on
// original_source/src/volume/registry.rs's VolumeMetadata.
type volumeMetadata struct {
	Name      VolumeName        `json:"name"`
	Options   map[string]string `json:"options"`
	CreatedAt time.Time         `json:"created_at"`
}

// activeVolume is the in-memory-only mount state of a volume, never
// persisted: mount_ids and the background watcher's lifecycle.
type activeVolume struct {
	mountIDs map[MountId]struct{}
	tmpfs    *VolumeMount
	cancel   context.CancelFunc
	done     chan struct{}
}

type volumeEntry struct {
	meta  volumeMetadata
	spec  VolumeSpec
	state activeVolume
}

func (e *volumeEntry) mountpoint(runtimeDir string) string {
	return filepath.Join(runtimeDir, e.meta.Name.String())
}

func (e *volumeEntry) toInfo(runtimeDir string) VolumeInfo {
	status := map[string]string{"Mounts": fmt.Sprintf("%d", len(e.state.mountIDs))}
	for k, v := range e.meta.Options {
		status["Option."+k] = v
	}
	return VolumeInfo{
		Name:       e.meta.Name.String(),
		Mountpoint: e.mountpoint(runtimeDir),
		CreatedAt:  e.meta.CreatedAt.Format(time.RFC3339),
		Status:     status,
	}
}

// VolumeRegistry implements VolumeDriver: it tracks every declared volume,
// persists metadata to state.json, and provisions secrets into a volume's
// tmpfs mountpoint via pkg/manager on first mount, tearing the provisioning
// down once the last mount is released. Grounded on
// original_source/src/volume/registry.rs.
type VolumeRegistry struct {
	stateFile  string
	runtimeDir string
	defaults   VolumeSpec
	prov       provider.Provider
	log        *zap.Logger

	mu      sync.Mutex
	entries map[VolumeName]*volumeEntry
}

// NewVolumeRegistry builds a VolumeRegistry rooted at runtimeDir (where
// tmpfs mountpoints are created) persisting to stateDir/state.json, loading
// any previously declared volumes.
func NewVolumeRegistry(stateDir, runtimeDir string, defaults VolumeSpec, prov provider.Provider, log *zap.Logger) (*VolumeRegistry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		log.Warn("failed to create runtime dir", zap.String("dir", runtimeDir), zap.Error(err))
	}

	r := &VolumeRegistry{
		stateFile:  filepath.Join(stateDir, "state.json"),
		runtimeDir: runtimeDir,
		defaults:   defaults,
		prov:       prov,
		log:        log,
		entries:    make(map[VolumeName]*volumeEntry),
	}
	r.load()
	return r, nil
}

func (r *VolumeRegistry) load() {
	data, err := os.ReadFile(r.stateFile)
	if err != nil {
		return
	}
	var list []volumeMetadata
	if err := json.Unmarshal(data, &list); err != nil {
		r.log.Warn("state file corruption", zap.Error(err))
		return
	}
	for _, meta := range list {
		spec, err := ParseVolumeSpec(r.defaults, meta.Options)
		if err != nil {
			r.log.Error("failed to parse options for volume", zap.String("volume", meta.Name.String()), zap.Error(err))
			continue
		}
		r.entries[meta.Name] = &volumeEntry{
			meta:  meta,
			spec:  spec,
			state: activeVolume{mountIDs: make(map[MountId]struct{})},
		}
	}
	r.log.Info("loaded volumes from state", zap.Int("count", len(r.entries)))
}

func (r *VolumeRegistry) persistLocked() error {
	list := make([]volumeMetadata, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e.meta)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return errs.NewPlugin(errs.PluginJSON, err)
	}
	if err := os.MkdirAll(filepath.Dir(r.stateFile), 0o755); err != nil {
		return errs.NewPlugin(errs.PluginInternal, err)
	}
	return atomicfile.Write(r.stateFile, data, 0o600, 0o755)
}

// Create declares a new volume (idempotent on an existing name).
func (r *VolumeRegistry) Create(ctx context.Context, name VolumeName, opts map[string]string) error {
	spec, err := ParseVolumeSpec(r.defaults, opts)
	if err != nil {
		return errs.NewPlugin(errs.PluginValidation, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return nil
	}
	r.entries[name] = &volumeEntry{
		meta:  volumeMetadata{Name: name, Options: opts, CreatedAt: time.Now()},
		spec:  spec,
		state: activeVolume{mountIDs: make(map[MountId]struct{})},
	}
	metrics.ActiveVolumes.Set(float64(len(r.entries)))
	return r.persistLocked()
}

// Remove deletes a volume's declaration; it refuses while any container
// still holds a mount.
func (r *VolumeRegistry) Remove(ctx context.Context, name VolumeName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return errs.NewPlugin(errs.PluginNotFound, fmt.Errorf("volume %q not found", name))
	}
	if len(e.state.mountIDs) > 0 {
		return errs.NewPlugin(errs.PluginInUse, fmt.Errorf("volume %q is in use", name))
	}
	delete(r.entries, name)
	metrics.ActiveVolumes.Set(float64(len(r.entries)))
	return r.persistLocked()
}

// Mount registers id against name, provisioning the tmpfs mount and its
// secrets on the first claim (spec.md §4.K: reference-counted provisioning).
func (r *VolumeRegistry) Mount(ctx context.Context, name VolumeName, id MountId) (string, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return "", errs.NewPlugin(errs.PluginNotFound, fmt.Errorf("volume %q not found", name))
	}
	mountpoint := e.mountpoint(r.runtimeDir)
	firstMount := len(e.state.mountIDs) == 0
	e.state.mountIDs[id] = struct{}{}
	metrics.MountRefCount.WithLabelValues(name.String()).Set(float64(len(e.state.mountIDs)))
	r.mu.Unlock()

	if !firstMount {
		return mountpoint, nil
	}

	r.log.Info("provisioning secrets for first mount", zap.String("volume", name.String()))
	if err := r.provision(ctx, e, mountpoint); err != nil {
		r.mu.Lock()
		delete(e.state.mountIDs, id)
		tmpfs := e.state.tmpfs
		e.state.tmpfs = nil
		metrics.MountRefCount.WithLabelValues(name.String()).Set(float64(len(e.state.mountIDs)))
		r.mu.Unlock()
		if tmpfs != nil {
			if uerr := tmpfs.Unmount(); uerr != nil {
				r.log.Warn("failed to unwind tmpfs after provisioning error", zap.String("volume", name.String()), zap.Error(uerr))
			}
		} else {
			_ = os.RemoveAll(mountpoint)
		}
		return "", err
	}
	return mountpoint, nil
}

// provision mounts a fresh tmpfs at mountpoint and injects e's secrets into
// it. A failure after the tmpfs is mounted unwinds it before returning, so
// the caller never observes a dangling mount on error.
func (r *VolumeRegistry) provision(ctx context.Context, e *volumeEntry, mountpoint string) (err error) {
	tmpfs := NewVolumeMount(mountpoint, e.spec.Mount)
	if err := tmpfs.Mount(); err != nil {
		return err
	}
	r.mu.Lock()
	e.state.tmpfs = tmpfs
	r.mu.Unlock()
	defer func() {
		if err != nil {
			if uerr := tmpfs.Unmount(); uerr != nil {
				r.log.Warn("failed to unwind tmpfs after provisioning error", zap.String("volume", e.meta.Name.String()), zap.Error(uerr))
			}
		}
	}()

	out, aerr := pathutil.Absolute(mountpoint)
	if aerr != nil {
		return errs.NewPlugin(errs.PluginInternal, aerr)
	}

	files := make([]secret.File, 0, len(e.spec.Secrets))
	for _, s := range e.spec.Secrets {
		files = append(files, secret.File{Source: s.Source, Dest: secret.DestFor(s, out), MaxSize: e.spec.MaxFileSize})
	}

	reg, rerr := registry.New(nil, nil, e.spec.MaxFileSize)
	if rerr != nil {
		return errs.NewPlugin(errs.PluginInternal, rerr)
	}
	mgr := manager.New(reg, files, manager.WithPolicy(e.spec.Policy), manager.WithLogger(r.log))

	if ierr := mgr.InjectAll(ctx, r.prov); ierr != nil {
		return errs.NewPlugin(errs.PluginLocket, ierr)
	}

	if e.spec.Watch {
		watchCtx, cancel := context.WithCancel(context.Background())
		paths := make([]string, 0, len(files))
		for _, f := range files {
			if f.Source.IsFile() {
				paths = append(paths, f.Source.Path().String())
			}
		}
		adapter := manager.NewWatchAdapter(mgr, r.prov, paths)
		watcher := watch.New(adapter, watch.WithLogger(r.log))
		done := make(chan struct{})

		r.mu.Lock()
		e.state.cancel = cancel
		e.state.done = done
		r.mu.Unlock()

		go func() {
			defer close(done)
			if err := watcher.Run(watchCtx); err != nil {
				r.log.Error("volume watcher failed", zap.String("volume", e.meta.Name.String()), zap.Error(err))
			}
		}()
	}
	return nil
}

// Unmount releases id's claim on name, tearing down the volume's
// provisioned secrets and watcher once the last claim is released.
func (r *VolumeRegistry) Unmount(ctx context.Context, name VolumeName, id MountId) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return errs.NewPlugin(errs.PluginNotFound, fmt.Errorf("volume %q not found", name))
	}
	delete(e.state.mountIDs, id)
	cleanupNeeded := len(e.state.mountIDs) == 0
	metrics.MountRefCount.WithLabelValues(name.String()).Set(float64(len(e.state.mountIDs)))
	cancel, done := e.state.cancel, e.state.done
	tmpfs := e.state.tmpfs
	if cleanupNeeded {
		e.state.cancel, e.state.done, e.state.tmpfs = nil, nil, nil
	}
	r.mu.Unlock()

	if !cleanupNeeded {
		return nil
	}

	r.log.Info("volume unmounted by all containers, tearing down", zap.String("volume", name.String()))
	if cancel != nil {
		cancel()
		<-done
	}
	if tmpfs != nil {
		if err := tmpfs.Unmount(); err != nil {
			return err
		}
		return nil
	}
	mountpoint := filepath.Join(r.runtimeDir, name.String())
	if _, err := os.Stat(mountpoint); err == nil {
		_ = os.RemoveAll(mountpoint)
	}
	return nil
}

// Path returns a volume's mountpoint without mounting it.
func (r *VolumeRegistry) Path(ctx context.Context, name VolumeName) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return "", errs.NewPlugin(errs.PluginNotFound, fmt.Errorf("volume %q not found", name))
	}
	return e.mountpoint(r.runtimeDir), nil
}

// Get returns one volume's info, or nil if it doesn't exist.
func (r *VolumeRegistry) Get(ctx context.Context, name VolumeName) (*VolumeInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, nil
	}
	info := e.toInfo(r.runtimeDir)
	return &info, nil
}

// List returns every declared volume.
func (r *VolumeRegistry) List(ctx context.Context) ([]VolumeInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]VolumeInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.toInfo(r.runtimeDir))
	}
	return out, nil
}
