// Package manager implements the secret file manager (spec.md §4.H): the
// read → extract-tags → fetch → render → atomic_write injection pipeline,
// its failure policy, and the incremental handler that turns a coalesced
// filesystem event into registry and filesystem mutations. Grounded on
// original_source/src/secrets/manager.rs, with the fetch/policy shape
// carried over from the teacher's (now-retired) pkg/sidecar/agent.go.
package manager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bpbradley/locket/pkg/atomicfile"
	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/metrics"
	"github.com/bpbradley/locket/pkg/pathutil"
	"github.com/bpbradley/locket/pkg/provider"
	"github.com/bpbradley/locket/pkg/reference"
	"github.com/bpbradley/locket/pkg/registry"
	"github.com/bpbradley/locket/pkg/secret"
	"github.com/bpbradley/locket/pkg/template"
)

// Policy controls what happens when injecting a single file fails
// (spec.md §4.H).
type Policy int

const (
	// PolicyError propagates the failure to the caller.
	PolicyError Policy = iota
	// PolicyCopyUnmodified writes the raw, un-rendered content verbatim and
	// logs a warning.
	PolicyCopyUnmodified
	// PolicyIgnore logs a warning and reports success.
	PolicyIgnore
)

// Manager implements SecretFileManager: it owns a Registry of file-backed
// secrets plus a set of in-memory literal values, and materializes both
// through a shared provider.
type Manager struct {
	reg      *registry.Registry
	values   map[string]secret.File
	policy   Policy
	fileMode os.FileMode
	dirMode  os.FileMode
	log      *zap.Logger
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithPolicy overrides the default PolicyCopyUnmodified.
func WithPolicy(p Policy) Option { return func(m *Manager) { m.policy = p } }

// WithLogger attaches a logger; the default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithFileMode overrides the mode atomic_write uses for materialized files.
func WithFileMode(mode os.FileMode) Option { return func(m *Manager) { m.fileMode = mode } }

// WithDirMode overrides the mode atomic_write uses for created parent dirs.
func WithDirMode(mode os.FileMode) Option { return func(m *Manager) { m.dirMode = mode } }

// New builds a Manager over reg and an optional set of literal secret.File
// values (already carrying their sanitized destination, per spec.md §3).
func New(reg *registry.Registry, values []secret.File, opts ...Option) *Manager {
	m := &Manager{
		reg:      reg,
		values:   make(map[string]secret.File, len(values)),
		policy:   PolicyCopyUnmodified,
		fileMode: atomicfile.DefaultFileMode,
		dirMode:  atomicfile.DefaultDirMode,
		log:      zap.NewNop(),
	}
	for _, v := range values {
		m.values[v.Source.Label()] = v
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Collisions checks every registry entry plus every literal value for a
// duplicate or parent/child destination (spec.md §4.F scenario 3).
func (m *Manager) Collisions() error {
	extra := make([]secret.File, 0, len(m.values))
	for _, v := range m.values {
		extra = append(extra, v)
	}
	return m.reg.Collisions(extra...)
}

// InjectAll processes every registry entry and every literal value
// (spec.md §4.H: "for each registry entry (and each literal-value entry),
// call process(entry)").
func (m *Manager) InjectAll(ctx context.Context, p provider.Provider) error {
	for _, v := range m.values {
		if err := m.process(ctx, p, v); err != nil {
			return err
		}
	}
	files := m.reg.Files()
	for _, f := range files {
		if err := m.process(ctx, p, f); err != nil {
			return err
		}
	}
	metrics.FilesManaged.Set(float64(len(files) + len(m.values)))
	return nil
}

// process runs tryInject and, on error, dispatches to the configured
// failure policy.
func (m *Manager) process(ctx context.Context, p provider.Provider, f secret.File) error {
	start := time.Now()
	err := m.tryInject(ctx, p, f)
	metrics.RecordInjection(err == nil, time.Since(start).Seconds())
	if err != nil {
		return m.handlePolicy(f, err)
	}
	return nil
}

// tryInject is the read → extract-tags → fetch → render → atomic_write
// pipeline (spec.md §4.H step 1-6).
func (m *Manager) tryInject(ctx context.Context, p provider.Provider, f secret.File) error {
	content, ok, err := f.Source.Read(f.MaxSize)
	if err != nil {
		return err
	}
	if !ok {
		// Source vanished between upsert and processing; nothing to do.
		return nil
	}
	text := string(content)

	keys := template.Keys(text)
	hasTags := len(keys) > 0

	var candidates []string
	if hasTags {
		for k := range keys {
			candidates = append(candidates, k)
		}
	} else {
		candidates = []string{strings.TrimSpace(text)}
	}

	byKey := make(map[string]reference.Reference, len(candidates))
	for _, c := range candidates {
		ref, ok := p.Parse(c)
		if !ok {
			continue
		}
		byKey[c] = ref
	}

	if len(byKey) == 0 {
		m.log.Debug("no resolvable secrets found; passing through", zap.String("dst", f.Dest.String()))
		return atomicfile.Write(f.Dest.String(), content, m.fileMode, m.dirMode)
	}

	refs := make([]reference.Reference, 0, len(byKey))
	for _, r := range byKey {
		refs = append(refs, r)
	}

	m.log.Info("fetching secrets", zap.String("dst", f.Dest.String()), zap.Int("count", len(refs)))

	fetched, err := p.FetchMap(ctx, refs)
	if err != nil {
		return &errs.SecretError{Kind: errs.SecretProvider, Path: f.Dest.String(), Err: err}
	}

	var rendered string
	if hasTags {
		values := make(map[string]string, len(fetched))
		for k, ref := range byKey {
			if v, ok := fetched[ref]; ok {
				values[k] = string(v)
			}
		}
		rendered = template.Render(text, values)
	} else {
		trimmed := strings.TrimSpace(text)
		if ref, ok := byKey[trimmed]; ok {
			if v, ok := fetched[ref]; ok {
				rendered = string(v)
			} else {
				m.log.Warn("provider returned success but secret value was missing", zap.String("dst", f.Dest.String()))
				rendered = text
			}
		} else {
			rendered = text
		}
	}

	return atomicfile.Write(f.Dest.String(), []byte(rendered), m.fileMode, m.dirMode)
}

func (m *Manager) handlePolicy(f secret.File, err error) error {
	switch m.policy {
	case PolicyError:
		return err
	case PolicyCopyUnmodified:
		m.log.Warn("injection failed; policy=copy-unmodified, reverting to raw copy",
			zap.String("dst", f.Dest.String()), zap.Error(err))
		raw, ok, readErr := f.Source.Read(f.MaxSize)
		if readErr != nil || !ok || len(raw) == 0 {
			return nil
		}
		return atomicfile.Write(f.Dest.String(), raw, m.fileMode, m.dirMode)
	case PolicyIgnore:
		m.log.Warn("injection failed; ignoring", zap.String("dst", f.Dest.String()), zap.Error(err))
		return nil
	default:
		return err
	}
}

// HandleFsEvent dispatches one coalesced filesystem event to the registry
// and filesystem (spec.md §4.H).
func (m *Manager) HandleFsEvent(ctx context.Context, p provider.Provider, ev Event) error {
	switch ev.Kind {
	case EventWrite:
		return m.onWrite(ctx, p, ev.Src)
	case EventRemove:
		return m.onRemove(ev.Src)
	case EventMove:
		return m.onMove(ctx, p, ev.From, ev.To)
	default:
		return nil
	}
}

func (m *Manager) onWrite(ctx context.Context, p provider.Provider, src string) error {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.NewSecret(errs.SecretIo, src, err)
	}
	if info.IsDir() {
		m.log.Debug("directory write event; scanning for children", zap.String("src", src))
		entries, err := regularFilesUnder(src)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := m.onWrite(ctx, p, entry); err != nil {
				return err
			}
		}
		return nil
	}

	canon, err := pathutil.Canon(src)
	if err != nil {
		// Race: file vanished between the stat above and here; treat as a
		// no-op, consistent with the next event eventually settling state.
		return nil
	}
	f, ok := m.reg.Upsert(canon)
	if !ok {
		return nil
	}
	return m.process(ctx, p, f)
}

func regularFilesUnder(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, errs.NewSecret(errs.SecretIo, dir, err)
	}
	return out, nil
}

func (m *Manager) onRemove(src string) error {
	canon := pathutil.UnsafeCanonical(src)
	ceiling, hasCeiling := m.reg.MappingDest(canon)
	removed := m.reg.Remove(canon)
	if len(removed) == 0 {
		m.log.Debug("event: path removed but no secrets were tracked there", zap.String("src", src))
		return nil
	}

	parents := map[string]struct{}{}
	for _, f := range removed {
		dst := f.Dest.String()
		if _, err := os.Stat(dst); err == nil {
			if err := os.Remove(dst); err != nil {
				return errs.NewSecret(errs.SecretIo, dst, err)
			}
		}
		m.log.Debug("event: removed secret file", zap.String("dst", dst))
		parents[filepath.Dir(dst)] = struct{}{}
	}

	if hasCeiling {
		for dir := range parents {
			abs := pathutil.UnsafeCanonical(dir).AsAbsolute()
			if abs.HasPrefixDir(ceiling) && abs.String() != ceiling.String() {
				bubbleDelete(dir, ceiling.String())
			}
		}
	}
	return nil
}

// bubbleDelete removes start and then its successive empty parents, walking
// upward and stopping at the first non-empty directory or at ceiling, which
// is never removed (the owning mapping's destination root). Grounded on
// original_source/src/secrets/manager.rs's bubble_delete: a bottom-up sweep
// that does not attempt to also clear empty sibling directories (see that
// file's own TODO acknowledging the same limitation).
func bubbleDelete(start, ceiling string) {
	current := start
	for current != ceiling {
		rel, err := filepath.Rel(ceiling, current)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return
		}
		if err := os.Remove(current); err != nil {
			return
		}
		current = filepath.Dir(current)
	}
}

func (m *Manager) onMove(ctx context.Context, p provider.Provider, from, to string) error {
	fromCanon := pathutil.UnsafeCanonical(from)
	toCanon := pathutil.UnsafeCanonical(to)

	oldRoot, newRoot, ok := m.reg.TryRebase(fromCanon, toCanon)
	if ok {
		m.log.Debug("attempting rename", zap.String("from", oldRoot.String()), zap.String("to", newRoot.String()))

		err := os.MkdirAll(newRoot.Dir().String(), m.dirMode)
		if err == nil {
			err = os.Rename(oldRoot.String(), newRoot.String())
		}
		if err == nil {
			m.log.Debug("moved", zap.String("from", from), zap.String("to", to))
			if ceiling, hasCeiling := m.reg.MappingDest(toCanon); hasCeiling {
				parent := oldRoot.Dir()
				if parent.HasPrefixDir(ceiling) && parent.String() != ceiling.String() {
					bubbleDelete(parent.String(), ceiling.String())
				}
			}
			return nil
		}

		m.log.Warn("move failed; rolling back rebase and reinjecting", zap.Error(err))
		if _, _, undone := m.reg.TryRebase(toCanon, fromCanon); !undone {
			m.reg.Remove(toCanon)
		}
	}

	m.log.Debug("fallback move via remove + write", zap.String("from", from), zap.String("to", to))
	if err := m.onRemove(from); err != nil {
		return err
	}
	return m.onWrite(ctx, p, to)
}

// Event is the manager-facing form of a coalesced filesystem event
// (spec.md §4.I FsEvent, consumed via §4.H's handle_fs_event).
type Event struct {
	Kind EventKind
	Src  string // Write, Remove
	From string // Move
	To   string // Move
}

type EventKind int

const (
	EventWrite EventKind = iota
	EventRemove
	EventMove
)
