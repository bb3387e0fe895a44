// Package registry implements the secret file registry (spec.md §4.F):
// mapping every observed source path to a SecretFile under the longest
// matching prefix, with pinned entries, atomic directory-rename rebasing,
// and prefix-safe removal. Grounded on
// original_source/src/secrets/registry.rs.
package registry

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/pathutil"
	"github.com/bpbradley/locket/pkg/secret"
)

type entryKind int

const (
	KindMapped entryKind = iota
	KindPinned
)

// Entry pairs a materialized SecretFile with how it entered the registry.
type Entry struct {
	File         secret.File
	Kind         entryKind
	MappingIndex int // valid when Kind == KindMapped
}

// Registry holds every observed source path, ordered by canonical path
// string so prefix (subtree) queries run in O(log n + k) via binary search
// plus a linear scan of the matching run.
type Registry struct {
	mu          sync.Mutex
	mappings    []Mapping
	pinned      map[string]secret.File
	keys        []string // sorted canonical-path strings, parallel to entries
	entries     map[string]Entry
	maxFileSize int64
}

// New constructs a Registry from the given mappings and pinned secrets and
// immediately scans: every mapping root is walked and every regular file
// upserted, then every existing pinned path is upserted.
func New(mappings []Mapping, pinned []secret.File, maxFileSize int64) (*Registry, error) {
	r := &Registry{
		mappings:    mappings,
		pinned:      make(map[string]secret.File, len(pinned)),
		entries:     make(map[string]Entry),
		maxFileSize: maxFileSize,
	}
	for _, p := range pinned {
		r.pinned[p.Source.Path().String()] = p
	}

	for _, m := range mappings {
		_ = filepath.WalkDir(m.Src.String(), func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			canon, cerr := pathutil.Canon(path)
			if cerr != nil {
				return nil
			}
			r.upsertLocked(canon)
			return nil
		})
	}
	for p := range r.pinned {
		r.upsertLocked(pathutil.UnsafeCanonical(p))
	}
	return r, nil
}

// Resolve chooses the mapping with the longest src-prefix of src and
// returns mapping.dst joined with the remainder (spec.md P4). A pinned path
// resolves to its own fixed destination.
func (r *Registry) Resolve(src pathutil.CanonicalPath) (pathutil.AbsolutePath, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(src)
}

func (r *Registry) resolveLocked(src pathutil.CanonicalPath) (pathutil.AbsolutePath, bool) {
	if p, ok := r.pinned[src.String()]; ok {
		return p.Dest, true
	}
	idx := longestPrefix(r.mappings, src)
	if idx < 0 {
		return pathutil.AbsolutePath{}, false
	}
	m := r.mappings[idx]
	rel := src.RelativeTo(m.Src)
	return m.Dst.Join(rel), true
}

// Upsert creates or returns the existing SecretFile for src. Pinned paths
// take precedence over mappings. A missing source file degrades to
// (zero, false), not an error. Re-upserting an already-present path returns
// the existing entry unchanged (idempotent).
func (r *Registry) Upsert(src pathutil.CanonicalPath) (secret.File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.upsertLocked(src)
	if !ok {
		return secret.File{}, false
	}
	return e.File, true
}

func (r *Registry) upsertLocked(src pathutil.CanonicalPath) (Entry, bool) {
	if existing, ok := r.entries[src.String()]; ok {
		return existing, true
	}
	if _, err := os.Stat(src.String()); os.IsNotExist(err) {
		return Entry{}, false
	}

	if pinnedFile, ok := r.pinned[src.String()]; ok {
		entry := Entry{File: pinnedFile, Kind: KindPinned}
		r.insertLocked(src.String(), entry)
		return entry, true
	}

	idx := longestPrefix(r.mappings, src)
	if idx < 0 {
		return Entry{}, false
	}
	m := r.mappings[idx]
	rel := src.RelativeTo(m.Src)
	dest := m.Dst.Join(rel)
	entry := Entry{
		File:         secret.File{Source: secret.FileSource(src), Dest: dest, MaxSize: r.maxFileSize},
		Kind:         KindMapped,
		MappingIndex: idx,
	}
	r.insertLocked(src.String(), entry)
	return entry, true
}

func (r *Registry) insertLocked(key string, e Entry) {
	i := sort.SearchStrings(r.keys, key)
	if i < len(r.keys) && r.keys[i] == key {
		r.entries[key] = e
		return
	}
	r.keys = append(r.keys, "")
	copy(r.keys[i+1:], r.keys[i:])
	r.keys[i] = key
	r.entries[key] = e
}

// MappingDest returns the destination root of the mapping owning src: the
// ceiling below which empty destination directories may be cleaned up after
// a remove or move. Pinned paths and paths outside every mapping have no
// owning mapping and report false.
func (r *Registry) MappingDest(src pathutil.CanonicalPath) (pathutil.AbsolutePath, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pinned[src.String()]; ok {
		return pathutil.AbsolutePath{}, false
	}
	idx := longestPrefix(r.mappings, src)
	if idx < 0 {
		return pathutil.AbsolutePath{}, false
	}
	return r.mappings[idx].Dst, true
}

// Remove deletes every entry whose key starts with src (a subtree removal)
// and returns the removed entries so the caller can delete destinations
// (spec.md P5).
func (r *Registry) Remove(src pathutil.CanonicalPath) []secret.File {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(src)
}

func (r *Registry) removeLocked(src pathutil.CanonicalPath) []secret.File {
	prefix := src.String()
	start := sort.SearchStrings(r.keys, prefix)

	end := start
	for end < len(r.keys) && withinSubtree(r.keys[end], prefix) {
		end++
	}
	if end == start {
		return nil
	}

	removed := make([]secret.File, 0, end-start)
	for _, k := range r.keys[start:end] {
		removed = append(removed, r.entries[k].File)
		delete(r.entries, k)
		delete(r.pinned, k)
	}
	r.keys = append(r.keys[:start], r.keys[end:]...)
	return removed
}

// withinSubtree reports whether key equals prefix or lies under it as a
// directory child (string-prefix match alone would wrongly match siblings
// like "/foo2" under "/foo").
func withinSubtree(key, prefix string) bool {
	if key == prefix {
		return true
	}
	if len(key) <= len(prefix) {
		return false
	}
	return key[:len(prefix)] == prefix && key[len(prefix)] == filepath.Separator
}

// Files returns every managed entry in key order, for inject_all.
func (r *Registry) Files() []secret.File {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]secret.File, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.entries[k].File)
	}
	return out
}

// WatchRoots returns every mapping source root and pinned path, the set of
// filesystem locations a watcher must observe to see every event this
// registry cares about (spec.md §4.I: "it resolves the handler's watched
// paths").
func (r *Registry) WatchRoots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.mappings)+len(r.pinned))
	for _, m := range r.mappings {
		out = append(out, m.Src.String())
	}
	for p := range r.pinned {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Collisions checks every (dst, label) pair — registry entries plus any
// extra (e.g. literal-value) files passed in — for duplicate or
// parent/child destinations (spec.md §4.F, scenario 3).
func (r *Registry) Collisions(extra ...secret.File) error {
	all := append(r.Files(), extra...)

	sort.Slice(all, func(i, j int) bool { return all[i].Dest.String() < all[j].Dest.String() })

	for i := 1; i < len(all); i++ {
		curr, next := all[i-1], all[i]
		if curr.Dest.String() == next.Dest.String() {
			return errs.NewCollision(label(curr), label(next), curr.Dest.String())
		}
		if next.Dest.HasPrefixDir(curr.Dest) {
			return errs.NewStructureConflict(curr.Dest.String(), next.Dest.String())
		}
	}
	return nil
}

func label(f secret.File) string {
	if f.Source.IsFile() {
		return f.Source.Path().String()
	}
	return f.Source.Label()
}
