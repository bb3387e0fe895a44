package registry

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/bpbradley/locket/pkg/pathutil"
	"github.com/bpbradley/locket/pkg/secret"
)

// TryRebase attempts an optimistic, all-or-nothing rename of the subtree
// rooted at from to to (spec.md §4.F). It succeeds iff:
//
//  1. from lies under some mapping's src, and to lies under the *same*
//     mapping's src;
//  2. every entry in from's subtree is Kind Mapped under that mapping, with
//     no pinned entries mixed in;
//  3. every such entry's current destination agrees with the linear
//     projection under that mapping (no drift from manual edits).
//
// On success it mutates every affected key from from/rel to to/rel,
// updates destinations, and returns the old and new destination roots. Any
// other condition leaves state unchanged and returns ok=false; the caller
// must fall back to Remove(from) + re-scan(to).
func (r *Registry) TryRebase(from, to pathutil.CanonicalPath) (oldRoot, newRoot pathutil.AbsolutePath, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mappingIdx := longestPrefix(r.mappings, from)
	if mappingIdx < 0 {
		return pathutil.AbsolutePath{}, pathutil.AbsolutePath{}, false
	}
	m := r.mappings[mappingIdx]
	if !to.HasPrefixDir(m.Src) {
		return pathutil.AbsolutePath{}, pathutil.AbsolutePath{}, false
	}

	prefix := from.String()
	start, end := r.subtreeBounds(prefix)

	oldRoot = m.Dst.Join(from.RelativeTo(m.Src))
	newRoot = m.Dst.Join(to.RelativeTo(m.Src))

	if start == end {
		// Nothing tracked under from yet: still a valid rebase of an (as
		// far as the registry knows) empty directory.
		return oldRoot, newRoot, true
	}

	type planned struct {
		oldKey  string
		newKey  string
		newSrc  pathutil.CanonicalPath
		newDest pathutil.AbsolutePath
	}
	plan := make([]planned, 0, end-start)

	for _, key := range r.keys[start:end] {
		entry := r.entries[key]
		if entry.Kind != KindMapped || entry.MappingIndex != mappingIdx {
			return pathutil.AbsolutePath{}, pathutil.AbsolutePath{}, false
		}

		expectedDest := m.Dst.Join(entry.File.Source.Path().RelativeTo(m.Src))
		if expectedDest.String() != entry.File.Dest.String() {
			return pathutil.AbsolutePath{}, pathutil.AbsolutePath{}, false // drift
		}

		rel := strings.TrimPrefix(key, prefix)
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
		newKey := to.String()
		if rel != "" {
			newKey = filepath.Join(to.String(), rel)
		}
		newSrc := pathutil.UnsafeCanonical(newKey)
		newDest := m.Dst.Join(newSrc.RelativeTo(m.Src))

		plan = append(plan, planned{oldKey: key, newKey: newKey, newSrc: newSrc, newDest: newDest})
	}

	// Every entry validated: apply.
	for _, p := range plan {
		old := r.entries[p.oldKey]
		delete(r.entries, p.oldKey)
		old.File.Source = secret.FileSource(p.newSrc)
		old.File.Dest = p.newDest
		r.entries[p.newKey] = old
	}

	newKeys := make([]string, 0, len(r.keys))
	newKeys = append(newKeys, r.keys[:start]...)
	for _, p := range plan {
		newKeys = append(newKeys, p.newKey)
	}
	newKeys = append(newKeys, r.keys[end:]...)
	sort.Strings(newKeys)
	r.keys = newKeys

	return oldRoot, newRoot, true
}

func (r *Registry) subtreeBounds(prefix string) (start, end int) {
	start = sort.SearchStrings(r.keys, prefix)
	end = start
	for end < len(r.keys) && withinSubtree(r.keys[end], prefix) {
		end++
	}
	return start, end
}
