package registry

import (
	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/pathutil"
)

// Mapping is an ordered pair (src, dst): files under src project onto dst
// (spec.md §3, §4.F). src must exist and be canonicalized at construction.
type Mapping struct {
	Src pathutil.CanonicalPath
	Dst pathutil.AbsolutePath
}

// NewMapping canonicalizes src and builds a Mapping.
func NewMapping(src, dst string) (Mapping, error) {
	canonSrc, err := pathutil.Canon(src)
	if err != nil {
		return Mapping{}, err
	}
	absDst, err := pathutil.Absolute(dst)
	if err != nil {
		return Mapping{}, err
	}
	return Mapping{Src: canonSrc, Dst: absDst}, nil
}

// ValidateMappings enforces spec.md §4.F's structural validation: for every
// mapping pair (and against outRoot, which stands in for the common root
// literal secrets and pinned entries without a mapping materialize under),
// a destination that starts with any source is a feedback Loop; a source
// that starts with any destination is Destructive (self-overwrite). Both
// are fatal before startup.
func ValidateMappings(mappings []Mapping, outRoot pathutil.AbsolutePath) error {
	roots := make([]pathutil.AbsolutePath, 0, len(mappings)+1)
	for _, m := range mappings {
		roots = append(roots, m.Dst)
	}
	roots = append(roots, outRoot)

	for _, m := range mappings {
		srcAbs := m.Src.AsAbsolute()
		for _, dst := range roots {
			if dst.HasPrefixDir(srcAbs) {
				return errs.NewLoop(m.Src.String(), dst.String())
			}
		}
		for _, other := range mappings {
			if srcAbs.HasPrefixDir(other.Dst) {
				return errs.NewDestructive(m.Src.String(), other.Dst.String())
			}
		}
		if srcAbs.HasPrefixDir(outRoot) {
			return errs.NewDestructive(m.Src.String(), outRoot.String())
		}
	}
	return nil
}

// longestPrefix returns the index of the mapping whose Src is the longest
// prefix of src, or -1 if none matches (spec.md P4).
func longestPrefix(mappings []Mapping, src pathutil.CanonicalPath) int {
	best := -1
	bestLen := -1
	for i, m := range mappings {
		if !src.HasPrefixDir(m.Src) {
			continue
		}
		l := len(m.Src.String())
		if l > bestLen {
			best = i
			bestLen = l
		}
	}
	return best
}
