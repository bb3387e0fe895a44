// Package pathutil implements lexical path cleaning, absolute-ization, and
// canonicalization with typed errors (spec.md §4.A), grounded on
// original_source/src/path.rs. AbsolutePath and CanonicalPath are opaque
// wrappers that can only be constructed through this package's functions.
package pathutil

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/bpbradley/locket/pkg/errs"
)

// AbsolutePath is a path guaranteed to be absolute and lexically clean. It
// need not exist on disk.
type AbsolutePath struct{ p string }

// CanonicalPath is a path that has been resolved against the real
// filesystem (symlinks followed) and is known to exist at construction time.
type CanonicalPath struct{ p string }

func (a AbsolutePath) String() string  { return a.p }
func (c CanonicalPath) String() string { return c.p }

// Less orders by the underlying string, used by the registry's ordered map.
func (a AbsolutePath) Less(other AbsolutePath) bool  { return a.p < other.p }
func (c CanonicalPath) Less(other CanonicalPath) bool { return c.p < other.p }

// HasPrefixDir reports whether p lies at or under prefix, treating both as
// directory paths (a string-prefix match is not enough: "/foo2" must not be
// considered a child of "/foo").
func (a AbsolutePath) HasPrefixDir(prefix AbsolutePath) bool {
	return hasPrefixDir(a.p, prefix.p)
}

func (c CanonicalPath) HasPrefixDir(prefix CanonicalPath) bool {
	return hasPrefixDir(c.p, prefix.p)
}

func hasPrefixDir(p, prefix string) bool {
	if p == prefix {
		return true
	}
	if len(p) <= len(prefix) {
		return false
	}
	return p[:len(prefix)] == prefix && (p[len(prefix)] == filepath.Separator)
}

// RelativeTo returns the portion of a below prefix, i.e. src - mapping.src
// in spec.md §4.F's notation. Callers must have already checked HasPrefixDir.
func (a AbsolutePath) RelativeTo(prefix AbsolutePath) string {
	rel, err := filepath.Rel(prefix.p, a.p)
	if err != nil {
		return ""
	}
	return rel
}

func (c CanonicalPath) RelativeTo(prefix CanonicalPath) string {
	rel, err := filepath.Rel(prefix.p, c.p)
	if err != nil {
		return ""
	}
	return rel
}

// Join appends rel components under a, returning a new AbsolutePath.
func (a AbsolutePath) Join(rel string) AbsolutePath {
	return AbsolutePath{p: Clean(filepath.Join(a.p, rel))}
}

// Clean is purely lexical: drops ".", resolves ".." by popping, preserves
// root, collapses redundant separators. No filesystem access.
func Clean(p string) string {
	return filepath.Clean(p)
}

// Absolute makes p absolute relative to the process working directory and
// cleans it. No filesystem access beyond reading the working directory.
func Absolute(p string) (AbsolutePath, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return AbsolutePath{}, errs.NewSecret(errs.SecretIo, p, err)
	}
	return AbsolutePath{p: Clean(abs)}, nil
}

// MustAbsolute panics on error; used only for compile-time-known-good paths
// such as defaults baked into the binary.
func MustAbsolute(p string) AbsolutePath {
	a, err := Absolute(p)
	if err != nil {
		panic(err)
	}
	return a
}

// Canon resolves p against the real filesystem. It reports SourceMissing if
// the target does not exist, and a bare Io error for any other failure.
func Canon(p string) (CanonicalPath, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CanonicalPath{}, errs.NewSecret(errs.SecretSourceMissing, p, err)
		}
		return CanonicalPath{}, errs.NewSecret(errs.SecretIo, p, err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return CanonicalPath{}, errs.NewSecret(errs.SecretIo, p, err)
	}
	return CanonicalPath{p: Clean(abs)}, nil
}

// UnsafeCanonical constructs a CanonicalPath from an already-canonical
// string without touching the filesystem. Callers use it where the path was
// canonical when first observed but may no longer resolve — a registry key
// being removed or rebased after its file is gone — so re-running Canon
// would fail on exactly the paths these operations exist to handle. The
// caller is responsible for the string actually being canonical; no
// symlinks are resolved here.
func UnsafeCanonical(p string) CanonicalPath { return CanonicalPath{p: Clean(p)} }

// AsAbsolute downgrades a CanonicalPath to an AbsolutePath (every canonical
// path is, trivially, absolute).
func (c CanonicalPath) AsAbsolute() AbsolutePath { return AbsolutePath{p: c.p} }

// Dir returns the parent directory as an AbsolutePath.
func (a AbsolutePath) Dir() AbsolutePath { return AbsolutePath{p: filepath.Dir(a.p)} }

// Base returns the final path element.
func (a AbsolutePath) Base() string { return filepath.Base(a.p) }

func (c CanonicalPath) Dir() AbsolutePath { return AbsolutePath{p: filepath.Dir(c.p)} }
func (c CanonicalPath) Base() string      { return filepath.Base(c.p) }
