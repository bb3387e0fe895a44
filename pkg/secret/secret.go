// Package secret defines the data model shared by the registry and the
// manager: SecretSource, Secret, and SecretFile (spec.md §3), grounded on
// original_source/src/secrets/{fs,types}.rs.
package secret

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/pathutil"
)

// Source is either a real file on disk or an in-memory literal.
type Source struct {
	kind    sourceKind
	path    pathutil.CanonicalPath
	label   string
	literal []byte
}

type sourceKind int

const (
	kindFile sourceKind = iota
	kindLiteral
)

// FileSource builds a Source backed by an existing, canonicalized path.
func FileSource(path pathutil.CanonicalPath) Source {
	return Source{kind: kindFile, path: path}
}

// LiteralSource builds an in-memory Source with a logical label.
func LiteralSource(label string, template []byte) Source {
	return Source{kind: kindLiteral, label: label, literal: template}
}

func (s Source) IsFile() bool { return s.kind == kindFile }
func (s Source) Path() pathutil.CanonicalPath { return s.path }
func (s Source) Label() string { return s.label }

// Read fetches the source's bytes subject to a size limit. For a File
// source, a missing file returns (nil, false, nil) — "degrades to None" per
// spec.md §4.F's upsert semantics — not an error; a file larger than limit
// returns SourceTooLarge. A Literal source never returns false.
func (s Source) Read(limit int64) ([]byte, bool, error) {
	switch s.kind {
	case kindLiteral:
		return s.literal, true, nil
	case kindFile:
		f, err := os.Open(s.path.String())
		if err != nil {
			if os.IsNotExist(err) {
				return nil, false, nil
			}
			return nil, false, errs.NewSecret(errs.SecretIo, s.path.String(), err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, false, errs.NewSecret(errs.SecretIo, s.path.String(), err)
		}
		if limit > 0 && info.Size() > limit {
			return nil, false, &errs.SecretError{
				Kind: errs.SecretSourceTooLarge,
				Path: s.path.String(),
				Err:  fmt.Errorf("size %d exceeds limit %d", info.Size(), limit),
			}
		}

		data, err := io.ReadAll(f)
		if err != nil {
			return nil, false, errs.NewSecret(errs.SecretIo, s.path.String(), err)
		}
		return data, true, nil
	default:
		return nil, false, fmt.Errorf("unknown source kind")
	}
}

// Secret is either a named entry ("key={{...}}" or "key=@path") or an
// anonymous bare path.
type Secret struct {
	Key    string // empty for Anonymous
	Source Source
}

func (s Secret) IsNamed() bool { return s.Key != "" }

// ParseSecretArg parses one --secret CLI argument into a Secret, following
// spec.md §3: "key={{...}}", "key=@path", and bare "path" yield the correct
// variant; "@path" forces file semantics even without a "key=" prefix.
func ParseSecretArg(arg string) (Secret, error) {
	key, rest, hasKey := strings.Cut(arg, "=")
	if !hasKey {
		// bare path or bare @path
		return anonymousFrom(arg)
	}
	if key == "" {
		return Secret{}, errs.NewSecret(errs.SecretParse, arg, fmt.Errorf("empty key before '='"))
	}
	named, err := anonymousFrom(rest)
	if err != nil {
		return Secret{}, err
	}
	named.Key = key
	return named, nil
}

func anonymousFrom(value string) (Secret, error) {
	if after, ok := strings.CutPrefix(value, "@"); ok {
		path, err := pathutil.Canon(after)
		if err != nil {
			return Secret{}, err
		}
		return Secret{Source: FileSource(path)}, nil
	}
	if strings.Contains(value, "{{") {
		return Secret{Source: LiteralSource(value, []byte(value))}, nil
	}
	path, err := pathutil.Canon(value)
	if err != nil {
		return Secret{}, err
	}
	return Secret{Source: FileSource(path)}, nil
}

// File is a single materialization target: a Source plus a destination path
// under the enclosing mapping's (or literal output) root (spec.md §3).
type File struct {
	Source  Source
	Dest    pathutil.AbsolutePath
	MaxSize int64
}

var unsafeLabelChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SanitizeLabel converts an arbitrary literal label into a safe filename
// component, used to compute Dest = out_root / sanitize(label) for literal
// sources (spec.md §3).
func SanitizeLabel(label string) string {
	safe := unsafeLabelChars.ReplaceAllString(label, "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		return "secret"
	}
	return safe
}

// DestFor computes the materialization path for a --secret entry rooted at
// out: a named entry uses its key, an anonymous file entry its basename, and
// an anonymous literal its own label, all passed through SanitizeLabel
// (spec.md §3).
func DestFor(s Secret, out pathutil.AbsolutePath) pathutil.AbsolutePath {
	if s.Key != "" {
		return out.Join(SanitizeLabel(s.Key))
	}
	if s.Source.IsFile() {
		return out.Join(SanitizeLabel(s.Source.Path().Base()))
	}
	return out.Join(SanitizeLabel(s.Source.Label()))
}
