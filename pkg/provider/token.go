package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/pathutil"
)

// AuthToken is a backend credential: either a literal value, or a reference
// to a file holding one ("file:" or "file://" prefix). File-backed tokens
// let an orchestrator rotate credentials under a running process;
// ManagedProvider observes the rotation through Signature. Grounded on
// original_source/src/provider/types.rs's AuthToken/TokenSource.
type AuthToken struct {
	literal  string
	path     pathutil.CanonicalPath
	fromFile bool
}

// ParseAuthToken interprets a raw credential string. A "file:"-prefixed
// value must name an existing file; anything else is taken literally. The
// empty string parses to a zero AuthToken.
func ParseAuthToken(s string) (AuthToken, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AuthToken{}, nil
	}
	if rest, ok := strings.CutPrefix(s, "file:"); ok {
		rest = strings.TrimPrefix(rest, "//")
		canon, err := pathutil.Canon(rest)
		if err != nil {
			return AuthToken{}, &errs.ProviderError{
				Kind: errs.ProviderInvalidConfig,
				Err:  fmt.Errorf("resolving token file %q: %w", rest, err),
			}
		}
		return AuthToken{path: canon, fromFile: true}, nil
	}
	return AuthToken{literal: s}, nil
}

// IsZero reports whether no credential was configured at all.
func (t AuthToken) IsZero() bool { return !t.fromFile && t.literal == "" }

// Resolve returns the credential's current value, reading and trimming the
// backing file each time for a file-backed token.
func (t AuthToken) Resolve() (string, error) {
	if !t.fromFile {
		return t.literal, nil
	}
	content, err := os.ReadFile(t.path.String())
	if err != nil {
		return "", &errs.ProviderError{
			Kind: errs.ProviderInvalidConfig,
			Err:  fmt.Errorf("reading token file %s: %w", t.path, err),
		}
	}
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return "", &errs.ProviderError{
			Kind: errs.ProviderInvalidConfig,
			Err:  fmt.Errorf("token file %s is empty", t.path),
		}
	}
	return trimmed, nil
}

// Signature identifies the credential source's current state: a hash of the
// backing file's contents for a file-backed token, or a constant "0" for a
// literal one so the hash state can never encode the token itself.
func (t AuthToken) Signature() (string, error) {
	if !t.fromFile {
		return "0", nil
	}
	content, err := os.ReadFile(t.path.String())
	if err != nil {
		return "", &errs.ProviderError{
			Kind: errs.ProviderInvalidConfig,
			Err:  fmt.Errorf("reading token file %s for signature: %w", t.path, err),
		}
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

// String implements fmt.Stringer with a redacted placeholder so an AuthToken
// can never leak through logging or %v formatting.
func (t AuthToken) String() string { return "[REDACTED]" }
