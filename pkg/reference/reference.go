// Package reference implements the tagged-union secret reference grammar
// (spec.md §4.B): a raw address string such as "op://vault/item/field" is
// parsed into a typed, validated Reference. Concrete variants are separated
// per backend, mirroring original_source/src/provider/references/*.rs.
//
// Every concrete variant is a comparable struct of only string/uuid fields,
// so a Reference can key a map directly (spec.md §3: "Equality and hashing
// are structural so references may key a fetch cache").
package reference

import (
	"fmt"
	"strings"

	"github.com/bpbradley/locket/pkg/errs"
)

// Reference is the tagged union over backend-specific reference types.
// Display round-trips to the original canonical form (spec.md P3).
type Reference interface {
	fmt.Stringer
	Backend() string
}

// Parse dispatches on scheme/shape and returns a fully typed Reference.
// Strings that do not match any known grammar return a SecretParse error
// ("unknown reference format"); callers (pkg/provider) that only filter
// candidate strings use TryParse, which reports them as ok=false.
func Parse(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(trimmed, "op://"):
		return parseOp(trimmed)
	case strings.HasPrefix(trimmed, "infisical://"):
		return parseInfisical(trimmed)
	default:
		if ref, ok := parseBitwarden(trimmed); ok {
			return ref, nil
		}
	}
	return nil, errs.NewSecret(errs.SecretParse, raw, fmt.Errorf("unknown reference format"))
}

// TryParse is Parse without an error return, for filtering candidate strings
// (spec.md §4.H step 3: "Filter candidates through provider.parse").
func TryParse(raw string) (Reference, bool) {
	ref, err := Parse(raw)
	if err != nil {
		return nil, false
	}
	return ref, true
}
