package reference

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bpbradley/locket/pkg/errs"
)

// OpRef is a 1Password reference: op://<vault>/<item>[/<section>]/<field>.
type OpRef struct {
	Vault   string
	Item    string
	Section string // optional
	Field   string
}

func (r OpRef) Backend() string { return "op" }

func (r OpRef) String() string {
	if r.Section != "" {
		return fmt.Sprintf("op://%s/%s/%s/%s", r.Vault, r.Item, r.Section, r.Field)
	}
	return fmt.Sprintf("op://%s/%s/%s", r.Vault, r.Item, r.Field)
}

func parseOp(raw string) (Reference, error) {
	rest := strings.TrimPrefix(raw, "op://")
	rest, query, _ := strings.Cut(rest, "?")
	_ = query // op:// references carry no recognized query parameters today

	segments := strings.Split(rest, "/")
	if len(segments) != 3 && len(segments) != 4 {
		return nil, errs.NewSecret(errs.SecretParse, raw, fmt.Errorf("op reference needs 2 or 3 path segments after vault"))
	}

	decoded := make([]string, len(segments))
	for i, seg := range segments {
		d, err := url.PathUnescape(seg)
		if err != nil {
			return nil, errs.NewSecret(errs.SecretParse, raw, fmt.Errorf("percent-decoding segment %q: %w", seg, err))
		}
		if d == "" {
			return nil, errs.NewSecret(errs.SecretParse, raw, fmt.Errorf("empty path segment"))
		}
		decoded[i] = d
	}

	ref := OpRef{Vault: decoded[0], Item: decoded[1]}
	if len(decoded) == 4 {
		ref.Section = decoded[2]
		ref.Field = decoded[3]
	} else {
		ref.Field = decoded[2]
	}
	return ref, nil
}
