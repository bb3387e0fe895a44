package reference

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/bpbradley/locket/pkg/errs"
)

// InfisicalRef is a reference of the form:
//
//	infisical:///<key>?env=...&path=...&project_id=...&type=shared|personal
type InfisicalRef struct {
	Key       string
	Env       string
	Path      string
	ProjectID string
	Type      string // "shared" or "personal", defaults to "shared"
}

func (r InfisicalRef) Backend() string { return "infisical" }

func (r InfisicalRef) String() string {
	v := url.Values{}
	if r.Env != "" {
		v.Set("env", r.Env)
	}
	if r.Path != "" {
		v.Set("path", r.Path)
	}
	if r.ProjectID != "" {
		v.Set("project_id", r.ProjectID)
	}
	if r.Type != "" && r.Type != "shared" {
		v.Set("type", r.Type)
	}
	u := url.URL{Scheme: "infisical", Path: "/" + r.Key, RawQuery: v.Encode()}
	return u.String()
}

var (
	envSlugRe  = regexp.MustCompile(`^[a-z0-9-]+$`)
	infPathRe  = regexp.MustCompile(`^/[A-Za-z0-9_/-]*$`)
	controlsRe = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

func parseInfisical(raw string) (Reference, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errs.NewSecret(errs.SecretParse, raw, err)
	}

	key := strings.TrimPrefix(u.Path, "/")
	key, err = url.PathUnescape(key)
	if err != nil {
		return nil, errs.NewSecret(errs.SecretParse, raw, fmt.Errorf("decoding key: %w", err))
	}
	if key == "" {
		return nil, errs.NewSecret(errs.SecretParse, raw, fmt.Errorf("empty key"))
	}
	if strings.Contains(key, ":/") || controlsRe.MatchString(key) {
		return nil, errs.NewSecret(errs.SecretParse, raw, fmt.Errorf("key contains forbidden characters"))
	}

	ref := InfisicalRef{Key: key, Type: "shared"}

	q := u.Query()
	for k, vals := range q {
		v := ""
		if len(vals) > 0 {
			v = vals[0]
		}
		switch k {
		case "env":
			if !envSlugRe.MatchString(v) {
				return nil, errs.NewSecret(errs.SecretParse, raw, fmt.Errorf("invalid env slug %q", v))
			}
			ref.Env = v
		case "path":
			if !infPathRe.MatchString(v) {
				return nil, errs.NewSecret(errs.SecretParse, raw, fmt.Errorf("invalid secret path %q", v))
			}
			ref.Path = v
		case "project_id":
			if _, err := uuid.Parse(v); err != nil {
				return nil, errs.NewSecret(errs.SecretParse, raw, fmt.Errorf("invalid project_id: %w", err))
			}
			ref.ProjectID = v
		case "type":
			if v != "shared" && v != "personal" {
				return nil, errs.NewSecret(errs.SecretParse, raw, fmt.Errorf("type must be shared or personal, got %q", v))
			}
			ref.Type = v
		default:
			return nil, errs.NewSecret(errs.SecretParse, raw, fmt.Errorf("unknown query key %q", k))
		}
	}

	return ref, nil
}
