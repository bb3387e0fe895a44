// Package process implements the exec-mode supervisor (spec.md §4.J): env
// resolution through the template/secret/provider pipeline, hash-based
// restart suppression, signal forwarding, and TTY save/restore. Grounded on
// original_source/src/{env,process,signal}.rs.
package process

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/provider"
	"github.com/bpbradley/locket/pkg/reference"
	"github.com/bpbradley/locket/pkg/secret"
	"github.com/bpbradley/locket/pkg/template"
)

// EnvResolver resolves a fixed list of secret.Secret entries (env=VALUE,
// env=@file, or bare env files) into a flat environment map, fetching any
// template references through prov (spec.md §4.J "env := EnvManager.resolve()").
type EnvResolver struct {
	secrets []secret.Secret
	prov    provider.Provider
}

// NewEnvResolver builds a resolver over secrets, fetching through prov.
func NewEnvResolver(secrets []secret.Secret, prov provider.Provider) *EnvResolver {
	return &EnvResolver{secrets: secrets, prov: prov}
}

// Paths returns every file-backed secret's path, for the watcher to track
// (spec.md §4.J, "EnvManager.files()").
func (r *EnvResolver) Paths() []string {
	out := make([]string, 0, len(r.secrets))
	for _, s := range r.secrets {
		if s.Source.IsFile() {
			out = append(out, s.Source.Path().String())
		}
	}
	return out
}

// Resolve reads every secret source, expands any named entry as a single
// KEY=VALUE pair and any anonymous (bare file) entry as a dotenv-style file
// of KEY=VALUE lines, then fetches and renders every template reference
// found across the resulting values in one batch.
func (r *EnvResolver) Resolve(ctx context.Context) (map[string]string, error) {
	raw := make(map[string]string)

	for _, s := range r.secrets {
		content, ok, err := s.Source.Read(0)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if s.IsNamed() {
			raw[s.Key] = string(content)
			continue
		}
		if err := parseDotenv(content, raw); err != nil {
			return nil, errs.NewSecret(errs.SecretParse, s.Source.Label(), err)
		}
	}

	byKey := make(map[string]reference.Reference)
	for _, v := range raw {
		keys := template.Keys(v)
		if len(keys) > 0 {
			for k := range keys {
				if ref, ok := r.prov.Parse(k); ok {
					byKey[k] = ref
				}
			}
			continue
		}
		trimmed := strings.TrimSpace(v)
		if ref, ok := r.prov.Parse(trimmed); ok {
			byKey[trimmed] = ref
		}
	}

	if len(byKey) == 0 {
		return raw, nil
	}

	refs := make([]reference.Reference, 0, len(byKey))
	for _, ref := range byKey {
		refs = append(refs, ref)
	}
	fetched, err := r.prov.FetchMap(ctx, refs)
	if err != nil {
		return nil, &errs.SecretError{Kind: errs.SecretProvider, Err: err}
	}

	result := make(map[string]string, len(raw))
	for k, v := range raw {
		keys := template.Keys(v)
		if len(keys) > 0 {
			values := make(map[string]string, len(keys))
			for key := range keys {
				if ref, ok := byKey[key]; ok {
					if sv, ok := fetched[ref]; ok {
						values[key] = string(sv)
					}
				}
			}
			result[k] = template.Render(v, values)
			continue
		}
		trimmed := strings.TrimSpace(v)
		if ref, ok := byKey[trimmed]; ok {
			if sv, ok := fetched[ref]; ok {
				result[k] = string(sv)
				continue
			}
		}
		result[k] = v
	}
	return result, nil
}

// parseDotenv expands an env-file's KEY=VALUE lines into dst; blank lines
// and lines starting with "#" are skipped.
func parseDotenv(content []byte, dst map[string]string) error {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("malformed line: %q", line)
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		dst[key] = val
	}
	return scanner.Err()
}

// HashEnv sorts keys and hashes (key, value) pairs in order so two maps
// with identical content hash identically regardless of insertion order
// (spec.md §4.J "hash_env", P8).
func HashEnv(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(env[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
