package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/bpbradley/locket/pkg/config"
	"github.com/bpbradley/locket/pkg/provider"
	"github.com/bpbradley/locket/pkg/provider/retry"
	"github.com/bpbradley/locket/pkg/reference"
)

// backendFactory implements provider.Factory over one of the four
// configured backends (spec.md §4.E). Credential fields accept either a
// literal value or a "file:" reference; file-backed credentials are re-read
// on every Create, so a rotation detected by ManagedProvider rebuilds the
// backend with the fresh value.
type backendFactory struct {
	cfg config.ProviderConfig
}

func newBackendFactory(cfg config.ProviderConfig) *backendFactory {
	return &backendFactory{cfg: cfg}
}

// credentials returns the raw credential fields of the active backend, the
// set both Create and Signature operate over.
func (f *backendFactory) credentials() []string {
	switch f.cfg.Backend {
	case "op":
		return []string{f.cfg.OpServiceAccountToken}
	case "connect":
		return []string{f.cfg.ConnectToken}
	case "bws":
		return []string{f.cfg.BwsAccessToken}
	case "infisical":
		return []string{f.cfg.InfisicalClientID, f.cfg.InfisicalClientSecret}
	default:
		return nil
	}
}

// resolveToken reads a credential field through provider.AuthToken,
// returning the literal value or the token file's current contents.
func resolveToken(raw string) (string, error) {
	t, err := provider.ParseAuthToken(raw)
	if err != nil {
		return "", err
	}
	return t.Resolve()
}

func (f *backendFactory) Create(ctx context.Context) (provider.Provider, error) {
	switch f.cfg.Backend {
	case "op":
		token, err := resolveToken(f.cfg.OpServiceAccountToken)
		if err != nil {
			return nil, err
		}
		return provider.NewOpProvider(ctx, provider.OpConfig{
			ServiceAccountToken: token,
			ConfigDir:           f.cfg.OpConfigDir,
			Concurrency:         provider.DefaultConcurrencyLimit,
			Retry:               retry.DefaultConfig(),
		})
	case "connect":
		token, err := resolveToken(f.cfg.ConnectToken)
		if err != nil {
			return nil, err
		}
		return provider.NewOpConnectProvider(provider.OpConnectConfig{
			Host:        f.cfg.ConnectHost,
			Token:       token,
			Concurrency: provider.DefaultConcurrencyLimit,
		})
	case "bws":
		token, err := resolveToken(f.cfg.BwsAccessToken)
		if err != nil {
			return nil, err
		}
		return provider.NewBwsProvider(provider.BwsConfig{
			APIURL:      f.cfg.BwsAPIURL,
			AccessToken: token,
			Concurrency: provider.DefaultConcurrencyLimit,
		})
	case "infisical":
		clientID, err := resolveToken(f.cfg.InfisicalClientID)
		if err != nil {
			return nil, err
		}
		clientSecret, err := resolveToken(f.cfg.InfisicalClientSecret)
		if err != nil {
			return nil, err
		}
		return provider.NewInfisicalProvider(ctx, provider.InfisicalConfig{
			URL:              f.cfg.InfisicalURL,
			ClientID:         clientID,
			ClientSecret:     clientSecret,
			DefaultEnv:       f.cfg.InfisicalEnv,
			DefaultProjectID: f.cfg.InfisicalProjectID,
			Concurrency:      provider.DefaultConcurrencyLimit,
			Retry:            retry.DefaultConfig(),
		})
	default:
		return nil, fmt.Errorf("unknown provider backend %q (want one of op, connect, bws, infisical)", f.cfg.Backend)
	}
}

// Signature combines the active backend's credential-source signatures
// (spec.md §4.E): file-backed credentials hash their file's current
// contents, literal ones sign as a constant, so only a real on-disk
// rotation changes the result.
func (f *backendFactory) Signature(ctx context.Context) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "%s", f.cfg.Backend)
	for _, raw := range f.credentials() {
		t, err := provider.ParseAuthToken(raw)
		if err != nil {
			return "", err
		}
		sig, err := t.Signature()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "|%s", sig)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Parse is stateless across every backend: a reference's grammar alone
// determines which backend recognizes it, so Factory.Parse doesn't need a
// live inner Provider.
func (f *backendFactory) Parse(raw string) (reference.Reference, bool) {
	ref, ok := reference.TryParse(raw)
	if !ok {
		return nil, false
	}
	switch f.cfg.Backend {
	case "op", "connect":
		_, isOp := ref.(reference.OpRef)
		return ref, isOp
	case "bws":
		_, isBw := ref.(reference.BitwardenRef)
		return ref, isBw
	case "infisical":
		_, isInf := ref.(reference.InfisicalRef)
		return ref, isInf
	default:
		return nil, false
	}
}

// buildProvider constructs the ManagedProvider for the configured backend.
func buildProvider(ctx context.Context, cfg config.ProviderConfig) (provider.Provider, error) {
	return provider.NewManagedProvider(ctx, newBackendFactory(cfg))
}
