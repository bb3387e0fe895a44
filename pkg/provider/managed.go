package provider

import (
	"context"
	"sync"

	"github.com/bpbradley/locket/pkg/metrics"
	"github.com/bpbradley/locket/pkg/reference"
)

// Factory builds a concrete Provider from credentials that may rotate out
// from under a long-running process (e.g. a mounted service-account token
// file replaced by the orchestrator). Signature must change whenever the
// underlying credentials change, so ManagedProvider knows when to rebuild.
type Factory interface {
	Create(ctx context.Context) (Provider, error)
	Signature(ctx context.Context) (string, error)
	Parse(raw string) (reference.Reference, bool)
}

// ManagedProvider wraps a Factory and transparently rebuilds the inner
// Provider when a fetch fails and the credential signature has since
// changed, rather than surfacing every rotation as a hard failure.
// Grounded on original_source/src/provider/managed.rs.
type ManagedProvider struct {
	factory Factory

	mu        sync.RWMutex
	inner     Provider
	signature string
}

// NewManagedProvider builds the initial inner Provider eagerly so
// configuration errors surface at startup.
func NewManagedProvider(ctx context.Context, factory Factory) (*ManagedProvider, error) {
	sig, err := factory.Signature(ctx)
	if err != nil {
		return nil, err
	}
	inner, err := factory.Create(ctx)
	if err != nil {
		return nil, err
	}
	return &ManagedProvider{factory: factory, inner: inner, signature: sig}, nil
}

func (m *ManagedProvider) Parse(raw string) (reference.Reference, bool) {
	return m.factory.Parse(raw)
}

// FetchMap tries the current inner provider first. On failure it checks
// whether the credential signature has changed; if so it rebuilds the
// inner provider and retries exactly once. A failure with an unchanged
// signature is not a rotation and is returned as-is.
func (m *ManagedProvider) FetchMap(ctx context.Context, refs []reference.Reference) (map[reference.Reference]SecretString, error) {
	m.mu.RLock()
	inner := m.inner
	m.mu.RUnlock()

	res, err := inner.FetchMap(ctx, refs)
	if err == nil {
		return res, nil
	}

	newSig, sigErr := m.factory.Signature(ctx)
	if sigErr != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.signature == newSig {
		// Not a rotation: another goroutine already rebuilt, or nothing
		// changed. Either way don't rebuild again.
		current := m.inner
		m.mu.Unlock()
		if current != inner {
			return current.FetchMap(ctx, refs)
		}
		return nil, err
	}

	newInner, createErr := m.factory.Create(ctx)
	if createErr != nil {
		m.mu.Unlock()
		return nil, createErr
	}
	m.inner = newInner
	m.signature = newSig
	m.mu.Unlock()

	metrics.CredentialRotationsTotal.WithLabelValues("managed").Inc()
	return newInner.FetchMap(ctx, refs)
}
