package provider

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpbradley/locket/pkg/reference"
)

// fakeProvider returns a fixed value for every reference, or errFail if set.
type fakeProvider struct {
	value   SecretString
	errFail error
}

func (f *fakeProvider) Parse(raw string) (reference.Reference, bool) {
	return reference.TryParse(raw)
}

func (f *fakeProvider) FetchMap(ctx context.Context, refs []reference.Reference) (map[reference.Reference]SecretString, error) {
	if f.errFail != nil {
		return nil, f.errFail
	}
	out := make(map[reference.Reference]SecretString, len(refs))
	for _, r := range refs {
		out[r] = f.value
	}
	return out, nil
}

// fakeFactory simulates rotating credentials: signature and the resulting
// provider change together after rotate() is called.
type fakeFactory struct {
	sig       string
	value     SecretString
	creates   int
	signature int
}

func (f *fakeFactory) Signature(ctx context.Context) (string, error) { return f.sig, nil }

func (f *fakeFactory) Create(ctx context.Context) (Provider, error) {
	f.creates++
	return &fakeProvider{value: f.value}, nil
}

func (f *fakeFactory) Parse(raw string) (reference.Reference, bool) {
	return reference.TryParse(raw)
}

func (f *fakeFactory) rotate(newSig string, newValue SecretString) {
	f.sig = newSig
	f.value = newValue
}

func TestManagedProviderPassesThroughOnSuccess(t *testing.T) {
	factory := &fakeFactory{sig: "v1", value: "first"}
	mp, err := NewManagedProvider(context.Background(), factory)
	require.NoError(t, err)
	require.Equal(t, 1, factory.creates)

	ref, err := reference.Parse("op://v/i/f")
	require.NoError(t, err)

	out, err := mp.FetchMap(context.Background(), []reference.Reference{ref})
	require.NoError(t, err)
	require.Equal(t, SecretString("first"), out[ref])
	require.Equal(t, 1, factory.creates)
}

func TestManagedProviderRebuildsOnSignatureChange(t *testing.T) {
	factory := &fakeFactory{sig: "v1", value: "first"}
	mp, err := NewManagedProvider(context.Background(), factory)
	require.NoError(t, err)

	// Simulate the inner provider failing (e.g. stale credentials) while the
	// factory's signature has since moved on.
	mp.inner = &fakeProvider{errFail: fmt.Errorf("unauthorized")}
	factory.rotate("v2", "second")

	ref, err := reference.Parse("op://v/i/f")
	require.NoError(t, err)

	out, err := mp.FetchMap(context.Background(), []reference.Reference{ref})
	require.NoError(t, err)
	require.Equal(t, SecretString("second"), out[ref])
	require.Equal(t, 2, factory.creates)
}

func TestManagedProviderDoesNotRebuildOnUnchangedSignature(t *testing.T) {
	factory := &fakeFactory{sig: "v1", value: "first"}
	mp, err := NewManagedProvider(context.Background(), factory)
	require.NoError(t, err)

	mp.inner = &fakeProvider{errFail: fmt.Errorf("transient")}

	ref, err := reference.Parse("op://v/i/f")
	require.NoError(t, err)

	_, err = mp.FetchMap(context.Background(), []reference.Reference{ref})
	require.Error(t, err)
	require.Equal(t, 1, factory.creates)
}
