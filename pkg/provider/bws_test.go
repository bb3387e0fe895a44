package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bpbradley/locket/pkg/reference"
)

func TestBwsFetchMap(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"value": "s3cr3t"})
	}))
	defer srv.Close()

	p, err := NewBwsProvider(BwsConfig{APIURL: srv.URL, AccessToken: "tok"})
	require.NoError(t, err)

	ref, ok := p.Parse(id.String())
	require.True(t, ok)

	out, err := p.FetchMap(context.Background(), []reference.Reference{ref})
	require.NoError(t, err)
	require.Equal(t, SecretString("s3cr3t"), out[ref])
}

func TestBwsFetchMapNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := NewBwsProvider(BwsConfig{APIURL: srv.URL, AccessToken: "tok"})
	require.NoError(t, err)

	ref, ok := p.Parse(uuid.New().String())
	require.True(t, ok)

	out, err := p.FetchMap(context.Background(), []reference.Reference{ref})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestBwsParseRejectsNonUUID(t *testing.T) {
	p, err := NewBwsProvider(BwsConfig{AccessToken: "tok"})
	require.NoError(t, err)

	_, ok := p.Parse("op://vault/item/field")
	require.False(t, ok)
}
