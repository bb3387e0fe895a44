package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/provider/cache"
	"github.com/bpbradley/locket/pkg/reference"
)

// OpConnectConfig configures the 1Password Connect REST provider.
type OpConnectConfig struct {
	Host        string // e.g. https://connect.internal:8080
	Token       string
	Concurrency ConcurrencyLimit
}

// OpConnectProvider fetches op:// references from a self-hosted 1Password
// Connect server over its REST API, resolving vault/item names to IDs by a
// filtered list call. A resolved ID is cached only when it parses as an
// RFC 4122 UUID; 1Password's 26-character IDs do not, so names that resolve
// to them are listed again on every lookup. Grounded on
// original_source/src/provider/connect.rs.
type OpConnectProvider struct {
	client      *retryablehttp.Client
	host        string
	token       string
	vaults      *cache.UUIDCache
	items       *cache.UUIDCache // keyed by vaultID+"/"+itemName
	concurrency ConcurrencyLimit
}

// NewOpConnectProvider builds an OpConnectProvider. The host must already
// include scheme and port; no network call is made at construction time.
func NewOpConnectProvider(cfg OpConnectConfig) (*OpConnectProvider, error) {
	if cfg.Host == "" {
		return nil, &errs.ProviderError{Kind: errs.ProviderInvalidConfig, Err: fmt.Errorf("missing connect host")}
	}
	if _, err := url.Parse(cfg.Host); err != nil {
		return nil, &errs.ProviderError{Kind: errs.ProviderInvalidConfig, Err: fmt.Errorf("bad host url: %w", err)}
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.Logger = nil
	client.RetryMax = 3

	return &OpConnectProvider{
		client:      client,
		host:        strings.TrimRight(cfg.Host, "/"),
		token:       cfg.Token,
		vaults:      cache.NewUUIDCache(0),
		items:       cache.NewUUIDCache(0),
		concurrency: cfg.Concurrency,
	}, nil
}

func (p *OpConnectProvider) Parse(raw string) (reference.Reference, bool) {
	ref, ok := reference.TryParse(raw)
	if !ok {
		return nil, false
	}
	if _, isOp := ref.(reference.OpRef); !isOp {
		return nil, false
	}
	return ref, true
}

func (p *OpConnectProvider) FetchMap(ctx context.Context, refs []reference.Reference) (map[reference.Reference]SecretString, error) {
	opRefs := make([]reference.Reference, 0, len(refs))
	for _, r := range refs {
		if _, ok := r.(reference.OpRef); ok {
			opRefs = append(opRefs, r)
		}
	}

	p.prewarm(ctx, opRefs)

	return fanOut(ctx, opRefs, p.concurrency, func(ctx context.Context, r reference.Reference) (SecretString, error) {
		op := r.(reference.OpRef)
		return p.fetchOne(ctx, op)
	})
}

// prewarm resolves every distinct vault/item name up front; fetchOne's
// per-reference resolution is a cache hit only for IDs the cache stores
// (see OpConnectProvider). Resolution failures are ignored here; fetchOne
// will surface them properly.
func (p *OpConnectProvider) prewarm(ctx context.Context, refs []reference.Reference) {
	seenVaults := map[string]struct{}{}
	for _, r := range refs {
		op := r.(reference.OpRef)
		if isUUID(op.Vault) {
			continue
		}
		if _, ok := seenVaults[op.Vault]; ok {
			continue
		}
		seenVaults[op.Vault] = struct{}{}
		_, _ = p.resolveVault(ctx, op.Vault)
	}
	for _, r := range refs {
		op := r.(reference.OpRef)
		vaultID, err := p.resolveVault(ctx, op.Vault)
		if err != nil || isUUID(op.Item) {
			continue
		}
		_, _ = p.resolveItem(ctx, vaultID, op.Item)
	}
}

func (p *OpConnectProvider) resolveVault(ctx context.Context, nameOrID string) (string, error) {
	if isUUID(nameOrID) {
		return nameOrID, nil
	}
	if id, ok := p.vaults.Get(nameOrID); ok {
		return id.String(), nil
	}

	var vaults []struct {
		ID string `json:"id"`
	}
	if err := p.getJSON(ctx, "/v1/vaults", map[string]string{"filter": fmt.Sprintf("name eq %q", nameOrID)}, &vaults); err != nil {
		return "", err
	}
	if len(vaults) == 0 {
		return "", notFound(fmt.Sprintf("vault %q", nameOrID))
	}

	id := vaults[0].ID
	if parsed, err := uuid.Parse(id); err == nil {
		p.vaults.Set(nameOrID, parsed)
	}
	return id, nil
}

func (p *OpConnectProvider) resolveItem(ctx context.Context, vaultID, nameOrID string) (string, error) {
	if isUUID(nameOrID) {
		return nameOrID, nil
	}
	cacheKey := vaultID + "/" + nameOrID
	if id, ok := p.items.Get(cacheKey); ok {
		return id.String(), nil
	}

	var items []struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/v1/vaults/%s/items", vaultID)
	if err := p.getJSON(ctx, path, map[string]string{"filter": fmt.Sprintf("title eq %q", nameOrID)}, &items); err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", notFound(fmt.Sprintf("item %q in vault %s", nameOrID, vaultID))
	}

	id := items[0].ID
	if parsed, err := uuid.Parse(id); err == nil {
		p.items.Set(cacheKey, parsed)
	}
	return id, nil
}

func (p *OpConnectProvider) fetchOne(ctx context.Context, op reference.OpRef) (SecretString, error) {
	vaultID, err := p.resolveVault(ctx, op.Vault)
	if err != nil {
		return "", err
	}
	itemID, err := p.resolveItem(ctx, vaultID, op.Item)
	if err != nil {
		return "", err
	}

	var item struct {
		Fields []struct {
			ID    string `json:"id"`
			Label string `json:"label"`
			Value string `json:"value"`
		} `json:"fields"`
	}
	path := fmt.Sprintf("/v1/vaults/%s/items/%s", vaultID, itemID)
	if err := p.getJSON(ctx, path, nil, &item); err != nil {
		return "", err
	}

	want := op.Field
	for _, f := range item.Fields {
		if f.ID == want || f.Label == want {
			return SecretString(f.Value), nil
		}
	}
	return "", notFound(fmt.Sprintf("field %q on item %s", want, itemID))
}

func (p *OpConnectProvider) getJSON(ctx context.Context, path string, query map[string]string, out any) error {
	u := p.host + path
	if len(query) > 0 {
		v := url.Values{}
		for k, val := range query {
			v.Set(k, val)
		}
		u += "?" + v.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &errs.ProviderError{Kind: errs.ProviderURL, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &errs.ProviderError{Kind: errs.ProviderNetwork, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return notFound(path)
	case http.StatusUnauthorized, http.StatusForbidden:
		return &errs.ProviderError{Kind: errs.ProviderUnauthorized, Err: fmt.Errorf("connect rejected token")}
	default:
		return &errs.ProviderError{Kind: errs.ProviderOther, Err: fmt.Errorf("connect api status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &errs.ProviderError{Kind: errs.ProviderNetwork, Err: err}
	}
	return nil
}

// isUUID mirrors 1Password's 26-char base32-ish ID shape, used to skip
// name resolution for references that already carry a raw ID.
func isUUID(s string) bool {
	if len(s) != 26 {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
