package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/reference"
)

// BwsConfig configures the Bitwarden Secrets Manager REST provider.
type BwsConfig struct {
	APIURL      string // default https://api.bitwarden.com
	AccessToken string
	Concurrency ConcurrencyLimit
}

// BwsProvider fetches bare-UUID references from Bitwarden Secrets Manager.
// The HTTP client is built lazily on first use via sync.Once, so
// construction makes no network call. No login round-trip is made: the
// access token is sent directly as a bearer credential on every request.
// Grounded on original_source/src/provider/bws.rs.
type BwsProvider struct {
	apiURL      string
	token       string
	concurrency ConcurrencyLimit

	initOnce sync.Once
	initErr  error
	client   *retryablehttp.Client
}

// NewBwsProvider builds a BwsProvider without making any network call.
func NewBwsProvider(cfg BwsConfig) (*BwsProvider, error) {
	if cfg.AccessToken == "" {
		return nil, &errs.ProviderError{Kind: errs.ProviderInvalidConfig, Err: fmt.Errorf("missing BWS access token")}
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.bitwarden.com"
	}
	return &BwsProvider{apiURL: apiURL, token: cfg.AccessToken, concurrency: cfg.Concurrency}, nil
}

// ensureClient performs the one-time client setup. TODO: validate the
// access token against the identity endpoint here once a full Bitwarden
// login flow is wired in; today the token is used directly as a bearer
// credential against the Secrets Manager API.
func (p *BwsProvider) ensureClient() error {
	p.initOnce.Do(func() {
		c := retryablehttp.NewClient()
		c.HTTPClient = cleanhttp.DefaultPooledClient()
		c.Logger = nil
		c.RetryMax = 3
		p.client = c
	})
	return p.initErr
}

func (p *BwsProvider) Parse(raw string) (reference.Reference, bool) {
	ref, ok := reference.TryParse(raw)
	if !ok {
		return nil, false
	}
	if _, isBw := ref.(reference.BitwardenRef); !isBw {
		return nil, false
	}
	return ref, true
}

func (p *BwsProvider) FetchMap(ctx context.Context, refs []reference.Reference) (map[reference.Reference]SecretString, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	bwRefs := make([]reference.Reference, 0, len(refs))
	for _, r := range refs {
		if _, ok := r.(reference.BitwardenRef); ok {
			bwRefs = append(bwRefs, r)
		}
	}

	return fanOut(ctx, bwRefs, p.concurrency, func(ctx context.Context, r reference.Reference) (SecretString, error) {
		bw := r.(reference.BitwardenRef)
		return p.fetchOne(ctx, bw.ID)
	})
}

func (p *BwsProvider) fetchOne(ctx context.Context, id uuid.UUID) (SecretString, error) {
	url := fmt.Sprintf("%s/api/secrets/%s", p.apiURL, id)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &errs.ProviderError{Kind: errs.ProviderURL, Key: id.String(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &errs.ProviderError{Kind: errs.ProviderNetwork, Key: id.String(), Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", notFound(id.String())
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", &errs.ProviderError{Kind: errs.ProviderUnauthorized, Key: id.String(), Err: fmt.Errorf("bitwarden rejected access token")}
	default:
		return "", &errs.ProviderError{Kind: errs.ProviderOther, Key: id.String(), Err: fmt.Errorf("secrets manager status %d", resp.StatusCode)}
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &errs.ProviderError{Kind: errs.ProviderNetwork, Key: id.String(), Err: err}
	}
	return SecretString(body.Value), nil
}
