package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/provider/retry"
	"github.com/bpbradley/locket/pkg/reference"
)

// InfisicalConfig configures the Infisical provider. DefaultEnv and
// DefaultProjectID fill in for references that omit the env/project_id
// query parameters; a reference missing one with no default configured
// fails with InvalidConfig.
type InfisicalConfig struct {
	URL              string // e.g. https://app.infisical.com
	ClientID         string
	ClientSecret     string
	DefaultEnv       string
	DefaultProjectID string
	Concurrency      ConcurrencyLimit
	Retry            retry.Config
}

// InfisicalProvider logs in once via Universal Auth and fetches secrets by
// key, re-logging in when the cached access token is near expiry. Grounded
// on original_source/src/provider/infisical.rs.
type InfisicalProvider struct {
	client         *retryablehttp.Client
	baseURL        string
	clientID       string
	clientSecret   string
	defaultEnv     string
	defaultProject string
	concurrency    ConcurrencyLimit
	retry          retry.Config

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewInfisicalProvider logs in immediately so configuration errors surface
// at startup rather than on first fetch.
func NewInfisicalProvider(ctx context.Context, cfg InfisicalConfig) (*InfisicalProvider, error) {
	if cfg.URL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, &errs.ProviderError{Kind: errs.ProviderInvalidConfig, Err: fmt.Errorf("infisical url, client id, and client secret are all required")}
	}

	c := retryablehttp.NewClient()
	c.HTTPClient = cleanhttp.DefaultPooledClient()
	c.Logger = nil
	c.RetryMax = 3

	p := &InfisicalProvider{
		client:         c,
		baseURL:        cfg.URL,
		clientID:       cfg.ClientID,
		clientSecret:   cfg.ClientSecret,
		defaultEnv:     cfg.DefaultEnv,
		defaultProject: cfg.DefaultProjectID,
		concurrency:    cfg.Concurrency,
		retry:          cfg.Retry,
	}
	if p.retry == (retry.Config{}) {
		p.retry = retry.DefaultConfig()
	}
	if err := p.login(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *InfisicalProvider) login(ctx context.Context) error {
	payload, _ := json.Marshal(map[string]string{
		"clientId":     p.clientID,
		"clientSecret": p.clientSecret,
	})

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/auth/universal-auth/login", bytes.NewReader(payload))
	if err != nil {
		return &errs.ProviderError{Kind: errs.ProviderURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &errs.ProviderError{Kind: errs.ProviderNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &errs.ProviderError{Kind: errs.ProviderUnauthorized, Err: fmt.Errorf("infisical login status %d", resp.StatusCode)}
	}

	var body struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int64  `json:"expiresIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &errs.ProviderError{Kind: errs.ProviderNetwork, Err: err}
	}

	p.mu.Lock()
	p.token = body.AccessToken
	p.tokenExp = tokenExpiry(body.AccessToken, body.ExpiresIn)
	p.mu.Unlock()
	return nil
}

// tokenExpiry prefers the JWT's own exp claim, falling back to the login
// response's expires_in when the token can't be parsed as a JWT.
func tokenExpiry(token string, expiresIn int64) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Now().Add(5 * time.Minute)
}

func (p *InfisicalProvider) currentToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	token, exp := p.token, p.tokenExp
	p.mu.Unlock()

	if token != "" && time.Until(exp) > 30*time.Second {
		return token, nil
	}
	if err := p.login(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	token = p.token
	p.mu.Unlock()
	return token, nil
}

func (p *InfisicalProvider) Parse(raw string) (reference.Reference, bool) {
	ref, ok := reference.TryParse(raw)
	if !ok {
		return nil, false
	}
	if _, isInf := ref.(reference.InfisicalRef); !isInf {
		return nil, false
	}
	return ref, true
}

func (p *InfisicalProvider) FetchMap(ctx context.Context, refs []reference.Reference) (map[reference.Reference]SecretString, error) {
	infRefs := make([]reference.Reference, 0, len(refs))
	for _, r := range refs {
		if _, ok := r.(reference.InfisicalRef); ok {
			infRefs = append(infRefs, r)
		}
	}

	return fanOut(ctx, infRefs, p.concurrency, func(ctx context.Context, r reference.Reference) (SecretString, error) {
		inf := r.(reference.InfisicalRef)
		var val SecretString
		err := retry.WithRetry(ctx, p.retry, func() error {
			v, err := p.fetchOne(ctx, inf)
			if err != nil {
				return err
			}
			val = v
			return nil
		})
		return val, err
	})
}

func (p *InfisicalProvider) fetchOne(ctx context.Context, ref reference.InfisicalRef) (SecretString, error) {
	token, err := p.currentToken(ctx)
	if err != nil {
		return "", err
	}

	env := ref.Env
	if env == "" {
		env = p.defaultEnv
	}
	project := ref.ProjectID
	if project == "" {
		project = p.defaultProject
	}
	if env == "" || project == "" {
		return "", &errs.ProviderError{
			Kind: errs.ProviderInvalidConfig,
			Key:  ref.Key,
			Err:  fmt.Errorf("reference omits env/project_id and no provider default is configured"),
		}
	}

	q := url.Values{}
	q.Set("projectId", project)
	q.Set("environment", env)
	q.Set("secretPath", ref.Path)
	q.Set("type", ref.Type)
	q.Set("expandSecretReferences", "true")
	q.Set("includeImports", "true")

	reqURL := fmt.Sprintf("%s/api/v4/secrets/%s?%s", p.baseURL, url.PathEscape(ref.Key), q.Encode())
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", &errs.ProviderError{Kind: errs.ProviderURL, Key: ref.Key, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &errs.ProviderError{Kind: errs.ProviderNetwork, Key: ref.Key, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", notFound(ref.Key)
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", &errs.ProviderError{Kind: errs.ProviderUnauthorized, Key: ref.Key, Err: fmt.Errorf("infisical rejected access token")}
	default:
		return "", &errs.ProviderError{Kind: errs.ProviderOther, Key: ref.Key, Err: fmt.Errorf("infisical api status %d", resp.StatusCode)}
	}

	var body struct {
		Secret struct {
			SecretValue string `json:"secretValue"`
		} `json:"secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &errs.ProviderError{Kind: errs.ProviderNetwork, Key: ref.Key, Err: err}
	}
	return SecretString(body.Secret.SecretValue), nil
}
