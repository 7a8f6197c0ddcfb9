package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/systmms/feedcred/internal/config"
	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/pkg/provider"
)

// Entra ID application and resource used by the Azure Artifacts
// credential provider.
const (
	DefaultEntraClientID = "872cd9fa-d31f-45e0-9eab-6e460a02d1f1"
	DefaultEntraScope    = "499b84ac-1321-427f-aa17-267ca6975798/.default"
	DefaultPATScope      = "vso.packaging_write"
	DefaultPATDays       = 90

	patRoute       = "/_apis/tokens/pats?api-version=7.1-preview.1"
	patDisplayName = "feedcred Azure Artifacts credential"

	headerAuthenticate  = "WWW-Authenticate"
	headerVSSAuthorizer = "X-VSS-AuthorizationEndpoint"
)

// HTTPDoer sends HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AzureEntraConfig holds settings for minting feed PATs from an Entra ID
// sign-in.
type AzureEntraConfig struct {
	ClientID string
	Scope    string
	PATScope string
	PATDays  int
	Username string
}

// AzureEntraProvider discovers the feed's tenant from its authentication
// challenge, signs in to Entra ID, and exchanges the bearer token for a
// short-lived personal access token.
type AzureEntraProvider struct {
	name          string
	logger        *logging.Logger
	config        AzureEntraConfig
	client        HTTPDoer
	newCredential CredentialFactory
	now           func() time.Time

	mu     sync.Mutex
	tokens map[string]*TokenCache
}

// EntraOption configures an AzureEntraProvider.
type EntraOption func(*AzureEntraProvider)

// WithEntraHTTPClient replaces the HTTP client used for discovery and the
// PAT exchange.
func WithEntraHTTPClient(client HTTPDoer) EntraOption {
	return func(p *AzureEntraProvider) { p.client = client }
}

// WithCredentialFactory replaces how Entra ID credentials are built.
func WithCredentialFactory(f CredentialFactory) EntraOption {
	return func(p *AzureEntraProvider) { p.newCredential = f }
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) EntraOption {
	return func(p *AzureEntraProvider) { p.now = now }
}

// NewAzureEntraProvider creates an Entra ID provider.
func NewAzureEntraProvider(name string, configMap map[string]interface{}, logger *logging.Logger, opts ...EntraOption) (*AzureEntraProvider, error) {
	config := AzureEntraConfig{
		ClientID: DefaultEntraClientID,
		Scope:    DefaultEntraScope,
		PATScope: DefaultPATScope,
		PATDays:  DefaultPATDays,
		Username: DefaultUsername,
	}
	if v, ok := configMap["client_id"].(string); ok && v != "" {
		config.ClientID = v
	}
	if v, ok := configMap["scope"].(string); ok && v != "" {
		config.Scope = v
	}
	if v, ok := configMap["pat_scope"].(string); ok && v != "" {
		config.PATScope = v
	}
	if v, ok := configMap["username"].(string); ok && v != "" {
		config.Username = v
	}
	switch v := configMap["pat_duration_days"].(type) {
	case int:
		config.PATDays = v
	case string:
		days, err := strconv.Atoi(v)
		if err != nil {
			return nil, dserrors.ConfigError{
				Field:      "pat_duration_days",
				Value:      v,
				Message:    "pat_duration_days must be a whole number of days",
				Suggestion: "Use a value such as 7 or 90",
			}
		}
		config.PATDays = days
	}
	if config.PATDays <= 0 {
		return nil, dserrors.ConfigError{
			Field:      "pat_duration_days",
			Value:      config.PATDays,
			Message:    "pat_duration_days must be positive",
			Suggestion: "Use a value such as 7 or 90",
		}
	}

	p := &AzureEntraProvider{
		name:   name,
		logger: logger,
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
		tokens: make(map[string]*TokenCache),
	}
	p.newCredential = chainedEntraCredential(logger)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name
func (p *AzureEntraProvider) Name() string {
	return p.name
}

// Capabilities implements provider.Provider.
func (p *AzureEntraProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Interactive: true,
		HonorsRetry: true,
		AuthMethods: []string{"azure_cli", "default_credential", "device_code"},
	}
}

// Open implements provider.Provider.
func (p *AzureEntraProvider) Open(ctx context.Context) (provider.Session, error) {
	return &entraSession{p: p}, nil
}

type entraSession struct {
	p      *AzureEntraProvider
	closed bool
}

// GetCredentials implements provider.Session. A retry skips the cached
// bearer token.
func (s *entraSession) GetCredentials(ctx context.Context, req provider.Request) (provider.Credential, error) {
	if s.closed {
		return provider.Credential{}, fmt.Errorf("%s session is closed", s.p.name)
	}
	p := s.p

	authority, tokenService, err := p.discover(ctx, req.Endpoint)
	if err != nil {
		return provider.Credential{}, err
	}

	bearer, err := p.bearerToken(ctx, authority, req)
	if err != nil {
		return provider.Credential{}, err
	}

	pat, err := p.exchangeForPAT(ctx, tokenService, bearer)
	if err != nil {
		return provider.Credential{}, err
	}
	p.logger.AddSecret(pat)

	return provider.Credential{Username: p.config.Username, Secret: pat}, nil
}

func (s *entraSession) Close() error {
	s.closed = true
	return nil
}

// discover reads the Entra authority and the token service from the
// feed's response to an anonymous GET.
func (p *AzureEntraProvider) discover(ctx context.Context, endpoint string) (authority, tokenService string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", "", fmt.Errorf("invalid feed URL %q: %w", endpoint, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to reach %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	authority = ParseBearerAuthority(resp.Header.Get(headerAuthenticate))
	tokenService = strings.TrimSpace(resp.Header.Get(headerVSSAuthorizer))
	if authority == "" || tokenService == "" {
		return "", "", dserrors.UserError{
			Message:    fmt.Sprintf("%s did not advertise an Entra ID authority", endpoint),
			Details:    fmt.Sprintf("status %d, %s=%q, %s=%q", resp.StatusCode, headerAuthenticate, resp.Header.Get(headerAuthenticate), headerVSSAuthorizer, tokenService),
			Suggestion: "The azure.entra provider only works with Azure DevOps feeds. Use provider.type credprovider for other hosts",
		}
	}
	p.logger.Debug("Feed authority %s, token service %s", authority, tokenService)
	return authority, tokenService, nil
}

// ParseBearerAuthority extracts authorization_uri from the first challenge
// of a WWW-Authenticate header such as
// `Bearer authorization_uri=https://login.microsoftonline.com/<tenant>, Basic realm="..."`.
func ParseBearerAuthority(header string) string {
	first := strings.TrimSpace(strings.SplitN(header, ",", 2)[0])
	const prefix = "Bearer authorization_uri="
	if !strings.HasPrefix(first, prefix) {
		return ""
	}
	return strings.Trim(strings.TrimPrefix(first, prefix), `"`)
}

// splitAuthority splits "https://login.microsoftonline.com/<tenant>" into
// the authority host (with a trailing slash) and the tenant.
func splitAuthority(authority string) (host, tenant string) {
	authority = strings.TrimSuffix(authority, "/")
	i := strings.LastIndex(authority, "/")
	if i < 0 || i < len("https://") {
		return authority + "/", ""
	}
	return authority[:i+1], authority[i+1:]
}

func (p *AzureEntraProvider) tokenCache(authority string) *TokenCache {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.tokens[authority]
	if !ok {
		c = NewTokenCache()
		c.now = p.now
		p.tokens[authority] = c
	}
	return c
}

func (p *AzureEntraProvider) bearerToken(ctx context.Context, authority string, req provider.Request) (string, error) {
	cache := p.tokenCache(authority)
	if req.IsRetry {
		cache.Clear()
	} else if token, ok := cache.Get(); ok {
		p.logger.Debug("Using cached Entra ID token (%s left)", cache.TTL().Round(time.Second))
		return token, nil
	}

	host, tenant := splitAuthority(authority)
	cred, err := p.newCredential(EntraCredentialOptions{
		AuthorityHost:  host,
		TenantID:       tenant,
		ClientID:       p.config.ClientID,
		NonInteractive: req.NonInteractive,
	})
	if err != nil {
		return "", err
	}

	token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{p.config.Scope}})
	if err != nil {
		return "", dserrors.UserError{
			Message:    "Failed to get an Entra ID token",
			Details:    err.Error(),
			Suggestion: getAzureIdentityErrorSuggestion(err),
			Err:        ToAuthError(p.name, err),
		}
	}
	p.logger.AddSecret(token.Token)
	cache.Set(token.Token, token.ExpiresOn.Sub(p.now()))
	return token.Token, nil
}

type patRequest struct {
	DisplayName string `json:"displayName"`
	Scope       string `json:"scope"`
	ValidTo     string `json:"validTo"`
	AllOrgs     bool   `json:"allOrgs"`
}

type patResponse struct {
	PATToken struct {
		Token string `json:"token"`
	} `json:"patToken"`
	PATTokenError string `json:"patTokenError"`
}

// exchangeForPAT creates a personal access token on the token service.
func (p *AzureEntraProvider) exchangeForPAT(ctx context.Context, tokenService, bearer string) (string, error) {
	body, err := json.Marshal(patRequest{
		DisplayName: patDisplayName,
		Scope:       p.config.PATScope,
		ValidTo:     p.now().UTC().AddDate(0, 0, p.config.PATDays).Format("2006-01-02T15:04:05Z"),
		AllOrgs:     false,
	})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(tokenService, "/") + patRoute
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("invalid token service URL %q: %w", tokenService, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "feedcred")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach token service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read token service response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", dserrors.UserError{
			Message:    fmt.Sprintf("Token service rejected the PAT request (status %d)", resp.StatusCode),
			Details:    strings.TrimSpace(string(data)),
			Suggestion: "Check that your account can create personal access tokens in this organization",
		}
	}

	var out patResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("token service returned invalid JSON: %w", err)
	}
	if out.PATToken.Token == "" {
		msg := out.PATTokenError
		if msg == "" {
			msg = "response has no patToken.token"
		}
		return "", fmt.Errorf("token service did not return a PAT: %s", msg)
	}
	return out.PATToken.Token, nil
}

// NewAzureEntraProviderFactory creates an Entra ID provider factory
func NewAzureEntraProviderFactory(name string, cfg config.ProviderConfig, env Env) (provider.Provider, error) {
	return NewAzureEntraProvider(name, cfg.Config, env.Logger)
}
