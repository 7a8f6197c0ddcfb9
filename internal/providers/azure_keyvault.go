package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/systmms/feedcred/internal/config"
	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/pkg/provider"
)

// AzureKeyVaultClientAPI is the part of the Key Vault client the provider
// uses.
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// AzureKeyVaultProvider reads a feed PAT from Azure Key Vault.
type AzureKeyVaultProvider struct {
	name   string
	client AzureKeyVaultClientAPI
	logger *logging.Logger
	config AzureKeyVaultConfig
	store  storeOptions
}

// AzureKeyVaultConfig holds Azure Key Vault-specific configuration
type AzureKeyVaultConfig struct {
	VaultURL   string
	SecretName string
	Version    string
	Identity   AzureIdentityConfig
}

// AzureProviderOption is a functional option for configuring Azure providers
type AzureProviderOption func(*AzureKeyVaultProvider)

// WithAzureKeyVaultClient sets a custom Azure Key Vault client (for testing)
func WithAzureKeyVaultClient(client AzureKeyVaultClientAPI) AzureProviderOption {
	return func(p *AzureKeyVaultProvider) {
		p.client = client
	}
}

// NewAzureKeyVaultProvider creates a new Azure Key Vault provider
func NewAzureKeyVaultProvider(name string, configMap map[string]interface{}, logger *logging.Logger, opts ...AzureProviderOption) (*AzureKeyVaultProvider, error) {
	config := AzureKeyVaultConfig{
		Identity: parseAzureIdentityConfig(configMap),
	}
	if v, ok := configMap["vault_url"].(string); ok {
		config.VaultURL = v
	}
	if v, ok := configMap["secret_name"].(string); ok {
		config.SecretName = v
	}
	if v, ok := configMap["version"].(string); ok {
		config.Version = v
	}

	if config.VaultURL == "" {
		return nil, dserrors.ConfigError{
			Field:      "vault_url",
			Message:    "vault_url is required for Azure Key Vault",
			Suggestion: "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)",
		}
	}
	if u, err := url.Parse(config.VaultURL); err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, dserrors.ConfigError{
			Field:      "vault_url",
			Value:      config.VaultURL,
			Message:    "Invalid vault_url format",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}
	if config.SecretName == "" {
		return nil, dserrors.ConfigError{
			Field:      "secret_name",
			Message:    "secret_name is required for Azure Key Vault",
			Suggestion: "Set provider.secret_name to the Key Vault secret holding the feed PAT",
		}
	}

	p := &AzureKeyVaultProvider{
		name:   name,
		logger: logger,
		config: config,
		store:  parseStoreOptions(configMap),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		cred, err := createAzureCredential(config.Identity)
		if err != nil {
			return nil, err
		}
		client, err := azsecrets.NewClient(config.VaultURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
		}
		p.client = client
	}
	return p, nil
}

// Name returns the provider name
func (p *AzureKeyVaultProvider) Name() string {
	return p.name
}

// Capabilities implements provider.Provider.
func (p *AzureKeyVaultProvider) Capabilities() provider.Capabilities {
	return storeCapabilities("managed_identity", "service_principal", "azure_cli")
}

// Open implements provider.Provider.
func (p *AzureKeyVaultProvider) Open(ctx context.Context) (provider.Session, error) {
	return newStoreSession(p.name, p.fetch, p.store, p.logger), nil
}

func (p *AzureKeyVaultProvider) fetch(ctx context.Context) (string, error) {
	p.logger.Debug("Reading %s from %s", p.config.SecretName, p.config.VaultURL)

	resp, err := p.client.GetSecret(ctx, p.config.SecretName, p.config.Version, nil)
	if err != nil {
		if isAzureNotFoundError(err) {
			return "", errSecretNotFound
		}
		return "", dserrors.UserError{
			Message:    fmt.Sprintf("Failed to read secret %s", p.config.SecretName),
			Details:    err.Error(),
			Suggestion: getAzureErrorSuggestion(err),
			Err:        err,
		}
	}

	if resp.Value == nil {
		return "", errSecretNotFound
	}
	return *resp.Value, nil
}

// isAzureNotFoundError checks if the error indicates a secret was not found
func isAzureNotFoundError(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return strings.Contains(err.Error(), "SecretNotFound")
}

// getAzureErrorSuggestion provides helpful suggestions based on Azure errors
func getAzureErrorSuggestion(err error) string {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "forbidden") || strings.Contains(errStr, "access denied"):
		return "Check Key Vault access policies or RBAC: 'Get' permission is required for secrets"
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "401"):
		return "Check authentication: verify managed identity, service principal, or Azure CLI login"
	case strings.Contains(errStr, "throttled") || strings.Contains(errStr, "429"):
		return "Request was throttled. Retry in a moment"
	case strings.Contains(errStr, "tenant"):
		return "Check that the tenant ID is correct and the application is registered"
	default:
		return "Check Azure credentials, Key Vault URL, and access policies"
	}
}

// NewAzureKeyVaultProviderFactory creates an Azure Key Vault provider factory
func NewAzureKeyVaultProviderFactory(name string, cfg config.ProviderConfig, env Env) (provider.Provider, error) {
	return NewAzureKeyVaultProvider(name, cfg.Config, env.Logger)
}
