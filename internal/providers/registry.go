package providers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/systmms/feedcred/internal/config"
	"github.com/systmms/feedcred/internal/credprovider"
	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/pkg/provider"
)

// Env carries process-wide values every factory may need.
type Env struct {
	Logger *logging.Logger

	// ClientVersion is reported to the credential provider in Initialize.
	ClientVersion string
}

// ProviderFactory creates a provider instance from configuration
type ProviderFactory func(name string, cfg config.ProviderConfig, env Env) (provider.Provider, error)

type registration struct {
	factory     ProviderFactory
	description string
}

// Registry manages provider creation and registration
type Registry struct {
	env       Env
	factories map[string]registration
}

// NewRegistry creates a new provider registry with built-in providers
func NewRegistry(env Env) *Registry {
	if env.Logger == nil {
		env.Logger = logging.New(false, true)
	}
	registry := &Registry{
		env:       env,
		factories: make(map[string]registration),
	}

	registry.RegisterFactory(config.TypeCredProvider, "Azure Artifacts credential provider over the plugin protocol", NewCredProviderFactory)
	registry.RegisterFactory(config.TypeCredProviderLegacy, "Azure Artifacts credential provider, one process per request", NewCredProviderFactory)
	registry.RegisterFactory("azure.entra", "Entra ID sign-in exchanged for a feed PAT", NewAzureEntraProviderFactory)
	registry.RegisterFactory("azure.keyvault", "Feed PAT stored in Azure Key Vault", NewAzureKeyVaultProviderFactory)
	registry.RegisterFactory("aws.secretsmanager", "Feed PAT stored in AWS Secrets Manager", NewAWSSecretsManagerProviderFactory)
	registry.RegisterFactory("aws.ssm", "Feed PAT stored in AWS SSM Parameter Store", NewAWSSSMProviderFactory)
	registry.RegisterFactory("gcp.secretmanager", "Feed PAT stored in Google Cloud Secret Manager", NewGCPSecretManagerProviderFactory)

	return registry
}

// RegisterFactory registers a provider factory for a given type
func (r *Registry) RegisterFactory(providerType, description string, factory ProviderFactory) {
	r.factories[providerType] = registration{factory: factory, description: description}
}

// CreateProvider creates a provider instance from configuration
func (r *Registry) CreateProvider(name string, cfg config.ProviderConfig) (provider.Provider, error) {
	reg, exists := r.factories[cfg.Type]
	if !exists {
		return nil, fmt.Errorf("unknown provider type: %s (supported: %s)", cfg.Type, strings.Join(r.GetSupportedTypes(), ", "))
	}
	return reg.factory(name, cfg, r.env)
}

// GetSupportedTypes returns the registered provider types, sorted.
func (r *Registry) GetSupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for providerType := range r.factories {
		types = append(types, providerType)
	}
	sort.Strings(types)
	return types
}

// Describe returns the one-line description of a provider type.
func (r *Registry) Describe(providerType string) string {
	return r.factories[providerType].description
}

// IsSupported checks if a provider type is supported
func (r *Registry) IsSupported(providerType string) bool {
	_, exists := r.factories[providerType]
	return exists
}

// NewCredProviderFactory creates a provider that runs the credential
// provider executable, in plugin or legacy mode depending on cfg.Type.
func NewCredProviderFactory(name string, cfg config.ProviderConfig, env Env) (provider.Provider, error) {
	locator := credprovider.NewLocator(cfg.ExecutablePath, cfg.PluginsDir)
	opts := credprovider.Options{
		Legacy: cfg.Type == config.TypeCredProviderLegacy,
		Session: credprovider.SessionOptions{
			ClientVersion:  env.ClientVersion,
			Culture:        cfg.Culture,
			RequestTimeout: cfg.RequestTimeout(),
			ReadTimeout:    cfg.ReadTimeout(),
			LogLevel:       cfg.LogLevel,
		},
	}
	return credprovider.NewProvider(name, locator, opts, env.Logger), nil
}
