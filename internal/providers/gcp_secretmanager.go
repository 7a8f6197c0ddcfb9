package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/feedcred/internal/config"
	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/pkg/provider"
)

// GCPSecretManagerClientAPI is the part of the Secret Manager client the
// provider uses.
type GCPSecretManagerClientAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// GCPSecretManagerProvider reads a feed PAT from Google Cloud Secret
// Manager.
type GCPSecretManagerProvider struct {
	name   string
	client GCPSecretManagerClientAPI
	logger *logging.Logger
	config GCPSecretManagerConfig
	store  storeOptions
}

// GCPSecretManagerConfig holds GCP Secret Manager-specific configuration
type GCPSecretManagerConfig struct {
	ProjectID             string
	Secret                string
	Version               string
	ServiceAccountKeyPath string
}

// GCPProviderOption configures a GCPSecretManagerProvider.
type GCPProviderOption func(*GCPSecretManagerProvider)

// WithGCPSecretManagerClient sets a custom client (for testing)
func WithGCPSecretManagerClient(client GCPSecretManagerClientAPI) GCPProviderOption {
	return func(p *GCPSecretManagerProvider) {
		p.client = client
	}
}

// NewGCPSecretManagerProvider creates a new GCP Secret Manager provider
func NewGCPSecretManagerProvider(name string, configMap map[string]interface{}, logger *logging.Logger, opts ...GCPProviderOption) (*GCPSecretManagerProvider, error) {
	config := GCPSecretManagerConfig{
		Version: "latest",
	}
	if v, ok := configMap["project_id"].(string); ok {
		config.ProjectID = v
	}
	if v, ok := configMap["secret"].(string); ok {
		config.Secret = v
	}
	if v, ok := configMap["version"].(string); ok && v != "" {
		config.Version = v
	}
	if v, ok := configMap["service_account_key_path"].(string); ok {
		config.ServiceAccountKeyPath = v
	}

	if config.Secret == "" {
		return nil, dserrors.ConfigError{
			Field:      "secret",
			Message:    "secret is required for GCP Secret Manager",
			Suggestion: "Set provider.secret to the secret name or its full resource name",
		}
	}
	if config.ProjectID == "" && !strings.HasPrefix(config.Secret, "projects/") {
		config.ProjectID = getGCPProjectID()
		if config.ProjectID == "" {
			return nil, dserrors.ConfigError{
				Field:      "project_id",
				Message:    "project_id is required for GCP Secret Manager",
				Suggestion: "Set project_id in config or GOOGLE_CLOUD_PROJECT environment variable",
			}
		}
	}

	p := &GCPSecretManagerProvider{
		name:   name,
		logger: logger,
		config: config,
		store:  parseStoreOptions(configMap),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		client, err := createGCPSecretManagerClient(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
		}
		p.client = client
	}
	return p, nil
}

func createGCPSecretManagerClient(config GCPSecretManagerConfig) (*secretmanager.Client, error) {
	var clientOptions []option.ClientOption

	if path := config.ServiceAccountKeyPath; path != "" {
		if strings.HasPrefix(path, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			path = filepath.Join(home, path[2:])
		}
		clientOptions = append(clientOptions, option.WithCredentialsFile(path))
	}

	return secretmanager.NewClient(context.Background(), clientOptions...)
}

// getGCPProjectID reads the project from the usual environment variables.
func getGCPProjectID() string {
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// Name returns the provider name
func (p *GCPSecretManagerProvider) Name() string {
	return p.name
}

// Capabilities implements provider.Provider.
func (p *GCPSecretManagerProvider) Capabilities() provider.Capabilities {
	return storeCapabilities("application_default", "service_account_key")
}

// Open implements provider.Provider.
func (p *GCPSecretManagerProvider) Open(ctx context.Context) (provider.Session, error) {
	return newStoreSession(p.name, p.fetch, p.store, p.logger), nil
}

// resourceName builds the full version resource name for the secret.
func (p *GCPSecretManagerProvider) resourceName() string {
	secret := p.config.Secret
	if strings.HasPrefix(secret, "projects/") {
		if strings.Contains(secret, "/versions/") {
			return secret
		}
		return fmt.Sprintf("%s/versions/%s", secret, p.config.Version)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", p.config.ProjectID, secret, p.config.Version)
}

func (p *GCPSecretManagerProvider) fetch(ctx context.Context) (string, error) {
	name := p.resourceName()
	p.logger.Debug("Accessing GCP secret %s", name)

	result, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", errSecretNotFound
		}
		return "", dserrors.UserError{
			Message:    fmt.Sprintf("Failed to access secret: %s", p.config.Secret),
			Details:    err.Error(),
			Suggestion: getGCPErrorSuggestion(err),
			Err:        err,
		}
	}

	if result.Payload == nil || result.Payload.Data == nil {
		return "", errSecretNotFound
	}
	return string(result.Payload.Data), nil
}

// getGCPErrorSuggestion maps gRPC status codes to hints.
func getGCPErrorSuggestion(err error) string {
	switch status.Code(err) {
	case codes.PermissionDenied:
		return "Grant roles/secretmanager.secretAccessor on the secret to your identity"
	case codes.Unauthenticated:
		return "Run 'gcloud auth application-default login' or set GOOGLE_APPLICATION_CREDENTIALS"
	case codes.FailedPrecondition:
		return "The secret version is disabled or destroyed. Enable it or point provider.version at another version"
	case codes.ResourceExhausted:
		return "Quota exceeded. Retry in a moment"
	default:
		return "Check Google Cloud authentication and the project ID"
	}
}

// NewGCPSecretManagerProviderFactory creates a GCP Secret Manager provider factory
func NewGCPSecretManagerProviderFactory(name string, cfg config.ProviderConfig, env Env) (provider.Provider, error) {
	return NewGCPSecretManagerProvider(name, cfg.Config, env.Logger)
}
