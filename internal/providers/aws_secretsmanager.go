package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/systmms/feedcred/internal/config"
	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/pkg/provider"
)

// SecretsManagerClientAPI is the part of the Secrets Manager client the
// provider uses.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManagerProvider reads a feed PAT from AWS Secrets Manager.
type AWSSecretsManagerProvider struct {
	name   string
	client SecretsManagerClientAPI
	logger *logging.Logger
	config AWSSecretsManagerConfig
	store  storeOptions
}

// AWSSecretsManagerConfig holds Secrets Manager settings.
type AWSSecretsManagerConfig struct {
	SecretID     string
	VersionStage string
	Region       string
	Profile      string

	// Endpoint, AccessKeyID and SecretAccessKey target LocalStack and
	// similar test setups.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// SecretsManagerOption configures an AWSSecretsManagerProvider.
type SecretsManagerOption func(*AWSSecretsManagerProvider)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(p *AWSSecretsManagerProvider) {
		p.client = client
	}
}

// NewAWSSecretsManagerProvider creates a new AWS Secrets Manager provider
func NewAWSSecretsManagerProvider(name string, configMap map[string]interface{}, logger *logging.Logger, opts ...SecretsManagerOption) (*AWSSecretsManagerProvider, error) {
	config := AWSSecretsManagerConfig{
		Region: "us-east-1",
	}
	if v, ok := configMap["secret_id"].(string); ok {
		config.SecretID = v
	}
	if v, ok := configMap["version_stage"].(string); ok {
		config.VersionStage = v
	}
	if v, ok := configMap["region"].(string); ok && v != "" {
		config.Region = v
	}
	if v, ok := configMap["profile"].(string); ok {
		config.Profile = v
	}
	if v, ok := configMap["endpoint"].(string); ok {
		config.Endpoint = v
	}
	if v, ok := configMap["access_key_id"].(string); ok {
		config.AccessKeyID = v
	}
	if v, ok := configMap["secret_access_key"].(string); ok {
		config.SecretAccessKey = v
	}

	if config.SecretID == "" {
		return nil, dserrors.ConfigError{
			Field:      "secret_id",
			Message:    "secret_id is required for AWS Secrets Manager",
			Suggestion: "Set provider.secret_id to the name or ARN of the secret holding the feed PAT",
		}
	}

	p := &AWSSecretsManagerProvider{
		name:   name,
		logger: logger,
		config: config,
		store:  parseStoreOptions(configMap),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		client, err := createSecretsManagerClient(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create Secrets Manager client: %w", err)
		}
		p.client = client
	}
	return p, nil
}

func createSecretsManagerClient(config AWSSecretsManagerConfig) (*secretsmanager.Client, error) {
	configOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(config.Profile))
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*secretsmanager.Options)
	if config.Endpoint != "" {
		endpoint := config.Endpoint
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return secretsmanager.NewFromConfig(cfg, clientOpts...), nil
}

// Name returns the provider name
func (p *AWSSecretsManagerProvider) Name() string {
	return p.name
}

// Capabilities implements provider.Provider.
func (p *AWSSecretsManagerProvider) Capabilities() provider.Capabilities {
	return storeCapabilities("iam", "profile", "static_keys")
}

// Open implements provider.Provider.
func (p *AWSSecretsManagerProvider) Open(ctx context.Context) (provider.Session, error) {
	return newStoreSession(p.name, p.fetch, p.store, p.logger), nil
}

func (p *AWSSecretsManagerProvider) fetch(ctx context.Context) (string, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.config.SecretID),
	}
	if p.config.VersionStage != "" {
		input.VersionStage = aws.String(p.config.VersionStage)
	}

	p.logger.Debug("Reading %s from Secrets Manager in %s", p.config.SecretID, p.config.Region)
	result, err := p.client.GetSecretValue(ctx, input)
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", errSecretNotFound
		}
		return "", dserrors.UserError{
			Message:    fmt.Sprintf("Failed to read secret %s", p.config.SecretID),
			Details:    err.Error(),
			Suggestion: getSecretsManagerErrorSuggestion(err),
			Err:        err,
		}
	}

	switch {
	case result.SecretString != nil:
		return *result.SecretString, nil
	case result.SecretBinary != nil:
		return string(result.SecretBinary), nil
	default:
		return "", errSecretNotFound
	}
}

func getSecretsManagerErrorSuggestion(err error) string {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "accessdenied"):
		return "Check IAM permissions: secretsmanager:GetSecretValue (and kms:Decrypt for customer-managed keys)"
	case strings.Contains(errStr, "decryptionfailure"):
		return "The KMS key for this secret is unavailable or you lack kms:Decrypt permission"
	case strings.Contains(errStr, "throttl"):
		return "Request was throttled. Retry in a moment"
	case strings.Contains(errStr, "no ec2 imds role") || strings.Contains(errStr, "credentials"):
		return "Configure AWS credentials: run 'aws configure', set AWS_PROFILE, or use an instance role"
	default:
		return "Check AWS credentials, region, and IAM permissions for Secrets Manager"
	}
}

// NewAWSSecretsManagerProviderFactory creates an AWS Secrets Manager provider factory
func NewAWSSecretsManagerProviderFactory(name string, cfg config.ProviderConfig, env Env) (provider.Provider, error) {
	return NewAWSSecretsManagerProvider(name, cfg.Config, env.Logger)
}
