package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/systmms/feedcred/internal/config"
	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/pkg/provider"
)

// SSMClientAPI is the part of the SSM client the provider uses.
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// AWSSSMProvider reads a feed PAT from SSM Parameter Store.
type AWSSSMProvider struct {
	name   string
	client SSMClientAPI
	logger *logging.Logger
	config SSMConfig
	store  storeOptions
}

// SSMConfig holds AWS SSM-specific configuration
type SSMConfig struct {
	Parameter      string
	Region         string
	Profile        string
	WithDecryption bool
}

// SSMProviderOption is a functional option for configuring SSM providers
type SSMProviderOption func(*AWSSSMProvider)

// WithSSMClient sets a custom SSM client (for testing)
func WithSSMClient(client SSMClientAPI) SSMProviderOption {
	return func(p *AWSSSMProvider) {
		p.client = client
	}
}

// NewAWSSSMProvider creates a new AWS SSM Parameter Store provider
func NewAWSSSMProvider(name string, configMap map[string]interface{}, logger *logging.Logger, opts ...SSMProviderOption) (*AWSSSMProvider, error) {
	config := SSMConfig{
		WithDecryption: true,
	}
	if v, ok := configMap["parameter"].(string); ok {
		config.Parameter = v
	}
	if v, ok := configMap["region"].(string); ok {
		config.Region = v
	}
	if v, ok := configMap["profile"].(string); ok {
		config.Profile = v
	}
	if v, ok := configMap["with_decryption"].(bool); ok {
		config.WithDecryption = v
	}

	if config.Parameter == "" {
		return nil, dserrors.ConfigError{
			Field:      "parameter",
			Message:    "parameter is required for AWS SSM",
			Suggestion: "Set provider.parameter to the parameter name, e.g. /feeds/azure/pat",
		}
	}

	p := &AWSSSMProvider{
		name:   name,
		logger: logger,
		config: config,
		store:  parseStoreOptions(configMap),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		client, err := createSSMClient(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSM client: %w", err)
		}
		p.client = client
	}
	return p, nil
}

func createSSMClient(config SSMConfig) (*ssm.Client, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(config.Region))
	}
	if config.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(config.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return ssm.NewFromConfig(cfg), nil
}

// Name returns the provider name
func (p *AWSSSMProvider) Name() string {
	return p.name
}

// Capabilities implements provider.Provider.
func (p *AWSSSMProvider) Capabilities() provider.Capabilities {
	return storeCapabilities("iam", "profile")
}

// Open implements provider.Provider.
func (p *AWSSSMProvider) Open(ctx context.Context) (provider.Session, error) {
	return newStoreSession(p.name, p.fetch, p.store, p.logger), nil
}

func (p *AWSSSMProvider) fetch(ctx context.Context) (string, error) {
	p.logger.Debug("Reading SSM parameter %s", p.config.Parameter)

	result, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(p.config.Parameter),
		WithDecryption: aws.Bool(p.config.WithDecryption),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", errSecretNotFound
		}
		return "", dserrors.UserError{
			Message:    fmt.Sprintf("Failed to read parameter %s", p.config.Parameter),
			Details:    err.Error(),
			Suggestion: getSSMErrorSuggestion(err),
			Err:        err,
		}
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", errSecretNotFound
	}
	return *result.Parameter.Value, nil
}

// getSSMErrorSuggestion provides helpful suggestions based on SSM errors
func getSSMErrorSuggestion(err error) string {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "accessdenied"):
		return "Check IAM permissions: ssm:GetParameter and kms:Decrypt (for SecureString)"
	case strings.Contains(errStr, "invalidkeyid"):
		return "The KMS key for this SecureString parameter may not exist or you lack kms:Decrypt permission"
	case strings.Contains(errStr, "throttl"):
		return "Request was throttled. Retry in a moment"
	case strings.Contains(errStr, "region"):
		return "Check that you're using the correct AWS region where the parameter is stored"
	default:
		return "Check AWS credentials, region, and IAM permissions for SSM Parameter Store"
	}
}

// NewAWSSSMProviderFactory creates an AWS SSM provider factory
func NewAWSSSMProviderFactory(name string, cfg config.ProviderConfig, env Env) (provider.Provider, error) {
	return NewAWSSSMProvider(name, cfg.Config, env.Logger)
}
