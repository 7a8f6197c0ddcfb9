package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/internal/logging"
)

// AzureIdentityConfig selects how Key Vault authenticates.
type AzureIdentityConfig struct {
	TenantID           string
	ClientID           string
	ClientSecret       string
	UseManagedIdentity bool
	UserAssignedID     string
}

func parseAzureIdentityConfig(configMap map[string]interface{}) AzureIdentityConfig {
	var config AzureIdentityConfig
	if v, ok := configMap["tenant_id"].(string); ok {
		config.TenantID = v
	}
	if v, ok := configMap["client_id"].(string); ok {
		config.ClientID = v
	}
	if v, ok := configMap["client_secret"].(string); ok {
		config.ClientSecret = v
	}
	if v, ok := configMap["use_managed_identity"].(bool); ok {
		config.UseManagedIdentity = v
	}
	if v, ok := configMap["user_assigned_identity_id"].(string); ok {
		config.UserAssignedID = v
	}
	return config
}

// createAzureCredential creates an Azure credential based on configuration
func createAzureCredential(config AzureIdentityConfig) (azcore.TokenCredential, error) {
	var cred azcore.TokenCredential
	var err error

	switch {
	case config.UseManagedIdentity:
		var opts *azidentity.ManagedIdentityCredentialOptions
		if config.UserAssignedID != "" {
			opts = &azidentity.ManagedIdentityCredentialOptions{
				ID: azidentity.ClientID(config.UserAssignedID),
			}
		}
		cred, err = azidentity.NewManagedIdentityCredential(opts)
	case config.ClientSecret != "":
		if config.TenantID == "" || config.ClientID == "" {
			return nil, dserrors.ConfigError{
				Field:      "client_secret",
				Message:    "tenant_id and client_id are required for service principal authentication",
				Suggestion: "Set provider.tenant_id and provider.client_id next to client_secret",
			}
		}
		cred, err = azidentity.NewClientSecretCredential(config.TenantID, config.ClientID, config.ClientSecret, nil)
	default:
		cred, err = azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
			TenantID: config.TenantID,
		})
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return cred, nil
}

// EntraCredentialOptions describes the sign-in an Entra ID token is
// requested with. Authority and TenantID come from the feed's
// WWW-Authenticate challenge.
type EntraCredentialOptions struct {
	AuthorityHost  string
	TenantID       string
	ClientID       string
	NonInteractive bool
}

// CredentialFactory builds the credential used to acquire Entra ID tokens.
type CredentialFactory func(opts EntraCredentialOptions) (azcore.TokenCredential, error)

// chainedEntraCredential tries Azure CLI, then the default chain
// (environment, workload identity, managed identity), then device code
// sign-in when prompting is allowed. Device code instructions go to the
// diagnostics stream.
func chainedEntraCredential(logger *logging.Logger) CredentialFactory {
	return func(opts EntraCredentialOptions) (azcore.TokenCredential, error) {
		clientOpts := azcore.ClientOptions{
			Cloud: cloud.Configuration{ActiveDirectoryAuthorityHost: opts.AuthorityHost},
		}

		var sources []azcore.TokenCredential

		cli, err := azidentity.NewAzureCLICredential(&azidentity.AzureCLICredentialOptions{
			TenantID: opts.TenantID,
		})
		if err == nil {
			sources = append(sources, cli)
		} else {
			logger.Debug("Azure CLI credential unavailable: %v", err)
		}

		def, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
			ClientOptions: clientOpts,
			TenantID:      opts.TenantID,
		})
		if err == nil {
			sources = append(sources, def)
		} else {
			logger.Debug("Default Azure credential unavailable: %v", err)
		}

		if !opts.NonInteractive {
			dc, err := azidentity.NewDeviceCodeCredential(&azidentity.DeviceCodeCredentialOptions{
				ClientOptions: clientOpts,
				TenantID:      opts.TenantID,
				ClientID:      opts.ClientID,
				UserPrompt: func(ctx context.Context, msg azidentity.DeviceCodeMessage) error {
					logger.Diagnostic(msg.Message)
					return nil
				},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create device code credential: %w", err)
			}
			sources = append(sources, dc)
		}

		if len(sources) == 0 {
			return nil, dserrors.UserError{
				Message:    "No Azure credential is available",
				Suggestion: "Run 'az login', or allow interactive sign-in by unsetting ARTIFACTS_KEYRING_NONINTERACTIVE_MODE",
			}
		}
		return azidentity.NewChainedTokenCredential(sources, nil)
	}
}

// getAzureIdentityErrorSuggestion provides helpful suggestions based on Azure Identity errors
func getAzureIdentityErrorSuggestion(err error) string {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "device code") || strings.Contains(errStr, "authorization_pending"):
		return "Complete the device code sign-in shown above, or run 'az login' first"
	case strings.Contains(errStr, "invalid_client") || strings.Contains(errStr, "unauthorized_client"):
		return "Check the client ID and that it is registered in the feed's tenant"
	case strings.Contains(errStr, "tenant"):
		return "Check that you are signed in to the tenant that owns the Azure DevOps organization"
	case strings.Contains(errStr, "az login") || strings.Contains(errStr, "azure cli"):
		return "Try running 'az login' to authenticate with Azure CLI"
	case strings.Contains(errStr, "timeout"):
		return "Network timeout - check connectivity to Azure endpoints"
	default:
		return "Check Azure credentials and network connectivity. Try 'az login'"
	}
}
