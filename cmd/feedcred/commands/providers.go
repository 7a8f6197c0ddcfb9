package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/feedcred/internal/config"
)

func NewProvidersCommand(cfg *config.Config) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List available provider types",
		Long: `Display the credential sources feedcred can use.

The type selected by the configuration file is marked with '*'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := newRegistry(providerEnv(cfg))
			out := cmd.OutOrStdout()

			configured := ""
			if err := loadConfig(cfg); err == nil {
				configured = cfg.Definition.Provider.Type
			} else {
				cfg.Logger.Debug("Not marking the configured provider: %v", err)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "\tTYPE\tDESCRIPTION\n")
			for _, providerType := range registry.GetSupportedTypes() {
				mark := ""
				if providerType == configured {
					mark = "*"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", mark, providerType, registry.Describe(providerType))
			}
			_ = w.Flush()

			if verbose {
				_, _ = fmt.Fprintln(out, "\nProvider Details:")
				for _, providerType := range registry.GetSupportedTypes() {
					_, _ = fmt.Fprintf(out, "\n%s:\n", providerType)
					for _, detail := range providerDetails[providerType] {
						_, _ = fmt.Fprintf(out, "  • %s\n", detail)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show detailed provider information")

	return cmd
}

var providerDetails = map[string][]string{
	"credprovider": {
		"Runs CredentialProvider.Microsoft over the NuGet plugin protocol",
		"Found under ~/.nuget/plugins/netcore or provider.executable_path",
		"May prompt with a device code unless non-interactive",
	},
	"credprovider.legacy": {
		"Runs the credential provider once per request with -Uri and -OutputFormat Json",
		"For provider builds without plugin protocol support",
	},
	"azure.entra": {
		"Reads the tenant from the feed's WWW-Authenticate challenge",
		"Signs in with Azure CLI, then the default credential chain, then device code",
		"Exchanges the Entra ID token for a packaging PAT (pat_scope, pat_duration_days)",
	},
	"azure.keyvault": {
		"Reads a stored PAT from Key Vault (vault_url, secret_name)",
		"Managed identity, service principal or default credential",
	},
	"aws.secretsmanager": {
		"Reads a stored PAT from Secrets Manager (secret_id, version_stage)",
		"Use transform: json_extract:.field for JSON secrets",
	},
	"aws.ssm": {
		"Reads a stored PAT from Parameter Store (parameter)",
		"SecureString parameters are decrypted",
	},
	"gcp.secretmanager": {
		"Reads a stored PAT from Secret Manager (project_id, secret, version)",
		"Application default credentials or service_account_key_path",
	},
}
