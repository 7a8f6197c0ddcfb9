package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/feedcred/internal/config"
	dserrors "github.com/systmms/feedcred/internal/errors"
)

type credentialOutput struct {
	Username string `json:"Username"`
	Password string `json:"Password"`
}

func NewGetCommand(cfg *config.Config) *cobra.Command {
	var passwordOnly bool

	cmd := &cobra.Command{
		Use:   "get <feed-url>",
		Short: "Get credentials for a feed",
		Long: `Obtain a username and password for a package feed.

The feed is first tried anonymously. If it needs authentication, the
configured provider is asked for credentials, which are checked against the
feed and refreshed once if they are stale. Upload endpoints skip the
anonymous check.

Examples:
  # JSON for scripts and tooling
  feedcred get https://pkgs.dev.azure.com/org/_packaging/feed/pypi/simple/

  # Just the password
  export TWINE_PASSWORD=$(feedcred get --password https://pkgs.dev.azure.com/org/_packaging/feed/pypi/upload/)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cfg); err != nil {
				return err
			}

			resolver, err := newResolver(cfg)
			if err != nil {
				return err
			}

			endpoint := args[0]
			cred, err := resolver.GetCredentials(cmd.Context(), endpoint, !cfg.Definition.Provider.NonInteractive)
			if err != nil {
				return err
			}

			if cred.IsEmpty() {
				cfg.Logger.Info("No credentials needed or available for %s", endpoint)
			}

			out := cmd.OutOrStdout()
			if passwordOnly {
				if cred.Secret == "" {
					return dserrors.UserError{
						Message:    fmt.Sprintf("No password for %s", endpoint),
						Suggestion: "Run 'feedcred probe' to check whether the feed allows anonymous access",
					}
				}
				_, err := fmt.Fprintln(out, cred.Secret)
				return err
			}

			enc := json.NewEncoder(out)
			return enc.Encode(credentialOutput{Username: cred.Username, Password: cred.Secret})
		},
	}

	cmd.Flags().BoolVar(&passwordOnly, "password", false, "Print only the password")

	return cmd
}
