package commands

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/feedcred/internal/config"
	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/pkg/secretstore"
)

// NewKeyringCommand exposes the keyring backend the way a keyring client
// would call it.
func NewKeyringCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Query the feed keyring backend",
	}

	cmd.AddCommand(
		newKeyringGetCommand(cfg),
		newKeyringSetCommand(cfg),
		newKeyringDeleteCommand(cfg),
	)
	return cmd
}

func newCredentialSource(cfg *config.Config) (*secretstore.CredentialSource, error) {
	if err := loadConfig(cfg); err != nil {
		return nil, err
	}
	resolver, err := newResolver(cfg)
	if err != nil {
		return nil, err
	}
	kc := cfg.Definition.Keyring
	return secretstore.New(resolver, secretstore.Options{
		SupportedHosts:   kc.SupportedHosts,
		Fallback:         kc.Fallback,
		AllowInteractive: !cfg.Definition.Provider.NonInteractive,
	}, cfg.Logger), nil
}

func newKeyringGetCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get <service> [username]",
		Short: "Look up a credential, or a password when a username is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := newCredentialSource(cfg)
			if err != nil {
				return err
			}
			defer src.Purge()

			service := args[0]
			out := cmd.OutOrStdout()

			if len(args) == 2 {
				password, err := src.GetPassword(cmd.Context(), service, args[1])
				if err != nil {
					return keyringError(service, err)
				}
				_, err = fmt.Fprintln(out, password)
				return err
			}

			cred, err := src.GetCredential(cmd.Context(), service, "")
			if err != nil {
				return keyringError(service, err)
			}
			return json.NewEncoder(out).Encode(credentialOutput{Username: cred.Username, Password: cred.Password})
		},
	}
}

func newKeyringSetCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "set <service> <username>",
		Short: "Store a password, read from stdin, in the fallback OS keyring",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := newCredentialSource(cfg)
			if err != nil {
				return err
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password from stdin: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")

			if err := src.SetPassword(args[0], args[1], password); err != nil {
				return keyringError(args[0], err)
			}
			cfg.Logger.Info("Stored password for %s in the OS keyring", args[1])
			return nil
		},
	}
}

func newKeyringDeleteCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <service> <username>",
		Short: "Delete a password from the fallback OS keyring",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := newCredentialSource(cfg)
			if err != nil {
				return err
			}
			if err := src.DeletePassword(args[0], args[1]); err != nil {
				return keyringError(args[0], err)
			}
			return nil
		},
	}
}

func keyringError(service string, err error) error {
	switch {
	case errors.Is(err, secretstore.ErrNotFound):
		return dserrors.UserError{
			Message:    fmt.Sprintf("No credential for %s", service),
			Suggestion: "Only Azure Artifacts hosts are answered unless keyring.fallback is enabled",
			Err:        err,
		}
	case errors.Is(err, secretstore.ErrNotImplemented):
		return dserrors.UserError{
			Message:    "Feed credentials cannot be stored or deleted",
			Suggestion: "Set keyring.fallback: true to use the OS keyring for other services",
			Err:        err,
		}
	default:
		return err
	}
}
