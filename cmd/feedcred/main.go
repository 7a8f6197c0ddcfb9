package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/systmms/feedcred/cmd/feedcred/commands"
	"github.com/systmms/feedcred/internal/config"
	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	memguard.CatchInterrupt()

	err := run()
	memguard.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile     string
		noColor        bool
		debug          bool
		nonInteractive bool
	)

	cfg := &config.Config{}
	commands.ClientVersion = version

	rootCmd := &cobra.Command{
		Use:   "feedcred",
		Short: "Credentials for Azure Artifacts package feeds",
		Long: `feedcred obtains credentials for Azure Artifacts feeds by driving the
Azure Artifacts Credential Provider, or from an alternate source such as
Entra ID or a cloud secret store, and checks them against the feed.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
			cfg.NonInteractive = nonInteractive
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt for sign-in")

	rootCmd.AddCommand(
		commands.NewGetCommand(cfg),
		commands.NewProbeCommand(cfg),
		commands.NewKeyringCommand(cfg),
		commands.NewDoctorCommand(cfg),
		commands.NewProvidersCommand(cfg),
		commands.NewCompletionCommand(cfg),
	)

	err := rootCmd.Execute()

	if cfg.Definition != nil && cfg.Definition.Metrics.Textfile != "" {
		if werr := metrics.WriteTextfile(cfg.Definition.Metrics.Textfile); werr != nil {
			cfg.Logger.Warn("Failed to write metrics to %s: %v", cfg.Definition.Metrics.Textfile, werr)
		}
	}
	return err
}
