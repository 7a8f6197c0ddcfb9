package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/feedcred/internal/config"
	"github.com/systmms/feedcred/internal/credprovider"
	dserrors "github.com/systmms/feedcred/internal/errors"
)

// CheckResult is one line of the doctor report.
type CheckResult struct {
	Name       string
	Status     string
	Detail     string
	Suggestion string
}

const (
	statusOK   = "ok"
	statusFail = "error"
	statusSkip = "skipped"
)

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and the credential provider installation",
		Long: `Verify that feedcred can obtain credentials.

This command checks:
- Configuration file validity
- The configured provider type
- Credential provider location and .NET runtime, for credprovider types
- Provider construction, for other types`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			results := runChecks(cmd.Context(), cfg)
			displayCheckResults(out, results, verbose)

			failed := 0
			for _, r := range results {
				if r.Status == statusFail {
					failed++
				}
			}
			_, _ = fmt.Fprintf(out, "\nSummary: %d/%d checks passed\n", len(results)-failed, len(results))
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show suggestions for failed checks")

	return cmd
}

func runChecks(ctx context.Context, cfg *config.Config) []CheckResult {
	var results []CheckResult

	if err := loadConfig(cfg); err != nil {
		return append(results, failure("config", err))
	}
	results = append(results, CheckResult{Name: "config", Status: statusOK, Detail: cfg.Path})

	pc := cfg.Definition.Provider
	registry := newRegistry(providerEnv(cfg))
	if !registry.IsSupported(pc.Type) {
		return append(results, CheckResult{
			Name:       "provider type",
			Status:     statusFail,
			Detail:     pc.Type,
			Suggestion: "Supported types: " + strings.Join(registry.GetSupportedTypes(), ", "),
		})
	}
	results = append(results, CheckResult{Name: "provider type", Status: statusOK, Detail: pc.Type})

	if pc.IsCredProvider() {
		locator := credprovider.NewLocator(pc.ExecutablePath, pc.PluginsDir)
		inv, err := locator.Locate(ctx)
		if err != nil {
			results = append(results, failure("credential provider", err))
		} else {
			results = append(results, CheckResult{
				Name:   "credential provider",
				Status: statusOK,
				Detail: strings.TrimSpace(inv.Path + " " + strings.Join(inv.Args, " ")),
			})
		}
	} else {
		results = append(results, CheckResult{Name: "credential provider", Status: statusSkip, Detail: "not used by " + pc.Type})
	}

	if _, err := registry.CreateProvider(pc.Type, pc); err != nil {
		results = append(results, failure("provider setup", err))
	} else {
		results = append(results, CheckResult{Name: "provider setup", Status: statusOK, Detail: describeMode(pc)})
	}

	return results
}

func failure(name string, err error) CheckResult {
	r := CheckResult{Name: name, Status: statusFail, Detail: firstLine(err.Error())}

	var userErr dserrors.UserError
	var cfgErr dserrors.ConfigError
	var cmdErr dserrors.CommandError
	switch {
	case errors.As(err, &userErr):
		r.Suggestion = userErr.Suggestion
	case errors.As(err, &cfgErr):
		r.Suggestion = cfgErr.Suggestion
	case errors.As(err, &cmdErr):
		r.Suggestion = cmdErr.Suggestion
	}
	if r.Suggestion == "" && dserrors.IsRetryable(err) {
		r.Suggestion = "This looks transient. Try again"
	}
	return r
}

func describeMode(pc config.ProviderConfig) string {
	mode := "interactive"
	if pc.NonInteractive {
		mode = "non-interactive"
	}
	if timeout := pc.GetProviderTimeout(); timeout > 0 {
		return fmt.Sprintf("%s, timeout %dms", mode, timeout)
	}
	return mode + ", no timeout"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func displayCheckResults(w io.Writer, results []CheckResult, verbose bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "CHECK\tSTATUS\tDETAIL\n")
	_, _ = fmt.Fprintf(tw, "-----\t------\t------\n")
	for _, r := range results {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Status, r.Detail)
	}
	_ = tw.Flush()

	if !verbose {
		return
	}
	for _, r := range results {
		if r.Suggestion != "" {
			_, _ = fmt.Fprintf(w, "\n%s: %s\n", r.Name, r.Suggestion)
		}
	}
}
