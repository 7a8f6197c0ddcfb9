package commands

import (
	"os"

	"github.com/systmms/feedcred/internal/config"
	"github.com/systmms/feedcred/internal/metrics"
	"github.com/systmms/feedcred/internal/providers"
	"github.com/systmms/feedcred/internal/resolve"
	"github.com/systmms/feedcred/internal/validation"
	"github.com/systmms/feedcred/pkg/provider"
)

// ClientVersion is reported to the credential provider during Initialize.
var ClientVersion = "dev"

// newRegistry builds the provider registry. Tests swap it out to register
// fake factories.
var newRegistry = providers.NewRegistry

// loadConfig reads the config file and layers the environment on top.
func loadConfig(cfg *config.Config) error {
	if err := cfg.Load(); err != nil {
		return err
	}
	cfg.ApplyEnv(os.Getenv)
	if cfg.Definition.Metrics.Textfile != "" {
		metrics.Init()
	}
	return nil
}

func newProber(cfg *config.Config) *validation.Prober {
	probe := cfg.Definition.Probe
	return validation.NewProber(validation.ProbeConfig{
		Timeout:   probe.Timeout(),
		UserAgent: probe.UserAgent,
	}, cfg.Logger)
}

func providerEnv(cfg *config.Config) providers.Env {
	return providers.Env{Logger: cfg.Logger, ClientVersion: ClientVersion}
}

func createProvider(cfg *config.Config) (provider.Provider, error) {
	registry := newRegistry(providerEnv(cfg))
	pc := cfg.Definition.Provider
	return registry.CreateProvider(pc.Type, pc)
}

// newResolver wires the configured provider and the prober into a resolver.
func newResolver(cfg *config.Config) (*resolve.Resolver, error) {
	p, err := createProvider(cfg)
	if err != nil {
		return nil, err
	}
	pc := cfg.Definition.Provider
	return resolve.New(p, newProber(cfg), resolve.Options{
		NonInteractive: pc.NonInteractive,
		AllowDialog:    pc.AllowDialog,
		TimeoutMs:      pc.GetProviderTimeout(),
	}, cfg.Logger), nil
}
