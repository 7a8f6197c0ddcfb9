package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/internal/logging"
)

// DefaultPath is the configuration file read when --config is not given.
const DefaultPath = "feedcred.yaml"

// Environment variables honoured on top of the file.
const (
	EnvNonInteractive = "ARTIFACTS_KEYRING_NONINTERACTIVE_MODE"
	EnvProviderPath   = "ARTIFACTS_CREDENTIAL_PROVIDER_PATH"
)

// Provider types that drive the credential provider executable.
const (
	TypeCredProvider       = "credprovider"
	TypeCredProviderLegacy = "credprovider.legacy"
)

//go:embed schema.json
var schemaJSON string

// Config holds the runtime configuration
type Config struct {
	Path           string
	Logger         *logging.Logger
	NonInteractive bool
	Definition     *Definition
}

// Definition represents the feedcred.yaml structure
type Definition struct {
	Version  int            `yaml:"version"`
	Provider ProviderConfig `yaml:"provider"`
	Probe    ProbeConfig    `yaml:"probe"`
	Keyring  KeyringConfig  `yaml:"keyring"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ProviderConfig selects and configures the credential source. Keys not
// listed here are kept in Config for type-specific settings (vault_url,
// secret_id, region and so on).
type ProviderConfig struct {
	Type             string `yaml:"type"`
	ExecutablePath   string `yaml:"executable_path,omitempty"`
	PluginsDir       string `yaml:"plugins_dir,omitempty"`
	NonInteractive   bool   `yaml:"non_interactive,omitempty"`
	AllowDialog      bool   `yaml:"allow_dialog"`
	TimeoutMs        int    `yaml:"timeout_ms,omitempty"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms,omitempty"`
	ReadTimeoutMs    int    `yaml:"read_timeout_ms,omitempty"`
	LogLevel         string `yaml:"log_level,omitempty"`
	Culture          string `yaml:"culture,omitempty"`

	Config map[string]interface{} `yaml:",inline"`
}

// ProbeConfig configures the feed probe.
type ProbeConfig struct {
	TimeoutMs int    `yaml:"timeout_ms,omitempty"`
	UserAgent string `yaml:"user_agent,omitempty"`
}

// KeyringConfig configures the keyring backend.
type KeyringConfig struct {
	SupportedHosts []string `yaml:"supported_hosts,omitempty"`

	// Fallback forwards writes and deletes to the OS keyring.
	Fallback bool `yaml:"fallback,omitempty"`
}

// MetricsConfig configures metrics output.
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// Defaults returns the definition used when no file exists. Values read
// from a file are layered on top of it.
func Defaults() *Definition {
	return &Definition{
		Version: 1,
		Provider: ProviderConfig{
			Type:             TypeCredProvider,
			AllowDialog:      true,
			RequestTimeoutMs: 300000,
		},
		Probe: ProbeConfig{
			TimeoutMs: 30000,
		},
		Keyring: KeyringConfig{
			SupportedHosts: []string{"dev.azure.com", "pkgs.dev.azure.com"},
		},
	}
}

// Load reads and parses the feedcred.yaml file. A missing file is not an
// error: the defaults apply.
func (c *Config) Load() error {
	def := Defaults()

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			if c.Logger != nil {
				c.Logger.Debug("No configuration at %s, using defaults", c.Path)
			}
			c.Definition = def
			return nil
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	if err := Parse(data, def); err != nil {
		return err
	}

	c.Definition = def
	return nil
}

// Parse validates data against the configuration schema and decodes it
// over def.
func Parse(data []byte, def *Definition) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
			Err:        err,
		}
	}
	if raw == nil {
		return nil
	}

	if err := validateWithSchema(raw); err != nil {
		return dserrors.ConfigError{
			Message:    err.Error(),
			Suggestion: "Compare your feedcred.yaml with the documented fields",
			Err:        err,
		}
	}

	if err := yaml.Unmarshal(data, def); err != nil {
		return dserrors.ConfigError{
			Message:    "configuration does not match the expected structure",
			Suggestion: "Check field types in feedcred.yaml",
			Err:        err,
		}
	}

	if def.Version != 1 {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 1' at the top of your feedcred.yaml file",
		}
	}
	return nil
}

func validateWithSchema(doc interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return fmt.Errorf("schema validation failed:\n  - %s", strings.Join(errorMessages, "\n  - "))
	}
	return nil
}

// ApplyEnv layers environment overrides on the loaded definition.
// ARTIFACTS_KEYRING_NONINTERACTIVE_MODE counts only when it is "true"
// (any case); any other non-empty value switches non-interactive mode off.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c.Definition == nil {
		c.Definition = Defaults()
	}
	p := &c.Definition.Provider

	if v := getenv(EnvNonInteractive); v != "" {
		p.NonInteractive = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v := getenv(EnvProviderPath); v != "" {
		p.ExecutablePath = v
	}
	if c.NonInteractive {
		p.NonInteractive = true
	}
	if p.Culture == "" {
		p.Culture = cultureFromLocale(getenv("LC_ALL"), getenv("LANG"))
	}
}

// cultureFromLocale turns a POSIX locale such as "de_DE.UTF-8" into a
// culture name ("de-DE"). The first non-empty, non-C locale wins.
func cultureFromLocale(locales ...string) string {
	for _, loc := range locales {
		if i := strings.IndexAny(loc, ".@"); i >= 0 {
			loc = loc[:i]
		}
		if loc == "" || loc == "C" || loc == "POSIX" {
			continue
		}
		return strings.ReplaceAll(loc, "_", "-")
	}
	return "en-US"
}

// IsCredProvider reports whether the provider runs the credential
// provider executable.
func (p ProviderConfig) IsCredProvider() bool {
	return p.Type == TypeCredProvider || p.Type == TypeCredProviderLegacy
}

// GetProviderTimeout returns the timeout for a whole lookup in
// milliseconds. The credential provider may wait on a user signing in, so
// it has no limit unless one is configured; other sources default to 30s.
func (p ProviderConfig) GetProviderTimeout() int {
	if p.TimeoutMs > 0 {
		return p.TimeoutMs
	}
	if p.IsCredProvider() {
		return 0
	}
	return 30000
}

// RequestTimeout is the timeout sent to the credential provider in
// Initialize.
func (p ProviderConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutMs) * time.Millisecond
}

// ReadTimeout bounds a single wait on the credential provider.
func (p ProviderConfig) ReadTimeout() time.Duration {
	return time.Duration(p.ReadTimeoutMs) * time.Millisecond
}

// Setting returns a type-specific setting, or "" when absent.
func (p ProviderConfig) Setting(key string) string {
	if v, ok := p.Config[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// Timeout returns the probe request timeout.
func (p ProbeConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}
