// Package validation checks whether a feed accepts a credential by issuing
// a live request against it.
package validation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/internal/metrics"
	"github.com/systmms/feedcred/pkg/provider"
)

// DefaultUserAgent is sent with probe requests
const DefaultUserAgent = "feedcred"

// HTTPClient is the interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProbeConfig holds probe settings.
type ProbeConfig struct {
	// Timeout bounds each probe request.
	Timeout time.Duration

	// UserAgent overrides DefaultUserAgent.
	UserAgent string
}

// Prober sends authenticated or anonymous GET requests to feeds.
type Prober struct {
	config  ProbeConfig
	client  HTTPClient
	logger  *logging.Logger
	metrics *metrics.Recorder
}

// NewProber creates a Prober using net/http.
func NewProber(config ProbeConfig, logger *logging.Logger) *Prober {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	return &Prober{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		logger:  logger,
		metrics: metrics.NewRecorder(),
	}
}

// SetClient sets a custom HTTP client for testing.
func (p *Prober) SetClient(client HTTPClient) {
	p.client = client
}

// Probe reports whether endpoint accepts cred. A nil or empty credential
// probes anonymously. Network failures are returned as errors.
func (p *Prober) Probe(ctx context.Context, endpoint string, cred *provider.Credential) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("invalid feed URL %q: %w", endpoint, err)
	}
	req.Header.Set("User-Agent", p.config.UserAgent)

	mode := "anonymous"
	if cred != nil && !cred.IsEmpty() {
		mode = "credential"
		req.SetBasicAuth(cred.Username, cred.Secret)
		p.logger.Debug("Probing %s as %s", endpoint, maskValue(cred.Username))
	} else {
		p.logger.Debug("Probing %s anonymously", endpoint)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe of %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	// Discard body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	ok := CanAuthenticate(resp.StatusCode)
	p.logger.Debug("Probe of %s returned %d (authenticated=%t)", endpoint, resp.StatusCode, ok)
	p.metrics.RecordProbe(mode, ok)
	return ok, nil
}

// CanAuthenticate applies the probe policy to an HTTP status: server errors
// and 401/403 mean the request was not authenticated. Anything else,
// including 404 and redirects, counts as authenticated.
func CanAuthenticate(status int) bool {
	if status >= 500 {
		return false
	}
	return status != http.StatusUnauthorized && status != http.StatusForbidden
}

// maskValue masks a value for safe logging
func maskValue(value string) string {
	if len(value) <= 8 {
		return "***"
	}

	// Show first 3 and last 3 characters
	return value[:3] + "***" + value[len(value)-3:]
}
