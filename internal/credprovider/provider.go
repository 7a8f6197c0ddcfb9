package credprovider

import (
	"context"
	"time"

	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/internal/metrics"
	"github.com/systmms/feedcred/pkg/provider"
)

// Options configures a Provider.
type Options struct {
	// Legacy selects the one-shot command-line interface instead of the
	// plugin protocol.
	Legacy bool

	Session SessionOptions

	// GracePeriod bounds how long Close waits for a clean exit.
	GracePeriod time.Duration
}

// Provider spawns the credential provider executable. Each Open starts a
// new process (plugin mode) or prepares a one-shot runner (legacy mode).
type Provider struct {
	name    string
	locator *Locator
	opts    Options
	start   Starter
	logger  *logging.Logger
	metrics *metrics.Recorder
}

// NewProvider creates a Provider.
func NewProvider(name string, locator *Locator, opts Options, logger *logging.Logger) *Provider {
	return &Provider{
		name:    name,
		locator: locator,
		opts:    opts,
		start:   StartChannel,
		logger:  logger,
		metrics: metrics.NewRecorder(),
	}
}

// SetStarter replaces how processes are spawned. Used by tests.
func (p *Provider) SetStarter(start Starter) {
	p.start = start
}

// Name implements provider.Provider.
func (p *Provider) Name() string {
	return p.name
}

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Interactive:   true,
		HonorsRetry:   true,
		SpawnsProcess: true,
		AuthMethods:   []string{"device_code", "msal", "session_token"},
	}
}

// Open implements provider.Provider.
func (p *Provider) Open(ctx context.Context) (provider.Session, error) {
	inv, err := p.locator.Locate(ctx)
	if err != nil {
		p.metrics.RecordSessionFailed(p.name)
		return nil, err
	}

	if p.opts.Legacy {
		p.metrics.RecordSessionStarted(p.name)
		return NewLegacySession(inv, p.startWithGrace, p.opts.Session.ReadTimeout, p.logger), nil
	}

	conn, err := p.startWithGrace(ctx, inv.With("-Plugin"), p.logger)
	if err != nil {
		p.metrics.RecordSessionFailed(p.name)
		return nil, err
	}

	sess := NewSession(conn, p.opts.Session, p.logger)
	if err := sess.Start(ctx); err != nil {
		_ = sess.Close()
		p.metrics.RecordSessionFailed(p.name)
		return nil, err
	}

	p.metrics.RecordSessionStarted(p.name)
	return sess, nil
}

func (p *Provider) startWithGrace(ctx context.Context, inv Invocation, logger *logging.Logger) (Conn, error) {
	conn, err := p.start(ctx, inv, logger)
	if err != nil {
		return nil, err
	}
	if ch, ok := conn.(*Channel); ok && p.opts.GracePeriod > 0 {
		ch.GracePeriod = p.opts.GracePeriod
	}
	return conn, nil
}
