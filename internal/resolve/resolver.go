// Package resolve turns a feed URL into a usable credential: it skips public
// feeds, asks the configured provider, and retries once when the first
// credential is rejected by the feed.
package resolve

import (
	"context"
	"fmt"
	"strings"
	"time"

	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/internal/metrics"
	"github.com/systmms/feedcred/pkg/provider"
)

// uploadSuffix marks endpoints that accept package uploads. Upload
// endpoints reject anonymous GETs even on public feeds.
const uploadSuffix = "pypi/upload"

// Prober checks whether a feed accepts a credential.
type Prober interface {
	Probe(ctx context.Context, endpoint string, cred *provider.Credential) (bool, error)
}

// Options controls how the resolver talks to the provider.
type Options struct {
	// NonInteractive forbids prompting regardless of the caller's request.
	NonInteractive bool

	// AllowDialog lets the provider open a GUI dialog when prompting is
	// allowed.
	AllowDialog bool

	// TimeoutMs bounds a whole lookup, both fetches included. Zero means no
	// limit beyond the caller's context.
	TimeoutMs int
}

// Resolver obtains credentials for feed endpoints.
type Resolver struct {
	provider provider.Provider
	prober   Prober
	opts     Options
	logger   *logging.Logger
	metrics  *metrics.Recorder
}

// New creates a new resolver instance
func New(p provider.Provider, prober Prober, opts Options, logger *logging.Logger) *Resolver {
	return &Resolver{
		provider: p,
		prober:   prober,
		opts:     opts,
		logger:   logger,
		metrics:  metrics.NewRecorder(),
	}
}

// Provider returns the provider the resolver uses
func (r *Resolver) Provider() provider.Provider {
	return r.provider
}

// IsUploadEndpoint reports whether endpoint is a package upload URL.
// One trailing slash is ignored.
func IsUploadEndpoint(endpoint string) bool {
	return strings.HasSuffix(strings.TrimSuffix(endpoint, "/"), uploadSuffix)
}

// GetCredentials returns a credential for endpoint.
//
// The empty Credential with a nil error means none is needed (the feed is
// public) or none is available. allowInteractivePrompt lets the provider
// prompt the user unless Options.NonInteractive is set.
func (r *Resolver) GetCredentials(ctx context.Context, endpoint string, allowInteractivePrompt bool) (provider.Credential, error) {
	name := r.provider.Name()

	if !IsUploadEndpoint(endpoint) {
		public, err := r.prober.Probe(ctx, endpoint, nil)
		if err != nil {
			r.metrics.RecordRequest(name, metrics.OutcomeError)
			return provider.Credential{}, dserrors.UserError{
				Message:    fmt.Sprintf("Unable to reach %s", endpoint),
				Suggestion: "Check your network and the feed URL",
				Err:        err,
			}
		}
		if public {
			r.logger.Debug("%s accepts anonymous requests, no credentials needed", endpoint)
			r.metrics.RecordRequest(name, metrics.OutcomePublic)
			return provider.Credential{}, nil
		}
	}

	if r.opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = withProviderTimeout(ctx, r.opts.TimeoutMs)
		defer cancel()
	}

	cred, err := r.fetch(ctx, endpoint, allowInteractivePrompt)
	if err != nil {
		r.metrics.RecordRequest(name, metrics.OutcomeError)
		if timeoutErr := isTimeoutError(err, name, r.opts.TimeoutMs); timeoutErr != err {
			return provider.Credential{}, timeoutErr
		}
		return provider.Credential{}, dserrors.ProviderError(name, "get credentials", err)
	}
	return cred, nil
}

// fetch runs one session: a first request, a probe, and at most one retry.
// The session is closed on every path.
func (r *Resolver) fetch(ctx context.Context, endpoint string, allowInteractivePrompt bool) (cred provider.Credential, err error) {
	name := r.provider.Name()

	sess, err := r.provider.Open(ctx)
	if err != nil {
		return provider.Credential{}, err
	}
	opened := time.Now()
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			if err == nil {
				r.logger.Warn("Closing %s session: %v", name, closeErr)
			} else {
				r.logger.Debug("Closing %s session: %v", name, closeErr)
			}
		}
		r.metrics.RecordSessionClosed(name, time.Since(opened).Seconds())
	}()

	req := provider.Request{
		Endpoint:       endpoint,
		NonInteractive: r.opts.NonInteractive || !allowInteractivePrompt,
	}
	req.CanShowDialog = r.opts.AllowDialog && !req.NonInteractive

	cred, err = r.request(ctx, sess, req)
	if err != nil {
		return provider.Credential{}, err
	}
	if cred.IsEmpty() {
		r.logger.Debug("%s has no credentials for %s", name, endpoint)
		r.metrics.RecordRequest(name, metrics.OutcomeNotFound)
		return provider.Credential{}, nil
	}

	ok, err := r.prober.Probe(ctx, endpoint, &cred)
	if err != nil {
		return provider.Credential{}, err
	}
	if ok {
		r.metrics.RecordRequest(name, metrics.OutcomeSuccess)
		return cred, nil
	}

	r.logger.Debug("Credential from %s was rejected by %s, requesting a fresh one", name, endpoint)
	r.metrics.RecordRetry(name)

	req.IsRetry = true
	cred, err = r.request(ctx, sess, req)
	if err != nil {
		return provider.Credential{}, err
	}
	r.metrics.RecordRequest(name, metrics.OutcomeStale)
	return cred, nil
}

func (r *Resolver) request(ctx context.Context, sess provider.Session, req provider.Request) (provider.Credential, error) {
	cred, err := sess.GetCredentials(ctx, req)
	if err != nil {
		return provider.Credential{}, err
	}
	if err := cred.Validate(); err != nil {
		return provider.Credential{}, err
	}
	return cred, nil
}
