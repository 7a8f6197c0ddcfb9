package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/pkg/provider"
)

// DefaultUsername is sent with personal access tokens. Azure Artifacts
// ignores the username for PAT basic auth, but pip and twine require one.
const DefaultUsername = "VssSessionToken"

// errSecretNotFound is returned by a fetchFunc when the store has no such
// secret. Sessions turn it into the empty credential.
var errSecretNotFound = errors.New("secret not found")

// fetchFunc reads the raw secret from a store.
type fetchFunc func(ctx context.Context) (string, error)

// storeOptions are the settings shared by every secret-store provider.
type storeOptions struct {
	Username  string
	Transform string
}

func parseStoreOptions(cfg map[string]interface{}) storeOptions {
	opts := storeOptions{Username: DefaultUsername}
	if u, ok := cfg["username"].(string); ok && u != "" {
		opts.Username = u
	}
	if t, ok := cfg["transform"].(string); ok {
		opts.Transform = t
	}
	return opts
}

// storeSession answers credential requests from a secret store. The first
// read is kept for the session; a retry reads the store again in case the
// secret was rotated in between.
type storeSession struct {
	provider string
	fetch    fetchFunc
	opts     storeOptions
	logger   *logging.Logger

	mu     sync.Mutex
	cached *provider.Credential
	closed bool
}

func newStoreSession(name string, fetch fetchFunc, opts storeOptions, logger *logging.Logger) *storeSession {
	return &storeSession{
		provider: name,
		fetch:    fetch,
		opts:     opts,
		logger:   logger,
	}
}

// GetCredentials implements provider.Session.
func (s *storeSession) GetCredentials(ctx context.Context, req provider.Request) (provider.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return provider.Credential{}, fmt.Errorf("%s session is closed", s.provider)
	}
	if s.cached != nil && !req.IsRetry {
		return *s.cached, nil
	}

	raw, err := s.fetch(ctx)
	if errors.Is(err, errSecretNotFound) {
		s.logger.Debug("%s has no secret for %s", s.provider, req.Endpoint)
		return provider.Credential{}, nil
	}
	if err != nil {
		return provider.Credential{}, err
	}

	secret, err := ApplyTransform(raw, s.opts.Transform)
	if err != nil {
		return provider.Credential{}, fmt.Errorf("%s: %w", s.provider, err)
	}
	if secret == "" {
		return provider.Credential{}, nil
	}
	s.logger.AddSecret(secret)

	cred := provider.Credential{Username: s.opts.Username, Secret: secret}
	s.cached = &cred
	return cred, nil
}

// Close implements provider.Session.
func (s *storeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cached = nil
	return nil
}

func storeCapabilities(authMethods ...string) provider.Capabilities {
	return provider.Capabilities{
		Interactive: false,
		HonorsRetry: false,
		AuthMethods: authMethods,
	}
}
