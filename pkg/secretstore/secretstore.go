package secretstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/internal/secure"
	"github.com/systmms/feedcred/pkg/provider"
)

var (
	// ErrNotFound is returned when no credential exists for the service.
	ErrNotFound = errors.New("secretstore: credential not found")

	// ErrNotImplemented is returned by writes when no fallback keyring is
	// configured.
	ErrNotImplemented = errors.New("secretstore: operation not supported for feed credentials")
)

// DefaultSupportedHosts are the Azure Artifacts hosts answered by default.
var DefaultSupportedHosts = []string{"dev.azure.com", "pkgs.dev.azure.com"}

// Resolver obtains feed credentials. *resolve.Resolver satisfies it.
type Resolver interface {
	GetCredentials(ctx context.Context, endpoint string, allowInteractivePrompt bool) (provider.Credential, error)
}

// Credential is a username and password returned for a service.
type Credential struct {
	Username string
	Password string
}

// Options configures a CredentialSource.
type Options struct {
	// SupportedHosts lists hosts answered through the resolver. Empty means
	// DefaultSupportedHosts.
	SupportedHosts []string

	// Fallback sends unsupported hosts and all writes to the OS keyring.
	Fallback bool

	// AllowInteractive lets the resolver prompt the user.
	AllowInteractive bool
}

// CredentialSource is a keyring backend for Azure Artifacts feeds.
type CredentialSource struct {
	resolver Resolver
	opts     Options
	hosts    map[string]struct{}
	cache    *secure.Cache
	logger   *logging.Logger
}

// New creates a CredentialSource backed by resolver.
func New(resolver Resolver, opts Options, logger *logging.Logger) *CredentialSource {
	if logger == nil {
		logger = logging.New(false, true)
	}
	hosts := opts.SupportedHosts
	if len(hosts) == 0 {
		hosts = DefaultSupportedHosts
	}
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		set[strings.ToLower(h)] = struct{}{}
	}
	return &CredentialSource{
		resolver: resolver,
		opts:     opts,
		hosts:    set,
		cache:    secure.NewCache(),
		logger:   logger,
	}
}

// Supports reports whether service is a URL on a supported host.
func (s *CredentialSource) Supports(service string) bool {
	u, err := url.Parse(service)
	if err != nil {
		s.logger.Debug("Ignoring unparsable service %q: %v", service, err)
		return false
	}
	// url.Parse moves userinfo out of Host.
	_, ok := s.hosts[strings.ToLower(u.Host)]
	return ok
}

// GetCredential returns the credential for service. The username argument
// is only used for fallback lookups; feed credentials carry their own
// username.
func (s *CredentialSource) GetCredential(ctx context.Context, service, username string) (*Credential, error) {
	if !s.Supports(service) {
		return s.fallbackGet(service, username)
	}

	cred, err := s.resolver.GetCredentials(ctx, service, s.opts.AllowInteractive)
	if err != nil {
		return nil, err
	}
	if cred.Username == "" || cred.Secret == "" {
		return nil, ErrNotFound
	}

	if err := s.cache.Put(service, cred.Username, cred.Secret); err != nil {
		return nil, fmt.Errorf("failed to cache credential: %w", err)
	}
	return &Credential{Username: cred.Username, Password: cred.Secret}, nil
}

// GetPassword returns the password for (service, username). A password left
// by an earlier GetCredential is handed out once; otherwise the credential is
// resolved and returned only if its username matches.
func (s *CredentialSource) GetPassword(ctx context.Context, service, username string) (string, error) {
	if password, ok := s.cache.Pop(service, username); ok {
		return password, nil
	}

	if !s.Supports(service) {
		cred, err := s.fallbackGet(service, username)
		if err != nil {
			return "", err
		}
		return cred.Password, nil
	}

	cred, err := s.GetCredential(ctx, service, "")
	if err != nil {
		return "", err
	}
	s.cache.Pop(service, cred.Username)
	if cred.Username != username {
		s.logger.Debug("Credential for %s is for %q, not %q", service, cred.Username, username)
		return "", ErrNotFound
	}
	return cred.Password, nil
}

// SetPassword stores a password in the fallback keyring.
func (s *CredentialSource) SetPassword(service, username, password string) error {
	if !s.opts.Fallback {
		return ErrNotImplemented
	}
	if err := keyring.Set(service, username, password); err != nil {
		return fmt.Errorf("failed to store password in OS keyring: %w", err)
	}
	return nil
}

// DeletePassword removes a password from the fallback keyring.
func (s *CredentialSource) DeletePassword(service, username string) error {
	if !s.opts.Fallback {
		return ErrNotImplemented
	}
	if err := keyring.Delete(service, username); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete password from OS keyring: %w", err)
	}
	return nil
}

// Purge drops every cached password.
func (s *CredentialSource) Purge() {
	s.cache.Purge()
}

func (s *CredentialSource) fallbackGet(service, username string) (*Credential, error) {
	if !s.opts.Fallback || username == "" {
		return nil, ErrNotFound
	}
	password, err := keyring.Get(service, username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read OS keyring: %w", err)
	}
	return &Credential{Username: username, Password: password}, nil
}
