// Package provider defines the core interfaces and types for feed credential
// providers in feedcred.
//
// A provider knows how to obtain a username and secret for a package-feed
// endpoint. The canonical provider drives an external credential-provider
// executable over its line protocol; alternate providers read a personal
// access token from a cloud secret store or mint one from an Entra ID token.
//
// # Provider Architecture
//
// Obtaining credentials happens inside a Session:
//
//  1. Provider.Open starts whatever backs the provider (a child process, an
//     SDK client) and performs any handshake.
//  2. Session.GetCredentials is called once, and at most once more with
//     Request.IsRetry set when the first credential failed validation.
//  3. Session.Close releases everything. It must be safe to call more than
//     once and must run on every exit path.
//
// Example:
//
//	sess, err := p.Open(ctx)
//	if err != nil {
//	    return provider.Credential{}, err
//	}
//	defer sess.Close()
//
//	cred, err := sess.GetCredentials(ctx, provider.Request{Endpoint: url})
//	if err != nil {
//	    return provider.Credential{}, err
//	}
//
// # Error Handling
//
// "No credentials for this endpoint" is the empty Credential, not an error.
// AuthError is used when the backing system rejects the caller. Everything
// else is a plain wrapped error.
//
// # Security Considerations
//
// Providers must never log secret values. Use logging.Secret when a value has
// to appear in a format string.
package provider

import (
	"context"
	"errors"
)

// ErrPartialCredential is returned when only one half of a credential is
// present. A username without a secret (or the reverse) is never usable.
var ErrPartialCredential = errors.New("credential has a username or a secret but not both")

// Provider is a source of feed credentials.
//
// Implementations must be safe to share across goroutines; each Open call
// returns an independent Session.
type Provider interface {
	// Name returns the configured provider name, used in logs and errors.
	Name() string

	// Open acquires the resources needed to answer credential requests.
	//
	// For the credential-provider executable this spawns the process and
	// runs the handshake. Any error leaves nothing to clean up.
	Open(ctx context.Context) (Session, error)

	// Capabilities describes what the provider can do.
	Capabilities() Capabilities
}

// Session is an open conversation with a provider.
type Session interface {
	// GetCredentials asks for credentials for req.Endpoint.
	//
	// The empty Credential with a nil error means the provider has no
	// credentials for this endpoint.
	GetCredentials(ctx context.Context, req Request) (Credential, error)

	// Close releases the session. Calling Close more than once is a no-op.
	Close() error
}

// Request describes a single credential lookup.
type Request struct {
	// Endpoint is the feed URI being authenticated against.
	Endpoint string

	// IsRetry tells the provider the previous credential was rejected and a
	// fresh one is needed instead of a cached one.
	IsRetry bool

	// NonInteractive forbids the provider from prompting the user.
	NonInteractive bool

	// CanShowDialog allows the provider to open a GUI dialog.
	CanShowDialog bool
}

// Credential is a username and secret pair.
//
// Both fields empty means "no credentials available or needed".
type Credential struct {
	Username string
	Secret   string
}

// IsEmpty reports whether neither half of the credential is present.
func (c Credential) IsEmpty() bool {
	return c.Username == "" && c.Secret == ""
}

// IsComplete reports whether both halves of the credential are present.
func (c Credential) IsComplete() bool {
	return c.Username != "" && c.Secret != ""
}

// Validate returns ErrPartialCredential for a half-filled credential.
func (c Credential) Validate() error {
	if c.IsEmpty() || c.IsComplete() {
		return nil
	}
	return ErrPartialCredential
}

// Capabilities describes a provider's behaviour.
type Capabilities struct {
	// Interactive is true when the provider may prompt the user (device
	// code flow, browser, dialog).
	Interactive bool

	// HonorsRetry is true when IsRetry actually yields a fresher
	// credential. Static secret stores return the same value either way.
	HonorsRetry bool

	// SpawnsProcess is true when the provider runs an external executable.
	SpawnsProcess bool

	// AuthMethods lists the ways the provider authenticates to its backend.
	AuthMethods []string
}

// AuthError indicates that the provider's backend rejected the caller.
type AuthError struct {
	// Provider is the name of the provider that failed authentication.
	Provider string

	// Message provides details about the authentication failure.
	Message string
}

// Error implements the error interface.
func (e AuthError) Error() string {
	return "authentication failed for " + e.Provider + ": " + e.Message
}
