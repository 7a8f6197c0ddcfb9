package resolve

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/pkg/provider"
)

// fakeProvider hands out fakeSessions that answer from a script of
// credentials, one per request.
type fakeProvider struct {
	mu       sync.Mutex
	script   []provider.Credential
	fetchErr error
	openErr  error
	block    bool

	opened   int
	requests []provider.Request
	closed   int
}

func (p *fakeProvider) Name() string { return "credprovider" }

func (p *fakeProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{HonorsRetry: true}
}

func (p *fakeProvider) Open(ctx context.Context) (provider.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	p.opened++
	return &fakeSession{p: p}, nil
}

type fakeSession struct {
	p      *fakeProvider
	closed bool
}

func (s *fakeSession) GetCredentials(ctx context.Context, req provider.Request) (provider.Credential, error) {
	s.p.mu.Lock()
	s.p.requests = append(s.p.requests, req)
	n := len(s.p.requests)
	block, fetchErr := s.p.block, s.p.fetchErr
	s.p.mu.Unlock()

	if block {
		<-ctx.Done()
		return provider.Credential{}, ctx.Err()
	}
	if fetchErr != nil {
		return provider.Credential{}, fetchErr
	}
	if n > len(s.p.script) {
		return provider.Credential{}, nil
	}
	return s.p.script[n-1], nil
}

func (s *fakeSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.p.mu.Lock()
	s.p.closed++
	s.p.mu.Unlock()
	return nil
}

// fakeProber accepts anonymous requests when public is set, and any
// credential whose secret is in valid.
type fakeProber struct {
	public bool
	valid  map[string]bool
	err    error

	mu    sync.Mutex
	calls []*provider.Credential
}

func (p *fakeProber) Probe(ctx context.Context, endpoint string, cred *provider.Credential) (bool, error) {
	p.mu.Lock()
	p.calls = append(p.calls, cred)
	p.mu.Unlock()

	if p.err != nil {
		return false, p.err
	}
	if cred == nil {
		return p.public, nil
	}
	return p.valid[cred.Secret], nil
}

const feed = "https://pkgs.dev.azure.com/org/_packaging/feed/pypi/simple/"

func newTestResolver(p provider.Provider, prober Prober, opts Options) *Resolver {
	return New(p, prober, opts, logging.New(false, true))
}

func TestIsUploadEndpoint(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"https://pkgs.dev.azure.com/org/_packaging/feed/pypi/upload":   true,
		"https://pkgs.dev.azure.com/org/_packaging/feed/pypi/upload/":  true,
		"https://pkgs.dev.azure.com/org/_packaging/feed/pypi/upload//": false,
		"https://pkgs.dev.azure.com/org/_packaging/feed/pypi/simple/":  false,
		"https://example.com/pypi/uploads":                             false,
		"":                                                             false,
	}

	for endpoint, want := range tests {
		assert.Equal(t, want, IsUploadEndpoint(endpoint), "endpoint %q", endpoint)
	}
}

func TestGetCredentials_PublicFeed(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	r := newTestResolver(p, &fakeProber{public: true}, Options{})

	cred, err := r.GetCredentials(context.Background(), feed, true)
	require.NoError(t, err)
	assert.True(t, cred.IsEmpty())
	assert.Equal(t, 0, p.opened, "no session is started for a public feed")
}

func TestGetCredentials_UploadNeverShortCircuits(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{script: []provider.Credential{{Username: "u", Secret: "good"}}}
	prober := &fakeProber{public: true, valid: map[string]bool{"good": true}}
	r := newTestResolver(p, prober, Options{})

	cred, err := r.GetCredentials(context.Background(), "https://pkgs.dev.azure.com/org/_packaging/feed/pypi/upload/", true)
	require.NoError(t, err)
	assert.Equal(t, "good", cred.Secret)
	assert.Equal(t, 1, p.opened)

	for _, c := range prober.calls {
		assert.NotNil(t, c, "upload endpoints are never probed anonymously")
	}
}

func TestGetCredentials_ValidFirstTime(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{script: []provider.Credential{{Username: "VssSessionToken", Secret: "good"}}}
	r := newTestResolver(p, &fakeProber{valid: map[string]bool{"good": true}}, Options{})

	cred, err := r.GetCredentials(context.Background(), feed, true)
	require.NoError(t, err)
	assert.Equal(t, provider.Credential{Username: "VssSessionToken", Secret: "good"}, cred)

	require.Len(t, p.requests, 1)
	assert.False(t, p.requests[0].IsRetry)
	assert.Equal(t, 1, p.closed)
}

func TestGetCredentials_StaleRetriedOnce(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{script: []provider.Credential{
		{Username: "VssSessionToken", Secret: "stale"},
		{Username: "VssSessionToken", Secret: "fresh"},
	}}
	r := newTestResolver(p, &fakeProber{valid: map[string]bool{"fresh": true}}, Options{})

	cred, err := r.GetCredentials(context.Background(), feed, true)
	require.NoError(t, err)
	assert.Equal(t, "fresh", cred.Secret)

	require.Len(t, p.requests, 2)
	assert.False(t, p.requests[0].IsRetry)
	assert.True(t, p.requests[1].IsRetry)
	assert.Equal(t, 1, p.opened, "both requests share one session")
	assert.Equal(t, 1, p.closed)
}

func TestGetCredentials_RetryResultReturnedUnprobed(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{script: []provider.Credential{
		{Username: "u", Secret: "stale"},
		{Username: "u", Secret: "still-stale"},
	}}
	prober := &fakeProber{valid: map[string]bool{}}
	r := newTestResolver(p, prober, Options{})

	cred, err := r.GetCredentials(context.Background(), feed, true)
	require.NoError(t, err)
	assert.Equal(t, "still-stale", cred.Secret)
	assert.Len(t, p.requests, 2, "at most one retry")
	assert.Len(t, prober.calls, 2, "one anonymous probe and one credential probe")
}

func TestGetCredentials_NotFound(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	prober := &fakeProber{}
	r := newTestResolver(p, prober, Options{})

	cred, err := r.GetCredentials(context.Background(), feed, true)
	require.NoError(t, err)
	assert.True(t, cred.IsEmpty())
	assert.Len(t, p.requests, 1, "an empty answer is not retried")
	assert.Equal(t, 1, p.closed)
}

func TestGetCredentials_PartialCredential(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{script: []provider.Credential{{Username: "u"}}}
	r := newTestResolver(p, &fakeProber{}, Options{})

	_, err := r.GetCredentials(context.Background(), feed, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrPartialCredential)
	assert.Equal(t, 1, p.closed)
}

func TestGetCredentials_ProviderError(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{fetchErr: errors.New("protocol version mismatch")}
	r := newTestResolver(p, &fakeProber{}, Options{})

	_, err := r.GetCredentials(context.Background(), feed, true)
	require.Error(t, err)

	var userErr dserrors.UserError
	require.True(t, errors.As(err, &userErr))
	assert.Contains(t, userErr.Message, "credprovider")
	assert.Equal(t, 1, p.closed, "the session is closed on failure")
}

func TestGetCredentials_OpenError(t *testing.T) {
	t.Parallel()

	openErr := errors.New("credential provider not found")
	p := &fakeProvider{openErr: openErr}
	r := newTestResolver(p, &fakeProber{}, Options{})

	_, err := r.GetCredentials(context.Background(), feed, true)
	assert.ErrorIs(t, err, openErr)
}

func TestGetCredentials_ProbeError(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	r := newTestResolver(p, &fakeProber{err: errors.New("no such host")}, Options{})

	_, err := r.GetCredentials(context.Background(), feed, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unable to reach")
	assert.Equal(t, 0, p.opened)
}

func TestGetCredentials_Interactivity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		opts          Options
		allowPrompt   bool
		wantNonInter  bool
		wantCanDialog bool
	}{
		{"prompt allowed", Options{AllowDialog: true}, true, false, true},
		{"prompt allowed without dialog", Options{}, true, false, false},
		{"caller forbids prompt", Options{AllowDialog: true}, false, true, false},
		{"config forbids prompt", Options{NonInteractive: true, AllowDialog: true}, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := &fakeProvider{script: []provider.Credential{{Username: "u", Secret: "good"}}}
			r := newTestResolver(p, &fakeProber{valid: map[string]bool{"good": true}}, tt.opts)

			_, err := r.GetCredentials(context.Background(), feed, tt.allowPrompt)
			require.NoError(t, err)
			require.Len(t, p.requests, 1)
			assert.Equal(t, feed, p.requests[0].Endpoint)
			assert.Equal(t, tt.wantNonInter, p.requests[0].NonInteractive)
			assert.Equal(t, tt.wantCanDialog, p.requests[0].CanShowDialog)
		})
	}
}

func TestGetCredentials_Timeout(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{block: true}
	r := newTestResolver(p, &fakeProber{}, Options{TimeoutMs: 20})

	start := time.Now()
	_, err := r.GetCredentials(context.Background(), feed, true)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var userErr dserrors.UserError
	require.True(t, errors.As(err, &userErr))
	assert.Equal(t, "Credential lookup timed out", userErr.Message)
	assert.Contains(t, userErr.Details, "20ms")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.closed)
}

func TestGetTimeoutSuggestion(t *testing.T) {
	t.Parallel()

	assert.Contains(t, getTimeoutSuggestion("credprovider", 10000), "timeout_ms")
	assert.Contains(t, getTimeoutSuggestion("credprovider", 0), "ARTIFACTS_KEYRING_NONINTERACTIVE_MODE")
	assert.Contains(t, getTimeoutSuggestion("aws.ssm", 1000), "10000")
	assert.Contains(t, getTimeoutSuggestion("unknown", 1000), "provider.timeout_ms")
}
