package commands

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/systmms/feedcred/internal/config"
	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/internal/providers"
	"github.com/systmms/feedcred/pkg/provider"
)

// staticProvider always answers with the same credential.
type staticProvider struct {
	cred provider.Credential
}

func (p *staticProvider) Name() string { return "static" }

func (p *staticProvider) Capabilities() provider.Capabilities { return provider.Capabilities{} }

func (p *staticProvider) Open(ctx context.Context) (provider.Session, error) {
	return &staticSession{cred: p.cred}, nil
}

type staticSession struct {
	cred provider.Credential
}

func (s *staticSession) GetCredentials(ctx context.Context, req provider.Request) (provider.Credential, error) {
	return s.cred, nil
}

func (s *staticSession) Close() error { return nil }

// useStaticProvider makes aws.ssm resolve to a staticProvider for the
// duration of the test.
func useStaticProvider(t *testing.T, cred provider.Credential) {
	t.Helper()
	orig := newRegistry
	newRegistry = func(env providers.Env) *providers.Registry {
		r := orig(env)
		r.RegisterFactory("aws.ssm", "static", func(name string, cfg config.ProviderConfig, env providers.Env) (provider.Provider, error) {
			return &staticProvider{cred: cred}, nil
		})
		return r
	}
	t.Cleanup(func() { newRegistry = orig })
}

// newFeedServer serves a feed that accepts user:secret, or anyone when
// public is set.
func newFeedServer(t *testing.T, user, secret string, public bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if public {
			w.WriteHeader(http.StatusOK)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != secret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	t.Setenv(config.EnvNonInteractive, "")
	t.Setenv(config.EnvProviderPath, "")

	path := filepath.Join(t.TempDir(), "feedcred.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return &config.Config{
		Path:   path,
		Logger: logging.NewWithWriter(io.Discard, false, true),
	}
}

func runCommand(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const staticConfig = `
version: 1
provider:
  type: aws.ssm
  parameter: /feeds/pat
`
