package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredential_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cred     Credential
		empty    bool
		complete bool
		wantErr  bool
	}{
		{name: "empty", cred: Credential{}, empty: true},
		{name: "complete", cred: Credential{Username: "user", Secret: "pat"}, complete: true},
		{name: "username only", cred: Credential{Username: "user"}, wantErr: true},
		{name: "secret only", cred: Credential{Secret: "pat"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.empty, tt.cred.IsEmpty())
			assert.Equal(t, tt.complete, tt.cred.IsComplete())

			err := tt.cred.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPartialCredential)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("open: %w", AuthError{Provider: "azure.keyvault", Message: "token expired"})

	var authErr AuthError
	assert.True(t, errors.As(err, &authErr))
	assert.Equal(t, "azure.keyvault", authErr.Provider)
	assert.Equal(t, "open: authentication failed for azure.keyvault: token expired", err.Error())
}

// staticProvider is a minimal in-memory provider used to exercise the contract suite
type staticProvider struct {
	cred Credential
}

type staticSession struct {
	cred   Credential
	closed bool
}

func (p *staticProvider) Name() string { return "static" }

func (p *staticProvider) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &staticSession{cred: p.cred}, nil
}

func (p *staticProvider) Capabilities() Capabilities { return Capabilities{} }

func (s *staticSession) GetCredentials(ctx context.Context, req Request) (Credential, error) {
	if s.closed {
		return Credential{}, errors.New("session closed")
	}
	return s.cred, nil
}

func (s *staticSession) Close() error {
	s.closed = true
	return nil
}

func TestRunContractTests_StaticProvider(t *testing.T) {
	want := Credential{Username: "VssSessionToken", Secret: "pat"}
	RunContractTests(t, ContractTest{
		CreateProvider: func(t *testing.T) Provider { return &staticProvider{cred: want} },
		Endpoint:       "https://pkgs.dev.azure.com/org/_packaging/feed/pypi/simple/",
		Want:           want,
	})
}
