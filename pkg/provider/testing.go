package provider

import (
	"context"
	"testing"
	"time"
)

// ContractTest defines a standard test suite that all providers must pass
type ContractTest struct {
	// CreateProvider creates a new instance of the provider to test
	CreateProvider func(t *testing.T) Provider

	// Endpoint is the feed URI the provider has a credential for
	Endpoint string

	// Want is the credential the provider should return for Endpoint
	Want Credential
}

// RunContractTests runs the standard provider contract test suite
func RunContractTests(t *testing.T, contract ContractTest) {
	t.Run("Contract", func(t *testing.T) {
		t.Run("Name", func(t *testing.T) {
			p := contract.CreateProvider(t)
			if p.Name() == "" {
				t.Error("provider name should not be empty")
			}
		})

		t.Run("GetCredentials", func(t *testing.T) {
			testGetCredentials(t, contract, false)
		})

		t.Run("GetCredentialsRetry", func(t *testing.T) {
			testGetCredentials(t, contract, true)
		})

		t.Run("CloseTwice", func(t *testing.T) {
			p := contract.CreateProvider(t)
			sess, err := p.Open(context.Background())
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if err := sess.Close(); err != nil {
				t.Errorf("first Close failed: %v", err)
			}
			if err := sess.Close(); err != nil {
				t.Errorf("second Close should be a no-op, got: %v", err)
			}
		})

		t.Run("ContextCancellation", func(t *testing.T) {
			p := contract.CreateProvider(t)
			ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
			defer cancel()
			time.Sleep(time.Millisecond)

			sess, err := p.Open(ctx)
			if err != nil {
				return
			}
			defer sess.Close()

			// Providers that do not block may still succeed
			_, _ = sess.GetCredentials(ctx, Request{Endpoint: contract.Endpoint})
		})
	})
}

func testGetCredentials(t *testing.T, contract ContractTest, retry bool) {
	p := contract.CreateProvider(t)
	ctx := context.Background()

	sess, err := p.Open(ctx)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer sess.Close()

	cred, err := sess.GetCredentials(ctx, Request{Endpoint: contract.Endpoint, IsRetry: retry})
	if err != nil {
		t.Fatalf("GetCredentials failed: %v", err)
	}
	if cred != contract.Want {
		t.Errorf("expected username %q, got %q", contract.Want.Username, cred.Username)
	}
	if err := cred.Validate(); err != nil {
		t.Errorf("provider returned a partial credential: %v", err)
	}
}
