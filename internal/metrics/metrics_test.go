package metrics

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	// Init uses sync.Once, so every test observes the same registration
	Init()

	assert.True(t, IsRegistered())
	assert.NotNil(t, CredentialRequests())
	assert.NotNil(t, Retries())
	assert.NotNil(t, ProbeResults())
}

func TestRecorder_ConcurrentWithInit(t *testing.T) {
	r := NewRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.RecordRetry("test-concurrent")
				r.RecordProbe("credential", true)
			}
		}()
	}
	Init()
	wg.Wait()

	assert.True(t, IsRegistered())
}

func TestRecorder_RecordRequest(t *testing.T) {
	Init()

	r := NewRecorder()
	before := testutil.ToFloat64(CredentialRequests().WithLabelValues("test-request", OutcomeSuccess))
	r.RecordRequest("test-request", OutcomeSuccess)
	r.RecordRequest("test-request", OutcomeSuccess)

	after := testutil.ToFloat64(CredentialRequests().WithLabelValues("test-request", OutcomeSuccess))
	assert.Equal(t, before+2, after)
}

func TestRecorder_RecordRetry(t *testing.T) {
	Init()

	r := NewRecorder()
	before := testutil.ToFloat64(Retries().WithLabelValues("test-retry"))
	r.RecordRetry("test-retry")

	assert.Equal(t, before+1, testutil.ToFloat64(Retries().WithLabelValues("test-retry")))
}

func TestRecorder_RecordProbe(t *testing.T) {
	Init()

	r := NewRecorder()
	before := testutil.ToFloat64(ProbeResults().WithLabelValues("anonymous", "false"))
	r.RecordProbe("anonymous", false)

	assert.Equal(t, before+1, testutil.ToFloat64(ProbeResults().WithLabelValues("anonymous", "false")))
}

func TestRecorder_SessionLifecycle(t *testing.T) {
	Init()

	r := NewRecorder()
	// Verify no panic
	r.RecordSessionStarted("test-session")
	r.RecordSessionFailed("test-session")
	r.RecordSessionClosed("test-session", 1.5)
}

func TestWriteTextfile(t *testing.T) {
	Init()
	NewRecorder().RecordRequest("test-textfile", OutcomePublic)

	path := filepath.Join(t.TempDir(), "feedcred.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "feedcred_credential_requests_total")
}

func TestWriteTextfile_BadPath(t *testing.T) {
	Init()

	err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "feedcred.prom"))
	assert.Error(t, err)
}
