package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed buffer is read.
var ErrDestroyed = errors.New("secure buffer has been destroyed")

// SecureBuffer holds one secret encrypted in a memguard.Enclave.
//
// memguard cannot build an enclave from zero bytes, so an empty secret is
// represented by a nil enclave and reads back as "".
type SecureBuffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewSecureBuffer seals data into an enclave. memguard wipes data as it
// copies it; pass a copy if the caller still needs the plaintext.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	if len(data) == 0 {
		return &SecureBuffer{}, nil
	}
	return &SecureBuffer{enclave: memguard.NewEnclave(data)}, nil
}

// Open decrypts the secret into a locked buffer. The caller must Destroy
// the returned buffer. An empty secret returns (nil, nil).
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}
	if s.enclave == nil {
		return nil, nil
	}
	return s.enclave.Open()
}

// Reveal returns the plaintext as a string and wipes the intermediate
// locked buffer.
func (s *SecureBuffer) Reveal() (string, error) {
	locked, err := s.Open()
	if err != nil {
		return "", err
	}
	if locked == nil {
		return "", nil
	}
	defer locked.Destroy()
	return string(locked.Bytes()), nil
}

// Destroy drops the enclave. It is idempotent; later reads return
// ErrDestroyed.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	s.destroyed = true
}
