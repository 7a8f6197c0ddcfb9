package credprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/pkg/provider"
)

// LegacySession runs the credential provider once per request using its
// command-line interface instead of the plugin protocol. It is Ready as soon
// as it is created.
type LegacySession struct {
	inv         Invocation
	start       Starter
	logger      *logging.Logger
	readTimeout time.Duration
	closed      bool
}

// NewLegacySession returns a session that spawns inv for every request.
func NewLegacySession(inv Invocation, start Starter, readTimeout time.Duration, logger *logging.Logger) *LegacySession {
	if start == nil {
		start = StartChannel
	}
	return &LegacySession{inv: inv, start: start, logger: logger, readTimeout: readTimeout}
}

type legacyOutput struct {
	Username *string `json:"Username"`
	Password *string `json:"Password"`
}

// LegacyArgs returns the command-line arguments for req.
func LegacyArgs(req provider.Request) []string {
	return []string{
		"-Uri", req.Endpoint,
		"-IsRetry", flagBool(req.IsRetry),
		"-NonInteractive", flagBool(req.NonInteractive),
		"-CanShowDialog", flagBool(req.CanShowDialog),
		"-OutputFormat", "Json",
	}
}

// GetCredentials implements provider.Session.
func (s *LegacySession) GetCredentials(ctx context.Context, req provider.Request) (provider.Credential, error) {
	if s.closed {
		return provider.Credential{}, ErrSessionClosed
	}

	conn, err := s.start(ctx, s.inv.With(LegacyArgs(req)...), s.logger)
	if err != nil {
		return provider.Credential{}, err
	}

	out, readErr := s.readAll(ctx, conn)
	if readErr != nil {
		_ = conn.Terminate()
		_ = conn.Close()
		return provider.Credential{}, readErr
	}
	if err := conn.Close(); err != nil {
		return provider.Credential{}, err
	}

	return parseLegacyOutput(out)
}

// Close implements provider.Session. Nothing stays running between requests.
func (s *LegacySession) Close() error {
	s.closed = true
	return nil
}

func (s *LegacySession) readAll(ctx context.Context, conn Conn) ([]byte, error) {
	var out bytes.Buffer
	for {
		readCtx := ctx
		cancel := context.CancelFunc(func() {})
		if s.readTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.readTimeout)
		}
		line, err := conn.ReadLine(readCtx)
		cancel()

		switch {
		case err == nil:
			out.Write(line)
		case errors.Is(err, io.EOF):
			return out.Bytes(), nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &TimeoutError{Method: MethodGetAuthenticationCredentials, Timeout: s.readTimeout}
		default:
			return nil, &TransportError{Reason: "failed to read from credential provider", Err: err}
		}
	}
}

func parseLegacyOutput(out []byte) (provider.Credential, error) {
	if !utf8.Valid(out) {
		return provider.Credential{}, &ProtocolError{Reason: "credential provider output could not be decoded using UTF-8"}
	}

	var parsed legacyOutput
	if err := json.Unmarshal(bytes.TrimSpace(out), &parsed); err != nil {
		return provider.Credential{}, &ProtocolError{Reason: "credential provider output could not be parsed as JSON", Line: string(out), Err: err}
	}

	var cred provider.Credential
	if parsed.Username != nil {
		cred.Username = *parsed.Username
	}
	if parsed.Password != nil {
		cred.Secret = *parsed.Password
	}
	if err := cred.Validate(); err != nil {
		return provider.Credential{}, fmt.Errorf("credential provider output: %w", err)
	}
	return cred, nil
}

func flagBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
