package credprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors
var (
	ErrExecutableNotFound  = errors.New("credential provider executable not found")
	ErrUnsupportedProtocol = errors.New("unsupported protocol version")
	ErrSessionClosed       = errors.New("credential provider session is closed")
	ErrSessionFailed       = errors.New("credential provider session has failed")
)

// ProtocolError reports a malformed or unexpected message on the wire.
// It indicates a corrupted stream and is never retried.
type ProtocolError struct {
	Reason string
	Line   string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "credential provider protocol error: " + e.Reason
	if e.Line != "" {
		msg += fmt.Sprintf(" (line: %q)", truncate(e.Line, 200))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NegotiationError reports a failed handshake.
type NegotiationError struct {
	Version string
	Reason  string
}

func (e *NegotiationError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("protocol negotiation failed: %s (peer version %s)", e.Reason, e.Version)
	}
	return "protocol negotiation failed: " + e.Reason
}

func (e *NegotiationError) Unwrap() error {
	return ErrUnsupportedProtocol
}

// TransportError reports a failure of the process or its streams: a nonzero
// exit, a stream that ended while a response was awaited, or a broken pipe.
type TransportError struct {
	Reason   string
	PID      int
	ExitCode int
	Exited   bool
	Stderr   string
	Err      error
}

func (e *TransportError) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = "Failed to get credentials"
	}
	if e.Exited {
		msg += fmt.Sprintf(": process with PID %d exited with code %d", e.PID, e.ExitCode)
		if strings.TrimSpace(e.Stderr) != "" {
			msg += "; additional error message: " + strings.TrimSpace(e.Stderr)
		} else {
			msg += "; no additional error message available, see Credential Provider logs above for details."
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FaultError carries an operation-level error reported by the peer.
type FaultError struct {
	Method  Method
	Message string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("credential provider reported a fault for %s: %s", e.Method, e.Message)
}

// ResponseCodeError reports a response whose code is neither Success nor,
// where allowed, NotFound.
type ResponseCodeError struct {
	Method  Method
	Code    ResponseCode
	Message string
}

func (e *ResponseCodeError) Error() string {
	msg := fmt.Sprintf("credential provider returned %s for %s", e.Code, e.Method)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// TimeoutError reports a wait that exceeded the configured read timeout.
// The process has already been terminated when this is returned.
type TimeoutError struct {
	Method  Method
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s response from credential provider", e.Timeout, e.Method)
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
