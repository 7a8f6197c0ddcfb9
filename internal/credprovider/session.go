package credprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/pkg/provider"
)

// Protocol versions offered in the handshake
const (
	ProtocolVersion        = "2.0.0"
	MinimumProtocolVersion = "1.0.0"
)

// State is the lifecycle position of a Session
type State int

const (
	StateUnstarted State = iota
	StateHandshaking
	StateInitializing
	StateReady
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "Unstarted"
	case StateHandshaking:
		return "Handshaking"
	case StateInitializing:
		return "Initializing"
	case StateReady:
		return "Ready"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SessionOptions configures the Initialize exchange and waits.
type SessionOptions struct {
	ClientVersion string
	Culture       string

	// RequestTimeout is sent to the peer in Initialize.
	RequestTimeout time.Duration

	// ReadTimeout bounds how long a wait may go without any message from
	// the peer. Zero disables it.
	ReadTimeout time.Duration

	// LogLevel is sent with SetLogLevel after Initialize when non-empty.
	LogLevel string
}

// Session runs the plugin protocol over a Conn. It is not safe for
// concurrent use.
type Session struct {
	conn   Conn
	opts   SessionOptions
	logger *logging.Logger

	state      State
	closed     bool
	negotiated string
	pending    map[Method][]Message
}

// NewSession wraps conn. Nothing is sent until Start or Handshake.
func NewSession(conn Conn, opts SessionOptions, logger *logging.Logger) *Session {
	return &Session{
		conn:    conn,
		opts:    opts,
		logger:  logger,
		state:   StateUnstarted,
		pending: make(map[Method][]Message),
	}
}

// State returns the current state
func (s *Session) State() State {
	return s.state
}

// ProtocolVersion returns the version the peer agreed to
func (s *Session) ProtocolVersion() string {
	return s.negotiated
}

// Start runs Handshake, Initialize and, when configured, SetLogLevel.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Handshake(ctx); err != nil {
		return err
	}
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	if s.opts.LogLevel != "" {
		if err := s.SetLogLevel(ctx, s.opts.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Handshake negotiates the protocol version.
func (s *Session) Handshake(ctx context.Context) error {
	if err := s.expect(StateUnstarted, MethodHandshake); err != nil {
		return err
	}
	s.state = StateHandshaking

	var resp HandshakeResponse
	err := s.call(ctx, MethodHandshake, HandshakeRequest{
		ProtocolVersion:        ProtocolVersion,
		MinimumProtocolVersion: MinimumProtocolVersion,
	}, &resp)
	if err != nil {
		return s.fail(err)
	}

	if resp.ResponseCode != ResponseSuccess {
		return s.fail(&NegotiationError{Version: resp.ProtocolVersion, Reason: "peer rejected the handshake with " + string(resp.ResponseCode)})
	}
	if !supportedVersion(resp.ProtocolVersion) {
		return s.fail(&NegotiationError{Version: resp.ProtocolVersion, Reason: "only protocol versions 1.x and 2.x are supported"})
	}

	s.negotiated = resp.ProtocolVersion
	s.logger.Debug("Negotiated credential provider protocol %s", s.negotiated)
	return nil
}

// Initialize sends client settings. The session is Ready afterwards.
func (s *Session) Initialize(ctx context.Context) error {
	if s.state != StateHandshaking || s.negotiated == "" {
		return s.invalidState(MethodInitialize)
	}
	s.state = StateInitializing

	var resp StatusResponse
	err := s.call(ctx, MethodInitialize, InitializeRequest{
		ClientVersion:  s.opts.ClientVersion,
		Culture:        s.opts.Culture,
		RequestTimeout: FormatTimeout(s.opts.RequestTimeout),
	}, &resp)
	if err != nil {
		return s.fail(err)
	}
	if resp.ResponseCode != ResponseSuccess {
		return s.fail(&ResponseCodeError{Method: MethodInitialize, Code: resp.ResponseCode})
	}

	s.state = StateReady
	return nil
}

// SetLogLevel changes the peer's verbosity.
func (s *Session) SetLogLevel(ctx context.Context, level string) error {
	if err := s.expect(StateReady, MethodSetLogLevel); err != nil {
		return err
	}

	var resp StatusResponse
	if err := s.call(ctx, MethodSetLogLevel, SetLogLevelRequest{LogLevel: level}, &resp); err != nil {
		return s.fail(err)
	}
	if resp.ResponseCode != ResponseSuccess {
		return s.fail(&ResponseCodeError{Method: MethodSetLogLevel, Code: resp.ResponseCode})
	}
	return nil
}

// GetAuthenticationCredentials asks the peer for credentials for uri.
// NotFound yields the empty Credential and a nil error.
func (s *Session) GetAuthenticationCredentials(ctx context.Context, uri string, isRetry, nonInteractive, canShowDialog bool) (provider.Credential, error) {
	if err := s.expect(StateReady, MethodGetAuthenticationCredentials); err != nil {
		return provider.Credential{}, err
	}

	var resp GetAuthenticationCredentialsResponse
	err := s.call(ctx, MethodGetAuthenticationCredentials, GetAuthenticationCredentialsRequest{
		URI:              uri,
		IsRetry:          isRetry,
		IsNonInteractive: nonInteractive,
		CanShowDialog:    canShowDialog,
	}, &resp)
	if err != nil {
		return provider.Credential{}, s.fail(err)
	}

	switch resp.ResponseCode {
	case ResponseSuccess:
		s.logger.AddSecret(resp.Password)
		cred := provider.Credential{Username: resp.Username, Secret: resp.Password}
		if err := cred.Validate(); err != nil {
			return provider.Credential{}, fmt.Errorf("credential provider response for %s: %w", uri, err)
		}
		return cred, nil
	case ResponseNotFound:
		s.logger.Debug("Credential provider has no credentials for %s", uri)
		return provider.Credential{}, nil
	default:
		return provider.Credential{}, s.fail(&ResponseCodeError{
			Method:  MethodGetAuthenticationCredentials,
			Code:    resp.ResponseCode,
			Message: resp.Message,
		})
	}
}

// GetCredentials implements provider.Session.
func (s *Session) GetCredentials(ctx context.Context, req provider.Request) (provider.Credential, error) {
	return s.GetAuthenticationCredentials(ctx, req.Endpoint, req.IsRetry, req.NonInteractive, req.CanShowDialog)
}

// Close sends a best-effort Close request and releases the process.
// Calling Close again is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.state != StateFailed && s.state != StateUnstarted {
		if err := s.send(&Message{Type: TypeRequest, Method: MethodClose}); err != nil {
			s.logger.Debug("Failed to send Close to credential provider: %v", err)
		}
	}
	s.pending = nil

	// A failed session already reported why; only release the process.
	if s.state == StateFailed {
		_ = s.conn.Close()
		return nil
	}
	s.state = StateClosed
	return s.conn.Close()
}

func (s *Session) expect(want State, method Method) error {
	if s.state != want {
		return s.invalidState(method)
	}
	return nil
}

func (s *Session) invalidState(method Method) error {
	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateFailed:
		return ErrSessionFailed
	}
	return fmt.Errorf("cannot run %s while session is %s", method, s.state)
}

// fail moves the session to Failed and kills the process.
func (s *Session) fail(err error) error {
	if s.state != StateFailed {
		s.state = StateFailed
		_ = s.conn.Terminate()
	}
	return err
}

// call sends a request for method and decodes the matching response into out.
func (s *Session) call(ctx context.Context, method Method, payload, out interface{}) error {
	msg, err := NewMessage(TypeRequest, method, "", payload)
	if err != nil {
		return err
	}
	if err := s.send(&msg); err != nil {
		return err
	}
	resp, err := s.await(ctx, method, msg.RequestID)
	if err != nil {
		return err
	}
	return decodePayload(resp, out)
}

func (s *Session) send(msg *Message) error {
	line, err := Encode(msg)
	if err != nil {
		return err
	}
	s.logger.Debug("-> %s %s %s", msg.Type, msg.Method, msg.RequestID)
	if err := s.conn.WriteLine(line); err != nil {
		return s.streamClosed(fmt.Sprintf("failed to send %s to credential provider", msg.Method), err)
	}
	return nil
}

// streamClosed releases the conn and prefers its exit status, which names
// the PID, exit code and stderr, over the raw stream error.
func (s *Session) streamClosed(reason string, cause error) error {
	var te *TransportError
	if closeErr := s.conn.Close(); errors.As(closeErr, &te) {
		te.Reason = reason
		return te
	}
	return &TransportError{Reason: reason, Err: cause}
}

// await returns the next message for method (and requestID when set).
// Buffered messages are consumed first. Progress and peer requests are
// handled inline. A Fault for requestID ends the wait whatever its method;
// anything else is buffered for a later wait.
func (s *Session) await(ctx context.Context, method Method, requestID string) (Message, error) {
	if msg, ok := s.takePending(method, requestID); ok {
		return settle(msg)
	}

	for {
		line, err := s.readLine(ctx, method)
		if err != nil {
			return Message{}, err
		}

		msg, err := Decode(line)
		if err != nil {
			return Message{}, err
		}
		s.logger.Debug("<- %s %s %s", msg.Type, msg.Method, msg.RequestID)

		switch {
		case msg.Type == TypeProgress:
			s.reportProgress(msg)
		case msg.Type == TypeRequest:
			if err := s.handlePeerRequest(msg); err != nil {
				return Message{}, err
			}
		case msg.Type == TypeFault && requestID != "" && msg.RequestID == requestID:
			return settle(msg)
		case msg.Method == method && (requestID == "" || msg.RequestID == requestID):
			return settle(msg)
		default:
			s.pending[msg.Method] = append(s.pending[msg.Method], msg)
		}
	}
}

// readLine reads one line, applying the idle timeout. Every message
// received starts a fresh timeout window.
func (s *Session) readLine(ctx context.Context, method Method) ([]byte, error) {
	readCtx := ctx
	if s.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, s.opts.ReadTimeout)
		defer cancel()
	}

	line, err := s.conn.ReadLine(readCtx)
	switch {
	case err == nil:
		return line, nil
	case ctx.Err() != nil:
		_ = s.conn.Terminate()
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		_ = s.conn.Terminate()
		return nil, &TimeoutError{Method: method, Timeout: s.opts.ReadTimeout}
	case errors.Is(err, io.EOF):
		return nil, s.streamClosed(fmt.Sprintf("credential provider closed its output while awaiting %s", method), nil)
	default:
		return nil, &TransportError{Reason: "failed to read from credential provider", Err: err}
	}
}

func (s *Session) takePending(method Method, requestID string) (Message, bool) {
	queue := s.pending[method]
	for i, msg := range queue {
		if requestID == "" || msg.RequestID == requestID {
			s.pending[method] = append(queue[:i:i], queue[i+1:]...)
			return msg, true
		}
	}
	return Message{}, false
}

func settle(msg Message) (Message, error) {
	if msg.Type == TypeFault {
		var fault FaultPayload
		if err := decodePayload(msg, &fault); err != nil {
			return Message{}, err
		}
		return Message{}, &FaultError{Method: msg.Method, Message: fault.Message}
	}
	return msg, nil
}

func (s *Session) reportProgress(msg Message) {
	var p ProgressPayload
	if len(msg.Payload) == 0 || decodePayload(msg, &p) != nil {
		return
	}
	switch {
	case p.Message != "":
		s.logger.Diagnostic(p.Message)
	case p.Percentage != nil:
		s.logger.Diagnostic(fmt.Sprintf("%s: %.0f%%", msg.Method, *p.Percentage*100))
	}
}

// handlePeerRequest answers requests the peer sends to us.
func (s *Session) handlePeerRequest(msg Message) error {
	var payload interface{}
	switch msg.Method {
	case MethodHandshake:
		var req HandshakeRequest
		if err := decodePayload(msg, &req); err != nil {
			return err
		}
		if supportedVersion(req.ProtocolVersion) || supportedVersion(req.MinimumProtocolVersion) {
			payload = HandshakeResponse{ResponseCode: ResponseSuccess, ProtocolVersion: ProtocolVersion}
		} else {
			payload = HandshakeResponse{ResponseCode: ResponseError}
		}
	case MethodLog:
		var req LogRequest
		if err := decodePayload(msg, &req); err != nil {
			return err
		}
		s.logger.Diagnostic(req.Message)
		payload = StatusResponse{ResponseCode: ResponseSuccess}
	case MethodClose:
		s.logger.Debug("Credential provider requested Close")
		return nil
	default:
		reply, err := NewMessage(TypeFault, msg.Method, msg.RequestID, FaultPayload{Message: fmt.Sprintf("method %s is not supported", msg.Method)})
		if err != nil {
			return err
		}
		return s.send(&reply)
	}

	reply, err := NewMessage(TypeResponse, msg.Method, msg.RequestID, payload)
	if err != nil {
		return err
	}
	return s.send(&reply)
}

func supportedVersion(v string) bool {
	major, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return false
	}
	return n == 1 || n == 2
}

// FormatTimeout renders d as hh:mm:ss.
func FormatTimeout(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
