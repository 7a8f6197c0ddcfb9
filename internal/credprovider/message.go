package credprovider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MessageType is the kind of a protocol message
type MessageType string

const (
	TypeRequest  MessageType = "Request"
	TypeResponse MessageType = "Response"
	TypeFault    MessageType = "Fault"
	TypeProgress MessageType = "Progress"
)

func (t MessageType) valid() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeFault, TypeProgress:
		return true
	}
	return false
}

// Method names a protocol operation
type Method string

const (
	MethodHandshake                    Method = "Handshake"
	MethodInitialize                   Method = "Initialize"
	MethodGetAuthenticationCredentials Method = "GetAuthenticationCredentials"
	MethodSetLogLevel                  Method = "SetLogLevel"
	MethodLog                          Method = "Log"
	MethodClose                        Method = "Close"
)

// ResponseCode is the outcome carried by response payloads
type ResponseCode string

const (
	ResponseSuccess  ResponseCode = "Success"
	ResponseError    ResponseCode = "Error"
	ResponseNotFound ResponseCode = "NotFound"
)

// Message is one line of the protocol
type Message struct {
	RequestID string          `json:"RequestId"`
	Type      MessageType     `json:"Type"`
	Method    Method          `json:"Method"`
	Payload   json.RawMessage `json:"Payload,omitempty"`
}

// HandshakeRequest is sent by either side to negotiate a version
type HandshakeRequest struct {
	ProtocolVersion        string `json:"ProtocolVersion"`
	MinimumProtocolVersion string `json:"MinimumProtocolVersion"`
}

// HandshakeResponse answers a HandshakeRequest
type HandshakeResponse struct {
	ResponseCode    ResponseCode `json:"ResponseCode"`
	ProtocolVersion string       `json:"ProtocolVersion,omitempty"`
}

// InitializeRequest configures the peer once the version is agreed
type InitializeRequest struct {
	ClientVersion  string `json:"ClientVersion"`
	Culture        string `json:"Culture"`
	RequestTimeout string `json:"RequestTimeout"`
}

// GetAuthenticationCredentialsRequest asks for credentials for one URI
type GetAuthenticationCredentialsRequest struct {
	URI              string `json:"Uri"`
	IsRetry          bool   `json:"IsRetry"`
	IsNonInteractive bool   `json:"IsNonInteractive"`
	CanShowDialog    bool   `json:"CanShowDialog"`
}

// GetAuthenticationCredentialsResponse carries the credential
type GetAuthenticationCredentialsResponse struct {
	Username            string       `json:"Username"`
	Password            string       `json:"Password"`
	Message             string       `json:"Message,omitempty"`
	AuthenticationTypes []string     `json:"AuthenticationTypes,omitempty"`
	ResponseCode        ResponseCode `json:"ResponseCode"`
}

// SetLogLevelRequest sets the peer's verbosity
type SetLogLevelRequest struct {
	LogLevel string `json:"LogLevel"`
}

// LogRequest is sent by the peer to surface a log line
type LogRequest struct {
	LogLevel string `json:"LogLevel"`
	Message  string `json:"Message"`
}

// StatusResponse is the payload of responses that only carry a code
type StatusResponse struct {
	ResponseCode ResponseCode `json:"ResponseCode"`
}

// FaultPayload is the payload of a Fault message
type FaultPayload struct {
	Message string `json:"Message"`
}

// ProgressPayload is the payload of a Progress message
type ProgressPayload struct {
	Percentage *float64 `json:"Percentage,omitempty"`
	Message    string   `json:"Message,omitempty"`
}

// NewMessage builds a message with payload marshalled to JSON.
// A nil payload leaves Payload empty.
func NewMessage(typ MessageType, method Method, requestID string, payload interface{}) (Message, error) {
	msg := Message{RequestID: requestID, Type: typ, Method: method}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal %s payload: %w", method, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Encode serializes msg as a single JSON line terminated by '\n'.
// A message without a request id is stamped with a fresh UUID first.
func Encode(msg *Message) ([]byte, error) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Method, err)
	}
	return append(line, '\n'), nil
}

// Decode parses one line into a Message. Any failure is a ProtocolError.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimRight(line, "\r\n")

	if !utf8.Valid(line) {
		return Message{}, &ProtocolError{Reason: "output could not be decoded using UTF-8"}
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, &ProtocolError{Reason: "output could not be parsed as JSON", Line: string(line), Err: err}
	}

	if !msg.Type.valid() {
		return Message{}, &ProtocolError{Reason: fmt.Sprintf("unknown message type %q", msg.Type), Line: string(line)}
	}
	if msg.Method == "" {
		return Message{}, &ProtocolError{Reason: "message has no method", Line: string(line)}
	}

	return msg, nil
}

// decodePayload unmarshals a message payload into out
func decodePayload(msg Message, out interface{}) error {
	if len(msg.Payload) == 0 {
		return &ProtocolError{Reason: fmt.Sprintf("%s %s has no payload", msg.Method, msg.Type)}
	}
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		return &ProtocolError{Reason: fmt.Sprintf("invalid %s payload", msg.Method), Line: string(msg.Payload), Err: err}
	}
	return nil
}
