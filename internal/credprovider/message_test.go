package credprovider

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	t.Run("stamps missing request id", func(t *testing.T) {
		t.Parallel()

		msg, err := NewMessage(TypeRequest, MethodHandshake, "", HandshakeRequest{
			ProtocolVersion:        ProtocolVersion,
			MinimumProtocolVersion: MinimumProtocolVersion,
		})
		require.NoError(t, err)

		line, err := Encode(&msg)
		require.NoError(t, err)

		_, err = uuid.Parse(msg.RequestID)
		assert.NoError(t, err, "request id should be a UUID")
		assert.Equal(t, byte('\n'), line[len(line)-1])
		assert.NotContains(t, string(line[:len(line)-1]), "\n")

		var wire map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &wire))
		assert.Equal(t, msg.RequestID, wire["RequestId"])
		assert.Equal(t, "Request", wire["Type"])
		assert.Equal(t, "Handshake", wire["Method"])
		assert.Equal(t, map[string]interface{}{
			"ProtocolVersion":        "2.0.0",
			"MinimumProtocolVersion": "1.0.0",
		}, wire["Payload"])
	})

	t.Run("keeps existing request id", func(t *testing.T) {
		t.Parallel()

		msg := Message{RequestID: "abc", Type: TypeResponse, Method: MethodLog}
		_, err := Encode(&msg)
		require.NoError(t, err)
		assert.Equal(t, "abc", msg.RequestID)
	})

	t.Run("ids are unique", func(t *testing.T) {
		t.Parallel()

		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			msg := Message{Type: TypeRequest, Method: MethodClose}
			_, err := Encode(&msg)
			require.NoError(t, err)
			assert.False(t, seen[msg.RequestID])
			seen[msg.RequestID] = true
		}
	})

	t.Run("omits empty payload", func(t *testing.T) {
		t.Parallel()

		msg := Message{Type: TypeRequest, Method: MethodClose}
		line, err := Encode(&msg)
		require.NoError(t, err)
		assert.NotContains(t, string(line), "Payload")
	})
}

func TestDecode(t *testing.T) {
	t.Parallel()

	msg, err := Decode([]byte(`{"RequestId":"1","Type":"Response","Method":"Initialize","Payload":{"ResponseCode":"Success"}}` + "\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "1", msg.RequestID)
	assert.Equal(t, TypeResponse, msg.Type)
	assert.Equal(t, MethodInitialize, msg.Method)

	var resp StatusResponse
	require.NoError(t, decodePayload(msg, &resp))
	assert.Equal(t, ResponseSuccess, resp.ResponseCode)
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line []byte
		want string
	}{
		{"not json", []byte("Hello from the provider\n"), "could not be parsed as JSON"},
		{"truncated json", []byte(`{"RequestId":"1","Type":`), "could not be parsed as JSON"},
		{"invalid utf8", []byte{'{', 0xff, 0xfe, '}', '\n'}, "UTF-8"},
		{"unknown type", []byte(`{"RequestId":"1","Type":"Gossip","Method":"Log"}`), "unknown message type"},
		{"missing method", []byte(`{"RequestId":"1","Type":"Request"}`), "no method"},
		{"empty line", []byte("\n"), "could not be parsed as JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode(tt.line)
			require.Error(t, err)

			var protoErr *ProtocolError
			require.True(t, errors.As(err, &protoErr), "expected ProtocolError, got %T", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodePayload_Missing(t *testing.T) {
	t.Parallel()

	var resp StatusResponse
	err := decodePayload(Message{Type: TypeResponse, Method: MethodInitialize}, &resp)

	var protoErr *ProtocolError
	assert.True(t, errors.As(err, &protoErr))
}

func TestFormatTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Second, "00:00:00"},
		{1500 * time.Millisecond, "00:00:01"},
		{5 * time.Minute, "00:05:00"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
		{30 * time.Hour, "30:00:00"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTimeout(tt.in), "FormatTimeout(%s)", tt.in)
	}
}

func TestSupportedVersion(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"1.0.0": true,
		"2.0.0": true,
		"2.1":   true,
		"3.0.0": false,
		"0.9.0": false,
		"":      false,
		"two":   false,
	}

	for version, want := range tests {
		assert.Equal(t, want, supportedVersion(version), "version %q", version)
	}
}
