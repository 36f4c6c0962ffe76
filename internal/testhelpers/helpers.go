// Package testhelpers provides common utilities for exercising the relay over
// real WebSocket connections in tests.
//
// It provides functions for dialing the relay, performing the login handshake,
// reading envelopes with deadlines, and asserting that nothing was delivered,
// to reduce duplication across test files.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds every blocking read performed by the helpers.
const DefaultTimeout = 2 * time.Second

// Envelope is a decoded frame as the client sees it.
type Envelope map[string]any

// Tag returns the envelope's tag field.
func (e Envelope) Tag() string {
	s, _ := e["tag"].(string)
	return s
}

// String returns field name as a string, or "" when absent.
func (e Envelope) String(name string) string {
	s, _ := e[name].(string)
	return s
}

// Presence returns the entries of a presence push.
func (e Envelope) Presence() []map[string]any {
	raw, _ := e["presence"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// WebSocketURL converts an httptest server URL into the relay's ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials url and registers cleanup of the connection.
func ConnectWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, http.Header{})
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// LoginFrame builds a login request for jid/password with publicKey, which
// may be any JSON-encodable value including nil.
func LoginFrame(jid, password string, publicKey any) map[string]any {
	return map[string]any{
		"presence": []map[string]any{{
			"jid":       jid,
			"password":  password,
			"publickey": publicKey,
		}},
	}
}

// SendJSON writes v as a single text frame.
func SendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// ReadEnvelope reads the next frame within timeout and decodes it.
func ReadEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env), "frame %q is not a JSON object", data)
	return env
}

// ReadUntilTag reads frames until one with tag arrives, skipping others.
func ReadUntilTag(t *testing.T, conn *websocket.Conn, tag string) Envelope {
	t.Helper()

	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		env := ReadEnvelope(t, conn, time.Until(deadline))
		if env.Tag() == tag {
			return env
		}
	}
	t.Fatalf("no %q envelope within %s", tag, DefaultTimeout)
	return nil
}

// Login connects to url, logs in and returns the connection together with
// the success reply. It fails the test on anything but a success envelope.
func Login(t *testing.T, url, jid, password string, publicKey any) (*websocket.Conn, Envelope) {
	t.Helper()

	conn := ConnectWebSocket(t, url)
	SendJSON(t, conn, LoginFrame(jid, password, publicKey))

	reply := ReadEnvelope(t, conn, DefaultTimeout)
	require.Equal(t, "success", reply.Tag(), "login as %s failed: %v", jid, reply)
	return conn, reply
}

// ExpectNoMessage fails the test if a frame arrives within wait. A timed out
// gorilla connection cannot be read again, so this must be the last read on conn.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, got %s", data)
	}
}

// ExpectClosed fails the test unless the server closes conn within timeout.
func ExpectClosed(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, _, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatalf("connection still open after %s", timeout)
			}
			return
		}
	}
}

// CloseWebSocket sends a normal close frame and closes conn.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
