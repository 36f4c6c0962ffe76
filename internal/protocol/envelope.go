// Package protocol defines the JSON envelopes exchanged between presencechat
// clients and the relay, along with the literal status messages the relay
// sends back during login.
package protocol

import "encoding/json"

// Envelope tags.
const (
	TagSuccess  = "success"
	TagError    = "error"
	TagPresence = "presence"
	TagMessage  = "message"
	TagFile     = "file"
)

// PublicTarget is the reserved recipient meaning "every active session".
const PublicTarget = "public"

// MaxCredentialLength is the longest jid or password accepted at login,
// counted in Unicode code points.
const MaxCredentialLength = 64

// Reply messages sent to clients.
const (
	MsgLoginSuccessful   = "Login successful"
	MsgJIDEmpty          = "JID cannot be empty"
	MsgJIDTooLong        = "JID should be less than 64 characters"
	MsgPasswordEmpty     = "Password cannot be empty"
	MsgPasswordTooLong   = "Password should be less than 64 characters"
	MsgIncorrectPassword = "Incorrect email and password"
)

// LoginEntry is a single element of the login request's presence array.
// PublicKey is kept as raw JSON so that strings, byte arrays and null all
// round-trip to the roster unchanged.
type LoginEntry struct {
	JID       string          `json:"jid"`
	Password  string          `json:"password"`
	PublicKey json.RawMessage `json:"publickey"`
}

// LoginRequest is the first frame a client sends on a new connection.
type LoginRequest struct {
	Presence []LoginEntry `json:"presence"`
}

// First returns the entry the relay consults. Only the first element of the
// presence array counts; a missing array yields the zero entry.
func (r LoginRequest) First() LoginEntry {
	if len(r.Presence) == 0 {
		return LoginEntry{}
	}
	return r.Presence[0]
}

// SuccessReply acknowledges a successful login.
type SuccessReply struct {
	Tag      string `json:"tag"`
	Message  string `json:"message"`
	Nickname string `json:"nickname"`
}

// NewSuccessReply builds the login acknowledgement for nickname.
func NewSuccessReply(nickname string) SuccessReply {
	return SuccessReply{Tag: TagSuccess, Message: MsgLoginSuccessful, Nickname: nickname}
}

// ErrorReply reports a validation or authentication failure.
type ErrorReply struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// NewErrorReply builds an error envelope carrying message.
func NewErrorReply(message string) ErrorReply {
	return ErrorReply{Tag: TagError, Message: message}
}

// PresenceEntry is the public view of one active session.
type PresenceEntry struct {
	Nickname  string          `json:"nickname"`
	JID       string          `json:"jid"`
	PublicKey json.RawMessage `json:"publickey"`
}

// MarshalJSON writes a null publickey when none was announced.
func (p PresenceEntry) MarshalJSON() ([]byte, error) {
	type entry PresenceEntry
	out := entry(p)
	if len(out.PublicKey) == 0 {
		out.PublicKey = json.RawMessage("null")
	}
	return json.Marshal(out)
}

// PresencePush carries the full roster of active sessions.
type PresencePush struct {
	Tag      string          `json:"tag"`
	Presence []PresenceEntry `json:"presence"`
}

// NewPresencePush wraps entries in a presence envelope. A nil slice is
// encoded as an empty list.
func NewPresencePush(entries []PresenceEntry) PresencePush {
	if entries == nil {
		entries = []PresenceEntry{}
	}
	return PresencePush{Tag: TagPresence, Presence: entries}
}

// Envelope is an inbound routable message as sent by a logged-in client.
type Envelope struct {
	Tag      string `json:"tag"`
	From     string `json:"from"`
	To       string `json:"to"`
	Info     string `json:"info"`
	Filename string `json:"filename,omitempty"`
}

// ChatMessage is the normalized outbound form of a text message.
type ChatMessage struct {
	Tag  string `json:"tag"`
	From string `json:"from"`
	To   string `json:"to"`
	Info string `json:"info"`
}

// FileMessage is the normalized outbound form of a file-transfer message.
// Only the metadata is relayed, never file content.
type FileMessage struct {
	Tag      string `json:"tag"`
	From     string `json:"from"`
	To       string `json:"to"`
	Info     string `json:"info"`
	Filename string `json:"filename"`
}
