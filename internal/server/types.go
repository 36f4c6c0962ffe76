// Package server defines the collaborator interfaces, drop reasons and small
// helpers shared by the hub and client logic.
package server

import (
	"errors"
	"strings"

	"github.com/Tyrowin/presencechat/internal/credentials"
)

// Authenticator validates login attempts and exposes the credential record
// of an identity.
type Authenticator interface {
	Authenticate(jid, password string) bool
	Lookup(jid string) (credentials.Record, bool)
}

// Reasons an envelope is dropped by the router. None of them is ever
// reported back to the sender.
var (
	ErrSenderInactive = errors.New("sender is not active")
	ErrEmptyMessage   = errors.New("message has no content")
	ErrUnknownTag     = errors.New("unknown message tag")
	ErrTargetOffline  = errors.New("target is not active")

	ErrStaleConnection = errors.New("connection no longer owns the session")
)

// isExpectedCloseError checks if a non-nil error is expected during
// connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
