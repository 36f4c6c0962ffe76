package server

import "encoding/json"

// Session is the runtime record of a connected, authenticated identity.
type Session struct {
	JID       string
	Nickname  string
	PublicKey json.RawMessage
	client    *Client
}

// Client returns the connection that owns the session.
func (s Session) Client() *Client {
	return s.client
}

// Registry maps identities to their active session and remembers the order in
// which identities came online. It is not safe for concurrent use on its own;
// the Hub serializes every call.
type Registry struct {
	sessions map[string]*Session
	order    []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register inserts s, replacing any session already held for s.JID. A
// replaced identity keeps its position in the roster order. The previous
// session is returned when one was replaced.
func (r *Registry) Register(s Session) (Session, bool) {
	stored := s
	if prev, ok := r.sessions[s.JID]; ok {
		old := *prev
		r.sessions[s.JID] = &stored
		return old, true
	}
	r.sessions[s.JID] = &stored
	r.order = append(r.order, s.JID)
	return Session{}, false
}

// Unregister removes jid if present and reports whether anything was removed.
func (r *Registry) Unregister(jid string) bool {
	if _, ok := r.sessions[jid]; !ok {
		return false
	}
	delete(r.sessions, jid)
	for i, id := range r.order {
		if id == jid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Release removes jid only while it is still owned by c. A connection that
// was superseded by a newer login therefore cannot evict its replacement.
func (r *Registry) Release(jid string, c *Client) bool {
	s, ok := r.sessions[jid]
	if !ok || s.client != c {
		return false
	}
	return r.Unregister(jid)
}

// Lookup returns the active session for jid.
func (r *Registry) Lookup(jid string) (Session, bool) {
	s, ok := r.sessions[jid]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Snapshot returns a copy of every active session in roster order.
func (r *Registry) Snapshot() []Session {
	out := make([]Session, 0, len(r.order))
	for _, jid := range r.order {
		out = append(out, *r.sessions[jid])
	}
	return out
}

// Len reports the number of active sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}
