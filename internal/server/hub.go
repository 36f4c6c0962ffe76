// Package server coordinates session registration, presence broadcast and
// message routing for the relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/presencechat/internal/credentials"
	"github.com/Tyrowin/presencechat/internal/protocol"
	"github.com/Tyrowin/presencechat/internal/sanitize"
)

// Hub owns the session registry and every connection the relay has accepted.
// A single mutex serializes registry mutations together with the broadcasts
// that follow them, so every presence push reflects a consistent roster.
// Frames are only ever enqueued on a client's bounded send queue while the
// lock is held; the network write happens later in the client's write pump.
type Hub struct {
	mu        sync.Mutex
	registry  *Registry
	conns     map[*Client]struct{}
	auth      Authenticator
	sanitizer sanitize.Sanitizer
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewHub creates a Hub that authenticates logins with auth and cleans
// untrusted text with sanitizer. A nil sanitizer selects sanitize.NewStrict.
func NewHub(auth Authenticator, sanitizer sanitize.Sanitizer) *Hub {
	if sanitizer == nil {
		sanitizer = sanitize.NewStrict()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:  NewRegistry(),
		conns:     make(map[*Client]struct{}),
		auth:      auth,
		sanitizer: sanitizer,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// start tracks c and launches its pumps. It returns false once the hub is
// shutting down.
func (h *Hub) start(c *Client) bool {
	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		return false
	}
	h.conns[c] = struct{}{}
	h.wg.Add(2)
	connCount := len(h.conns)
	h.mu.Unlock()

	c.log.WithField("connections", connCount).Info("Connection opened")

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.serve()
	}()
	return true
}

func (h *Hub) untrack(c *Client) {
	h.mu.Lock()
	delete(h.conns, c)
	connCount := len(h.conns)
	h.mu.Unlock()

	c.log.WithField("connections", connCount).Info("Connection closed")
}

// Join registers an authenticated session for c, queues the login
// acknowledgement and pushes the new roster to everyone. A session already
// held by another connection for the same identity is replaced and that
// connection is closed.
func (h *Hub) Join(c *Client, rec credentials.Record, publicKey json.RawMessage) {
	prev, replaced, sessions := h.join(c, rec, publicKey)

	c.log.WithFields(log.Fields{"jid": rec.JID, "sessions": sessions}).Info("Session registered")

	if replaced && prev.client != nil && prev.client != c {
		prev.client.log.WithField("jid", rec.JID).Info("Session superseded by a newer login; closing connection")
		prev.client.close()
	}
}

func (h *Hub) join(c *Client, rec credentials.Record, publicKey json.RawMessage) (Session, bool, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, replaced := h.registry.Register(Session{
		JID:       rec.JID,
		Nickname:  rec.Nickname,
		PublicKey: publicKey,
		client:    c,
	})
	c.sendJSON(protocol.NewSuccessReply(rec.Nickname))
	h.broadcastPresenceLocked()
	return prev, replaced, h.registry.Len()
}

// Leave removes c's session if c still owns it and, when something was
// removed, pushes the updated roster. It reports whether a session was removed.
func (h *Hub) Leave(c *Client) bool {
	if c.jid == "" {
		return false
	}

	removed, sessions := h.leave(c)
	if removed {
		c.log.WithFields(log.Fields{"jid": c.jid, "sessions": sessions}).Info("Session unregistered")
	}
	return removed
}

func (h *Hub) leave(c *Client) (bool, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := h.registry.Release(c.jid, c)
	if removed {
		h.broadcastPresenceLocked()
	}
	return removed, h.registry.Len()
}

// BroadcastPresence pushes the current roster to every active session.
func (h *Hub) BroadcastPresence() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastPresenceLocked()
}

// Route forwards env to its target. Envelopes that cannot be routed are
// logged and discarded; the sender is never told.
func (h *Hub) Route(env protocol.Envelope) {
	h.logDrop(env, h.routeFrom(nil, env))
}

// RouteFrom is Route for an envelope read from c. It is dropped unless c
// still owns the session of env.From.
func (h *Hub) RouteFrom(c *Client, env protocol.Envelope) {
	h.logDrop(env, h.routeFrom(c, env))
}

func (h *Hub) routeFrom(c *Client, env protocol.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.route(c, env)
}

func (h *Hub) logDrop(env protocol.Envelope, err error) {
	if err == nil {
		return
	}
	log.WithFields(log.Fields{
		"tag":  env.Tag,
		"from": env.From,
		"to":   env.To,
	}).WithError(err).Info("Discarding envelope")
}

// Lookup returns the active session for jid.
func (h *Hub) Lookup(jid string) (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Lookup(jid)
}

// Roster returns the public view of every active session in roster order.
func (h *Hub) Roster() []protocol.PresenceEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rosterLocked()
}

// SessionCount reports how many identities are online.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Len()
}

// ConnectionCount reports how many connections are open, logged in or not.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// route forwards env. A non-nil c must own the sender's session.
func (h *Hub) route(c *Client, env protocol.Envelope) error {
	sender, ok := h.registry.Lookup(env.From)
	if !ok {
		return fmt.Errorf("%w: %q", ErrSenderInactive, env.From)
	}
	if c != nil && sender.client != c {
		return fmt.Errorf("%w: %q", ErrStaleConnection, env.From)
	}

	info := h.sanitizer.Sanitize(env.Info)

	var payload any
	switch env.Tag {
	case protocol.TagMessage:
		if info == "" {
			return ErrEmptyMessage
		}
		payload = protocol.ChatMessage{
			Tag:  protocol.TagMessage,
			From: env.From,
			To:   env.To,
			Info: info,
		}
	case protocol.TagFile:
		payload = protocol.FileMessage{
			Tag:      protocol.TagFile,
			From:     env.From,
			To:       env.To,
			Info:     info,
			Filename: env.Filename,
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTag, env.Tag)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Tag, err)
	}
	return h.forward(env.To, data)
}

func (h *Hub) forward(to string, data []byte) error {
	if to == protocol.PublicTarget {
		h.broadcastLocked(data)
		return nil
	}

	target, ok := h.registry.Lookup(to)
	if !ok {
		return fmt.Errorf("%w: %q", ErrTargetOffline, to)
	}
	h.deliver(target, data)
	return nil
}

func (h *Hub) rosterLocked() []protocol.PresenceEntry {
	sessions := h.registry.Snapshot()
	entries := make([]protocol.PresenceEntry, 0, len(sessions))
	for _, s := range sessions {
		entries = append(entries, protocol.PresenceEntry{
			Nickname:  s.Nickname,
			JID:       s.JID,
			PublicKey: s.PublicKey,
		})
	}
	return entries
}

func (h *Hub) broadcastPresenceLocked() {
	data, err := json.Marshal(protocol.NewPresencePush(h.rosterLocked()))
	if err != nil {
		log.WithError(err).Error("Failed to encode presence push")
		return
	}
	h.broadcastLocked(data)
}

// broadcastLocked iterates a snapshot so one failing recipient never stops
// delivery to the rest.
func (h *Hub) broadcastLocked(data []byte) {
	sessions := h.registry.Snapshot()
	log.WithField("recipients", len(sessions)).Debug("Broadcasting envelope")
	for _, s := range sessions {
		h.deliver(s, data)
	}
}

func (h *Hub) deliver(s Session, data []byte) {
	if s.client == nil {
		return
	}
	if !s.client.enqueue(data) {
		s.client.log.Warn("Send queue full or closed; dropping frame")
	}
}

// Shutdown closes every open connection and waits for the connection
// goroutines to finish, or for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Info("Initiating hub shutdown...")

	h.mu.Lock()
	h.cancel()
	clients := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeConnection()
	}
	log.WithField("connections", len(clients)).Info("Closed client connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
