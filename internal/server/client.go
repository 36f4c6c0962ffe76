// Package server manages individual relay connections, handling the login
// handshake, read/write pumps, rate limiting, and teardown for each client.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/presencechat/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// State is a connection's position in the login lifecycle.
type State int32

const (
	StateAwaitingLogin State = iota
	StateAuthenticated
	StateMessageLoop
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingLogin:
		return "awaiting-login"
	case StateAuthenticated:
		return "authenticated"
	case StateMessageLoop:
		return "message-loop"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Client is one relay connection. It owns the transport and a bounded queue
// of outbound frames drained by its write pump.
type Client struct {
	id             uuid.UUID
	conn           *websocket.Conn
	hub            *Hub
	addr           string
	log            *log.Entry
	send           chan []byte
	mu             sync.Mutex
	closed         bool
	state          atomic.Int32
	jid            string
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a Client for conn. conn may be nil in tests that drive
// the handshake directly through HandleLogin and HandleEnvelope.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, cfg Config) *Client {
	cfg = cfg.withDefaults()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.New()
	return &Client{
		id:             id,
		conn:           conn,
		hub:            hub,
		addr:           addr,
		log:            log.WithFields(log.Fields{"conn": id.String(), "addr": addr}),
		send:           make(chan []byte, cfg.SendBufferSize),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
	}
}

// ID returns the connection identifier used in logs.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// JID returns the identity the connection logged in as, or "" before login.
func (c *Client) JID() string {
	return c.jid
}

// State returns the connection's current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// GetSendChan returns the client's queue of outbound frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// enqueue queues data without blocking. It fails when the queue is full or
// the client has been closed.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) sendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.WithError(err).Error("Failed to encode reply")
		return false
	}
	if !c.enqueue(data) {
		c.log.Warn("Send queue full or closed; dropping reply")
		return false
	}
	return true
}

// close stops the outbound queue. The write pump flushes anything already
// queued, sends a close frame and then closes the transport.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.WithError(err).Warn("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.WithError(err).Warn("Error setting read deadline in pong handler")
		}
		return nil
	})
}

// logReadError classifies why a read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.WithField("limit", c.maxMessageSize).Warn("Frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.WithError(err).Info("Client disconnected")
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.WithError(err).Info("Client connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.WithError(err).Warn("Unexpected WebSocket close")
	default:
		c.log.WithError(err).Warn("WebSocket read error")
	}
}

// checkRateLimit reports whether the next envelope may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.WithFields(log.Fields{
			"burst":    c.rateLimit.Burst,
			"interval": c.rateLimit.RefillInterval,
		}).Warn("Rate limit exceeded; discarding envelope")
		return false
	}
	return true
}

// serve runs the connection's state machine: one login attempt, then the
// message loop, then teardown on every exit path.
func (c *Client) serve() {
	defer c.teardown()

	c.setupReadConnection()

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.logReadError(err)
		return
	}
	if !c.HandleLogin(raw) {
		return
	}

	c.readLoop()
}

func (c *Client) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.HandleEnvelope(raw)
	}
}

func (c *Client) teardown() {
	if r := recover(); r != nil {
		c.log.WithField("panic", r).Error("Recovered from panic in connection handler")
	}

	c.setState(StateClosed)
	c.hub.Leave(c)
	c.close()
	c.hub.untrack(c)
}

// HandleLogin processes the first frame of a connection. It reports whether
// the client is now logged in; on false the caller must tear the connection
// down, as only one attempt is allowed.
func (c *Client) HandleLogin(raw []byte) bool {
	var req protocol.LoginRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.log.WithError(err).Warn("Malformed login request")
		return false
	}

	entry := req.First()
	jid := c.hub.sanitizer.Sanitize(entry.JID)
	password := c.hub.sanitizer.Sanitize(entry.Password)

	if msg, ok := validateCredentials(jid, password); !ok {
		c.log.WithField("reason", msg).Info("Login rejected")
		c.sendJSON(protocol.NewErrorReply(msg))
		return false
	}

	if !c.hub.auth.Authenticate(jid, password) {
		c.log.WithField("jid", jid).Info("Authentication failed")
		c.sendJSON(protocol.NewErrorReply(protocol.MsgIncorrectPassword))
		return false
	}

	rec, ok := c.hub.auth.Lookup(jid)
	if !ok {
		c.log.WithField("jid", jid).Error("Authenticated identity missing from credential store")
		c.sendJSON(protocol.NewErrorReply(protocol.MsgIncorrectPassword))
		return false
	}

	c.jid = rec.JID
	c.setState(StateAuthenticated)

	c.hub.Join(c, rec, entry.PublicKey)
	c.setState(StateMessageLoop)
	return true
}

// HandleEnvelope decodes one frame from the message loop and passes it to the
// router. Undecodable frames, frames claiming another sender and frames from
// a connection superseded by a newer login are dropped.
func (c *Client) HandleEnvelope(raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.WithError(err).Info("Discarding undecodable envelope")
		return
	}

	if env.From != c.jid {
		c.log.WithFields(log.Fields{"jid": c.jid, "from": env.From}).Warn("Discarding envelope with forged sender")
		return
	}

	c.hub.RouteFrom(c, env)
}

// validateCredentials applies the login checks in order and returns the
// error message of the first one that fails.
func validateCredentials(jid, password string) (string, bool) {
	switch {
	case jid == "":
		return protocol.MsgJIDEmpty, false
	case utf8.RuneCountInString(jid) > protocol.MaxCredentialLength:
		return protocol.MsgJIDTooLong, false
	case password == "":
		return protocol.MsgPasswordEmpty, false
	case utf8.RuneCountInString(password) > protocol.MaxCredentialLength:
		return protocol.MsgPasswordTooLong, false
	default:
		return "", true
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Warn("Error closing connection")
	}
}

// handleMessage writes one outbound frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Warn("Error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.WithError(err).Warn("Error writing frame")
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Debug("Error writing close message")
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Warn("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.WithError(err).Warn("Error writing ping message")
		return false
	}
	return true
}
