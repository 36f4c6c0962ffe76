package server

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/presencechat/internal/credentials"
	"github.com/Tyrowin/presencechat/internal/protocol"
	"github.com/Tyrowin/presencechat/internal/sanitize"
)

// testAccounts maps jid to nickname; every password is "pw-" + jid.
var testAccounts = []struct{ jid, nickname string }{
	{"c1@s5", "pemba"},
	{"c2@s5", "saurab"},
	{"c3@s5", "roshan"},
	{"c4@s5", "bidur"},
}

func passwordFor(jid string) string { return "pw-" + jid }

func newTestAuthenticator(t *testing.T) *credentials.Authenticator {
	t.Helper()
	records := make([]credentials.Record, 0, len(testAccounts))
	for _, acct := range testAccounts {
		hash, err := credentials.HashPassword(passwordFor(acct.jid), bcrypt.MinCost)
		require.NoError(t, err)
		records = append(records, credentials.Record{JID: acct.jid, Nickname: acct.nickname, PasswordHash: hash})
	}
	store, err := credentials.NewStore(records...)
	require.NoError(t, err)
	return credentials.NewAuthenticator(store, credentials.BcryptVerifier{})
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(newTestAuthenticator(t), sanitize.NewStrict())
}

func newTestClient(h *Hub) *Client {
	return NewClient(nil, h, "127.0.0.1:12345", Config{})
}

func loginFrame(t *testing.T, jid, password string, publicKey any) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"presence": []map[string]any{{"jid": jid, "password": password, "publickey": publicKey}},
	})
	require.NoError(t, err)
	return data
}

// loggedIn creates a client, logs it in as jid and discards its queued frames.
func loggedIn(t *testing.T, h *Hub, jid string, publicKey any) *Client {
	t.Helper()
	c := newTestClient(h)
	require.True(t, c.HandleLogin(loginFrame(t, jid, passwordFor(jid), publicKey)))
	return c
}

// drain returns every frame currently queued for c without blocking.
func drain(t *testing.T, c *Client) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return frames
			}
			var m map[string]any
			require.NoError(t, json.Unmarshal(data, &m))
			frames = append(frames, m)
		default:
			return frames
		}
	}
}

func drainAll(t *testing.T, clients ...*Client) {
	t.Helper()
	for _, c := range clients {
		drain(t, c)
	}
}

func presenceJIDs(t *testing.T, frame map[string]any) []string {
	t.Helper()
	require.Equal(t, protocol.TagPresence, frame["tag"])
	entries, ok := frame["presence"].([]any)
	require.True(t, ok, "presence field is not a list: %v", frame)
	jids := make([]string, 0, len(entries))
	for _, e := range entries {
		jids = append(jids, e.(map[string]any)["jid"].(string))
	}
	return jids
}

func TestLoginSuccessQueuesReplyThenPresence(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)
	assert.Equal(t, StateAwaitingLogin, c.State())

	require.True(t, c.HandleLogin(loginFrame(t, "c1@s5", passwordFor("c1@s5"), "key-1")))
	assert.Equal(t, StateMessageLoop, c.State())
	assert.Equal(t, "c1@s5", c.JID())

	frames := drain(t, c)
	require.Len(t, frames, 2)
	assert.Equal(t, map[string]any{
		"tag":      "success",
		"message":  "Login successful",
		"nickname": "pemba",
	}, frames[0])
	assert.Equal(t, map[string]any{
		"tag": "presence",
		"presence": []any{
			map[string]any{"nickname": "pemba", "jid": "c1@s5", "publickey": "key-1"},
		},
	}, frames[1])
}

func TestLoginUsesStoredNickname(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)

	frame := []byte(`{"presence":[{"jid":"c2@s5","password":"pw-c2@s5","nickname":"impostor","publickey":null}]}`)
	require.True(t, c.HandleLogin(frame))

	s, ok := h.Lookup("c2@s5")
	require.True(t, ok)
	assert.Equal(t, "saurab", s.Nickname)
	assert.Same(t, c, s.Client())
}

func TestLoginValidationFailures(t *testing.T) {
	long := make([]rune, 65)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name     string
		jid      string
		password string
		want     string
	}{
		{"empty jid", "", "secret", protocol.MsgJIDEmpty},
		{"jid only markup", "<b></b>", "secret", protocol.MsgJIDEmpty},
		{"jid too long", string(long), "secret", protocol.MsgJIDTooLong},
		{"empty password", "c1@s5", "", protocol.MsgPasswordEmpty},
		{"password too long", "c1@s5", string(long), protocol.MsgPasswordTooLong},
		{"jid checked before password", "", "", protocol.MsgJIDEmpty},
		{"wrong password", "c1@s5", "wrong", protocol.MsgIncorrectPassword},
		{"unknown identity", "ghost@s5", "pw-ghost@s5", protocol.MsgIncorrectPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(t)
			c := newTestClient(h)

			assert.False(t, c.HandleLogin(loginFrame(t, tt.jid, tt.password, nil)))

			frames := drain(t, c)
			require.Len(t, frames, 1)
			assert.Equal(t, map[string]any{"tag": "error", "message": tt.want}, frames[0])
			assert.Zero(t, h.SessionCount())
			assert.Empty(t, c.JID())
		})
	}
}

func TestLoginMissingPresenceArray(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)

	assert.False(t, c.HandleLogin([]byte(`{}`)))
	frames := drain(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.MsgJIDEmpty, frames[0]["message"])
}

func TestLoginMalformedFrameSendsNothing(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)

	assert.False(t, c.HandleLogin([]byte(`not json`)))
	assert.Empty(t, drain(t, c))
	assert.Zero(t, h.SessionCount())
}

func TestPresenceListsEverySession(t *testing.T) {
	h := newTestHub(t)

	var clients []*Client
	for i, acct := range testAccounts {
		clients = append(clients, loggedIn(t, h, acct.jid, fmt.Sprintf("key-%d", i)))
	}

	// The last login's presence push is the newest frame on every client.
	for _, c := range clients {
		frames := drain(t, c)
		require.NotEmpty(t, frames)
		last := frames[len(frames)-1]
		assert.Equal(t, []string{"c1@s5", "c2@s5", "c3@s5", "c4@s5"}, presenceJIDs(t, last))

		for i, e := range last["presence"].([]any) {
			entry := e.(map[string]any)
			assert.Equal(t, testAccounts[i].nickname, entry["nickname"])
			assert.Equal(t, fmt.Sprintf("key-%d", i), entry["publickey"])
		}
	}
}

func TestDuplicateLoginReplacesSession(t *testing.T) {
	h := newTestHub(t)
	sender := loggedIn(t, h, "c2@s5", nil)
	first := loggedIn(t, h, "c1@s5", "old-key")
	drainAll(t, sender, first)

	second := loggedIn(t, h, "c1@s5", "new-key")

	// The superseded client is closed once its queue is flushed.
	assert.Empty(t, drain(t, first))
	assert.True(t, first.closed)

	roster := h.Roster()
	require.Len(t, roster, 2)
	assert.Equal(t, "c2@s5", roster[0].JID)
	assert.Equal(t, "c1@s5", roster[1].JID)
	assert.JSONEq(t, `"new-key"`, string(roster[1].PublicKey))

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, []string{"c2@s5", "c1@s5"}, presenceJIDs(t, frames[0]))
	drain(t, second)

	h.Route(protocol.Envelope{Tag: protocol.TagMessage, From: "c2@s5", To: "c1@s5", Info: "hi"})
	frames = drain(t, second)
	require.Len(t, frames, 1)
	assert.Equal(t, "hi", frames[0]["info"])

	// Frames still buffered on the superseded connection are not routed.
	first.HandleEnvelope([]byte(`{"tag":"message","from":"c1@s5","to":"c2@s5","info":"stale"}`))
	assert.Empty(t, drain(t, sender))
	assert.ErrorIs(t, h.route(first, protocol.Envelope{Tag: protocol.TagMessage, From: "c1@s5", To: "c2@s5", Info: "stale"}), ErrStaleConnection)
	assert.NoError(t, h.route(second, protocol.Envelope{Tag: protocol.TagMessage, From: "c1@s5", To: "c2@s5", Info: "fresh"}))
	frames = drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, "fresh", frames[0]["info"])

	// Tearing down the superseded connection must not evict the new one.
	assert.False(t, h.Leave(first))
	s, ok := h.Lookup("c1@s5")
	require.True(t, ok)
	assert.Same(t, second, s.Client())
	assert.Empty(t, drain(t, sender))
}

func TestRouteDirectMessage(t *testing.T) {
	h := newTestHub(t)
	a := loggedIn(t, h, "c1@s5", nil)
	b := loggedIn(t, h, "c2@s5", nil)
	c := loggedIn(t, h, "c3@s5", nil)
	drainAll(t, a, b, c)

	b.HandleEnvelope([]byte(`{"tag":"message","from":"c2@s5","to":"c1@s5","info":"hi","extra":"dropped"}`))

	frames := drain(t, a)
	require.Len(t, frames, 1)
	assert.Equal(t, map[string]any{"tag": "message", "from": "c2@s5", "to": "c1@s5", "info": "hi"}, frames[0])
	assert.Empty(t, drain(t, b))
	assert.Empty(t, drain(t, c))
}

func TestRoutePublicReachesEveryoneIncludingSender(t *testing.T) {
	h := newTestHub(t)
	clients := []*Client{
		loggedIn(t, h, "c1@s5", nil),
		loggedIn(t, h, "c2@s5", nil),
		loggedIn(t, h, "c3@s5", nil),
	}
	drainAll(t, clients...)

	h.Route(protocol.Envelope{Tag: protocol.TagMessage, From: "c1@s5", To: protocol.PublicTarget, Info: "hello all"})

	for _, c := range clients {
		frames := drain(t, c)
		require.Len(t, frames, 1, "client %s", c.JID())
		assert.Equal(t, "hello all", frames[0]["info"])
		assert.Equal(t, "public", frames[0]["to"])
	}
}

func TestRouteFileMessage(t *testing.T) {
	h := newTestHub(t)
	a := loggedIn(t, h, "c1@s5", nil)
	b := loggedIn(t, h, "c2@s5", nil)
	drainAll(t, a, b)

	require.NoError(t, h.route(nil, protocol.Envelope{Tag: protocol.TagFile, From: "c1@s5", To: "c2@s5", Info: "", Filename: "report.pdf"}))

	frames := drain(t, b)
	require.Len(t, frames, 1)
	assert.Equal(t, map[string]any{
		"tag":      "file",
		"from":     "c1@s5",
		"to":       "c2@s5",
		"info":     "",
		"filename": "report.pdf",
	}, frames[0])
}

func TestRouteDropReasons(t *testing.T) {
	tests := []struct {
		name string
		env  protocol.Envelope
		want error
	}{
		{"inactive sender", protocol.Envelope{Tag: protocol.TagMessage, From: "c3@s5", To: "c1@s5", Info: "hi"}, ErrSenderInactive},
		{"unknown sender", protocol.Envelope{Tag: protocol.TagMessage, From: "ghost", To: "c1@s5", Info: "hi"}, ErrSenderInactive},
		{"empty info", protocol.Envelope{Tag: protocol.TagMessage, From: "c1@s5", To: "c2@s5", Info: ""}, ErrEmptyMessage},
		{"info only markup", protocol.Envelope{Tag: protocol.TagMessage, From: "c1@s5", To: "c2@s5", Info: "<i></i>"}, ErrEmptyMessage},
		{"unknown tag", protocol.Envelope{Tag: "typing", From: "c1@s5", To: "c2@s5", Info: "x"}, ErrUnknownTag},
		{"offline target", protocol.Envelope{Tag: protocol.TagMessage, From: "c1@s5", To: "c4@s5", Info: "hi"}, ErrTargetOffline},
		{"missing target", protocol.Envelope{Tag: protocol.TagMessage, From: "c1@s5", Info: "hi"}, ErrTargetOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(t)
			a := loggedIn(t, h, "c1@s5", nil)
			b := loggedIn(t, h, "c2@s5", nil)
			drainAll(t, a, b)

			assert.ErrorIs(t, h.route(nil, tt.env), tt.want)

			h.Route(tt.env)
			assert.Empty(t, drain(t, a))
			assert.Empty(t, drain(t, b))
		})
	}
}

func TestRouteSanitizesInfo(t *testing.T) {
	h := newTestHub(t)
	a := loggedIn(t, h, "c1@s5", nil)
	b := loggedIn(t, h, "c2@s5", nil)
	drainAll(t, a, b)

	h.Route(protocol.Envelope{Tag: protocol.TagMessage, From: "c1@s5", To: "c2@s5", Info: "<script>x()</script>hello <b>there</b>"})

	frames := drain(t, b)
	require.Len(t, frames, 1)
	assert.Equal(t, "hello there", frames[0]["info"])
}

func TestPanicWhileRoutingReleasesHub(t *testing.T) {
	panicky := sanitize.Func(func(s string) string {
		if s == "boom" {
			panic("sanitizer failure")
		}
		return s
	})
	h := NewHub(newTestAuthenticator(t), panicky)
	a := loggedIn(t, h, "c1@s5", nil)
	b := loggedIn(t, h, "c2@s5", nil)
	drainAll(t, a, b)

	assert.Panics(t, func() {
		a.HandleEnvelope([]byte(`{"tag":"message","from":"c1@s5","to":"c2@s5","info":"boom"}`))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.True(t, h.Leave(a))
		h.Route(protocol.Envelope{Tag: protocol.TagMessage, From: "c2@s5", To: "c2@s5", Info: "still here"})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub lock still held after a panic during routing")
	}

	frames := drain(t, b)
	require.Len(t, frames, 2)
	assert.Equal(t, []string{"c2@s5"}, presenceJIDs(t, frames[0]))
	assert.Equal(t, "still here", frames[1]["info"])
}

func TestHandleEnvelopeDropsForgedAndMalformed(t *testing.T) {
	h := newTestHub(t)
	a := loggedIn(t, h, "c1@s5", nil)
	b := loggedIn(t, h, "c2@s5", nil)
	drainAll(t, a, b)

	b.HandleEnvelope([]byte(`{"tag":"message","from":"c1@s5","to":"public","info":"forged"}`))
	b.HandleEnvelope([]byte(`{"tag":"message",`))
	b.HandleEnvelope([]byte(`{"tag":"message","from":"c2@s5","to":"c1@s5","info":42}`))

	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, b))
}

func TestLeaveBroadcastsOnce(t *testing.T) {
	h := newTestHub(t)
	a := loggedIn(t, h, "c1@s5", nil)
	b := loggedIn(t, h, "c2@s5", nil)
	c := loggedIn(t, h, "c3@s5", nil)
	drainAll(t, a, b, c)

	assert.True(t, h.Leave(b))
	assert.False(t, h.Leave(b))

	for _, remaining := range []*Client{a, c} {
		frames := drain(t, remaining)
		require.Len(t, frames, 1)
		assert.Equal(t, []string{"c1@s5", "c3@s5"}, presenceJIDs(t, frames[0]))
	}
	assert.Empty(t, drain(t, b))
}

func TestLeaveWithoutLoginIsNoop(t *testing.T) {
	h := newTestHub(t)
	a := loggedIn(t, h, "c1@s5", nil)
	drain(t, a)

	assert.False(t, h.Leave(newTestClient(h)))
	assert.Empty(t, drain(t, a))
}

func TestBroadcastSkipsFullQueues(t *testing.T) {
	h := newTestHub(t)

	slow := NewClient(nil, h, "slow", Config{SendBufferSize: 2})
	require.True(t, slow.HandleLogin(loginFrame(t, "c1@s5", passwordFor("c1@s5"), nil)))
	fast := loggedIn(t, h, "c2@s5", nil)
	drain(t, fast)

	// slow's queue is already full with its success reply and first roster.
	h.Route(protocol.Envelope{Tag: protocol.TagMessage, From: "c2@s5", To: protocol.PublicTarget, Info: "one"})

	frames := drain(t, fast)
	require.Len(t, frames, 1)
	assert.Equal(t, "one", frames[0]["info"])
	assert.Len(t, drain(t, slow), 2)
}

func TestBroadcastPresenceOnDemand(t *testing.T) {
	h := newTestHub(t)
	a := loggedIn(t, h, "c1@s5", nil)
	drain(t, a)

	h.BroadcastPresence()
	frames := drain(t, a)
	require.Len(t, frames, 1)
	assert.Equal(t, []string{"c1@s5"}, presenceJIDs(t, frames[0]))
}

func TestEnqueueAfterClose(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)
	c.close()
	c.close()

	assert.False(t, c.enqueue([]byte("x")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting-login", StateAwaitingLogin.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "message-loop", StateMessageLoop.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestValidateCredentialsCountsRunes(t *testing.T) {
	sixtyFour := ""
	for i := 0; i < 64; i++ {
		sixtyFour += "é"
	}

	msg, ok := validateCredentials(sixtyFour, sixtyFour)
	assert.True(t, ok, msg)

	_, ok = validateCredentials(sixtyFour+"é", "pw")
	assert.False(t, ok)
}
