// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the roster snapshot and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/presencechat/internal/protocol"
)

// WebSocketHandler upgrades the request to a WebSocket, creates a Client for
// it and hands the client to the hub, which runs the login handshake.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("addr", r.RemoteAddr).WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr, s.cfg)
	if !s.hub.start(client) {
		client.log.Info("Hub is shutting down; rejecting connection")
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "presencechat relay is running!")
}

// RosterHandler writes the current presence snapshot as JSON, in the same
// shape as the presence push sent to clients.
func (s *Server) RosterHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(protocol.NewPresencePush(s.hub.Roster())); err != nil {
		log.WithError(err).Warn("Error writing roster response")
	}
}

// TestPageHandler serves an HTML page that logs in over the WebSocket
// endpoint, shows presence pushes and sends direct or public messages.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		log.WithError(err).Warn("Error writing HTML response")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>presencechat relay test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="password"] { width: 180px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        #roster { margin: 10px 0; color: #155724; }
    </style>
</head>
<body>
    <h1>presencechat relay test</h1>

    <div>
        <input type="text" id="jid" placeholder="jid, e.g. c1@s5">
        <input type="password" id="password" placeholder="password">
        <button onclick="login()">Log in</button>
    </div>
    <div id="roster">Offline</div>
    <div>
        <input type="text" id="to" placeholder="to (jid or public)" value="public">
        <input type="text" id="info" placeholder="message">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="log"></div>

    <script>
        let ws = null;
        let me = null;
        const logDiv = document.getElementById('log');

        function addLine(text) {
            const line = document.createElement('div');
            line.textContent = text;
            logDiv.appendChild(line);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function login() {
            const jid = document.getElementById('jid').value;
            const password = document.getElementById('password').value;
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                ws.send(JSON.stringify({presence: [{jid: jid, password: password, publickey: null}]}));
            };
            ws.onmessage = function(event) {
                const msg = JSON.parse(event.data);
                if (msg.tag === 'success') {
                    me = jid;
                    addLine('Logged in as ' + msg.nickname);
                } else if (msg.tag === 'presence') {
                    document.getElementById('roster').textContent =
                        'Online: ' + msg.presence.map(p => p.nickname + ' <' + p.jid + '>').join(', ');
                } else if (msg.tag === 'error') {
                    addLine('Error: ' + msg.message);
                } else {
                    addLine(msg.from + ' -> ' + msg.to + ': ' + (msg.tag === 'file' ? '[file ' + msg.filename + '] ' : '') + msg.info);
                }
            };
            ws.onclose = function() {
                addLine('Connection closed');
                document.getElementById('roster').textContent = 'Offline';
                ws = null;
                me = null;
            };
        }

        function sendMessage() {
            if (!ws || !me) {
                return;
            }
            const input = document.getElementById('info');
            ws.send(JSON.stringify({tag: 'message', from: me, to: document.getElementById('to').value, info: input.value}));
            input.value = '';
        }
    </script>
</body>
</html>`
