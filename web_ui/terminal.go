/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package web_ui

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/hoptree/hoptree/inventory"
	"github.com/hoptree/hoptree/metrics"
	"github.com/hoptree/hoptree/param"
	"github.com/hoptree/hoptree/resolver"
)

// Terminal websocket protocol. Binary frames carry raw terminal bytes in
// both directions; text frames carry WebSocketMessage control messages.

// WebSocketMessage represents a control message sent over the WebSocket
type WebSocketMessage struct {
	// Type is the message type
	Type string `json:"type"`

	// Payload contains the message data
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ResizePayload is the payload of a resize message
type ResizePayload struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// WebSocketMessageType constants
const (
	WsMsgTypeSession   = "session"
	WsMsgTypeConnected = "connected"
	WsMsgTypeResize    = "resize"
	WsMsgTypeClosed    = "closed"
	WsMsgTypeError     = "error"
	WsMsgTypePing      = "ping"
	WsMsgTypePong      = "pong"
)

const wsWriteTimeout = 10 * time.Second

// terminalConn is the websocket side of one session
type terminalConn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newTerminalConn(ws *websocket.Conn) *terminalConn {
	return &terminalConn{ws: ws, done: make(chan struct{})}
}

func (tc *terminalConn) write(msgType int, data []byte) error {
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	_ = tc.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return tc.ws.WriteMessage(msgType, data)
}

func (tc *terminalConn) send(msgType string, payload interface{}) error {
	msg := WebSocketMessage{Type: msgType}
	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "failed to marshal payload")
		}
		msg.Payload = payloadBytes
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	return tc.write(websocket.TextMessage, msgBytes)
}

func (tc *terminalConn) sendError(errorMsg string) {
	if err := tc.send(WsMsgTypeError, map[string]string{"error": errorMsg}); err != nil {
		log.Debugf("Failed to send WebSocket error: %v", err)
	}
}

// finish marks the session side as over
func (tc *terminalConn) finish() {
	tc.closeOnce.Do(func() { close(tc.done) })
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients), same-host origins and those listed in Server.AllowedOrigins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range param.Server_AllowedOrigins.GetStringSlice() {
		if allowed == "*" || strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

func (s *Server) attach(id string, tc *terminalConn) {
	s.mu.Lock()
	s.terminals[id] = tc
	s.mu.Unlock()
}

func (s *Server) detach(id string) {
	s.mu.Lock()
	delete(s.terminals, id)
	s.mu.Unlock()
}

func (s *Server) terminal(id string) *terminalConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminals[id]
}

func (s *Server) onData(id string, data []byte) {
	tc := s.terminal(id)
	if tc == nil {
		return
	}
	if err := tc.write(websocket.BinaryMessage, data); err != nil {
		log.Debugf("Dropping output of session %s: %v", id, err)
		return
	}
	metrics.WebsocketBytesTotal.WithLabelValues(metrics.DirectionOut).Add(float64(len(data)))
}

func (s *Server) onConnected(id string) {
	if tc := s.terminal(id); tc != nil {
		_ = tc.send(WsMsgTypeConnected, nil)
	}
}

func (s *Server) onClosed(id string) {
	if tc := s.terminal(id); tc != nil {
		_ = tc.send(WsMsgTypeClosed, nil)
		tc.finish()
	}
}

func (s *Server) onError(id, msg string) {
	if tc := s.terminal(id); tc != nil {
		tc.sendError(msg)
		tc.finish()
	}
}

// startSession opens the session the terminal request asks for: a local
// shell when local is set, otherwise an SSH shell on the node.
func (s *Server) startSession(ctx *gin.Context, id string) error {
	if ctx.Query("local") == "true" {
		return s.manager.CreateLocalSession(ctx.Request.Context(), id, ctx.Query("shell"))
	}

	node, err := s.inv.Node(ctx.Query("node"))
	if err != nil {
		return err
	}
	if node.Type != inventory.NodeTypeSSH {
		return errors.Errorf("node %s is not an ssh node", node.ID)
	}
	params, err := resolver.ResolveSsh(node, s.inv.Nodes, s.inv.Credentials, s.inv.Tunnels)
	if err != nil {
		return err
	}
	return s.manager.CreateSession(ctx.Request.Context(), id, params)
}

// handleTerminal upgrades to a websocket and relays it to a new session
// until either side goes away.
func (s *Server) handleTerminal(ctx *gin.Context) {
	if ctx.Query("local") != "true" && ctx.Query("node") == "" {
		ctx.JSON(http.StatusBadRequest, failed("either node or local=true is required"))
		return
	}

	ws, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warningf("Failed to upgrade to WebSocket: %v", err)
		return
	}
	defer ws.Close()

	metrics.WebsocketActiveConnections.Inc()
	defer metrics.WebsocketActiveConnections.Dec()

	id := uuid.NewString()
	tc := newTerminalConn(ws)
	s.attach(id, tc)
	defer s.detach(id)

	if err := s.startSession(ctx, id); err != nil {
		// Failures inside the manager were already reported through OnError
		select {
		case <-tc.done:
		default:
			tc.sendError(err.Error())
		}
		_ = tc.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session failed"))
		return
	}
	defer func() {
		if err := s.manager.Close(id); err != nil {
			log.Debugf("Closing session %s: %v", id, err)
		}
	}()

	if sess, ok := s.manager.Get(id); ok {
		if err := tc.send(WsMsgTypeSession, sess.Info()); err != nil {
			return
		}
	}
	log.Infof("Terminal websocket %s attached from %s", id, ctx.ClientIP())

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.relayInput(id, tc)
	}()

	select {
	case <-tc.done:
		_ = tc.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
	case err := <-readErr:
		if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			log.Debugf("WebSocket read error on %s: %v", id, err)
		}
	}
}

// relayInput feeds websocket frames into the session until the socket fails
func (s *Server) relayInput(id string, tc *terminalConn) error {
	for {
		msgType, message, err := tc.ws.ReadMessage()
		if err != nil {
			return err
		}

		if msgType == websocket.BinaryMessage {
			metrics.WebsocketBytesTotal.WithLabelValues(metrics.DirectionIn).Add(float64(len(message)))
			if err := s.manager.Write(id, message); err != nil {
				return err
			}
			continue
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debugf("Failed to parse WebSocket message: %v", err)
			tc.sendError("invalid message format")
			continue
		}
		switch msg.Type {
		case WsMsgTypeResize:
			var size ResizePayload
			if err := json.Unmarshal(msg.Payload, &size); err != nil {
				tc.sendError("invalid resize payload")
				continue
			}
			if err := s.manager.Resize(id, size.Rows, size.Cols); err != nil {
				tc.sendError(err.Error())
			}
		case WsMsgTypePing:
			_ = tc.send(WsMsgTypePong, nil)
		default:
			tc.sendError("unknown message type: " + msg.Type)
		}
	}
}
