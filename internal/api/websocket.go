package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/auth"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/sink"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// Channels clients can subscribe to. They match sink event types.
var wsChannels = map[string]struct{}{
	sink.EventRecordCompleted: {},
	sink.EventThrottled:       {},
}

// Record outcomes a record.completed subscription can be narrowed to.
var wsOutcomes = map[string]struct{}{
	"ack":  {},
	"emit": {},
	"fail": {},
}

// WSMessage is the envelope for every message in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`

	// Outcomes narrows record.completed to the listed outcomes (ack, emit,
	// fail). Empty means all outcomes.
	Outcomes []string `json:"outcomes,omitempty"`
}

// subscription is one channel's filter. A nil outcome set matches everything.
type subscription struct {
	outcomes map[string]struct{}
}

func (s subscription) matches(ev sink.Event) bool {
	if s.outcomes == nil || ev.Outcome == "" {
		return true
	}
	_, ok := s.outcomes[ev.Outcome]
	return ok
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.Mutex
	closed        bool
	subscriptions map[string]subscription

	// Identity from the ticket the connection was opened with.
	subject string
	role    auth.Role
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by corsMiddleware; the ticket authenticates.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// keepalive derives connection deadlines from the WebSocket config.
type keepalive struct {
	ping time.Duration
	pong time.Duration
}

func newKeepalive(cfg config.WebSocketConfig) keepalive {
	k := keepalive{
		ping: time.Duration(cfg.PingInterval) * time.Second,
		pong: time.Duration(cfg.PongTimeout) * time.Second,
	}
	if k.ping <= 0 {
		k.ping = defaultPingInterval
	}
	if k.pong <= 0 {
		k.pong = defaultPongTimeout
	}
	return k
}

func (k keepalive) readDeadline() time.Time  { return time.Now().Add(k.ping + k.pong) }
func (k keepalive) writeDeadline() time.Time { return time.Now().Add(k.pong) }

// handleWebSocket upgrades the connection after consuming the single-use
// ticket from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.validate(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]subscription),
		subject:       entry.subject,
		role:          entry.role,
	}
	s.hub.Register(client)

	ka := newKeepalive(s.wsCfg)
	go client.writePump(ka)
	go client.readPump(ka, s.wsCfg.MaxMessageSize)
}

// readPump handles inbound messages until the connection fails.
func (c *WSClient) readPump(ka keepalive, maxSize int) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if maxSize > 0 {
		c.conn.SetReadLimit(int64(maxSize))
	}
	//nolint:errcheck // Best-effort deadline
	c.conn.SetReadDeadline(ka.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(ka.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		// Application messages count as liveness too.
		//nolint:errcheck // Best-effort deadline
		c.conn.SetReadDeadline(ka.readDeadline())
		c.handleMessage(data)
	}
}

// writePump drains the send buffer and pings the peer.
func (c *WSClient) writePump(ka keepalive) {
	ticker := time.NewTicker(ka.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case msg, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ticker.C:
			kind = websocket.PingMessage
		}

		//nolint:errcheck // Write error is checked below
		c.conn.SetWriteDeadline(ka.writeDeadline())
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

func (c *WSClient) handleSubscribe(msg WSMessage) {
	sub, err := decodeSubscribePayload(msg.Payload)
	if err != nil {
		c.reply(msg.ID, WSTypeError, errorPayload("invalid subscribe payload"))
		return
	}
	if len(sub.Channels) == 0 {
		c.reply(msg.ID, WSTypeError, errorPayload("no channels given"))
		return
	}
	for _, ch := range sub.Channels {
		if _, ok := wsChannels[ch]; !ok {
			c.reply(msg.ID, WSTypeError, errorPayload("unknown channel: "+ch))
			return
		}
	}

	filter := subscription{}
	if len(sub.Outcomes) > 0 {
		filter.outcomes = make(map[string]struct{}, len(sub.Outcomes))
		for _, o := range sub.Outcomes {
			if _, ok := wsOutcomes[o]; !ok {
				c.reply(msg.ID, WSTypeError, errorPayload("unknown outcome: "+o))
				return
			}
			filter.outcomes[o] = struct{}{}
		}
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = filter
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed",
		"subject", c.subject,
		"role", c.role,
		"channels", sub.Channels,
		"outcomes", sub.Outcomes,
	)
	c.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels})
}

func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	sub, err := decodeSubscribePayload(msg.Payload)
	if err != nil {
		c.reply(msg.ID, WSTypeError, errorPayload("invalid unsubscribe payload"))
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
}

// decodeSubscribePayload converts the generically decoded payload.
func decodeSubscribePayload(payload any) (WSSubscribePayload, error) {
	var sub WSSubscribePayload
	raw, err := json.Marshal(payload)
	if err != nil {
		return sub, err
	}
	err = json.Unmarshal(raw, &sub)
	return sub, err
}

// wants reports whether the client subscribed to ev.
func (c *WSClient) wants(ev sink.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subscriptions[ev.Type]
	return ok && sub.matches(ev)
}

// offer queues data without blocking. It reports false when the buffer is
// full; a closed client accepts and discards everything.
func (c *WSClient) offer(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send buffer once; writePump then sends a close frame.
func (c *WSClient) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.offer(data)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
