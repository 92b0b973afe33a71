package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-devicehub/internal/device"
	"github.com/nerrad567/gray-logic-devicehub/internal/hub"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/logging"
)

// WebSocket constants.
const (
	WSTypeSnapshot = "devices.snapshot"
	WSTypePing     = "ping"
	WSTypePong     = "pong"
	WSTypeError    = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	// Snapshots replace each other, so a short queue is enough.
	wsSendBufferSize = 4
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// snapshotPayload is the payload of a devices.snapshot message.
type snapshotPayload struct {
	Devices []deviceView         `json:"devices"`
	Status  hub.ConnectionStatus `json:"status"`
}

// wsClients tracks connected WebSocket clients so Close can drop them.
type wsClients struct {
	logger  *logging.Logger
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// wsClient is one WebSocket connection, subscribed to the hub as a listener.
type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *logging.Logger
}

func newWSClients(logger *logging.Logger) *wsClients {
	return &wsClients{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// register adds a client; it reports false once closeAll has run.
func (c *wsClients) register(client *wsClient) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.clients[client] = struct{}{}
	c.logger.Debug("websocket client connected", "clients", len(c.clients))
	return true
}

func (c *wsClients) unregister(client *wsClient) {
	c.mu.Lock()
	delete(c.clients, client)
	n := len(c.clients)
	c.mu.Unlock()
	c.logger.Debug("websocket client disconnected", "clients", n)
}

func (c *wsClients) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// closeAll disconnects every client and refuses new ones.
func (c *wsClients) closeAll() {
	c.mu.Lock()
	c.closed = true
	clients := make([]*wsClient, 0, len(c.clients))
	for client := range c.clients {
		clients = append(clients, client)
	}
	c.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

// handleWebSocket upgrades the connection and subscribes it to the hub.
// The client receives the current device list immediately and a new
// devices.snapshot after every change.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	if !s.clients.register(client) {
		conn.Close() //nolint:errcheck // server shutting down
		return
	}

	go client.writePump(s.wsCfg)

	unsubscribe := s.hub.Subscribe(func(records []device.Record) {
		data, err := s.snapshotMessage(records)
		if err != nil {
			s.logger.Error("failed to marshal device snapshot", "error", err)
			return
		}
		client.push(data)
	})

	go func() {
		client.readPump(s.wsCfg)
		unsubscribe()
		s.clients.unregister(client)
	}()
}

// snapshotMessage encodes a devices.snapshot message for records.
func (s *Server) snapshotMessage(records []device.Record) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeSnapshot,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload: snapshotPayload{
			Devices: deviceViews(records, s.hub.PendingCommands()),
			Status:  s.hub.ConnectionStatus(),
		},
	})
}

// readPump reads messages until the connection fails or is closed.
func (c *wsClient) readPump(cfg config.WebSocketConfig) {
	defer c.close()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			} else {
				c.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump is the only writer on the connection.
func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close() //nolint:errcheck // Best effort
	}()

	for {
		select {
		case <-c.done:
			//nolint:errcheck // Best-effort close message
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return
		case message := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *wsClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendResponse("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendResponse(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

// push queues data, blocking until there is room or the client goes away.
// It runs on the hub listener goroutine, which coalesces further changes
// while it waits.
func (c *wsClient) push(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	}
}

// sendResponse queues a reply without blocking; a full buffer drops it.
func (c *wsClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
	}
}

// close signals writePump, which sends a close frame and closes the
// connection; that in turn ends readPump.
func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
