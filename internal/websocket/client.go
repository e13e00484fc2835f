package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Most maps a single subscribe may name
	maxMapsPerMessage = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Error codes carried by error messages
const (
	CodeInvalidMessage      = "invalid_message"
	CodeUnknownType         = "unknown_type"
	CodeMissingMapName      = "missing_map_name"
	CodeTooManyMaps         = "too_many_maps"
	CodeSnapshotUnavailable = "snapshot_unavailable"
)

// ClientError is a rejected client message. It is sent back to the client as
// the data of an error message.
type ClientError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *ClientError) Error() string {
	return e.Code + ": " + e.Message
}

var (
	ErrInvalidMessage = &ClientError{Code: CodeInvalidMessage, Message: "invalid message format"}
	ErrMissingMapName = &ClientError{Code: CodeMissingMapName, Message: "map_name or map_names required"}
	ErrTooManyMaps    = &ClientError{Code: CodeTooManyMaps, Message: fmt.Sprintf("at most %d maps per message", maxMapsPerMessage)}
)

func unknownTypeError(messageType string) *ClientError {
	return &ClientError{Code: CodeUnknownType, Message: fmt.Sprintf("unknown message type %q", messageType)}
}

// Client represents a lobby WebSocket connection
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage represents a message from the client. Subscriptions name
// their maps in MapName, MapNames or both.
type ClientMessage struct {
	Type     string   `json:"type"`
	MapName  string   `json:"map_name,omitempty"`
	MapNames []string `json:"map_names,omitempty"`
}

// maps returns the distinct non-blank map names of the message
func (m *ClientMessage) maps() []string {
	return distinctMaps(append([]string{m.MapName}, m.MapNames...))
}

func distinctMaps(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger,
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			break
		}

		if err := c.handleRaw(data); err != nil {
			c.sendError(err)
		}
	}
}

// handleRaw decodes and handles one client frame
func (c *Client) handleRaw(data []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("invalid message format", "client_id", c.id, "error", err)
		return ErrInvalidMessage
	}
	return c.handleMessage(&msg)
}

// handleMessage processes one client message. Rejections are returned as
// *ClientError.
func (c *Client) handleMessage(msg *ClientMessage) error {
	switch msg.Type {
	case MessageTypeSubscribe:
		maps, err := requireMaps(msg)
		if err != nil {
			return err
		}
		return c.subscribe(maps)

	case MessageTypeUnsubscribe:
		maps, err := requireMaps(msg)
		if err != nil {
			return err
		}
		for _, mapName := range maps {
			c.hub.Unsubscribe(c, mapName)
		}
		c.sendMessage(Message{Type: MessageTypeUnsubscribed, MapNames: maps})
		return nil

	case MessageTypePing:
		c.sendMessage(Message{Type: MessageTypePong})
		return nil

	default:
		c.logger.Debug("unknown message type", "client_id", c.id, "type", msg.Type)
		return unknownTypeError(msg.Type)
	}
}

func requireMaps(msg *ClientMessage) ([]string, error) {
	maps := msg.maps()
	if len(maps) == 0 {
		return nil, ErrMissingMapName
	}
	if len(maps) > maxMapsPerMessage {
		return nil, ErrTooManyMaps
	}
	return maps, nil
}

// subscribe adds the client to every map, acknowledges, then sends the
// servers currently live on those maps
func (c *Client) subscribe(maps []string) error {
	for _, mapName := range maps {
		c.hub.Subscribe(c, mapName)
	}
	c.sendMessage(Message{Type: MessageTypeSubscribed, MapNames: maps})
	if c.hub.source == nil {
		return nil
	}

	servers, err := c.hub.Snapshot(c.hub.ctx, maps)
	if err != nil {
		c.logger.Warn("failed to load server snapshot", "client_id", c.id, "error", err)
		return &ClientError{Code: CodeSnapshotUnavailable, Message: "server list unavailable"}
	}
	c.sendMessage(Message{Type: MessageTypeSnapshot, MapNames: maps, Data: servers})
	return nil
}

// writePump pumps messages from the hub to the WebSocket connection, one
// frame per message
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage queues msg for the client, dropping it if the buffer is full
func (c *Client) sendMessage(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "client_id", c.id, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client buffer full, skipping", "client_id", c.id, "type", msg.Type)
	}
}

// sendError reports a rejected message to the client
func (c *Client) sendError(err error) {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		clientErr = &ClientError{Code: CodeInvalidMessage, Message: err.Error()}
	}
	c.sendMessage(Message{Type: MessageTypeError, Data: clientErr})
}

// ServeWs upgrades a lobby connection. map_name query parameters, repeated or
// comma separated, subscribe the client right away.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	var names []string
	for _, value := range r.URL.Query()["map_name"] {
		names = append(names, strings.Split(value, ",")...)
	}
	if maps := distinctMaps(names); len(maps) > 0 {
		if len(maps) > maxMapsPerMessage {
			client.sendError(ErrTooManyMaps)
		} else if err := client.subscribe(maps); err != nil {
			client.sendError(err)
		}
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()

	logger.Debug("new websocket connection", "client_id", client.id)
}
