package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gamehub-backend/internal/domain"
)

// Message types
const (
	MessageTypeServerUpdate = "server_update"
	MessageTypeSnapshot     = "snapshot"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// AllMaps subscribes a client to servers on every map
const AllMaps = "*"

const snapshotTimeout = 5 * time.Second

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	MapName   string      `json:"map_name,omitempty"`
	MapNames  []string    `json:"map_names,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ServerUpdate is pushed to lobby clients whenever a game server is published
type ServerUpdate struct {
	Address     string `json:"address"`
	MapName     string `json:"map_name"`
	PlayerCount int    `json:"player_count"`
}

func newServerUpdate(record domain.ServerRecord) ServerUpdate {
	return ServerUpdate{
		Address:     record.Address,
		MapName:     record.MapName,
		PlayerCount: record.PlayerCount(),
	}
}

// ServerSource lists the live servers a client is sent when it subscribes
type ServerSource interface {
	ListServers(ctx context.Context) ([]domain.ServerRecord, error)
}

// Hub maintains the set of active lobby clients and pushes server updates to
// the clients subscribed to the server's map
type Hub struct {
	// Subscribed clients by map name
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu sync.RWMutex

	source ServerSource
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client  *Client
	mapName string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for mapName, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, mapName)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.clients[req.mapName]; !ok {
					h.clients[req.mapName] = make(map[*Client]bool)
				}
				h.clients[req.mapName][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "map_name", req.mapName)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.mapName]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.mapName)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "map_name", req.mapName)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// SetServerSource sets where subscribe snapshots come from. Without one,
// subscribing only acknowledges. Call it before clients connect.
func (h *Hub) SetServerSource(source ServerSource) {
	h.source = source
}

// Snapshot returns the live servers on any of mapNames, in the order the
// source lists them. AllMaps matches every server.
func (h *Hub) Snapshot(ctx context.Context, mapNames []string) ([]ServerUpdate, error) {
	if h.source == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	records, err := h.source.ListServers(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(mapNames))
	for _, mapName := range mapNames {
		wanted[mapName] = true
	}
	updates := make([]ServerUpdate, 0, len(records))
	for _, record := range records {
		if wanted[AllMaps] || wanted[record.MapName] {
			updates = append(updates, newServerUpdate(record))
		}
	}
	return updates, nil
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the subscribers of its map and to the
// clients watching every map. A client subscribed to both receives it once.
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	recipients := make(map[*Client]bool)
	for client := range h.clients[message.MapName] {
		recipients[client] = true
	}
	for client := range h.clients[AllMaps] {
		recipients[client] = true
	}

	for client := range recipients {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// BroadcastServerUpdate queues a published server for delivery. It never
// blocks the publisher; updates are dropped when the queue is full.
func (h *Hub) BroadcastServerUpdate(record domain.ServerRecord) {
	message := &Message{
		Type:      MessageTypeServerUpdate,
		MapName:   record.MapName,
		Data:      newServerUpdate(record),
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "address", record.Address)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a map subscription
func (h *Hub) Subscribe(client *Client, mapName string) {
	h.subscribe <- &subscriptionRequest{
		client:  client,
		mapName: mapName,
	}
}

// Unsubscribe removes a client from a map subscription
func (h *Hub) Unsubscribe(client *Client, mapName string) {
	h.unsubscribe <- &subscriptionRequest{
		client:  client,
		mapName: mapName,
	}
}

// GetSubscriberCount returns the number of subscribers for a map
func (h *Hub) GetSubscriberCount(mapName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[mapName])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
