package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/session-tracker/internal/domain"
	"github.com/session-tracker/internal/metrics"
)

// Message types
const (
	MessageTypeSessionUpserted = "session_upserted"
	MessageTypeSubscribe       = "subscribe"
	MessageTypeSubscribed      = "subscribed"
	MessageTypeUnsubscribe     = "unsubscribe"
	MessageTypeUnsubscribed    = "unsubscribed"
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
	MessageTypeError           = "error"
)

// allModes is the topic of clients subscribed without a mode
const allModes domain.Mode = ""

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Mode      domain.Mode `json:"mode,omitempty"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of active clients and fans session events out to them
type Hub struct {
	// Subscribed clients by mode; allModes receives every event
	clients map[domain.Mode]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu      sync.RWMutex
	metrics *metrics.Recorder
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	mode   domain.Mode
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[domain.Mode]map[*Client]bool),
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

// SetMetrics sets the recorder tracking open connections
func (h *Hub) SetMetrics(m *metrics.Recorder) {
	h.metrics = m
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			n := len(h.allClients)
			h.mu.Unlock()
			h.metrics.SetWebSocketConnections(n)
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for mode, clients := range h.clients {
					delete(clients, client)
					if len(clients) == 0 {
						delete(h.clients, mode)
					}
				}
				close(client.send)
			}
			n := len(h.allClients)
			h.mu.Unlock()
			h.metrics.SetWebSocketConnections(n)
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			// a request can trail its client's unregistration, whose send channel is closed
			if !h.allClients[req.client] {
				h.mu.Unlock()
				continue
			}
			if _, ok := h.clients[req.mode]; !ok {
				h.clients[req.mode] = make(map[*Client]bool)
			}
			h.clients[req.mode][req.client] = true
			h.mu.Unlock()
			// acknowledged only once the subscription is live
			req.client.sendAck(MessageTypeSubscribed, req.mode)
			h.logger.Debug("client subscribed", "client_id", req.client.id, "mode", req.mode)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if !h.allClients[req.client] {
				h.mu.Unlock()
				continue
			}
			if clients, ok := h.clients[req.mode]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.mode)
				}
			}
			h.mu.Unlock()
			req.client.sendAck(MessageTypeUnsubscribed, req.mode)
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "mode", req.mode)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to subscribers of its mode and of all modes
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	recipients := make(map[*Client]bool, len(h.clients[message.Mode])+len(h.clients[allModes]))
	for client := range h.clients[message.Mode] {
		recipients[client] = true
	}
	for client := range h.clients[allModes] {
		recipients[client] = true
	}

	for client := range recipients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// BroadcastSessionUpserted publishes a committed merge to subscribers of its mode
func (h *Hub) BroadcastSessionUpserted(event domain.SessionEvent) {
	message := &Message{
		Type:      MessageTypeSessionUpserted,
		Mode:      event.Mode,
		Data:      event,
		Timestamp: event.Timestamp,
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "session_id", event.ID)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a mode; allModes subscribes to every mode
func (h *Hub) Subscribe(client *Client, mode domain.Mode) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, mode: mode}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a mode
func (h *Hub) Unsubscribe(client *Client, mode domain.Mode) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, mode: mode}:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers for a mode
func (h *Hub) GetSubscriberCount(mode domain.Mode) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[mode])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
