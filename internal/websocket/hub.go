package websocket

import (
	"context"
	"sync"

	"github.com/prappser/prappser_uploads/internal/upload"
	"github.com/rs/zerolog/log"
)

const broadcastBufferSize = 256

// Hub fans progress events out to the clients subscribed to a session.
type Hub struct {
	clients    map[*Client]bool
	bySession  map[string][]*Client // sessionId -> subscribers
	register   chan *Client
	unregister chan *Client
	broadcast  chan upload.ProgressEvent
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		bySession:  make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan upload.ProgressEvent, broadcastBufferSize),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastToSession(event)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	client.close()

	for _, sessionID := range client.Subscriptions() {
		h.removeFromSessionSubscribers(client, sessionID)
	}

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Client unregistered")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]bool)
	h.bySession = make(map[string][]*Client)
}

func (h *Hub) removeFromSessionSubscribers(client *Client, sessionID string) {
	subscribers := h.bySession[sessionID]
	for i, c := range subscribers {
		if c == client {
			h.bySession[sessionID] = append(subscribers[:i], subscribers[i+1:]...)
			break
		}
	}
	if len(h.bySession[sessionID]) == 0 {
		delete(h.bySession, sessionID)
	}
}

func (h *Hub) Subscribe(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.bySession[sessionID] {
		if c == client {
			return
		}
	}

	h.bySession[sessionID] = append(h.bySession[sessionID], client)

	log.Debug().
		Str("sessionId", sessionID).
		Int("subscribers", len(h.bySession[sessionID])).
		Msg("[WS] Session subscription added")
}

func (h *Hub) Unsubscribe(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromSessionSubscribers(client, sessionID)

	log.Debug().
		Str("sessionId", sessionID).
		Int("subscribers", len(h.bySession[sessionID])).
		Msg("[WS] Session subscription removed")
}

func (h *Hub) broadcastToSession(event upload.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers := h.bySession[event.SessionID]
	if len(subscribers) == 0 {
		return
	}

	message := &ProgressMessage{Type: MessageTypeProgress, ProgressEvent: event}
	for _, client := range subscribers {
		if !client.trySend(message) {
			log.Warn().
				Str("clientId", client.id).
				Str("sessionId", event.SessionID).
				Msg("[WS] Client send buffer full, dropping message")
		}
	}
}

// Notify queues event for delivery and drops it when the hub is saturated.
func (h *Hub) Notify(event upload.ProgressEvent) {
	select {
	case h.broadcast <- event:
	default:
		log.Warn().Str("sessionId", event.SessionID).Msg("[WS] Broadcast queue full, dropping progress event")
	}
}

// Register reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) GetStats() (totalClients, totalSubscriptions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	totalClients = len(h.clients)
	for _, clients := range h.bySession {
		totalSubscriptions += len(clients)
	}
	return
}
