package websocket

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/prappser/prappser_uploads/internal/chunk"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout     = 10 * time.Second
	pongWait         = 60 * time.Second
	pingInterval     = 30 * time.Second
	maxMessageSize   = 4 * 1024
	sendBufferSize   = 256
	maxSubscriptions = 64
)

type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan interface{}
	quit          chan struct{}
	quitOnce      sync.Once
	subscriptions map[string]bool // sessionId -> subscribed
	mu            sync.RWMutex
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            uuid.NewString(),
		hub:           hub,
		conn:          conn,
		send:          make(chan interface{}, sendBufferSize),
		quit:          make(chan struct{}),
		subscriptions: make(map[string]bool),
	}
}

func (c *Client) close() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// trySend queues message without blocking. It reports false when the buffer
// is full or the client is closed.
func (c *Client) trySend(message interface{}) bool {
	select {
	case <-c.quit:
		return false
	default:
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) Subscribe(sessionID string) error {
	if err := chunk.ValidateSessionID(sessionID); err != nil {
		return err
	}

	c.mu.Lock()
	if len(c.subscriptions) >= maxSubscriptions && !c.subscriptions[sessionID] {
		c.mu.Unlock()
		return errTooManySubscriptions
	}
	c.subscriptions[sessionID] = true
	c.mu.Unlock()

	c.hub.Subscribe(c, sessionID)

	log.Debug().
		Str("clientId", c.id).
		Str("sessionId", sessionID).
		Msg("[WS] Client subscribed to session")
	return nil
}

func (c *Client) Unsubscribe(sessionID string) {
	c.mu.Lock()
	delete(c.subscriptions, sessionID)
	c.mu.Unlock()

	c.hub.Unsubscribe(c, sessionID)

	log.Debug().
		Str("clientId", c.id).
		Str("sessionId", sessionID).
		Msg("[WS] Client unsubscribed from session")
}

func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subs := make([]string, 0, len(c.subscriptions))
	for sessionID := range c.subscriptions {
		subs = append(subs, sessionID)
	}
	return subs
}

func (c *Client) ReadPump() {
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
		var msg IncomingMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().
					Str("clientId", c.id).
					Err(err).
					Msg("[WS] Read error")
			} else {
				log.Debug().
					Str("clientId", c.id).
					Msg("[WS] Client disconnected")
			}
			return
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *IncomingMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if err := c.Subscribe(msg.SessionID); err != nil {
			c.trySend(&OutgoingMessage{Type: MessageTypeError, Error: err.Error()})
		}

	case MessageTypeUnsubscribe:
		if msg.SessionID != "" {
			c.Unsubscribe(msg.SessionID)
		}

	case MessageTypePing:
		c.trySend(&OutgoingMessage{Type: MessageTypePong})

	default:
		log.Debug().
			Str("type", string(msg.Type)).
			Msg("[WS] Unknown message type")
		c.trySend(&OutgoingMessage{Type: MessageTypeError, Error: "unknown message type"})
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(message); err != nil {
				log.Debug().
					Str("clientId", c.id).
					Err(err).
					Msg("[WS] Write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Str("clientId", c.id).
					Err(err).
					Msg("[WS] Ping error")
				return
			}
		}
	}
}
