package websocket

import (
	"errors"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

var errTooManySubscriptions = errors.New("too many subscriptions")

type Handler struct {
	hub      *Hub
	upgrader websocket.FastHTTPUpgrader
}

// NewHandler serves the progress feed. allowOrigin decides which browser
// origins may connect; requests without an Origin header are always allowed.
func NewHandler(hub *Hub, allowOrigin func(origin string) bool) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.FastHTTPUpgrader{
			CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
				origin := string(ctx.Request.Header.Peek("Origin"))
				return origin == "" || allowOrigin(origin)
			},
		},
	}
}

// HandleFastHTTP upgrades the request. A sessionId query parameter subscribes
// the connection to that session right away.
func (h *Handler) HandleFastHTTP(ctx *fasthttp.RequestCtx) {
	initialSession := string(ctx.QueryArgs().Peek("sessionId"))

	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := NewClient(h.hub, conn)
		if !h.hub.Register(client) {
			conn.Close()
			return
		}

		client.trySend(&OutgoingMessage{
			Type:     MessageTypeConnected,
			ClientID: client.id,
		})

		if initialSession != "" {
			if err := client.Subscribe(initialSession); err != nil {
				client.trySend(&OutgoingMessage{Type: MessageTypeError, Error: err.Error()})
			}
		}

		log.Info().
			Str("clientId", client.id).
			Msg("[WS] Client connected")

		go client.WritePump()
		client.ReadPump()
	})

	if err != nil {
		log.Error().Err(err).Msg("[WS] Failed to upgrade connection")
		return
	}
}
