package internal

import (
	"strings"

	"github.com/prappser/prappser_uploads/internal/health"
	"github.com/prappser/prappser_uploads/internal/middleware"
	"github.com/prappser/prappser_uploads/internal/status"
	"github.com/prappser/prappser_uploads/internal/upload"
	"github.com/prappser/prappser_uploads/internal/websocket"
	"github.com/valyala/fasthttp"
)

func NewRequestHandler(config *Config, uploadEndpoints *upload.Endpoints, statusEndpoints *status.StatusEndpoints, healthEndpoints *health.HealthEndpoints, hub *websocket.Hub) fasthttp.RequestHandler {
	corsMiddleware := middleware.NewCORSMiddleware(config.Server.AllowedOrigins)
	wsHandler := websocket.NewHandler(hub, corsMiddleware.AllowsOrigin)

	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case path == "/health":
			healthEndpoints.Health(ctx)
		case path == "/status":
			statusEndpoints.Status(ctx)

		case path == "/upload":
			switch method {
			case "POST":
				uploadEndpoints.Upload(ctx)
			case "GET":
				uploadEndpoints.TestChunk(ctx)
			default:
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case strings.HasPrefix(path, "/upload/sessions/"):
			parts := strings.Split(path, "/")
			if len(parts) == 4 && parts[3] != "" {
				ctx.SetUserValue("sessionID", parts[3])
				if method == "GET" {
					uploadEndpoints.SessionStatus(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		case strings.HasPrefix(path, "/files/"):
			parts := strings.Split(path, "/")
			if len(parts) == 3 && parts[2] != "" {
				ctx.SetUserValue("fileName", parts[2])
				if method == "GET" {
					uploadEndpoints.GetFile(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		case path == "/ws":
			wsHandler.HandleFastHTTP(ctx)

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return corsMiddleware.Handle(handler)
}
