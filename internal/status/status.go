package status

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// SessionCounter reports how many upload sessions are in flight.
type SessionCounter interface {
	ActiveSessions(ctx context.Context) (int, error)
}

type StatusEndpoints struct {
	version  string
	sessions SessionCounter
}

func NewEndpoints(version string, sessions SessionCounter) *StatusEndpoints {
	return &StatusEndpoints{
		version:  version,
		sessions: sessions,
	}
}

type StatusResponse struct {
	Health         string `json:"health"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"activeSessions"`
}

func (se *StatusEndpoints) Status(ctx *fasthttp.RequestCtx) {
	active, err := se.sessions.ActiveSessions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count active sessions")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		Health:         "OK",
		Version:        se.version,
		ActiveSessions: active,
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(responseJSON)
}
