package health

import (
	"context"
	"sort"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

type HealthEndpoints struct {
	version string
	checks  map[string]Check
}

func NewEndpoints(version string, checks map[string]Check) *HealthEndpoints {
	return &HealthEndpoints{
		version: version,
		checks:  checks,
	}
}

type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func (h *HealthEndpoints) Health(ctx *fasthttp.RequestCtx) {
	response := HealthResponse{
		Status:  "ok",
		Version: h.version,
	}
	statusCode := fasthttp.StatusOK

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if response.Checks == nil {
			response.Checks = make(map[string]string, len(names))
		}
		if err := h.checks[name](ctx); err != nil {
			response.Checks[name] = err.Error()
			response.Status = "degraded"
			statusCode = fasthttp.StatusServiceUnavailable
			continue
		}
		response.Checks[name] = "ok"
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(statusCode)
	ctx.SetBody(responseJSON)
}
