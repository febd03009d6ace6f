package internal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prappser/prappser_uploads/internal/chunk"
	"github.com/prappser/prappser_uploads/internal/health"
	"github.com/prappser/prappser_uploads/internal/lease"
	"github.com/prappser/prappser_uploads/internal/session"
	"github.com/prappser/prappser_uploads/internal/status"
	"github.com/prappser/prappser_uploads/internal/storage"
	"github.com/prappser/prappser_uploads/internal/upload"
	"github.com/prappser/prappser_uploads/internal/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newTestHandler(t *testing.T) fasthttp.RequestHandler {
	t.Helper()

	store, err := chunk.NewLocalStore(filepath.Join(t.TempDir(), "tmp"))
	require.NoError(t, err)
	backend, err := storage.NewLocalStorage(&storage.BackendConfig{LocalPath: filepath.Join(t.TempDir(), "uploads")})
	require.NoError(t, err)

	logger := zerolog.Nop()
	tracker := session.NewMemoryTracker()
	locker := lease.NewLocalLocker()
	reaper := upload.NewReaper(store, tracker, backend, locker, time.Minute, logger)
	assembler := upload.NewAssembler(store, tracker, backend, locker, reaper, time.Minute, logger)
	service := upload.NewService(store, tracker, backend, assembler, 0, logger)

	config := &Config{Server: ServerConfig{AllowedOrigins: []string{"*"}}}
	return NewRequestHandler(config, upload.NewEndpoints(service, logger), status.NewEndpoints("test", service), health.NewEndpoints("test", nil), websocket.NewHub())
}

func request(handler fasthttp.RequestHandler, method, uri string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)

	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	handler(&ctx)
	return &ctx
}

func TestRequestHandler_ShouldRoute(t *testing.T) {
	handler := newTestHandler(t)

	tests := []struct {
		method string
		uri    string
		want   int
	}{
		{"GET", "/health", fasthttp.StatusOK},
		{"GET", "/status", fasthttp.StatusOK},
		{"GET", "/upload?resumableIdentifier=abc&resumableChunkNumber=1", fasthttp.StatusNoContent},
		{"DELETE", "/upload", fasthttp.StatusMethodNotAllowed},
		{"GET", "/upload/sessions/abc", fasthttp.StatusNotFound},
		{"POST", "/upload/sessions/abc", fasthttp.StatusMethodNotAllowed},
		{"GET", "/upload/sessions/", fasthttp.StatusNotFound},
		{"GET", "/files/missing.txt", fasthttp.StatusNotFound},
		{"OPTIONS", "/upload", fasthttp.StatusNoContent},
		{"GET", "/ws", fasthttp.StatusBadRequest},
		{"GET", "/unknown", fasthttp.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.uri, func(t *testing.T) {
			ctx := request(handler, tt.method, tt.uri)

			assert.Equal(t, tt.want, ctx.Response.StatusCode())
		})
	}
}

func TestRequestHandler_ShouldRejectNonMultipartUpload(t *testing.T) {
	handler := newTestHandler(t)

	ctx := request(handler, "POST", "/upload")

	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.Equal(t, "Content-Type must be multipart/form-data\r\n", string(ctx.Response.Body()))
}
