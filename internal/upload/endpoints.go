package upload

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/prappser/prappser_uploads/internal/apperror"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	service *Service
	logger  zerolog.Logger
}

func NewEndpoints(service *Service, logger zerolog.Logger) *Endpoints {
	return &Endpoints{
		service: service,
		logger:  logger,
	}
}

// Upload accepts one Resumable.js chunk as multipart/form-data.
func (e *Endpoints) Upload(ctx *fasthttp.RequestCtx) {
	contentType := string(ctx.Request.Header.ContentType())
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		e.fail(ctx, "Content-Type must be multipart/form-data")
		return
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		e.fail(ctx, "Failed to parse multipart form")
		return
	}
	defer ctx.Request.RemoveMultipartFormFiles()

	req, err := chunkRequestFromForm(form)
	if err != nil {
		e.fail(ctx, "Invalid upload request: "+err.Error())
		return
	}

	fileHeader := firstFilePart(form)
	if fileHeader != nil {
		file, err := fileHeader.Open()
		if err != nil {
			e.fail(ctx, "Failed to open uploaded chunk")
			return
		}
		defer file.Close()

		req.Payload = file
		req.PayloadSize = fileHeader.Size
	}

	outcome, err := e.service.HandleChunk(ctx, req)
	if err != nil {
		e.logger.Error().
			Err(err).
			Str("kind", apperror.Kind(err)).
			Str("sessionId", req.SessionID).
			Int("chunk", req.ChunkIndex).
			Msg("Failed to handle chunk")
		e.fail(ctx, errorMessage(err))
		return
	}

	e.writeJSON(ctx, fasthttp.StatusOK, outcome)
}

// TestChunk reports whether a chunk is already stored so the client can skip it.
func (e *Endpoints) TestChunk(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	sessionID := string(args.Peek("resumableIdentifier"))
	index, err := strconv.Atoi(string(args.Peek("resumableChunkNumber")))
	if err != nil {
		e.fail(ctx, "Invalid resumableChunkNumber")
		return
	}

	stored, err := e.service.HasChunk(ctx, sessionID, index)
	if err != nil {
		e.fail(ctx, errorMessage(err))
		return
	}

	if stored {
		ctx.SetStatusCode(fasthttp.StatusOK)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (e *Endpoints) SessionStatus(ctx *fasthttp.RequestCtx) {
	sessionID, ok := ctx.UserValue("sessionID").(string)
	if !ok || sessionID == "" {
		ctx.Error("Session ID is required", fasthttp.StatusBadRequest)
		return
	}

	status, err := e.service.SessionStatus(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			ctx.Error("Session not found", fasthttp.StatusNotFound)
			return
		}
		e.fail(ctx, errorMessage(err))
		return
	}

	e.writeJSON(ctx, fasthttp.StatusOK, status)
}

func (e *Endpoints) GetFile(ctx *fasthttp.RequestCtx) {
	fileName, ok := ctx.UserValue("fileName").(string)
	if !ok || fileName == "" {
		ctx.Error("File name is required", fasthttp.StatusBadRequest)
		return
	}

	reader, err := e.service.OpenFile(ctx, fileName)
	if err != nil {
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			ctx.Error("File not found", fasthttp.StatusNotFound)
		case errors.Is(err, apperror.ErrInvalidIdentifier):
			ctx.Error("Invalid file name", fasthttp.StatusBadRequest)
		default:
			ctx.Error("Failed to retrieve file", fasthttp.StatusInternalServerError)
		}
		return
	}
	defer reader.Close()

	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ctx.SetContentType(contentType)
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": fileName})
	if disposition == "" {
		disposition = "attachment"
	}
	ctx.Response.Header.Set("Content-Disposition", disposition)

	if _, err := io.Copy(ctx, reader); err != nil {
		e.logger.Error().Err(err).Str("fileName", fileName).Msg("Failed to stream file")
	}
}

// fail writes the plain-text error response Resumable.js clients retry on.
func (e *Endpoints) fail(ctx *fasthttp.RequestCtx, message string) {
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	ctx.SetBodyString(message + "\r\n")
}

func (e *Endpoints) writeJSON(ctx *fasthttp.RequestCtx, statusCode int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(statusCode)
	ctx.SetBody(body)
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, apperror.ErrInvalidIdentifier):
		return "Invalid upload request"
	case errors.Is(err, apperror.ErrStorageUnavailable):
		return "Storage unavailable"
	case errors.Is(err, apperror.ErrAssemblyFailed):
		return "Failed to assemble file"
	case errors.Is(err, apperror.ErrNotFound):
		return "Not found"
	default:
		return "Internal Server Error"
	}
}

func chunkRequestFromForm(form *multipart.Form) (*ChunkRequest, error) {
	value := func(key string) string {
		if values := form.Value[key]; len(values) > 0 {
			return values[0]
		}
		return ""
	}

	chunkIndex, err := strconv.Atoi(value("resumableChunkNumber"))
	if err != nil {
		return nil, errors.New("invalid resumableChunkNumber")
	}
	chunkSize, err := strconv.ParseInt(value("resumableChunkSize"), 10, 64)
	if err != nil {
		return nil, errors.New("invalid resumableChunkSize")
	}
	totalSize, err := strconv.ParseInt(value("resumableTotalSize"), 10, 64)
	if err != nil {
		return nil, errors.New("invalid resumableTotalSize")
	}

	return &ChunkRequest{
		SessionID:  value("resumableIdentifier"),
		FileName:   value("resumableFilename"),
		ChunkIndex: chunkIndex,
		ChunkSize:  chunkSize,
		TotalSize:  totalSize,
	}, nil
}

// firstFilePart prefers the "file" field Resumable.js sends and falls back to
// any other file field in name order.
func firstFilePart(form *multipart.Form) *multipart.FileHeader {
	if files := form.File["file"]; len(files) > 0 {
		return files[0]
	}

	names := make([]string, 0, len(form.File))
	for name := range form.File {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if files := form.File[name]; len(files) > 0 {
			return files[0]
		}
	}
	return nil
}
