package chunk

import (
	"context"
	"io"
	"time"
)

// Store persists individual chunks keyed by (session id, chunk index).
type Store interface {
	PutChunk(ctx context.Context, sessionID string, index int, data io.Reader) (int64, error)
	OpenChunk(ctx context.Context, sessionID string, index int) (io.ReadCloser, error)
	HasChunk(ctx context.Context, sessionID string, index int) (bool, error)
	ListChunkIndices(ctx context.Context, sessionID string) ([]int, error)
	ChunkSizes(ctx context.Context, sessionID string) (map[int]int64, error)
	TotalBytesStored(ctx context.Context, sessionID string) (int64, error)
	RemoveSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]SessionInfo, error)
	PurgeTrash(ctx context.Context) error
}

type SessionInfo struct {
	ID           string
	LastActivity time.Time
}
