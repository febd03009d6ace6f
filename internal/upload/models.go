package upload

import (
	"io"
	"time"

	"github.com/prappser/prappser_uploads/internal/session"
)

// ChunkRequest is one chunk as received from a client.
type ChunkRequest struct {
	SessionID   string `validate:"required,max=200"`
	FileName    string `validate:"required,max=255"`
	ChunkIndex  int    `validate:"gte=1"`
	ChunkSize   int64  `validate:"gt=0"`
	TotalSize   int64  `validate:"gte=0"`
	Payload     io.Reader
	PayloadSize int64 `validate:"gte=0"`
}

func (r *ChunkRequest) info() session.Info {
	return session.Info{
		SessionID: r.SessionID,
		FileName:  r.FileName,
		TotalSize: r.TotalSize,
		ChunkSize: r.ChunkSize,
	}
}

type Status string

const (
	StatusChunkStored   Status = "chunk_stored"
	StatusFileAssembled Status = "file_assembled"
)

type Outcome struct {
	Status   Status `json:"status"`
	FileName string `json:"fileName,omitempty"`
	Path     string `json:"-"`
	URL      string `json:"url,omitempty"`
}

// ProgressEvent is published after every stored chunk and every assembly.
type ProgressEvent struct {
	SessionID     string `json:"sessionId"`
	FileName      string `json:"fileName"`
	Status        Status `json:"status"`
	ChunkIndex    int    `json:"chunkIndex,omitempty"`
	ChunksStored  int    `json:"chunksStored"`
	BytesReceived int64  `json:"bytesReceived"`
	TotalSize     int64  `json:"totalSize"`
}

// Notifier must not block the upload path.
type Notifier interface {
	Notify(event ProgressEvent)
}

type Assembled struct {
	FileName string
	Path     string
	URL      string
	Size     int64
}

type SessionStatusResponse struct {
	SessionID      string `json:"sessionId"`
	FileName       string `json:"fileName"`
	TotalSize      int64  `json:"totalSize"`
	ChunkSize      int64  `json:"chunkSize"`
	ChunksReceived []int  `json:"chunksReceived"`
	BytesReceived  int64  `json:"bytesReceived"`
	Complete       bool   `json:"complete"`
	Assembling     bool   `json:"assembling"`
	UpdatedAt      int64  `json:"updatedAt"`
}

type Config struct {
	TempRoot    string `mapstructure:"tempRoot"`
	MaxFileSize string `mapstructure:"maxFileSize"`
	LogFile     string `mapstructure:"logFile"`
}

type ReaperConfig struct {
	Schedule           string        `mapstructure:"schedule"`
	MaxAge             time.Duration `mapstructure:"maxAge"`
	AssembledRetention time.Duration `mapstructure:"assembledRetention"`
}
