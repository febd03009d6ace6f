package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prappser/prappser_uploads/internal/apperror"
)

// Info holds the parameters a session is created with. They are fixed by the
// first chunk that arrives.
type Info struct {
	SessionID string `json:"sessionId"`
	FileName  string `json:"fileName"`
	TotalSize int64  `json:"totalSize"`
	ChunkSize int64  `json:"chunkSize"`
}

type State struct {
	Info
	Arrived   map[int]int64 `json:"arrived"`
	UpdatedAt int64         `json:"updatedAt"`
}

// Tracker is a bookkeeping cache over the chunk store. It can be rebuilt at
// any time with Restore.
type Tracker interface {
	RecordArrival(ctx context.Context, info Info, index int, size int64) (*State, error)
	GetState(ctx context.Context, sessionID string) (*State, error)
	Restore(ctx context.Context, info Info, sizes map[int]int64) (*State, error)
	Forget(ctx context.Context, sessionID string) error
	Count(ctx context.Context) (int, error)
	// ListStale returns the ids of sessions not updated since cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]string, error)

	// MarkAssembled records that the session's file was published. Chunks
	// arriving for a marked session are late duplicates.
	MarkAssembled(ctx context.Context, sessionID string) error
	// AssembledSince reports whether the session was marked at or after since.
	AssembledSince(ctx context.Context, sessionID string, since time.Time) (bool, error)
	// PurgeAssembled drops marks older than before.
	PurgeAssembled(ctx context.Context, before time.Time) (int, error)
}

// Matches reports whether other describes the same upload as i.
func (i Info) Matches(other Info) bool {
	return i.SessionID == other.SessionID &&
		i.FileName == other.FileName &&
		i.TotalSize == other.TotalSize &&
		i.ChunkSize == other.ChunkSize
}

func (i Info) mismatchError(other Info) error {
	return fmt.Errorf("%w: session %s was started as %q (%d bytes, %d byte chunks), got %q (%d bytes, %d byte chunks)",
		apperror.ErrInvalidIdentifier, i.SessionID,
		i.FileName, i.TotalSize, i.ChunkSize,
		other.FileName, other.TotalSize, other.ChunkSize)
}

func (s *State) Indices() []int {
	indices := make([]int, 0, len(s.Arrived))
	for index := range s.Arrived {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices
}

func (s *State) BytesArrived() int64 {
	var total int64
	for _, size := range s.Arrived {
		total += size
	}
	return total
}

// WithArrivals returns a copy of s whose arrivals are replaced by sizes.
func (s *State) WithArrivals(sizes map[int]int64) *State {
	out := &State{Info: s.Info, UpdatedAt: s.UpdatedAt, Arrived: make(map[int]int64, len(sizes))}
	for index, size := range sizes {
		out.Arrived[index] = size
	}
	return out
}

func (s *State) clone() *State {
	return s.WithArrivals(s.Arrived)
}

func notFound(sessionID string) error {
	return fmt.Errorf("%w: session %s", apperror.ErrNotFound, sessionID)
}

var timeNow = time.Now
