package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/go-units"
	"github.com/prappser/prappser_uploads/internal/apperror"
	"github.com/prappser/prappser_uploads/internal/chunk"
	"github.com/prappser/prappser_uploads/internal/lease"
	"github.com/prappser/prappser_uploads/internal/session"
	"github.com/prappser/prappser_uploads/internal/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrAssemblyInProgress means another request holds the session's lease.
	ErrAssemblyInProgress = errors.New("assembly already in progress")
	// ErrAlreadyAssembled means the session was assembled and reaped before
	// the lease was acquired.
	ErrAlreadyAssembled = errors.New("session already assembled")
	// ErrIncomplete means the chunk store no longer holds a complete session.
	ErrIncomplete = errors.New("session incomplete")
)

type Assembler struct {
	store    chunk.Store
	tracker  session.Tracker
	backend  storage.Backend
	locker   lease.Locker
	reaper   *Reaper
	leaseTTL time.Duration
	logger   zerolog.Logger
}

func NewAssembler(store chunk.Store, tracker session.Tracker, backend storage.Backend, locker lease.Locker, reaper *Reaper, leaseTTL time.Duration, logger zerolog.Logger) *Assembler {
	if leaseTTL <= 0 {
		leaseTTL = lease.DefaultTTL
	}
	return &Assembler{
		store:    store,
		tracker:  tracker,
		backend:  backend,
		locker:   locker,
		reaper:   reaper,
		leaseTTL: leaseTTL,
		logger:   logger,
	}
}

// Assemble concatenates the chunks of a complete session into its destination
// file and reaps the session. Only one caller per session gets past the
// lease; the others return ErrAssemblyInProgress or ErrAlreadyAssembled
// without touching anything.
func (a *Assembler) Assemble(ctx context.Context, sessionID string) (*Assembled, error) {
	acquired, release, err := a.locker.TryLock(ctx, sessionID, a.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperror.ErrStorageUnavailable, err)
	}
	if !acquired {
		return nil, ErrAssemblyInProgress
	}
	defer release()

	assembled, err := a.reaper.RecentlyAssembled(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if assembled {
		return nil, ErrAlreadyAssembled
	}

	state, err := a.tracker.GetState(ctx, sessionID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, ErrAlreadyAssembled
	}
	if err != nil {
		return nil, err
	}

	// the store is the source of truth, the tracker may be behind or ahead
	sizes, err := a.store.ChunkSizes(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state = state.WithArrivals(sizes)

	complete, err := session.IsComplete(state)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, ErrIncomplete
	}

	written, err := a.concatenate(ctx, state)
	if err != nil {
		a.logger.Error().Err(err).Str("sessionId", sessionID).Str("fileName", state.FileName).Msg("Failed to assemble file")
		return nil, err
	}

	result := &Assembled{
		FileName: state.FileName,
		Path:     a.backend.Location(state.FileName),
		Size:     written,
	}
	if url, err := a.backend.GetURL(ctx, state.FileName); err == nil {
		result.URL = url
	}

	a.logger.Info().
		Str("sessionId", sessionID).
		Str("path", result.Path).
		Str("size", units.HumanSize(float64(written))).
		Int("chunks", len(state.Arrived)).
		Msg("File assembled")

	if err := a.reaper.ReapAssembled(ctx, sessionID); err != nil {
		a.logger.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to clean up assembled session")
	}

	return result, nil
}

func (a *Assembler) concatenate(ctx context.Context, state *session.State) (int64, error) {
	staged, err := a.backend.Stage(ctx, state.FileName)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperror.ErrAssemblyFailed, err)
	}

	var written int64
	for _, index := range state.Indices() {
		if err := ctx.Err(); err != nil {
			staged.Discard()
			return 0, fmt.Errorf("%w: %w", apperror.ErrAssemblyFailed, err)
		}

		n, err := a.copyChunk(ctx, staged, state.SessionID, index)
		written += n
		if err != nil {
			staged.Discard()
			return 0, fmt.Errorf("%w: chunk %d: %w", apperror.ErrAssemblyFailed, index, err)
		}

		a.logger.Debug().Str("sessionId", state.SessionID).Int("chunk", index).Msg("Writing chunk")
	}

	if written != state.TotalSize {
		staged.Discard()
		return 0, fmt.Errorf("%w: wrote %d bytes, expected %d", apperror.ErrAssemblyFailed, written, state.TotalSize)
	}

	if err := staged.Publish(ctx); err != nil {
		staged.Discard()
		return 0, fmt.Errorf("%w: publish %s: %w", apperror.ErrAssemblyFailed, state.FileName, err)
	}

	return written, nil
}

func (a *Assembler) copyChunk(ctx context.Context, dst io.Writer, sessionID string, index int) (int64, error) {
	reader, err := a.store.OpenChunk(ctx, sessionID, index)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	return io.Copy(dst, reader)
}
