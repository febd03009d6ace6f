package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
	"github.com/prappser/prappser_uploads/internal/apperror"
	"github.com/prappser/prappser_uploads/internal/chunk"
	"github.com/prappser/prappser_uploads/internal/lease"
	"github.com/prappser/prappser_uploads/internal/session"
	"github.com/prappser/prappser_uploads/internal/storage"
	"github.com/rs/zerolog"
)

type Service struct {
	store       chunk.Store
	tracker     session.Tracker
	backend     storage.Backend
	assembler   *Assembler
	reaper      *Reaper
	locker      lease.Locker
	validate    *validator.Validate
	maxFileSize int64
	notifier    Notifier
	logger      zerolog.Logger
}

func NewService(store chunk.Store, tracker session.Tracker, backend storage.Backend, assembler *Assembler, maxFileSize int64, logger zerolog.Logger) *Service {
	return &Service{
		store:       store,
		tracker:     tracker,
		backend:     backend,
		assembler:   assembler,
		reaper:      assembler.reaper,
		locker:      assembler.locker,
		validate:    validator.New(),
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// SetNotifier registers a receiver for progress events.
func (s *Service) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

func (s *Service) notify(event ProgressEvent) {
	if s.notifier != nil {
		s.notifier.Notify(event)
	}
}

// HandleChunk stores one chunk and, when it completes its session, assembles
// the destination file.
func (s *Service) HandleChunk(ctx context.Context, req *ChunkRequest) (*Outcome, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	info := req.info()
	done, err := s.reaper.RecentlyAssembled(ctx, info.SessionID)
	if err != nil {
		return nil, err
	}
	if done {
		s.logger.Debug().Str("sessionId", info.SessionID).Int("chunk", req.ChunkIndex).Msg("Ignoring chunk of assembled session")
		return &Outcome{Status: StatusChunkStored}, nil
	}

	state, err := s.tracker.GetState(ctx, info.SessionID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		state = nil
	case err != nil:
		return nil, err
	case !state.Info.Matches(info):
		return nil, fmt.Errorf("%w: upload parameters changed for session %s", apperror.ErrInvalidIdentifier, info.SessionID)
	}

	if info.TotalSize == 0 {
		// empty files complete without storing a chunk
		state, err = s.tracker.Restore(ctx, info, nil)
	} else {
		state, err = s.storeChunk(ctx, req, state != nil)
	}
	if s.lateChunk(ctx, req) {
		return &Outcome{Status: StatusChunkStored}, nil
	}
	if err != nil {
		return nil, err
	}

	complete, err := session.IsComplete(state)
	if err != nil {
		return nil, err
	}

	progress := ProgressEvent{
		SessionID:     info.SessionID,
		FileName:      info.FileName,
		Status:        StatusChunkStored,
		ChunkIndex:    req.ChunkIndex,
		ChunksStored:  len(state.Arrived),
		BytesReceived: state.BytesArrived(),
		TotalSize:     info.TotalSize,
	}
	s.notify(progress)

	if !complete {
		return &Outcome{Status: StatusChunkStored}, nil
	}

	assembled, err := s.assembler.Assemble(ctx, info.SessionID)
	switch {
	case errors.Is(err, ErrAssemblyInProgress), errors.Is(err, ErrAlreadyAssembled), errors.Is(err, ErrIncomplete):
		s.logger.Debug().Err(err).Str("sessionId", info.SessionID).Msg("Skipping assembly")
		return &Outcome{Status: StatusChunkStored}, nil
	case err != nil:
		return nil, err
	}

	progress.Status = StatusFileAssembled
	progress.BytesReceived = assembled.Size
	s.notify(progress)

	return &Outcome{
		Status:   StatusFileAssembled,
		FileName: assembled.FileName,
		Path:     assembled.Path,
		URL:      assembled.URL,
	}, nil
}

// lateChunk reports whether the session was assembled while req was being
// written. Whatever req left behind, a chunk file in a fresh directory or a
// recreated tracker entry, is removed again.
func (s *Service) lateChunk(ctx context.Context, req *ChunkRequest) bool {
	assembled, err := s.reaper.RecentlyAssembled(ctx, req.SessionID)
	if err != nil || !assembled {
		return false
	}

	if err := s.reaper.Reap(ctx, req.SessionID); err != nil {
		s.logger.Warn().Err(err).Str("sessionId", req.SessionID).Msg("Failed to remove late chunk")
	}
	s.logger.Debug().Str("sessionId", req.SessionID).Int("chunk", req.ChunkIndex).Msg("Chunk arrived after assembly")
	return true
}

func (s *Service) storeChunk(ctx context.Context, req *ChunkRequest, tracked bool) (*session.State, error) {
	written, err := s.store.PutChunk(ctx, req.SessionID, req.ChunkIndex, req.Payload)
	if err != nil {
		s.logger.Error().Err(err).Str("sessionId", req.SessionID).Int("chunk", req.ChunkIndex).Msg("Failed to write chunk")
		return nil, err
	}

	s.logger.Info().
		Str("sessionId", req.SessionID).
		Int("chunk", req.ChunkIndex).
		Str("size", units.HumanSize(float64(written))).
		Msg("Chunk written")

	if tracked {
		return s.tracker.RecordArrival(ctx, req.info(), req.ChunkIndex, written)
	}

	// unknown to the tracker: either a new session or one that survived a
	// restart on disk
	sizes, err := s.store.ChunkSizes(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	sizes[req.ChunkIndex] = written
	return s.tracker.Restore(ctx, req.info(), sizes)
}

func (s *Service) validateRequest(req *ChunkRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make([]string, 0, len(validationErrors))
			for _, fe := range validationErrors {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", apperror.ErrInvalidIdentifier, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", apperror.ErrInvalidIdentifier, err)
	}

	if err := chunk.ValidateSessionID(req.SessionID); err != nil {
		return err
	}
	if err := chunk.ValidateFileName(req.FileName); err != nil {
		return err
	}

	if s.maxFileSize > 0 && req.TotalSize > s.maxFileSize {
		return fmt.Errorf("%w: file too large: %s (max: %s)", apperror.ErrInvalidIdentifier,
			units.HumanSize(float64(req.TotalSize)), units.HumanSize(float64(s.maxFileSize)))
	}

	if maxIndex := session.MaxChunkIndex(req.TotalSize, req.ChunkSize); req.ChunkIndex > maxIndex {
		return fmt.Errorf("%w: chunk index %d exceeds %d", apperror.ErrInvalidIdentifier, req.ChunkIndex, maxIndex)
	}

	if req.TotalSize > 0 {
		if req.Payload == nil || req.PayloadSize == 0 {
			return fmt.Errorf("%w: empty chunk %d", apperror.ErrInvalidIdentifier, req.ChunkIndex)
		}
		if req.PayloadSize > req.TotalSize {
			return fmt.Errorf("%w: chunk %d is larger than the file", apperror.ErrInvalidIdentifier, req.ChunkIndex)
		}
		if int64(req.ChunkIndex) < session.FullChunks(req.TotalSize, req.ChunkSize) && req.PayloadSize != req.ChunkSize {
			return fmt.Errorf("%w: chunk %d is %d bytes, expected %d", apperror.ErrInvalidIdentifier,
				req.ChunkIndex, req.PayloadSize, req.ChunkSize)
		}
	}

	return nil
}

// HasChunk answers the Resumable.js test request for a chunk.
func (s *Service) HasChunk(ctx context.Context, sessionID string, index int) (bool, error) {
	return s.store.HasChunk(ctx, sessionID, index)
}

func (s *Service) SessionStatus(ctx context.Context, sessionID string) (*SessionStatusResponse, error) {
	if err := chunk.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	state, err := s.tracker.GetState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	complete, err := session.IsComplete(state)
	if err != nil {
		return nil, err
	}

	assembling, err := s.locker.IsLocked(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperror.ErrStorageUnavailable, err)
	}

	return &SessionStatusResponse{
		SessionID:      state.SessionID,
		FileName:       state.FileName,
		TotalSize:      state.TotalSize,
		ChunkSize:      state.ChunkSize,
		ChunksReceived: state.Indices(),
		BytesReceived:  state.BytesArrived(),
		Complete:       complete,
		Assembling:     assembling,
		UpdatedAt:      state.UpdatedAt,
	}, nil
}

func (s *Service) ActiveSessions(ctx context.Context) (int, error) {
	return s.tracker.Count(ctx)
}

func (s *Service) OpenFile(ctx context.Context, fileName string) (io.ReadCloser, error) {
	if err := chunk.ValidateFileName(fileName); err != nil {
		return nil, err
	}
	return s.backend.Get(ctx, fileName)
}
