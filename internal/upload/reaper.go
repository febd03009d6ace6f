package upload

import (
	"context"
	"errors"
	"time"

	"github.com/prappser/prappser_uploads/internal/chunk"
	"github.com/prappser/prappser_uploads/internal/lease"
	"github.com/prappser/prappser_uploads/internal/session"
	"github.com/prappser/prappser_uploads/internal/storage"
	"github.com/rs/zerolog"
)

var timeNow = time.Now

// DefaultAssembledRetention is how long chunks for an assembled session are
// treated as late duplicates instead of the start of a new upload.
const DefaultAssembledRetention = 10 * time.Minute

// Reaper removes the temporary state of a session: its chunks and its
// tracker entry.
type Reaper struct {
	store     chunk.Store
	tracker   session.Tracker
	backend   storage.Backend
	locker    lease.Locker
	leaseTTL  time.Duration
	retention time.Duration
	logger    zerolog.Logger
}

func NewReaper(store chunk.Store, tracker session.Tracker, backend storage.Backend, locker lease.Locker, leaseTTL time.Duration, logger zerolog.Logger) *Reaper {
	if leaseTTL <= 0 {
		leaseTTL = lease.DefaultTTL
	}
	return &Reaper{
		store:     store,
		tracker:   tracker,
		backend:   backend,
		locker:    locker,
		leaseTTL:  leaseTTL,
		retention: DefaultAssembledRetention,
		logger:    logger,
	}
}

func (r *Reaper) SetAssembledRetention(retention time.Duration) {
	if retention > 0 {
		r.retention = retention
	}
}

// ReapAssembled marks the session as assembled and then reaps it. The mark
// goes first: a chunk write that outlives the removal is then guaranteed to
// see it.
func (r *Reaper) ReapAssembled(ctx context.Context, sessionID string) error {
	markErr := r.tracker.MarkAssembled(ctx, sessionID)
	return errors.Join(markErr, r.Reap(ctx, sessionID))
}

// RecentlyAssembled reports whether the session was assembled within the
// retention window.
func (r *Reaper) RecentlyAssembled(ctx context.Context, sessionID string) (bool, error) {
	return r.tracker.AssembledSince(ctx, sessionID, timeNow().Add(-r.retention))
}

// Reap is idempotent. Callers must hold the session's lease unless the
// session is already marked assembled.
func (r *Reaper) Reap(ctx context.Context, sessionID string) error {
	if err := r.store.RemoveSession(ctx, sessionID); err != nil {
		return err
	}
	if err := r.tracker.Forget(ctx, sessionID); err != nil {
		return err
	}

	r.logger.Debug().Str("sessionId", sessionID).Msg("Session reaped")
	return nil
}

// ReapStale reaps every session without activity for maxAge whose lease is
// free, and returns how many were reaped.
func (r *Reaper) ReapStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := timeNow().Add(-maxAge)

	sessions, err := r.store.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	candidates := make(map[string]struct{})
	for _, s := range sessions {
		if s.LastActivity.Before(cutoff) {
			candidates[s.ID] = struct{}{}
		}
	}

	// tracker entries whose chunk directory is already gone
	staleTracked, err := r.tracker.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	active := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		active[s.ID] = struct{}{}
	}
	for _, id := range staleTracked {
		if _, ok := active[id]; !ok {
			candidates[id] = struct{}{}
		}
	}

	reaped := 0
	for id := range candidates {
		if ctx.Err() != nil {
			return reaped, ctx.Err()
		}

		acquired, release, err := r.locker.TryLock(ctx, id, r.leaseTTL)
		if err != nil {
			r.logger.Warn().Err(err).Str("sessionId", id).Msg("Failed to acquire lease for stale session")
			continue
		}
		if !acquired {
			continue
		}

		err = r.Reap(ctx, id)
		release()
		if err != nil {
			r.logger.Warn().Err(err).Str("sessionId", id).Msg("Failed to reap stale session")
			continue
		}

		r.logger.Info().Str("sessionId", id).Msg("Stale session reaped")
		reaped++
	}

	if err := r.store.PurgeTrash(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to purge removed sessions")
	}

	if purged, err := r.backend.PurgeStaged(ctx, cutoff); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to purge abandoned staging files")
	} else if purged > 0 {
		r.logger.Info().Int("count", purged).Msg("Abandoned staging files removed")
	}

	if _, err := r.tracker.PurgeAssembled(ctx, timeNow().Add(-r.retention)); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to purge assembled session marks")
	}

	return reaped, nil
}
