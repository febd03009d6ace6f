package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryTracker struct {
	mu        sync.Mutex
	sessions  map[string]*State
	assembled map[string]time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		sessions:  make(map[string]*State),
		assembled: make(map[string]time.Time),
	}
}

func (t *MemoryTracker) RecordArrival(ctx context.Context, info Info, index int, size int64) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.entry(info)
	if err != nil {
		return nil, err
	}

	state.Arrived[index] = size
	state.UpdatedAt = timeNow().Unix()
	return state.clone(), nil
}

func (t *MemoryTracker) GetState(ctx context.Context, sessionID string) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sessions[sessionID]
	if !ok {
		return nil, notFound(sessionID)
	}
	return state.clone(), nil
}

// Restore merges sizes, as scanned from the chunk store, into the session.
func (t *MemoryTracker) Restore(ctx context.Context, info Info, sizes map[int]int64) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.entry(info)
	if err != nil {
		return nil, err
	}

	for index, size := range sizes {
		state.Arrived[index] = size
	}
	state.UpdatedAt = timeNow().Unix()
	return state.clone(), nil
}

func (t *MemoryTracker) Forget(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sessions, sessionID)
	return nil
}

func (t *MemoryTracker) Count(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.sessions), nil
}

func (t *MemoryTracker) ListStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stale []string
	for id, state := range t.sessions {
		if state.UpdatedAt < cutoff.Unix() {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

func (t *MemoryTracker) MarkAssembled(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.assembled[sessionID] = timeNow()
	return nil
}

func (t *MemoryTracker) AssembledSince(ctx context.Context, sessionID string, since time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.assembled[sessionID]
	return ok && !at.Before(since), nil
}

func (t *MemoryTracker) PurgeAssembled(ctx context.Context, before time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	purged := 0
	for id, at := range t.assembled {
		if at.Before(before) {
			delete(t.assembled, id)
			purged++
		}
	}
	return purged, nil
}

func (t *MemoryTracker) entry(info Info) (*State, error) {
	state, ok := t.sessions[info.SessionID]
	if !ok {
		state = &State{Info: info, Arrived: make(map[int]int64)}
		t.sessions[info.SessionID] = state
		return state, nil
	}

	if !state.Info.Matches(info) {
		return nil, state.Info.mismatchError(info)
	}
	return state, nil
}
