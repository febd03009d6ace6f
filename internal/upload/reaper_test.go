package upload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prappser/prappser_uploads/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withClock(t *testing.T, now time.Time) {
	t.Helper()
	original := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = original })
}

func TestReaper_Reap_ShouldBeIdempotent(t *testing.T) {
	// given
	env := newTestEnv(t)
	ctx := context.Background()
	file := newTestFile("100-filetxt", "file.txt", 100, 40)
	_, err := env.service.HandleChunk(ctx, file.request(1))
	require.NoError(t, err)

	// when
	first := env.reaper.Reap(ctx, file.sessionID)
	second := env.reaper.Reap(ctx, file.sessionID)

	// then
	assert.NoError(t, first)
	assert.NoError(t, second)
	_, err = env.tracker.GetState(ctx, file.sessionID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = os.Stat(filepath.Join(env.store.BasePath(), file.sessionID))
	assert.True(t, os.IsNotExist(err))
}

func TestReaper_ReapStale_ShouldRemoveAbandonedSessions(t *testing.T) {
	// given
	env := newTestEnv(t)
	ctx := context.Background()
	stale := newTestFile("100-staletxt", "stale.txt", 100, 40)
	fresh := newTestFile("100-freshtxt", "fresh.txt", 100, 40)
	_, err := env.service.HandleChunk(ctx, stale.request(1))
	require.NoError(t, err)
	_, err = env.service.HandleChunk(ctx, fresh.request(1))
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(env.store.BasePath(), stale.sessionID, "000001.part"), old, old))
	require.NoError(t, os.Chtimes(filepath.Join(env.store.BasePath(), stale.sessionID), old, old))

	// when
	reaped, err := env.reaper.ReapStale(ctx, time.Hour)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	_, err = env.tracker.GetState(ctx, stale.sessionID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = env.tracker.GetState(ctx, fresh.sessionID)
	assert.NoError(t, err)

	indices, err := env.store.ListChunkIndices(ctx, fresh.sessionID)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, indices)
}

func TestReaper_ReapStale_ShouldSkipLeasedSessions(t *testing.T) {
	// given
	env := newTestEnv(t)
	ctx := context.Background()
	file := newTestFile("100-busytxt", "busy.txt", 100, 40)
	_, err := env.service.HandleChunk(ctx, file.request(1))
	require.NoError(t, err)

	acquired, release, err := env.locker.TryLock(ctx, file.sessionID, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	defer release()

	withClock(t, time.Now().Add(48*time.Hour))

	// when
	reaped, err := env.reaper.ReapStale(ctx, time.Hour)

	// then
	require.NoError(t, err)
	assert.Zero(t, reaped)
	indices, err := env.store.ListChunkIndices(ctx, file.sessionID)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, indices)
}

func TestReaper_ReapStale_ShouldForgetTrackerOnlySessions(t *testing.T) {
	// given a tracker entry whose chunk directory is already gone
	env := newTestEnv(t)
	ctx := context.Background()
	file := newTestFile("100-orphantxt", "orphan.txt", 100, 40)
	_, err := env.service.HandleChunk(ctx, file.request(1))
	require.NoError(t, err)
	require.NoError(t, env.store.RemoveSession(ctx, file.sessionID))

	withClock(t, time.Now().Add(48*time.Hour))

	// when
	reaped, err := env.reaper.ReapStale(ctx, time.Hour)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)
	count, err := env.tracker.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCleanupScheduler_RunNow_ShouldReapStaleSessions(t *testing.T) {
	// given
	env := newTestEnv(t)
	ctx := context.Background()
	file := newTestFile("100-filetxt", "file.txt", 100, 40)
	_, err := env.service.HandleChunk(ctx, file.request(1))
	require.NoError(t, err)

	scheduler := NewCleanupScheduler(env.reaper, ReaperConfig{MaxAge: time.Hour}, env.reaper.logger)
	withClock(t, time.Now().Add(2*time.Hour))

	// when
	scheduler.RunNow()

	// then
	count, err := env.tracker.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	sessions, err := env.store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCleanupScheduler_Start_ShouldRejectInvalidSchedule(t *testing.T) {
	// given
	env := newTestEnv(t)
	scheduler := NewCleanupScheduler(env.reaper, ReaperConfig{Schedule: "not a schedule"}, env.reaper.logger)

	// when
	err := scheduler.Start()

	// then
	assert.Error(t, err)
}

func TestCleanupScheduler_ShouldApplyDefaults(t *testing.T) {
	env := newTestEnv(t)

	scheduler := NewCleanupScheduler(env.reaper, ReaperConfig{}, env.reaper.logger)
	require.NoError(t, scheduler.Start())
	scheduler.Stop()

	assert.Equal(t, defaultCleanupSchedule, scheduler.schedule)
	assert.Equal(t, defaultMaxSessionAge, scheduler.maxAge)
}

func TestReaper_ReapStale_ShouldRemoveAbandonedStagingFiles(t *testing.T) {
	// given a staging file left by an assembly that never finished
	env := newTestEnv(t)
	ctx := context.Background()
	staged, err := env.backend.Stage(ctx, "crashed.bin")
	require.NoError(t, err)
	_, err = staged.Write([]byte("half"))
	require.NoError(t, err)

	withClock(t, time.Now().Add(48*time.Hour))

	// when
	_, err = env.reaper.ReapStale(ctx, time.Hour)

	// then
	require.NoError(t, err)
	leftovers, err := filepath.Glob(filepath.Join(env.destDir, ".assemble-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
	_, err = os.Stat(filepath.Join(env.destDir, "crashed.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestReaper_ReapStale_ShouldForgetExpiredAssembledMarks(t *testing.T) {
	// given
	env := newTestEnv(t)
	ctx := context.Background()
	file := newTestFile("10-markedtxt", "marked.txt", 10, 10)
	_, err := env.service.HandleChunk(ctx, file.request(1))
	require.NoError(t, err)

	recent, err := env.reaper.RecentlyAssembled(ctx, file.sessionID)
	require.NoError(t, err)
	require.True(t, recent)

	withClock(t, time.Now().Add(DefaultAssembledRetention+time.Minute))

	// when
	_, err = env.reaper.ReapStale(ctx, time.Hour)

	// then
	require.NoError(t, err)
	marked, err := env.tracker.AssembledSince(ctx, file.sessionID, time.Time{})
	require.NoError(t, err)
	assert.False(t, marked)
}
