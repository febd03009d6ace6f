package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prappser/prappser_uploads/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(&BackendConfig{LocalPath: t.TempDir(), ExternalURL: "https://uploads.example.com/"})
	require.NoError(t, err)
	return s
}

func TestLocalStorage_Stage_ShouldOnlyAppearAfterPublish(t *testing.T) {
	// given
	s := newTestLocalStorage(t)
	ctx := context.Background()
	finalPath := filepath.Join(s.BasePath(), "movie.mp4")

	// when
	staged, err := s.Stage(ctx, "movie.mp4")
	require.NoError(t, err)
	_, err = staged.Write([]byte("frames"))
	require.NoError(t, err)

	// then
	_, err = os.Stat(finalPath)
	assert.True(t, os.IsNotExist(err), "destination must not exist before publish")

	require.NoError(t, staged.Publish(ctx))
	data, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("frames"), data)

	entries, err := os.ReadDir(s.BasePath())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging file must be gone after publish")
}

func TestLocalStorage_Publish_ShouldReplaceExistingFile(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(s.BasePath(), "a.txt"), []byte("old content"), 0644))

	staged, err := s.Stage(ctx, "a.txt")
	require.NoError(t, err)
	_, err = staged.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, staged.Publish(ctx))

	data, err := os.ReadFile(filepath.Join(s.BasePath(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}

func TestLocalStorage_Discard_ShouldLeaveNoTrace(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	staged, err := s.Stage(ctx, "a.txt")
	require.NoError(t, err)
	_, err = staged.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, staged.Discard())
	require.NoError(t, staged.Discard())

	entries, err := os.ReadDir(s.BasePath())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStorage_Stage_ShouldRejectPathTraversal(t *testing.T) {
	s := newTestLocalStorage(t)

	for _, name := range []string{"", "..", "../etc/passwd", "/abs", `dir\file`} {
		_, err := s.Stage(context.Background(), name)
		assert.ErrorIs(t, err, apperror.ErrInvalidIdentifier, "name %q", name)
	}
}

func TestLocalStorage_Get(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(s.BasePath(), "a.txt"), []byte("hello"), 0644))

	rc, err := s.Get(ctx, "a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = s.Get(ctx, "missing.txt")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestLocalStorage_GetURL(t *testing.T) {
	s := newTestLocalStorage(t)

	url, err := s.GetURL(context.Background(), "my file.txt")

	require.NoError(t, err)
	assert.Equal(t, "https://uploads.example.com/files/my%20file.txt", url)
}

func TestLocalStorage_PurgeStaged_ShouldRemoveAbandonedStagingFiles(t *testing.T) {
	// given an assembly interrupted before publish and one still running
	s := newTestLocalStorage(t)
	ctx := context.Background()

	abandoned, err := s.Stage(ctx, "crashed.bin")
	require.NoError(t, err)
	abandonedPath := abandoned.(*stagedFile).file.Name()
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(abandonedPath, old, old))

	running, err := s.Stage(ctx, "running.bin")
	require.NoError(t, err)
	defer running.Discard()
	runningPath := running.(*stagedFile).file.Name()

	require.NoError(t, os.WriteFile(filepath.Join(s.BasePath(), "kept.txt"), []byte("data"), 0644))
	require.NoError(t, os.Chtimes(filepath.Join(s.BasePath(), "kept.txt"), old, old))

	// when
	purged, err := s.PurgeStaged(ctx, time.Now().Add(-time.Hour))

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	_, err = os.Stat(abandonedPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(runningPath)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.BasePath(), "kept.txt"))
	assert.NoError(t, err)
}
