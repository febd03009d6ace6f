package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prappser/prappser_uploads/internal/apperror"
)

const (
	chunkFileSuffix = ".part"
	partialPattern  = ".partial-*"
	trashPrefix     = ".trash-"
)

// LocalStore keeps chunks on the local filesystem, one directory per session
// under basePath and one file per chunk index.
type LocalStore struct {
	basePath string
}

func NewLocalStore(basePath string) (*LocalStore, error) {
	if basePath == "" {
		basePath = "./files/tmp"
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, storageError("create chunk directory", err)
	}

	return &LocalStore{basePath: basePath}, nil
}

func (s *LocalStore) BasePath() string {
	return s.basePath
}

func (s *LocalStore) PutChunk(ctx context.Context, sessionID string, index int, data io.Reader) (int64, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return 0, err
	}
	if err := ValidateIndex(index); err != nil {
		return 0, err
	}

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, storageError("create session directory", err)
	}

	file, err := os.CreateTemp(dir, partialPattern)
	if err != nil {
		return 0, storageError("create chunk file", err)
	}
	tmpPath := file.Name()
	defer os.Remove(tmpPath)

	written, err := io.Copy(file, data)
	if err != nil {
		file.Close()
		return 0, storageError(fmt.Sprintf("write chunk %d", index), err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return 0, storageError(fmt.Sprintf("sync chunk %d", index), err)
	}
	if err := file.Close(); err != nil {
		return 0, storageError(fmt.Sprintf("close chunk %d", index), err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, chunkFileName(index))); err != nil {
		return 0, storageError(fmt.Sprintf("publish chunk %d", index), err)
	}

	return written, nil
}

func (s *LocalStore) OpenChunk(ctx context.Context, sessionID string, index int) (io.ReadCloser, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(s.sessionDir(sessionID), chunkFileName(index)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: chunk %d of session %s", apperror.ErrNotFound, index, sessionID)
		}
		return nil, storageError(fmt.Sprintf("open chunk %d", index), err)
	}

	return file, nil
}

func (s *LocalStore) HasChunk(ctx context.Context, sessionID string, index int) (bool, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return false, err
	}
	if err := ValidateIndex(index); err != nil {
		return false, err
	}

	info, err := os.Stat(filepath.Join(s.sessionDir(sessionID), chunkFileName(index)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, storageError("stat chunk", err)
	}

	return info.Mode().IsRegular(), nil
}

func (s *LocalStore) ListChunkIndices(ctx context.Context, sessionID string) ([]int, error) {
	sizes, err := s.ChunkSizes(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(sizes))
	for index := range sizes {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices, nil
}

// ChunkSizes scans the session directory. A missing directory yields an
// empty map.
func (s *LocalStore) ChunkSizes(ctx context.Context, sessionID string) (map[int]int64, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.sessionDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[int]int64{}, nil
		}
		return nil, storageError("list chunks", err)
	}

	sizes := make(map[int]int64, len(entries))
	for _, entry := range entries {
		index, ok := parseChunkFileName(entry.Name())
		if !ok || !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, storageError("stat chunk", err)
		}
		sizes[index] = info.Size()
	}

	return sizes, nil
}

func (s *LocalStore) TotalBytesStored(ctx context.Context, sessionID string) (int64, error) {
	sizes, err := s.ChunkSizes(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, size := range sizes {
		total += size
	}
	return total, nil
}

// RemoveSession detaches the session directory with a rename before deleting
// it, so chunk writes racing with the removal start a fresh directory instead
// of landing in a half-deleted one.
func (s *LocalStore) RemoveSession(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	dir := s.sessionDir(sessionID)
	trash := filepath.Join(s.basePath, trashPrefix+uuid.NewString())

	if err := os.Rename(dir, trash); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// Fall back to deleting in place.
		trash = dir
	}

	if err := os.RemoveAll(trash); err != nil {
		return storageError("remove session directory", err)
	}
	return nil
}

func (s *LocalStore) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, storageError("list sessions", err)
	}

	sessions := make([]SessionInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || ValidateSessionID(entry.Name()) != nil {
			continue
		}

		lastActivity, err := s.lastActivity(entry.Name())
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, storageError("stat session", err)
		}

		sessions = append(sessions, SessionInfo{ID: entry.Name(), LastActivity: lastActivity})
	}

	return sessions, nil
}

// PurgeTrash removes directories left behind by interrupted session removals.
func (s *LocalStore) PurgeTrash(ctx context.Context) error {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return storageError("list sessions", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), trashPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.basePath, entry.Name())); err != nil {
			return storageError("purge trash", err)
		}
	}

	return nil
}

func (s *LocalStore) lastActivity(sessionID string) (time.Time, error) {
	dir := s.sessionDir(sessionID)

	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, err
	}
	latest := info.ModTime()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, err
	}
	for _, entry := range entries {
		entryInfo, err := entry.Info()
		if err != nil {
			continue
		}
		if entryInfo.ModTime().After(latest) {
			latest = entryInfo.ModTime()
		}
	}

	return latest, nil
}

func (s *LocalStore) sessionDir(sessionID string) string {
	return filepath.Join(s.basePath, sessionID)
}

func parseChunkFileName(name string) (int, bool) {
	if !strings.HasSuffix(name, chunkFileSuffix) {
		return 0, false
	}

	index, err := strconv.Atoi(strings.TrimSuffix(name, chunkFileSuffix))
	if err != nil || index < 1 || chunkFileName(index) != name {
		return 0, false
	}
	return index, true
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperror.ErrStorageUnavailable, op, err)
}
