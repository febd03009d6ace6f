package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prappser/prappser_uploads/internal/apperror"
)

const stagePattern = ".assemble-*"

type LocalStorage struct {
	basePath    string
	externalURL string
}

func NewLocalStorage(config *BackendConfig) (*LocalStorage, error) {
	basePath := config.LocalPath
	if basePath == "" {
		basePath = "./files/uploads"
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath:    basePath,
		externalURL: strings.TrimSuffix(config.ExternalURL, "/"),
	}, nil
}

func (s *LocalStorage) BasePath() string {
	return s.basePath
}

// Stage creates the temporary file next to its destination so that Publish
// is a same-directory rename.
func (s *LocalStorage) Stage(ctx context.Context, name string) (Staged, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	file, err := os.CreateTemp(s.basePath, stagePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: create staging file: %w", apperror.ErrStorageUnavailable, err)
	}

	return &stagedFile{
		file:      file,
		finalPath: filepath.Join(s.basePath, name),
	}, nil
}

func (s *LocalStorage) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(s.basePath, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: file %s", apperror.ErrNotFound, name)
		}
		return nil, err
	}

	return file, nil
}

func (s *LocalStorage) GetURL(ctx context.Context, name string) (string, error) {
	if s.externalURL == "" {
		return "", nil
	}
	return fmt.Sprintf("%s/files/%s", s.externalURL, url.PathEscape(name)), nil
}

func (s *LocalStorage) Location(name string) string {
	return filepath.Join(s.basePath, name)
}

func (s *LocalStorage) PurgeStaged(ctx context.Context, cutoff time.Time) (int, error) {
	return purgeStaged(s.basePath, cutoff)
}

type stagedFile struct {
	file      *os.File
	finalPath string
	done      bool
}

func (f *stagedFile) Write(p []byte) (int, error) {
	return f.file.Write(p)
}

func (f *stagedFile) Publish(ctx context.Context) error {
	if f.done {
		return fmt.Errorf("staged file already closed")
	}
	f.done = true
	tmpPath := f.file.Name()

	if err := f.file.Sync(); err != nil {
		f.file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, f.finalPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return nil
}

func (f *stagedFile) Discard() error {
	if f.done {
		return nil
	}
	f.done = true

	f.file.Close()
	if err := os.Remove(f.file.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
