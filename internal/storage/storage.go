package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prappser/prappser_uploads/internal/apperror"
)

// Backend is the destination for assembled files.
type Backend interface {
	// Stage opens a write target for name that stays invisible to readers of
	// name until Publish succeeds.
	Stage(ctx context.Context, name string) (Staged, error)
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	GetURL(ctx context.Context, name string) (string, error)
	// Location describes where name is published, for logs and callers.
	Location(name string) string
	// PurgeStaged removes staging files left by assemblies that never
	// finished, if they were last written before cutoff.
	PurgeStaged(ctx context.Context, cutoff time.Time) (int, error)
}

type Staged interface {
	io.Writer
	// Publish makes the staged content visible under its name, replacing any
	// previous file of the same name.
	Publish(ctx context.Context) error
	// Discard drops the staged content. It is a no-op after Publish.
	Discard() error
}

type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

type BackendConfig struct {
	Type        StorageType `mapstructure:"type"`
	LocalPath   string      `mapstructure:"localPath"`
	StagingPath string      `mapstructure:"stagingPath"`
	S3Endpoint  string      `mapstructure:"s3Endpoint"`
	S3Bucket    string      `mapstructure:"s3Bucket"`
	S3AccessKey string      `mapstructure:"s3AccessKey"`
	S3SecretKey string      `mapstructure:"s3SecretKey"`
	S3Region    string      `mapstructure:"s3Region"`
	S3UseSSL    bool        `mapstructure:"s3UseSsl"`
	ExternalURL string      `mapstructure:"externalUrl"`
}

func NewBackend(config *BackendConfig) (Backend, error) {
	switch config.Type {
	case StorageTypeS3:
		return NewS3Storage(config)
	default:
		return NewLocalStorage(config)
	}
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") || filepath.IsAbs(name) {
		return fmt.Errorf("%w: file name %q", apperror.ErrInvalidIdentifier, name)
	}
	return nil
}

func purgeStaged(dir string, cutoff time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, stagePattern))
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, path := range matches {
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return purged, fmt.Errorf("%w: remove staging file: %w", apperror.ErrStorageUnavailable, err)
		}
		purged++
	}
	return purged, nil
}
