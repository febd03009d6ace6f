package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prappser/prappser_uploads/internal/apperror"
)

// S3Storage assembles into a local staging file and uploads it on Publish.
// An object only becomes visible once PutObject completes.
type S3Storage struct {
	client      *minio.Client
	bucket      string
	stagingPath string
}

func NewS3Storage(config *BackendConfig) (*S3Storage, error) {
	client, err := minio.New(config.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.S3AccessKey, config.S3SecretKey, ""),
		Secure: config.S3UseSSL,
		Region: config.S3Region,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, config.S3Bucket)
	if err != nil {
		return nil, err
	}

	if !exists {
		if err := client.MakeBucket(ctx, config.S3Bucket, minio.MakeBucketOptions{Region: config.S3Region}); err != nil {
			return nil, err
		}
	}

	stagingPath := config.StagingPath
	if stagingPath == "" {
		stagingPath = os.TempDir()
	}
	if err := os.MkdirAll(stagingPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return &S3Storage{
		client:      client,
		bucket:      config.S3Bucket,
		stagingPath: stagingPath,
	}, nil
}

func (s *S3Storage) Stage(ctx context.Context, name string) (Staged, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	file, err := os.CreateTemp(s.stagingPath, stagePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: create staging file: %w", apperror.ErrStorageUnavailable, err)
	}

	return &stagedObject{storage: s, file: file, key: name}, nil
}

func (s *S3Storage) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	_, err = obj.Stat()
	if err != nil {
		obj.Close()
		errResponse := minio.ToErrorResponse(err)
		if errResponse.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: file %s", apperror.ErrNotFound, name)
		}
		return nil, err
	}

	return obj, nil
}

func (s *S3Storage) GetURL(ctx context.Context, name string) (string, error) {
	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucket, name, time.Hour, nil)
	if err != nil {
		return "", err
	}
	return presignedURL.String(), nil
}

func (s *S3Storage) Location(name string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, name)
}

func (s *S3Storage) PurgeStaged(ctx context.Context, cutoff time.Time) (int, error) {
	return purgeStaged(s.stagingPath, cutoff)
}

type stagedObject struct {
	storage *S3Storage
	file    *os.File
	key     string
	done    bool
}

func (o *stagedObject) Write(p []byte) (int, error) {
	return o.file.Write(p)
}

func (o *stagedObject) Publish(ctx context.Context) error {
	if o.done {
		return fmt.Errorf("staged object already closed")
	}
	o.done = true
	defer os.Remove(o.file.Name())
	defer o.file.Close()

	size, err := o.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := o.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	contentType := mime.TypeByExtension(filepath.Ext(o.key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = o.storage.client.PutObject(ctx, o.storage.bucket, o.key, o.file, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (o *stagedObject) Discard() error {
	if o.done {
		return nil
	}
	o.done = true

	o.file.Close()
	if err := os.Remove(o.file.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
