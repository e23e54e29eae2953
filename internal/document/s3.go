package document

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/kiranshivaraju/docanalyzer/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Storage keeps uploads in an S3-compatible bucket so the API and the
// workers can run on different hosts.
type S3Storage struct {
	client *minio.Client
	bucket string
	tmpDir string
}

// NewS3Storage connects to the endpoint and creates the bucket if missing.
// Downloaded copies are staged in tmpDir (os.TempDir when empty).
func NewS3Storage(ctx context.Context, cfg config.S3Config, tmpDir string) (*S3Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		slog.Info("created document bucket", "bucket", cfg.Bucket)
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &S3Storage{client: client, bucket: cfg.Bucket, tmpDir: tmpDir}, nil
}

func (s *S3Storage) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func (s *S3Storage) Put(ctx context.Context, key string, r io.Reader) error {
	if err := validKey(key); err != nil {
		return err
	}
	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload document: %w", err)
	}
	return nil
}

// Open downloads the object to a private temp file; release deletes that copy.
func (s *S3Storage) Open(ctx context.Context, key string) (string, func(), error) {
	if err := validKey(key); err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp(s.tmpDir, "docanalyzer-*"+filepath.Ext(key))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	f.Close()

	release := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove staged document", "path", path, "error", err)
		}
	}

	if err := s.client.FGetObject(ctx, s.bucket, key, path, minio.GetObjectOptions{}); err != nil {
		release()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", nil, fmt.Errorf("download document: %w", err)
	}
	return path, release, nil
}

// Remove is a no-op for a missing object.
func (s *S3Storage) Remove(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	return nil
}

var (
	_ Storage = (*LocalStorage)(nil)
	_ Storage = (*S3Storage)(nil)
)
