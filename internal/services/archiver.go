package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"synchro/backend/internal/config"
	"synchro/backend/internal/logging"
)

// MinioMediaStore implements MediaStore against a MinIO / S3-compatible
// bucket.
type MinioMediaStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	logger        *logging.Logger
}

// NewMinioMediaStore creates a new MinioMediaStore from the storage config.
func NewMinioMediaStore(cfg *config.Config, logger *logging.Logger) (*MinioMediaStore, error) {
	client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKeyID, cfg.Storage.SecretAccessKey, ""),
		Secure: cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	publicBase := cfg.Storage.PublicBaseURL
	if publicBase == "" {
		scheme := "http"
		if cfg.Storage.UseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s/%s", scheme, cfg.Storage.Endpoint, cfg.Storage.Bucket)
	}

	return &MinioMediaStore{
		client:        client,
		bucket:        cfg.Storage.Bucket,
		publicBaseURL: publicBase,
		logger:        logger,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *MinioMediaStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// DownloadVideo fetches the source video object to a local temp file.
func (s *MinioMediaStore) DownloadVideo(ctx context.Context, objectPath string) (string, func(), error) {
	tmp, err := os.CreateTemp("", "synchro-video-*"+filepath.Ext(objectPath))
	if err != nil {
		return "", nil, err
	}
	localPath := tmp.Name()
	tmp.Close()

	if err := s.client.FGetObject(ctx, s.bucket, objectPath, localPath, minio.GetObjectOptions{}); err != nil {
		os.Remove(localPath)
		return "", nil, fmt.Errorf("failed to download video %s: %w", objectPath, err)
	}

	return localPath, func() { os.Remove(localPath) }, nil
}

// ArchiveFrames uploads frames under a deterministic per-workflow key and
// returns public URLs in input order. Uploads overwrite any previous object
// for the same key. A single failed upload logs and yields "" at that index
// rather than failing the batch.
func (s *MinioMediaStore) ArchiveFrames(ctx context.Context, framePaths []string, workflowID string) []string {
	urls := make([]string, len(framePaths))
	for i, path := range framePaths {
		key := fmt.Sprintf("screenshots/%s/workflow_%s_step_%d.jpg", workflowID, workflowID, i+1)
		_, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{
			ContentType: "image/jpeg",
		})
		if err != nil {
			s.logger.Warn("screenshot upload failed", "workflow_id", workflowID, "step", i+1, "error", err)
			urls[i] = ""
			continue
		}
		urls[i] = s.publicBaseURL + "/" + key
	}
	return urls
}
