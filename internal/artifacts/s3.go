package artifacts

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds S3-compatible storage connection settings. Supports AWS S3,
// MinIO, and other S3-compatible services.
type S3Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
}

// S3ConfigFromEnv builds an S3Config from RUNBOX_ARTIFACTS_S3_* variables.
// Returns nil if RUNBOX_ARTIFACTS_S3_BUCKET is unset, meaning the S3 backend
// is disabled and the local filesystem Store should be used alone.
func S3ConfigFromEnv() *S3Config {
	bucket := os.Getenv("RUNBOX_ARTIFACTS_S3_BUCKET")
	if bucket == "" {
		return nil
	}
	return &S3Config{
		Endpoint:        os.Getenv("RUNBOX_ARTIFACTS_S3_ENDPOINT"),
		Bucket:          bucket,
		AccessKeyID:     os.Getenv("RUNBOX_ARTIFACTS_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("RUNBOX_ARTIFACTS_S3_SECRET_ACCESS_KEY"),
		Region:          envOr("RUNBOX_ARTIFACTS_S3_REGION", "us-east-1"),
		UseSSL:          os.Getenv("RUNBOX_ARTIFACTS_S3_USE_SSL") != "false",
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// S3Backend wraps minio-go to mirror artifact alias directories into
// S3-compatible object storage, one object per file under the alias key.
type S3Backend struct {
	mc     *minio.Client
	bucket string
}

// NewS3Backend creates a client from cfg.
func NewS3Backend(cfg *S3Config) (*S3Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("s3 config is nil")
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &S3Backend{mc: mc, bucket: cfg.Bucket}, nil
}

// objectKey returns the S3 key for one file under an artifact alias
// directory: artifacts/{orgId}/{taskId}/{alias}/{relPath}.
func objectKey(organizationID, taskID, alias, relPath string) string {
	return fmt.Sprintf("artifacts/%s/%s/%s/%s", organizationID, taskID, alias, filepath.ToSlash(relPath))
}

// UploadDir walks localDir (an alias directory already populated by the
// container engine's artifact copy) and uploads every regular file found
// under it. Best-effort: callers treat a non-nil error as ARTIFACT_COPY,
// which spec §7 never treats as fatal.
func (b *S3Backend) UploadDir(ctx context.Context, organizationID, taskID, alias, localDir string) error {
	return filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		stat, err := f.Stat()
		if err != nil {
			return err
		}

		key := objectKey(organizationID, taskID, alias, rel)
		_, err = b.mc.PutObject(ctx, b.bucket, key, f, stat.Size(), minio.PutObjectOptions{
			ContentType: contentTypeFor(rel),
		})
		return err
	})
}

func contentTypeFor(relPath string) string {
	switch {
	case strings.HasSuffix(relPath, ".html"):
		return "text/html"
	case strings.HasSuffix(relPath, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// PresignedURL mints a time-limited download URL for a single artifact file.
func (b *S3Backend) PresignedURL(ctx context.Context, organizationID, taskID, alias, relPath string, expiry time.Duration) (string, error) {
	key := objectKey(organizationID, taskID, alias, relPath)
	reqParams := make(url.Values)
	u, err := b.mc.PresignedGetObject(ctx, b.bucket, key, expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

// EnsureBucket creates the configured bucket if it doesn't already exist.
func (b *S3Backend) EnsureBucket(ctx context.Context, region string) error {
	exists, err := b.mc.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	return b.mc.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: region})
}
