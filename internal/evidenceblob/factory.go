package evidenceblob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend names a supported blob storage backend, selected via
// EVIDENCE_BLOB_BACKEND.
type Backend string

const (
	BackendFile Backend = "file"
	BackendS3   Backend = "s3"
	BackendGCS  Backend = "gcs"
)

// NewStoreFromEnv builds a Store from environment configuration:
//
//   - EVIDENCE_BLOB_BACKEND: "file" (default), "s3", or "gcs"
//   - EVIDENCE_BLOB_DIR: base directory for the file backend (default "data/evidence")
//   - EVIDENCE_BLOB_S3_BUCKET (required for s3), EVIDENCE_BLOB_S3_REGION,
//     EVIDENCE_BLOB_S3_ENDPOINT (optional, for MinIO/LocalStack), EVIDENCE_BLOB_S3_PREFIX
//   - EVIDENCE_BLOB_GCS_BUCKET (required for gcs), EVIDENCE_BLOB_GCS_PREFIX
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := Backend(os.Getenv("EVIDENCE_BLOB_BACKEND"))
	if backend == "" {
		backend = BackendFile
	}

	switch backend {
	case BackendFile:
		return newFileStoreFromEnv()
	case BackendS3:
		return newS3StoreFromEnv(ctx)
	case BackendGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("evidenceblob: unsupported backend %q", backend)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dir := os.Getenv("EVIDENCE_BLOB_DIR")
	if dir == "" {
		dir = filepath.Join("data", "evidence")
	}
	return NewFileStore(dir)
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("EVIDENCE_BLOB_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("evidenceblob: EVIDENCE_BLOB_S3_BUCKET is required for the s3 backend")
	}
	region := os.Getenv("EVIDENCE_BLOB_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("EVIDENCE_BLOB_S3_ENDPOINT"),
		Prefix:   os.Getenv("EVIDENCE_BLOB_S3_PREFIX"),
	})
}
