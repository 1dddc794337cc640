//go:build gcp

package evidenceblob

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("EVIDENCE_BLOB_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("evidenceblob: EVIDENCE_BLOB_GCS_BUCKET is required for the gcs backend")
	}
	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("EVIDENCE_BLOB_GCS_PREFIX"),
	})
}
