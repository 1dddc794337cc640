//go:build !gcp

package evidenceblob

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	return nil, fmt.Errorf("evidenceblob: GCS backend not enabled in this build (rebuild with -tags gcp)")
}
