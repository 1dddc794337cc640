//go:build gcp

package evidenceblob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSStore is a Google Cloud Storage-backed Store, built only when the repo
// is compiled with the gcp build tag.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("evidenceblob: create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(rawHash string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + rawHash + ".blob")
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := contentRef(data)
	rawHash := strings.TrimPrefix(ref, refPrefix)
	obj := s.object(rawHash)

	if _, err := obj.Attrs(ctx); err == nil {
		return ref, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("evidenceblob: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("evidenceblob: gcs commit: %w", err)
	}
	return ref, nil
}

func (s *GCSStore) Get(ctx context.Context, storageRef string) ([]byte, error) {
	rawHash, err := parseRef(storageRef)
	if err != nil {
		return nil, err
	}
	r, err := s.object(rawHash).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, fmt.Errorf("evidenceblob: not found: %s", storageRef)
		}
		return nil, fmt.Errorf("evidenceblob: gcs get %s: %w", storageRef, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSStore) Exists(ctx context.Context, storageRef string) (bool, error) {
	rawHash, err := parseRef(storageRef)
	if err != nil {
		return false, err
	}
	_, err = s.object(rawHash).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	return false, fmt.Errorf("evidenceblob: gcs stat %s: %w", storageRef, err)
}

func (s *GCSStore) Delete(ctx context.Context, storageRef string) error {
	rawHash, err := parseRef(storageRef)
	if err != nil {
		return err
	}
	err = s.object(rawHash).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("evidenceblob: gcs delete %s: %w", storageRef, err)
	}
	return nil
}
