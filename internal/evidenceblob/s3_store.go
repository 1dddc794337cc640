package evidenceblob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store is an AWS S3-backed Store. Evidence blobs are keyed by their own
// content hash under an optional prefix, the same content-addressing
// scheme FileStore uses on disk.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("evidenceblob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) key(rawHash string) string {
	return s.prefix + rawHash + ".blob"
}

func (s *S3Store) Put(ctx context.Context, data []byte) (string, error) {
	ref := contentRef(data)
	rawHash := strings.TrimPrefix(ref, refPrefix)
	key := s.key(rawHash)

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err == nil {
		return ref, nil
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("evidenceblob: s3 put: %w", err)
	}
	return ref, nil
}

func (s *S3Store) Get(ctx context.Context, storageRef string) ([]byte, error) {
	rawHash, err := parseRef(storageRef)
	if err != nil {
		return nil, err
	}
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rawHash))})
	if err != nil {
		return nil, fmt.Errorf("evidenceblob: s3 get %s: %w", storageRef, err)
	}
	defer func() { _ = result.Body.Close() }()
	return io.ReadAll(result.Body)
}

func (s *S3Store) Exists(ctx context.Context, storageRef string) (bool, error) {
	rawHash, err := parseRef(storageRef)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rawHash))})
	return err == nil, nil
}

func (s *S3Store) Delete(ctx context.Context, storageRef string) error {
	rawHash, err := parseRef(storageRef)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rawHash))})
	if err != nil {
		return fmt.Errorf("evidenceblob: s3 delete %s: %w", storageRef, err)
	}
	return nil
}
