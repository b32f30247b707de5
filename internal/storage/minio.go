package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore writes document payloads to an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
}

var _ ObjectStore = (*MinioStore)(nil)

// MinioOptions configures a MinioStore.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// NewMinioStore creates the client; it does not contact the server until EnsureReady.
func NewMinioStore(opts MinioOptions) (*MinioStore, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("minio bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: opts.Bucket, region: opts.Region}, nil
}

func (s *MinioStore) EnsureReady(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket %s: %w", ErrStorageUnavailable, s.bucket, err)
	}
	if exists {
		return nil
	}
	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	if err != nil {
		// Another instance may have created it between the two calls.
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("%w: create bucket %s: %w", ErrStorageUnavailable, s.bucket, err)
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, docID string, data []byte, meta Metadata) (string, error) {
	if err := validateKey(docID); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		docID,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  meta.contentType(),
			UserMetadata: meta.Map(),
		},
	)
	if err != nil {
		return "", fmt.Errorf("%w: put object %s: %w", ErrUploadFailed, docID, err)
	}
	return objectURL(s.client.EndpointURL().String(), s.bucket, docID), nil
}

func (s *MinioStore) Close() error { return nil }

func objectURL(endpoint, bucket, key string) string {
	return strings.TrimRight(endpoint, "/") + "/" + bucket + "/" + key
}
