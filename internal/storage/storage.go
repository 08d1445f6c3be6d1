// Package storage is the blob-store collaborator. The relay never looks
// inside files: clients encrypt attachments before upload, and the server
// only brokers presigned URLs to an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/config"
)

const (
	uploadURLTTL   = 15 * time.Minute
	downloadURLTTL = time.Hour
)

// BlobStore is the fixed surface the HTTP edge depends on. A nil store
// disables the file endpoints; the HTTP tests run with a nil store.
type BlobStore interface {
	PresignUpload(ctx context.Context, ownerID uuid.UUID, fileName string) (*PresignedURL, error)
	PresignDownload(ctx context.Context, storageKey string) (*PresignedURL, error)
	Delete(ctx context.Context, storageKey string) error
}

// PresignedURL is a time-limited URL plus the object key it refers to.
type PresignedURL struct {
	URL        string    `json:"url"`
	StorageKey string    `json:"storage_key"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type Service struct {
	client *minio.Client
	bucket string
}

// NewService connects to the S3-compatible endpoint and ensures the bucket
// exists.
func NewService(cfg *config.Config) (*Service, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	svc := &Service{client: client, bucket: cfg.S3Bucket}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}

	return svc, nil
}

func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// PresignUpload issues a PUT URL for a new object key scoped to the owner.
func (s *Service) PresignUpload(ctx context.Context, ownerID uuid.UUID, fileName string) (*PresignedURL, error) {
	storageKey := fmt.Sprintf("%s/%s", ownerID, uuid.New())

	url, err := s.client.PresignedPutObject(ctx, s.bucket, storageKey, uploadURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	return &PresignedURL{
		URL:        url.String(),
		StorageKey: storageKey,
		ExpiresAt:  time.Now().Add(uploadURLTTL),
	}, nil
}

// PresignDownload issues a GET URL for an existing object.
func (s *Service) PresignDownload(ctx context.Context, storageKey string) (*PresignedURL, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, storageKey, downloadURLTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to presign download: %w", err)
	}

	return &PresignedURL{
		URL:        url.String(),
		StorageKey: storageKey,
		ExpiresAt:  time.Now().Add(downloadURLTTL),
	}, nil
}

func (s *Service) Delete(ctx context.Context, storageKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, storageKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
