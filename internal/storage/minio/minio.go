package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/princekumarofficial/transcode-nexus/internal/config"
	"github.com/princekumarofficial/transcode-nexus/internal/storage"
)

// Store keeps artifacts in a MinIO (or any S3 compatible) bucket.
type Store struct {
	client     *minio.Client
	bucketName string
}

// NewStore creates a new MinIO backed object store
func NewStore(ctx context.Context, cfg config.Storage) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	s := &Store{
		client:     client,
		bucketName: cfg.Bucket,
	}

	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return s, nil
}

// ensureBucket creates the bucket if it doesn't exist
func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

func (s *Store) Put(ctx context.Context, ns storage.Namespace, name string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucketName, ns.Key(name), r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", ns.Key(name), err)
	}
	return nil
}

func (s *Store) Download(ctx context.Context, ns storage.Namespace, name, localPath string) error {
	err := s.client.FGetObject(ctx, s.bucketName, ns.Key(name), localPath, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", ns.Key(name), storage.ErrNotFound)
		}
		return fmt.Errorf("failed to download %s: %w", ns.Key(name), err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, ns storage.Namespace) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo
	objectsCh := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    ns.Prefix(),
		Recursive: true,
	})

	for object := range objectsCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", ns.Prefix(), object.Err)
		}
		objects = append(objects, storage.ObjectInfo{
			Name:    strings.TrimPrefix(object.Key, ns.Prefix()),
			Size:    object.Size,
			ModTime: object.LastModified,
		})
	}

	return objects, nil
}

// Delete removes an object. Removing a missing key is not an error.
func (s *Store) Delete(ctx context.Context, ns storage.Namespace, name string) error {
	err := s.client.RemoveObject(ctx, s.bucketName, ns.Key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", ns.Key(name), err)
	}
	return nil
}

// PresignedGetURL creates a presigned URL for downloading
func (s *Store) PresignedGetURL(ctx context.Context, ns storage.Namespace, name string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, ns.Key(name), ttl, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return u.String(), nil
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
	}
	return false
}
