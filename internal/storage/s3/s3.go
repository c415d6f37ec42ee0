package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/princekumarofficial/transcode-nexus/internal/config"
	"github.com/princekumarofficial/transcode-nexus/internal/storage"
)

// Store keeps artifacts in an AWS S3 bucket.
type Store struct {
	client   *awss3.Client
	presign  *awss3.PresignClient
	uploader *manager.Uploader
	bucket   string
}

func NewStore(cfg config.Storage) *Store {
	opts := awss3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			scheme := "http://"
			if cfg.UseSSL {
				scheme = "https://"
			}
			endpoint = scheme + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}

	client := awss3.New(opts)

	return &Store{
		client:   client,
		presign:  awss3.NewPresignClient(client),
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}
}

func (s *Store) Put(ctx context.Context, ns storage.Namespace, name string, r io.Reader, size int64, contentType string) error {
	_, err := s.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(ns.Key(name)),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s to bucket %s: %w", ns.Key(name), s.bucket, err)
	}
	return nil
}

func (s *Store) Download(ctx context.Context, ns storage.Namespace, name, localPath string) error {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ns.Key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("%s: %w", ns.Key(name), storage.ErrNotFound)
		}
		return fmt.Errorf("failed to download %s: %w", ns.Key(name), err)
	}
	defer out.Body.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, out.Body); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return file.Close()
}

func (s *Store) List(ctx context.Context, ns storage.Namespace) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo

	pages := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(ns.Prefix()),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", ns.Prefix(), err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, storage.ObjectInfo{
				Name:    strings.TrimPrefix(aws.ToString(obj.Key), ns.Prefix()),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

// Delete removes an object. S3 reports success for missing keys.
func (s *Store) Delete(ctx context.Context, ns storage.Namespace, name string) error {
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ns.Key(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", ns.Key(name), err)
	}
	return nil
}

func (s *Store) PresignedGetURL(ctx context.Context, ns storage.Namespace, name string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ns.Key(name)),
	}, awss3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", ns.Key(name), err)
	}
	return req.URL, nil
}
