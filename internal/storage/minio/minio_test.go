package minio

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/princekumarofficial/transcode-nexus/internal/storage"
)

func TestPresignedGetURL(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	store := &Store{client: client, bucketName: "media"}

	raw, err := store.PresignedGetURL(context.Background(), storage.Converted, "clip_converted.webm", 30*time.Minute)
	if err != nil {
		t.Fatalf("PresignedGetURL failed: %v", err)
	}

	u, _ := url.Parse(raw)
	if u.Path != "/media/converted/clip_converted.webm" {
		t.Fatalf("unexpected path in %s", raw)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != "1800" {
		t.Fatalf("expected 1800s expiry, got %q", got)
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, true},
		{fmt.Errorf("wrapped: %w", minio.ErrorResponse{StatusCode: http.StatusNotFound}), true},
		{minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, false},
		{fmt.Errorf("dial tcp: connection refused"), false},
	}

	for _, tt := range tests {
		if got := isNotFound(tt.err); got != tt.want {
			t.Errorf("isNotFound(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
