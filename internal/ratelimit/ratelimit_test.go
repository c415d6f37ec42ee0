package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/princekumarofficial/transcode-nexus/internal/testsupport"
)

func TestTokenBucket_Allow(t *testing.T) {
	redisClient, _ := testsupport.Redis(t)

	// Create token bucket with 5 tokens, refill 5 per minute
	bucket := NewTokenBucket(redisClient, "test:", 5, 5)

	ctx := context.Background()
	client := "203.0.113.7"
	action := "submit"

	for i := 0; i < 5; i++ {
		allowed, err := bucket.Allow(ctx, client, action)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
	}

	allowed, err := bucket.Allow(ctx, client, action)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("Expected request to be denied after limit reached")
	}

	remaining, err := bucket.GetRemaining(ctx, client, action)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("Expected 0 remaining tokens, got %d", remaining)
	}

	// other clients keep their own budget
	if allowed, _ := bucket.Allow(ctx, "198.51.100.1", action); !allowed {
		t.Fatal("Expected a different client to be allowed")
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	redisClient, _ := testsupport.Redis(t)

	bucket := NewTokenBucket(redisClient, "test:", 2, 2)
	now := time.Unix(1700000000, 0)
	bucket.now = func() time.Time { return now }

	ctx := context.Background()
	bucket.Allow(ctx, "client", "submit")
	bucket.Allow(ctx, "client", "submit")

	if allowed, _ := bucket.Allow(ctx, "client", "submit"); allowed {
		t.Fatal("Expected bucket to be empty")
	}

	now = now.Add(time.Minute)
	if allowed, _ := bucket.Allow(ctx, "client", "submit"); !allowed {
		t.Fatal("Expected bucket to refill after a window")
	}
}

func TestTokenBucket_GetRemaining(t *testing.T) {
	redisClient, _ := testsupport.Redis(t)

	bucket := NewTokenBucket(redisClient, "test:", 10, 10)

	ctx := context.Background()
	client := "203.0.113.8"
	action := "submit"

	remaining, err := bucket.GetRemaining(ctx, client, action)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if remaining != 10 {
		t.Fatalf("Expected 10 remaining tokens, got %d", remaining)
	}

	for i := 0; i < 3; i++ {
		bucket.Allow(ctx, client, action)
	}

	remaining, err = bucket.GetRemaining(ctx, client, action)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if remaining != 7 {
		t.Fatalf("Expected 7 remaining tokens, got %d", remaining)
	}
}

func TestTokenBucket_Reset(t *testing.T) {
	redisClient, _ := testsupport.Redis(t)

	bucket := NewTokenBucket(redisClient, "test:", 5, 5)

	ctx := context.Background()
	client := "203.0.113.9"
	action := "submit"

	for i := 0; i < 5; i++ {
		bucket.Allow(ctx, client, action)
	}

	if err := bucket.Reset(ctx, client, action); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	remaining, err := bucket.GetRemaining(ctx, client, action)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if remaining != 5 {
		t.Fatalf("Expected 5 remaining tokens after reset, got %d", remaining)
	}
}
