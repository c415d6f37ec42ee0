package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/princekumarofficial/transcode-nexus/internal/storage"
	"github.com/princekumarofficial/transcode-nexus/internal/testsupport"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestSweep_AgeBoundary(t *testing.T) {
	store := testsupport.NewMemoryStore()
	limit := 30 * time.Minute

	store.PutAt(storage.Uploads, "fresh.mp4", []byte("a"), baseTime.Add(-limit+time.Second))
	store.PutAt(storage.Uploads, "stale.mp4", []byte("b"), baseTime.Add(-limit-time.Second))
	store.PutAt(storage.Converted, "stale_converted.avi", []byte("c"), baseTime.Add(-2*limit))

	m := NewManager(store, limit, WithClock(func() time.Time { return baseTime }))

	n, err := m.Sweep(context.Background(), storage.Uploads, limit)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deletion, got %d", n)
	}
	if !store.Has(storage.Uploads, "fresh.mp4") {
		t.Error("artifact younger than the limit must survive")
	}
	if store.Has(storage.Uploads, "stale.mp4") {
		t.Error("artifact older than the limit must be deleted")
	}
	if !store.Has(storage.Converted, "stale_converted.avi") {
		t.Error("sweep must stay inside its namespace")
	}
}

func TestSweep_Idempotent(t *testing.T) {
	store := testsupport.NewMemoryStore()
	store.PutAt(storage.Converted, "old_converted.mkv", []byte("x"), baseTime.Add(-time.Hour))

	m := NewManager(store, 30*time.Minute, WithClock(func() time.Time { return baseTime }))
	ctx := context.Background()

	first, err := m.SweepAll(ctx)
	if err != nil || first != 1 {
		t.Fatalf("first sweep: n=%d err=%v", first, err)
	}

	second, err := m.SweepAll(ctx)
	if err != nil || second != 0 {
		t.Fatalf("second sweep should be a no-op: n=%d err=%v", second, err)
	}
}

func TestSweep_SkipsLeased(t *testing.T) {
	rdb, _ := testsupport.Redis(t)
	leases := NewRedisLeases(rdb, "test:")
	ctx := context.Background()

	store := testsupport.NewMemoryStore()
	store.PutAt(storage.Uploads, "queued.mp4", []byte("a"), baseTime.Add(-time.Hour))
	store.PutAt(storage.Uploads, "orphan.mp4", []byte("b"), baseTime.Add(-time.Hour))

	if err := leases.Acquire(ctx, storage.Uploads, "queued.mp4", time.Hour); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	m := NewManager(store, 30*time.Minute, WithLeases(leases), WithClock(func() time.Time { return baseTime }))

	if _, err := m.Sweep(ctx, storage.Uploads, 30*time.Minute); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if !store.Has(storage.Uploads, "queued.mp4") {
		t.Error("leased upload must survive the sweep")
	}
	if store.Has(storage.Uploads, "orphan.mp4") {
		t.Error("unleased upload should be deleted")
	}

	if err := leases.Release(ctx, storage.Uploads, "queued.mp4"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := m.Sweep(ctx, storage.Uploads, 30*time.Minute); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if store.Has(storage.Uploads, "queued.mp4") {
		t.Error("released upload should be deleted")
	}
}

func TestLeases_Expire(t *testing.T) {
	rdb, mr := testsupport.Redis(t)
	leases := NewRedisLeases(rdb, "test:")
	ctx := context.Background()

	leases.Acquire(ctx, storage.Converted, "clip_converted.webm", time.Minute)
	if ok, _ := leases.Leased(ctx, storage.Converted, "clip_converted.webm"); !ok {
		t.Fatal("expected lease to be held")
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := leases.Leased(ctx, storage.Converted, "clip_converted.webm"); ok {
		t.Fatal("expected lease to lapse")
	}
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	store := testsupport.NewMemoryStore()
	store.PutAt(storage.Uploads, "a.mp4", []byte("a"), baseTime.Add(-time.Hour))
	store.Fail["delete"] = errors.New("access denied")

	m := NewManager(store, 30*time.Minute, WithClock(func() time.Time { return baseTime }))

	n, err := m.Sweep(context.Background(), storage.Uploads, 30*time.Minute)
	if err == nil {
		t.Fatal("expected delete failure to be reported")
	}
	if n != 0 {
		t.Fatalf("expected no deletions, got %d", n)
	}
}

func TestSweep_ListFailure(t *testing.T) {
	store := testsupport.NewMemoryStore()
	store.Fail["list"] = errors.New("bucket unreachable")

	m := NewManager(store, 30*time.Minute)
	if _, err := m.SweepAll(context.Background()); err == nil {
		t.Fatal("expected list failure to be reported")
	}
}
