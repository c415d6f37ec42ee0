package queue

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/princekumarofficial/transcode-nexus/internal/testsupport"
	"github.com/princekumarofficial/transcode-nexus/internal/types"
	"github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	rdb, _ := testsupport.Redis(t)
	return NewClient(rdb, Options{Prefix: "test:", RecordTTL: time.Hour})
}

func sampleJob() jobs.Job {
	return jobs.Job{
		UploadName:  "clip.mp4",
		Format:      jobs.FormatWebM,
		Compression: 0.5,
	}
}

func TestEnqueueDequeueAck(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, sampleJob())
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a job id")
	}

	r, err := c.GetResult(ctx, id)
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if r.Status != jobs.StatusPending {
		t.Fatalf("expected PENDING, got %s", r.Status)
	}

	d, err := c.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if d.Job.ID != id || d.Job.UploadName != "clip.mp4" || d.Job.Format != jobs.FormatWebM {
		t.Fatalf("unexpected delivery: %+v", d.Job)
	}

	if n := c.rdb.LLen(ctx, c.processingKey()).Val(); n != 1 {
		t.Fatalf("expected 1 job in processing, got %d", n)
	}
	if err := c.Ack(ctx, d); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if n := c.rdb.LLen(ctx, c.processingKey()).Val(); n != 0 {
		t.Fatalf("expected empty processing list, got %d", n)
	}
}

func TestDequeue_Empty(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Dequeue(context.Background(), 100*time.Millisecond)
	if !errors.Is(err, ErrNoJob) {
		t.Fatalf("expected ErrNoJob, got %v", err)
	}
}

func TestDequeue_Malformed(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	c.rdb.LPush(ctx, c.pendingKey(), "{not json")

	_, err := c.Dequeue(ctx, time.Second)
	if !errors.Is(err, ErrMalformedJob) {
		t.Fatalf("expected ErrMalformedJob, got %v", err)
	}
	if n := c.rdb.LLen(ctx, c.processingKey()).Val(); n != 0 {
		t.Fatalf("malformed payload should be dropped, processing has %d", n)
	}
}

func TestDequeue_SingleOwner(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if _, err := c.Enqueue(ctx, sampleJob()); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Dequeue(ctx, 200*time.Millisecond); err == nil {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if delivered != 1 {
		t.Fatalf("expected exactly one delivery, got %d", delivered)
	}
}

func TestGetResult_Unknown(t *testing.T) {
	c := newTestClient(t)

	r, err := c.GetResult(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if r.Status != jobs.StatusNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", r.Status)
	}
}

func TestSetResult_TerminalIsImmutable(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, _ := c.Enqueue(ctx, sampleJob())

	if ok, err := c.SetResult(ctx, id, jobs.Result{Status: jobs.StatusRunning}); err != nil || !ok {
		t.Fatalf("RUNNING update: ok=%v err=%v", ok, err)
	}

	url := "https://objects.test/bucket/converted/clip_converted.webm"
	if ok, err := c.SetResult(ctx, id, jobs.Succeeded("clip_converted.webm", url)); err != nil || !ok {
		t.Fatalf("SUCCEEDED update: ok=%v err=%v", ok, err)
	}

	ok, err := c.SetResult(ctx, id, jobs.Failed("late failure"))
	if err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}
	if ok {
		t.Fatal("terminal record must not be overwritten")
	}

	r, _ := c.GetResult(ctx, id)
	if r.Status != jobs.StatusSucceeded || r.URL != url || r.Error != "" {
		t.Fatalf("unexpected record: %+v", r)
	}
	if r.StartedAt.IsZero() {
		t.Error("expected started_at to be recorded")
	}
}

func TestSetResult_RefreshesTTL(t *testing.T) {
	rdb, mr := testsupport.Redis(t)
	c := NewClient(rdb, Options{Prefix: "test:", RecordTTL: time.Hour})
	ctx := context.Background()

	id, _ := c.Enqueue(ctx, sampleJob())
	mr.FastForward(50 * time.Minute)

	c.SetResult(ctx, id, jobs.Result{Status: jobs.StatusRunning})
	mr.FastForward(50 * time.Minute)

	r, _ := c.GetResult(ctx, id)
	if r.Status != jobs.StatusRunning {
		t.Fatalf("record should survive after refresh, got %s", r.Status)
	}

	mr.FastForward(20 * time.Minute)
	r, _ = c.GetResult(ctx, id)
	if r.Status != jobs.StatusNotFound {
		t.Fatalf("expired record should read NOT_FOUND, got %s", r.Status)
	}
}

func TestSetResult_PublishesEvent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, _ := c.Enqueue(ctx, sampleJob())

	sub := c.rdb.Subscribe(ctx, c.EventsChannel(id))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if _, err := c.SetResult(ctx, id, jobs.Failed("engine failure: exit status 1")); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var event struct {
			Type types.EventType      `json:"type"`
			Data types.JobStatusEvent `json:"data"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			t.Fatalf("bad event payload: %v", err)
		}
		if event.Type != types.EventJobStatus || event.Data.JobID != id || event.Data.Status != jobs.StatusFailed {
			t.Fatalf("unexpected event: %+v", event)
		}
		if c.JobIDFromChannel(msg.Channel) != id {
			t.Fatalf("unexpected channel %s", msg.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status event")
	}
}

func TestGetResult_ReadOnly(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, _ := c.Enqueue(ctx, sampleJob())
	if _, err := c.SetResult(ctx, id, jobs.Result{Status: jobs.StatusRunning}); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}

	before, err := c.rdb.HGetAll(ctx, c.recordKey(id)).Result()
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	ttlBefore := c.rdb.PTTL(ctx, c.recordKey(id)).Val()

	// any write from here on would carry a different updated_at
	later := time.Now().Add(10 * time.Minute)
	c.now = func() time.Time { return later }

	sub := c.rdb.Subscribe(ctx, c.EventsChannel(id))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		r, err := c.GetResult(ctx, id)
		if err != nil {
			t.Fatalf("GetResult failed: %v", err)
		}
		if r.Status != jobs.StatusRunning {
			t.Fatalf("expected RUNNING, got %s", r.Status)
		}
	}

	after, _ := c.rdb.HGetAll(ctx, c.recordKey(id)).Result()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("record changed by reads:\nbefore %v\nafter  %v", before, after)
	}
	if ttlAfter := c.rdb.PTTL(ctx, c.recordKey(id)).Val(); ttlAfter != ttlBefore {
		t.Fatalf("record ttl changed by reads: %s -> %s", ttlBefore, ttlAfter)
	}

	select {
	case msg := <-sub.Channel():
		t.Fatalf("reads must not publish, got %q", msg.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReserveNames(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	ok, err := c.ReserveNames(ctx, time.Minute, "uploads/clip.mp4", "converted/clip_converted.webm")
	if err != nil || !ok {
		t.Fatalf("first reservation: ok=%v err=%v", ok, err)
	}

	ok, err = c.ReserveNames(ctx, time.Minute, "uploads/clip.mp4")
	if err != nil {
		t.Fatalf("ReserveNames failed: %v", err)
	}
	if ok {
		t.Fatal("second reservation of the same name must fail")
	}
}

func TestReserveNames_AllOrNothing(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if ok, _ := c.ReserveNames(ctx, time.Minute, "converted/clip_converted.webm"); !ok {
		t.Fatal("expected first reservation to succeed")
	}

	// the upload key is free but the output key is not
	ok, err := c.ReserveNames(ctx, time.Minute, "uploads/clip.mov", "converted/clip_converted.webm")
	if err != nil {
		t.Fatalf("ReserveNames failed: %v", err)
	}
	if ok {
		t.Fatal("reservation with a taken output name must fail")
	}

	if ok, _ := c.ReserveNames(ctx, time.Minute, "uploads/clip.mov"); !ok {
		t.Fatal("a refused reservation must not hold any of its names")
	}
}

func TestRecoverStale(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	// finished but never acked
	doneID, _ := c.Enqueue(ctx, sampleJob())
	done, _ := c.Dequeue(ctx, time.Second)
	c.SetResult(ctx, doneID, jobs.Succeeded("clip_converted.webm", "https://objects.test/x"))

	// worker died mid-run
	lostID, _ := c.Enqueue(ctx, sampleJob())
	c.Dequeue(ctx, time.Second)
	c.SetResult(ctx, lostID, jobs.Result{Status: jobs.StatusRunning})

	n, err := c.RecoverStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("RecoverStale failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the finished job to be cleared, got %d", n)
	}
	if r, _ := c.GetResult(ctx, lostID); r.Status != jobs.StatusRunning {
		t.Fatalf("fresh RUNNING job must be left alone, got %s", r.Status)
	}

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	n, err = c.RecoverStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("RecoverStale failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the lost job to be recovered, got %d", n)
	}

	r, _ := c.GetResult(ctx, lostID)
	if r.Status != jobs.StatusFailed {
		t.Fatalf("lost job should be FAILED, got %s", r.Status)
	}
	if n := c.rdb.LLen(ctx, c.processingKey()).Val(); n != 0 {
		t.Fatalf("processing list should be empty, got %d", n)
	}
	if n := c.rdb.LLen(ctx, c.pendingKey()).Val(); n != 0 {
		t.Fatalf("recovery must not re-enqueue, pending has %d", n)
	}

	if err := c.Ack(ctx, done); err != nil {
		t.Fatalf("acking an already cleared delivery should not fail: %v", err)
	}
}

func TestStats(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	c.Enqueue(ctx, sampleJob())
	c.Enqueue(ctx, sampleJob())
	c.Dequeue(ctx, time.Second)

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 1 || stats.Processing != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
