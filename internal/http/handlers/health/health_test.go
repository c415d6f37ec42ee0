package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/princekumarofficial/transcode-nexus/internal/queue"
	"github.com/princekumarofficial/transcode-nexus/internal/testsupport"
	"github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
)

func TestHandler(t *testing.T) {
	rdb, mr := testsupport.Redis(t)
	q := queue.NewClient(rdb, queue.Options{Prefix: "test:", RecordTTL: time.Hour})
	q.Enqueue(context.Background(), jobs.Job{UploadName: "a.mp4", Format: jobs.FormatMP4})

	rec := httptest.NewRecorder()
	Handler(q).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if !report.RedisConnected || report.Queue == nil || report.Queue.Pending != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	mr.Close()

	rec = httptest.NewRecorder()
	Handler(q).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once redis is gone, got %d", rec.Code)
	}
}
