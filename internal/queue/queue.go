// Package queue hands conversion jobs from intake to the workers and keeps
// their status records. Both live in Redis: jobs move from a pending list to
// a processing list with BRPOPLPUSH, which gives every delivery exactly one
// owner, and each job has a hash record that expires after a bounded time.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/princekumarofficial/transcode-nexus/internal/types"
	"github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
)

var (
	// ErrNoJob is returned by Dequeue when the poll timed out.
	ErrNoJob = errors.New("no job available")
	// ErrMalformedJob is returned by Dequeue for payloads that could not be decoded.
	// The payload is dropped from the processing list.
	ErrMalformedJob = errors.New("malformed job payload")
)

// Record writes refuse to replace a terminal status and publish the change
// in the same step.
var setResultScript = redis.NewScript(`
	local current = redis.call('HGET', KEYS[1], 'status')
	if current == 'SUCCEEDED' or current == 'FAILED' then
		return 0
	end
	redis.call('HSET', KEYS[1], unpack(ARGV, 4))
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	redis.call('PUBLISH', ARGV[2], ARGV[3])
	return 1
`)

// Either every name is claimed or none is.
var reserveNamesScript = redis.NewScript(`
	for _, key in ipairs(KEYS) do
		if redis.call('EXISTS', key) == 1 then
			return 0
		end
	end
	for _, key in ipairs(KEYS) do
		redis.call('SET', key, 1, 'PX', ARGV[1])
	end
	return 1
`)

// Options configures a Client.
type Options struct {
	// Prefix is prepended to every key, e.g. "transcode:".
	Prefix string
	// RecordTTL bounds how long a job record is kept after its last update.
	RecordTTL time.Duration
}

// Client is the job queue and result backend.
type Client struct {
	rdb       *redis.Client
	prefix    string
	recordTTL time.Duration
	now       func() time.Time
}

// Delivery is a dequeued job owned by exactly one worker until acknowledged.
type Delivery struct {
	Job jobs.Job
	raw string
}

func NewClient(rdb *redis.Client, opts Options) *Client {
	ttl := opts.RecordTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{
		rdb:       rdb,
		prefix:    opts.Prefix,
		recordTTL: ttl,
		now:       time.Now,
	}
}

func (c *Client) pendingKey() string    { return c.prefix + "queue:pending" }
func (c *Client) processingKey() string { return c.prefix + "queue:processing" }
func (c *Client) recordKey(id string) string {
	return c.prefix + "job:" + id
}

// EventsChannel is the pub/sub channel carrying status changes of one job.
func (c *Client) EventsChannel(id string) string {
	return c.prefix + "events:" + id
}

// EventsPattern matches the events channel of every job.
func (c *Client) EventsPattern() string {
	return c.prefix + "events:*"
}

// JobIDFromChannel extracts the job id from an events channel name.
func (c *Client) JobIDFromChannel(channel string) string {
	return channel[len(c.prefix+"events:"):]
}

// Enqueue assigns the job an id, records it as PENDING and pushes it onto the
// pending list.
func (c *Client) Enqueue(ctx context.Context, job jobs.Job) (string, error) {
	job.ID = uuid.NewString()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = c.now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to encode job: %w", err)
	}

	key := c.recordKey(job.ID)
	stamp := job.CreatedAt.Format(time.RFC3339Nano)

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":      string(jobs.StatusPending),
		"upload_name": job.UploadName,
		"format":      string(job.Format),
		"created_at":  stamp,
		"updated_at":  stamp,
	})
	pipe.PExpire(ctx, key, c.recordTTL)
	pipe.LPush(ctx, c.pendingKey(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job.ID, nil
}

// Dequeue blocks up to timeout for the next job and moves it to the
// processing list.
func (c *Client) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := c.rdb.BRPopLPush(ctx, c.pendingKey(), c.processingKey(), timeout).Result()
	if err == redis.Nil {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	var job jobs.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.rdb.LRem(ctx, c.processingKey(), 1, raw)
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}

	return &Delivery{Job: job, raw: raw}, nil
}

// Ack removes a finished delivery from the processing list.
func (c *Client) Ack(ctx context.Context, d *Delivery) error {
	if err := c.rdb.LRem(ctx, c.processingKey(), 1, d.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", d.Job.ID, err)
	}
	return nil
}

// SetResult updates the job record and publishes the change. It reports
// false without writing when the record is already terminal.
func (c *Client) SetResult(ctx context.Context, id string, r jobs.Result) (bool, error) {
	now := c.now().UTC()
	r.UpdatedAt = now

	fields := []interface{}{
		"status", string(r.Status),
		"updated_at", now.Format(time.RFC3339Nano),
	}
	if r.Status == jobs.StatusRunning {
		if r.StartedAt.IsZero() {
			r.StartedAt = now
		}
		fields = append(fields, "started_at", r.StartedAt.Format(time.RFC3339Nano))
	}
	if r.URL != "" {
		fields = append(fields, "url", r.URL)
	}
	if r.Error != "" {
		fields = append(fields, "error", r.Error)
	}
	if r.OutputName != "" {
		fields = append(fields, "output_name", r.OutputName)
	}

	event, err := json.Marshal(types.NewJobStatusEvent(id, r))
	if err != nil {
		return false, fmt.Errorf("failed to encode status event: %w", err)
	}

	args := append([]interface{}{c.recordTTL.Milliseconds(), c.EventsChannel(id), event}, fields...)
	applied, err := setResultScript.Run(ctx, c.rdb, []string{c.recordKey(id)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to set result for job %s: %w", id, err)
	}

	return applied == 1, nil
}

// GetResult reads the job record. Unknown or expired ids read as NOT_FOUND.
func (c *Client) GetResult(ctx context.Context, id string) (jobs.Result, error) {
	fields, err := c.rdb.HGetAll(ctx, c.recordKey(id)).Result()
	if err != nil {
		return jobs.Result{}, fmt.Errorf("failed to get result for job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return jobs.Result{Status: jobs.StatusNotFound}, nil
	}

	return jobs.Result{
		Status:     jobs.Status(fields["status"]),
		URL:        fields["url"],
		Error:      fields["error"],
		OutputName: fields["output_name"],
		StartedAt:  parseTime(fields["started_at"]),
		UpdatedAt:  parseTime(fields["updated_at"]),
	}, nil
}

// ReserveNames claims all artifact keys for ttl in one step. It reports
// false, and claims nothing, when any of them is already taken.
func (c *Client) ReserveNames(ctx context.Context, ttl time.Duration, keys ...string) (bool, error) {
	if len(keys) == 0 {
		return true, nil
	}
	redisKeys := make([]string, len(keys))
	for i, key := range keys {
		redisKeys[i] = c.prefix + "name:" + key
	}

	n, err := reserveNamesScript.Run(ctx, c.rdb, redisKeys, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to reserve names %v: %w", keys, err)
	}
	return n == 1, nil
}

// RecoverStale clears deliveries left in the processing list by workers that
// died. Jobs that already reached a terminal state are acknowledged; jobs
// stuck for longer than staleAfter are failed. Nothing is re-enqueued.
func (c *Client) RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	entries, err := c.rdb.LRange(ctx, c.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get processing queue: %w", err)
	}

	recovered := 0
	for _, raw := range entries {
		var job jobs.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			c.rdb.LRem(ctx, c.processingKey(), 1, raw)
			continue
		}

		r, err := c.GetResult(ctx, job.ID)
		if err != nil {
			return recovered, err
		}

		switch {
		case r.Status == jobs.StatusNotFound || r.Status.Terminal():
		case c.stuck(job, r, staleAfter):
			if _, err := c.SetResult(ctx, job.ID, jobs.Failed("worker lost: no terminal status after "+staleAfter.String())); err != nil {
				return recovered, err
			}
		default:
			continue
		}

		if err := c.rdb.LRem(ctx, c.processingKey(), 1, raw).Err(); err != nil {
			return recovered, fmt.Errorf("failed to remove stale job %s: %w", job.ID, err)
		}
		recovered++
	}

	return recovered, nil
}

func (c *Client) stuck(job jobs.Job, r jobs.Result, staleAfter time.Duration) bool {
	since := job.CreatedAt
	if r.Status == jobs.StatusRunning && !r.StartedAt.IsZero() {
		since = r.StartedAt
	}
	return c.now().Sub(since) > staleAfter
}

// Stats is a snapshot of the queue depth.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	pipe := c.rdb.Pipeline()
	pending := pipe.LLen(ctx, c.pendingKey())
	processing := pipe.LLen(ctx, c.processingKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return Stats{Pending: pending.Val(), Processing: processing.Val()}, nil
}

// Ping checks the connection to the backend.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
