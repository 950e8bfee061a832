package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reelforge/api/internal/model"
)

// jobRetention matches the asynq task retention window: finished jobs
// stay queryable for a day.
const jobRetention = 24 * time.Hour

// RedisRepository stores one JSON blob per job under job:{id}.
type RedisRepository struct {
	redis *redis.Client
}

// claimScript performs the queued→planning CAS server-side so that two
// processes picking up the same task cannot both start the job.
var claimScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return false
end
local job = cjson.decode(raw)
if job['status'] ~= 'queued' then
  return ''
end
job['status'] = 'planning'
job['startedAt'] = ARGV[1]
job['updatedAt'] = ARGV[1]
local encoded = cjson.encode(job)
redis.call('SET', KEYS[1], encoded, 'KEEPTTL')
return encoded
`)

// cancelScript flips cancel_requested server-side, touching no other
// field, so a cancel can never clobber a concurrent orchestrator save.
var cancelScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return false
end
local job = cjson.decode(raw)
local status = job['status']
if status == 'completed' or status == 'failed' or status == 'cancelled' then
  return ''
end
if job['cancelRequested'] then
  return raw
end
job['cancelRequested'] = true
job['updatedAt'] = ARGV[1]
local encoded = cjson.encode(job)
redis.call('SET', KEYS[1], encoded, 'KEEPTTL')
return encoded
`)

// NewRedisRepository creates a Redis-backed job repository.
func NewRedisRepository(redisClient *redis.Client) *RedisRepository {
	return &RedisRepository{redis: redisClient}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// Load fetches and decodes the job record.
func (r *RedisRepository) Load(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := r.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Save encodes and stores the job record with the retention TTL.
func (r *RedisRepository) Save(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := r.redis.Set(ctx, jobKey(job.ID), data, jobRetention).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// ClaimForStart runs the CAS script. ok is false when the job was not in
// queued state (already claimed, cancelled, or finished).
func (r *RedisRepository) ClaimForStart(ctx context.Context, jobID string, now time.Time) (*model.Job, bool, error) {
	res, err := claimScript.Run(ctx, r.redis, []string{jobKey(jobID)}, now.Format(time.RFC3339Nano)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("failed to claim job: %w", err)
	}

	raw, ok := res.(string)
	if !ok || raw == "" {
		return nil, false, nil
	}

	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal claimed job: %w", err)
	}
	return &job, true, nil
}

// MarkCancelRequested runs the field-level cancel script.
func (r *RedisRepository) MarkCancelRequested(ctx context.Context, jobID string, now time.Time) (*model.Job, error) {
	res, err := cancelScript.Run(ctx, r.redis, []string{jobKey(jobID)}, now.Format(time.RFC3339Nano)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	raw, ok := res.(string)
	if !ok || raw == "" {
		return nil, ErrAlreadyTerminal
	}

	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cancelled job: %w", err)
	}
	return &job, nil
}
