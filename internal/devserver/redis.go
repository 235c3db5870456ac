package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nmalhotra/docwatch/pkg/models"
)

const (
	jobKeyPrefix = "docwatch:job:"
	jobIndexKey  = "docwatch:jobs"
)

// RedisStore implements Store on Redis, for running several dev server
// instances against shared state. Job records are stored as JSON; terminal
// jobs carry a TTL and fall out of the index lazily.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore from a Redis URL.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (s *RedisStore) Put(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	var ttl time.Duration
	if models.IsTerminal(job.Status) && s.ttl > 0 {
		ttl = s.ttl
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKeyPrefix+job.ID, data, ttl)
	pipe.SAdd(ctx, jobIndexKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

func (s *RedisStore) PutIfActive(ctx context.Context, job *Job) error {
	key := jobKeyPrefix + job.ID

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("get job: %w", err)
		}
		if err == nil {
			var current Job
			if err := json.Unmarshal(data, &current); err != nil {
				return fmt.Errorf("unmarshal job: %w", err)
			}
			if models.IsTerminal(current.Status) {
				return ErrSuperseded
			}
		}

		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		var ttl time.Duration
		if models.IsTerminal(job.Status) && s.ttl > 0 {
			ttl = s.ttl
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			pipe.SAdd(ctx, jobIndexKey, job.ID)
			return nil
		})
		return err
	}, key)

	// A failed transaction means another writer touched the record between
	// our read and the write; the only concurrent writer is a terminal
	// transition, so the caller's update is stale either way.
	if err == redis.TxFailedErr {
		return ErrSuperseded
	}
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	data, err := s.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) List(ctx context.Context) ([]*Job, error) {
	ids, err := s.client.SMembers(ctx, jobIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err == ErrNotFound {
			// Expired record; drop it from the index.
			s.client.SRem(ctx, jobIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].UploadTime.After(jobs[j].UploadTime)
	})
	return jobs, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, jobKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	s.client.SRem(ctx, jobIndexKey, id)
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ Store = (*RedisStore)(nil)
