package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maauso/vidcompress/internal/job"
)

var _ MarkerStore = (*RedisJournal)(nil)

// DefaultMarkerTTL expires markers that were never cleared, long after any
// job could still be running.
const DefaultMarkerTTL = 24 * time.Hour

// RedisJournal stores markers as JSON strings with a TTL, plus a set
// indexing the job IDs, so several bot instances can share one journal.
type RedisJournal struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisJournal creates a RedisJournal. prefix namespaces the keys.
func NewRedisJournal(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisJournal {
	if prefix == "" {
		prefix = "vidcompress"
	}
	if ttl <= 0 {
		ttl = DefaultMarkerTTL
	}
	return &RedisJournal{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (j *RedisJournal) keyMarker(jobID string) string {
	return fmt.Sprintf("%s:job:%s", j.prefix, jobID)
}

func (j *RedisJournal) keyIndex() string {
	return j.prefix + ":jobs"
}

// Mark implements job.Journal.
func (j *RedisJournal) Mark(ctx context.Context, m job.Marker) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	_, err = j.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, j.keyMarker(m.JobID), string(b), j.ttl)
		p.SAdd(ctx, j.keyIndex(), m.JobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis mark: %w", err)
	}
	return nil
}

// Clear implements job.Journal.
func (j *RedisJournal) Clear(ctx context.Context, jobID string) error {
	_, err := j.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, j.keyMarker(jobID))
		p.SRem(ctx, j.keyIndex(), jobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}

// List returns all markers still present. Index entries whose marker has
// expired are pruned.
func (j *RedisJournal) List(ctx context.Context) ([]job.Marker, error) {
	ids, err := j.rdb.SMembers(ctx, j.keyIndex()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	var markers []job.Marker
	for _, id := range ids {
		raw, err := j.rdb.Get(ctx, j.keyMarker(id)).Result()
		if errors.Is(err, redis.Nil) {
			_ = j.rdb.SRem(ctx, j.keyIndex(), id).Err()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get marker: %w", err)
		}
		var m job.Marker
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		markers = append(markers, m)
	}
	return markers, nil
}

// Ping checks connectivity, for startup validation.
func (j *RedisJournal) Ping(ctx context.Context) error {
	return j.rdb.Ping(ctx).Err()
}
