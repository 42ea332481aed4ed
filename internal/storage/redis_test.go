package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/vidcompress/internal/job"
	"github.com/maauso/vidcompress/internal/job/id"
)

// newTestRedis connects to REDIS_ADDR or skips.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping redis integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	return rdb
}

func TestRedisJournal_MarkListClear(t *testing.T) {
	rdb := newTestRedis(t)
	prefix := "vidcompress-test-" + id.Generate()
	j := NewRedisJournal(rdb, prefix, time.Minute)
	ctx := context.Background()
	t.Cleanup(func() {
		keys, _ := rdb.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			_ = rdb.Del(ctx, keys...).Err()
		}
	})

	require.NoError(t, j.Ping(ctx))
	require.NoError(t, j.Mark(ctx, job.Marker{JobID: "job-a", UserID: 1, State: job.StateProbing}))
	require.NoError(t, j.Mark(ctx, job.Marker{JobID: "job-b", UserID: 2, State: job.StateQueued}))

	markers, err := j.List(ctx)
	require.NoError(t, err)
	assert.Len(t, markers, 2)

	ttl, err := rdb.TTL(ctx, prefix+":job:job-a").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, j.Clear(ctx, "job-a"))
	markers, err = j.List(ctx)
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, "job-b", markers[0].JobID)
}

func TestRedisJournal_PrunesExpiredIndexEntries(t *testing.T) {
	rdb := newTestRedis(t)
	prefix := "vidcompress-test-" + id.Generate()
	j := NewRedisJournal(rdb, prefix, time.Minute)
	ctx := context.Background()
	t.Cleanup(func() { _ = rdb.Del(ctx, prefix+":jobs").Err() })

	require.NoError(t, rdb.SAdd(ctx, prefix+":jobs", "job-gone").Err())

	markers, err := j.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, markers)

	members, err := rdb.SMembers(ctx, prefix+":jobs").Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestNewRedisJournal_Defaults(t *testing.T) {
	j := NewRedisJournal(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "", 0)
	assert.Equal(t, "vidcompress", j.prefix)
	assert.Equal(t, DefaultMarkerTTL, j.ttl)
	assert.Equal(t, "vidcompress:job:job-1", j.keyMarker("job-1"))
	assert.Equal(t, "vidcompress:jobs", j.keyIndex())
}
