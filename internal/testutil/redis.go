package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisDBLockPrefix = "fleetpush:testutil:db_lock:"

// redisCandidates returns the addresses tried for the integration Redis, most specific first.
func redisCandidates() []string {
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		return []string{addr}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return []string{addr}
	}
	return []string{"localhost:56379", "redis:6379", "localhost:6379"}
}

func pingRedis(addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// SetupTestRedis returns a client on an emptied Redis database reserved for the calling
// test, or skips when no Redis answers. TEST_REDIS_DB pins the database index.
func SetupTestRedis(t testing.TB) *redis.Client {
	t.Helper()
	var lastErr error
	for _, addr := range redisCandidates() {
		meta, err := pingRedis(addr, 0)
		if err != nil {
			lastErr = err
			continue
		}
		index := reserveRedisDB(t, meta)
		closeQuietly(t, "redis meta client", meta)

		client, err := pingRedis(addr, index)
		if err != nil {
			lastErr = err
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		client.FlushDB(ctx)
		cancel()
		t.Cleanup(func() { closeQuietly(t, "redis client", client) })
		return client
	}
	if requireRedis() {
		t.Fatalf("redis not available for testing: %v", lastErr)
	}
	t.Skipf("redis not available for testing: %v", lastErr)
	return nil
}

// reserveRedisDB claims one of databases 1..15 with a lock key in database 0 so packages
// testing in parallel never flush each other's data.
func reserveRedisDB(t testing.TB, meta *redis.Client) int {
	t.Helper()
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
		t.Logf("ignoring invalid TEST_REDIS_DB=%q", v)
	}
	owner := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())
	for i := 1; i <= 15; i++ {
		key := redisDBLockPrefix + strconv.Itoa(i)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := meta.SetNX(ctx, key, owner, 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}
		addr := meta.Options().Addr
		t.Cleanup(func() {
			c := redis.NewClient(&redis.Options{Addr: addr})
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if delErr := c.Del(ctx, key).Err(); delErr != nil {
				t.Logf("release redis db lock %s: %v", key, delErr)
			}
			closeQuietly(t, "redis lock client", c)
		})
		return i
	}
	t.Logf("all redis test databases reserved; sharing db 1")
	return 1
}
