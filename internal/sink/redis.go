package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"uavsim/internal/telemetry"
)

// latestTTL bounds how long a stale stream entry survives in the cache.
const latestTTL = 5 * time.Minute

// RedisSink caches the latest sample of every (uav, subsystem) stream under
// a well-known key so external consumers can read current state without
// subscribing to the stream.
type RedisSink struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(addr string) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     50,
		MinIdleConns: 10,
		MaxRetries:   3,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisSink{client: rdb, ctx: ctx}, nil
}

// Write stores the sample as the stream's latest state.
func (s *RedisSink) Write(sample telemetry.Data) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return s.client.Set(s.ctx, "latest:"+sample.Key(), data, latestTTL).Err()
}

// Latest fetches the cached state of one stream. A nil result means the
// stream has no cached entry.
func (s *RedisSink) Latest(uavID, subsystem string) (*telemetry.Data, error) {
	val, err := s.client.Get(s.ctx, "latest:"+uavID+"/"+subsystem).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sample telemetry.Data
	if err := json.Unmarshal([]byte(val), &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}

// Close releases the connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
