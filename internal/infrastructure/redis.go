package infrastructure

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper suppresses redelivered webhook events with SET NX + TTL.
// Providers retry deliveries they think failed; without dedup a retried
// delivery would double-append the guest's message.
//
// Graceful fallback: with no Redis configured every event is treated as
// unseen, so the gateway keeps working without the dedup guarantee.
type RedisDeduper struct {
	client *redis.Client
}

// NewRedisDeduper connects to Redis. Returns a deduper with a nil client
// (no-op mode) when the URL is empty or the connection fails.
func NewRedisDeduper(redisURL string) *RedisDeduper {
	if redisURL == "" {
		log.Println("[REDIS] not configured, webhook dedup disabled")
		return &RedisDeduper{}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("[REDIS] invalid url, webhook dedup disabled: %v", err)
		return &RedisDeduper{}
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[REDIS] connection failed, webhook dedup disabled: %v", err)
		return &RedisDeduper{}
	}

	log.Println("[REDIS] connected")
	return &RedisDeduper{client: client}
}

// Seen records key and reports whether it was already present. Redis errors
// count as unseen; processing a duplicate beats dropping a real message.
func (d *RedisDeduper) Seen(ctx context.Context, key string, ttl time.Duration) bool {
	if d == nil || d.client == nil {
		return false
	}
	set, err := d.client.SetNX(ctx, "webhook:"+key, 1, ttl).Result()
	if err != nil {
		log.Printf("[REDIS] dedup check failed for %s: %v", key, err)
		return false
	}
	return !set
}

// Close releases the connection.
func (d *RedisDeduper) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}
