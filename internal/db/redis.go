package db

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"appforge/internal/logging"
)

// ConnectRedis opens a Redis client from a redis:// URL. A nil client is
// returned (without error) when the URL is empty or the server is
// unreachable; callers treat nil as "cache disabled" and degrade to their
// in-memory paths.
func ConnectRedis(redisURL string) *redis.Client {
	if redisURL == "" {
		logging.L().Info("redis not configured, caching runs in-memory")
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logging.L().Warn("invalid REDIS_URL, caching runs in-memory", zap.Error(err))
		return nil
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.L().Warn("redis unreachable, caching runs in-memory", zap.Error(err))
		client.Close()
		return nil
	}

	logging.L().Info("connected to redis", zap.String("addr", opts.Addr))
	return client
}
