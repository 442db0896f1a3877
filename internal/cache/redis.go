package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "orderdesk:"
	redisDialTimeout = 5 * time.Second
)

// RedisProvider shares webhook claims and the promotions snapshot across
// replicas.
type RedisProvider struct {
	client *redis.Client
}

func NewRedisProvider(connectionString string) (*RedisProvider, error) {
	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis connection string: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = "orderdesk"
	}

	client := redis.NewClient(opts)
	client.AddHook(spanHook{})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisProvider{client: client}, nil
}

func (r *RedisProvider) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, redisCacheKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisProvider) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, redisCacheKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisProvider) SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	stored, err := r.client.SetNX(ctx, redisCacheKey(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return stored, nil
}

func (r *RedisProvider) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisCacheKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *RedisProvider) Close() error {
	return r.client.Close()
}

func redisCacheKey(key string) string {
	return redisKeyPrefix + key
}

// spanHook records a cache span per command when the caller is traced, the
// same way the pgx tracer does for queries.
type spanHook struct{}

func (spanHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (spanHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if sentry.SpanFromContext(ctx) == nil {
			return next(ctx, cmd)
		}
		span := sentry.StartSpan(
			ctx,
			"cache."+strings.ToLower(cmd.Name()),
			sentry.WithDescription(strings.ToUpper(cmd.Name())),
			sentry.WithSpanOrigin(sentry.SpanOriginManual),
		)
		defer span.Finish()
		span.SetData("db.system", "redis")

		err := next(span.Context(), cmd)
		switch {
		case err == nil:
			span.Status = sentry.SpanStatusOK
			span.SetData("cache.hit", true)
		case errors.Is(err, redis.Nil):
			span.Status = sentry.SpanStatusOK
			span.SetData("cache.hit", false)
		default:
			span.Status = sentry.SpanStatusInternalError
		}
		return err
	}
}

func (spanHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}
