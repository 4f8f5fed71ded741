package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter shared across server replicas.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// RedisConfig configures the shared limiter: Limit requests per Window
// counted against a single redis key per client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	Limit  int
	Window time.Duration
	Prefix string
}

// DefaultRedisConfig allows 120 requests per minute per client.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Limit:  120,
		Window: time.Minute,
		Prefix: "armature:ratelimit:",
	}
}

// allowScript counts the request and reads the window's remaining
// lifetime in one atomic round trip.
var allowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {current, ttl}
`)

// NewRedis connects to redis and returns a limiter backed by it.
func NewRedis(config RedisConfig) (*Redis, error) {
	if config.Limit <= 0 {
		config.Limit = DefaultRedisConfig().Limit
	}
	if config.Window <= 0 {
		config.Window = DefaultRedisConfig().Window
	}
	if config.Prefix == "" {
		config.Prefix = DefaultRedisConfig().Prefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return NewRedisWithClient(client, config), nil
}

// NewRedisWithClient wraps an existing redis client.
func NewRedisWithClient(client *redis.Client, config RedisConfig) *Redis {
	return &Redis{
		client: client,
		limit:  config.Limit,
		window: config.Window,
		prefix: config.Prefix,
	}
}

// Allow counts the request against the key's current window.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	result, err := allowScript.Run(ctx, r.client, []string{r.prefix + key}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}
	if len(result) != 2 {
		return Decision{}, fmt.Errorf("rate limit check: unexpected script reply")
	}

	current, ttl := result[0], result[1]
	if current > int64(r.limit) {
		retry := r.window
		if ttl > 0 {
			retry = time.Duration(ttl) * time.Millisecond
		}
		return Decision{Limit: r.limit, RetryAfter: retry}, nil
	}

	return Decision{
		Allowed:   true,
		Limit:     r.limit,
		Remaining: r.limit - int(current),
	}, nil
}

// Reset clears the window for a key.
func (r *Redis) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Close releases the redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
