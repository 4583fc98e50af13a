package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/models"
)

// RedisStore wraps a redis client used as a read-through cache of
// custom targeting key bindings.
type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string, ttl time.Duration) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		TTL:    ttl,
	}

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

func bindingKey(tenantID string, role models.LogicalRole) string {
	return fmt.Sprintf("binding:%s:%s", tenantID, role)
}

// GetCachedBinding returns a cached binding or models.ErrNotFound on a miss.
func (r *RedisStore) GetCachedBinding(ctx context.Context, tenantID string, role models.LogicalRole) (models.CustomTargetingKeyBinding, error) {
	data, err := r.Client.Get(ctx, bindingKey(tenantID, role)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.CustomTargetingKeyBinding{}, models.ErrNotFound
	}
	if err != nil {
		return models.CustomTargetingKeyBinding{}, err
	}
	var b models.CustomTargetingKeyBinding
	if err := json.Unmarshal(data, &b); err != nil {
		return models.CustomTargetingKeyBinding{}, fmt.Errorf("decode cached binding: %w", err)
	}
	if b.TenantID != tenantID {
		return models.CustomTargetingKeyBinding{}, models.ErrNotFound
	}
	return b, nil
}

// CacheBinding stores a binding. Bindings are never deleted automatically,
// so the TTL only bounds memory use.
func (r *RedisStore) CacheBinding(ctx context.Context, b models.CustomTargetingKeyBinding) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, bindingKey(b.TenantID, b.Role), data, r.TTL).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
