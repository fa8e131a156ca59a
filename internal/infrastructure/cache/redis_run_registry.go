package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/loanpurchase/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

// DefaultRegistryKeyPrefix namespaces the per-tenant run keys
const DefaultRegistryKeyPrefix = "lpp:run:"

// releaseScript deletes the key only if it still holds the caller's run id.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunRegistry implements pipeline.RunRegistry with one Redis key per
// tenant. Acquire is a single SETNX with TTL, so it is atomic across
// processes and a crashed run's entry expires with the stale threshold.
type RedisRunRegistry struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisRunRegistry connects to Redis and verifies the connection
func NewRedisRunRegistry(cfg config.RedisConfig, ttl time.Duration) (*RedisRunRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisRunRegistryWithClient(client, cfg.KeyPrefix, ttl), nil
}

// NewRedisRunRegistryWithClient creates a registry over an existing client
func NewRedisRunRegistryWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisRunRegistry {
	if keyPrefix == "" {
		keyPrefix = DefaultRegistryKeyPrefix
	}
	return &RedisRunRegistry{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (r *RedisRunRegistry) key(tenantID string) string {
	return r.keyPrefix + tenantID
}

// Acquire registers runID as the tenant's in-flight run
func (r *RedisRunRegistry) Acquire(ctx context.Context, tenantID string, runID uuid.UUID) error {
	ok, err := r.client.SetNX(ctx, r.key(tenantID), runID.String(), r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire run registry entry: %w", err)
	}
	if !ok {
		return shared.ErrRunInProgress
	}
	return nil
}

// Release removes the tenant's entry if it still belongs to runID
func (r *RedisRunRegistry) Release(ctx context.Context, tenantID string, runID uuid.UUID) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(tenantID)}, runID.String()).Err(); err != nil {
		return fmt.Errorf("failed to release run registry entry: %w", err)
	}
	return nil
}

// Current returns the tenant's in-flight run, if any
func (r *RedisRunRegistry) Current(ctx context.Context, tenantID string) (uuid.UUID, bool, error) {
	raw, err := r.client.Get(ctx, r.key(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to read run registry entry: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt run registry entry %q: %w", raw, err)
	}
	return id, true, nil
}

// Close closes the Redis client
func (r *RedisRunRegistry) Close() error {
	return r.client.Close()
}

var _ pipeline.RunRegistry = (*RedisRunRegistry)(nil)
