package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/equimed/catalog-importer/internal/domain"
)

const keyPrefix = "catalog:import:progress:"

// DefaultTTL is how long a job's snapshot is kept after its last update
const DefaultTTL = 72 * time.Hour

// RedisStore persists snapshots in Redis so progress survives process
// restarts and is visible to every API replica
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed progress store. A zero ttl selects
// DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Put writes the snapshot for a job, refreshing its expiry
func (r *RedisStore) Put(ctx context.Context, jobID string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+jobID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Get retrieves the snapshot for a job
func (r *RedisStore) Get(ctx context.Context, jobID string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, keyPrefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
