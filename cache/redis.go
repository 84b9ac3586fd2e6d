package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/health"
)

// redisStoreIsPinger documents, rather than merely relies on Go's
// structural typing for, the contract RedisStore.Name/Ping satisfy:
// health.Pinger, the same interface the teacher's Mongo client types
// embed in features/memory/mongo/clients/mongo/client.go's Client
// interface.
var _ health.Pinger = (*RedisStore)(nil)

// RedisStore persists cache entries in Redis, keyed identically to
// DiskStore's directory partitioning (namespace + fingerprint), for
// deployments that share one cache across multiple scheduler processes.
// Grounded in the teacher's registry/result_stream.go, which stores
// tool_use_id mappings in Redis for exactly the same reason: so a value
// written by one node is visible to another.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-connected *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(namespace, fingerprint string) string {
	return fmt.Sprintf("cache:%s:%s", namespace, fingerprint)
}

// Name satisfies health.Pinger so a RedisStore can be registered directly
// with the liveness checker alongside the Mongo store.
func (r *RedisStore) Name() string { return "cache-redis" }

// Ping satisfies health.Pinger.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Load(namespace, fingerprint string) (Entry, bool, error) {
	raw, err := r.client.Get(context.Background(), redisKey(namespace, fingerprint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: redis get %s/%s: %w", namespace, fingerprint, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis decode %s/%s: %w", namespace, fingerprint, err)
	}
	return e, true, nil
}

func (r *RedisStore) Save(namespace, fingerprint string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: redis encode %s/%s: %w", namespace, fingerprint, err)
	}
	// Successful results must survive a restart with no implied expiry
	// (spec §4.2); 0 means no TTL.
	if err := r.client.Set(context.Background(), redisKey(namespace, fingerprint), raw, 0).Err(); err != nil {
		return fmt.Errorf("cache: redis set %s/%s: %w", namespace, fingerprint, err)
	}
	return nil
}
