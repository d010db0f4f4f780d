// Package storage persists session snapshots in Redis so that sessions
// survive a restart of the serving process.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/memvra/recall/internal/memory"
)

const (
	// DefaultTTL applies when no TTL is configured.
	DefaultTTL = 24 * time.Hour

	keyPrefix = "recall:"
)

// RedisSnapshots implements memory.SnapshotStore on Redis. Each snapshot is
// a JSON string under recall:session:<id> with a TTL; a per-user set of
// session ids makes erasure possible without scanning the keyspace.
type RedisSnapshots struct {
	client *redis.Client
	ttl    time.Duration
}

var _ memory.SnapshotStore = (*RedisSnapshots)(nil)

// NewRedisSnapshots connects to redisURL and checks the connection.
func NewRedisSnapshots(ctx context.Context, redisURL string, ttl time.Duration) (*RedisSnapshots, error) {
	if redisURL == "" {
		return nil, errors.New("storage: redis url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("storage: connect to redis: %w", err)
	}
	return NewRedisSnapshotsWithClient(client, ttl), nil
}

// NewRedisSnapshotsWithClient wraps an existing client.
func NewRedisSnapshotsWithClient(client *redis.Client, ttl time.Duration) *RedisSnapshots {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSnapshots{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string { return keyPrefix + "session:" + sessionID }

func userKey(userID string) string { return keyPrefix + "user:" + userID + ":sessions" }

// Save stores snap and refreshes its TTL.
func (r *RedisSnapshots) Save(ctx context.Context, snap memory.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("storage: marshal snapshot: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionKey(snap.SessionID), data, r.ttl)
		p.SAdd(ctx, userKey(snap.UserID), snap.SessionID)
		p.Expire(ctx, userKey(snap.UserID), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: save snapshot %s: %w", snap.SessionID, err)
	}
	return nil
}

// Load returns the snapshot of sessionID, if any.
func (r *RedisSnapshots) Load(ctx context.Context, sessionID string) (memory.Snapshot, bool, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return memory.Snapshot{}, false, nil
	}
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("storage: load snapshot %s: %w", sessionID, err)
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("storage: decode snapshot %s: %w", sessionID, err)
	}
	return snap, true, nil
}

// DeleteUser removes every snapshot of userID.
func (r *RedisSnapshots) DeleteUser(ctx context.Context, userID string) error {
	ids, err := r.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("storage: list sessions of %s: %w", userID, err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, userKey(userID))
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("storage: delete sessions of %s: %w", userID, err)
	}
	return nil
}

// Ping checks the connection.
func (r *RedisSnapshots) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *RedisSnapshots) Close() error {
	return r.client.Close()
}
