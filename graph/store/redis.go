package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of Store.
//
// Keys (with the default prefix):
//   - loopgraph:steps:<session>: HASH of step number to StepRecord JSON
//   - loopgraph:checkpoint:<id>: checkpoint JSON, written once with SETNX
//   - loopgraph:session:<session>:checkpoints: ZSET of checkpoint IDs scored by step
//   - loopgraph:claim:<id>: consumption claim, taken with SETNX
//
// With a TTL every key except the claims expires, so abandoned sessions
// clean themselves up. Claims never expire: a consumed checkpoint stays
// consumed even after its own key is gone.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the expiration of the step, checkpoint and index keys.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to the Redis server at address.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(rdb, opts...)
}

// NewRedisStoreFromClient creates a store on an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "loopgraph:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) stepsKey(sessionID string) string {
	return s.prefix + "steps:" + sessionID
}

func (s *RedisStore) checkpointKey(id string) string {
	return s.prefix + "checkpoint:" + id
}

func (s *RedisStore) indexKey(sessionID string) string {
	return s.prefix + "session:" + sessionID + ":checkpoints"
}

func (s *RedisStore) claimKey(id string) string {
	return s.prefix + "claim:" + id
}

// SaveStep persists a superstep snapshot (implements Store interface).
func (s *RedisStore) SaveStep(ctx context.Context, sessionID string, step int, nodeID string, snapshot []byte) error {
	data, err := json.Marshal(StepRecord{Step: step, NodeID: nodeID, Snapshot: snapshot})
	if err != nil {
		return fmt.Errorf("failed to marshal step: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.stepsKey(sessionID), strconv.Itoa(step), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.stepsKey(sessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save step to redis: %w", err)
	}
	return nil
}

// LoadLatest retrieves the most recent step for a session (implements Store interface).
func (s *RedisStore) LoadLatest(ctx context.Context, sessionID string) ([]byte, int, error) {
	fields, err := s.client.HGetAll(ctx, s.stepsKey(sessionID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load steps from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, 0, ErrNotFound
	}

	var latest *StepRecord
	for _, raw := range fields {
		var rec StepRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal step: %w", err)
		}
		if latest == nil || rec.Step > latest.Step {
			latest = &rec
		}
	}
	return latest.Snapshot, latest.Step, nil
}

// SaveCheckpoint persists a checkpoint (implements Store interface).
// SETNX keeps an existing checkpoint untouched.
func (s *RedisStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.checkpointKey(cp.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	if !created {
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.indexKey(cp.SessionID), backend.Z{
		Score:  float64(cp.Step),
		Member: cp.ID,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.indexKey(cp.SessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves a checkpoint (implements Store interface).
func (s *RedisStore) LoadCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	val, err := s.client.Get(ctx, s.checkpointKey(id)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return Checkpoint{}, ErrNotFound
		}
		return Checkpoint{}, fmt.Errorf("failed to get checkpoint from redis: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns a session's checkpoints (implements Store interface).
// Index entries whose checkpoint has expired are skipped.
func (s *RedisStore) ListCheckpoints(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	out := make([]Checkpoint, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.checkpointKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints: %w", err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	sortCheckpoints(out)
	return out, nil
}

// Consume claims a checkpoint (implements Store interface).
func (s *RedisStore) Consume(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.claimKey(id), time.Now().UTC().Format(time.RFC3339Nano), 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim checkpoint: %w", err)
	}
	return ok, nil
}

// Release drops a claim (implements Store interface).
func (s *RedisStore) Release(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.claimKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to release checkpoint: %w", err)
	}
	return nil
}

// Ping verifies the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
