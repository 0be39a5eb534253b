// Package usermetadata stores a free-form JSON object per user. Updates are
// shallow merges: top-level keys are replaced, and a nil value removes a key.
package usermetadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrBackend wraps storage failures.
var ErrBackend = errors.New("user metadata backend failure")

const maxUpdateRetries = 8

// Store persists user metadata.
type Store interface {
	Get(ctx context.Context, userID string) (map[string]any, error)
	Update(ctx context.Context, userID string, patch map[string]any) (map[string]any, error)
	Clear(ctx context.Context, userID string) error
}

func merge(current, patch map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Memory is a process-local Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, userID string) (map[string]any, error) {
	m.mu.RLock()
	raw := m.data[userID]
	m.mu.RUnlock()
	return decode(raw)
}

func (m *Memory) Update(_ context.Context, userID string, patch map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := decode(m.data[userID])
	if err != nil {
		return nil, err
	}
	next := merge(current, patch)
	raw, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	m.data[userID] = raw
	// Round-trip so callers see the same shapes as a Redis-backed store.
	return decode(raw)
}

func (m *Memory) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.data, userID)
	m.mu.Unlock()
	return nil
}

func decode(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: corrupt metadata: %v", ErrBackend, err)
	}
	return out, nil
}

// Redis stores each user's metadata as one JSON string.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "aum"
	}
	return &Redis{redis: client, prefix: prefix}
}

func (r *Redis) key(userID string) string {
	return r.prefix + ":" + userID
}

func (r *Redis) Get(ctx context.Context, userID string) (map[string]any, error) {
	raw, err := r.redis.Get(ctx, r.key(userID)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return decode(raw)
}

func (r *Redis) Update(ctx context.Context, userID string, patch map[string]any) (map[string]any, error) {
	key := r.key(userID)
	var result map[string]any

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		current, err := decode(raw)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(merge(current, patch))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result, err = decode(encoded)
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.redis.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrBackend) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil, fmt.Errorf("%w: update contention for %s", ErrBackend, userID)
}

func (r *Redis) Clear(ctx context.Context, userID string) error {
	if err := r.redis.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}
