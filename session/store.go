package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when a Redis command fails for reasons
// other than a missing key.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionNotFound is returned when the handle does not name a live session.
var ErrSessionNotFound = errors.New("session not found")

const maxPayloadUpdateRetries = 8

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
redis.call("SREM", KEYS[3], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store is a Redis-backed session store. Each session is indexed both by its
// primary user id and by the recipe user id that created it, so linking can
// revoke the sessions of a single login method.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{
		redis:  redis,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *Store) key(handle string) string {
	return s.prefix + ":s:" + handle
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func (s *Store) recipeUserKey(recipeUserID string) string {
	return s.prefix + ":r:" + recipeUserID
}

// Save persists a [Session] with the given TTL and indexes its handle.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.Handle), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.Handle)
		pipe.SAdd(ctx, s.recipeUserKey(sess.RecipeUserID), sess.Handle)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get retrieves a session by handle. Expired sessions are removed and
// reported as [ErrSessionNotFound].
func (s *Store) Get(ctx context.Context, handle string) (*Session, error) {
	sess, err := s.read(ctx, s.redis, handle)
	if err != nil {
		return nil, err
	}

	if sess.Expired(s.now()) {
		if err := s.deleteSessionAndIndex(ctx, sess); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}

	if sess.SchemaVersion != CurrentSchemaVersion {
		if err := s.migrate(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) read(ctx context.Context, r stringGetter, handle string) (*Session, error) {
	data, err := r.Get(ctx, s.key(handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.Handle = handle
	return sess, nil
}

// UpdatePayload replaces the claims payload of a live session, keeping its TTL.
// The read-modify-write runs under WATCH and is retried on contention.
func (s *Store) UpdatePayload(ctx context.Context, handle string, update func(map[string]any) map[string]any) (*Session, error) {
	key := s.key(handle)
	var updated *Session

	txf := func(tx *redis.Tx) error {
		sess, err := s.read(ctx, tx, handle)
		if err != nil {
			return err
		}
		if sess.Expired(s.now()) {
			return ErrSessionNotFound
		}
		sess.Payload = update(sess.ClonePayload())
		sess.SchemaVersion = CurrentSchemaVersion

		data, err := Encode(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		updated = sess
		return nil
	}

	for i := 0; i < maxPayloadUpdateRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		if errors.Is(err, ErrRedisUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil, fmt.Errorf("%w: payload update contention", ErrRedisUnavailable)
}

// Delete removes a session and its index entries. Deleting a missing session
// is not an error; the returned bool reports whether it existed.
func (s *Store) Delete(ctx context.Context, handle string) (bool, error) {
	sess, err := s.read(ctx, s.redis, handle)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.deleteSessionAndIndex(ctx, sess); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteAllForRecipeUser removes every session created by the given login
// method and returns the revoked handles.
//
// The handle set is read before deleting, so a session created concurrently
// with this call survives it.
func (s *Store) DeleteAllForRecipeUser(ctx context.Context, recipeUserID string) ([]string, error) {
	return s.deleteIndexed(ctx, s.recipeUserKey(recipeUserID))
}

// DeleteAllForUser removes every session whose primary user id is userID.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) ([]string, error) {
	return s.deleteIndexed(ctx, s.userKey(userID))
}

// RevokeAllForRecipeUser deletes the sessions of a recipe user. It lets the
// store back the revocation hook of the account linking engine.
func (s *Store) RevokeAllForRecipeUser(ctx context.Context, recipeUserID string) error {
	_, err := s.DeleteAllForRecipeUser(ctx, recipeUserID)
	return err
}

func (s *Store) deleteIndexed(ctx context.Context, indexKey string) ([]string, error) {
	handles, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := make([]string, 0, len(handles))
	if len(handles) > 0 {
		pipe := s.redis.Pipeline()
		cmds := make([]*redis.StringCmd, len(handles))
		for i, handle := range handles {
			cmds[i] = pipe.Get(ctx, s.key(handle))
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for i, cmd := range cmds {
			data, cmdErr := cmd.Bytes()
			if cmdErr != nil {
				if errors.Is(cmdErr, redis.Nil) {
					continue
				}
				return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
			}
			sess, decErr := Decode(data)
			if decErr != nil {
				// Unreadable blobs are dropped with the index.
				if err := s.redis.Del(ctx, s.key(handles[i])).Err(); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
				continue
			}
			sess.Handle = handles[i]
			if err := s.deleteSessionAndIndex(ctx, sess); err != nil {
				return nil, err
			}
			revoked = append(revoked, sess.Handle)
		}
	}

	if err := s.redis.Del(ctx, indexKey).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return revoked, nil
}

// ReassignUser moves every live session of fromUserID to toUserID, keeping
// each session's TTL, and returns the moved handles. It backs primary user
// re-keying after the primary login method is unlinked.
func (s *Store) ReassignUser(ctx context.Context, fromUserID, toUserID string) ([]string, error) {
	if fromUserID == toUserID {
		return []string{}, nil
	}
	handles, err := s.Handles(ctx, fromUserID)
	if err != nil {
		return nil, err
	}
	moved := make([]string, 0, len(handles))
	for _, handle := range handles {
		sess, err := s.read(ctx, s.redis, handle)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sess.UserID = toUserID
		sess.SchemaVersion = CurrentSchemaVersion
		data, err := Encode(sess)
		if err != nil {
			return nil, err
		}
		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, s.key(handle), data, redis.SetArgs{KeepTTL: true, Mode: "XX"})
			pipe.SAdd(ctx, s.userKey(toUserID), handle)
			return nil
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		moved = append(moved, handle)
	}
	if err := s.redis.Del(ctx, s.userKey(fromUserID)).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return moved, nil
}

// Handles returns the tracked session handles of a user.
func (s *Store) Handles(ctx context.Context, userID string) ([]string, error) {
	handles, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return handles, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) migrate(ctx context.Context, sess *Session) error {
	key := s.key(sess.Handle)
	pttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if pttl <= 0 {
		return nil
	}

	sess.SchemaVersion = CurrentSchemaVersion
	encoded, err := Encode(sess)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, encoded, pttl)
		pipe.SAdd(ctx, s.recipeUserKey(sess.RecipeUserID), sess.Handle)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, sess *Session) error {
	keys := []string{s.key(sess.Handle), s.userKey(sess.UserID), s.recipeUserKey(sess.RecipeUserID)}
	if err := deleteSessionLua.Run(ctx, s.redis, keys, sess.Handle).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
