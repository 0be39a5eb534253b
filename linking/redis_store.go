package linking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/user"
)

const (
	redisLockTTL       = 10 * time.Second
	redisLockRetryWait = 5 * time.Millisecond
	redisLockMaxWait   = 100 * time.Millisecond
	redisMaxTxRetries  = 8
)

const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLockLua = redis.NewScript(releaseLockScript)

const renewLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

var renewLockLua = redis.NewScript(renewLockScript)

const removeMemberScript = `
redis.call("SREM", KEYS[1], ARGV[1])
if redis.call("GET", KEYS[2]) == ARGV[2] then
  redis.call("DEL", KEYS[2])
end
local n = redis.call("SCARD", KEYS[1])
if n == 0 then
  redis.call("DEL", KEYS[1])
end
return n
`

var removeMemberLua = redis.NewScript(removeMemberScript)

// RedisStore keeps linking state in Redis so several SDK processes can share
// one reference core.
//
// Layout, under the configured prefix:
//
//	lm:{rid}             login method JSON
//	idx:{kind}:{value}   set of rids per identity key
//	primary:{pid}        set of rids linked under pid
//	primaryof:{rid}      pid
//	atl:{rid}            pending account-to-link target
//	atlrev:{pid}         set of rids with a pending intent toward pid
//	pw:{rid}             password hash
//	totp:{uid}           hash of device name to device JSON
//	lock                 mutation lock token
type RedisStore struct {
	redis   redis.UniversalClient
	prefix  string
	lockTTL time.Duration
	log     *zap.Logger
}

func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ask"
	}
	return &RedisStore{redis: redisClient, prefix: prefix, lockTTL: redisLockTTL, log: logger.Named("linking.redis")}
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func backendErr(err error) error {
	return fmt.Errorf("%w: %v", core.ErrBackend, err)
}

func (s *RedisStore) Lock(ctx context.Context) (func(), error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return nil, err
	}
	token := hex.EncodeToString(raw[:])
	key := s.key("lock")

	wait := redisLockRetryWait
	for {
		ok, err := s.redis.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, backendErr(err)
		}
		if ok {
			return s.holdLock(ctx, key, token), nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait < redisLockMaxWait {
			wait *= 2
		}
	}
}

// holdLock extends the lock every third of its TTL until the returned
// release func runs, so slow mutations such as session revocation cannot
// outlive it.
func (s *RedisStore) holdLock(ctx context.Context, key, token string) func() {
	bg := context.WithoutCancel(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(s.lockTTL / 3)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				n, err := renewLockLua.Run(bg, s.redis, []string{key}, token, s.lockTTL.Milliseconds()).Int()
				if err != nil {
					s.log.Warn("linking lock renewal failed", zap.Error(err))
				} else if n == 0 {
					s.log.Warn("linking lock lost before release")
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			n, err := releaseLockLua.Run(bg, s.redis, []string{key}, token).Int()
			switch {
			case err != nil:
				s.log.Warn("linking lock release failed", zap.Error(err))
			case n == 0:
				s.log.Warn("linking lock expired before release")
			}
		})
	}
}

func (s *RedisStore) LoginMethod(ctx context.Context, id user.RecipeUserID) (*user.LoginMethod, error) {
	return s.getLoginMethod(ctx, s.redis, id)
}

func (s *RedisStore) getLoginMethod(ctx context.Context, c stringGetter, id user.RecipeUserID) (*user.LoginMethod, error) {
	data, err := c.Get(ctx, s.key("lm", string(id))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, backendErr(err)
	}
	var lm user.LoginMethod
	if err := json.Unmarshal(data, &lm); err != nil {
		return nil, fmt.Errorf("%w: corrupt login method %s: %v", core.ErrBackend, id, err)
	}
	return &lm, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) indexKey(k indexKey) string {
	return s.key("idx", k.kind, k.value)
}

// watchRetry runs fn under WATCH on keys, retrying when a concurrent writer
// touched them.
func (s *RedisStore) watchRetry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		err := s.redis.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return backendErr(redis.TxFailedErr)
}

func (s *RedisStore) PutLoginMethod(ctx context.Context, lm user.LoginMethod) error {
	data, err := json.Marshal(lm)
	if err != nil {
		return err
	}
	lmKey := s.key("lm", string(lm.RecipeUserID))
	return s.watchRetry(ctx, func(tx *redis.Tx) error {
		old, err := s.getLoginMethod(ctx, tx, lm.RecipeUserID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old != nil {
				for _, k := range indexKeys(*old) {
					pipe.SRem(ctx, s.indexKey(k), string(lm.RecipeUserID))
				}
			}
			pipe.Set(ctx, lmKey, data, 0)
			for _, k := range indexKeys(lm) {
				pipe.SAdd(ctx, s.indexKey(k), string(lm.RecipeUserID))
			}
			return nil
		})
		return err
	}, lmKey)
}

func (s *RedisStore) DeleteLoginMethod(ctx context.Context, id user.RecipeUserID) error {
	lmKey := s.key("lm", string(id))
	atlKey := s.key("atl", string(id))
	return s.watchRetry(ctx, func(tx *redis.Tx) error {
		old, err := s.getLoginMethod(ctx, tx, id)
		if err != nil {
			return err
		}
		target, err := tx.Get(ctx, atlKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return backendErr(err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old != nil {
				for _, k := range indexKeys(*old) {
					pipe.SRem(ctx, s.indexKey(k), string(id))
				}
			}
			if target != "" {
				pipe.SRem(ctx, s.key("atlrev", target), string(id))
			}
			pipe.Del(ctx, lmKey, atlKey, s.key("pw", string(id)))
			return nil
		})
		return err
	}, lmKey, atlKey)
}

func (s *RedisStore) members(ctx context.Context, key string) ([]user.RecipeUserID, error) {
	raw, err := s.redis.SMembers(ctx, key).Result()
	if err != nil {
		return nil, backendErr(err)
	}
	sort.Strings(raw)
	out := make([]user.RecipeUserID, 0, len(raw))
	for _, id := range raw {
		out = append(out, user.RecipeUserID(id))
	}
	return out, nil
}

func (s *RedisStore) FindByEmail(ctx context.Context, email string) ([]user.RecipeUserID, error) {
	return s.members(ctx, s.indexKey(indexKey{indexEmail, user.NormalizeEmail(email)}))
}

func (s *RedisStore) FindByPhoneNumber(ctx context.Context, phone string) ([]user.RecipeUserID, error) {
	return s.members(ctx, s.indexKey(indexKey{indexPhone, user.NormalizePhoneNumber(phone)}))
}

func (s *RedisStore) FindByThirdParty(ctx context.Context, tp user.ThirdPartyInfo) ([]user.RecipeUserID, error) {
	return s.members(ctx, s.indexKey(indexKey{indexThirdParty, thirdPartyIndexValue(tp)}))
}

func (s *RedisStore) FindByWebauthnCredential(ctx context.Context, credentialID string) ([]user.RecipeUserID, error) {
	return s.members(ctx, s.indexKey(indexKey{indexWebauthn, credentialID}))
}

func (s *RedisStore) getString(ctx context.Context, key string) (string, error) {
	v, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", backendErr(err)
	}
	return v, nil
}

func (s *RedisStore) PrimaryOf(ctx context.Context, id user.RecipeUserID) (string, error) {
	return s.getString(ctx, s.key("primaryof", string(id)))
}

func (s *RedisStore) Members(ctx context.Context, primaryUserID string) ([]user.RecipeUserID, error) {
	return s.members(ctx, s.key("primary", primaryUserID))
}

func (s *RedisStore) AddMember(ctx context.Context, primaryUserID string, id user.RecipeUserID) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.key("primary", primaryUserID), string(id))
		pipe.Set(ctx, s.key("primaryof", string(id)), primaryUserID, 0)
		return nil
	})
	if err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *RedisStore) RemoveMember(ctx context.Context, primaryUserID string, id user.RecipeUserID) (int, error) {
	n, err := removeMemberLua.Run(ctx, s.redis,
		[]string{s.key("primary", primaryUserID), s.key("primaryof", string(id))},
		string(id), primaryUserID,
	).Int()
	if err != nil {
		return 0, backendErr(err)
	}
	return n, nil
}

func (s *RedisStore) RenamePrimary(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}
	members, err := s.Members(ctx, from)
	if err != nil {
		return err
	}
	pending, err := s.redis.SMembers(ctx, s.key("atlrev", from)).Result()
	if err != nil {
		return backendErr(err)
	}
	devices, err := s.redis.HGetAll(ctx, s.key("totp", from)).Result()
	if err != nil {
		return backendErr(err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range members {
			pipe.SAdd(ctx, s.key("primary", to), string(m))
			pipe.Set(ctx, s.key("primaryof", string(m)), to, 0)
		}
		pipe.Del(ctx, s.key("primary", from))
		for _, rid := range pending {
			pipe.Set(ctx, s.key("atl", rid), to, 0)
			pipe.SAdd(ctx, s.key("atlrev", to), rid)
		}
		pipe.Del(ctx, s.key("atlrev", from))
		for name, data := range devices {
			pipe.HSet(ctx, s.key("totp", to), name, data)
		}
		pipe.Del(ctx, s.key("totp", from))
		return nil
	})
	if err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *RedisStore) SetAccountToLink(ctx context.Context, id user.RecipeUserID, primaryUserID string) error {
	old, err := s.AccountToLink(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if old != "" && old != primaryUserID {
			pipe.SRem(ctx, s.key("atlrev", old), string(id))
		}
		pipe.Set(ctx, s.key("atl", string(id)), primaryUserID, 0)
		pipe.SAdd(ctx, s.key("atlrev", primaryUserID), string(id))
		return nil
	})
	if err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *RedisStore) AccountToLink(ctx context.Context, id user.RecipeUserID) (string, error) {
	return s.getString(ctx, s.key("atl", string(id)))
}

func (s *RedisStore) ClearAccountToLink(ctx context.Context, id user.RecipeUserID) error {
	old, err := s.AccountToLink(ctx, id)
	if err != nil || old == "" {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key("atl", string(id)))
		pipe.SRem(ctx, s.key("atlrev", old), string(id))
		return nil
	})
	if err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *RedisStore) ClearAccountToLinkTarget(ctx context.Context, primaryUserID string) error {
	revKey := s.key("atlrev", primaryUserID)
	pending, err := s.redis.SMembers(ctx, revKey).Result()
	if err != nil {
		return backendErr(err)
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rid := range pending {
			pipe.Del(ctx, s.key("atl", rid))
		}
		pipe.Del(ctx, revKey)
		return nil
	})
	if err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *RedisStore) PasswordHash(ctx context.Context, id user.RecipeUserID) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.key("pw", string(id))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, backendErr(err)
	}
	return data, nil
}

func (s *RedisStore) SetPasswordHash(ctx context.Context, id user.RecipeUserID, hash []byte) error {
	if err := s.redis.Set(ctx, s.key("pw", string(id)), hash, 0).Err(); err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *RedisStore) TOTPDevices(ctx context.Context, userID string) ([]TOTPDeviceRecord, error) {
	raw, err := s.redis.HGetAll(ctx, s.key("totp", userID)).Result()
	if err != nil {
		return nil, backendErr(err)
	}
	out := make([]TOTPDeviceRecord, 0, len(raw))
	for name, data := range raw {
		var d TOTPDeviceRecord
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return nil, fmt.Errorf("%w: corrupt totp device %s: %v", core.ErrBackend, name, err)
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *RedisStore) PutTOTPDevice(ctx context.Context, userID string, device TOTPDeviceRecord) error {
	data, err := json.Marshal(device)
	if err != nil {
		return err
	}
	if err := s.redis.HSet(ctx, s.key("totp", userID), device.Name, data).Err(); err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *RedisStore) DeleteTOTPDevice(ctx context.Context, userID, name string) (bool, error) {
	n, err := s.redis.HDel(ctx, s.key("totp", userID), name).Result()
	if err != nil {
		return false, backendErr(err)
	}
	return n > 0, nil
}
