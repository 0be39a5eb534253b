package linking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/user"
)

type revocationLog struct {
	mu    sync.Mutex
	calls []user.RecipeUserID
}

func (r *revocationLog) RevokeAllForRecipeUser(_ context.Context, id user.RecipeUserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	return nil
}

func (r *revocationLog) count(id user.RecipeUserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == id {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEngine struct {
	*Engine
	store   Store
	revoked *revocationLog
	clock   *testClock
}

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "test")
}

var storeFactories = map[string]func(t *testing.T) Store{
	"memory": func(*testing.T) Store { return NewMemoryStore() },
	"redis":  func(t *testing.T) Store { return newTestRedisStore(t) },
}

// forEachStore runs fn once per Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, e *testEngine)) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			fn(t, newTestEngine(t, factory(t)))
		})
	}
}

func newTestEngine(t *testing.T, store Store) *testEngine {
	t.Helper()
	var seq atomic.Int64
	revoked := &revocationLog{}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	e := NewEngine(store,
		WithSessionRevoker(revoked),
		WithClock(clock.Now),
		WithIDGenerator(func() string { return fmt.Sprintf("r%d", seq.Add(1)) }),
		WithBcryptCost(bcrypt.MinCost),
	)
	return &testEngine{Engine: e, store: store, revoked: revoked, clock: clock}
}

func (e *testEngine) signUpEP(t *testing.T, tenantID, email string) user.RecipeUserID {
	t.Helper()
	res, err := e.EmailPasswordSignUp(context.Background(), tenantID, email, "password-1")
	require.NoError(t, err)
	require.Equal(t, core.StatusOK, res.Status)
	return res.RecipeUserID
}

func (e *testEngine) signUpTP(t *testing.T, tenantID, provider, providerUserID, email string, verified bool) user.RecipeUserID {
	t.Helper()
	res, err := e.ThirdPartySignInUp(context.Background(), tenantID, provider, providerUserID, email, verified)
	require.NoError(t, err)
	require.Equal(t, core.StatusOK, res.Status)
	return res.RecipeUserID
}

func (e *testEngine) putPasswordless(t *testing.T, id user.RecipeUserID, tenantID, email, phone string) {
	t.Helper()
	require.NoError(t, e.store.PutLoginMethod(context.Background(), user.LoginMethod{
		RecipeID:     user.RecipePasswordless,
		RecipeUserID: id,
		TenantIDs:    []string{tenantID},
		Email:        email,
		PhoneNumber:  phone,
		TimeJoined:   e.clock.Now().UnixMilli(),
	}))
}

func (e *testEngine) makePrimary(t *testing.T, id user.RecipeUserID) {
	t.Helper()
	res, err := e.CreatePrimaryUser(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, core.StatusOK, res.Status)
}

func (e *testEngine) link(t *testing.T, id user.RecipeUserID, primaryUserID string) core.LinkAccountsResult {
	t.Helper()
	res, err := e.LinkAccounts(context.Background(), id, primaryUserID)
	require.NoError(t, err)
	return res
}

func recipeUserIDs(u *user.User) []user.RecipeUserID {
	out := make([]user.RecipeUserID, 0, len(u.LoginMethods))
	for _, lm := range u.LoginMethods {
		out = append(out, lm.RecipeUserID)
	}
	return out
}
