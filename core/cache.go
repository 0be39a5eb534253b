package core

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/authsdk/user"
)

type callCacheKey struct{}

type callCache struct {
	items *cache.Cache
	group singleflight.Group
	gen   atomic.Uint64
}

// WithCallCache returns a context that scopes memoized core reads to one
// logical operation. Nested calls reuse the outer scope.
func WithCallCache(ctx context.Context) context.Context {
	if callCacheFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, callCacheKey{}, &callCache{
		items: cache.New(cache.NoExpiration, 0),
	})
}

func callCacheFrom(ctx context.Context) *callCache {
	if ctx == nil {
		return nil
	}
	cc, _ := ctx.Value(callCacheKey{}).(*callCache)
	return cc
}

func (cc *callCache) load(key string, fetch func() (any, error)) (any, bool, error) {
	gen := cc.gen.Load()
	scoped := strconv.FormatUint(gen, 10) + "\x00" + key
	if v, ok := cc.items.Get(scoped); ok {
		return v, true, nil
	}
	v, err, _ := cc.group.Do(scoped, func() (any, error) {
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		if cc.gen.Load() == gen {
			cc.items.Set(scoped, v, cache.NoExpiration)
		}
		return v, nil
	})
	return v, false, err
}

func (cc *callCache) invalidate() {
	cc.gen.Add(1)
	cc.items.Flush()
}

// CachedClient decorates a Core with per-operation read memoization.
// Without a call-cache scope on the context it is a pass-through.
type CachedClient struct {
	Core

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedClient wraps inner.
func NewCachedClient(inner Core) *CachedClient {
	return &CachedClient{Core: inner}
}

// Stats returns the memo hit and miss counts.
func (c *CachedClient) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CachedClient) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

func (c *CachedClient) GetUser(ctx context.Context, userID string) (*user.User, error) {
	cc := callCacheFrom(ctx)
	if cc == nil {
		return c.Core.GetUser(ctx, userID)
	}
	v, hit, err := cc.load("user\x00"+userID, func() (any, error) {
		return c.Core.GetUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	c.record(hit)
	u, _ := v.(*user.User)
	if u == nil {
		return nil, nil
	}
	out := u.Clone()
	return &out, nil
}

func (c *CachedClient) ListUsersByAccountInfo(ctx context.Context, tenantID string, info user.AccountInfo, doUnion bool) ([]user.User, error) {
	cc := callCacheFrom(ctx)
	if cc == nil {
		return c.Core.ListUsersByAccountInfo(ctx, tenantID, info, doUnion)
	}
	v, hit, err := cc.load(listKey(tenantID, info, doUnion), func() (any, error) {
		return c.Core.ListUsersByAccountInfo(ctx, tenantID, info, doUnion)
	})
	if err != nil {
		return nil, err
	}
	c.record(hit)
	users, _ := v.([]user.User)
	out := make([]user.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.Clone())
	}
	return out, nil
}

func listKey(tenantID string, info user.AccountInfo, doUnion bool) string {
	var b strings.Builder
	b.WriteString("list\x00")
	b.WriteString(tenantID)
	b.WriteString("\x00")
	b.WriteString(strconv.FormatBool(doUnion))
	b.WriteString("\x00")
	b.WriteString(user.NormalizeEmail(info.Email))
	b.WriteString("\x00")
	b.WriteString(user.NormalizePhoneNumber(info.PhoneNumber))
	if info.ThirdParty != nil {
		b.WriteString("\x00tp:")
		b.WriteString(info.ThirdParty.ID)
		b.WriteString(":")
		b.WriteString(info.ThirdParty.UserID)
	}
	if info.WebauthnCredentialID != "" {
		b.WriteString("\x00wa:")
		b.WriteString(info.WebauthnCredentialID)
	}
	return b.String()
}

func (c *CachedClient) invalidate(ctx context.Context) {
	if cc := callCacheFrom(ctx); cc != nil {
		cc.invalidate()
	}
}

func (c *CachedClient) InvalidateCoreCallCache(ctx context.Context) {
	c.invalidate(ctx)
	c.Core.InvalidateCoreCallCache(ctx)
}

func (c *CachedClient) CreatePrimaryUser(ctx context.Context, recipeUserID user.RecipeUserID) (CreatePrimaryUserResult, error) {
	defer c.invalidate(ctx)
	return c.Core.CreatePrimaryUser(ctx, recipeUserID)
}

func (c *CachedClient) LinkAccounts(ctx context.Context, recipeUserID user.RecipeUserID, primaryUserID string) (LinkAccountsResult, error) {
	defer c.invalidate(ctx)
	return c.Core.LinkAccounts(ctx, recipeUserID, primaryUserID)
}

func (c *CachedClient) UnlinkAccount(ctx context.Context, recipeUserID user.RecipeUserID) (UnlinkAccountResult, error) {
	defer c.invalidate(ctx)
	return c.Core.UnlinkAccount(ctx, recipeUserID)
}

func (c *CachedClient) DeleteUser(ctx context.Context, userID string, removeAllLinkedAccounts bool) error {
	defer c.invalidate(ctx)
	return c.Core.DeleteUser(ctx, userID, removeAllLinkedAccounts)
}

func (c *CachedClient) ThirdPartySignInUp(ctx context.Context, tenantID, thirdPartyID, thirdPartyUserID, email string, isVerified bool) (SignInUpResult, error) {
	defer c.invalidate(ctx)
	return c.Core.ThirdPartySignInUp(ctx, tenantID, thirdPartyID, thirdPartyUserID, email, isVerified)
}

func (c *CachedClient) EmailPasswordSignUp(ctx context.Context, tenantID, email, password string) (SignInUpResult, error) {
	defer c.invalidate(ctx)
	return c.Core.EmailPasswordSignUp(ctx, tenantID, email, password)
}

func (c *CachedClient) VerifyEmail(ctx context.Context, recipeUserID user.RecipeUserID, email string) error {
	defer c.invalidate(ctx)
	return c.Core.VerifyEmail(ctx, recipeUserID, email)
}
