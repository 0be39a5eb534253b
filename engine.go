package authsdk

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/audit"
	"github.com/MrEthical07/authsdk/internal/flows"
	"github.com/MrEthical07/authsdk/internal/rate"
	"github.com/MrEthical07/authsdk/jwt"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/session"
	"github.com/MrEthical07/authsdk/tenant"
	"github.com/MrEthical07/authsdk/usermetadata"
)

// Engine is the SDK entry point. Build it with [Builder]; it is safe for
// concurrent use afterwards.
type Engine struct {
	config Config
	log    *zap.Logger

	core      *core.CachedClient
	sessions  *session.Store
	jwt       *jwt.Manager
	tenants   tenant.Provider
	metadata  usermetadata.Store
	totpLimit *rate.Limiter
	mfa       *mfa.Recipe
	providers map[string]ProviderResolver

	thirdParty     ThirdPartyFunctions
	emailPassword  EmailPasswordFunctions
	accountLinking AccountLinkingFunctions

	flows flows.Deps

	audit   *audit.Dispatcher
	metrics *Metrics

	ownedRedis redis.UniversalClient
	closed     atomic.Bool
}

func (e *Engine) ready() error {
	if e == nil || e.core == nil || e.sessions == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// Core returns the memoizing core client the engine talks to.
func (e *Engine) Core() core.Core {
	return e.core
}

// MFA returns the MFA recipe, or nil when MFA is disabled.
func (e *Engine) MFA() *mfa.Recipe {
	return e.mfa
}

// Tenants returns the tenant provider.
func (e *Engine) Tenants() tenant.Provider {
	return e.tenants
}

// CoreCacheStats reports hits and misses of the per-operation core call memo.
func (e *Engine) CoreCacheStats() (hits, misses uint64) {
	if e == nil || e.core == nil {
		return 0, 0
	}
	return e.core.Stats()
}

// Close drains the audit dispatcher and closes the Redis client when the
// builder created it. Close is idempotent.
func (e *Engine) Close() error {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.audit.Close()
	_ = e.log.Sync()
	if e.ownedRedis != nil {
		return e.ownedRedis.Close()
	}
	return nil
}

// checkTenant fails with core.ErrInvalidInput for unknown tenants.
func (e *Engine) checkTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: empty tenant id", core.ErrInvalidInput)
	}
	if _, err := e.tenants.Tenant(ctx, tenantID); err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return fmt.Errorf("%w: tenant %q", core.ErrInvalidInput, tenantID)
		}
		return err
	}
	return nil
}

// unauthorizedOr maps a vanished session user onto ErrUnauthorized.
func unauthorizedOr(err error) error {
	if errors.Is(err, mfa.ErrUserNotFound) || errors.Is(err, session.ErrSessionNotFound) {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return err
}
