package mfa

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/tenant"
	"github.com/MrEthical07/authsdk/user"
	"github.com/MrEthical07/authsdk/usermetadata"
)

// FactorsSetUpFunc lists the factors a recipe has set up for a user.
type FactorsSetUpFunc func(ctx context.Context, u *user.User) ([]string, error)

// FactorSource is what a recipe registers with the MFA recipe: the factors
// it provides, which of them may start a session, and how to tell whether a
// user has them set up.
type FactorSource struct {
	FirstFactors []string
	Factors      []string
	SetUp        FactorsSetUpFunc
}

// Info describes the MFA state of a session for the info endpoint.
type Info struct {
	AlreadySetup   []string `json:"alreadySetup"`
	AllowedToSetup []string `json:"allowedToSetup"`
	Next           []string `json:"next"`
	Emails         []string `json:"emails"`
	PhoneNumbers   []string `json:"phoneNumbers"`
}

// Recipe is the MFA recipe. It is safe for concurrent use once built.
type Recipe struct {
	core         core.Client
	tenants      tenant.Provider
	metadata     usermetadata.Store
	firstFactors []string
	now          func() time.Time
	log          *zap.Logger

	mu      sync.RWMutex
	sources []FactorSource

	overrides []Override
	claimOpts []ClaimOption
	funcs     Functions
	claim     *Claim
}

type Option func(*Recipe)

func WithTenants(p tenant.Provider) Option {
	return func(r *Recipe) { r.tenants = p }
}

func WithMetadata(s usermetadata.Store) Option {
	return func(r *Recipe) {
		if s != nil {
			r.metadata = s
		}
	}
}

// WithFirstFactors sets the first factors used for tenants that do not
// configure their own. Nil leaves the default of every registered first factor.
func WithFirstFactors(ids []string) Option {
	return func(r *Recipe) { r.firstFactors = slices.Clone(ids) }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recipe) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Recipe) {
		if l != nil {
			r.log = l
		}
	}
}

// WithOverride decorates the recipe functions. Overrides apply in order.
func WithOverride(o Override) Option {
	return func(r *Recipe) {
		if o != nil {
			r.overrides = append(r.overrides, o)
		}
	}
}

func WithClaimOptions(opts ...ClaimOption) Option {
	return func(r *Recipe) { r.claimOpts = append(r.claimOpts, opts...) }
}

// NewRecipe builds the MFA recipe over a core client.
func NewRecipe(client core.Client, opts ...Option) *Recipe {
	r := &Recipe{
		core:     client,
		metadata: usermetadata.NewMemory(),
		now:      time.Now,
		log:      logger.Named("mfa"),
	}
	for _, opt := range opts {
		opt(r)
	}

	funcs := Functions{
		GetMFARequirementsForAuth:                 DefaultMFARequirementsForAuth,
		IsAllowedToSetupFactor:                    DefaultIsAllowedToSetupFactor,
		GetFactorsSetUpForUser:                    r.factorsSetUpForUser,
		MarkFactorAsCompleteInSession:             r.markFactorAsCompleteInSession,
		GetRequiredSecondaryFactorsForUser:        r.getRequiredSecondaryFactorsForUser,
		AddToRequiredSecondaryFactorsForUser:      r.addToRequiredSecondaryFactorsForUser,
		RemoveFromRequiredSecondaryFactorsForUser: r.removeFromRequiredSecondaryFactorsForUser,
	}
	for _, o := range r.overrides {
		funcs = o(funcs)
	}
	r.funcs = funcs
	r.claim = NewClaim(r.fetchValue, r.claimOpts...)
	return r
}

// Claim returns the session claim bound to this recipe.
func (r *Recipe) Claim() *Claim { return r.claim }

// Functions returns the resolved (overridden) policy.
func (r *Recipe) Functions() Functions { return r.funcs }

// RegisterFactorSource adds a recipe's factors. Recipes register while the
// SDK is being built.
func (r *Recipe) RegisterFactorSource(src FactorSource) {
	r.mu.Lock()
	r.sources = append(r.sources, src)
	r.mu.Unlock()
}

func (r *Recipe) registered() []FactorSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.sources)
}

// AvailableFactors lists every factor a registered recipe provides.
func (r *Recipe) AvailableFactors() []string {
	var out []string
	for _, src := range r.registered() {
		for _, id := range src.Factors {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}

func (r *Recipe) availableFirstFactors() []string {
	var out []string
	for _, src := range r.registered() {
		for _, id := range src.FirstFactors {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}

func (r *Recipe) tenantConfig(ctx context.Context, tenantID string) (*tenant.Config, error) {
	if r.tenants == nil {
		return nil, nil
	}
	cfg, err := r.tenants.Tenant(ctx, tenantID)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		return nil, nil
	}
	return cfg, err
}

// ValidFirstFactors returns the tenant's first factors, else the configured
// default, else every registered first factor.
func (r *Recipe) ValidFirstFactors(ctx context.Context, tenantID string) ([]string, error) {
	cfg, err := r.tenantConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cfg != nil && cfg.FirstFactors != nil {
		return cfg.FirstFactors, nil
	}
	if r.firstFactors != nil {
		return slices.Clone(r.firstFactors), nil
	}
	return r.availableFirstFactors(), nil
}

func (r *Recipe) IsValidFirstFactor(ctx context.Context, tenantID, factorID string) (bool, error) {
	valid, err := r.ValidFirstFactors(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return slices.Contains(valid, factorID), nil
}

// RequiredSecondaryFactorsForTenant returns the tenant's required secondary
// factors, or nil when the tenant configures none.
func (r *Recipe) RequiredSecondaryFactorsForTenant(ctx context.Context, tenantID string) ([]string, error) {
	cfg, err := r.tenantConfig(ctx, tenantID)
	if err != nil || cfg == nil {
		return nil, err
	}
	return cfg.RequiredSecondaryFactors, nil
}

func (r *Recipe) factorsSetUpForUser(ctx context.Context, u *user.User) ([]string, error) {
	var out []string
	for _, src := range r.registered() {
		if src.SetUp == nil {
			continue
		}
		ids, err := src.SetUp(ctx, u)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// Requirements computes the requirement list for u signing in to tenantID
// with the given completed factors.
func (r *Recipe) Requirements(ctx context.Context, u *user.User, tenantID string, payload map[string]any, completed map[string]int64) (RequirementsInput, []Requirement, error) {
	setUp, err := r.funcs.GetFactorsSetUpForUser(ctx, u)
	if err != nil {
		return RequirementsInput{}, nil, err
	}
	forUser, err := r.funcs.GetRequiredSecondaryFactorsForUser(ctx, u.ID)
	if err != nil {
		return RequirementsInput{}, nil, err
	}
	forTenant, err := r.RequiredSecondaryFactorsForTenant(ctx, tenantID)
	if err != nil {
		return RequirementsInput{}, nil, err
	}
	in := RequirementsInput{
		TenantID:                          tenantID,
		User:                              u,
		AccessTokenPayload:                payload,
		CompletedFactors:                  completed,
		FactorsSetUpForUser:               setUp,
		RequiredSecondaryFactorsForUser:   forUser,
		RequiredSecondaryFactorsForTenant: forTenant,
	}
	reqs, err := r.funcs.GetMFARequirementsForAuth(ctx, in)
	if err != nil {
		return RequirementsInput{}, nil, err
	}
	return in, reqs, nil
}

func (r *Recipe) completedFrom(payload map[string]any) map[string]int64 {
	v, ok := r.claim.GetValueFromPayload(payload)
	if !ok {
		return map[string]int64{}
	}
	return v.clone().C
}

func (r *Recipe) fetchValue(ctx context.Context, _ string, recipeUserID user.RecipeUserID, tenantID string, currentPayload map[string]any) (ClaimValue, error) {
	u, err := r.core.GetUser(ctx, recipeUserID.String())
	if err != nil {
		return ClaimValue{}, err
	}
	if u == nil {
		return ClaimValue{}, fmt.Errorf("%w: %s", core.ErrUnknownUser, recipeUserID)
	}
	completed := r.completedFrom(currentPayload)
	_, reqs, err := r.Requirements(ctx, u, tenantID, currentPayload, completed)
	if err != nil {
		return ClaimValue{}, err
	}
	return newClaimValue(completed, reqs), nil
}

func (r *Recipe) sessionUser(ctx context.Context, s Session) (*user.User, error) {
	u, err := r.core.GetUser(ctx, s.UserID())
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// IsAllowedToSetupFactor runs the setup policy for the session's user.
func (r *Recipe) IsAllowedToSetupFactor(ctx context.Context, s Session, factorID string) (bool, error) {
	u, err := r.sessionUser(ctx, s)
	if err != nil {
		return false, err
	}
	return r.isAllowedToSetupFactor(ctx, s, u, factorID)
}

func (r *Recipe) isAllowedToSetupFactor(ctx context.Context, s Session, u *user.User, factorID string) (bool, error) {
	payload := s.AccessTokenPayload()
	completed := r.completedFrom(payload)
	in, reqs, err := r.Requirements(ctx, u, s.TenantID(), payload, completed)
	if err != nil {
		return false, err
	}
	return r.funcs.IsAllowedToSetupFactor(ctx, SetupInput{
		TenantID:               s.TenantID(),
		FactorID:               factorID,
		Session:                s,
		User:                   u,
		CompletedFactors:       completed,
		MFARequirementsForAuth: reqs,
		FactorsSetUpForUser:    in.FactorsSetUpForUser,
	})
}

// MarkFactorAsCompleteInSession records factorID as completed and refreshes V.
func (r *Recipe) MarkFactorAsCompleteInSession(ctx context.Context, s Session, factorID string) error {
	return r.funcs.MarkFactorAsCompleteInSession(ctx, s, factorID)
}

func (r *Recipe) markFactorAsCompleteInSession(ctx context.Context, s Session, factorID string) error {
	_, err := r.syncSession(ctx, s, factorID)
	return err
}

// syncSession recomputes the claim of s, adding factorID as completed when
// it is not empty, and writes it back to the session.
func (r *Recipe) syncSession(ctx context.Context, s Session, factorID string) (ClaimValue, error) {
	u, err := r.sessionUser(ctx, s)
	if err != nil {
		return ClaimValue{}, err
	}
	payload := s.AccessTokenPayload()
	completed := r.completedFrom(payload)
	if factorID != "" {
		completed[factorID] = r.now().Unix()
	}
	_, reqs, err := r.Requirements(ctx, u, s.TenantID(), payload, completed)
	if err != nil {
		return ClaimValue{}, err
	}
	value := newClaimValue(completed, reqs)
	merged := r.claim.AddToPayload(payload, value)
	if err := s.MergeIntoAccessTokenPayload(ctx, map[string]any{r.claim.Key(): merged[r.claim.Key()]}); err != nil {
		return ClaimValue{}, err
	}
	if factorID != "" {
		r.log.Debug("factor completed",
			logger.UserID(u.ID),
			logger.TenantID(s.TenantID()),
			logger.FactorID(factorID),
			zap.Bool("satisfied", value.V),
		)
	}
	return value, nil
}

// Info reports set-up, allowed and next factors for the session's user and
// refreshes the session claim.
func (r *Recipe) Info(ctx context.Context, s Session) (Info, error) {
	u, err := r.sessionUser(ctx, s)
	if err != nil {
		return Info{}, err
	}
	payload := s.AccessTokenPayload()
	completed := r.completedFrom(payload)
	in, reqs, err := r.Requirements(ctx, u, s.TenantID(), payload, completed)
	if err != nil {
		return Info{}, err
	}

	allowed := []string{}
	for _, id := range r.AvailableFactors() {
		ok, err := r.funcs.IsAllowedToSetupFactor(ctx, SetupInput{
			TenantID:               s.TenantID(),
			FactorID:               id,
			Session:                s,
			User:                   u,
			CompletedFactors:       completed,
			MFARequirementsForAuth: reqs,
			FactorsSetUpForUser:    in.FactorsSetUpForUser,
		})
		if err != nil {
			return Info{}, err
		}
		if ok {
			allowed = append(allowed, id)
		}
	}

	next := []string{}
	for _, id := range BuildNextArray(completed, reqs) {
		if slices.Contains(allowed, id) || slices.Contains(in.FactorsSetUpForUser, id) {
			next = append(next, id)
		}
	}

	if _, err := r.syncSession(ctx, s, ""); err != nil {
		return Info{}, err
	}

	setUp := in.FactorsSetUpForUser
	if setUp == nil {
		setUp = []string{}
	}
	return Info{
		AlreadySetup:   setUp,
		AllowedToSetup: allowed,
		Next:           next,
		Emails:         slices.Clone(u.Emails),
		PhoneNumbers:   slices.Clone(u.PhoneNumbers),
	}, nil
}
