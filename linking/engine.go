package linking

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/password"
	"github.com/MrEthical07/authsdk/user"
)

// SessionRevoker revokes every session created for a recipe user. Linking
// calls it so a freshly linked identity keeps no pre-link session state.
type SessionRevoker interface {
	RevokeAllForRecipeUser(ctx context.Context, recipeUserID user.RecipeUserID) error
}

// SessionRevokerFunc adapts a function to SessionRevoker.
type SessionRevokerFunc func(ctx context.Context, recipeUserID user.RecipeUserID) error

func (f SessionRevokerFunc) RevokeAllForRecipeUser(ctx context.Context, recipeUserID user.RecipeUserID) error {
	return f(ctx, recipeUserID)
}

type noopRevoker struct{}

func (noopRevoker) RevokeAllForRecipeUser(context.Context, user.RecipeUserID) error { return nil }

// Engine is the reference core. It is safe for concurrent use.
type Engine struct {
	store   Store
	revoker SessionRevoker
	now     func() time.Time
	newID   func() string
	hasher  password.Hasher
	totp    TOTPConfig
	log     *zap.Logger
}

// TOTPConfig controls device provisioning and code validation.
type TOTPConfig struct {
	Issuer string
	Period uint
	Skew   uint
}

type Option func(*Engine)

func WithSessionRevoker(r SessionRevoker) Option {
	return func(e *Engine) {
		if r != nil {
			e.revoker = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides recipe user id generation. Defaults to UUIDv4.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// WithBcryptCost hashes new passwords with bcrypt at cost. Out of range
// costs are ignored.
func WithBcryptCost(cost int) Option {
	return func(e *Engine) {
		if h, err := password.NewBcrypt(cost); err == nil {
			e.hasher = h
		}
	}
}

// WithPasswordHasher sets the hasher for new passwords. Stored hashes of
// any supported algorithm keep verifying.
func WithPasswordHasher(h password.Hasher) Option {
	return func(e *Engine) {
		if h != nil {
			e.hasher = h
		}
	}
}

func WithTOTP(cfg TOTPConfig) Option {
	return func(e *Engine) {
		if cfg.Issuer != "" {
			e.totp.Issuer = cfg.Issuer
		}
		if cfg.Period > 0 {
			e.totp.Period = cfg.Period
		}
		e.totp.Skew = cfg.Skew
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine builds a reference core over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		revoker: noopRevoker{},
		now:     time.Now,
		newID:   uuid.NewString,
		hasher:  defaultHasher(),
		totp:    TOTPConfig{Issuer: "authsdk", Period: 30, Skew: 1},
		log:     logger.Named("linking"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultHasher() password.Hasher {
	h, _ := password.NewBcrypt(0)
	return h
}

var _ core.Core = (*Engine)(nil)

func (e *Engine) lock(ctx context.Context) (func(), error) {
	return e.store.Lock(ctx)
}

// InvalidateCoreCallCache is a no-op: the engine never memoizes reads.
func (e *Engine) InvalidateCoreCallCache(context.Context) {}

func (e *Engine) GetUser(ctx context.Context, userID string) (*user.User, error) {
	return e.loadUser(ctx, userID)
}

func (e *Engine) loadUser(ctx context.Context, userID string) (*user.User, error) {
	if userID == "" {
		return nil, nil
	}
	members, err := e.store.Members(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(members) > 0 {
		return e.loadPrimary(ctx, userID, members)
	}

	lm, err := e.store.LoginMethod(ctx, user.RecipeUserID(userID))
	if err != nil || lm == nil {
		return nil, err
	}
	pid, err := e.store.PrimaryOf(ctx, lm.RecipeUserID)
	if err != nil {
		return nil, err
	}
	if pid != "" {
		members, err := e.store.Members(ctx, pid)
		if err != nil {
			return nil, err
		}
		if len(members) > 0 {
			return e.loadPrimary(ctx, pid, members)
		}
	}
	u := user.New(userID, false, []user.LoginMethod{*lm})
	return &u, nil
}

func (e *Engine) loadPrimary(ctx context.Context, primaryUserID string, members []user.RecipeUserID) (*user.User, error) {
	lms := make([]user.LoginMethod, 0, len(members))
	for _, id := range members {
		lm, err := e.store.LoginMethod(ctx, id)
		if err != nil {
			return nil, err
		}
		if lm != nil {
			lms = append(lms, *lm)
		}
	}
	if len(lms) == 0 {
		return nil, nil
	}
	u := user.New(primaryUserID, true, lms)
	return &u, nil
}

var recipesByField = map[string][]user.RecipeID{
	"email":       {user.RecipeEmailPassword, user.RecipeThirdParty, user.RecipePasswordless, user.RecipeWebauthn},
	"phoneNumber": {user.RecipePasswordless},
	"thirdParty":  {user.RecipeThirdParty},
	"webauthn":    {user.RecipeWebauthn},
}

// findLoginMethods returns the login methods on tenantID matching the single
// identity field carried by field, oldest first.
func (e *Engine) findLoginMethods(ctx context.Context, tenantID string, field user.AccountInfo) ([]user.LoginMethod, error) {
	var (
		ids []user.RecipeUserID
		err error
	)
	switch field.FieldName() {
	case "email":
		ids, err = e.store.FindByEmail(ctx, field.Email)
	case "phoneNumber":
		ids, err = e.store.FindByPhoneNumber(ctx, field.PhoneNumber)
	case "thirdParty":
		ids, err = e.store.FindByThirdParty(ctx, *field.ThirdParty)
	case "webauthn":
		ids, err = e.store.FindByWebauthnCredential(ctx, field.WebauthnCredentialID)
	default:
		return nil, core.ErrInvalidInput
	}
	if err != nil {
		return nil, err
	}

	recipes := recipesByField[field.FieldName()]
	out := make([]user.LoginMethod, 0, len(ids))
	for _, id := range ids {
		lm, err := e.store.LoginMethod(ctx, id)
		if err != nil {
			return nil, err
		}
		if lm == nil || !lm.InTenant(tenantID) || !slices.Contains(recipes, lm.RecipeID) || !lm.MatchesAll(field) {
			continue
		}
		out = append(out, *lm)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimeJoined != out[j].TimeJoined {
			return out[i].TimeJoined < out[j].TimeJoined
		}
		return out[i].RecipeUserID < out[j].RecipeUserID
	})
	return out, nil
}

func (e *Engine) ListUsersByAccountInfo(ctx context.Context, tenantID string, info user.AccountInfo, doUnion bool) ([]user.User, error) {
	fields := info.Fields()
	if len(fields) == 0 {
		return nil, core.ErrInvalidInput
	}

	found := make([][]user.LoginMethod, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	for i, field := range fields {
		g.Go(func() error {
			lms, err := e.findLoginMethods(gctx, tenantID, field)
			found[i] = lms
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	users := make([]user.User, 0)
	for _, lms := range found {
		for _, lm := range lms {
			u, err := e.loadUser(ctx, string(lm.RecipeUserID))
			if err != nil {
				return nil, err
			}
			if u == nil {
				continue
			}
			if _, ok := seen[u.ID]; ok {
				continue
			}
			seen[u.ID] = struct{}{}
			users = append(users, *u)
		}
	}
	if doUnion {
		return users, nil
	}

	return slices.DeleteFunc(users, func(u user.User) bool {
		for _, lm := range u.LoginMethods {
			if lm.InTenant(tenantID) && lm.MatchesAll(info) {
				return false
			}
		}
		return true
	}), nil
}

func (e *Engine) revokeSessions(ctx context.Context, id user.RecipeUserID) error {
	if err := e.revoker.RevokeAllForRecipeUser(ctx, id); err != nil {
		e.log.Warn("session revocation failed", logger.RecipeUserID(string(id)), zap.Error(err))
		return err
	}
	return nil
}

func (e *Engine) nowMillis() int64 {
	return e.now().UnixMilli()
}
