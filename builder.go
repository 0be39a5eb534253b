package authsdk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/audit"
	"github.com/MrEthical07/authsdk/internal/flows"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/internal/rate"
	"github.com/MrEthical07/authsdk/jwt"
	"github.com/MrEthical07/authsdk/linking"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/password"
	"github.com/MrEthical07/authsdk/session"
	"github.com/MrEthical07/authsdk/tenant"
	"github.com/MrEthical07/authsdk/user"
	"github.com/MrEthical07/authsdk/usermetadata"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	core      core.Core
	tenants   tenant.Provider
	metadata  usermetadata.Store
	providers map[string]ProviderResolver
	overrides Overrides
	auditSink AuditSink
	logger    *zap.Logger

	linkingOpts []linking.Option

	built bool
}

// New returns a Builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config:    defaultConfig(),
		providers: map[string]ProviderResolver{},
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client for sessions, user metadata and the
// reference core. Without it Build dials Config.Redis and closes that
// client on Engine.Close.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCore replaces the reference core engine with another core client.
func (b *Builder) WithCore(c core.Core) *Builder {
	b.core = c
	return b
}

// WithLinkingOptions passes options to the reference core engine. They are
// ignored when WithCore is used.
func (b *Builder) WithLinkingOptions(opts ...linking.Option) *Builder {
	b.linkingOpts = append(b.linkingOpts, opts...)
	return b
}

func (b *Builder) WithTenants(p tenant.Provider) *Builder {
	b.tenants = p
	return b
}

func (b *Builder) WithUserMetadata(s usermetadata.Store) *Builder {
	b.metadata = s
	return b
}

// WithProvider registers the resolver for one third-party id.
func (b *Builder) WithProvider(thirdPartyID string, r ProviderResolver) *Builder {
	b.providers[thirdPartyID] = r
	return b
}

func (b *Builder) WithOverrides(o Overrides) *Builder {
	b.overrides = o
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger replaces the logger built from Config.Log.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for id, r := range b.providers {
		if strings.TrimSpace(id) == "" || r == nil {
			return nil, fmt.Errorf("invalid provider registration %q", id)
		}
	}

	// -------- LOGGING --------
	log := b.logger
	if log == nil {
		log = logger.Build(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level, ServiceName: cfg.Log.ServiceName})
	}
	logger.Set(log)

	// -------- REDIS --------
	rdb := b.redis
	var owned redis.UniversalClient
	if rdb == nil {
		owned = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rdb = owned
	}
	prefix := cfg.Redis.KeyPrefix

	// -------- TENANTS --------
	tenants, err := b.buildTenants(cfg)
	if err != nil {
		return nil, closeOnErr(owned, err)
	}

	sessions := session.NewStore(rdb, prefix)

	metadata := b.metadata
	if metadata == nil {
		metadata = usermetadata.NewRedis(rdb, prefix+":md")
	}

	// -------- CORE --------
	coreImpl := b.core
	if coreImpl == nil {
		hasher, err := password.New(cfg.Password.hasherConfig())
		if err != nil {
			return nil, closeOnErr(owned, err)
		}
		opts := []linking.Option{
			linking.WithPasswordHasher(hasher),
			linking.WithSessionRevoker(linking.SessionRevokerFunc(func(ctx context.Context, id user.RecipeUserID) error {
				return sessions.RevokeAllForRecipeUser(ctx, id.String())
			})),
			linking.WithTOTP(linking.TOTPConfig{
				Issuer: cfg.MFA.TOTP.Issuer,
				Period: cfg.MFA.TOTP.Period,
				Skew:   cfg.MFA.TOTP.Skew,
			}),
			linking.WithLogger(logger.Named("core")),
		}
		coreImpl = linking.NewEngine(linking.NewRedisStore(rdb, prefix+":core"), append(opts, b.linkingOpts...)...)
	}
	cached := core.NewCachedClient(coreImpl)

	// -------- JWT --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, closeOnErr(owned, err)
	}

	engine := &Engine{
		config:     cfg,
		log:        logger.Named("engine"),
		core:       cached,
		sessions:   sessions,
		jwt:        jm,
		tenants:    tenants,
		metadata:   metadata,
		providers:  make(map[string]ProviderResolver, len(b.providers)),
		metrics:    NewMetrics(cfg.Metrics),
		ownedRedis: owned,
	}
	if cfg.MFA.TOTP.MaxAttempts > 0 {
		engine.totpLimit = rate.New(rdb, prefix+":totp", rate.Config{
			MaxAttempts: cfg.MFA.TOTP.MaxAttempts,
			Cooldown:    cfg.MFA.TOTP.Cooldown,
		})
	}
	for id, r := range b.providers {
		engine.providers[id] = r
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if cfg.Audit.LogEvents {
		sink = audit.MultiSink{sink, audit.NewZapSink(logger.Named("audit"))}
	}
	engine.audit = newAuditDispatcher(cfg.Audit, sink)

	// -------- MFA --------
	if cfg.MFA.Enabled {
		opts := []mfa.Option{
			mfa.WithTenants(tenants),
			mfa.WithMetadata(metadata),
			mfa.WithFirstFactors(cfg.MFA.FirstFactors),
			mfa.WithLogger(logger.Named("mfa")),
		}
		if b.overrides.MFA != nil {
			opts = append(opts, mfa.WithOverride(b.overrides.MFA))
		}
		engine.mfa = mfa.NewRecipe(cached, opts...)
		engine.mfa.RegisterFactorSource(loginMethodFactorSource(user.RecipeEmailPassword, mfa.FactorEmailPassword))
		engine.mfa.RegisterFactorSource(loginMethodFactorSource(user.RecipeThirdParty, mfa.FactorThirdParty))
		engine.mfa.RegisterFactorSource(engine.totpFactorSource())
	}

	engine.applyOverrides(b.overrides)
	engine.flows = engine.buildFlowDeps()

	b.built = true
	return engine, nil
}

func (b *Builder) buildTenants(cfg Config) (tenant.Provider, error) {
	if b.tenants != nil {
		return b.tenants, nil
	}
	var (
		static *tenant.Static
		err    error
	)
	if cfg.Tenants.File != "" {
		static, err = tenant.LoadFile(cfg.Tenants.File)
	} else {
		static, err = tenant.NewStatic(cfg.Tenants.Items...)
	}
	if err != nil {
		return nil, err
	}
	if _, err := static.Tenant(context.Background(), tenant.DefaultTenantID); errors.Is(err, tenant.ErrTenantNotFound) {
		if err := static.Put(tenant.Config{TenantID: tenant.DefaultTenantID}); err != nil {
			return nil, err
		}
	}
	return static, nil
}

// loginMethodFactorSource reports factorID as set up when the user has a
// login method of recipeID.
func loginMethodFactorSource(recipeID user.RecipeID, factorID string) mfa.FactorSource {
	return mfa.FactorSource{
		FirstFactors: []string{factorID},
		Factors:      []string{factorID},
		SetUp: func(_ context.Context, u *user.User) ([]string, error) {
			for _, lm := range u.LoginMethods {
				if lm.RecipeID == recipeID {
					return []string{factorID}, nil
				}
			}
			return nil, nil
		},
	}
}

func (e *Engine) buildFlowDeps() flows.Deps {
	linkingDeps := flows.LinkingDeps{
		Core:                            e.core,
		ShouldDoAutomaticAccountLinking: e.accountLinking.ShouldDoAutomaticAccountLinking,
		Log:                             logger.Named("flows"),
		MetricInc:                       func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:                       e.flowAudit,
		Metrics: flows.LinkingMetrics{
			PrimaryUserCreated: int(MetricPrimaryUserCreated),
			AccountsLinked:     int(MetricAccountsLinked),
			LinkDeferred:       int(MetricLinkDeferred),
			RaceRestart:        int(MetricRaceRestart),
		},
		Events: flows.LinkingEvents{
			PrimaryUserCreated: AuditEventPrimaryUserCreated,
			AccountsLinked:     AuditEventAccountsLinked,
			LinkDeferred:       AuditEventLinkDeferred,
			RaceRestart:        AuditEventRaceRestart,
		},
		Errors: flows.CommonErrors{
			EngineNotReady: ErrEngineNotReady,
			Unauthorized:   ErrUnauthorized,
		},
	}

	signInUp := flows.SignInUpDeps{
		OverwriteSessionDuringSignInUp: e.config.Session.OverwriteSessionDuringSignInUp,
		Linking:                        linkingDeps,
		CreateNewSession: func(ctx context.Context, u *user.User, recipeUserID user.RecipeUserID, tenantID string) (flows.Session, error) {
			s, err := e.createSession(ctx, u, recipeUserID, tenantID)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Metrics: flows.SignInUpMetrics{
			SignInSuccess:   int(MetricSignInSuccess),
			SignUpSuccess:   int(MetricSignUpSuccess),
			NotAllowed:      int(MetricSignInUpNotAllowed),
			SessionCreated:  int(MetricSessionCreated),
			FactorCompleted: int(MetricFactorCompleted),
			RaceRestart:     int(MetricRaceRestart),
		},
		Events: flows.SignInUpEvents{
			SignIn:          AuditEventSignIn,
			SignUp:          AuditEventSignUp,
			NotAllowed:      AuditEventSignInUpNotAllowed,
			FactorCompleted: AuditEventFactorCompleted,
			RaceRestart:     AuditEventRaceRestart,
		},
	}
	if e.mfa != nil {
		signInUp.MFA = flows.MFADeps{
			Enabled:                       true,
			IsValidFirstFactor:            e.mfa.IsValidFirstFactor,
			IsAllowedToSetupFactor:        e.mfa.IsAllowedToSetupFactor,
			MarkFactorAsCompleteInSession: e.mfa.MarkFactorAsCompleteInSession,
		}
	}
	return flows.Deps{Linking: linkingDeps, SignInUp: signInUp}
}

func closeOnErr(owned redis.UniversalClient, err error) error {
	if owned != nil {
		_ = owned.Close()
	}
	return err
}
