// Package testkit builds engines backed by miniredis for tests of the
// packages layered on top of authsdk.
package testkit

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/authsdk"
	"github.com/MrEthical07/authsdk/linking"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/tenant"
)

// ProviderID is the third-party provider registered on every test engine.
const ProviderID = "google"

// StrictTenant requires totp after an emailpassword first factor.
const StrictTenant = "strict"

// Provider resolves the OAuth code as the provider user id. Users are
// registered with Add.
type Provider struct {
	mu    sync.Mutex
	users map[string]authsdk.ProviderUser
}

func (p *Provider) ResolveUser(_ context.Context, _ string, in authsdk.ProviderInput) (authsdk.ProviderUser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[in.Code]
	if !ok {
		return authsdk.ProviderUser{}, errors.New("unknown code")
	}
	return u, nil
}

// Add registers a provider user and returns the input that resolves to it.
func (p *Provider) Add(id, email string, verified bool) authsdk.ProviderInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[id] = authsdk.ProviderUser{ThirdPartyUserID: id, Email: email, EmailVerified: verified}
	return authsdk.ProviderInput{Code: id}
}

// Env is a running engine and its backing stores.
type Env struct {
	Engine   *authsdk.Engine
	Redis    *redis.Client
	Mini     *miniredis.Miniredis
	Provider *Provider
	Config   authsdk.Config
}

// Config returns a valid configuration with fresh ed25519 keys, automatic
// linking on, and the public and strict tenants.
func Config(t testing.TB) authsdk.Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := authsdk.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.AccountLinking = authsdk.AccountLinkingConfig{
		Enabled:                   true,
		ShouldAutomaticallyLink:   true,
		ShouldRequireVerification: true,
	}
	cfg.Metrics.Enabled = true
	cfg.Tenants.Items = []tenant.Config{
		{TenantID: tenant.DefaultTenantID},
		{
			TenantID:                 StrictTenant,
			FirstFactors:             []string{mfa.FactorEmailPassword},
			RequiredSecondaryFactors: []string{mfa.FactorTOTP},
		},
	}
	return cfg
}

// NewProvider returns an empty Provider.
func NewProvider() *Provider {
	return &Provider{users: map[string]authsdk.ProviderUser{}}
}

// Build builds an engine on rdb with p registered as ProviderID. Engines
// built on the same client share users and sessions.
func Build(t testing.TB, cfg authsdk.Config, rdb redis.UniversalClient, p *Provider) *authsdk.Engine {
	t.Helper()
	engine, err := authsdk.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithProvider(ProviderID, p).
		WithLinkingOptions(linking.WithBcryptCost(bcrypt.MinCost)).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

// New builds an engine on a fresh miniredis. mutate may adjust the config
// before Build. Everything is closed when the test ends.
func New(t testing.TB, mutate func(*authsdk.Config)) *Env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := Config(t)
	if mutate != nil {
		mutate(&cfg)
	}
	p := NewProvider()
	return &Env{Engine: Build(t, cfg, rdb, p), Redis: rdb, Mini: mr, Provider: p, Config: cfg}
}

// WithMFA enables the MFA recipe.
func WithMFA(cfg *authsdk.Config) {
	cfg.MFA.Enabled = true
}

// SignUp creates a verified third-party user in tenantID and returns its
// session.
func (e *Env) SignUp(t testing.TB, tenantID, providerUserID, email string) authsdk.SignInUpResult {
	t.Helper()
	res, err := e.Engine.ThirdPartySignInUpPOST(context.Background(), tenantID, ProviderID, e.Provider.Add(providerUserID, email, true), nil)
	if err != nil {
		t.Fatalf("third-party sign up: %v", err)
	}
	if res.Status != authsdk.StatusOK {
		t.Fatalf("third-party sign up: status %s (%s)", res.Status, res.ErrorCode)
	}
	return res
}
