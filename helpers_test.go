package authsdk

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/authsdk/linking"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/tenant"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.AccountLinking = AccountLinkingConfig{
		Enabled:                   true,
		ShouldAutomaticallyLink:   true,
		ShouldRequireVerification: true,
	}
	cfg.Metrics.Enabled = true
	cfg.Tenants.Items = []tenant.Config{
		{TenantID: tenant.DefaultTenantID},
		{
			TenantID:                 "strict",
			FirstFactors:             []string{mfa.FactorEmailPassword},
			RequiredSecondaryFactors: []string{mfa.FactorTOTP},
		},
	}
	return cfg
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	sink   *ChannelSink
	google *fakeProvider
}

// fakeProvider resolves the OAuth code as the provider user id.
type fakeProvider struct {
	email    map[string]string
	verified map[string]bool
}

func (p *fakeProvider) ResolveUser(_ context.Context, _ string, in ProviderInput) (ProviderUser, error) {
	if in.Code == "" {
		return ProviderUser{}, ErrProviderRejected
	}
	return ProviderUser{
		ThirdPartyUserID: in.Code,
		Email:            p.email[in.Code],
		EmailVerified:    p.verified[in.Code],
	}, nil
}

func (p *fakeProvider) add(id, email string, verified bool) ProviderInput {
	p.email[id] = email
	p.verified[id] = verified
	return ProviderInput{Code: id}
}

func newTestEnv(t *testing.T, mutate func(*Config), configure ...func(*Builder)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig(t)
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 256}
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		mr:     mr,
		rdb:    rdb,
		sink:   NewChannelSink(256),
		google: &fakeProvider{email: map[string]string{}, verified: map[string]bool{}},
	}
	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAuditSink(env.sink).
		WithProvider("google", env.google).
		WithLinkingOptions(linking.WithBcryptCost(bcrypt.MinCost))
	for _, c := range configure {
		c(b)
	}
	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	env.engine = engine
	return env
}

func withMFA(cfg *Config) {
	cfg.MFA.Enabled = true
}

func (env *testEnv) signUpEP(t *testing.T, tenantID, email string, s *Session) SignInUpResult {
	t.Helper()
	res, err := env.engine.EmailPasswordSignUpPOST(context.Background(), EmailPasswordInput{
		TenantID: tenantID,
		Email:    email,
		Password: "correct horse battery staple",
		Session:  s,
	})
	require.NoError(t, err)
	return res
}

func (env *testEnv) signInEP(t *testing.T, tenantID, email, password string) SignInUpResult {
	t.Helper()
	res, err := env.engine.EmailPasswordSignInPOST(context.Background(), EmailPasswordInput{
		TenantID: tenantID,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return res
}

func (env *testEnv) signInTP(t *testing.T, tenantID, providerUserID, email string, verified bool, s *Session) SignInUpResult {
	t.Helper()
	res, err := env.engine.ThirdPartySignInUpPOST(context.Background(), tenantID, "google", env.google.add(providerUserID, email, verified), s)
	require.NoError(t, err)
	return res
}

// drain returns the audit events emitted so far.
func (env *testEnv) drain(t *testing.T) []AuditEvent {
	t.Helper()
	env.engine.audit.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-env.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}
