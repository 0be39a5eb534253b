package authsdk

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authsdk/tenant"
)

const testConfigYAML = `
session:
  lifetime: 12h
jwt:
  signing_method: hs256
  secret: 0123456789abcdef0123456789abcdef
  access_ttl: 10m
  issuer: authsdk-test
account_linking:
  enabled: true
  should_automatically_link: true
mfa:
  enabled: true
  first_factors: [emailpassword, thirdparty]
tenants:
  items:
    - id: public
    - id: acme
      required_secondary_factors: [totp]
redis:
  key_prefix: test
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authsdk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromYAML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, cfg.Session.Lifetime)
	assert.Equal(t, 10*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, "authsdk-test", cfg.JWT.Issuer)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), cfg.JWT.PrivateKey)
	assert.True(t, cfg.AccountLinking.ShouldAutomaticallyLink)
	assert.True(t, cfg.AccountLinking.ShouldRequireVerification, "defaults survive partial sections")
	assert.Equal(t, []string{"emailpassword", "thirdparty"}, cfg.MFA.FirstFactors)
	assert.Equal(t, uint(30), cfg.MFA.TOTP.Period)
	require.Len(t, cfg.Tenants.Items, 2)
	assert.Equal(t, []string{"totp"}, cfg.Tenants.Items[1].RequiredSecondaryFactors)
	assert.Equal(t, "test", cfg.Redis.KeyPrefix)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("AUTHSDK_SESSION_LIFETIME", "48h")
	t.Setenv("AUTHSDK_MFA_FIRST_FACTORS", "emailpassword")
	t.Setenv("AUTHSDK_REDIS_ADDR", "redis:6380")
	t.Setenv("AUTHSDK_AUDIT_ENABLED", "true")
	t.Setenv("AUTHSDK_PASSWORD_ALGORITHM", "argon2id")
	t.Setenv("AUTHSDK_MFA_TOTP_COOLDOWN", "5m")

	cfg, err := LoadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 48*time.Hour, cfg.Session.Lifetime)
	assert.Equal(t, []string{"emailpassword"}, cfg.MFA.FirstFactors)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 1024, cfg.Audit.BufferSize)
	assert.Equal(t, "argon2id", cfg.Password.Algorithm)
	assert.Equal(t, 5*time.Minute, cfg.MFA.TOTP.Cooldown)
	assert.Equal(t, 5, cfg.MFA.TOTP.MaxAttempts)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Session, cfg.Session)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "session: [nope"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "jwt:\n  private_key_file: /nonexistent/key.pem\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero lifetime", func(c *Config) { c.Session.Lifetime = 0 }, "Lifetime"},
		{"access ttl above lifetime", func(c *Config) { c.JWT.AccessTTL = 48 * time.Hour }, "exceed"},
		{"missing public key", func(c *Config) { c.JWT.PublicKey = nil }, "ed25519"},
		{"short secret", func(c *Config) {
			c.JWT.SigningMethod = "hs256"
			c.JWT.PrivateKey = []byte("short")
		}, "32 bytes"},
		{"unknown signing method", func(c *Config) { c.JWT.SigningMethod = "rs512" }, "unsupported"},
		{"negative leeway", func(c *Config) { c.JWT.Leeway = -time.Second }, "Leeway"},
		{"auto link while disabled", func(c *Config) { c.AccountLinking.Enabled = false }, "requires Enabled"},
		{"unknown first factor", func(c *Config) { c.MFA.FirstFactors = []string{"sms"} }, "unknown factor"},
		{"zero totp period", func(c *Config) {
			c.MFA.Enabled = true
			c.MFA.TOTP.Period = 0
		}, "Period"},
		{"unknown password algorithm", func(c *Config) { c.Password.Algorithm = "md5" }, "Password"},
		{"bcrypt cost too high", func(c *Config) { c.Password.BcryptCost = 40 }, "bcrypt cost"},
		{"negative totp attempts", func(c *Config) { c.MFA.TOTP.MaxAttempts = -1 }, "MaxAttempts"},
		{"file and items", func(c *Config) { c.Tenants.File = "tenants.yaml" }, "either File or Items"},
		{"unknown tenant factor", func(c *Config) {
			c.Tenants.Items = append(c.Tenants.Items, tenant.Config{TenantID: "x", RequiredSecondaryFactors: []string{"fax"}})
		}, "tenant \"x\""},
		{"audit without buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}, "BufferSize"},
		{"empty prefix", func(c *Config) { c.Redis.KeyPrefix = "" }, "KeyPrefix"},
		{"prefix with space", func(c *Config) { c.Redis.KeyPrefix = "a b" }, "whitespace"},
	}

	valid := testConfig(t)
	require.NoError(t, valid.Validate())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.want), err.Error())
		})
	}
}

func TestCloneConfigDoesNotAlias(t *testing.T) {
	cfg := testConfig(t)
	clone := cloneConfig(cfg)

	clone.JWT.PrivateKey[0] ^= 0xff
	clone.Tenants.Items[1].RequiredSecondaryFactors[0] = "otp-email"

	assert.NotEqual(t, cfg.JWT.PrivateKey[0], clone.JWT.PrivateKey[0])
	assert.Equal(t, "totp", cfg.Tenants.Items[1].RequiredSecondaryFactors[0])
}
