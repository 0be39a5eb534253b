package authsdk

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/password"
	"github.com/MrEthical07/authsdk/tenant"
)

// EnvPrefix prefixes every environment override read by LoadConfig.
const EnvPrefix = "AUTHSDK_"

// Config is the complete SDK configuration. Treat it as immutable once
// passed to Builder.WithConfig.
type Config struct {
	Session        SessionConfig        `yaml:"session" envPrefix:"SESSION_"`
	JWT            JWTConfig            `yaml:"jwt" envPrefix:"JWT_"`
	AccountLinking AccountLinkingConfig `yaml:"account_linking" envPrefix:"ACCOUNT_LINKING_"`
	MFA            MFAConfig            `yaml:"mfa" envPrefix:"MFA_"`
	Password       PasswordConfig       `yaml:"password" envPrefix:"PASSWORD_"`
	Tenants        TenantsConfig        `yaml:"tenants" envPrefix:"TENANTS_"`
	Audit          AuditConfig          `yaml:"audit" envPrefix:"AUDIT_"`
	Metrics        MetricsConfig        `yaml:"metrics" envPrefix:"METRICS_"`
	Log            LogConfig            `yaml:"log" envPrefix:"LOG_"`
	Redis          RedisConfig          `yaml:"redis" envPrefix:"REDIS_"`
}

// SessionConfig controls server-side sessions.
type SessionConfig struct {
	Lifetime time.Duration `yaml:"lifetime" env:"LIFETIME"`
	// OverwriteSessionDuringSignInUp replaces an existing session on a
	// first-factor sign-in/up instead of keeping it.
	OverwriteSessionDuringSignInUp bool `yaml:"overwrite_session_during_sign_in_up" env:"OVERWRITE_DURING_SIGN_IN_UP"`
}

// JWTConfig controls access tokens. Keys come from files or, for hs256,
// from Secret.
type JWTConfig struct {
	AccessTTL      time.Duration `yaml:"access_ttl" env:"ACCESS_TTL"`
	SigningMethod  string        `yaml:"signing_method" env:"SIGNING_METHOD"`
	PrivateKeyFile string        `yaml:"private_key_file" env:"PRIVATE_KEY_FILE"`
	PublicKeyFile  string        `yaml:"public_key_file" env:"PUBLIC_KEY_FILE"`
	Secret         string        `yaml:"secret" env:"SECRET"`
	Issuer         string        `yaml:"issuer" env:"ISSUER"`
	Audience       string        `yaml:"audience" env:"AUDIENCE"`
	Leeway         time.Duration `yaml:"leeway" env:"LEEWAY"`
	KeyID          string        `yaml:"key_id" env:"KEY_ID"`

	PrivateKey []byte `yaml:"-" env:"-"`
	PublicKey  []byte `yaml:"-" env:"-"`
}

// AccountLinkingConfig is the default automatic account linking policy.
// Overrides.AccountLinking replaces it per request.
type AccountLinkingConfig struct {
	Enabled                   bool `yaml:"enabled" env:"ENABLED"`
	ShouldAutomaticallyLink   bool `yaml:"should_automatically_link" env:"AUTOMATICALLY_LINK"`
	ShouldRequireVerification bool `yaml:"should_require_verification" env:"REQUIRE_VERIFICATION"`
}

// MFAConfig enables the multi-factor recipe.
type MFAConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// FirstFactors applies to tenants that do not list their own.
	FirstFactors []string   `yaml:"first_factors" env:"FIRST_FACTORS" envSeparator:","`
	TOTP         TOTPConfig `yaml:"totp" envPrefix:"TOTP_"`
}

// TOTPConfig controls TOTP devices in the reference core.
type TOTPConfig struct {
	Issuer string `yaml:"issuer" env:"ISSUER"`
	Period uint   `yaml:"period" env:"PERIOD"`
	Skew   uint   `yaml:"skew" env:"SKEW"`

	// MaxAttempts failed codes lock a user out of totp for Cooldown.
	// Zero disables the limit.
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Cooldown    time.Duration `yaml:"cooldown" env:"COOLDOWN"`
}

// PasswordConfig selects the hash for new email/password credentials in
// the reference core. Existing hashes of either algorithm keep working and
// are upgraded on sign-in.
type PasswordConfig struct {
	Algorithm         string `yaml:"algorithm" env:"ALGORITHM"`
	BcryptCost        int    `yaml:"bcrypt_cost" env:"BCRYPT_COST"`
	Argon2MemoryKB    uint32 `yaml:"argon2_memory_kb" env:"ARGON2_MEMORY_KB"`
	Argon2Time        uint32 `yaml:"argon2_time" env:"ARGON2_TIME"`
	Argon2Parallelism uint8  `yaml:"argon2_parallelism" env:"ARGON2_PARALLELISM"`
}

func (p PasswordConfig) hasherConfig() password.Config {
	return password.Config{
		Algorithm:  p.Algorithm,
		BcryptCost: p.BcryptCost,
		Argon2: password.Argon2Config{
			Memory:      p.Argon2MemoryKB,
			Time:        p.Argon2Time,
			Parallelism: p.Argon2Parallelism,
		},
	}
}

// TenantsConfig lists tenants inline or points at a tenants YAML file.
type TenantsConfig struct {
	File  string          `yaml:"file" env:"FILE"`
	Items []tenant.Config `yaml:"items" env:"-"`
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled" env:"ENABLED"`
	BufferSize int  `yaml:"buffer_size" env:"BUFFER_SIZE"`
	DropIfFull bool `yaml:"drop_if_full" env:"DROP_IF_FULL"`
	// LogEvents adds a zap sink next to the one passed to the builder.
	LogEvents bool `yaml:"log_events" env:"LOG_EVENTS"`
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" env:"ENABLED"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms" env:"LATENCY_HISTOGRAMS"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Env         string `yaml:"env" env:"ENV"`
	Level       string `yaml:"level" env:"LEVEL"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// RedisConfig is used when the builder creates its own client.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DefaultConfig returns the defaults LoadConfig starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			Lifetime: 24 * time.Hour,
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		AccountLinking: AccountLinkingConfig{
			ShouldRequireVerification: true,
		},
		MFA: MFAConfig{
			TOTP: TOTPConfig{Issuer: "authsdk", Period: 30, Skew: 1, MaxAttempts: 5, Cooldown: 15 * time.Minute},
		},
		Password: PasswordConfig{
			Algorithm: password.AlgorithmBcrypt,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Log: LogConfig{
			Level: "info",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "as",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.MFA.FirstFactors = slices.Clone(cfg.MFA.FirstFactors)
	if cfg.Tenants.Items != nil {
		out.Tenants.Items = make([]tenant.Config, len(cfg.Tenants.Items))
		for i, t := range cfg.Tenants.Items {
			out.Tenants.Items[i] = t.Clone()
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// LoadConfig reads a YAML file on top of the defaults and then applies
// AUTHSDK_* environment overrides. An empty path skips the file. Key files
// named by the JWT section are read into PrivateKey and PublicKey.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.loadKeys(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadKeys() error {
	if c.JWT.PrivateKeyFile != "" {
		b, err := os.ReadFile(c.JWT.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("read jwt private key: %w", err)
		}
		c.JWT.PrivateKey = b
	}
	if c.JWT.PublicKeyFile != "" {
		b, err := os.ReadFile(c.JWT.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("read jwt public key: %w", err)
		}
		c.JWT.PublicKey = b
	}
	if strings.EqualFold(c.JWT.SigningMethod, "hs256") && len(c.JWT.PrivateKey) == 0 && c.JWT.Secret != "" {
		c.JWT.PrivateKey = []byte(c.JWT.Secret)
	}
	return nil
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.AccessTTL > c.Session.Lifetime {
		return errors.New("JWT AccessTTL must not exceed Session Lifetime")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a secret of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Account linking
	if !c.AccountLinking.Enabled && c.AccountLinking.ShouldAutomaticallyLink {
		return errors.New("AccountLinking ShouldAutomaticallyLink requires Enabled")
	}

	// MFA
	for _, id := range c.MFA.FirstFactors {
		if !mfa.IsKnownFactor(id) {
			return fmt.Errorf("MFA FirstFactors: unknown factor %q", id)
		}
	}
	if c.MFA.Enabled && c.MFA.TOTP.Period == 0 {
		return errors.New("MFA TOTP Period must be > 0")
	}
	if c.MFA.TOTP.MaxAttempts < 0 || c.MFA.TOTP.Cooldown < 0 {
		return errors.New("MFA TOTP MaxAttempts and Cooldown must be >= 0")
	}

	// Password
	if _, err := password.New(c.Password.hasherConfig()); err != nil {
		return fmt.Errorf("Password: %w", err)
	}

	// Tenants
	if c.Tenants.File != "" && len(c.Tenants.Items) > 0 {
		return errors.New("Tenants: set either File or Items")
	}
	for _, t := range c.Tenants.Items {
		for _, id := range slices.Concat(t.FirstFactors, t.RequiredSecondaryFactors) {
			if !mfa.IsKnownFactor(id) {
				return fmt.Errorf("tenant %q: unknown factor %q", t.TenantID, id)
			}
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}

	// Redis
	if c.Redis.KeyPrefix == "" {
		return errors.New("Redis KeyPrefix must not be empty")
	}
	if strings.ContainsAny(c.Redis.KeyPrefix, " \t\n") {
		return errors.New("Redis KeyPrefix must not contain whitespace")
	}
	return nil
}
