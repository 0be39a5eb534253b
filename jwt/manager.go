package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	// ErrInvalidConfig wraps every NewManager failure.
	ErrInvalidConfig = errors.New("jwt: invalid config")
	// ErrTokenExpired is returned for well-signed tokens past exp plus leeway.
	ErrTokenExpired = errors.New("jwt: access token expired")
	// ErrTokenInvalid is returned for every other rejected token.
	ErrTokenInvalid = errors.New("jwt: access token invalid")
)

// Config configures access-token issuance and verification.
//
// With Ed25519, PrivateKey may be empty on verify-only managers. VerifyKeys
// maps kid to public key (or secret for hs256); when set, every token must
// carry a known kid. KeyID is stamped on issued tokens.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// AccessClaims is the access-token body. Subject carries the session's user
// id, which is the primary user id once accounts are linked.
type AccessClaims struct {
	RecipeUserID  string         `json:"rsub"`
	TenantID      string         `json:"tId"`
	SessionHandle string         `json:"sessionHandle"`
	Payload       map[string]any `json:"up,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session access tokens. It is immutable after
// NewManager and safe for concurrent use.
type Manager struct {
	ttl     time.Duration
	kid     string
	issuer  string
	method  jwt.SigningMethod
	signKey any
	// byKid is nil when tokens are verified with the single key.
	byKid     map[string]any
	verifyKey any
	audience  jwt.ClaimStrings
	parser    *jwt.Parser
	now       func() time.Time
}

// NewManager resolves the key material in cfg once.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, fmt.Errorf("%w: AccessTTL must be > 0", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: Leeway must be within [0, 2m]", ErrInvalidConfig)
	}

	m := &Manager{
		ttl:    cfg.AccessTTL,
		kid:    strings.TrimSpace(cfg.KeyID),
		issuer: cfg.Issuer,
		now:    time.Now,
	}

	var parsePublic func([]byte) (any, error)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, fmt.Errorf("%w: hs256 requires a secret", ErrInvalidConfig)
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verifyKey = cfg.PrivateKey
		parsePublic = func(b []byte) (any, error) { return b, nil }
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
			m.signKey = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
			m.verifyKey = pub
		}
		if m.verifyKey == nil && len(cfg.VerifyKeys) == 0 {
			return nil, fmt.Errorf("%w: ed25519 requires a public key or verify keys", ErrInvalidConfig)
		}
		parsePublic = func(b []byte) (any, error) { return parseEdPublicKey(b) }
	default:
		return nil, fmt.Errorf("%w: unsupported signing method %q", ErrInvalidConfig, cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		m.byKid = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, fmt.Errorf("%w: verify key with empty kid", ErrInvalidConfig)
			}
			key, err := parsePublic(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: verify key %q: %v", ErrInvalidConfig, kid, err)
			}
			m.byKid[kid] = key
		}
		if m.kid != "" {
			if _, ok := m.byKid[m.kid]; !ok {
				return nil, fmt.Errorf("%w: KeyID %q is not among VerifyKeys", ErrInvalidConfig, m.kid)
			}
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(opts...)
	if cfg.Audience != "" {
		m.audience = jwt.ClaimStrings{cfg.Audience}
	}
	return m, nil
}

// AccessTTL is the lifetime stamped on issued tokens.
func (m *Manager) AccessTTL() time.Duration { return m.ttl }

// CreateAccess signs an access token for the session identified by
// sessionHandle. payload is embedded as-is under "up".
func (m *Manager) CreateAccess(userID, recipeUserID, tenantID, sessionHandle string, payload map[string]any) (string, error) {
	if m.signKey == nil {
		return "", fmt.Errorf("%w: manager has no signing key", ErrInvalidConfig)
	}
	if userID == "" || sessionHandle == "" {
		return "", errors.New("jwt: user id and session handle are required")
	}
	now := m.now()
	token := jwt.NewWithClaims(m.method, AccessClaims{
		RecipeUserID:  recipeUserID,
		TenantID:      tenantID,
		SessionHandle: sessionHandle,
		Payload:       payload,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			Audience:  m.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	if m.kid != "" {
		token.Header["kid"] = m.kid
	}
	return token.SignedString(m.signKey)
}

// ParseAccess verifies tokenStr and returns its claims. Failures wrap
// ErrTokenExpired or ErrTokenInvalid.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := m.parser.ParseWithClaims(tokenStr, claims, m.keyFor)
	switch {
	case err == nil && token.Valid:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	default:
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" || claims.SessionHandle == "" {
		return nil, fmt.Errorf("%w: missing sub or sessionHandle", ErrTokenInvalid)
	}
	return claims, nil
}

func (m *Manager) keyFor(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if m.byKid != nil {
		key, ok := m.byKid[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return key, nil
	}
	if m.kid != "" && kid != m.kid {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	if m.verifyKey == nil {
		return nil, errors.New("no verification key")
	}
	return m.verifyKey, nil
}

// parseEdPrivateKey accepts a raw 64-byte key or a PKCS#8 PEM block.
func parseEdPrivateKey(b []byte) (ed25519.PrivateKey, error) {
	if len(b) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(b), nil
	}
	k, err := jwt.ParseEdPrivateKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("ed25519 private key: %w", err)
	}
	priv, ok := k.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("ed25519 private key: wrong key type")
	}
	return priv, nil
}

// parseEdPublicKey accepts a raw 32-byte key or a PKIX PEM block.
func parseEdPublicKey(b []byte) (ed25519.PublicKey, error) {
	if len(b) == ed25519.PublicKeySize {
		return ed25519.PublicKey(b), nil
	}
	k, err := jwt.ParseEdPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("ed25519 public key: %w", err)
	}
	pub, ok := k.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("ed25519 public key: wrong key type")
	}
	return pub, nil
}
