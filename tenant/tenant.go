package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultTenantID names the tenant used when a request does not carry one.
const DefaultTenantID = "public"

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrBadInput       = errors.New("bad tenant input")
)

// Config is the policy of one tenant. A nil FirstFactors means "not
// configured" and lets the caller fall back to its own default.
type Config struct {
	TenantID                 string   `yaml:"id" json:"tenantId"`
	FirstFactors             []string `yaml:"first_factors" json:"firstFactors,omitempty"`
	RequiredSecondaryFactors []string `yaml:"required_secondary_factors" json:"requiredSecondaryFactors,omitempty"`
}

// Clone returns a copy that shares no slices with c.
func (c Config) Clone() Config {
	c.FirstFactors = slices.Clone(c.FirstFactors)
	c.RequiredSecondaryFactors = slices.Clone(c.RequiredSecondaryFactors)
	return c
}

// Provider resolves tenant policy.
type Provider interface {
	Tenant(ctx context.Context, tenantID string) (*Config, error)
}

// Static is an in-memory Provider, usually populated from configuration.
type Static struct {
	mu      sync.RWMutex
	tenants map[string]Config
}

// NewStatic returns a provider holding the given tenants.
func NewStatic(tenants ...Config) (*Static, error) {
	s := &Static{tenants: make(map[string]Config, len(tenants))}
	for _, t := range tenants {
		if err := s.Put(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Put adds or replaces a tenant.
func (s *Static) Put(t Config) error {
	t.TenantID = strings.TrimSpace(t.TenantID)
	if t.TenantID == "" {
		return fmt.Errorf("%w: empty tenant id", ErrBadInput)
	}
	s.mu.Lock()
	s.tenants[t.TenantID] = t.Clone()
	s.mu.Unlock()
	return nil
}

// Tenant returns a copy of the tenant's config.
func (s *Static) Tenant(_ context.Context, tenantID string) (*Config, error) {
	s.mu.RLock()
	t, ok := s.tenants[tenantID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrTenantNotFound
	}
	out := t.Clone()
	return &out, nil
}

// IDs lists the configured tenants in sorted order.
func (s *Static) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type fileFormat struct {
	Tenants []Config `yaml:"tenants"`
}

// LoadFile reads a YAML document of the form
//
//	tenants:
//	  - id: public
//	    first_factors: [emailpassword, thirdparty]
//	    required_secondary_factors: [totp]
func LoadFile(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes the LoadFile format from memory.
func Parse(b []byte) (*Static, error) {
	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	seen := make(map[string]struct{}, len(f.Tenants))
	for _, t := range f.Tenants {
		id := strings.TrimSpace(t.TenantID)
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate tenant %q", ErrBadInput, id)
		}
		seen[id] = struct{}{}
	}
	return NewStatic(f.Tenants...)
}
