package authsdk

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/session"
	"github.com/MrEthical07/authsdk/user"
)

// Session is an authenticated session: the Redis record plus the access
// token last issued for it. It implements mfa.Session.
//
// A Session is safe for concurrent use, but two Session values for the same
// handle do not see each other's payload changes until re-read.
type Session struct {
	engine *Engine

	handle       string
	userID       string
	recipeUserID user.RecipeUserID
	tenantID     string
	expiresAt    time.Time

	mu          sync.RWMutex
	payload     map[string]any
	accessToken string
}

var _ mfa.Session = (*Session)(nil)

func (s *Session) Handle() string                  { return s.handle }
func (s *Session) UserID() string                  { return s.userID }
func (s *Session) RecipeUserID() user.RecipeUserID { return s.recipeUserID }
func (s *Session) TenantID() string                { return s.tenantID }
func (s *Session) ExpiresAt() time.Time            { return s.expiresAt }

// AccessTokenPayload returns a copy of the payload embedded in the access token.
func (s *Session) AccessTokenPayload() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.payload)
}

// AccessToken returns the current access token. Payload changes re-issue it.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// MergeIntoAccessTokenPayload applies patch to the stored payload and
// re-issues the access token. A nil value removes its key.
func (s *Session) MergeIntoAccessTokenPayload(ctx context.Context, patch map[string]any) error {
	stored, err := s.engine.sessions.UpdatePayload(ctx, s.handle, func(current map[string]any) map[string]any {
		return mergePayload(current, patch)
	})
	if err != nil {
		return unauthorizedOr(err)
	}
	token, err := s.engine.jwt.CreateAccess(s.userID, s.recipeUserID.String(), s.tenantID, s.handle, stored.Payload)
	if err != nil {
		return fmt.Errorf("issue access token: %w", err)
	}

	s.mu.Lock()
	s.payload = stored.Payload
	s.accessToken = token
	s.mu.Unlock()
	return nil
}

func mergePayload(current, patch map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(patch))
	maps.Copy(out, current)
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Revoke deletes the session. Revoking an already revoked session is not an
// error.
func (s *Session) Revoke(ctx context.Context) error {
	return s.engine.RevokeSession(ctx, s.handle)
}

// FetchAndSetClaim recomputes claim for the session's user and stores it in
// the payload.
func (s *Session) FetchAndSetClaim(ctx context.Context, claim *mfa.Claim) error {
	payload, err := claim.Build(ctx, s.userID, s.recipeUserID, s.tenantID, s.AccessTokenPayload())
	if err != nil {
		return unauthorizedOr(err)
	}
	return s.MergeIntoAccessTokenPayload(ctx, map[string]any{claim.Key(): payload[claim.Key()]})
}

// ClaimValidationError lists the validators a session failed.
type ClaimValidationError struct {
	Failures map[string]mfa.ValidationResult
}

func (e *ClaimValidationError) Error() string {
	return fmt.Sprintf("claim validation failed: %d validator(s)", len(e.Failures))
}

func (e *ClaimValidationError) Unwrap() error { return ErrClaimValidation }

// AssertClaims runs validators against the payload. A validator whose claim
// is missing from the payload gets the claim fetched first. It returns a
// *ClaimValidationError when any validator fails.
func (s *Session) AssertClaims(ctx context.Context, validators ...mfa.Validator) error {
	payload := s.AccessTokenPayload()
	refetched := false
	for _, v := range validators {
		if v.ShouldRefetch(payload) && !refetched && s.engine.mfa != nil {
			if err := s.FetchAndSetClaim(ctx, s.engine.mfa.Claim()); err != nil {
				return err
			}
			payload = s.AccessTokenPayload()
			refetched = true
		}
	}

	var failures map[string]mfa.ValidationResult
	for _, v := range validators {
		res := v.Validate(payload)
		if res.IsValid {
			continue
		}
		if failures == nil {
			failures = map[string]mfa.ValidationResult{}
		}
		failures[v.ID] = res
	}
	if failures == nil {
		return nil
	}
	s.engine.metricInc(MetricClaimValidationFailure)
	logger.From(ctx, s.engine.log).Info("claim validation failed",
		logger.UserID(s.userID),
		logger.TenantID(s.tenantID),
	)
	return &ClaimValidationError{Failures: failures}
}

// CreateNewSession creates a session for u, issued by the login method
// recipeUserID. The MFA claim is computed into the initial payload when MFA
// is enabled.
func (e *Engine) CreateNewSession(ctx context.Context, u *user.User, recipeUserID user.RecipeUserID, tenantID string) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	s, err := e.createSession(ctx, u, recipeUserID, tenantID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSessionCreated)
	return s, nil
}

// createSession is CreateNewSession without the counter, which the flows
// record themselves.
func (e *Engine) createSession(ctx context.Context, u *user.User, recipeUserID user.RecipeUserID, tenantID string) (*Session, error) {
	if u == nil || recipeUserID == "" || tenantID == "" {
		return nil, fmt.Errorf("%w: session needs a user, a recipe user id and a tenant", ErrInvalidInput)
	}

	payload := map[string]any{}
	if e.mfa != nil {
		built, err := e.mfa.Claim().Build(ctx, u.ID, recipeUserID, tenantID, payload)
		if err != nil {
			return nil, unauthorizedOr(err)
		}
		payload = built
	}

	now := time.Now()
	rec := &session.Session{
		Handle:       uuid.NewString(),
		UserID:       u.ID,
		RecipeUserID: recipeUserID.String(),
		TenantID:     tenantID,
		Payload:      payload,
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(e.config.Session.Lifetime).Unix(),
	}
	if err := e.sessions.Save(ctx, rec, e.config.Session.Lifetime); err != nil {
		return nil, err
	}
	s, err := e.sessionFromRecord(rec)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, AuditEventSessionCreated, true, u.ID, tenantID, rec.Handle, nil, func() map[string]string {
		return map[string]string{"recipe_user_id": recipeUserID.String()}
	})
	return s, nil
}

func (e *Engine) sessionFromRecord(rec *session.Session) (*Session, error) {
	token, err := e.jwt.CreateAccess(rec.UserID, rec.RecipeUserID, rec.TenantID, rec.Handle, rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &Session{
		engine:       e,
		handle:       rec.Handle,
		userID:       rec.UserID,
		recipeUserID: user.RecipeUserID(rec.RecipeUserID),
		tenantID:     rec.TenantID,
		expiresAt:    time.Unix(rec.ExpiresAt, 0),
		payload:      rec.Payload,
		accessToken:  token,
	}, nil
}

// GetSession verifies accessToken and loads its session. A token whose
// session was revoked fails with ErrUnauthorized even while the token
// itself has not expired.
func (e *Engine) GetSession(ctx context.Context, accessToken string) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	claims, err := e.jwt.ParseAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	rec, err := e.sessions.Get(ctx, claims.SessionHandle)
	if err != nil {
		return nil, unauthorizedOr(err)
	}
	return &Session{
		engine:       e,
		handle:       rec.Handle,
		userID:       rec.UserID,
		recipeUserID: user.RecipeUserID(rec.RecipeUserID),
		tenantID:     rec.TenantID,
		expiresAt:    time.Unix(rec.ExpiresAt, 0),
		payload:      rec.Payload,
		accessToken:  accessToken,
	}, nil
}

// GetSessionByHandle loads a session without a token and issues a fresh one.
func (e *Engine) GetSessionByHandle(ctx context.Context, handle string) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	rec, err := e.sessions.Get(ctx, handle)
	if err != nil {
		return nil, unauthorizedOr(err)
	}
	return e.sessionFromRecord(rec)
}

// RevokeSession deletes one session.
func (e *Engine) RevokeSession(ctx context.Context, handle string) error {
	if err := e.ready(); err != nil {
		return err
	}
	existed, err := e.sessions.Delete(ctx, handle)
	if err != nil {
		return err
	}
	if existed {
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, AuditEventSessionRevoked, true, "", "", handle, nil, nil)
	}
	return nil
}

// RevokeAllSessionsForUser deletes every session of a primary or standalone
// user and returns the revoked handles.
func (e *Engine) RevokeAllSessionsForUser(ctx context.Context, userID string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	handles, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.recordRevocations(ctx, userID, handles)
	return handles, nil
}

// RevokeAllSessionsForRecipeUser deletes the sessions created by one login
// method, leaving sessions of the user's other login methods alone.
func (e *Engine) RevokeAllSessionsForRecipeUser(ctx context.Context, recipeUserID user.RecipeUserID) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	handles, err := e.sessions.DeleteAllForRecipeUser(ctx, recipeUserID.String())
	if err != nil {
		return nil, err
	}
	e.recordRevocations(ctx, "", handles)
	return handles, nil
}

func (e *Engine) recordRevocations(ctx context.Context, userID string, handles []string) {
	for _, h := range handles {
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, AuditEventSessionRevoked, true, userID, "", h, nil, nil)
	}
}

// SessionHandles lists the live session handles of a user.
func (e *Engine) SessionHandles(ctx context.Context, userID string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.sessions.Handles(ctx, userID)
}

// flowSession turns the session a flow returns back into *Session.
func flowSession(s mfa.Session) (*Session, error) {
	if s == nil {
		return nil, nil
	}
	out, ok := s.(*Session)
	if !ok {
		return nil, errors.New("authsdk: flow returned a foreign session")
	}
	return out, nil
}

// asFlowSession avoids a typed-nil interface when s is nil.
func asFlowSession(s *Session) mfa.Session {
	if s == nil {
		return nil
	}
	return s
}
