package session

import "time"

// Session is the server-side record of one authenticated session.
//
// UserID is the primary user id the session belongs to; RecipeUserID is the
// login method that created it. Payload holds the access-token claims (for
// example the MFA completion record) and is re-issued into every new token.
type Session struct {
	SchemaVersion uint8

	Handle       string
	UserID       string
	RecipeUserID string
	TenantID     string

	Payload map[string]any

	CreatedAt int64
	ExpiresAt int64
}

// Expired reports whether the session is past its absolute expiry.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.Unix()
}

// ClonePayload returns a shallow copy of the payload map.
func (s *Session) ClonePayload() map[string]any {
	out := make(map[string]any, len(s.Payload))
	for k, v := range s.Payload {
		out[k] = v
	}
	return out
}
