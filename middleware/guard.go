package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authsdk"
	"github.com/MrEthical07/authsdk/mfa"
)

type sessionContextKey struct{}

// SessionFromContext returns the session a guard attached to the request.
func SessionFromContext(ctx context.Context) (*authsdk.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*authsdk.Session)
	return s, ok && s != nil
}

// ContextWithSession attaches s the way the guards do. Handlers under test
// use it to skip the guard.
func ContextWithSession(ctx context.Context, s *authsdk.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// Options tunes a guard.
type Options struct {
	// SessionRequired rejects requests without an access token when true.
	SessionRequired bool
	// Validators run against the session's claims after it is loaded.
	Validators []mfa.Validator
}

// Guard loads the session from the bearer token and runs the configured
// claim validators. Missing or invalid sessions get 401, failed claims 403.
func Guard(engine *authsdk.Engine, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeUnauthorized(w)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				if opts.SessionRequired {
					writeUnauthorized(w)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			s, err := engine.GetSession(ctx, token)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			if len(opts.Validators) > 0 {
				if err := s.AssertClaims(ctx, opts.Validators...); err != nil {
					var cve *authsdk.ClaimValidationError
					if errors.As(err, &cve) {
						writeInvalidClaim(w, cve)
						return
					}
					writeUnauthorized(w)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(ctx, s)))
		})
	}
}

// RequireSession rejects requests without a valid session.
func RequireSession(engine *authsdk.Engine) func(http.Handler) http.Handler {
	return Guard(engine, Options{SessionRequired: true})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorised"})
}

type claimFailure struct {
	ID     string             `json:"id"`
	Reason *mfa.FailureReason `json:"reason,omitempty"`
}

func writeInvalidClaim(w http.ResponseWriter, cve *authsdk.ClaimValidationError) {
	failures := make([]claimFailure, 0, len(cve.Failures))
	for id, res := range cve.Failures {
		failures = append(failures, claimFailure{ID: id, Reason: res.Reason})
	}
	writeJSON(w, http.StatusForbidden, map[string]any{
		"message":               "invalid claim",
		"claimValidationErrors": failures,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
