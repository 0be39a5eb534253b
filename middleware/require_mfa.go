package middleware

import (
	"net/http"

	"github.com/MrEthical07/authsdk"
	"github.com/MrEthical07/authsdk/mfa"
)

// RequireMFA requires a session whose MFA claim shows the requirements for
// auth are complete. With MFA disabled it behaves like RequireSession.
func RequireMFA(engine *authsdk.Engine) func(http.Handler) http.Handler {
	opts := Options{SessionRequired: true}
	if engine != nil {
		if v, err := engine.HasCompletedMFARequirementsForAuth(); err == nil {
			opts.Validators = []mfa.Validator{v}
		}
	}
	return Guard(engine, opts)
}
