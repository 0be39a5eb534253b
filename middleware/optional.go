package middleware

import (
	"net/http"

	"github.com/MrEthical07/authsdk"
)

// OptionalSession attaches a session when the request carries a valid
// access token and lets anonymous requests through. A token that fails
// verification is still rejected.
func OptionalSession(engine *authsdk.Engine) func(http.Handler) http.Handler {
	return Guard(engine, Options{})
}
