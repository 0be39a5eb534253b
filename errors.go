package authsdk

import (
	"errors"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/session"
)

var (
	// ErrEngineNotReady is returned when an Engine method runs on an engine
	// that was not produced by Builder.Build or was closed.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrUnauthorized is returned when the session is gone or its user no
	// longer exists.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionNotFound is returned when a session handle is unknown or expired.
	ErrSessionNotFound = session.ErrSessionNotFound
	// ErrTokenInvalid is returned when an access token fails verification.
	ErrTokenInvalid = errors.New("access token invalid")
	// ErrMFADisabled is returned by MFA entry points when the MFA recipe is off.
	ErrMFADisabled = errors.New("multi-factor auth disabled")
	// ErrProviderRejected is returned when a ProviderResolver cannot resolve
	// the user behind an OAuth callback.
	ErrProviderRejected = errors.New("third-party provider rejected the request")
	// ErrUnknownProvider is returned when no resolver is registered for a
	// third-party id.
	ErrUnknownProvider = errors.New("unknown third-party provider")
	// ErrClaimValidation is returned by AssertClaims when a validator fails.
	ErrClaimValidation = errors.New("claim validation failed")
	// ErrInvalidInput aliases core.ErrInvalidInput so callers can match
	// either.
	ErrInvalidInput = core.ErrInvalidInput
	// ErrUnknownUser aliases core.ErrUnknownUser.
	ErrUnknownUser = core.ErrUnknownUser
	// ErrRedisUnavailable aliases session.ErrRedisUnavailable.
	ErrRedisUnavailable = session.ErrRedisUnavailable
)
