package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MrEthical07/authsdk"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/middleware"
)

// AccessTokenHeader carries the access token of a new or updated session.
const AccessTokenHeader = "st-access-token"

// Handler serves the recipe routes of one engine.
type Handler struct {
	engine *authsdk.Engine
	log    *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for unexpected failures.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// New returns a handler for engine.
func New(engine *authsdk.Engine, opts ...Option) *Handler {
	h := &Handler{engine: engine, log: logger.Named("api")}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	optional := middleware.OptionalSession(h.engine)
	required := middleware.RequireSession(h.engine)

	r.Group(func(r chi.Router) {
		r.Use(requestContext)

		r.With(optional).Post("/{tenant}/signinup", h.thirdPartySignInUp)
		r.With(optional).Post("/{tenant}/signup", h.emailPasswordSignUp)
		r.With(optional).Post("/{tenant}/signin", h.emailPasswordSignIn)

		r.Group(func(r chi.Router) {
			r.Use(required)
			r.Post("/signout", h.signOut)
			r.Get("/mfa/info", h.mfaInfo)
			r.Post("/totp/device", h.createTOTPDevice)
			r.Post("/totp/device/verify", h.verifyTOTPDevice)
			r.Post("/totp/verify", h.verifyTOTP)
		})
	})
}

// Router returns a standalone router with request ids and real client IPs.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	h.Register(r)
	return r
}

// requestContext copies the request id and client IP into the context the
// engine reads them from.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := chimw.GetReqID(ctx); id != "" {
			ctx = authsdk.WithRequestID(ctx, id)
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ctx = authsdk.WithClientIP(ctx, host)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// fail maps an engine error onto an HTTP status.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authsdk.ErrInvalidInput), errors.Is(err, authsdk.ErrUnknownProvider):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, authsdk.ErrProviderRejected):
		writeJSON(w, http.StatusOK, map[string]string{"status": "GENERAL_ERROR", "message": "provider rejected the sign in"})
	case errors.Is(err, authsdk.ErrUnauthorized), errors.Is(err, authsdk.ErrTokenInvalid):
		writeErr(w, http.StatusUnauthorized, "unauthorised")
	case errors.Is(err, authsdk.ErrMFADisabled):
		writeErr(w, http.StatusNotFound, "multi-factor auth is disabled")
	case errors.Is(err, authsdk.ErrEngineNotReady):
		writeErr(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		logger.From(r.Context(), h.log).Error("request failed",
			zap.String("path", r.URL.Path),
			logger.RequestID(chimw.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func setAccessToken(w http.ResponseWriter, s *authsdk.Session) {
	if s != nil {
		w.Header().Set(AccessTokenHeader, s.AccessToken())
	}
}

func sessionFrom(r *http.Request) *authsdk.Session {
	s, _ := middleware.SessionFromContext(r.Context())
	return s
}
