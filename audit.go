package authsdk

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/audit"
)

type (
	// AuditEvent is one audit record.
	AuditEvent = audit.Event
	// AuditSink receives audit events from the dispatcher goroutine.
	AuditSink = audit.Sink
	// NoOpSink discards every event.
	NoOpSink = audit.NoOpSink
	// ChannelSink buffers events in a channel, mostly for tests.
	ChannelSink = audit.ChannelSink
	// JSONWriterSink writes one JSON object per line.
	JSONWriterSink = audit.JSONWriterSink
	// ZapSink logs events through zap.
	ZapSink = audit.ZapSink
)

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

func NewZapSink(l *zap.Logger) *ZapSink { return audit.NewZapSink(l) }

const (
	AuditEventSignIn             = "sign_in"
	AuditEventSignUp             = "sign_up"
	AuditEventSignInUpNotAllowed = "sign_in_up_not_allowed"
	AuditEventPrimaryUserCreated = "primary_user_created"
	AuditEventAccountsLinked     = "accounts_linked"
	AuditEventLinkDeferred       = "link_deferred"
	AuditEventAccountUnlinked    = "account_unlinked"
	AuditEventUserDeleted        = "user_deleted"
	AuditEventFactorCompleted    = "factor_completed"
	AuditEventRaceRestart        = "race_restart"
	AuditEventSessionCreated     = "session_created"
	AuditEventSessionRevoked     = "session_revoked"
	AuditEventEmailVerified      = "email_verified"
	AuditEventTOTPDeviceCreated  = "totp_device_created"
	AuditEventTOTPVerified       = "totp_verified"
	AuditEventTOTPFailure        = "totp_failure"
)

// AuditErrorCode is the stable error label written into audit events.
type AuditErrorCode string

const (
	auditErrUnauthorized     AuditErrorCode = "unauthorized"
	auditErrSessionNotFound  AuditErrorCode = "session_not_found"
	auditErrInvalidToken     AuditErrorCode = "invalid_token"
	auditErrUnknownUser      AuditErrorCode = "unknown_user"
	auditErrInvalidInput     AuditErrorCode = "invalid_input"
	auditErrProviderRejected AuditErrorCode = "provider_rejected"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrCanceled         AuditErrorCode = "canceled"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *audit.Dispatcher {
	return audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tenantID string,
	sessionID string,
	err error,
	attrs func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if attrs != nil {
		metadata = attrs()
	}
	event := AuditEvent{
		Type:      eventType,
		UserID:    userID,
		TenantID:  tenantID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Attrs:     metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	e.audit.Emit(ctx, event)
}

// flowAudit adapts emitAudit to the signature flows expect.
func (e *Engine) flowAudit(ctx context.Context, event string, success bool, userID, tenantID string, err error, attrs func() map[string]string) {
	e.emitAudit(ctx, event, success, userID, tenantID, "", err, attrs)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, core.ErrUnknownUser):
		return auditErrUnknownUser
	case errors.Is(err, core.ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrProviderRejected), errors.Is(err, ErrUnknownProvider):
		return auditErrProviderRejected
	case errors.Is(err, ErrRedisUnavailable), errors.Is(err, core.ErrBackend):
		return auditErrUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	default:
		return auditErrInternal
	}
}

// AuditDropped counts audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}
