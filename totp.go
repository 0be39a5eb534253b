package authsdk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/flows"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/internal/rate"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/user"
)

// TOTPDeviceResult is returned by CreateTOTPDevice.
type TOTPDeviceResult struct {
	Status     Status
	DeviceName string
	Secret     string
	QRCodeURL  string
	Reason     string
	ErrorCode  string
}

// TOTPVerifyResult is returned by VerifyTOTPDevice and VerifyTOTP.
// FailedAttempts and MaxAttempts are set for INVALID_TOTP_ERROR and
// RetryAfter for LIMIT_REACHED_ERROR when the attempt limit is on.
type TOTPVerifyResult struct {
	Status             Status
	WasAlreadyVerified bool
	Reason             string
	ErrorCode          string
	FailedAttempts     int
	MaxAttempts        int
	RetryAfter         time.Duration
}

// TOTP verification statuses.
const (
	StatusInvalidTOTP   Status = Status(core.StatusInvalidTOTP)
	StatusUnknownDevice Status = Status(core.StatusUnknownDevice)
	StatusLimitReached  Status = "LIMIT_REACHED_ERROR"
)

const defaultTOTPDeviceName = "TOTP Device"

// setupRefusal is non-nil when the session user may not set up totp now.
func (e *Engine) setupRefusal(ctx context.Context, s *Session) (*Refusal, error) {
	ok, err := e.mfa.IsAllowedToSetupFactor(ctx, s, mfa.FactorTOTP)
	if err != nil {
		return nil, unauthorizedOr(err)
	}
	if ok {
		return nil, nil
	}
	return &Refusal{
		Status:    flows.StatusFactorSetupNotAllowed,
		Reason:    flows.Reason(flows.CodeFactorSetupNotAllowed),
		ErrorCode: flows.CodeFactorSetupNotAllowed,
	}, nil
}

// CreateTOTPDevice registers an unverified TOTP device for the session's
// user. An empty name picks the next free default name.
func (e *Engine) CreateTOTPDevice(ctx context.Context, s *Session, deviceName string) (TOTPDeviceResult, error) {
	if err := e.mfaReady(); err != nil {
		return TOTPDeviceResult{}, err
	}
	ctx = core.WithCallCache(e.withRequestLogger(ctx))
	refusal, err := e.setupRefusal(ctx, s)
	if err != nil {
		return TOTPDeviceResult{}, err
	}
	if refusal != nil {
		return TOTPDeviceResult{Status: refusal.Status, Reason: refusal.Reason, ErrorCode: refusal.ErrorCode}, nil
	}

	if strings.TrimSpace(deviceName) == "" {
		if deviceName, err = e.nextDeviceName(ctx, s.UserID()); err != nil {
			return TOTPDeviceResult{}, err
		}
	}
	res, err := e.core.CreateTOTPDevice(ctx, s.UserID(), deviceName)
	if err != nil {
		return TOTPDeviceResult{}, err
	}
	if res.Status.OK() {
		e.metricInc(MetricTOTPDeviceCreated)
		e.emitAudit(ctx, AuditEventTOTPDeviceCreated, true, s.UserID(), s.TenantID(), s.Handle(), nil, func() map[string]string {
			return map[string]string{"device": res.DeviceName}
		})
	}
	return TOTPDeviceResult{
		Status:     Status(res.Status),
		DeviceName: res.DeviceName,
		Secret:     res.Secret,
		QRCodeURL:  res.QRCodeURL,
	}, nil
}

func (e *Engine) nextDeviceName(ctx context.Context, userID string) (string, error) {
	devices, err := e.core.ListTOTPDevices(ctx, userID)
	if err != nil {
		return "", err
	}
	taken := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		taken[d.Name] = struct{}{}
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s %d", defaultTOTPDeviceName, i)
		if _, ok := taken[name]; !ok {
			return name, nil
		}
	}
}

// VerifyTOTPDevice verifies a new device with its first code. A verified
// device completes the totp factor in the session.
func (e *Engine) VerifyTOTPDevice(ctx context.Context, s *Session, deviceName, code string) (TOTPVerifyResult, error) {
	if err := e.mfaReady(); err != nil {
		return TOTPVerifyResult{}, err
	}
	ctx = core.WithCallCache(e.withRequestLogger(ctx))
	refusal, err := e.setupRefusal(ctx, s)
	if err != nil {
		return TOTPVerifyResult{}, err
	}
	if refusal != nil {
		return TOTPVerifyResult{Status: refusal.Status, Reason: refusal.Reason, ErrorCode: refusal.ErrorCode}, nil
	}
	if limited, err := e.totpLockedOut(ctx, s); limited != nil || err != nil {
		return derefVerify(limited), err
	}
	res, err := e.core.VerifyTOTPDevice(ctx, s.UserID(), deviceName, code)
	if err != nil {
		return TOTPVerifyResult{}, err
	}
	return e.afterTOTP(ctx, s, res)
}

// VerifyTOTP checks a code from any verified device of the session's user
// and completes the totp factor in the session.
func (e *Engine) VerifyTOTP(ctx context.Context, s *Session, code string) (TOTPVerifyResult, error) {
	if err := e.mfaReady(); err != nil {
		return TOTPVerifyResult{}, err
	}
	ctx = core.WithCallCache(e.withRequestLogger(ctx))
	if limited, err := e.totpLockedOut(ctx, s); limited != nil || err != nil {
		return derefVerify(limited), err
	}
	res, err := e.core.VerifyTOTP(ctx, s.UserID(), code)
	if err != nil {
		return TOTPVerifyResult{}, err
	}
	return e.afterTOTP(ctx, s, res)
}

// totpLockedOut returns a LIMIT_REACHED_ERROR result while the session
// user has no totp attempts left.
func (e *Engine) totpLockedOut(ctx context.Context, s *Session) (*TOTPVerifyResult, error) {
	if e.totpLimit == nil {
		return nil, nil
	}
	st, err := e.totpLimit.Check(ctx, s.UserID())
	if errors.Is(err, rate.ErrRateLimited) {
		e.totpRejected(ctx, s, StatusLimitReached)
		return &TOTPVerifyResult{Status: StatusLimitReached, RetryAfter: st.RetryAfter}, nil
	}
	return nil, err
}

func derefVerify(r *TOTPVerifyResult) TOTPVerifyResult {
	if r == nil {
		return TOTPVerifyResult{}
	}
	return *r
}

func (e *Engine) totpRejected(ctx context.Context, s *Session, status Status) {
	e.metricInc(MetricTOTPFailure)
	e.emitAudit(ctx, AuditEventTOTPFailure, false, s.UserID(), s.TenantID(), s.Handle(), nil, func() map[string]string {
		return map[string]string{"status": string(status)}
	})
	logger.From(ctx, e.log).Info("totp rejected", logger.UserID(s.UserID()), logger.Status(string(status)))
}

func (e *Engine) afterTOTP(ctx context.Context, s *Session, res core.VerifyTOTPResult) (TOTPVerifyResult, error) {
	if !res.Status.OK() {
		out := TOTPVerifyResult{Status: Status(res.Status)}
		if res.Status == core.StatusInvalidTOTP && e.totpLimit != nil {
			st, err := e.totpLimit.RecordFailure(ctx, s.UserID())
			if err != nil && !errors.Is(err, rate.ErrRateLimited) {
				return TOTPVerifyResult{}, err
			}
			out.FailedAttempts, out.MaxAttempts = st.Failures, st.Max
		}
		e.totpRejected(ctx, s, out.Status)
		return out, nil
	}
	if e.totpLimit != nil {
		if err := e.totpLimit.Reset(ctx, s.UserID()); err != nil {
			return TOTPVerifyResult{}, err
		}
	}
	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, AuditEventTOTPVerified, true, s.UserID(), s.TenantID(), s.Handle(), nil, nil)
	if err := e.MarkFactorAsCompleteInSession(ctx, s, mfa.FactorTOTP); err != nil {
		return TOTPVerifyResult{}, err
	}
	return TOTPVerifyResult{Status: StatusOK, WasAlreadyVerified: res.WasAlreadyVerified}, nil
}

// ListTOTPDevices lists the session user's devices.
func (e *Engine) ListTOTPDevices(ctx context.Context, s *Session) ([]core.TOTPDevice, error) {
	if err := e.mfaReady(); err != nil {
		return nil, err
	}
	return e.core.ListTOTPDevices(ctx, s.UserID())
}

// RemoveTOTPDevice deletes one of the session user's devices.
func (e *Engine) RemoveTOTPDevice(ctx context.Context, s *Session, deviceName string) (bool, error) {
	if err := e.mfaReady(); err != nil {
		return false, err
	}
	return e.core.RemoveTOTPDevice(ctx, s.UserID(), deviceName)
}

// totpFactorSource tells the MFA recipe whether a user has a verified device.
func (e *Engine) totpFactorSource() mfa.FactorSource {
	return mfa.FactorSource{
		Factors: []string{mfa.FactorTOTP},
		SetUp: func(ctx context.Context, u *user.User) ([]string, error) {
			devices, err := e.core.ListTOTPDevices(ctx, u.ID)
			if err != nil {
				return nil, err
			}
			for _, d := range devices {
				if d.Verified {
					return []string{mfa.FactorTOTP}, nil
				}
			}
			return nil, nil
		},
	}
}
