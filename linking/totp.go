package linking

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/MrEthical07/authsdk/core"
)

func (e *Engine) totpOpts(d TOTPDeviceRecord) totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    d.Period,
		Skew:      d.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// matchCode returns the time step code was generated for, searching the
// skew window around now.
func (e *Engine) matchCode(d TOTPDeviceRecord, code string, now time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if code == "" || d.Period == 0 {
		return 0, false
	}
	opts := e.totpOpts(d)
	period := time.Duration(d.Period) * time.Second
	skew := int(d.Skew)
	for i := -skew; i <= skew; i++ {
		at := now.Add(time.Duration(i) * period)
		want, err := totp.GenerateCodeCustom(d.Secret, at, opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return at.Unix() / int64(d.Period), true
		}
	}
	return 0, false
}

func (e *Engine) deviceOwner(ctx context.Context, userID string) (string, error) {
	u, err := e.loadUser(ctx, userID)
	if err != nil || u == nil {
		return "", err
	}
	return u.ID, nil
}

func (e *Engine) CreateTOTPDevice(ctx context.Context, userID, deviceName string) (core.CreateTOTPDeviceResult, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return core.CreateTOTPDeviceResult{}, err
	}
	defer unlock()

	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return core.CreateTOTPDeviceResult{}, err
	}
	if u == nil {
		return core.CreateTOTPDeviceResult{Status: core.StatusUnknownUserID}, nil
	}
	devices, err := e.store.TOTPDevices(ctx, u.ID)
	if err != nil {
		return core.CreateTOTPDeviceResult{}, err
	}
	deviceName = strings.TrimSpace(deviceName)
	if deviceName == "" {
		deviceName = fmt.Sprintf("TOTP Device %d", len(devices))
	}
	for _, d := range devices {
		if d.Name == deviceName {
			return core.CreateTOTPDeviceResult{Status: core.StatusDeviceAlreadyExists}, nil
		}
	}

	account := u.ID
	if len(u.Emails) > 0 {
		account = u.Emails[0]
	} else if len(u.PhoneNumbers) > 0 {
		account = u.PhoneNumbers[0]
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.totp.Issuer,
		AccountName: account,
		Period:      e.totp.Period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return core.CreateTOTPDeviceResult{}, err
	}

	record := TOTPDeviceRecord{
		Name:      deviceName,
		Secret:    key.Secret(),
		Period:    e.totp.Period,
		Skew:      e.totp.Skew,
		CreatedAt: e.nowMillis(),
	}
	if err := e.store.PutTOTPDevice(ctx, u.ID, record); err != nil {
		return core.CreateTOTPDeviceResult{}, err
	}
	return core.CreateTOTPDeviceResult{
		Status:     core.StatusOK,
		DeviceName: deviceName,
		Secret:     key.Secret(),
		QRCodeURL:  key.URL(),
	}, nil
}

// VerifyTOTPDevice checks a code against one device and marks the device
// verified. Codes from a time step at or before the last accepted one are
// rejected.
func (e *Engine) VerifyTOTPDevice(ctx context.Context, userID, deviceName, code string) (core.VerifyTOTPResult, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return core.VerifyTOTPResult{}, err
	}
	defer unlock()

	owner, err := e.deviceOwner(ctx, userID)
	if err != nil {
		return core.VerifyTOTPResult{}, err
	}
	devices, err := e.store.TOTPDevices(ctx, owner)
	if err != nil {
		return core.VerifyTOTPResult{}, err
	}
	for _, d := range devices {
		if d.Name != deviceName {
			continue
		}
		counter, ok := e.matchCode(d, code, e.now())
		if !ok || counter <= d.LastUsedCounter {
			return core.VerifyTOTPResult{Status: core.StatusInvalidTOTP}, nil
		}
		was := d.Verified
		d.Verified = true
		d.LastUsedCounter = counter
		if err := e.store.PutTOTPDevice(ctx, owner, d); err != nil {
			return core.VerifyTOTPResult{}, err
		}
		return core.VerifyTOTPResult{Status: core.StatusOK, WasAlreadyVerified: was}, nil
	}
	return core.VerifyTOTPResult{Status: core.StatusUnknownDevice}, nil
}

// VerifyTOTP accepts a code from any verified device of the user.
func (e *Engine) VerifyTOTP(ctx context.Context, userID, code string) (core.VerifyTOTPResult, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return core.VerifyTOTPResult{}, err
	}
	defer unlock()

	owner, err := e.deviceOwner(ctx, userID)
	if err != nil {
		return core.VerifyTOTPResult{}, err
	}
	devices, err := e.store.TOTPDevices(ctx, owner)
	if err != nil {
		return core.VerifyTOTPResult{}, err
	}
	now := e.now()
	anyVerified := false
	for _, d := range devices {
		if !d.Verified {
			continue
		}
		anyVerified = true
		counter, ok := e.matchCode(d, code, now)
		if !ok || counter <= d.LastUsedCounter {
			continue
		}
		d.LastUsedCounter = counter
		if err := e.store.PutTOTPDevice(ctx, owner, d); err != nil {
			return core.VerifyTOTPResult{}, err
		}
		return core.VerifyTOTPResult{Status: core.StatusOK}, nil
	}
	if !anyVerified {
		return core.VerifyTOTPResult{Status: core.StatusUnknownUserID}, nil
	}
	return core.VerifyTOTPResult{Status: core.StatusInvalidTOTP}, nil
}

func (e *Engine) ListTOTPDevices(ctx context.Context, userID string) ([]core.TOTPDevice, error) {
	owner, err := e.deviceOwner(ctx, userID)
	if err != nil || owner == "" {
		return nil, err
	}
	devices, err := e.store.TOTPDevices(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]core.TOTPDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, core.TOTPDevice{Name: d.Name, Period: int(d.Period), Skew: int(d.Skew), Verified: d.Verified})
	}
	return out, nil
}

func (e *Engine) RemoveTOTPDevice(ctx context.Context, userID, deviceName string) (bool, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	owner, err := e.deviceOwner(ctx, userID)
	if err != nil || owner == "" {
		return false, err
	}
	return e.store.DeleteTOTPDevice(ctx, owner, deviceName)
}

func (e *Engine) deleteDevices(ctx context.Context, userID string) error {
	devices, err := e.store.TOTPDevices(ctx, userID)
	if err != nil {
		return err
	}
	for _, d := range devices {
		if _, err := e.store.DeleteTOTPDevice(ctx, userID, d.Name); err != nil {
			return err
		}
	}
	return nil
}
