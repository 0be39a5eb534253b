package api

import (
	"net/http"
	"strings"

	"github.com/MrEthical07/authsdk"
	"github.com/MrEthical07/authsdk/mfa"
)

type mfaInfoOut struct {
	Status  string `json:"status"`
	Factors struct {
		AlreadySetup   []string `json:"alreadySetup"`
		AllowedToSetup []string `json:"allowToSetup"`
		Next           []string `json:"next"`
	} `json:"factors"`
	Emails       []string `json:"emails"`
	PhoneNumbers []string `json:"phoneNumbers"`
}

func (h *Handler) mfaInfo(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	info, err := h.engine.MFAInfo(r.Context(), s)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	setAccessToken(w, s)
	writeJSON(w, http.StatusOK, newMFAInfoOut(info))
}

func newMFAInfoOut(info mfa.Info) mfaInfoOut {
	out := mfaInfoOut{Status: "OK", Emails: info.Emails, PhoneNumbers: info.PhoneNumbers}
	out.Factors.AlreadySetup = info.AlreadySetup
	out.Factors.AllowedToSetup = info.AllowedToSetup
	out.Factors.Next = info.Next
	return out
}

type createDeviceIn struct {
	DeviceName string `json:"deviceName"`
}

type createDeviceOut struct {
	Status     authsdk.Status `json:"status"`
	DeviceName string         `json:"deviceName,omitempty"`
	Secret     string         `json:"secret,omitempty"`
	QRCodeURL  string         `json:"qrCodeString,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	ErrorCode  string         `json:"errorCode,omitempty"`
}

func (h *Handler) createTOTPDevice(w http.ResponseWriter, r *http.Request) {
	var in createDeviceIn
	if r.ContentLength != 0 && !decode(w, r, &in) {
		return
	}
	res, err := h.engine.CreateTOTPDevice(r.Context(), sessionFrom(r), in.DeviceName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, createDeviceOut{
		Status:     res.Status,
		DeviceName: res.DeviceName,
		Secret:     res.Secret,
		QRCodeURL:  res.QRCodeURL,
		Reason:     res.Reason,
		ErrorCode:  res.ErrorCode,
	})
}

type verifyIn struct {
	DeviceName string `json:"deviceName"`
	TOTP       string `json:"totp"`
}

type verifyOut struct {
	Status             authsdk.Status `json:"status"`
	WasAlreadyVerified *bool          `json:"wasAlreadyVerified,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	ErrorCode          string         `json:"errorCode,omitempty"`
	FailedAttempts     int            `json:"currentNumberOfFailedAttempts,omitempty"`
	MaxAttempts        int            `json:"maxNumberOfFailedAttempts,omitempty"`
	RetryAfterMs       int64          `json:"retryAfterMs,omitempty"`
}

func (h *Handler) verifyTOTPDevice(w http.ResponseWriter, r *http.Request) {
	var in verifyIn
	if !decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.DeviceName) == "" || in.TOTP == "" {
		writeErr(w, http.StatusBadRequest, "deviceName and totp are required")
		return
	}
	s := sessionFrom(r)
	res, err := h.engine.VerifyTOTPDevice(r.Context(), s, in.DeviceName, in.TOTP)
	h.writeVerify(w, r, s, res, err, true)
}

func (h *Handler) verifyTOTP(w http.ResponseWriter, r *http.Request) {
	var in verifyIn
	if !decode(w, r, &in) {
		return
	}
	if in.TOTP == "" {
		writeErr(w, http.StatusBadRequest, "totp is required")
		return
	}
	s := sessionFrom(r)
	res, err := h.engine.VerifyTOTP(r.Context(), s, in.TOTP)
	h.writeVerify(w, r, s, res, err, false)
}

func (h *Handler) writeVerify(w http.ResponseWriter, r *http.Request, s *authsdk.Session, res authsdk.TOTPVerifyResult, err error, device bool) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := verifyOut{
		Status:         res.Status,
		Reason:         res.Reason,
		ErrorCode:      res.ErrorCode,
		FailedAttempts: res.FailedAttempts,
		MaxAttempts:    res.MaxAttempts,
		RetryAfterMs:   res.RetryAfter.Milliseconds(),
	}
	if res.Status == authsdk.StatusOK {
		setAccessToken(w, s)
		if device {
			was := res.WasAlreadyVerified
			out.WasAlreadyVerified = &was
		}
	}
	writeJSON(w, http.StatusOK, out)
}
