package mfa

// Factor ids understood by the SDK.
const (
	FactorEmailPassword = "emailpassword"
	FactorThirdParty    = "thirdparty"
	FactorOTPEmail      = "otp-email"
	FactorOTPPhone      = "otp-phone"
	FactorLinkEmail     = "link-email"
	FactorLinkPhone     = "link-phone"
	FactorTOTP          = "totp"
	FactorWebauthn      = "webauthn"
)

// AllFactors lists every known factor id.
func AllFactors() []string {
	return []string{
		FactorEmailPassword,
		FactorThirdParty,
		FactorOTPEmail,
		FactorOTPPhone,
		FactorLinkEmail,
		FactorLinkPhone,
		FactorTOTP,
		FactorWebauthn,
	}
}

// IsKnownFactor reports whether id is one of the declared factor ids.
func IsKnownFactor(id string) bool {
	for _, f := range AllFactors() {
		if f == id {
			return true
		}
	}
	return false
}
