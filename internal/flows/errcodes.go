package flows

// Status is the outcome of a sign-in/up or factor flow. Recipe statuses
// reported by the core pass through unchanged.
type Status string

const (
	StatusOK                    Status = "OK"
	StatusSignInUpNotAllowed    Status = "SIGN_IN_UP_NOT_ALLOWED"
	StatusDisallowedFirstFactor Status = "DISALLOWED_FIRST_FACTOR_ERROR"
	StatusFactorSetupNotAllowed Status = "FACTOR_SETUP_NOT_ALLOWED_ERROR"
	StatusEmailAlreadyExists    Status = "EMAIL_ALREADY_EXISTS_ERROR"
	StatusWrongCredentials      Status = "WRONG_CREDENTIALS_ERROR"
)

// Support codes attached to refusals so operators can map a user report to
// the branch that produced it.
const (
	CodeEmailPasswordSignUpNotAllowed = "ERR_CODE_002"
	CodeEmailPasswordSignInNotAllowed = "ERR_CODE_003"
	CodeThirdPartySignInNotAllowed    = "ERR_CODE_004"
	CodeThirdPartyEmailChange         = "ERR_CODE_005"
	CodeThirdPartySignUpNotAllowed    = "ERR_CODE_006"
	CodeFactorUserMismatch            = "ERR_CODE_007"
	CodeFactorSetupNotAllowed         = "ERR_CODE_009"
	CodeInvalidFirstFactor            = "ERR_CODE_010"
	CodeSessionUserEmailNotVerified   = "ERR_CODE_020"
	CodeLinkAlreadyLinked             = "ERR_CODE_021"
	CodeLinkAccountInfoConflict       = "ERR_CODE_022"
	CodeSessionUserAccountInfoTaken   = "ERR_CODE_023"
)

var codeReasons = map[string]string{
	CodeEmailPasswordSignUpNotAllowed: "Cannot sign up due to security reasons. Please try logging in, use a different login method or contact support.",
	CodeEmailPasswordSignInNotAllowed: "Cannot sign in due to security reasons. Please try resetting your password, use a different login method or contact support.",
	CodeThirdPartySignInNotAllowed:    "Cannot sign in / up due to security reasons. Please try a different login method or contact support.",
	CodeThirdPartyEmailChange:         "Cannot sign in / up because your email is already associated with another account. Please contact support.",
	CodeThirdPartySignUpNotAllowed:    "Cannot sign in / up due to security reasons. Please try a different login method or contact support.",
	CodeFactorUserMismatch:            "Cannot complete factor: the authenticated identity belongs to a different user than the session.",
	CodeFactorSetupNotAllowed:         "Cannot set up this factor at this point. Please complete the required factors first.",
	CodeInvalidFirstFactor:            "This login method is not allowed as a first factor for this tenant.",
	CodeSessionUserEmailNotVerified:   "Cannot link this login method: verify the same email on your account first.",
	CodeLinkAlreadyLinked:             "This login method is already linked to another account. Please contact support.",
	CodeLinkAccountInfoConflict:       "This login method's email or phone number belongs to another account. Please contact support.",
	CodeSessionUserAccountInfoTaken:   "Your account's email or phone number belongs to another account. Please contact support.",
}

// Reason returns the human-readable text of a support code.
func Reason(code string) string {
	return codeReasons[code]
}

// Refusal describes why a flow declined to proceed.
type Refusal struct {
	Status    Status
	Reason    string
	ErrorCode string
}

func refuse(status Status, code string) *Refusal {
	return &Refusal{Status: status, Reason: Reason(code), ErrorCode: code}
}
