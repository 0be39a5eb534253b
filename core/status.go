package core

// Status is the discriminant of every structured core result.
type Status string

const (
	StatusOK                                             Status = "OK"
	StatusRecipeUserIDAlreadyLinkedWithPrimaryUserID     Status = "RECIPE_USER_ID_ALREADY_LINKED_WITH_PRIMARY_USER_ID_ERROR"
	StatusRecipeUserIDAlreadyLinkedWithAnotherPrimary    Status = "RECIPE_USER_ID_ALREADY_LINKED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR"
	StatusAccountInfoAlreadyAssociatedWithAnotherPrimary Status = "ACCOUNT_INFO_ALREADY_ASSOCIATED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR"
	StatusInputUserIsNotAPrimaryUser                     Status = "INPUT_USER_IS_NOT_A_PRIMARY_USER"
	StatusEmailAlreadyExists                             Status = "EMAIL_ALREADY_EXISTS_ERROR"
	StatusWrongCredentials                               Status = "WRONG_CREDENTIALS_ERROR"
	StatusEmailChangeNotAllowed                          Status = "EMAIL_CHANGE_NOT_ALLOWED_ERROR"
	StatusUnknownDevice                                  Status = "UNKNOWN_DEVICE_ERROR"
	StatusUnknownUserID                                  Status = "UNKNOWN_USER_ID_ERROR"
	StatusInvalidTOTP                                    Status = "INVALID_TOTP_ERROR"
	StatusDeviceAlreadyExists                            Status = "DEVICE_ALREADY_EXISTS_ERROR"
)

// OK reports whether s is StatusOK.
func (s Status) OK() bool {
	return s == StatusOK
}

// IsRaceSignal reports whether s means the primary-user mapping changed
// concurrently with the caller's reads.
func (s Status) IsRaceSignal() bool {
	switch s {
	case StatusRecipeUserIDAlreadyLinkedWithPrimaryUserID,
		StatusRecipeUserIDAlreadyLinkedWithAnotherPrimary,
		StatusAccountInfoAlreadyAssociatedWithAnotherPrimary,
		StatusInputUserIsNotAPrimaryUser:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
