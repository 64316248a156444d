package app

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("Invalid email or password")

	ErrMissingSignupFields = errors.New("Missing required fields")
	ErrInviteInvalid       = errors.New("Invalid invite code")
	ErrInviteUsed          = errors.New("Invite code already used")
	ErrEmailTaken          = errors.New("Email already registered")
	ErrInviteExists        = errors.New("Code already exists")

	ErrNotFound = errors.New("Not found")
)

// ValidationError is a client mistake whose message is safe to return as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
