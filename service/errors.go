package service

import "errors"

// Business outcomes the handlers translate into HTTP responses.
// None of them says why a credential was rejected.
var (
	ErrUnauthorized = errors.New("invalid credentials or token")
	ErrForbidden    = errors.New("operation not permitted")
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("username or email already registered")
	ErrValidation   = errors.New("validation failed")
	ErrUnavailable  = errors.New("service temporarily unavailable")
)
