// Package common defines sentinel errors and constants shared by the
// repositories, the session service and the HTTP boundary. Callers should use
// errors.Is to match these values; services may wrap them with detail.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrorInternal marks a failure whose detail must not reach the client.
	ErrorInternal = errors.New("internal error")

	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation error")

	// ErrConflict is returned when a unique email or token already exists.
	ErrConflict = errors.New("already exists")

	// ErrInvalidCredentials covers unknown email, wrong password and inactive
	// accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken covers malformed, forged, expired and revoked tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrForbidden is returned when a valid token carries an insufficient role.
	ErrForbidden = errors.New("insufficient permissions")
)
