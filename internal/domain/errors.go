package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")

	ErrDuplicateEmail    = errors.New("email address already in use")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserDoesNotExist  = errors.New("user does not exist")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateToken    = errors.New("auth token already exists")

	ErrAuthFailed    = errors.New("authentication failed")
	ErrTokenNotFound = errors.New("auth token not found")
	ErrTokenExpired  = errors.New("auth token expired")

	ErrMalformedCredential     = errors.New("malformed credential")
	ErrProviderUnauthorized    = errors.New("identity provider refused credential")
	ErrProviderUnavailable     = errors.New("identity provider unavailable")
	ErrProviderResponseInvalid = errors.New("identity provider response invalid")

	ErrStore    = errors.New("store error")
	ErrInternal = errors.New("internal error")
)

// StoreError wraps a persistence failure so that it matches both ErrStore and
// the underlying cause.
func StoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

// IsUnauthorized groups the failures that callers must not be able to tell apart.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrTokenExpired)
}
