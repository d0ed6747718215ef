package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrDuplicate    = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrUpstream     = errors.New("auth: identity provider failure")
	ErrStore        = errors.New("auth: store failure")
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("auth: invalid token")

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
