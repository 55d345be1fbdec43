package usecase

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("order is not in a valid state for this operation")
	ErrDuplicate    = errors.New("duplicate idempotency key")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
)
