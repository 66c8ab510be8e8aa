package store

import "errors"

var (
	// ErrNotFound is returned when an account or the pricing row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when arguments fail validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists is returned when creating an account that exists.
	ErrAlreadyExists = errors.New("already exists")
)
