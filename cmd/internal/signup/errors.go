package signup

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("signup code not found")
	ErrNotActive    = errors.New("signup code not active")
)
