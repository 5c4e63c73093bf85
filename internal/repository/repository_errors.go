package repository

import "errors"

var (
	ErrTraceNotFound        = errors.New("trace not found")
	ErrDuplicateTrace       = errors.New("trace already exists for message id")
	ErrTraceAlreadyTerminal = errors.New("trace already terminal")
	ErrInvalidCompletion    = errors.New("completion status must be terminal")
)
