package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotConfigured    = errors.New("not configured")
	ErrQueryTimeout     = errors.New("query timed out")
)
