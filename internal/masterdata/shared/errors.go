package shared

import "errors"

var (
	ErrNotFound      = errors.New("masterdata: not found")
	ErrDuplicate     = errors.New("masterdata: duplicate code")
	ErrInvalidID     = errors.New("masterdata: invalid id")
	ErrRequiredField = errors.New("masterdata: required field missing")
)
