package calculator

import "errors"

var (
	// ErrInvalidQuota is returned when the available quota is not a positive number.
	ErrInvalidQuota = errors.New("available quota must be a positive number of MiB")
	// ErrInvalidSize is returned when the measured size is negative.
	ErrInvalidSize = errors.New("used bytes must be a non-negative integer")
)
