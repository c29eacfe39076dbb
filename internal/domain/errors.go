package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrLockHeld         = errors.New("lock already held")
	ErrInsufficientData = errors.New("insufficient data")
	ErrLengthMismatch   = errors.New("series length mismatch")
	ErrUnknownMarket    = errors.New("unknown market")
	ErrStrandedLeg      = errors.New("stranded leg: failsafe unwind not confirmed")
)
