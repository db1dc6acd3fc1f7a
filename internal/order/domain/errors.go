package domain

import "errors"

var (
	ErrOrderNotFound   = errors.New("order_not_found")
	ErrOrderNotPaid    = errors.New("order_not_paid")
	ErrEventMismatch   = errors.New("event_mismatch")
	ErrStatusConflict  = errors.New("order_status_conflict")
	ErrInvalidPlatform = errors.New("invalid_platform")
)
