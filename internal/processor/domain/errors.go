package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNoMarketplaceCredential means the platform credential is not
	// configured. Fatal configuration error, never retryable.
	ErrNoMarketplaceCredential = errors.New("no_marketplace_credential")
	// ErrProcessorTimeout marks a call whose outcome is unknown: the
	// refund may or may not have been applied remotely.
	ErrProcessorTimeout = errors.New("processor_timeout")
)

// ProcessorError is a typed failure returned by the processor API.
type ProcessorError struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor error %s: %s", e.Code, e.Message)
}

// IsTimeout reports whether err represents an unknown-outcome timeout
// rather than a definitive processor rejection.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProcessorTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
