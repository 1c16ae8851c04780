package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized marks a 401 response: the bearer token is no longer accepted.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTimeout is returned when a call exceeds the client timeout. Retryable.
	ErrTimeout = errors.New("request timed out")
	// ErrNetwork wraps transport failures where no response was received. Retryable.
	ErrNetwork = errors.New("backend unreachable")
)

// CodeDuplicatePayment is reported by verify-payment when the payment was already applied.
const CodeDuplicatePayment = "DUPLICATE_PAYMENT"

// Error is a response the backend produced on purpose: a non-2xx status or a
// body carrying success:false.
type Error struct {
	Status        int
	Code          string
	Message       string
	CreditBalance *int
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request rejected"
	}
	if e.Code != "" {
		return fmt.Sprintf("backend error: status=%d code=%s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("backend error: status=%d: %s", e.Status, msg)
}

// IsRetryable reports whether repeating the same call may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return false
}

// Message extracts a user-facing message from err, falling back to fallback.
func Message(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
