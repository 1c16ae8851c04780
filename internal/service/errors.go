package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrValidation is the parent of every locally rejected input. Such errors
// never reach the network.
var ErrValidation = errors.New("validation failed")

var (
	ErrInvalidPrompt   = fmt.Errorf("%w: prompt must not be empty", ErrValidation)
	ErrInvalidEmail    = fmt.Errorf("%w: malformed email", ErrValidation)
	ErrMissingPassword = fmt.Errorf("%w: password is required", ErrValidation)
	ErrMissingName     = fmt.Errorf("%w: name is required", ErrValidation)
)

var (
	ErrLoginRequired     = errors.New("login required")
	ErrCreditsExhausted  = errors.New("credit balance exhausted")
	ErrPaymentInProgress = errors.New("another payment is in progress")
	ErrUnknownPlan       = errors.New("unknown plan")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
