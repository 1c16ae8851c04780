// Package checkout drives the hosted Razorpay payment widget.
package checkout

import (
	"context"

	"github.com/digkill/imagify/internal/models"
)

type Prefill struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type Theme struct {
	Color string `json:"color,omitempty"`
}

// Options are the documented inputs of the widget. Field names follow the
// Razorpay checkout options object.
type Options struct {
	Key         string  `json:"key"`
	Amount      int     `json:"amount"`
	Currency    string  `json:"currency"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	OrderID     string  `json:"order_id"`
	Receipt     string  `json:"receipt,omitempty"`
	Prefill     Prefill `json:"prefill"`
	Theme       Theme   `json:"theme"`
}

// Handlers are the widget callbacks. OnSuccess fires once the payment
// completed, OnDismiss when the modal closes without payment, OnFailure for a
// failed payment attempt while the modal stays open. Any of them may be nil.
type Handlers struct {
	OnSuccess func(models.PaymentConfirmation)
	OnDismiss func()
	OnFailure func(reason string)
}

// Provider opens a checkout for an order. Open returns once the widget is
// shown; the outcome arrives later through the handlers.
type Provider interface {
	Open(ctx context.Context, opts Options, h Handlers) error
}
