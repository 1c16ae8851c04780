package models

import "time"

type Profile struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Plan struct {
	ID          string
	Description string
	Price       int
	Credits     int
}

type Order struct {
	ID       string `json:"id"`
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
	PlanID   string `json:"-"`
	Credits  int    `json:"-"`
}

// PaymentConfirmation is what the hosted checkout hands back after a completed payment.
type PaymentConfirmation struct {
	PaymentID string `json:"razorpay_payment_id"`
	OrderID   string `json:"razorpay_order_id"`
	Signature string `json:"razorpay_signature"`
}

// PendingPayment is an order created in an earlier session that was never confirmed as verified.
type PendingPayment struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

func (p PendingPayment) Confirmation() PaymentConfirmation {
	return PaymentConfirmation{
		PaymentID: p.PaymentID,
		OrderID:   p.OrderID,
		Signature: p.Signature,
	}
}

type JournalStatus string

const (
	JournalCreated   JournalStatus = "created"
	JournalPaid      JournalStatus = "paid"
	JournalVerified  JournalStatus = "verified"
	JournalFailed    JournalStatus = "failed"
	JournalCancelled JournalStatus = "cancelled"
)

type JournalEntry struct {
	ID        int64
	OrderID   string
	PlanID    string
	Amount    int
	Currency  string
	PaymentID string
	Signature string
	Status    JournalStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Generation struct {
	ID         int64
	Prompt     string
	Image      string
	ArchiveURL string
	CreatedAt  time.Time
}
