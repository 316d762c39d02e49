package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses
const (
	PaymentPosted   = "posted"
	PaymentVerified = "verified" // gateway-confirmed capture
	PaymentRefunded = "refunded"
	PaymentFailed   = "failed"
)

// Payment methods
const (
	MethodCash   = "cash"
	MethodGcash  = "gcash"
	MethodBank   = "bank"
	MethodCard   = "card"
	MethodPayPal = "paypal"
)

// Payment is an immutable capture record against an invoice. The only
// mutation permitted after creation is the status transition to refunded.
type Payment struct {
	ID            string              `json:"id" db:"id"`
	InvoiceID     string              `json:"invoiceId" db:"invoice_id"`
	Method        string              `json:"method" db:"method"`
	AmountPhp     decimal.Decimal     `json:"amountPhp" db:"amount_php"`
	AmountUsd     decimal.NullDecimal `json:"amountUsd,omitempty" db:"amount_usd"`
	Status        string              `json:"status" db:"status"`
	PaidAt        time.Time           `json:"paidAt" db:"paid_at"`
	Reference     string              `json:"reference,omitempty" db:"reference"` // e.g. GCASH ref #
	PayPalOrderID string              `json:"paypalOrderId,omitempty" db:"paypal_order_id"`
	Raw           json.RawMessage     `json:"raw,omitempty" db:"raw"` // gateway payload, stored verbatim
	Notes         string              `json:"notes,omitempty" db:"notes"`
	CreatedAt     time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time           `json:"updatedAt" db:"updated_at"`
}

// CountsTowardBalance reports whether the payment reduces the invoice
// balance. Refunded and failed payments do not.
func (p *Payment) CountsTowardBalance() bool {
	return p.Status != PaymentRefunded && p.Status != PaymentFailed
}
