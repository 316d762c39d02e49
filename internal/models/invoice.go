package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice statuses
const (
	InvoiceDraft = "draft"
	InvoiceSent  = "sent"
	InvoicePaid  = "paid"
	InvoiceVoid  = "void"
)

// LineItem represents one billable entry on an invoice
type LineItem struct {
	Description  string          `json:"description" validate:"required"`
	PackageID    string          `json:"packageId,omitempty"`
	CourseID     string          `json:"courseId,omitempty"`
	Qty          int             `json:"qty" validate:"required,min=1"`
	UnitPricePhp decimal.Decimal `json:"unitPricePhp"`
	DiscountPhp  decimal.Decimal `json:"discountPhp"`
}

// Invoice represents a billing document issued to a guardian or student.
// SubtotalPhp/TaxPhp/TotalPhp are derived fields; BalancePhp is Valid only
// after the first recalculation against the payment ledger.
type Invoice struct {
	ID           string              `json:"id" db:"id"`
	Number       string              `json:"number" db:"number"` // e.g. INV-2025-000123
	UserID       string              `json:"userId" db:"user_id"`
	GuardianID   string              `json:"guardianId,omitempty" db:"guardian_id"`
	EnrollmentID string              `json:"enrollmentId,omitempty" db:"enrollment_id"`
	LineItems    []LineItem          `json:"lineItems" db:"line_items"`
	SubtotalPhp  decimal.Decimal     `json:"subtotalPhp" db:"subtotal_php"`
	TaxPhp       decimal.Decimal     `json:"taxPhp" db:"tax_php"`
	TotalPhp     decimal.Decimal     `json:"totalPhp" db:"total_php"`
	BalancePhp   decimal.NullDecimal `json:"balancePhp" db:"balance_php"`
	TaxRate      decimal.Decimal     `json:"taxRate" db:"tax_rate"` // fraction, e.g. 0.12
	Status       string              `json:"status" db:"status"`
	DueDate      *time.Time          `json:"dueDate,omitempty" db:"due_date"`
	IssuedAt     *time.Time          `json:"issuedAt,omitempty" db:"issued_at"`
	PaidAt       *time.Time          `json:"paidAt,omitempty" db:"paid_at"`
	PaymentIDs   []string            `json:"paymentIds" db:"payment_ids"`
	Notes        string              `json:"notes,omitempty" db:"notes"`
	CreatedAt    time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time           `json:"updatedAt" db:"updated_at"`
}

// ValidStatus reports whether s is one of the invoice status enum values.
func ValidStatus(s string) bool {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoicePaid, InvoiceVoid:
		return true
	}
	return false
}
