// Package ledger holds the invoice totals engine and the balance/status
// transition rules. It performs no I/O; persistence and transaction
// orchestration live in the services that call it. Only this package may
// compute an invoice's balance, status transitions or payment list.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tutorlane/backend/internal/models"
)

// round2 rounds a currency amount to 2 decimal places, half away from zero.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineTotal returns qty*unitPrice-discount floored at zero; a discount can
// never make a line negative.
func LineTotal(li models.LineItem) decimal.Decimal {
	line := decimal.NewFromInt(int64(li.Qty)).Mul(li.UnitPricePhp).Sub(li.DiscountPhp)
	if line.IsNegative() {
		return decimal.Zero
	}
	return line
}

// Recalculate recomputes subtotal, tax and total from the line items, and the
// balance from the supplied payment ledger. It is a pure function of its
// inputs and must run before every persisted write of an invoice whose line
// items changed.
//
// When payments is non-nil the balance is computed canonically from the
// ledger: total minus the sum of non-refunded payments, floored at zero.
// When payments is nil the balance is initialized to the total only if it was
// never set; an existing balance is left untouched so that payments not
// loaded in this call are not silently erased.
func Recalculate(inv *models.Invoice, payments []models.Payment) {
	subtotal := decimal.Zero
	for _, li := range inv.LineItems {
		subtotal = subtotal.Add(LineTotal(li))
	}
	tax := subtotal.Mul(inv.TaxRate)
	if tax.IsNegative() {
		tax = decimal.Zero
	}

	inv.SubtotalPhp = round2(subtotal)
	inv.TaxPhp = round2(tax)
	inv.TotalPhp = inv.SubtotalPhp.Add(inv.TaxPhp)

	if payments != nil {
		paid := decimal.Zero
		for i := range payments {
			if payments[i].CountsTowardBalance() {
				paid = paid.Add(payments[i].AmountPhp)
			}
		}
		bal := round2(inv.TotalPhp.Sub(paid))
		if bal.IsNegative() {
			bal = decimal.Zero
		}
		inv.BalancePhp = decimal.NewNullDecimal(bal)
	} else if !inv.BalancePhp.Valid {
		inv.BalancePhp = decimal.NewNullDecimal(inv.TotalPhp)
	}
}

// NewInvoice builds a recalculated invoice in draft status. Invoices enter
// the system only through this constructor so an unrecalculated instance can
// never be persisted.
func NewInvoice(number, userID string, items []models.LineItem, taxRate decimal.Decimal) *models.Invoice {
	inv := &models.Invoice{
		Number:     number,
		UserID:     userID,
		LineItems:  items,
		TaxRate:    taxRate,
		Status:     models.InvoiceDraft,
		PaymentIDs: []string{},
	}
	Recalculate(inv, nil)
	return inv
}

// Balance returns the invoice's effective outstanding balance: the stored
// balance when set, otherwise the total.
func Balance(inv *models.Invoice) decimal.Decimal {
	if inv.BalancePhp.Valid {
		return inv.BalancePhp.Decimal
	}
	return inv.TotalPhp
}

// ApplyPayment records a posted payment against the invoice: appends the
// payment id, decrements the balance (floored at zero) and advances status.
// An exact payoff marks the invoice paid and stamps paidAt once; a partial
// payment against a draft moves it to sent and stamps issuedAt once.
func ApplyPayment(inv *models.Invoice, paymentID string, amount decimal.Decimal, now time.Time) {
	inv.PaymentIDs = append(inv.PaymentIDs, paymentID)

	bal := round2(Balance(inv).Sub(amount))
	if bal.IsNegative() {
		bal = decimal.Zero
	}
	inv.BalancePhp = decimal.NewNullDecimal(bal)

	if bal.IsZero() {
		inv.Status = models.InvoicePaid
		if inv.PaidAt == nil {
			t := now
			inv.PaidAt = &t
		}
	} else if inv.Status == models.InvoiceDraft {
		inv.Status = models.InvoiceSent
		if inv.IssuedAt == nil {
			t := now
			inv.IssuedAt = &t
		}
	}
}

// ApplyRefund reverses a payment's effect on the balance. A paid invoice
// whose balance reopens above zero goes back to sent. paidAt and issuedAt
// are set-once and never cleared.
func ApplyRefund(inv *models.Invoice, amount decimal.Decimal) {
	bal := round2(Balance(inv).Add(amount))
	inv.BalancePhp = decimal.NewNullDecimal(bal)

	if bal.IsPositive() && inv.Status == models.InvoicePaid {
		inv.Status = models.InvoiceSent
	}
}
