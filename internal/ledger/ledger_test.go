package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/tutorlane/backend/internal/models"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestRecalculate(t *testing.T) {
	t.Run("worked example 2x500 at 12 percent", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000123", "user1", []models.LineItem{
			{Description: "Math tutoring package", Qty: 2, UnitPricePhp: dec("500"), DiscountPhp: decimal.Zero},
		}, dec("0.12"))

		assert.True(t, dec("1000").Equal(inv.SubtotalPhp))
		assert.True(t, dec("120").Equal(inv.TaxPhp))
		assert.True(t, dec("1120").Equal(inv.TotalPhp))
		assert.True(t, inv.BalancePhp.Valid)
		assert.True(t, dec("1120").Equal(inv.BalancePhp.Decimal))
		assert.Equal(t, models.InvoiceDraft, inv.Status)
	})

	t.Run("empty line items", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000124", "user1", nil, dec("0.12"))

		assert.True(t, inv.SubtotalPhp.IsZero())
		assert.True(t, inv.TaxPhp.IsZero())
		assert.True(t, inv.TotalPhp.IsZero())
		assert.True(t, inv.BalancePhp.Decimal.IsZero())
	})

	t.Run("discount cannot make a line negative", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000125", "user1", []models.LineItem{
			{Description: "Trial session", Qty: 1, UnitPricePhp: dec("300"), DiscountPhp: dec("500")},
			{Description: "Review session", Qty: 1, UnitPricePhp: dec("200"), DiscountPhp: dec("50")},
		}, decimal.Zero)

		assert.True(t, dec("150").Equal(inv.SubtotalPhp))
		assert.True(t, dec("150").Equal(inv.TotalPhp))
	})

	t.Run("total equals subtotal plus tax at 2 decimals", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000126", "user1", []models.LineItem{
			{Description: "Odd pricing", Qty: 3, UnitPricePhp: dec("333.335"), DiscountPhp: decimal.Zero},
		}, dec("0.12"))

		assert.True(t, inv.TotalPhp.Equal(inv.SubtotalPhp.Add(inv.TaxPhp)))
		assert.True(t, inv.SubtotalPhp.GreaterThanOrEqual(decimal.Zero))
	})

	t.Run("idempotent on unchanged invoice", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000127", "user1", []models.LineItem{
			{Description: "Science tutoring", Qty: 4, UnitPricePhp: dec("750.25"), DiscountPhp: dec("100")},
		}, dec("0.12"))

		subtotal, tax, total := inv.SubtotalPhp, inv.TaxPhp, inv.TotalPhp
		Recalculate(inv, nil)

		assert.True(t, subtotal.Equal(inv.SubtotalPhp))
		assert.True(t, tax.Equal(inv.TaxPhp))
		assert.True(t, total.Equal(inv.TotalPhp))
	})

	t.Run("existing balance untouched when payments not loaded", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000128", "user1", []models.LineItem{
			{Description: "English tutoring", Qty: 1, UnitPricePhp: dec("1000"), DiscountPhp: decimal.Zero},
		}, decimal.Zero)
		inv.BalancePhp = decimal.NewNullDecimal(dec("400")) // reflects payments not loaded here

		Recalculate(inv, nil)

		assert.True(t, dec("400").Equal(inv.BalancePhp.Decimal))
	})

	t.Run("balance computed from ledger excludes refunded payments", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000129", "user1", []models.LineItem{
			{Description: "Package", Qty: 1, UnitPricePhp: dec("1000"), DiscountPhp: decimal.Zero},
		}, dec("0.12"))

		payments := []models.Payment{
			{AmountPhp: dec("500"), Status: models.PaymentPosted},
			{AmountPhp: dec("300"), Status: models.PaymentRefunded},
			{AmountPhp: dec("100"), Status: models.PaymentFailed},
		}
		Recalculate(inv, payments)

		assert.True(t, dec("620").Equal(inv.BalancePhp.Decimal))
	})

	t.Run("overpayment floors balance at zero", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000130", "user1", []models.LineItem{
			{Description: "Package", Qty: 1, UnitPricePhp: dec("100"), DiscountPhp: decimal.Zero},
		}, decimal.Zero)

		Recalculate(inv, []models.Payment{{AmountPhp: dec("250"), Status: models.PaymentPosted}})

		assert.True(t, inv.BalancePhp.Decimal.IsZero())
	})
}

func TestApplyPayment(t *testing.T) {
	now := time.Now()

	t.Run("exact payoff marks paid and stamps paidAt once", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000200", "user1", []models.LineItem{
			{Description: "Package", Qty: 2, UnitPricePhp: dec("500"), DiscountPhp: decimal.Zero},
		}, dec("0.12"))

		ApplyPayment(inv, "pay1", dec("1120"), now)

		assert.True(t, inv.BalancePhp.Decimal.IsZero())
		assert.Equal(t, models.InvoicePaid, inv.Status)
		assert.NotNil(t, inv.PaidAt)
		assert.Equal(t, []string{"pay1"}, inv.PaymentIDs)

		firstPaidAt := *inv.PaidAt
		ApplyPayment(inv, "pay2", dec("10"), now.Add(time.Hour))
		assert.Equal(t, firstPaidAt, *inv.PaidAt)
	})

	t.Run("partial payment moves draft to sent and stamps issuedAt", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000201", "user1", []models.LineItem{
			{Description: "Package", Qty: 2, UnitPricePhp: dec("500"), DiscountPhp: decimal.Zero},
		}, dec("0.12"))

		ApplyPayment(inv, "pay1", dec("500"), now)

		assert.True(t, dec("620").Equal(inv.BalancePhp.Decimal))
		assert.Equal(t, models.InvoiceSent, inv.Status)
		assert.NotNil(t, inv.IssuedAt)
		assert.Nil(t, inv.PaidAt)
	})

	t.Run("partial payment on sent invoice keeps status", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000202", "user1", []models.LineItem{
			{Description: "Package", Qty: 1, UnitPricePhp: dec("1000"), DiscountPhp: decimal.Zero},
		}, decimal.Zero)
		inv.Status = models.InvoiceSent

		ApplyPayment(inv, "pay1", dec("400"), now)

		assert.Equal(t, models.InvoiceSent, inv.Status)
		assert.True(t, dec("600").Equal(inv.BalancePhp.Decimal))
	})

	t.Run("overpayment floors at zero", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000203", "user1", []models.LineItem{
			{Description: "Package", Qty: 1, UnitPricePhp: dec("100"), DiscountPhp: decimal.Zero},
		}, decimal.Zero)

		ApplyPayment(inv, "pay1", dec("150"), now)

		assert.True(t, inv.BalancePhp.Decimal.IsZero())
		assert.Equal(t, models.InvoicePaid, inv.Status)
	})
}

func TestApplyRefund(t *testing.T) {
	now := time.Now()

	t.Run("refund of full payoff reopens invoice to sent", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000300", "user1", []models.LineItem{
			{Description: "Package", Qty: 2, UnitPricePhp: dec("500"), DiscountPhp: decimal.Zero},
		}, dec("0.12"))

		ApplyPayment(inv, "pay1", dec("1120"), now)
		assert.Equal(t, models.InvoicePaid, inv.Status)

		ApplyRefund(inv, dec("1120"))

		assert.True(t, dec("1120").Equal(inv.BalancePhp.Decimal))
		assert.Equal(t, models.InvoiceSent, inv.Status)
		// paidAt is set-once, never cleared
		assert.NotNil(t, inv.PaidAt)
	})

	t.Run("refund round trip restores pre-payment balance", func(t *testing.T) {
		inv := NewInvoice("INV-2025-000301", "user1", []models.LineItem{
			{Description: "Package", Qty: 3, UnitPricePhp: dec("417.33"), DiscountPhp: dec("25.50")},
		}, dec("0.12"))

		before := Balance(inv)
		ApplyPayment(inv, "pay1", dec("200.45"), now)
		ApplyRefund(inv, dec("200.45"))

		assert.True(t, before.Equal(inv.BalancePhp.Decimal))
	})
}
