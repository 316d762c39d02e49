package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tutorlane/backend/internal/config"
	"github.com/tutorlane/backend/internal/database"
	"github.com/tutorlane/backend/internal/ledger"
	"github.com/tutorlane/backend/internal/models"
)

type PaymentService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
	cfg       *config.BillingConfig
}

func NewPaymentService(db *sql.DB, redisClient *redis.Client, cfg *config.BillingConfig) *PaymentService {
	return &PaymentService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// CreatePaymentRequest represents the manual payment capture payload
// @Description Payment capture request structure
type CreatePaymentRequest struct {
	InvoiceID string          `json:"invoiceId" validate:"required"`
	Method    string          `json:"method" validate:"required,oneof=cash gcash bank card paypal"`
	AmountPhp decimal.Decimal `json:"amountPhp"`
	PaidAt    *time.Time      `json:"paidAt"`
	Reference string          `json:"reference"`
	Notes     string          `json:"notes"`
}

const paymentColumns = `id, invoice_id, method, amount_php, amount_usd, status,
	paid_at, reference, paypal_order_id, raw, notes, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var reference, paypalOrderID, notes sql.NullString
	var raw []byte

	err := row.Scan(
		&p.ID, &p.InvoiceID, &p.Method, &p.AmountPhp, &p.AmountUsd, &p.Status,
		&p.PaidAt, &reference, &paypalOrderID, &raw, &notes, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Reference = reference.String
	p.PayPalOrderID = paypalOrderID.String
	p.Notes = notes.String
	p.Raw = raw
	return &p, nil
}

// capture inserts a payment and applies it to its invoice in one
// transaction. The invoice row is locked first, so the insert and the
// balance update land together or not at all. Both the manual capture
// endpoint and the PayPal capture flow funnel through here.
func (s *PaymentService) capture(ctx context.Context, p *models.Payment) (*models.Invoice, error) {
	var inv *models.Invoice
	err := database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		inv, err = lockInvoiceTx(tx, p.InvoiceID)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: invoice %s", ledger.ErrNotFound, p.InvoiceID)
			}
			return err
		}

		if inv.Status == models.InvoiceVoid {
			return fmt.Errorf("%w: cannot record a payment against a void invoice", ledger.ErrInvalidState)
		}

		err = tx.QueryRow(`
			INSERT INTO payments
			(id, invoice_id, method, amount_php, amount_usd, status, paid_at, reference, paypal_order_id, raw, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING created_at, updated_at`,
			p.ID, p.InvoiceID, p.Method, p.AmountPhp, p.AmountUsd, p.Status,
			p.PaidAt, nullString(p.Reference), nullString(p.PayPalOrderID), nullRaw(p.Raw), nullString(p.Notes),
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return err
		}

		ledger.ApplyPayment(inv, p.ID, p.AmountPhp, p.PaidAt)
		return saveInvoiceTx(tx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// queueReceipt enqueues the payment for receipt delivery. Receipt issuance
// is best-effort; a broker outage must never fail a committed capture.
func (s *PaymentService) queueReceipt(ctx context.Context, p *models.Payment, inv *models.Invoice) {
	if s.redis == nil {
		return
	}

	job, err := json.Marshal(map[string]any{
		"paymentId":     p.ID,
		"invoiceId":     inv.ID,
		"invoiceNumber": inv.Number,
		"userId":        inv.UserID,
		"amountPhp":     p.AmountPhp,
		"method":        p.Method,
		"paidAt":        p.PaidAt,
	})
	if err != nil {
		log.Printf("[PAYMENT] Failed to marshal receipt job for payment %s: %v", p.ID, err)
		return
	}

	if err := s.redis.RPush(ctx, s.cfg.ReceiptQueue, job).Err(); err != nil {
		log.Printf("[PAYMENT] Failed to queue receipt for payment %s: %v", p.ID, err)
	}
}

// CreatePayment records a manual payment against an invoice
// @Summary Record payment
// @Description Record a cash, GCash, bank or card payment and apply it to the invoice balance
// @Tags payments
// @Accept json
// @Produce json
// @Param payment body CreatePaymentRequest true "Payment data"
// @Success 201 {object} object{payment=models.Payment,invoice=models.Invoice}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /payments [post]
func (s *PaymentService) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if !req.AmountPhp.IsPositive() {
		SendLedgerError(w, fmt.Errorf("%w: amount must be greater than zero", ledger.ErrValidation))
		return
	}

	paidAt := time.Now()
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}

	payment := &models.Payment{
		ID:        uuid.New().String(),
		InvoiceID: req.InvoiceID,
		Method:    req.Method,
		AmountPhp: req.AmountPhp.Round(2),
		Status:    models.PaymentPosted,
		PaidAt:    paidAt,
		Reference: req.Reference,
		Notes:     req.Notes,
	}

	inv, err := s.capture(r.Context(), payment)
	if err != nil {
		log.Printf("[PAYMENT] Failed to capture payment for invoice %s: %v", req.InvoiceID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[PAYMENT] Captured %s %s payment %s against invoice %s, balance %s",
		payment.AmountPhp, payment.Method, payment.ID, inv.ID, inv.BalancePhp.Decimal)

	s.queueReceipt(r.Context(), payment, inv)
	writeJSON(w, http.StatusCreated, map[string]any{
		"payment": payment,
		"invoice": inv,
	})
}

// RefundPayment reverses a payment
// @Summary Refund payment
// @Description Mark a payment refunded and restore the amount to the invoice balance
// @Tags payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} object{payment=models.Payment,invoice=models.Invoice}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /payments/{id}/refund [post]
func (s *PaymentService) RefundPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")

	var payment *models.Payment
	var inv *models.Invoice
	err := database.WithTransaction(r.Context(), s.db, func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID)
		var err error
		payment, err = scanPayment(row)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: payment %s", ledger.ErrNotFound, paymentID)
			}
			return err
		}

		if payment.Status == models.PaymentRefunded {
			return fmt.Errorf("%w: payment %s is already refunded", ledger.ErrInvalidState, paymentID)
		}
		if payment.Status == models.PaymentFailed {
			return fmt.Errorf("%w: payment %s never settled", ledger.ErrInvalidState, paymentID)
		}

		inv, err = lockInvoiceTx(tx, payment.InvoiceID)
		if err != nil {
			if err == sql.ErrNoRows {
				// A payment pointing at a missing invoice means the store
				// is inconsistent. Refuse loudly rather than refund into
				// the void.
				log.Printf("[PAYMENT] ORPHAN payment %s references missing invoice %s", paymentID, payment.InvoiceID)
				return fmt.Errorf("%w: invoice %s for payment %s", ledger.ErrNotFound, payment.InvoiceID, paymentID)
			}
			return err
		}

		payment.Status = models.PaymentRefunded
		if _, err := tx.Exec(`UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2`,
			models.PaymentRefunded, paymentID); err != nil {
			return err
		}

		ledger.ApplyRefund(inv, payment.AmountPhp)
		return saveInvoiceTx(tx, inv)
	})
	if err != nil {
		log.Printf("[PAYMENT] Failed to refund payment %s: %v", paymentID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[PAYMENT] Refunded payment %s (%s) on invoice %s, balance %s",
		paymentID, payment.AmountPhp, inv.ID, inv.BalancePhp.Decimal)
	writeJSON(w, http.StatusOK, map[string]any{
		"payment": payment,
		"invoice": inv,
	})
}

// ListPayments retrieves payments with optional filters
// @Summary List payments
// @Tags payments
// @Produce json
// @Param page query int false "Page (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Param invoiceId query string false "Filter by invoice"
// @Param method query string false "Filter by method"
// @Param status query string false "Filter by status"
// @Success 200 {object} object{items=[]models.Payment,page=int,limit=int,total=int,pages=int}
// @Failure 500 {object} ErrorResponse
// @Router /payments [get]
func (s *PaymentService) ListPayments(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r, s.cfg.MaxPageSize)

	var conditions []string
	var args []any
	argIndex := 1

	if invoiceID := r.URL.Query().Get("invoiceId"); invoiceID != "" {
		conditions = append(conditions, fmt.Sprintf("invoice_id = $%d", argIndex))
		args = append(args, invoiceID)
		argIndex++
	}
	if method := r.URL.Query().Get("method"); method != "" {
		conditions = append(conditions, fmt.Sprintf("method = $%d", argIndex))
		args = append(args, method)
		argIndex++
	}
	if status := r.URL.Query().Get("status"); status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM payments`+where, args...).Scan(&total); err != nil {
		log.Printf("[PAYMENT] Failed to count payments: %v", err)
		SendErrorResponse(w, "Failed to fetch payments", http.StatusInternalServerError, nil)
		return
	}

	query := `SELECT ` + paymentColumns + ` FROM payments` + where +
		fmt.Sprintf(" ORDER BY paid_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[PAYMENT] Failed to fetch payments: %v", err)
		SendErrorResponse(w, "Failed to fetch payments", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	items := []*models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			log.Printf("[PAYMENT] Failed to scan payment: %v", err)
			SendErrorResponse(w, "Failed to fetch payments", http.StatusInternalServerError, nil)
			return
		}
		items = append(items, p)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"page":  page,
		"limit": limit,
		"total": total,
		"pages": (total + limit - 1) / limit,
	})
}

// GetPayment retrieves a specific payment
// @Summary Get payment by ID
// @Tags payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} models.Payment
// @Failure 404 {object} ErrorResponse
// @Router /payments/{id} [get]
func (s *PaymentService) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")

	row := s.db.QueryRow(`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID)
	p, err := scanPayment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			SendLedgerError(w, fmt.Errorf("%w: payment %s", ledger.ErrNotFound, paymentID))
		} else {
			log.Printf("[PAYMENT] Failed to fetch payment %s: %v", paymentID, err)
			SendErrorResponse(w, "Failed to fetch payment", http.StatusInternalServerError, nil)
		}
		return
	}

	writeJSON(w, http.StatusOK, p)
}
