package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"github.com/tutorlane/backend/internal/config"
	"github.com/tutorlane/backend/internal/database"
	"github.com/tutorlane/backend/internal/ledger"
	"github.com/tutorlane/backend/internal/models"
)

type InvoiceService struct {
	db        *sql.DB
	validator *ValidationHelper
	cfg       *config.BillingConfig
}

func NewInvoiceService(db *sql.DB, cfg *config.BillingConfig) *InvoiceService {
	return &InvoiceService{
		db:        db,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// CreateInvoiceRequest represents the invoice creation payload
// @Description Invoice creation request structure
type CreateInvoiceRequest struct {
	Number       string              `json:"number"` // server-assigned when empty
	UserID       string              `json:"userId" validate:"required"`
	GuardianID   string              `json:"guardianId"`
	EnrollmentID string              `json:"enrollmentId"`
	LineItems    []models.LineItem   `json:"lineItems" validate:"dive"`
	TaxRate      decimal.NullDecimal `json:"taxRate"`
	DueDate      *time.Time          `json:"dueDate"`
	Notes        string              `json:"notes"`
}

// UpdateInvoiceRequest represents the invoice update payload
// @Description Invoice update request structure
type UpdateInvoiceRequest struct {
	LineItems *[]models.LineItem  `json:"lineItems" validate:"omitempty,dive"`
	TaxRate   decimal.NullDecimal `json:"taxRate"`
	DueDate   *time.Time          `json:"dueDate"`
	Notes     *string             `json:"notes"`
}

const invoiceColumns = `id, number, user_id, guardian_id, enrollment_id, line_items,
	subtotal_php, tax_php, total_php, balance_php, tax_rate, status,
	due_date, issued_at, paid_at, payment_ids, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var inv models.Invoice
	var guardian, enrollment, notes sql.NullString
	var dueDate, issuedAt, paidAt sql.NullTime
	var lineItems []byte
	var paymentIDs pq.StringArray

	err := row.Scan(
		&inv.ID, &inv.Number, &inv.UserID, &guardian, &enrollment, &lineItems,
		&inv.SubtotalPhp, &inv.TaxPhp, &inv.TotalPhp, &inv.BalancePhp, &inv.TaxRate, &inv.Status,
		&dueDate, &issuedAt, &paidAt, &paymentIDs, &notes, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.GuardianID = guardian.String
	inv.EnrollmentID = enrollment.String
	inv.Notes = notes.String
	if dueDate.Valid {
		inv.DueDate = &dueDate.Time
	}
	if issuedAt.Valid {
		inv.IssuedAt = &issuedAt.Time
	}
	if paidAt.Valid {
		inv.PaidAt = &paidAt.Time
	}
	inv.PaymentIDs = []string(paymentIDs)
	if inv.PaymentIDs == nil {
		inv.PaymentIDs = []string{}
	}
	if err := json.Unmarshal(lineItems, &inv.LineItems); err != nil {
		return nil, fmt.Errorf("corrupt line items for invoice %s: %w", inv.ID, err)
	}
	return &inv, nil
}

// lockInvoiceTx loads an invoice with a row lock. Concurrent payment and
// refund transactions against the same invoice serialize here so neither
// computes its balance from a stale read.
func lockInvoiceTx(tx *sql.Tx, invoiceID string) (*models.Invoice, error) {
	row := tx.QueryRow(`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID)
	return scanInvoice(row)
}

// saveInvoiceTx persists the ledger-owned fields of an invoice.
func saveInvoiceTx(tx *sql.Tx, inv *models.Invoice) error {
	lineItems, err := json.Marshal(inv.LineItems)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		UPDATE invoices
		SET line_items = $1, subtotal_php = $2, tax_php = $3, total_php = $4,
		    balance_php = $5, tax_rate = $6, status = $7, due_date = $8,
		    issued_at = $9, paid_at = $10, payment_ids = $11, notes = $12,
		    updated_at = NOW()
		WHERE id = $13`,
		lineItems, inv.SubtotalPhp, inv.TaxPhp, inv.TotalPhp,
		inv.BalancePhp, inv.TaxRate, inv.Status, inv.DueDate,
		inv.IssuedAt, inv.PaidAt, pq.Array(inv.PaymentIDs), inv.Notes,
		inv.ID)
	return err
}

func fetchInvoicePaymentsTx(tx *sql.Tx, invoiceID string) ([]models.Payment, error) {
	rows, err := tx.Query(`SELECT `+paymentColumns+` FROM payments WHERE invoice_id = $1 ORDER BY paid_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func nullUUID(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func validateLineItems(items []models.LineItem) error {
	for i, li := range items {
		if li.UnitPricePhp.IsNegative() {
			return fmt.Errorf("%w: line %d has negative unit price", ledger.ErrValidation, i)
		}
		if li.DiscountPhp.IsNegative() {
			return fmt.Errorf("%w: line %d has negative discount", ledger.ErrValidation, i)
		}
	}
	return nil
}

// nextInvoiceNumber assigns a sequential human-readable number, e.g.
// INV-2025-000123.
func (s *InvoiceService) nextInvoiceNumber(tx *sql.Tx) (string, error) {
	var seq int64
	if err := tx.QueryRow(`SELECT nextval('invoice_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%06d", s.cfg.InvoicePrefix, time.Now().Year(), seq), nil
}

// CreateInvoice creates a new invoice in draft status
// @Summary Create invoice
// @Description Create a new draft invoice; totals are recomputed server-side
// @Tags invoices
// @Accept json
// @Produce json
// @Param invoice body CreateInvoiceRequest true "Invoice data"
// @Success 201 {object} models.Invoice
// @Failure 400 {object} ErrorResponse
// @Router /invoices [post]
func (s *InvoiceService) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest

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
	if err := validateLineItems(req.LineItems); err != nil {
		SendLedgerError(w, err)
		return
	}

	taxRate := s.cfg.TaxRate
	if req.TaxRate.Valid {
		taxRate = req.TaxRate.Decimal
	}

	// Invoices only enter the store recalculated.
	inv := ledger.NewInvoice(req.Number, req.UserID, req.LineItems, taxRate)
	inv.GuardianID = req.GuardianID
	inv.EnrollmentID = req.EnrollmentID
	inv.DueDate = req.DueDate
	inv.Notes = req.Notes
	if inv.LineItems == nil {
		inv.LineItems = []models.LineItem{}
	}

	err := database.WithTransaction(r.Context(), s.db, func(tx *sql.Tx) error {
		if inv.Number == "" {
			number, err := s.nextInvoiceNumber(tx)
			if err != nil {
				return err
			}
			inv.Number = number
		}

		lineItems, err := json.Marshal(inv.LineItems)
		if err != nil {
			return err
		}

		return tx.QueryRow(`
			INSERT INTO invoices
			(number, user_id, guardian_id, enrollment_id, line_items, subtotal_php, tax_php,
			 total_php, balance_php, tax_rate, status, due_date, notes, payment_ids)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, '{}')
			RETURNING id, created_at, updated_at`,
			inv.Number, inv.UserID, nullUUID(inv.GuardianID), nullUUID(inv.EnrollmentID),
			lineItems, inv.SubtotalPhp, inv.TaxPhp, inv.TotalPhp, inv.BalancePhp,
			inv.TaxRate, inv.Status, inv.DueDate, inv.Notes,
		).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	})
	if err != nil {
		log.Printf("[INVOICE] Failed to create invoice: %v", err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[INVOICE] Created invoice %s (%s) for user %s, total %s", inv.ID, inv.Number, inv.UserID, inv.TotalPhp)
	writeJSON(w, http.StatusCreated, inv)
}

// ListInvoices retrieves invoices with optional filters
// @Summary List invoices
// @Description Get a paginated list of invoices with optional filtering
// @Tags invoices
// @Produce json
// @Param page query int false "Page (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Param userId query string false "Filter by billed user"
// @Param status query string false "Filter by status"
// @Param search query string false "Search by invoice number"
// @Success 200 {object} object{items=[]models.Invoice,page=int,limit=int,total=int,pages=int}
// @Failure 500 {object} ErrorResponse
// @Router /invoices [get]
func (s *InvoiceService) ListInvoices(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r, s.cfg.MaxPageSize)

	var conditions []string
	var args []any
	argIndex := 1

	if userID := r.URL.Query().Get("userId"); userID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, userID)
		argIndex++
	}
	if status := r.URL.Query().Get("status"); status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}
	if search := r.URL.Query().Get("search"); search != "" {
		conditions = append(conditions, fmt.Sprintf("number ILIKE $%d", argIndex))
		args = append(args, "%"+search+"%")
		argIndex++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		log.Printf("[INVOICE] Failed to count invoices: %v", err)
		SendErrorResponse(w, "Failed to fetch invoices", http.StatusInternalServerError, nil)
		return
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[INVOICE] Failed to fetch invoices: %v", err)
		SendErrorResponse(w, "Failed to fetch invoices", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	items := []*models.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			log.Printf("[INVOICE] Failed to scan invoice: %v", err)
			SendErrorResponse(w, "Failed to fetch invoices", http.StatusInternalServerError, nil)
			return
		}
		items = append(items, inv)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"page":  page,
		"limit": limit,
		"total": total,
		"pages": (total + limit - 1) / limit,
	})
}

// GetInvoice retrieves a specific invoice
// @Summary Get invoice by ID
// @Tags invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} models.Invoice
// @Failure 404 {object} ErrorResponse
// @Router /invoices/{id} [get]
func (s *InvoiceService) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")

	row := s.db.QueryRow(`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID)
	inv, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			SendLedgerError(w, fmt.Errorf("%w: invoice %s", ledger.ErrNotFound, invoiceID))
		} else {
			log.Printf("[INVOICE] Failed to fetch invoice %s: %v", invoiceID, err)
			SendErrorResponse(w, "Failed to fetch invoice", http.StatusInternalServerError, nil)
		}
		return
	}

	writeJSON(w, http.StatusOK, inv)
}

// UpdateInvoice mutates line items and metadata of a draft or sent invoice
// @Summary Update invoice
// @Description Update line items while the invoice is draft or sent; totals and balance are recomputed from the payment ledger
// @Tags invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param invoice body UpdateInvoiceRequest true "Fields to update"
// @Success 200 {object} models.Invoice
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /invoices/{id} [put]
func (s *InvoiceService) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")

	var req UpdateInvoiceRequest

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
	if req.LineItems != nil {
		if err := validateLineItems(*req.LineItems); err != nil {
			SendLedgerError(w, err)
			return
		}
	}

	var inv *models.Invoice
	err := database.WithTransaction(r.Context(), s.db, func(tx *sql.Tx) error {
		var err error
		inv, err = lockInvoiceTx(tx, invoiceID)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: invoice %s", ledger.ErrNotFound, invoiceID)
			}
			return err
		}

		if req.LineItems != nil {
			if inv.Status != models.InvoiceDraft && inv.Status != models.InvoiceSent {
				return fmt.Errorf("%w: cannot change line items of a %s invoice", ledger.ErrInvalidState, inv.Status)
			}
			inv.LineItems = *req.LineItems
		}
		if req.TaxRate.Valid {
			inv.TaxRate = req.TaxRate.Decimal
		}
		if req.DueDate != nil {
			inv.DueDate = req.DueDate
		}
		if req.Notes != nil {
			inv.Notes = *req.Notes
		}

		// Balance is always recomputed from the payment ledger, never
		// trusted from the stored value.
		payments, err := fetchInvoicePaymentsTx(tx, invoiceID)
		if err != nil {
			return err
		}
		ledger.Recalculate(inv, payments)

		return saveInvoiceTx(tx, inv)
	})
	if err != nil {
		log.Printf("[INVOICE] Failed to update invoice %s: %v", invoiceID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[INVOICE] Updated invoice %s, total %s, balance %s", invoiceID, inv.TotalPhp, inv.BalancePhp.Decimal)
	writeJSON(w, http.StatusOK, inv)
}

// SetStatusRequest represents the status transition payload
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft sent paid void"`
}

// SetInvoiceStatus transitions invoice status
// @Summary Set invoice status
// @Description Transition an invoice between draft, sent, paid and void
// @Tags invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param status body SetStatusRequest true "Target status"
// @Success 200 {object} models.Invoice
// @Failure 404 {object} ErrorResponse
// @Router /invoices/{id}/status [put]
func (s *InvoiceService) SetInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")

	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var inv *models.Invoice
	err := database.WithTransaction(r.Context(), s.db, func(tx *sql.Tx) error {
		var err error
		inv, err = lockInvoiceTx(tx, invoiceID)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: invoice %s", ledger.ErrNotFound, invoiceID)
			}
			return err
		}

		now := time.Now()
		inv.Status = req.Status
		if req.Status == models.InvoiceSent && inv.IssuedAt == nil {
			inv.IssuedAt = &now
		}
		if req.Status == models.InvoicePaid {
			inv.BalancePhp = decimal.NewNullDecimal(decimal.Zero)
			if inv.PaidAt == nil {
				inv.PaidAt = &now
			}
		}

		return saveInvoiceTx(tx, inv)
	})
	if err != nil {
		log.Printf("[INVOICE] Failed to set status of invoice %s: %v", invoiceID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[INVOICE] Invoice %s status set to %s", invoiceID, req.Status)
	writeJSON(w, http.StatusOK, inv)
}

// DeleteInvoice removes an invoice
// @Summary Delete invoice
// @Tags invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} ErrorResponse
// @Router /invoices/{id} [delete]
func (s *InvoiceService) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")

	result, err := s.db.Exec(`DELETE FROM invoices WHERE id = $1`, invoiceID)
	if err != nil {
		log.Printf("[INVOICE] Failed to delete invoice %s: %v", invoiceID, err)
		SendErrorResponse(w, "Failed to delete invoice", http.StatusInternalServerError, nil)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		SendLedgerError(w, fmt.Errorf("%w: invoice %s", ledger.ErrNotFound, invoiceID))
		return
	}

	log.Printf("[INVOICE] Deleted invoice %s", invoiceID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// InvoiceQR renders a payment-link QR code for an invoice
// @Summary Invoice payment QR code
// @Description PNG QR code encoding the public payment link for the invoice
// @Tags invoices
// @Produce png
// @Param id path string true "Invoice ID"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /invoices/{id}/qr [get]
func (s *InvoiceService) InvoiceQR(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")

	var number string
	err := s.db.QueryRow(`SELECT number FROM invoices WHERE id = $1`, invoiceID).Scan(&number)
	if err != nil {
		if err == sql.ErrNoRows {
			SendLedgerError(w, fmt.Errorf("%w: invoice %s", ledger.ErrNotFound, invoiceID))
		} else {
			log.Printf("[INVOICE] Failed to fetch invoice %s for QR: %v", invoiceID, err)
			SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		}
		return
	}

	payURL := fmt.Sprintf("%s/pay/%s", s.cfg.PayBaseURL, number)
	png, err := qrcode.Encode(payURL, qrcode.Medium, 256)
	if err != nil {
		log.Printf("[INVOICE] Failed to encode QR for invoice %s: %v", invoiceID, err)
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Write(png)
}

func parsePagination(r *http.Request, maxLimit int) (page, limit int) {
	page, limit = 1, 20
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}
