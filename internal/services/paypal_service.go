package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tutorlane/backend/internal/config"
	"github.com/tutorlane/backend/internal/ledger"
	"github.com/tutorlane/backend/internal/models"
	"github.com/tutorlane/backend/internal/paypal"
)

// PayPalGateway is the slice of the PayPal REST client the service needs.
type PayPalGateway interface {
	CreateOrder(ctx context.Context, referenceID string, amountUsd decimal.Decimal, returnURL, cancelURL string) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Capture, error)
}

type PayPalService struct {
	db        *sql.DB
	payments  *PaymentService
	gateway   PayPalGateway
	validator *ValidationHelper
	cfg       *config.BillingConfig
}

func NewPayPalService(db *sql.DB, payments *PaymentService, gateway PayPalGateway, cfg *config.BillingConfig) *PayPalService {
	return &PayPalService{
		db:        db,
		payments:  payments,
		gateway:   gateway,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// CreateOrderRequest represents the PayPal order creation payload
type CreateOrderRequest struct {
	InvoiceID string `json:"invoiceId" validate:"required"`
	ReturnURL string `json:"returnUrl" validate:"required,url"`
	CancelURL string `json:"cancelUrl" validate:"required,url"`
}

// CreatePayPalOrder opens a PayPal order for the outstanding invoice balance
// @Summary Create PayPal order
// @Description Create a PayPal order for the invoice's outstanding balance, converted to USD
// @Tags paypal
// @Accept json
// @Produce json
// @Param order body CreateOrderRequest true "Order data"
// @Success 201 {object} paypal.Order
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /paypal/orders [post]
func (s *PayPalService) CreatePayPalOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest

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

	row := s.db.QueryRow(`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, req.InvoiceID)
	inv, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			SendLedgerError(w, fmt.Errorf("%w: invoice %s", ledger.ErrNotFound, req.InvoiceID))
		} else {
			log.Printf("[PAYPAL] Failed to fetch invoice %s: %v", req.InvoiceID, err)
			SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		}
		return
	}
	if inv.Status == models.InvoiceVoid {
		SendLedgerError(w, fmt.Errorf("%w: invoice %s is void", ledger.ErrInvalidState, req.InvoiceID))
		return
	}

	balance := ledger.Balance(inv)
	if !balance.IsPositive() {
		SendLedgerError(w, fmt.Errorf("%w: invoice %s has no outstanding balance", ledger.ErrInvalidState, req.InvoiceID))
		return
	}

	amountUsd := balance.Div(s.cfg.UsdRate).Round(2)

	order, err := s.gateway.CreateOrder(r.Context(), inv.ID, amountUsd, req.ReturnURL, req.CancelURL)
	if err != nil {
		log.Printf("[PAYPAL] Failed to create order for invoice %s: %v", req.InvoiceID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[PAYPAL] Created order %s for invoice %s (%s PHP -> %s USD)", order.ID, inv.ID, balance, amountUsd)
	writeJSON(w, http.StatusCreated, order)
}

// CapturePayPalOrder captures a PayPal order and records the payment
// @Summary Capture PayPal order
// @Description Capture an approved PayPal order and apply the settled amount to its invoice
// @Tags paypal
// @Produce json
// @Param orderId path string true "PayPal order ID"
// @Success 200 {object} object{payment=models.Payment,invoice=models.Invoice}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /paypal/orders/{orderId}/capture [post]
func (s *PayPalService) CapturePayPalOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	cpt, err := s.gateway.CaptureOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("[PAYPAL] Failed to capture order %s: %v", orderID, err)
		SendLedgerError(w, err)
		return
	}

	// Anything short of a settled capture records nothing.
	if cpt.Status != paypal.StatusCompleted {
		log.Printf("[PAYPAL] Order %s capture returned status %s, no payment recorded", orderID, cpt.Status)
		SendLedgerError(w, fmt.Errorf("%w: order %s capture status is %s", ledger.ErrInvalidState, orderID, cpt.Status))
		return
	}

	amountPhp := cpt.AmountUsd.Mul(s.cfg.UsdRate).Round(2)

	payment := &models.Payment{
		ID:            uuid.New().String(),
		InvoiceID:     cpt.ReferenceID,
		Method:        models.MethodPayPal,
		AmountPhp:     amountPhp,
		AmountUsd:     decimal.NewNullDecimal(cpt.AmountUsd),
		Status:        models.PaymentVerified,
		PaidAt:        time.Now(),
		Reference:     cpt.CaptureID,
		PayPalOrderID: cpt.OrderID,
		Raw:           cpt.Raw,
	}

	inv, err := s.payments.capture(r.Context(), payment)
	if err != nil {
		log.Printf("[PAYPAL] Capture %s settled at gateway but ledger write failed: %v", orderID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[PAYPAL] Captured order %s: %s USD (%s PHP) against invoice %s, balance %s",
		orderID, cpt.AmountUsd, amountPhp, inv.ID, inv.BalancePhp.Decimal)

	s.payments.queueReceipt(r.Context(), payment, inv)
	writeJSON(w, http.StatusOK, map[string]any{
		"payment": payment,
		"invoice": inv,
	})
}

// GetPayPalConfig exposes the client-side PayPal configuration
// @Summary PayPal client configuration
// @Tags paypal
// @Produce json
// @Success 200 {object} map[string]string
// @Router /paypal/config [get]
func (s *PayPalService) GetPayPalConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"clientId": s.cfg.PayPalClientID,
		"currency": "USD",
	})
}
