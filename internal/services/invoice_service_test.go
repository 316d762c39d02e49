package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInvoiceTestService(t *testing.T) (*InvoiceService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewInvoiceService(db, testBillingConfig()), mock
}

func TestInvoiceService_CreateInvoice(t *testing.T) {
	service, mock := newInvoiceTestService(t)

	t.Run("totals computed server-side", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT nextval\\('invoice_number_seq'\\)").
			WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(7))
		mock.ExpectQuery("INSERT INTO invoices").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow("6f1b0c2d-3e4f-4a5b-8c9d-0e1f2a3b4c5d", testTime(), testTime()))
		mock.ExpectCommit()

		body, _ := json.Marshal(map[string]any{
			"userId": "3a0c2a9e-7a11-4a5b-9f7e-1c2d3e4f5a6b",
			"lineItems": []map[string]any{
				{"description": "Math tutoring, 10 sessions", "qty": 2, "unitPricePhp": "500", "discountPhp": "0"},
			},
		})
		r := httptest.NewRequest("POST", "/invoices", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateInvoice(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)

		var resp struct {
			Number      string              `json:"number"`
			SubtotalPhp decimal.Decimal     `json:"subtotalPhp"`
			TaxPhp      decimal.Decimal     `json:"taxPhp"`
			TotalPhp    decimal.Decimal     `json:"totalPhp"`
			BalancePhp  decimal.NullDecimal `json:"balancePhp"`
			Status      string              `json:"status"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, fmt.Sprintf("INV-%d-000007", time.Now().Year()), resp.Number)
		assert.True(t, resp.SubtotalPhp.Equal(decimal.RequireFromString("1000")))
		assert.True(t, resp.TaxPhp.Equal(decimal.RequireFromString("120")))
		assert.True(t, resp.TotalPhp.Equal(decimal.RequireFromString("1120")))
		assert.True(t, resp.BalancePhp.Valid)
		assert.True(t, resp.BalancePhp.Decimal.Equal(decimal.RequireFromString("1120")))
		assert.Equal(t, "draft", resp.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative unit price rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"userId": "3a0c2a9e-7a11-4a5b-9f7e-1c2d3e4f5a6b",
			"lineItems": []map[string]any{
				{"description": "Bad line", "qty": 1, "unitPricePhp": "-10", "discountPhp": "0"},
			},
		})
		r := httptest.NewRequest("POST", "/invoices", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateInvoice(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing userId rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"lineItems": []map[string]any{}})
		r := httptest.NewRequest("POST", "/invoices", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateInvoice(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid request body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/invoices", bytes.NewBuffer([]byte("invalid")))
		w := httptest.NewRecorder()

		service.CreateInvoice(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestInvoiceService_GetInvoice(t *testing.T) {
	service, mock := newInvoiceTestService(t)

	router := chi.NewRouter()
	router.Get("/invoices/{id}", service.GetInvoice)

	invoiceID := "6f1b0c2d-3e4f-4a5b-8c9d-0e1f2a3b4c5d"

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id = \\$1").
			WithArgs(invoiceID).
			WillReturnRows(invoiceRow(invoiceID, "sent", "1120.00"))

		req := httptest.NewRequest("GET", "/invoices/"+invoiceID, nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Number     string   `json:"number"`
			PaymentIds []string `json:"paymentIds"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "INV-2026-000001", resp.Number)
		assert.NotNil(t, resp.PaymentIds)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id = \\$1").
			WithArgs(invoiceID).
			WillReturnRows(sqlmock.NewRows(invoiceTestColumns))

		req := httptest.NewRequest("GET", "/invoices/"+invoiceID, nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "not_found", resp.Code)
	})
}

func TestInvoiceService_ListInvoices(t *testing.T) {
	service, mock := newInvoiceTestService(t)

	t.Run("paginated envelope with status filter", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM invoices WHERE status = \\$1").
			WithArgs("sent").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery("SELECT (.+) FROM invoices WHERE status = \\$1 ORDER BY created_at DESC").
			WithArgs("sent", 20, 0).
			WillReturnRows(invoiceRow("6f1b0c2d-3e4f-4a5b-8c9d-0e1f2a3b4c5d", "sent", "620.00"))

		r := httptest.NewRequest("GET", "/invoices?status=sent", nil)
		w := httptest.NewRecorder()

		service.ListInvoices(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Items []json.RawMessage `json:"items"`
			Page  int               `json:"page"`
			Limit int               `json:"limit"`
			Total int               `json:"total"`
			Pages int               `json:"pages"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Items, 1)
		assert.Equal(t, 1, resp.Page)
		assert.Equal(t, 20, resp.Limit)
		assert.Equal(t, 1, resp.Total)
		assert.Equal(t, 1, resp.Pages)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("limit capped at max page size", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM invoices").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("SELECT (.+) FROM invoices ORDER BY created_at DESC").
			WithArgs(100, 0).
			WillReturnRows(sqlmock.NewRows(invoiceTestColumns))

		r := httptest.NewRequest("GET", "/invoices?limit=5000", nil)
		w := httptest.NewRecorder()

		service.ListInvoices(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInvoiceService_UpdateInvoice(t *testing.T) {
	service, mock := newInvoiceTestService(t)

	router := chi.NewRouter()
	router.Put("/invoices/{id}", service.UpdateInvoice)

	invoiceID := "6f1b0c2d-3e4f-4a5b-8c9d-0e1f2a3b4c5d"

	t.Run("line item change recomputes balance from payments", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id = \\$1 FOR UPDATE").
			WithArgs(invoiceID).
			WillReturnRows(invoiceRow(invoiceID, "sent", "620.00"))
		mock.ExpectQuery("SELECT (.+) FROM payments WHERE invoice_id = \\$1").
			WithArgs(invoiceID).
			WillReturnRows(paymentRow("9c8b7a6d-5e4f-4d3c-2b1a-0f9e8d7c6b5a", invoiceID, "500.00", "posted"))
		mock.ExpectExec("UPDATE invoices").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		body, _ := json.Marshal(map[string]any{
			"lineItems": []map[string]any{
				{"description": "Math tutoring, 20 sessions", "qty": 4, "unitPricePhp": "500", "discountPhp": "0"},
			},
		})
		req := httptest.NewRequest("PUT", "/invoices/"+invoiceID, bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			SubtotalPhp decimal.Decimal     `json:"subtotalPhp"`
			TotalPhp    decimal.Decimal     `json:"totalPhp"`
			BalancePhp  decimal.NullDecimal `json:"balancePhp"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.SubtotalPhp.Equal(decimal.RequireFromString("2000")))
		assert.True(t, resp.TotalPhp.Equal(decimal.RequireFromString("2240")))
		// 2240 total minus the 500 already paid
		assert.True(t, resp.BalancePhp.Decimal.Equal(decimal.RequireFromString("1740")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paid invoice rejects line item changes", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id = \\$1 FOR UPDATE").
			WithArgs(invoiceID).
			WillReturnRows(invoiceRow(invoiceID, "paid", "0.00"))
		mock.ExpectRollback()

		body, _ := json.Marshal(map[string]any{
			"lineItems": []map[string]any{
				{"description": "Extra session", "qty": 1, "unitPricePhp": "500", "discountPhp": "0"},
			},
		})
		req := httptest.NewRequest("PUT", "/invoices/"+invoiceID, bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInvoiceService_SetInvoiceStatus(t *testing.T) {
	service, mock := newInvoiceTestService(t)

	router := chi.NewRouter()
	router.Put("/invoices/{id}/status", service.SetInvoiceStatus)

	invoiceID := "6f1b0c2d-3e4f-4a5b-8c9d-0e1f2a3b4c5d"

	t.Run("sent stamps issuedAt", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id = \\$1 FOR UPDATE").
			WithArgs(invoiceID).
			WillReturnRows(invoiceRow(invoiceID, "draft", "1120.00"))
		mock.ExpectExec("UPDATE invoices").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		body, _ := json.Marshal(map[string]string{"status": "sent"})
		req := httptest.NewRequest("PUT", "/invoices/"+invoiceID+"/status", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Status   string  `json:"status"`
			IssuedAt *string `json:"issuedAt"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "sent", resp.Status)
		assert.NotNil(t, resp.IssuedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paid zeroes the balance", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id = \\$1 FOR UPDATE").
			WithArgs(invoiceID).
			WillReturnRows(invoiceRow(invoiceID, "sent", "620.00"))
		mock.ExpectExec("UPDATE invoices").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		body, _ := json.Marshal(map[string]string{"status": "paid"})
		req := httptest.NewRequest("PUT", "/invoices/"+invoiceID+"/status", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Status     string              `json:"status"`
			BalancePhp decimal.NullDecimal `json:"balancePhp"`
			PaidAt     *string             `json:"paidAt"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "paid", resp.Status)
		assert.True(t, resp.BalancePhp.Decimal.IsZero())
		assert.NotNil(t, resp.PaidAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"status": "archived"})
		req := httptest.NewRequest("PUT", "/invoices/"+invoiceID+"/status", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestInvoiceService_DeleteInvoice(t *testing.T) {
	service, mock := newInvoiceTestService(t)

	router := chi.NewRouter()
	router.Delete("/invoices/{id}", service.DeleteInvoice)

	invoiceID := "6f1b0c2d-3e4f-4a5b-8c9d-0e1f2a3b4c5d"

	t.Run("deleted", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM invoices WHERE id = \\$1").
			WithArgs(invoiceID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := httptest.NewRequest("DELETE", "/invoices/"+invoiceID, nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM invoices WHERE id = \\$1").
			WithArgs(invoiceID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		req := httptest.NewRequest("DELETE", "/invoices/"+invoiceID, nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestInvoiceService_InvoiceQR(t *testing.T) {
	service, mock := newInvoiceTestService(t)

	router := chi.NewRouter()
	router.Get("/invoices/{id}/qr", service.InvoiceQR)

	invoiceID := "6f1b0c2d-3e4f-4a5b-8c9d-0e1f2a3b4c5d"

	t.Run("renders a PNG", func(t *testing.T) {
		mock.ExpectQuery("SELECT number FROM invoices WHERE id = \\$1").
			WithArgs(invoiceID).
			WillReturnRows(sqlmock.NewRows([]string{"number"}).AddRow("INV-2026-000001"))

		req := httptest.NewRequest("GET", "/invoices/"+invoiceID+"/qr", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.NotEmpty(t, w.Body.Bytes())
	})

	t.Run("unknown invoice", func(t *testing.T) {
		mock.ExpectQuery("SELECT number FROM invoices WHERE id = \\$1").
			WithArgs(invoiceID).
			WillReturnRows(sqlmock.NewRows([]string{"number"}))

		req := httptest.NewRequest("GET", "/invoices/"+invoiceID+"/qr", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
