// Package paypal is a minimal client for the PayPal Orders v2 API: client
// credentials token, order creation and order capture. Every call carries a
// bounded timeout; a missing response is treated as failure, never success.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tutorlane/backend/internal/ledger"
)

// StatusCompleted is the only capture status the ledger acts on.
const StatusCompleted = "COMPLETED"

type Client struct {
	clientID string
	secret   string
	baseURL  string
	http     *http.Client
}

func New(clientID, secret, baseURL string, timeout time.Duration) *Client {
	return &Client{
		clientID: clientID,
		secret:   secret,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

// Order is the gateway's view of a checkout order.
type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []Link `json:"links"`
}

// Capture is the result of finalizing an order.
type Capture struct {
	OrderID     string
	Status      string
	ReferenceID string
	AmountUsd   decimal.Decimal
	CaptureID   string
	Raw         json.RawMessage // full gateway response, stored with the payment
}

// accessToken obtains a client-credentials bearer token.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request failed: %v", ledger.ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token request returned status %d", ledger.ErrGateway, resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: malformed token response: %v", ledger.ErrGateway, err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("%w: no access token returned", ledger.ErrGateway)
	}
	return result.AccessToken, nil
}

// CreateOrder creates a CAPTURE-intent order for amountUsd referencing the
// given invoice id.
func (c *Client) CreateOrder(ctx context.Context, referenceID string, amountUsd decimal.Decimal, returnURL, cancelURL string) (*Order, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"reference_id": referenceID,
				"amount": map[string]string{
					"currency_code": "USD",
					"value":         amountUsd.StringFixed(2),
				},
			},
		},
		"application_context": map[string]string{
			"return_url":  returnURL,
			"cancel_url":  cancelURL,
			"user_action": "PAY_NOW",
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/checkout/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: create order failed: %v", ledger.ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: create order returned status %d", ledger.ErrGateway, resp.StatusCode)
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("%w: malformed order response: %v", ledger.ErrGateway, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: order response missing id", ledger.ErrGateway)
	}
	return &order, nil
}

// CaptureOrder finalizes a previously approved order and returns the
// capture outcome. A non-COMPLETED status is returned as-is; the caller
// decides that no local state changes.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: capture failed: %v", ledger.ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading capture response: %v", ledger.ErrGateway, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: capture returned status %d", ledger.ErrGateway, resp.StatusCode)
	}

	var body struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			ReferenceID string `json:"reference_id"`
			Payments    struct {
				Captures []struct {
					ID     string `json:"id"`
					Amount struct {
						CurrencyCode string `json:"currency_code"`
						Value        string `json:"value"`
					} `json:"amount"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: malformed capture response: %v", ledger.ErrGateway, err)
	}

	capture := &Capture{
		OrderID: body.ID,
		Status:  body.Status,
		Raw:     raw,
	}
	if capture.OrderID == "" {
		capture.OrderID = orderID
	}

	if body.Status == StatusCompleted {
		if len(body.PurchaseUnits) == 0 || len(body.PurchaseUnits[0].Payments.Captures) == 0 {
			return nil, fmt.Errorf("%w: completed capture missing capture data", ledger.ErrGateway)
		}
		unit := body.PurchaseUnits[0]
		cpt := unit.Payments.Captures[0]
		amount, err := decimal.NewFromString(cpt.Amount.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: unparseable capture amount %q", ledger.ErrGateway, cpt.Amount.Value)
		}
		capture.ReferenceID = unit.ReferenceID
		capture.AmountUsd = amount
		capture.CaptureID = cpt.ID
	}

	return capture, nil
}
