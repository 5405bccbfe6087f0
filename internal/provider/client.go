package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/paybridge/internal/obs"
)

// Doer abstracts the HTTP execution layer so the resilient client and test
// stubs are interchangeable.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// APIError is a non-2xx response from the provider API.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// Client is a typed client for the payment provider REST API.
type Client struct {
	BaseURL    string
	APIKey     string
	MerchantID string
	HTTP       Doer
	Logger     zerolog.Logger
}

// NewClient builds a provider client. The base URL is normalised without a
// trailing slash.
func NewClient(baseURL, apiKey, merchantID string, httpClient Doer, logger zerolog.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:     strings.TrimSpace(apiKey),
		MerchantID: strings.TrimSpace(merchantID),
		HTTP:       httpClient,
		Logger:     logger,
	}
}

// SessionRequest describes a new hosted-checkout session.
type SessionRequest struct {
	OrderID        string `json:"order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IsSubscription bool   `json:"is_subscription,omitempty"`
	SuccessURL     string `json:"success_url,omitempty"`
	CancelURL      string `json:"cancel_url,omitempty"`
}

// SessionResponse is the provider's hosted-checkout session.
type SessionResponse struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
	ExpiresAt   int64  `json:"expires_at"`
}

// CreateSession creates a hosted checkout session for an order.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (SessionResponse, error) {
	var resp SessionResponse
	err := c.call(ctx, "create_session", http.MethodPost, "/v1/checkout/sessions", req, &resp)
	return resp, err
}

// Agreement carries the typed common fields of a billing agreement plus the
// raw decoded payload. Provider tenants disagree on field names for dates and
// frequency, so callers that render agreement details work from Raw.
type Agreement struct {
	ID     string
	Status string
	Raw    map[string]any
}

// RetrieveAgreement fetches a billing agreement by id.
func (c *Client) RetrieveAgreement(ctx context.Context, agreementID string) (Agreement, error) {
	if strings.TrimSpace(agreementID) == "" {
		return Agreement{}, &APIError{StatusCode: http.StatusBadRequest, Code: "invalid_request", Message: "agreement id is required"}
	}
	var raw map[string]any
	err := c.call(ctx, "retrieve_agreement", http.MethodGet, "/v1/agreements/"+url.PathEscape(agreementID), nil, &raw)
	if err != nil {
		return Agreement{}, err
	}
	out := Agreement{ID: agreementID, Raw: raw}
	if s, ok := raw["status"].(string); ok {
		out.Status = s
	}
	if id, ok := raw["id"].(string); ok && id != "" {
		out.ID = id
	}
	return out, nil
}

// CancelAgreement requests cancellation of a billing agreement. Cancelling an
// already-cancelled agreement is treated as success.
func (c *Client) CancelAgreement(ctx context.Context, agreementID string) error {
	if strings.TrimSpace(agreementID) == "" {
		return &APIError{StatusCode: http.StatusBadRequest, Code: "invalid_request", Message: "agreement id is required"}
	}
	err := c.call(ctx, "cancel_agreement", http.MethodPost, "/v1/agreements/"+url.PathEscape(agreementID)+"/cancel", nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		c.Logger.Debug().Str("agreement_id", agreementID).Msg("agreement already cancelled")
		return nil
	}
	return err
}

// MarkOrderPaid confirms settlement of an order back to the provider so it can
// release funds. The provider treats repeat confirmations as no-ops.
func (c *Client) MarkOrderPaid(ctx context.Context, paymentID string) error {
	if strings.TrimSpace(paymentID) == "" {
		return &APIError{StatusCode: http.StatusBadRequest, Code: "invalid_request", Message: "payment id is required"}
	}
	body := map[string]string{"merchant_id": c.MerchantID}
	return c.call(ctx, "mark_order_paid", http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/mark-paid", body, nil)
}

// Payment is a single payment record from the provider's payment list.
type Payment struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
	CreatedAt     string `json:"created_at"`
}

// ListPayments returns the provider-side payments recorded for an order.
func (c *Client) ListPayments(ctx context.Context, orderID string) ([]Payment, error) {
	var resp struct {
		Payments []Payment `json:"payments"`
	}
	path := "/v1/payments?order_id=" + url.QueryEscape(orderID)
	if err := c.call(ctx, "list_payments", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Payments, nil
}

func (c *Client) call(ctx context.Context, operation, method, path string, in, out any) error {
	start := time.Now()
	result := "ok"
	err := c.doCall(ctx, method, path, in, out)
	if err != nil {
		result = "error"
	}
	if obs.ProviderCallDuration != nil {
		obs.ProviderCallDuration.WithLabelValues(operation, result).Observe(obs.DurationMillis(time.Since(start)))
	}
	return err
}

func (c *Client) doCall(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(payload, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			if apiErr.Code == "" {
				apiErr.Code = envelope.Code
			}
			if apiErr.Message == "" {
				apiErr.Message = envelope.Message
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
