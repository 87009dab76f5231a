package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/code2deploy/payments/app/models"
	"github.com/code2deploy/payments/internal/pkg/env"
)

const (
	paypalSandboxBaseURL = "https://api-m.sandbox.paypal.com"
	paypalLiveBaseURL    = "https://api-m.paypal.com"
)

// tokenExpirySlack is subtracted from the provider-reported token lifetime so
// a token is refreshed before it can expire mid-request.
const tokenExpirySlack = 60 * time.Second

// PayPalClient implements Client against the PayPal REST API.
type PayPalClient struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	WebhookID    string
	BrandName    string

	HTTPClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalClientFromEnv builds a PayPal client from environment config.
// PAYPAL_MODE selects the sandbox or live API host.
func NewPayPalClientFromEnv() *PayPalClient {
	baseURL := paypalSandboxBaseURL
	if env.GetEnv("PAYPAL_MODE", "sandbox") == "live" {
		baseURL = paypalLiveBaseURL
	}
	return &PayPalClient{
		ClientID:     strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
		BaseURL:      strings.TrimSpace(env.GetEnv("PAYPAL_API_BASE_URL", baseURL)),
		WebhookID:    strings.TrimSpace(env.GetEnv("PAYPAL_WEBHOOK_ID", "")),
		BrandName:    env.GetEnv("PAYPAL_BRAND_NAME", "Code2Deploy"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *PayPalClient) Provider() string {
	return models.PaymentProviderPayPal
}

// Authenticate returns a bearer token, reusing the cached one while valid.
func (c *PayPalClient) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *PayPalClient) authenticateLocked(ctx context.Context) (string, error) {
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	if c.ClientID == "" || c.ClientSecret == "" {
		return "", errors.New("PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET are not configured")
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/oauth2/token", form)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, body)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("paypal token exchange returned empty access_token")
	}

	c.accessToken = out.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - tokenExpirySlack)
	return c.accessToken, nil
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (c *PayPalClient) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// doAPI performs an authenticated JSON request. On a 401 the cached token is
// invalidated and the request retried once with a fresh token.
func (c *PayPalClient) doAPI(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.Authenticate(ctx)
		if err != nil {
			return 0, nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.invalidateToken()
			continue
		}
		return resp.StatusCode, respBody, nil
	}
	return 0, nil, fmt.Errorf("%w: retry exhausted", ErrUnavailable)
}

func statusError(status int, body []byte) error {
	if status >= 500 {
		return fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, status, truncate(body))
	}
	return fmt.Errorf("%w: status=%d body=%s", ErrRejected, status, truncate(body))
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// OpenTransaction creates a CAPTURE-intent checkout order at PayPal and
// returns the approval URL the buyer is redirected to.
func (c *PayPalClient) OpenTransaction(ctx context.Context, params OpenParams) (*OpenResult, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": params.LocalOrderRef,
			"description":  params.Description,
			"amount": map[string]string{
				"currency_code": params.Currency,
				"value":         params.Amount.StringFixed(2),
			},
		}},
		"application_context": map[string]string{
			"return_url":   params.ReturnURL,
			"cancel_url":   params.CancelURL,
			"brand_name":   c.BrandName,
			"landing_page": "BILLING",
			"user_action":  "PAY_NOW",
		},
	}

	status, body, err := c.doAPI(ctx, http.MethodPost, "/v2/checkout/orders", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, statusError(status, body)
	}

	var raw struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw.ID == "" {
		return nil, errors.New("paypal order response missing id")
	}

	approvalURL := ""
	for _, link := range raw.Links {
		if link.Rel == "approve" {
			approvalURL = link.Href
			break
		}
	}

	return &OpenResult{
		RemoteTxnID: raw.ID,
		Status:      raw.Status,
		ApprovalURL: approvalURL,
		Raw:         string(body),
	}, nil
}

// CaptureTransaction captures an approved checkout order.
func (c *PayPalClient) CaptureTransaction(ctx context.Context, remoteTxnID string) (*CaptureResult, error) {
	status, body, err := c.doAPI(ctx, http.MethodPost, "/v2/checkout/orders/"+remoteTxnID+"/capture", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, statusError(status, body)
	}

	var raw struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Payer  struct {
			PayerID string `json:"payer_id"`
		} `json:"payer"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	result := &CaptureResult{
		RemoteTxnID: raw.ID,
		Status:      raw.Status,
		PayerID:     raw.Payer.PayerID,
		Raw:         string(body),
	}
	if len(raw.PurchaseUnits) > 0 && len(raw.PurchaseUnits[0].Payments.Captures) > 0 {
		result.CaptureID = raw.PurchaseUnits[0].Payments.Captures[0].ID
	}
	return result, nil
}

// GetTransactionStatus fetches the checkout order status from PayPal.
func (c *PayPalClient) GetTransactionStatus(ctx context.Context, remoteTxnID string) (string, error) {
	status, body, err := c.doAPI(ctx, http.MethodGet, "/v2/checkout/orders/"+remoteTxnID, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", statusError(status, body)
	}

	var raw struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", err
	}
	return raw.Status, nil
}

// Refund refunds a capture. A nil amount requests a full refund.
func (c *PayPalClient) Refund(ctx context.Context, captureID string, amount *decimal.Decimal, currency, note string) (*RefundResult, error) {
	payload := map[string]any{}
	if amount != nil {
		payload["amount"] = map[string]string{
			"currency_code": currency,
			"value":         amount.StringFixed(2),
		}
	}
	if note != "" {
		payload["note_to_payer"] = note
	}

	status, body, err := c.doAPI(ctx, http.MethodPost, "/v2/payments/captures/"+captureID+"/refund", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, statusError(status, body)
	}

	var raw struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return &RefundResult{RefundID: raw.ID, Status: raw.Status, Raw: string(body)}, nil
}

// VerifyWebhookSignature asks PayPal to verify an inbound notification.
// PayPal signs webhooks asymmetrically and exposes verification as an API
// call; the raw body is forwarded untouched.
func (c *PayPalClient) VerifyWebhookSignature(ctx context.Context, headers map[string]string, body []byte) (bool, error) {
	if c.WebhookID == "" {
		return false, errors.New("PAYPAL_WEBHOOK_ID is not configured")
	}

	payload := map[string]any{
		"auth_algo":         headerValue(headers, "Paypal-Auth-Algo"),
		"cert_url":          headerValue(headers, "Paypal-Cert-Url"),
		"transmission_id":   headerValue(headers, "Paypal-Transmission-Id"),
		"transmission_sig":  headerValue(headers, "Paypal-Transmission-Sig"),
		"transmission_time": headerValue(headers, "Paypal-Transmission-Time"),
		"webhook_id":        c.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}

	status, respBody, err := c.doAPI(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, statusError(status, respBody)
	}

	var raw struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return false, err
	}
	return raw.VerificationStatus == "SUCCESS", nil
}

func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	// Header maps may arrive with any canonicalization.
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
