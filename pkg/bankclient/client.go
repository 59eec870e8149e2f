/**
 * @description
 * This package provides a client for the merchant-aggregator banking API the
 * platform settles through. It encapsulates the logic for making authenticated
 * HTTP requests to the provider's collection, payout, and status endpoints,
 * handling request body construction and parsing responses.
 *
 * The provider is treated as an opaque external system: every call can fail
 * with network or 4xx/5xx errors, and callers treat all of them as transient,
 * to be retried by the reconciliation loop. Payout initiation is idempotent on
 * the caller-supplied reference id.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package bankclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the banking provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new banking provider API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CollectionRequest is the payload for creating a collection (payer -> platform).
type CollectionRequest struct {
	ReferenceID   string `json:"referenceId"`
	PayerAddress  string `json:"payerAddress"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Purpose       string `json:"purpose"`
	ExpiryMinutes int    `json:"expiryMinutes"`
}

// CollectionResponse is the provider's reply to a collection-create call.
type CollectionResponse struct {
	ProviderTxnID string `json:"providerTxnId"`
	Link          string `json:"link"`
}

// PayoutRequest is the payload for initiating a payout (platform -> payee).
// ReferenceID doubles as the provider-side idempotency key: re-sending the
// same reference returns the original payout rather than creating a second one.
type PayoutRequest struct {
	ReferenceID        string `json:"referenceId"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	BeneficiaryAddress string `json:"beneficiaryAddress"`
}

// PayoutResponse is the provider's reply to a payout-initiate call.
type PayoutResponse struct {
	ProviderTxnID string `json:"providerTxnId"`
}

// StatusResponse is the provider's reply to a status query. Status is the
// provider's free-text vocabulary and must be normalized before use.
type StatusResponse struct {
	Status string `json:"status"`
	UTR    string `json:"utr,omitempty"`
	RRN    string `json:"rrn,omitempty"`
}

// ErrorResponse represents an error from the provider API.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Errors     []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("provider api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return fmt.Sprintf("provider api error (status %d)", e.StatusCode)
}

// CreateCollection asks the provider to create a collection request against the
// payer and returns the provider transaction id plus the payment link the payer
// must approve.
func (c *Client) CreateCollection(ctx context.Context, req CollectionRequest) (*CollectionResponse, error) {
	var resp CollectionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/collections", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InitiatePayout asks the provider to move funds from the platform pool account
// to the beneficiary address.
func (c *Client) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResponse, error) {
	var resp PayoutResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payouts", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStatus queries the provider's current view of a transaction. leg is
// "collection" or "payout".
func (c *Client) GetStatus(ctx context.Context, providerTxnID, leg string) (*StatusResponse, error) {
	var resp StatusResponse
	path := fmt.Sprintf("/v1/transactions/%s/status?leg=%s", providerTxnID, leg)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do executes one authenticated request and decodes the JSON response.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			log.Printf("level=warn component=bank_client method=%s path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", method, path, resp.StatusCode)
		}
		return errResp
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
