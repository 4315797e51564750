// Package ledger provides a client for the external charge ledger API and
// the charge resolution logic built on top of it.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/payrun-hq/payrunner/pkg/logger"
	"github.com/payrun-hq/payrunner/pkg/models"
)

// Client represents a charge ledger API client
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new charge ledger API client
func New(endpoint string, log logger.Logger) *Client {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: createHTTPClient(),
		logger:     log,
	}
}

// LocalPrice is the fixed display price a charge is created with
type LocalPrice struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// CreateChargeParams describes the charge to create against a request.
// Charges are always created with fixed pricing.
type CreateChargeParams struct {
	PricingType string     `json:"pricing_type"`
	LocalPrice  LocalPrice `json:"local_price"`
	RequestID   string     `json:"request_id"`
	Reference   string     `json:"reference,omitempty"`
}

// CreateRequestParams describes the recipient+asset template a charge can
// be created from
type CreateRequestParams struct {
	RecipientAddress string           `json:"recipient_address"`
	ChainID          int              `json:"chain_id"`
	TokenAddress     string           `json:"token_address"`
	TokenSymbol      string           `json:"token_symbol"`
	TokenDecimals    int              `json:"token_decimals"`
	TokenType        models.TokenType `json:"token_type"`
}

// chargeResponse wraps the ledger's charge payload. Some deployments nest
// the charge under "data", others return it at the top level.
type chargeResponse struct {
	Data *models.Charge `json:"data,omitempty"`
	models.Charge
}

func (r *chargeResponse) charge() *models.Charge {
	if r.Data != nil {
		return r.Data
	}
	return &r.Charge
}

// GetCharge fetches a charge by its id
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*models.Charge, error) {
	if chargeID == "" {
		return nil, fmt.Errorf("charge id is empty")
	}

	var resp chargeResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/charges/%s", chargeID), &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch charge %s: %w", chargeID, err)
	}

	charge := resp.charge()
	if charge.ID == "" {
		return nil, fmt.Errorf("charge %s not found in ledger response", chargeID)
	}
	return charge, nil
}

// GetRequest fetches a payment request by its id
func (c *Client) GetRequest(ctx context.Context, requestID string) (*models.Request, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request id is empty")
	}

	var req models.Request
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/requests/%s", requestID), &req); err != nil {
		return nil, fmt.Errorf("failed to fetch request %s: %w", requestID, err)
	}

	if req.ID == "" {
		return nil, fmt.Errorf("request %s not found in ledger response", requestID)
	}
	return &req, nil
}

// CreateRequest creates a new payment request on the ledger
func (c *Client) CreateRequest(ctx context.Context, params CreateRequestParams) (*models.Request, error) {
	var req models.Request
	if err := c.postJSON(ctx, "/api/v1/requests", params, &req); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if req.ID == "" {
		return nil, fmt.Errorf("ledger returned a request without an id")
	}
	return &req, nil
}

// CreateCharge creates a new charge on the ledger
func (c *Client) CreateCharge(ctx context.Context, params CreateChargeParams) (*models.Charge, error) {
	var resp chargeResponse
	if err := c.postJSON(ctx, "/api/v1/charges", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to create charge: %w", err)
	}

	charge := resp.charge()
	if charge.ID == "" {
		return nil, fmt.Errorf("ledger returned a charge without an id")
	}
	return charge, nil
}

// CreatePayment records a settled payment for a charge
func (c *Client) CreatePayment(ctx context.Context, record models.PaymentRecord) error {
	if err := c.postJSON(ctx, fmt.Sprintf("/api/v1/charges/%s/payments", record.ChargeID), record, nil); err != nil {
		return fmt.Errorf("failed to record payment for charge %s: %w", record.ChargeID, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d, %s", resp.StatusCode, extractErrorMessage(bodyBytes))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %v, body: %s", err, string(bodyBytes))
	}
	return nil
}

// extractErrorMessage pulls a human-readable message out of a JSON error
// body, falling back to the raw body
func extractErrorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return string(body)
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
