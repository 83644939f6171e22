/**
 * @description
 * Client for the billing service: program revenue figures and subscription cancellation.
 */
package billingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides methods to interact with the billing service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new billing service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type revenueResponse struct {
	TotalRevenue int64  `json:"total_revenue"`
	Currency     string `json:"currency"`
}

// GetTotalRevenue returns the sum of succeeded payments in minor units.
func (c *Client) GetTotalRevenue(ctx context.Context) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/internal/billing/revenue/total", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var body revenueResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode revenue response: %w", err)
	}
	if body.TotalRevenue < 0 {
		return 0, fmt.Errorf("billing service returned negative revenue %d", body.TotalRevenue)
	}
	return body.TotalRevenue, nil
}

// CancelSubscription cancels billing for a member.
func (c *Client) CancelSubscription(ctx context.Context, memberID, reason string) error {
	payload := map[string]string{"reason": reason}
	path := fmt.Sprintf("/internal/billing/members/%s/subscription/cancel", url.PathEscape(memberID))
	resp, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("billing service base URL is not configured")
	}

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("billing service returned status %d", resp.StatusCode)
	}
	return resp, nil
}
