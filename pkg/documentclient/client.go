/**
 * @description
 * Client for the document service. Renders a named template to PDF and returns the
 * stored document's URL.
 */
package documentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client provides methods to interact with the document service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new document service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type renderRequest struct {
	Template string `json:"template"`
	Data     any    `json:"data"`
}

type renderResponse struct {
	URL string `json:"url"`
}

// Render renders template with data and returns the content URL.
func (c *Client) Render(ctx context.Context, template string, data any) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("document service base URL is not configured")
	}

	raw, err := json.Marshal(renderRequest{Template: template, Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/documents/render", bytes.NewBuffer(raw))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("document service returned status %d", resp.StatusCode)
	}

	var body renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode render response: %w", err)
	}
	if strings.TrimSpace(body.URL) == "" {
		return "", fmt.Errorf("document service returned an empty url")
	}
	return body.URL, nil
}
