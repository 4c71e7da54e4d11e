// Package client talks to a running pricewatch server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pricewatch/internal/progress"
)

// Client provides HTTP access to the pricewatch API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// DefaultConfig returns the client configuration for a local server.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates an API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "client").Logger()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client:  &http.Client{Timeout: config.Timeout},
		logger:  logger,
	}
}

var _ progress.Source = (*Client)(nil)

// Progress fetches the server's current sweep state.
func (c *Client) Progress(ctx context.Context) (progress.State, error) {
	var state progress.State
	err := c.do(ctx, http.MethodGet, "/progress", nil, &state)
	return state, err
}

// StartSweep asks the server to sweep every enabled item and returns the run id.
func (c *Client) StartSweep(ctx context.Context) (string, error) {
	var resp SweepResponse
	if err := c.do(ctx, http.MethodPost, "/sweeps", nil, &resp); err != nil {
		return "", err
	}
	c.logger.Debug().Str("run_id", resp.RunID).Msg("sweep accepted")
	return resp.RunID, nil
}

// Refresh asks the server to sweep a single item.
func (c *Client) Refresh(ctx context.Context, itemID int64) (string, error) {
	var resp SweepResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/items/%d/refresh", itemID), nil, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// Cancel stops the sweep with the given run id.
func (c *Client) Cancel(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodDelete, "/sweeps/"+runID, nil, nil)
}

// Items lists tracked items.
func (c *Client) Items(ctx context.Context) ([]Item, error) {
	var items []Item
	err := c.do(ctx, http.MethodGet, "/items", nil, &items)
	return items, err
}

// UpsertItem adds an item or updates the one with the same external id.
func (c *Client) UpsertItem(ctx context.Context, req ItemRequest) (Item, error) {
	var item Item
	err := c.do(ctx, http.MethodPost, "/items", req, &item)
	return item, err
}

// SetEnabled toggles whether scheduled sweeps include the item.
func (c *Client) SetEnabled(ctx context.Context, itemID int64, enabled bool) error {
	body := map[string]bool{"enabled": enabled}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/items/%d", itemID), body, nil)
}

// RecentAlerts lists the newest alerts.
func (c *Client) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	var alerts []Alert
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/alerts?limit=%d", limit), nil, &alerts)
	return alerts, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("request failed")
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusConflict:
		return ErrAlreadyRunning
	case http.StatusNotFound:
		return ErrNotFound
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug().Str("error", errorResp.Error).Int("status", resp.StatusCode).Msg("api request failed")
	return fmt.Errorf("API error: %s", errorResp.Error)
}
