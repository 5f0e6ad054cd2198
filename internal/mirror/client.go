package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"escrow-sync-go/internal/httputil"
	"escrow-sync-go/internal/models"
	"escrow-sync-go/internal/store"
)

// Compile-time check: *Client must satisfy store.MirrorStore.
var _ store.MirrorStore = (*Client)(nil)

// Client talks to a mirror Server and maps its status codes back onto the
// store sentinels.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("mirror url cannot be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid mirror url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}, nil
}

func (c *Client) ListAll(ctx context.Context) ([]models.Agreement, error) {
	var agreements []models.Agreement
	if err := c.do(ctx, http.MethodGet, "/contracts", nil, &agreements); err != nil {
		return nil, err
	}
	if agreements == nil {
		agreements = []models.Agreement{}
	}
	for i := range agreements {
		agreements[i].Normalize()
	}
	return agreements, nil
}

func (c *Client) Append(ctx context.Context, agreement models.Agreement) (*models.Agreement, error) {
	var stored models.Agreement
	if err := c.do(ctx, http.MethodPost, "/contracts", agreement, &stored); err != nil {
		return nil, err
	}
	stored.Normalize()
	return &stored, nil
}

// UpdateApproval asks the service to approve address. The service stamps
// approvedAt with its own clock, so the argument is not sent.
func (c *Client) UpdateApproval(ctx context.Context, address string, _ int64) (*models.Agreement, error) {
	var updated models.Agreement
	path := "/contracts/" + url.PathEscape(address) + "/approve"
	if err := c.do(ctx, http.MethodPut, path, nil, &updated); err != nil {
		return nil, err
	}
	updated.Normalize()
	return &updated, nil
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mirror request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", store.ErrConflict, path)
	case resp.StatusCode >= 300:
		var errBody httputil.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("mirror request %s %s returned %d: %s", method, path, resp.StatusCode, errBody.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode mirror response: %w", err)
	}
	return nil
}
