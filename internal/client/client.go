// Package client is a small HTTP client for the relay's read endpoint, for
// bots and scripts that wait on a verification code.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jredh-dev/sms-relay/internal/guard"
)

// ErrForbidden is returned when the relay answers 403.
var ErrForbidden = errors.New("relay: forbidden")

// Latest is the decoded body of GET /sms/latest.
type Latest struct {
	To      string  `json:"to,omitempty"`
	Found   bool    `json:"found"`
	Message *string `json:"message"`
}

// Client talks to one relay.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client.  token may be empty when the relay runs without auth.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Latest fetches the newest message delivered to number.
func (c *Client) Latest(ctx context.Context, number string) (*Latest, error) {
	u := c.baseURL + "/sms/latest?" + url.Values{"to": {number}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set(guard.TokenHeader, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms latest: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return nil, ErrForbidden
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("sms latest: relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out Latest
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("sms latest decode: %w", err)
	}
	return &out, nil
}
