// Package upstream is an HTTP client for a hosted x402 facilitator. It is the
// delegation target when no sandbox or fixed endpoint is configured.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/localx402/facilitator/internal/x402"
)

const (
	verifyTimeout = 10 * time.Second
	// Settlement waits on a blockchain transaction, so it gets more room.
	settleTimeout = 60 * time.Second
)

// Client talks to a remote facilitator's /verify, /settle and /supported.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
	}
}

// request is the body both /verify and /settle accept.
type request struct {
	X402Version         int                       `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *x402.PaymentRequirements `json:"paymentRequirements"`
}

// Verify asks the upstream facilitator to verify a payment authorization.
func (c *Client) Verify(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	var out x402.VerifyResponse
	if err := c.post(ctx, "/verify", verifyTimeout, payload, reqs, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle asks the upstream facilitator to settle a verified payment on-chain.
func (c *Client) Settle(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	var out x402.SettleResponse
	if err := c.post(ctx, "/settle", settleTimeout, payload, reqs, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Supported queries the upstream facilitator's supported scheme/network kinds.
func (c *Client) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream facilitator: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream facilitator /supported: status %d", resp.StatusCode)
	}
	var out x402.SupportedResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

func (c *Client) post(ctx context.Context, path string, timeout time.Duration, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements, out any) error {
	body, err := json.Marshal(request{
		X402Version:         x402.Version,
		PaymentPayload:      payload,
		PaymentRequirements: reqs,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream facilitator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// The upstream reports structured errors; pass the body through opaque.
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upstream facilitator %s: status %d: %s", path, resp.StatusCode, raw)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// BaseURL returns the configured upstream base URL.
func (c *Client) BaseURL() string { return c.baseURL }
