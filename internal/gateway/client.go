// Package gateway implements the hosted-checkout payment provider client.
// The provider holds the card data; this service only opens sessions,
// verifies charges by reference and checks webhook signatures.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// Config holds the provider credentials and endpoints.
type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// Client talks to the payment provider over HTTP. It implements
// payment.Gateway.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

var _ payment.Gateway = (*Client)(nil)

// NewClient builds a provider client. A zero timeout defaults to 15s.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		secretKey: cfg.SecretKey,
		http:      &http.Client{Timeout: timeout},
	}
}

type initializePayload struct {
	Reference   string `json:"reference"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Email       string `json:"email"`
	CallbackURL string `json:"callback_url"`
}

type initializeResponse struct {
	Status bool `json:"status"`
	Data   struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	} `json:"data"`
	Message string `json:"message"`
}

// InitializeSession opens a hosted checkout session. The provider replies
// with the URL the shopper's browser is redirected to.
func (c *Client) InitializeSession(ctx context.Context, req payment.InitRequest) (*payment.Session, error) {
	body, err := json.Marshal(initializePayload{
		Reference:   req.OrderID,
		AmountMinor: payment.MinorUnits(req.Amount),
		Currency:    req.Currency,
		Email:       req.Email,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode initialize request")
	}

	var resp initializeResponse
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, errors.Wrapf(payment.ErrGatewayRejected, "initialize: %s", resp.Message)
	}

	return &payment.Session{
		RedirectURL: resp.Data.AuthorizationURL,
		Reference:   resp.Data.Reference,
	}, nil
}

type verifyResponse struct {
	Status bool `json:"status"`
	Data   struct {
		Status        string `json:"status"`
		AmountMinor   int64  `json:"amount"`
		Authorization struct {
			Code string `json:"authorization_code"`
		} `json:"authorization"`
	} `json:"data"`
	Message string `json:"message"`
}

// Verify fetches the charge outcome for a session reference. The amount
// comes back in minor units and is compared by the caller against the
// order total; the provider's word alone is not enough.
func (c *Client) Verify(ctx context.Context, reference string) (*payment.Verification, error) {
	var resp verifyResponse
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, errors.Wrapf(payment.ErrGatewayRejected, "verify: %s", resp.Message)
	}

	return &payment.Verification{
		Succeeded:          resp.Data.Status == "success",
		AmountMinor:        resp.Data.AmountMinor,
		AuthorizationToken: resp.Data.Authorization.Code,
	}, nil
}

// VerifyWebhookSignature checks the HMAC-SHA512 signature the provider
// puts on webhook deliveries, keyed by the secret key over the raw body.
func (c *Client) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	if signatureHeader == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(payment.ErrGatewayUnavailable, "%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrapf(payment.ErrGatewayUnavailable, "read response: %v", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return errors.Wrapf(payment.ErrGatewayUnavailable, "%s %s: status %d", method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return errors.Wrapf(payment.ErrGatewayRejected, "%s %s: status %d", method, path, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
