// Package payment defines the provider-agnostic contract for the hosted
// payment gateway used at checkout.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrGatewayUnavailable is returned on transport errors and timeouts.
	// It is never treated as a successful payment.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected is returned when the gateway answers with a
	// non-success response body.
	ErrGatewayRejected = errors.New("payment gateway rejected request")
)

// InitRequest carries everything the gateway needs to open a hosted
// checkout session for an order.
type InitRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Email       string
	CallbackURL string
}

// Session is the result of a successful session initialization. The shopper
// is redirected to RedirectURL; Reference identifies the session in later
// verification calls and webhook payloads.
type Session struct {
	RedirectURL string
	Reference   string
}

// Verification is the gateway's authoritative answer about a session.
// AmountMinor is expressed in the currency's minor unit (cents).
type Verification struct {
	Succeeded          bool
	AmountMinor        int64
	AuthorizationToken string
}

// Gateway abstracts the external payment provider. Verify may be slow or
// unavailable; callers must not hold locks or open transactions across it.
type Gateway interface {
	InitializeSession(ctx context.Context, req InitRequest) (*Session, error)
	Verify(ctx context.Context, reference string) (*Verification, error)
	VerifyWebhookSignature(payload []byte, signatureHeader string) bool
}

// MinorUnits converts a decimal amount to the gateway's minor-unit (cent)
// representation. Verification compares amounts in this unit only.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
