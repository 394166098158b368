// Package order owns the order lifecycle: creation from a cart snapshot,
// coupon application, gateway session initialization, and the race-safe
// confirmation protocol that guarantees exactly-once inventory and cart
// side effects.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PaymentStatus tracks the billing sub-record's state. It moves from
// Pending to exactly one terminal state via an atomic conditional claim.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSuccess   PaymentStatus = "success"
	PaymentFailed    PaymentStatus = "failed"
	PaymentAbandoned PaymentStatus = "abandoned"
)

// Terminal reports whether the payment status can no longer change.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSuccess || s == PaymentFailed || s == PaymentAbandoned
}

// Status is the fulfilment state of the order, tracked separately from the
// payment status and advanced administratively after confirmation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
	StatusFailed     Status = "failed"
)

// ShipmentMethod enumerates the supported delivery options.
type ShipmentMethod string

const (
	ShipStandard ShipmentMethod = "standard"
	ShipExpress  ShipmentMethod = "express"
	ShipNextDay  ShipmentMethod = "next_day"
	ShipPickup   ShipmentMethod = "pickup"
)

// ValidShipmentMethod reports whether m is a known method.
func ValidShipmentMethod(m ShipmentMethod) bool {
	switch m {
	case ShipStandard, ShipExpress, ShipNextDay, ShipPickup:
		return true
	}
	return false
}

// LineItem is a product snapshot captured at order-creation time. Catalog
// edits after placement never change it.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Size      string          `json:"size,omitempty"`
	Quantity  int             `json:"quantity"`
	Category  string          `json:"category,omitempty"`
}

// Address is the shipping destination snapshot.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Billing is the order's payment sub-record.
type Billing struct {
	Method             string
	Status             PaymentStatus
	OriginalAmount     decimal.Decimal
	DiscountAmount     decimal.Decimal
	TotalAmount        decimal.Decimal
	CouponCode         string
	GatewayReference   string
	AuthorizationToken string
}

// Order is one checkout attempt. Orders are never deleted, only terminally
// marked. Invariant: TotalAmount == OriginalAmount - DiscountAmount.
type Order struct {
	ID              string
	ShopperID       string // empty for guest checkout
	Items           []LineItem
	ShippingAddress Address
	ShipmentMethod  ShipmentMethod
	Status          Status
	Billing         Billing
	ContactEmail    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrReferenceMismatch is returned when a confirmation carries a
	// session reference that does not belong to the order.
	ErrReferenceMismatch = errors.New("session reference does not match order")
)

// Repository defines persistence for orders. ClaimPayment is the pivot of
// the confirmation protocol: a single conditional update, never a
// read-then-write pair.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)

	// GetByReference resolves an order by its gateway session reference,
	// the identifier webhook payloads carry.
	GetByReference(ctx context.Context, reference string) (*Order, error)

	// ClaimPayment atomically moves the payment status from Pending to the
	// given terminal status. It reports whether this caller won the claim
	// and, when it lost, the status currently recorded.
	ClaimPayment(ctx context.Context, orderID string, to PaymentStatus) (claimed bool, current PaymentStatus, err error)

	// UpdatePaymentStatus conditionally moves the payment status from one
	// known state to another. Used by the claim winner to revert or settle.
	UpdatePaymentStatus(ctx context.Context, orderID string, from, to PaymentStatus) error

	// SetGatewaySession records the gateway session reference on the order.
	SetGatewaySession(ctx context.Context, orderID, reference string) error

	// FinalizeSuccess stores the authorization token and moves the order
	// status to Processing after a confirmed payment.
	FinalizeSuccess(ctx context.Context, orderID, authorizationToken string) error

	// UpdateStatus sets the fulfilment status (administrative progression).
	UpdateStatus(ctx context.Context, orderID string, status Status) error
}

// allowedTransitions guards the administrative fulfilment progression.
// Cancelled and Rejected are reachable from any non-terminal state.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusRejected},
	StatusProcessing: {StatusShipped, StatusCancelled, StatusRejected},
	StatusShipped:    {StatusDelivered},
}

// CanTransition reports whether the fulfilment status may move from one
// state to another.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
