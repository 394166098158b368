package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// Notifier receives operational alerts raised during confirmation.
type Notifier interface {
	InsufficientStock(ctx context.Context, orderID string, err error)
}

// NopNotifier discards alerts. Used when alerting is not configured.
type NopNotifier struct{}

func (NopNotifier) InsufficientStock(context.Context, string, error) {}

var (
	// ErrEmptyOrder is returned when an order has no line items.
	ErrEmptyOrder = errors.New("order has no items")
	// ErrInvalidQuantity is returned for a non-positive line quantity.
	ErrInvalidQuantity = errors.New("item quantity must be positive")
	// ErrInvalidTransition is returned for a disallowed fulfilment move.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Service drives orders through their lifecycle. Creation snapshots the
// catalog, spends the coupon and opens a gateway session; confirmation
// arbitrates racing signals through the repository's atomic claim.
type Service struct {
	orders   Repository
	products product.Repository
	coupons  *coupon.Ledger
	gateway  payment.Gateway
	stock    inventory.Ledger
	carts    cart.Repository
	alerts   Notifier

	currency    string
	callbackURL string
	now         func() time.Time
}

// NewService wires the order service with its collaborators. The callback
// URL is where the gateway redirects the browser after checkout.
func NewService(
	orders Repository,
	products product.Repository,
	coupons *coupon.Ledger,
	gateway payment.Gateway,
	stock inventory.Ledger,
	carts cart.Repository,
	alerts Notifier,
	currency, callbackURL string,
) *Service {
	if alerts == nil {
		alerts = NopNotifier{}
	}
	return &Service{
		orders:      orders,
		products:    products,
		coupons:     coupons,
		gateway:     gateway,
		stock:       stock,
		carts:       carts,
		alerts:      alerts,
		currency:    currency,
		callbackURL: callbackURL,
		now:         time.Now,
	}
}

// CreateRequest describes a checkout attempt. Item prices are never taken
// from the client; only product, size and quantity are.
type CreateRequest struct {
	ShopperID       string
	ShopperEmail    string
	Items           []ItemRequest
	ShippingAddress Address
	ShipmentMethod  ShipmentMethod
	PaymentMethod   string
	CouponCode      string

	// ExpectedAmount is the pre-discount total the client computed, when
	// it sends one. It is cross-checked against the catalog snapshot and
	// never trusted as a price source.
	ExpectedAmount *decimal.Decimal
}

// ErrAmountMismatch is returned when the client's pre-discount total does
// not match the catalog snapshot.
var ErrAmountMismatch = errors.New("order amount does not match catalog prices")

// ItemRequest is one requested line of a checkout attempt.
type ItemRequest struct {
	ProductID string
	Size      string
	Quantity  int
}

// CreateResult is returned on successful order placement. The caller
// redirects the shopper to RedirectURL to complete payment.
type CreateResult struct {
	Order       *Order
	RedirectURL string
	Reference   string
}

// ProductNotFoundError names the missing product of a rejected checkout.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return "product not found: " + e.ProductID
}

// Create places an order: snapshot the catalog rows, validate and spend
// the coupon, persist the pending order and open a gateway session. A
// gateway failure marks the order failed but leaves the cart untouched so
// the shopper can retry.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	lg := zctx.From(ctx)

	if len(req.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	if !ValidShipmentMethod(req.ShipmentMethod) {
		return nil, errors.Errorf("unknown shipment method: %q", req.ShipmentMethod)
	}

	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		ids = append(ids, it.ProductID)
	}

	catalog, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load products")
	}
	byID := make(map[string]product.Product, len(catalog))
	for _, p := range catalog {
		byID[p.ID] = p
	}

	items := make([]LineItem, 0, len(req.Items))
	couponItems := make([]coupon.Item, 0, len(req.Items))
	original := decimal.Zero
	for _, it := range req.Items {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: it.ProductID}
		}
		items = append(items, LineItem{
			ProductID: p.ID,
			Title:     p.Title,
			UnitPrice: p.Price,
			Size:      it.Size,
			Quantity:  it.Quantity,
			Category:  p.Category,
		})
		couponItems = append(couponItems, coupon.Item{
			ProductID: p.ID,
			Category:  p.Category,
			Quantity:  it.Quantity,
		})
		original = original.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	if req.ExpectedAmount != nil && !req.ExpectedAmount.Equal(original) {
		return nil, errors.Wrapf(ErrAmountMismatch, "client %s, catalog %s", req.ExpectedAmount, original)
	}

	orderID := uuid.New().String()

	discount := decimal.Zero
	var applied *coupon.Coupon
	if req.CouponCode != "" {
		discount, applied, err = s.coupons.Validate(ctx, coupon.ValidateRequest{
			Code:         req.CouponCode,
			ShopperID:    req.ShopperID,
			ShopperEmail: req.ShopperEmail,
			OrderAmount:  original,
			Items:        couponItems,
		})
		if err != nil {
			return nil, err
		}
	}

	o := &Order{
		ID:              orderID,
		ShopperID:       req.ShopperID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		ShipmentMethod:  req.ShipmentMethod,
		Status:          StatusPending,
		Billing: Billing{
			Method:         req.PaymentMethod,
			Status:         PaymentPending,
			OriginalAmount: original,
			DiscountAmount: discount,
			TotalAmount:    original.Sub(discount),
		},
		ContactEmail: req.ShopperEmail,
		CreatedAt:    s.now(),
	}
	if applied != nil {
		o.Billing.CouponCode = applied.Code
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "persist order")
	}

	if applied != nil {
		if err := s.coupons.CommitUsage(ctx, applied, req.ShopperID, orderID, discount); err != nil {
			// The pending row already carries a discount; without a ledger
			// entry it must not stay open, so it is terminally marked.
			if uerr := s.orders.UpdatePaymentStatus(ctx, orderID, PaymentPending, PaymentFailed); uerr != nil {
				lg.Error("mark payment failed", zap.String("order_id", orderID), zap.Error(uerr))
			}
			if uerr := s.orders.UpdateStatus(ctx, orderID, StatusFailed); uerr != nil {
				lg.Error("mark order failed", zap.String("order_id", orderID), zap.Error(uerr))
			}
			return nil, errors.Wrap(err, "commit coupon usage")
		}
	}

	session, err := s.gateway.InitializeSession(ctx, payment.InitRequest{
		OrderID:     orderID,
		Amount:      o.Billing.TotalAmount,
		Currency:    s.currency,
		Email:       req.ShopperEmail,
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		lg.Warn("gateway session init failed",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		if uerr := s.orders.UpdatePaymentStatus(ctx, orderID, PaymentPending, PaymentFailed); uerr != nil {
			lg.Error("mark payment failed", zap.String("order_id", orderID), zap.Error(uerr))
		}
		if uerr := s.orders.UpdateStatus(ctx, orderID, StatusFailed); uerr != nil {
			lg.Error("mark order failed", zap.String("order_id", orderID), zap.Error(uerr))
		}
		return nil, errors.Wrap(err, "initialize payment session")
	}

	if err := s.orders.SetGatewaySession(ctx, orderID, session.Reference); err != nil {
		return nil, errors.Wrap(err, "store gateway reference")
	}
	o.Billing.GatewayReference = session.Reference

	lg.Info("order placed",
		zap.String("order_id", orderID),
		zap.String("reference", session.Reference),
		zap.String("total", o.Billing.TotalAmount.String()),
	)

	return &CreateResult{Order: o, RedirectURL: session.RedirectURL, Reference: session.Reference}, nil
}

// ConfirmResult reports the outcome of one confirmation signal. Duplicate
// means the payment was already terminal and this call changed nothing.
type ConfirmResult struct {
	OrderID       string
	PaymentStatus PaymentStatus
	OrderStatus   Status
	Duplicate     bool
}

// Confirm processes the browser-return confirmation signal. A non-empty
// reference is cross-checked against the stored session reference.
func (s *Service) Confirm(ctx context.Context, orderID, reference string) (*ConfirmResult, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if reference != "" && o.Billing.GatewayReference != "" && reference != o.Billing.GatewayReference {
		return nil, ErrReferenceMismatch
	}
	return s.confirm(ctx, o)
}

// ConfirmByReference processes the gateway webhook confirmation signal,
// which identifies the order by session reference.
func (s *Service) ConfirmByReference(ctx context.Context, reference string) (*ConfirmResult, error) {
	o, err := s.orders.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.confirm(ctx, o)
}

// confirm arbitrates racing confirmation signals. The atomic claim on the
// payment status elects exactly one winner, which verifies the charge with
// the gateway and commits inventory and cart side effects exactly once.
// Losers observe the recorded terminal state.
func (s *Service) confirm(ctx context.Context, o *Order) (*ConfirmResult, error) {
	orderID := o.ID
	lg := zctx.From(ctx).With(zap.String("order_id", orderID))

	claimed, current, err := s.orders.ClaimPayment(ctx, orderID, PaymentSuccess)
	if err != nil {
		return nil, errors.Wrap(err, "claim payment")
	}
	if !claimed {
		lg.Debug("duplicate confirmation ignored", zap.String("payment_status", string(current)))
		settled, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{
			OrderID:       orderID,
			PaymentStatus: current,
			OrderStatus:   settled.Status,
			Duplicate:     true,
		}, nil
	}

	// Verification happens after the claim so no locks are held across the
	// gateway round trip. On a transport error the claim is released back
	// to Pending so a later signal can retry.
	v, err := s.gateway.Verify(ctx, o.Billing.GatewayReference)
	if err != nil {
		if uerr := s.orders.UpdatePaymentStatus(ctx, orderID, PaymentSuccess, PaymentPending); uerr != nil {
			lg.Error("release claim", zap.Error(uerr))
		}
		return nil, errors.Wrap(err, "verify payment")
	}

	if !v.Succeeded || v.AmountMinor != payment.MinorUnits(o.Billing.TotalAmount) {
		lg.Warn("payment verification rejected",
			zap.Bool("succeeded", v.Succeeded),
			zap.Int64("amount_minor", v.AmountMinor),
			zap.Int64("expected_minor", payment.MinorUnits(o.Billing.TotalAmount)),
		)
		if uerr := s.orders.UpdatePaymentStatus(ctx, orderID, PaymentSuccess, PaymentFailed); uerr != nil {
			lg.Error("mark payment failed", zap.Error(uerr))
		}
		if uerr := s.orders.UpdateStatus(ctx, orderID, StatusFailed); uerr != nil {
			lg.Error("mark order failed", zap.Error(uerr))
		}
		return &ConfirmResult{OrderID: orderID, PaymentStatus: PaymentFailed, OrderStatus: StatusFailed}, nil
	}

	reservations := make([]inventory.Reservation, 0, len(o.Items))
	for _, it := range o.Items {
		reservations = append(reservations, inventory.Reservation{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
		})
	}
	if err := s.stock.CommitReservation(ctx, orderID, reservations); err != nil {
		// Payment is captured; the money stays recorded and the shortfall
		// goes to operations for manual resolution.
		var insufficient *inventory.InsufficientStockError
		if errors.As(err, &insufficient) {
			lg.Error("insufficient stock after captured payment",
				zap.String("product_id", insufficient.ProductID),
				zap.Int("requested", insufficient.Requested),
			)
			s.alerts.InsufficientStock(ctx, orderID, err)
			if uerr := s.orders.FinalizeSuccess(ctx, orderID, v.AuthorizationToken); uerr != nil {
				lg.Error("finalize order", zap.Error(uerr))
			}
			return &ConfirmResult{OrderID: orderID, PaymentStatus: PaymentSuccess, OrderStatus: StatusProcessing}, err
		}
		return nil, errors.Wrap(err, "commit inventory")
	}

	if o.ShopperID != "" {
		if err := s.carts.Delete(ctx, o.ShopperID); err != nil {
			lg.Error("delete cart", zap.String("shopper_id", o.ShopperID), zap.Error(err))
		}
	}

	if err := s.orders.FinalizeSuccess(ctx, orderID, v.AuthorizationToken); err != nil {
		return nil, errors.Wrap(err, "finalize order")
	}

	lg.Info("payment confirmed", zap.String("reference", o.Billing.GatewayReference))

	return &ConfirmResult{OrderID: orderID, PaymentStatus: PaymentSuccess, OrderStatus: StatusProcessing}, nil
}

// Abandon marks a still-pending payment as abandoned, for expiry sweeps.
// A payment already terminal is left untouched.
func (s *Service) Abandon(ctx context.Context, orderID string) error {
	claimed, current, err := s.orders.ClaimPayment(ctx, orderID, PaymentAbandoned)
	if err != nil {
		return errors.Wrap(err, "claim payment")
	}
	if !claimed && current != PaymentAbandoned {
		return errors.Errorf("payment already %s", current)
	}
	return nil
}

// Get returns one order by ID.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.orders.Get(ctx, orderID)
}

// AdvanceStatus moves the fulfilment status forward administratively,
// rejecting transitions the lifecycle does not allow.
func (s *Service) AdvanceStatus(ctx context.Context, orderID string, to Status) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, to)
	}
	if err := s.orders.UpdateStatus(ctx, orderID, to); err != nil {
		return nil, errors.Wrap(err, "update status")
	}
	o.Status = to
	return o, nil
}
