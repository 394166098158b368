package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (
			id, shopper_id, items, shipping_address, shipment_method, status,
			payment_method, payment_status, original_amount, discount_amount,
			total_amount, coupon_code, contact_email
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	getOrderSQL = `SELECT id, shopper_id, items, shipping_address, shipment_method, status,
			payment_method, payment_status, original_amount, discount_amount,
			total_amount, coupon_code, gateway_reference, authorization_token,
			contact_email, created_at, updated_at
		FROM orders WHERE id = $1`

	getOrderByReferenceSQL = `SELECT id, shopper_id, items, shipping_address, shipment_method, status,
			payment_method, payment_status, original_amount, discount_amount,
			total_amount, coupon_code, gateway_reference, authorization_token,
			contact_email, created_at, updated_at
		FROM orders WHERE gateway_reference = $1`

	claimPaymentSQL = `UPDATE orders SET payment_status = $2, updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'`

	currentPaymentStatusSQL = `SELECT payment_status FROM orders WHERE id = $1`

	updatePaymentStatusSQL = `UPDATE orders SET payment_status = $3, updated_at = now()
		WHERE id = $1 AND payment_status = $2`

	setGatewaySessionSQL = `UPDATE orders SET gateway_reference = $2, updated_at = now()
		WHERE id = $1`

	finalizeSuccessSQL = `UPDATE orders
		SET authorization_token = $2, status = 'processing', updated_at = now()
		WHERE id = $1`

	updateStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Items and shipping address are serialized
// to JSON for storage in JSONB columns.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addressJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, nullable(o.ShopperID), itemsJSON, addressJSON,
		string(o.ShipmentMethod), string(o.Status),
		o.Billing.Method, string(o.Billing.Status),
		o.Billing.OriginalAmount, o.Billing.DiscountAmount, o.Billing.TotalAmount,
		o.Billing.CouponCode, o.ContactEmail,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns a single order by its identifier.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// GetByReference resolves an order by its gateway session reference.
func (r *OrderRepository) GetByReference(ctx context.Context, reference string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByReferenceSQL, reference)
	if err != nil {
		return nil, fmt.Errorf("getting order by reference %q: %w", reference, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order by reference %q: %w", reference, err)
	}
	return &o, nil
}

// ClaimPayment moves the payment status from pending to the given terminal
// state with a single conditional update. The row version arbitrates
// racing confirmation signals; there is no read-then-write window.
func (r *OrderRepository) ClaimPayment(ctx context.Context, orderID string, to order.PaymentStatus) (bool, order.PaymentStatus, error) {
	tag, err := r.pool.Exec(ctx, claimPaymentSQL, orderID, string(to))
	if err != nil {
		return false, "", fmt.Errorf("claiming payment for order %q: %w", orderID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, to, nil
	}

	var current string
	if err := r.pool.QueryRow(ctx, currentPaymentStatusSQL, orderID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, "", order.ErrNotFound
		}
		return false, "", fmt.Errorf("reading payment status for order %q: %w", orderID, err)
	}
	return false, order.PaymentStatus(current), nil
}

// UpdatePaymentStatus conditionally moves the payment status between two
// known states. Errors when the row is not in the expected state.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, orderID string, from, to order.PaymentStatus) error {
	tag, err := r.pool.Exec(ctx, updatePaymentStatusSQL, orderID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("updating payment status for order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %q payment status is not %s", orderID, from)
	}
	return nil
}

// SetGatewaySession records the gateway session reference on the order.
func (r *OrderRepository) SetGatewaySession(ctx context.Context, orderID, reference string) error {
	tag, err := r.pool.Exec(ctx, setGatewaySessionSQL, orderID, reference)
	if err != nil {
		return fmt.Errorf("storing gateway reference for order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// FinalizeSuccess stores the authorization token and advances the order to
// processing after a confirmed payment.
func (r *OrderRepository) FinalizeSuccess(ctx context.Context, orderID, authorizationToken string) error {
	tag, err := r.pool.Exec(ctx, finalizeSuccessSQL, orderID, authorizationToken)
	if err != nil {
		return fmt.Errorf("finalizing order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// UpdateStatus sets the fulfilment status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status order.Status) error {
	tag, err := r.pool.Exec(ctx, updateStatusSQL, orderID, string(status))
	if err != nil {
		return fmt.Errorf("updating status for order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		shopperID     *string
		itemsJSON     []byte
		addressJSON   []byte
		shipMethod    string
		status        string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &shopperID, &itemsJSON, &addressJSON, &shipMethod, &status,
		&o.Billing.Method, &paymentStatus,
		&o.Billing.OriginalAmount, &o.Billing.DiscountAmount, &o.Billing.TotalAmount,
		&o.Billing.CouponCode, &o.Billing.GatewayReference, &o.Billing.AuthorizationToken,
		&o.ContactEmail, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	if shopperID != nil {
		o.ShopperID = *shopperID
	}
	o.ShipmentMethod = order.ShipmentMethod(shipMethod)
	o.Status = order.Status(status)
	o.Billing.Status = order.PaymentStatus(paymentStatus)

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(addressJSON, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	return o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
