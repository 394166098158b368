// Package cart models the per-shopper cart that a checkout converts into an
// order. A cart lives until payment for its order is confirmed; it is then
// deleted exactly once by the order lifecycle.
package cart

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a shopper has no live cart.
var ErrNotFound = errors.New("cart not found")

// Item is a single product+size entry held in a cart.
type Item struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Cart is the mutable line-item collection owned by one shopper.
type Cart struct {
	ShopperID string `json:"shopper_id"`
	Items     []Item `json:"items"`
}

// Merge folds an item into the cart, summing quantities when the same
// product+size pair is already present.
func (c *Cart) Merge(item Item) {
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID && c.Items[i].Size == item.Size {
			c.Items[i].Quantity += item.Quantity
			return
		}
	}
	c.Items = append(c.Items, item)
}

// Repository persists carts. Delete is idempotent: deleting an absent cart
// is not an error, so replayed confirmations stay side-effect free.
type Repository interface {
	Get(ctx context.Context, shopperID string) (*Cart, error)
	Put(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, shopperID string) error
}
