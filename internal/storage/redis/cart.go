// Package redis implements the cart store on Redis. Carts are mutable
// working state with no history requirement, so they live in a key-value
// store instead of PostgreSQL.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

// DefaultTTL is how long an untouched cart survives.
const DefaultTTL = 30 * 24 * time.Hour

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by Redis. Each cart is
// one JSON value under cart:<shopperID>.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartRepository returns a CartRepository using the given client. A zero
// TTL falls back to DefaultTTL.
func NewCartRepository(client *redis.Client, ttl time.Duration) *CartRepository {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &CartRepository{client: client, ttl: ttl}
}

func cartKey(shopperID string) string {
	return "cart:" + shopperID
}

// Get loads a shopper's cart. Returns cart.ErrNotFound when none exists.
func (r *CartRepository) Get(ctx context.Context, shopperID string) (*cart.Cart, error) {
	raw, err := r.client.Get(ctx, cartKey(shopperID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("loading cart of %q: %w", shopperID, err)
	}

	var items []cart.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("unmarshaling cart of %q: %w", shopperID, err)
	}
	return &cart.Cart{ShopperID: shopperID, Items: items}, nil
}

// Put stores the cart, refreshing its TTL.
func (r *CartRepository) Put(ctx context.Context, c *cart.Cart) error {
	raw, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("marshaling cart of %q: %w", c.ShopperID, err)
	}
	if err := r.client.Set(ctx, cartKey(c.ShopperID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("storing cart of %q: %w", c.ShopperID, err)
	}
	return nil
}

// Delete removes the cart. Deleting an absent cart is a no-op, which keeps
// repeated confirmation signals harmless.
func (r *CartRepository) Delete(ctx context.Context, shopperID string) error {
	if err := r.client.Del(ctx, cartKey(shopperID)).Err(); err != nil {
		return fmt.Errorf("deleting cart of %q: %w", shopperID, err)
	}
	return nil
}
