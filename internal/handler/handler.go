// Package handler exposes the HTTP API: checkout, payment confirmation,
// carts and coupon previews.
package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// Handler carries the domain collaborators the HTTP layer delegates to.
type Handler struct {
	orders   *order.Service
	carts    cart.Repository
	products product.Repository
	coupons  *coupon.Ledger
	gateway  payment.Gateway
}

// New builds the HTTP handler.
func New(
	orders *order.Service,
	carts cart.Repository,
	products product.Repository,
	coupons *coupon.Ledger,
	gateway payment.Gateway,
) *Handler {
	return &Handler{
		orders:   orders,
		carts:    carts,
		products: products,
		coupons:  coupons,
		gateway:  gateway,
	}
}

// Register mounts all API routes on the router group.
func (h *Handler) Register(api *gin.RouterGroup) {
	api.POST("/orders", h.placeOrder)
	api.POST("/orders/confirm", h.confirmOrder)
	api.POST("/orders/webhook", h.paymentWebhook)
	api.GET("/orders/:id", h.getOrder)
	api.PATCH("/orders/:id/status", h.updateOrderStatus)

	api.GET("/carts/:shopperID", h.getCart)
	api.POST("/carts/:shopperID/items", h.addCartItem)
	api.DELETE("/carts/:shopperID", h.deleteCart)

	api.POST("/coupons/preview", h.previewCoupon)
}

// apiError is the JSON error envelope shared by every endpoint.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, apiError{Code: status, Message: msg})
}
