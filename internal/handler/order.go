package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// signatureHeader carries the provider's HMAC over the raw webhook body.
const signatureHeader = "X-Webhook-Signature"

type orderItemReq struct {
	ProductID string `json:"product_id" binding:"required"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity" binding:"required"`
}

type addressReq struct {
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" binding:"required"`
	PostalCode string `json:"postal_code" binding:"required"`
	Country    string `json:"country" binding:"required"`
}

type placeOrderReq struct {
	ShopperID       string         `json:"shopper_id"`
	Email           string         `json:"email"`
	Items           []orderItemReq `json:"items" binding:"required"`
	ShippingAddress addressReq     `json:"shipping_address" binding:"required"`
	ShipmentMethod  string         `json:"shipment_method" binding:"required"`
	PaymentMethod   string         `json:"payment_method" binding:"required"`
	CouponCode      string         `json:"coupon_code"`

	// OriginalAmount is the client's own pre-discount total, checked
	// against the catalog snapshot when present.
	OriginalAmount string `json:"original_amount"`
}

type placeOrderResp struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	PaymentStatus  string `json:"payment_status"`
	OriginalAmount string `json:"original_amount"`
	DiscountAmount string `json:"discount_amount"`
	TotalAmount    string `json:"total_amount"`
	RedirectURL    string `json:"redirect_url"`
	Reference      string `json:"reference"`
}

func (h *Handler) placeOrder(c *gin.Context) {
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	items := make([]order.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemRequest{ProductID: it.ProductID, Size: it.Size, Quantity: it.Quantity}
	}

	var expected *decimal.Decimal
	if req.OriginalAmount != "" {
		amount, err := decimal.NewFromString(req.OriginalAmount)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, "invalid original_amount")
			return
		}
		expected = &amount
	}

	res, err := h.orders.Create(c.Request.Context(), order.CreateRequest{
		ShopperID:    req.ShopperID,
		ShopperEmail: req.Email,
		Items:        items,
		ShippingAddress: order.Address{
			Line1:      req.ShippingAddress.Line1,
			Line2:      req.ShippingAddress.Line2,
			City:       req.ShippingAddress.City,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
		},
		ShipmentMethod: order.ShipmentMethod(req.ShipmentMethod),
		PaymentMethod:  req.PaymentMethod,
		CouponCode:     req.CouponCode,
		ExpectedAmount: expected,
	})
	if err != nil {
		mapOrderError(c, err)
		return
	}

	o := res.Order
	c.JSON(http.StatusCreated, placeOrderResp{
		OrderID:        o.ID,
		Status:         string(o.Status),
		PaymentStatus:  string(o.Billing.Status),
		OriginalAmount: o.Billing.OriginalAmount.StringFixed(2),
		DiscountAmount: o.Billing.DiscountAmount.StringFixed(2),
		TotalAmount:    o.Billing.TotalAmount.StringFixed(2),
		RedirectURL:    res.RedirectURL,
		Reference:      res.Reference,
	})
}

type confirmOrderReq struct {
	OrderID   string `json:"order_id" binding:"required"`
	Reference string `json:"reference"`
}

type confirmOrderResp struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status,omitempty"`
	PaymentStatus string `json:"payment_status"`
	Duplicate     bool   `json:"duplicate"`
}

// confirmOrder handles the browser-return confirmation signal.
func (h *Handler) confirmOrder(c *gin.Context) {
	var req confirmOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.orders.Confirm(c.Request.Context(), req.OrderID, req.Reference)
	if err != nil {
		mapConfirmError(c, res, err)
		return
	}
	c.JSON(http.StatusOK, toConfirmResp(res))
}

func toConfirmResp(res *order.ConfirmResult) confirmOrderResp {
	return confirmOrderResp{
		OrderID:       res.OrderID,
		Status:        string(res.OrderStatus),
		PaymentStatus: string(res.PaymentStatus),
		Duplicate:     res.Duplicate,
	}
}

// paymentWebhook handles the provider's confirmation signal. The signature
// is checked over the raw body before any parsing. Replies are 2xx for
// everything already settled so the provider stops retrying, and 5xx only
// for transient faults worth a retry.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "unreadable body")
		return
	}

	if !h.gateway.VerifyWebhookSignature(payload, c.GetHeader(signatureHeader)) {
		errorJSON(c, http.StatusBadRequest, "invalid signature")
		return
	}

	event, reference, err := parseWebhookEvent(payload)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "malformed event")
		return
	}

	lg := zctx.From(c.Request.Context())
	if event != "charge.success" {
		lg.Debug("webhook event ignored", zap.String("event", event))
		c.Status(http.StatusOK)
		return
	}

	res, err := h.orders.ConfirmByReference(c.Request.Context(), reference)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			errorJSON(c, http.StatusOK, "unknown order")
		case isInsufficientStock(err):
			// Payment is recorded; retrying the delivery cannot help.
			c.JSON(http.StatusOK, toConfirmResp(res))
		default:
			errorJSON(c, http.StatusInternalServerError, "confirmation failed")
		}
		return
	}

	c.JSON(http.StatusOK, toConfirmResp(res))
}

// parseWebhookEvent pulls the event name and transaction reference out of
// the raw payload without binding the whole provider schema.
func parseWebhookEvent(payload []byte) (event, reference string, err error) {
	d := jx.DecodeBytes(payload)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := d.Str()
			if err != nil {
				return err
			}
			event = v
			return nil
		case "data":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key == "reference" {
					v, err := d.Str()
					if err != nil {
						return err
					}
					reference = v
					return nil
				}
				return d.Skip()
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return "", "", err
	}
	if event == "" || reference == "" {
		return "", "", errors.New("missing event or reference")
	}
	return event, reference, nil
}

type orderResp struct {
	OrderID        string           `json:"order_id"`
	ShopperID      string           `json:"shopper_id,omitempty"`
	Status         string           `json:"status"`
	PaymentStatus  string           `json:"payment_status"`
	Items          []order.LineItem `json:"items"`
	Address        order.Address    `json:"shipping_address"`
	ShipmentMethod string           `json:"shipment_method"`
	OriginalAmount string           `json:"original_amount"`
	DiscountAmount string           `json:"discount_amount"`
	TotalAmount    string           `json:"total_amount"`
	CouponCode     string           `json:"coupon_code,omitempty"`
}

func (h *Handler) getOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			errorJSON(c, http.StatusNotFound, "order not found")
			return
		}
		errorJSON(c, http.StatusInternalServerError, "lookup failed")
		return
	}
	c.JSON(http.StatusOK, toOrderResp(o))
}

type updateStatusReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.orders.AdvanceStatus(c.Request.Context(), c.Param("id"), order.Status(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			errorJSON(c, http.StatusNotFound, "order not found")
		case errors.Is(err, order.ErrInvalidTransition):
			errorJSON(c, http.StatusConflict, err.Error())
		default:
			errorJSON(c, http.StatusInternalServerError, "update failed")
		}
		return
	}
	c.JSON(http.StatusOK, toOrderResp(o))
}

func toOrderResp(o *order.Order) orderResp {
	return orderResp{
		OrderID:        o.ID,
		ShopperID:      o.ShopperID,
		Status:         string(o.Status),
		PaymentStatus:  string(o.Billing.Status),
		Items:          o.Items,
		Address:        o.ShippingAddress,
		ShipmentMethod: string(o.ShipmentMethod),
		OriginalAmount: o.Billing.OriginalAmount.StringFixed(2),
		DiscountAmount: o.Billing.DiscountAmount.StringFixed(2),
		TotalAmount:    o.Billing.TotalAmount.StringFixed(2),
		CouponCode:     o.Billing.CouponCode,
	}
}

// mapOrderError converts placement errors to HTTP responses. Coupon
// rejections and catalog misses are client faults; gateway outages are
// upstream faults.
func mapOrderError(c *gin.Context, err error) {
	var notFound *order.ProductNotFoundError
	switch {
	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrAmountMismatch):
		errorJSON(c, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		errorJSON(c, http.StatusUnprocessableEntity, notFound.Error())
	case isCouponRejection(err):
		errorJSON(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable),
		errors.Is(err, payment.ErrGatewayRejected):
		errorJSON(c, http.StatusBadGateway, "payment gateway unavailable")
	default:
		errorJSON(c, http.StatusInternalServerError, "order placement failed")
	}
}

func mapConfirmError(c *gin.Context, res *order.ConfirmResult, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		errorJSON(c, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrReferenceMismatch):
		errorJSON(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable):
		errorJSON(c, http.StatusBadGateway, "verification unavailable")
	case isInsufficientStock(err):
		c.JSON(http.StatusOK, confirmOrderResp{
			OrderID:       res.OrderID,
			PaymentStatus: string(res.PaymentStatus),
		})
	default:
		errorJSON(c, http.StatusInternalServerError, "confirmation failed")
	}
}

func isCouponRejection(err error) bool {
	for _, sentinel := range []error{
		coupon.ErrNotFound, coupon.ErrExpired, coupon.ErrInactive,
		coupon.ErrUsageLimitReached, coupon.ErrPerUserLimit,
		coupon.ErrBelowMinimum, coupon.ErrCategoryMismatch, coupon.ErrNotEligible,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func isInsufficientStock(err error) bool {
	var insufficient *inventory.InsufficientStockError
	return errors.As(err, &insufficient)
}
