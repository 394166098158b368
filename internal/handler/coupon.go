package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

type previewCouponReq struct {
	Code        string `json:"code" binding:"required"`
	ShopperID   string `json:"shopper_id"`
	Email       string `json:"email"`
	OrderAmount string `json:"order_amount" binding:"required"`
	Items       []struct {
		ProductID string `json:"product_id"`
		Category  string `json:"category"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

type previewCouponResp struct {
	Code           string `json:"code"`
	DiscountAmount string `json:"discount_amount"`
	TotalAmount    string `json:"total_amount"`
}

// previewCoupon validates a coupon against a prospective order without
// spending it. The cart page calls this on every code entry.
func (h *Handler) previewCoupon(c *gin.Context) {
	var req previewCouponReq
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.OrderAmount)
	if err != nil || amount.IsNegative() {
		errorJSON(c, http.StatusBadRequest, "invalid order amount")
		return
	}

	items := make([]coupon.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = coupon.Item{ProductID: it.ProductID, Category: it.Category, Quantity: it.Quantity}
	}

	discount, matched, err := h.coupons.Validate(c.Request.Context(), coupon.ValidateRequest{
		Code:         req.Code,
		ShopperID:    req.ShopperID,
		ShopperEmail: req.Email,
		OrderAmount:  amount,
		Items:        items,
	})
	if err != nil {
		if isCouponRejection(err) {
			errorJSON(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		errorJSON(c, http.StatusInternalServerError, "coupon validation failed")
		return
	}

	c.JSON(http.StatusOK, previewCouponResp{
		Code:           matched.Code,
		DiscountAmount: discount.StringFixed(2),
		TotalAmount:    amount.Sub(discount).StringFixed(2),
	})
}
