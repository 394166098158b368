package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

type cartResp struct {
	ShopperID string      `json:"shopper_id"`
	Items     []cart.Item `json:"items"`
}

func (h *Handler) getCart(c *gin.Context) {
	shopperID := c.Param("shopperID")

	crt, err := h.carts.Get(c.Request.Context(), shopperID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			// An absent cart reads as an empty one.
			c.JSON(http.StatusOK, cartResp{ShopperID: shopperID, Items: []cart.Item{}})
			return
		}
		errorJSON(c, http.StatusInternalServerError, "cart lookup failed")
		return
	}
	c.JSON(http.StatusOK, cartResp{ShopperID: crt.ShopperID, Items: crt.Items})
}

type addCartItemReq struct {
	ProductID string `json:"product_id" binding:"required"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity" binding:"required"`
}

func (h *Handler) addCartItem(c *gin.Context) {
	shopperID := c.Param("shopperID")

	var req addCartItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity <= 0 {
		errorJSON(c, http.StatusBadRequest, "quantity must be positive")
		return
	}

	ctx := c.Request.Context()
	known, err := h.products.GetByIDs(ctx, []string{req.ProductID})
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "catalog lookup failed")
		return
	}
	if len(known) == 0 {
		errorJSON(c, http.StatusUnprocessableEntity, "product not found: "+req.ProductID)
		return
	}

	crt, err := h.carts.Get(ctx, shopperID)
	if err != nil {
		if !errors.Is(err, cart.ErrNotFound) {
			errorJSON(c, http.StatusInternalServerError, "cart lookup failed")
			return
		}
		crt = &cart.Cart{ShopperID: shopperID}
	}

	crt.Merge(cart.Item{ProductID: req.ProductID, Size: req.Size, Quantity: req.Quantity})

	if err := h.carts.Put(ctx, crt); err != nil {
		errorJSON(c, http.StatusInternalServerError, "cart store failed")
		return
	}
	c.JSON(http.StatusOK, cartResp{ShopperID: crt.ShopperID, Items: crt.Items})
}

func (h *Handler) deleteCart(c *gin.Context) {
	if err := h.carts.Delete(c.Request.Context(), c.Param("shopperID")); err != nil {
		errorJSON(c, http.StatusInternalServerError, "cart delete failed")
		return
	}
	c.Status(http.StatusNoContent)
}
