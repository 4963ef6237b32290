package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"

	"rex-hertz/biz/service"
)

type SubmitOrderRequest struct {
	UserID    string `json:"user_id"`
	FundingID string `json:"funding_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Quantity  int64  `json:"quantity"`
}

// SubmitOrder RESTful 下单接口
func SubmitOrder(ctx context.Context, c *app.RequestContext) {
	var req SubmitOrderRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	if req.UserID == "" || req.FundingID == "" || req.Side == "" || req.Price == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "missing required fields"})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid price"})
		return
	}
	order, err := orderSvc.PlaceOrder(ctx, req.UserID, req.FundingID, req.Side, price, req.Quantity)
	if err != nil {
		if errors.Is(err, service.ErrFundingNotFound) {
			c.JSON(consts.StatusNotFound, map[string]interface{}{"error": err.Error()})
			return
		}
		if service.IsValidationError(err) {
			c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": err.Error()})
			return
		}
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"order_id":   order.OrderID,
		"funding_id": order.FundingID,
		"status":     order.Status,
	})
}

// GetOrder 查询单个订单
func GetOrder(ctx context.Context, c *app.RequestContext) {
	orderID := c.Param("id")
	order, err := orderSvc.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, service.ErrOrderGone) {
			c.JSON(consts.StatusNotFound, map[string]interface{}{"error": "order not found"})
			return
		}
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, order)
}

// ListOrders 查询订单列表
func ListOrders(ctx context.Context, c *app.RequestContext) {
	userID := string(c.Query("user_id"))
	side := string(c.Query("side"))
	if userID == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "missing user_id"})
		return
	}
	orders, err := orderSvc.ListOrders(ctx, userID, side)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, orders)
}

// 取消订单
func CancelOrder(ctx context.Context, c *app.RequestContext) {
	type CancelOrderRequest struct {
		UserID string `json:"user_id"`
	}
	orderID := c.Param("id")
	var req CancelOrderRequest
	if err := c.BindAndValidate(&req); err != nil || req.UserID == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid request"})
		return
	}
	order, err := orderSvc.CancelOrder(ctx, req.UserID, orderID)
	if err != nil {
		if errors.Is(err, service.ErrOrderGone) || errors.Is(err, service.ErrOrderNotOwned) {
			c.JSON(consts.StatusNotFound, map[string]interface{}{"error": "order not found or user mismatch"})
			return
		}
		if service.IsValidationError(err) {
			c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": err.Error()})
			return
		}
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"order_id": order.OrderID, "status": order.Status})
}
