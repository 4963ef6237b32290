package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"

	"rex-hertz/biz/service"
)

// 查询用户积分余额
func GetBalance(ctx context.Context, c *app.RequestContext) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "missing user_id"})
		return
	}
	balance, err := assetSvc.GetUserBalance(ctx, userID)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, balance)
}

// 查询用户份额持仓
func GetPositions(ctx context.Context, c *app.RequestContext) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "missing user_id"})
		return
	}
	positions, err := assetSvc.GetUserPositions(ctx, userID)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, positions)
}

// AdjustBalance 积分充值/扣减（运营接口）
func AdjustBalance(ctx context.Context, c *app.RequestContext) {
	type AdjustBalanceRequest struct {
		UserID string `json:"user_id"`
		Delta  string `json:"delta"`
	}
	var req AdjustBalanceRequest
	if err := c.BindAndValidate(&req); err != nil || req.UserID == "" || req.Delta == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid request"})
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid delta"})
		return
	}
	balance, err := assetSvc.AdjustBalance(ctx, req.UserID, delta)
	if err != nil {
		if errors.Is(err, service.ErrInsufficientFunds) {
			c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": err.Error()})
			return
		}
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, balance)
}
