package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"rex-hertz/biz/service"
)

func parseLimit(limitStr string, defaultLimit int) int {
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			return l
		}
	}
	return defaultLimit
}

// GetOrderBook 获取订单簿快照（优先走缓存）
func GetOrderBook(ctx context.Context, c *app.RequestContext) {
	fundingID := c.Param("funding_id")
	if fundingID == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "missing funding_id"})
		return
	}
	snap, err := projector.GetSnapshot(ctx, fundingID)
	if err != nil {
		if errors.Is(err, service.ErrFundingNotFound) {
			c.JSON(consts.StatusNotFound, map[string]interface{}{"error": "funding not found"})
			return
		}
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, snap)
}

// GetTrades 获取最新成交
func GetTrades(ctx context.Context, c *app.RequestContext) {
	fundingID := string(c.Query("funding_id"))
	if fundingID == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "missing funding_id"})
		return
	}
	limit := parseLimit(string(c.Query("limit")), 50)
	trades, err := ledger.ListTrades(ctx, fundingID, limit)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"funding_id": fundingID,
		"trades":     trades,
	})
}
