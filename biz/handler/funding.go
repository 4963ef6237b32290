package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"rex-hertz/biz/service"
)

// GetFunding 查询募资轮次
func GetFunding(ctx context.Context, c *app.RequestContext) {
	fundingID := c.Param("id")
	f, err := fundingStore.GetFunding(ctx, fundingID)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	if f == nil {
		c.JSON(consts.StatusNotFound, map[string]interface{}{"error": "funding not found"})
		return
	}
	c.JSON(consts.StatusOK, f)
}

// AllocateFunding 触发一次初始份额分配（幂等，可重复触发补漏）
func AllocateFunding(ctx context.Context, c *app.RequestContext) {
	fundingID := c.Param("id")
	report, err := allocSvc.Allocate(ctx, fundingID)
	if err != nil {
		if errors.Is(err, service.ErrFundingNotFound) {
			c.JSON(consts.StatusNotFound, map[string]interface{}{"error": "funding not found"})
			return
		}
		if errors.Is(err, service.ErrFundingNotOpen) {
			c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "funding not in allocatable status"})
			return
		}
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, report)
}
