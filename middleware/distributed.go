package middleware

import (
	"context"
	"io"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"rex-hertz/biz/util"
)

// OrderForwarder 下单转发能力，ConsulHelper 实现
type OrderForwarder interface {
	ForwardOrder(fundingID string, body []byte) (*http.Response, error)
}

// DistributedRouteMiddleware 分布式撮合自动路由中间件：
// 下单请求的 funding 不归本节点负责时，经 Consul 发现持有节点并转发
func DistributedRouteMiddleware(forwarder OrderForwarder) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		// 只拦截 /orders 下单接口
		if string(c.Path()) == "/orders" && string(c.Request.Method()) == consts.MethodPost {
			var req map[string]interface{}
			if err := c.BindAndValidate(&req); err != nil {
				c.String(400, "invalid request")
				c.Abort()
				return
			}
			fundingID, _ := req["funding_id"].(string)
			if fundingID == "" {
				c.String(400, "funding_id required")
				c.Abort()
				return
			}
			if !util.IsLocalFunding(fundingID) {
				forwardOrder(c, forwarder, fundingID)
				c.Abort()
				return
			}
		}
		c.Next(ctx)
	}
}

// forwardOrder 把下单请求转给持有节点，持有节点的状态码和响应体
// 原样透传给客户端，下单方能拿到 order_id
func forwardOrder(c *app.RequestContext, forwarder OrderForwarder, fundingID string) {
	resp, err := forwarder.ForwardOrder(fundingID, c.Request.Body())
	if err != nil {
		hlog.Errorf("order forward failed: %v", err)
		c.String(502, "order forward failed: %v", err)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		hlog.Errorf("order forward read failed: %v", err)
		c.String(502, "order forward failed: %v", err)
		return
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Data(resp.StatusCode, contentType, body)
}
