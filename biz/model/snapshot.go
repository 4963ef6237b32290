package model

import (
	"github.com/shopspring/decimal"
)

// PriceLevel 订单簿单个价位的聚合
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// OrderBookSnapshot 派生视图，带短 TTL 缓存，不作为订单状态的权威来源
type OrderBookSnapshot struct {
	FundingID    string          `json:"funding_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	UpperLimit   decimal.Decimal `json:"upper_limit"`
	LowerLimit   decimal.Decimal `json:"lower_limit"`
	Bids         []PriceLevel    `json:"bids"` // 价格降序
	Asks         []PriceLevel    `json:"asks"` // 价格升序
	Version      int64           `json:"version"` // 生成时间戳(ms)
}

// 订单簿增量事件类型
const (
	BookEventFull        = "FULL"
	BookEventAdd         = "ADD"
	BookEventUpdate      = "UPDATE"
	BookEventRemove      = "REMOVE"
	BookEventPriceUpdate = "PRICE_UPDATE"
)

const (
	BookSideBid = "BID"
	BookSideAsk = "ASK"
)

// OrderBookEvent 推送给订阅端的增量事件
type OrderBookEvent struct {
	Type     string             `json:"type"`
	Side     string             `json:"side,omitempty"`
	Price    decimal.Decimal    `json:"price,omitempty"`
	Quantity int64              `json:"quantity,omitempty"`
	Snapshot *OrderBookSnapshot `json:"snapshot,omitempty"` // 仅 FULL 事件携带
}
