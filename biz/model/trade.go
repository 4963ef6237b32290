package model

import (
	"github.com/shopspring/decimal"
)

// Trade 成交模型（GORM），只插入不修改
type Trade struct {
	TradeID      string          `gorm:"primaryKey;column:trade_id" json:"trade_id"`
	FundingID    string          `gorm:"index;column:funding_id" json:"funding_id"`
	BuyOrderID   string          `gorm:"column:buy_order_id" json:"buy_order_id"`
	SellOrderID  string          `gorm:"column:sell_order_id" json:"sell_order_id"`
	BuyerUserID  string          `gorm:"column:buyer_user_id" json:"buyer_user_id"`
	SellerUserID string          `gorm:"column:seller_user_id" json:"seller_user_id"`
	TakerOrderID string          `gorm:"column:taker_order_id" json:"taker_order_id"`
	Quantity     int64           `gorm:"column:quantity" json:"quantity"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(20,2)" json:"price"`
	Timestamp    int64           `gorm:"index;column:timestamp" json:"timestamp"`
	EngineID     string          `gorm:"column:engine_id" json:"engine_id"`
}

func (Trade) TableName() string {
	return "trades"
}
