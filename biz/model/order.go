package model

import (
	"github.com/shopspring/decimal"
)

// 订单方向
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// 订单状态，FULLY_FILLED 与 CANCELLED 为终态
const (
	OrderStatusPending         = "PENDING"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFullyFilled     = "FULLY_FILLED"
	OrderStatusCancelled       = "CANCELLED"
)

// Order 订单模型（GORM）
type Order struct {
	OrderID           string          `gorm:"primaryKey;column:order_id" json:"order_id"`
	UserID            string          `gorm:"index;column:user_id" json:"user_id"`
	FundingID         string          `gorm:"index;column:funding_id" json:"funding_id"`
	Side              string          `gorm:"column:side" json:"side"`
	Price             decimal.Decimal `gorm:"column:price;type:numeric(20,2)" json:"price"`
	Quantity          int64           `gorm:"column:quantity" json:"quantity"`
	RemainingQuantity int64           `gorm:"column:remaining_quantity" json:"remaining_quantity"`
	Status            string          `gorm:"index;column:status" json:"status"`
	CreatedAt         int64           `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         int64           `gorm:"column:updated_at" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Matchable 是否还能参与撮合
func (o *Order) Matchable() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPartiallyFilled
}

// Terminal 是否已到终态
func (o *Order) Terminal() bool {
	return o.Status == OrderStatusFullyFilled || o.Status == OrderStatusCancelled
}

// ApplyFill 扣减剩余数量并推进状态
func (o *Order) ApplyFill(qty int64, now int64) {
	o.RemainingQuantity -= qty
	if o.RemainingQuantity <= 0 {
		o.RemainingQuantity = 0
		o.Status = OrderStatusFullyFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	o.UpdatedAt = now
}
