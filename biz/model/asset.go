package model

import (
	"github.com/shopspring/decimal"
)

// PointBalance 用户积分余额，结算和外部充值/扣减都走同一行锁
type PointBalance struct {
	ID     uint            `gorm:"primaryKey" json:"-"`
	UserID string          `gorm:"uniqueIndex;not null" json:"user_id"`
	Amount decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
}

func (PointBalance) TableName() string {
	return "point_balances"
}

// SharePosition 用户持仓，数量归零时删除整行
type SharePosition struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	UserID    string          `gorm:"index:idx_pos_user_funding,unique;not null" json:"user_id"`
	FundingID string          `gorm:"index:idx_pos_user_funding,unique;not null" json:"funding_id"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	AvgCost   decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"avg_cost"`
}

func (SharePosition) TableName() string {
	return "share_positions"
}
