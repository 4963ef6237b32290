package model

import (
	"github.com/shopspring/decimal"
)

// Funding 状态由外部募资生命周期服务维护，本系统只读
const (
	FundingStatusFunding   = "FUNDING"
	FundingStatusSucceeded = "SUCCEEDED"
	FundingStatusTradable  = "TRADABLE"
	FundingStatusClosed    = "CLOSED"
)

// Funding 募资轮次（可交易标的）
type Funding struct {
	FundingID      string          `gorm:"primaryKey;column:funding_id" json:"funding_id"`
	Status         string          `gorm:"column:status" json:"status"`
	TotalShares    int64           `gorm:"column:total_shares" json:"total_shares"`
	ReferencePrice decimal.Decimal `gorm:"column:reference_price;type:numeric(20,2)" json:"reference_price"`
	CreatedAt      int64           `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      int64           `gorm:"column:updated_at" json:"updated_at"`
}

func (Funding) TableName() string {
	return "fundings"
}

// FundingPurchase 募资期间的认购记录，批量分配的输入
type FundingPurchase struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	FundingID string          `gorm:"index;not null" json:"funding_id"`
	UserID    string          `gorm:"index;not null" json:"user_id"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"price"`
	Allocated bool            `gorm:"not null;default:false" json:"allocated"`
	CreatedAt int64           `gorm:"column:created_at" json:"created_at"`
}

func (FundingPurchase) TableName() string {
	return "funding_purchases"
}
