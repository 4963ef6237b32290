package pg

import (
	"context"
	"errors"

	"rex-hertz/biz/model"

	"gorm.io/gorm"
)

// FundingStore 募资轮次只读查询，生命周期由外部服务维护
type FundingStore struct {
	db *gorm.DB
}

func NewFundingStore(db *gorm.DB) *FundingStore {
	return &FundingStore{db: db}
}

func (s *FundingStore) GetFunding(ctx context.Context, fundingID string) (*model.Funding, error) {
	var f model.Funding
	err := s.db.WithContext(ctx).Where("funding_id = ?", fundingID).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListUnallocatedPurchases 批量分配的输入：尚未转为持仓的认购记录
func (s *FundingStore) ListUnallocatedPurchases(ctx context.Context, fundingID string) ([]model.FundingPurchase, error) {
	var purchases []model.FundingPurchase
	err := s.db.WithContext(ctx).
		Where("funding_id = ? AND allocated = ?", fundingID, false).
		Order("id asc").
		Find(&purchases).Error
	return purchases, err
}
