package service

import (
	"context"

	"rex-hertz/biz/dal/pg"
	"rex-hertz/biz/model"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/shopspring/decimal"
)

// AssetService 余额与持仓查询，以及外部流入流出（充值/扣减）的
// 余额调整入口。调整与结算走同一把余额行锁。
type AssetService struct {
	ledger pg.LedgerStore
}

func NewAssetService(ledger pg.LedgerStore) *AssetService {
	return &AssetService{ledger: ledger}
}

func (s *AssetService) GetUserBalance(ctx context.Context, userID string) (*model.PointBalance, error) {
	bal, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return &model.PointBalance{UserID: userID, Amount: decimal.Zero}, nil
	}
	return bal, nil
}

func (s *AssetService) GetUserPositions(ctx context.Context, userID string) ([]model.SharePosition, error) {
	return s.ledger.ListUserPositions(ctx, userID)
}

// AdjustBalance 外部流水调整余额，delta 可正可负；结果为负时整体回滚
func (s *AssetService) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (*model.PointBalance, error) {
	var result *model.PointBalance
	err := s.ledger.WithTx(ctx, func(tx pg.LedgerTx) error {
		bal, err := tx.GetBalanceForUpdate(userID)
		if err != nil {
			return err
		}
		if bal == nil {
			bal = &model.PointBalance{UserID: userID, Amount: decimal.Zero}
		}
		next := bal.Amount.Add(delta)
		if next.IsNegative() {
			return ErrInsufficientFunds
		}
		bal.Amount = next
		if err := tx.SaveBalance(bal); err != nil {
			return err
		}
		result = bal
		return nil
	})
	if err != nil {
		return nil, err
	}
	hlog.Infof("余额已调整, user_id=%s, delta=%s, amount=%s", userID, delta, result.Amount)
	return result, nil
}
