package service

import (
	"rex-hertz/biz/dal/pg"
	"rex-hertz/biz/model"

	"github.com/shopspring/decimal"
)

// AvgCostScale 持仓均价保留小数位，四舍五入
const AvgCostScale = 2

// SettlementEngine 把单笔成交的资金与持仓变动落进账本。
// 必须在调用方的事务内执行，任何错误都会让整笔撮合回滚。
type SettlementEngine struct{}

func NewSettlementEngine() *SettlementEngine {
	return &SettlementEngine{}
}

// Settle 结算一笔成交：买方扣积分、卖方加积分，买方持仓重算均价，
// 卖方持仓扣数量、归零删行。行锁统一按 userID 升序获取，避免
// 两笔互为对手方的结算互相死锁。
func (s *SettlementEngine) Settle(tx pg.LedgerTx, buyerID, sellerID, fundingID string, qty int64, price decimal.Decimal) error {
	total := price.Mul(decimal.NewFromInt(qty))

	balances, err := lockBalances(tx, buyerID, sellerID)
	if err != nil {
		return err
	}
	buyerBal := balances[buyerID]
	if buyerBal == nil || buyerBal.Amount.LessThan(total) {
		// 正常校验过的订单不该走到这里，防御性兜底
		return ErrInsufficientFunds
	}

	positions, err := lockPositions(tx, buyerID, sellerID, fundingID)
	if err != nil {
		return err
	}

	buyerBal.Amount = buyerBal.Amount.Sub(total)
	if err := tx.SaveBalance(buyerBal); err != nil {
		return err
	}
	sellerBal := balances[sellerID]
	if sellerBal == nil {
		sellerBal = &model.PointBalance{UserID: sellerID, Amount: decimal.Zero}
		balances[sellerID] = sellerBal
	}
	sellerBal.Amount = sellerBal.Amount.Add(total)
	if err := tx.SaveBalance(sellerBal); err != nil {
		return err
	}

	// 买方持仓：首仓按成交价建仓，否则重算加权均价
	buyerPos := positions[buyerID]
	if buyerPos == nil {
		buyerPos = &model.SharePosition{
			UserID:    buyerID,
			FundingID: fundingID,
			Quantity:  qty,
			AvgCost:   price.Round(AvgCostScale),
		}
		positions[buyerID] = buyerPos
	} else {
		buyerPos.AvgCost = WeightedAvgCost(buyerPos.Quantity, buyerPos.AvgCost, qty, price)
		buyerPos.Quantity += qty
	}
	if err := tx.SavePosition(buyerPos); err != nil {
		return err
	}

	// 卖方持仓：只减数量，均价不变，归零删行
	sellerPos := positions[sellerID]
	if sellerPos == nil || sellerPos.Quantity < qty {
		return ErrInsufficientShares
	}
	sellerPos.Quantity -= qty
	if sellerPos.Quantity == 0 {
		return tx.DeletePosition(sellerPos)
	}
	return tx.SavePosition(sellerPos)
}

// WeightedAvgCost 加权均价：(旧数量×旧均价 + 新数量×价格) / (旧数量+新数量)，
// 半进位舍入到固定小数位
func WeightedAvgCost(oldQty int64, oldAvg decimal.Decimal, qty int64, price decimal.Decimal) decimal.Decimal {
	oldCost := oldAvg.Mul(decimal.NewFromInt(oldQty))
	newCost := price.Mul(decimal.NewFromInt(qty))
	return oldCost.Add(newCost).DivRound(decimal.NewFromInt(oldQty+qty), AvgCostScale)
}

// lockBalances 按 userID 升序对双方余额行加锁，buyer==seller 时只锁一次
func lockBalances(tx pg.LedgerTx, buyerID, sellerID string) (map[string]*model.PointBalance, error) {
	balances := make(map[string]*model.PointBalance, 2)
	for _, uid := range lockOrder(buyerID, sellerID) {
		b, err := tx.GetBalanceForUpdate(uid)
		if err != nil {
			return nil, err
		}
		balances[uid] = b
	}
	return balances, nil
}

func lockPositions(tx pg.LedgerTx, buyerID, sellerID, fundingID string) (map[string]*model.SharePosition, error) {
	positions := make(map[string]*model.SharePosition, 2)
	for _, uid := range lockOrder(buyerID, sellerID) {
		p, err := tx.GetPositionForUpdate(uid, fundingID)
		if err != nil {
			return nil, err
		}
		positions[uid] = p
	}
	return positions, nil
}

func lockOrder(a, b string) []string {
	if a == b {
		return []string{a}
	}
	if a < b {
		return []string{a, b}
	}
	return []string{b, a}
}
