package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rex-hertz/biz/dal/pg"
	"rex-hertz/biz/model"
	"rex-hertz/util"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"gorm.io/gorm"
)

// ErrOrderGone 队列里的订单号在账本里已找不到
var ErrOrderGone = errors.New("queued order not found in ledger")

// MatchResult 单次撮合尝试的结果，worker 据此决定是否继续 drain
type MatchResult struct {
	TakerOrderID string
	FundingID    string
	Remaining    int64
	Trades       []model.Trade
	Skipped      bool // 订单已终态，对重投递幂等
}

// MatchEngine 撮合引擎：吃单按价格优先、同价按时间优先逐档成交，
// 成交价始终取挂单方价格。一次撮合尝试整体一个事务，任何失败全量回滚。
type MatchEngine struct {
	ledger     pg.LedgerStore
	settlement *SettlementEngine
	engineID   string

	now        func() time.Time
	newTradeID func() (string, error)
}

func NewMatchEngine(ledger pg.LedgerStore, settlement *SettlementEngine, engineID string) *MatchEngine {
	return &MatchEngine{
		ledger:     ledger,
		settlement: settlement,
		engineID:   engineID,
		now:        time.Now,
		newTradeID: defaultTradeID,
	}
}

func defaultTradeID() (string, error) {
	id, err := util.GenerateID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("T-%d", id), nil
}

// MatchOrder 对新到订单执行一轮撮合。事务覆盖吃单加锁、逐档成交、
// 结算和状态推进；提交失败时订单留在队列里等待重投递。
func (e *MatchEngine) MatchOrder(ctx context.Context, orderID string) (*MatchResult, error) {
	res := &MatchResult{TakerOrderID: orderID}
	err := e.ledger.WithTx(ctx, func(tx pg.LedgerTx) error {
		taker, err := tx.GetOrderForUpdate(orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderGone
		}
		if err != nil {
			return err
		}
		res.FundingID = taker.FundingID
		res.Remaining = taker.RemainingQuantity

		// 已撤销/已成的重投递直接放过，保证至少一次投递下的幂等
		if !taker.Matchable() {
			hlog.Infof("订单不可撮合，忽略重投递, order_id=%s, status=%s", taker.OrderID, taker.Status)
			res.Skipped = true
			return nil
		}

		makers, err := tx.ListCrossingMakers(taker)
		if err != nil {
			return err
		}

		now := e.now().UnixMilli()
		for i := range makers {
			if taker.RemainingQuantity <= 0 {
				break
			}
			maker := &makers[i]
			fillQty := minInt64(taker.RemainingQuantity, maker.RemainingQuantity)
			if fillQty <= 0 {
				// 防御：成交不再推进剩余数量时立即退出，避免空转
				hlog.Warnf("撮合零进展，提前终止, taker=%s, maker=%s", taker.OrderID, maker.OrderID)
				break
			}

			// 成交价取挂单方价格，价格改善归挂单方
			price := maker.Price

			buyOrder, sellOrder := taker, maker
			if taker.Side == model.SideSell {
				buyOrder, sellOrder = maker, taker
			}

			if err := e.settlement.Settle(tx, buyOrder.UserID, sellOrder.UserID,
				taker.FundingID, fillQty, price); err != nil {
				return err
			}

			tradeID, err := e.newTradeID()
			if err != nil {
				return err
			}
			trade := model.Trade{
				TradeID:      tradeID,
				FundingID:    taker.FundingID,
				BuyOrderID:   buyOrder.OrderID,
				SellOrderID:  sellOrder.OrderID,
				BuyerUserID:  buyOrder.UserID,
				SellerUserID: sellOrder.UserID,
				TakerOrderID: taker.OrderID,
				Quantity:     fillQty,
				Price:        price,
				Timestamp:    now,
				EngineID:     e.engineID,
			}
			if err := tx.InsertTrade(&trade); err != nil {
				return err
			}

			taker.ApplyFill(fillQty, now)
			maker.ApplyFill(fillQty, now)
			if err := tx.SaveOrder(maker); err != nil {
				return err
			}
			res.Trades = append(res.Trades, trade)
		}

		if len(res.Trades) > 0 {
			if err := tx.SaveOrder(taker); err != nil {
				return err
			}
			hlog.Infof("撮合完成, order_id=%s, funding_id=%s, trade_count=%d, remaining=%d",
				taker.OrderID, taker.FundingID, len(res.Trades), taker.RemainingQuantity)
		}
		res.Remaining = taker.RemainingQuantity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
