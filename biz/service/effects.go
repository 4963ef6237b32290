package service

import (
	"context"
)

// MatchEffects 撮合事务提交后的外围动作：成交事件进 Kafka、
// 订单簿刷新并推送 diff、双方通知。全部尽力而为。
type MatchEffects struct {
	events    EventPublisher
	projector *Projector
	notifier  Notifier
}

func NewMatchEffects(events EventPublisher, projector *Projector, notifier Notifier) *MatchEffects {
	return &MatchEffects{events: events, projector: projector, notifier: notifier}
}

func (ef *MatchEffects) AfterMatch(ctx context.Context, res *MatchResult) {
	if len(res.Trades) == 0 {
		return
	}
	for _, trade := range res.Trades {
		if ef.events != nil {
			ef.events.PublishTrade(trade)
		}
		if ef.notifier != nil {
			payload := map[string]interface{}{
				"trade_id":   trade.TradeID,
				"funding_id": trade.FundingID,
				"quantity":   trade.Quantity,
				"price":      trade.Price,
			}
			ef.notifier.Notify(trade.BuyerUserID, NotifyOrderFilled, payload)
			if trade.SellerUserID != trade.BuyerUserID {
				ef.notifier.Notify(trade.SellerUserID, NotifyOrderFilled, payload)
			}
		}
	}
	if ef.projector != nil {
		ef.projector.Refresh(ctx, res.FundingID)
	}
}
