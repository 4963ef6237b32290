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
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradingWindow 每日交易时段，闭开区间 [open, close)
type TradingWindow struct {
	openMinutes  int
	closeMinutes int
}

func NewTradingWindow(open, close string) (TradingWindow, error) {
	openM, err := parseClock(open)
	if err != nil {
		return TradingWindow{}, fmt.Errorf("invalid open_time %q: %w", open, err)
	}
	closeM, err := parseClock(close)
	if err != nil {
		return TradingWindow{}, fmt.Errorf("invalid close_time %q: %w", close, err)
	}
	return TradingWindow{openMinutes: openM, closeMinutes: closeM}, nil
}

func (w TradingWindow) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	return m >= w.openMinutes && m < w.closeMinutes
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, errors.New("clock out of range")
	}
	return h*60 + m, nil
}

// OrderService 下单/撤单编排：校验在入队前完成，入队在事务提交后执行
type OrderService struct {
	ledger    pg.LedgerStore
	fundings  FundingInfo
	queue     OrderQueue
	worker    *MatchWorker
	projector *Projector
	events    EventPublisher
	notifier  Notifier
	window    TradingWindow

	now        func() time.Time
	newOrderID func() (string, error)
}

func NewOrderService(ledger pg.LedgerStore, fundings FundingInfo, queue OrderQueue,
	worker *MatchWorker, projector *Projector, events EventPublisher, notifier Notifier,
	window TradingWindow) *OrderService {
	return &OrderService{
		ledger:     ledger,
		fundings:   fundings,
		queue:      queue,
		worker:     worker,
		projector:  projector,
		events:     events,
		notifier:   notifier,
		window:     window,
		now:        time.Now,
		newOrderID: defaultOrderID,
	}
}

func defaultOrderID() (string, error) {
	id, err := util.GenerateID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("O-%d", id), nil
}

// PlaceOrder 校验并落库新订单，提交后推进撮合队列并异步触发 drain
func (s *OrderService) PlaceOrder(ctx context.Context, userID, fundingID, side string, price decimal.Decimal, quantity int64) (*model.Order, error) {
	if err := s.validate(ctx, userID, fundingID, side, price, quantity); err != nil {
		return nil, err
	}

	orderID, err := s.newOrderID()
	if err != nil {
		return nil, err
	}
	now := s.now().UnixMilli()
	order := &model.Order{
		OrderID:           orderID,
		UserID:            userID,
		FundingID:         fundingID,
		Side:              side,
		Price:             price.Round(AvgCostScale),
		Quantity:          quantity,
		RemainingQuantity: quantity,
		Status:            model.OrderStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.ledger.WithTx(ctx, func(tx pg.LedgerTx) error {
		return tx.InsertOrder(order)
	})
	if err != nil {
		return nil, err
	}

	// 事务提交后才入队，保证 worker 读得到订单；入队失败靠日志排查，
	// 订单本身已持久化
	if err := s.queue.Push(ctx, fundingID, orderID); err != nil {
		hlog.Errorf("订单入队失败, order_id=%s, funding_id=%s, err=%v", orderID, fundingID, err)
	} else if s.worker != nil {
		go s.worker.Drain(context.Background(), fundingID)
	}
	if s.events != nil {
		s.events.PublishOrderEvent(OrderEventAccepted, order)
	}
	if s.projector != nil {
		go s.projector.Refresh(context.Background(), fundingID)
	}
	hlog.Infof("订单已受理, order_id=%s, user_id=%s, funding_id=%s, side=%s, price=%s, quantity=%d",
		orderID, userID, fundingID, side, order.Price, quantity)
	return order, nil
}

func (s *OrderService) validate(ctx context.Context, userID, fundingID, side string, price decimal.Decimal, quantity int64) error {
	if side != model.SideBuy && side != model.SideSell {
		return ErrInvalidSide
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidPrice
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !s.window.Contains(s.now()) {
		return ErrMarketClosed
	}

	f, err := s.fundings.GetFunding(ctx, fundingID)
	if err != nil {
		return err
	}
	if f == nil {
		return ErrFundingNotFound
	}
	if f.Status != model.FundingStatusTradable {
		return ErrFundingNotOpen
	}

	switch side {
	case model.SideSell:
		// 持仓扣掉在途卖单剩余后必须够卖
		pos, err := s.ledger.GetPosition(ctx, userID, fundingID)
		if err != nil {
			return err
		}
		held := int64(0)
		if pos != nil {
			held = pos.Quantity
		}
		pending, err := s.ledger.SumUserOpenRemaining(ctx, userID, fundingID, model.SideSell)
		if err != nil {
			return err
		}
		if quantity > held-pending {
			return ErrExceedsHoldings
		}
	case model.SideBuy:
		if quantity > f.TotalShares {
			return ErrExceedsSupply
		}
		bal, err := s.ledger.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		cost := price.Mul(decimal.NewFromInt(quantity))
		if bal == nil || bal.Amount.LessThan(cost) {
			return ErrBalanceTooLow
		}
	}
	return nil
}

// CancelOrder 撤单：与成交共用同一把订单行锁，先提交者生效
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	var cancelled *model.Order
	err := s.ledger.WithTx(ctx, func(tx pg.LedgerTx) error {
		order, err := tx.GetOrderForUpdate(orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderGone
		}
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return ErrOrderNotOwned
		}
		if order.Terminal() {
			return ErrOrderTerminal
		}
		order.Status = model.OrderStatusCancelled
		order.UpdatedAt = s.now().UnixMilli()
		if err := tx.SaveOrder(order); err != nil {
			return err
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		s.events.PublishOrderEvent(OrderEventCancelled, cancelled)
	}
	if s.notifier != nil {
		s.notifier.Notify(userID, NotifyOrderCancelled, map[string]interface{}{
			"order_id":   cancelled.OrderID,
			"funding_id": cancelled.FundingID,
		})
	}
	if s.projector != nil {
		go s.projector.Refresh(context.Background(), cancelled.FundingID)
	}
	hlog.Infof("订单已撤销, order_id=%s, user_id=%s", orderID, userID)
	return cancelled, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID, side string) ([]model.Order, error) {
	return s.ledger.ListUserOrders(ctx, userID, side)
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := s.ledger.GetOrder(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderGone
	}
	return order, err
}
