package pg

import (
	"context"
	"errors"

	"rex-hertz/biz/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerStore 账本存储接口，服务层经构造函数注入，测试用内存实现替换
type LedgerStore interface {
	// WithTx 显式事务边界，fn 返回错误时整体回滚
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListUserOrders(ctx context.Context, userID, side string) ([]model.Order, error)
	ListOpenOrders(ctx context.Context, fundingID string) ([]model.Order, error)
	SumUserOpenRemaining(ctx context.Context, userID, fundingID, side string) (int64, error)
	LastTradePrice(ctx context.Context, fundingID string) (decimal.Decimal, bool, error)
	ListTrades(ctx context.Context, fundingID string, limit int) ([]model.Trade, error)
	GetPosition(ctx context.Context, userID, fundingID string) (*model.SharePosition, error)
	ListUserPositions(ctx context.Context, userID string) ([]model.SharePosition, error)
	GetBalance(ctx context.Context, userID string) (*model.PointBalance, error)
}

// LedgerTx 单个账本事务，所有加锁读写必须经由它。
// GetBalanceForUpdate / GetPositionForUpdate 行不存在时返回 (nil, nil)。
type LedgerTx interface {
	InsertOrder(o *model.Order) error
	GetOrderForUpdate(orderID string) (*model.Order, error)
	ListCrossingMakers(taker *model.Order) ([]model.Order, error)
	SaveOrder(o *model.Order) error
	InsertTrade(tr *model.Trade) error
	GetBalanceForUpdate(userID string) (*model.PointBalance, error)
	SaveBalance(b *model.PointBalance) error
	GetPositionForUpdate(userID, fundingID string) (*model.SharePosition, error)
	SavePosition(p *model.SharePosition) error
	DeletePosition(p *model.SharePosition) error
}

// Ledger LedgerStore 的 GORM 实现
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) WithTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ledgerTx{db: tx})
	})
}

func (l *Ledger) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := l.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (l *Ledger) ListUserOrders(ctx context.Context, userID, side string) ([]model.Order, error) {
	var orders []model.Order
	db := l.db.WithContext(ctx).Model(&model.Order{}).Where("user_id = ?", userID)
	if side != "" {
		db = db.Where("side = ?", side)
	}
	err := db.Order("created_at desc").Find(&orders).Error
	return orders, err
}

// ListOpenOrders 查询某 funding 全部未终结订单，订单簿重建用
func (l *Ledger) ListOpenOrders(ctx context.Context, fundingID string) ([]model.Order, error) {
	var orders []model.Order
	err := l.db.WithContext(ctx).
		Where("funding_id = ? AND status IN ?", fundingID,
			[]string{model.OrderStatusPending, model.OrderStatusPartiallyFilled}).
		Find(&orders).Error
	return orders, err
}

// SumUserOpenRemaining 用户在某 funding 某方向挂单剩余数量合计
func (l *Ledger) SumUserOpenRemaining(ctx context.Context, userID, fundingID, side string) (int64, error) {
	var total int64
	err := l.db.WithContext(ctx).Model(&model.Order{}).
		Where("user_id = ? AND funding_id = ? AND side = ? AND status IN ?", userID, fundingID, side,
			[]string{model.OrderStatusPending, model.OrderStatusPartiallyFilled}).
		Select("COALESCE(SUM(remaining_quantity), 0)").
		Scan(&total).Error
	return total, err
}

// LastTradePrice 最近一笔成交价，bool 表示该 funding 是否有过成交
func (l *Ledger) LastTradePrice(ctx context.Context, fundingID string) (decimal.Decimal, bool, error) {
	var trade model.Trade
	err := l.db.WithContext(ctx).Where("funding_id = ?", fundingID).
		Order("timestamp desc").First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return trade.Price, true, nil
}

func (l *Ledger) ListTrades(ctx context.Context, fundingID string, limit int) ([]model.Trade, error) {
	var trades []model.Trade
	db := l.db.WithContext(ctx).Model(&model.Trade{})
	if fundingID != "" {
		db = db.Where("funding_id = ?", fundingID)
	}
	err := db.Order("timestamp desc").Limit(limit).Find(&trades).Error
	return trades, err
}

func (l *Ledger) GetPosition(ctx context.Context, userID, fundingID string) (*model.SharePosition, error) {
	var pos model.SharePosition
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND funding_id = ?", userID, fundingID).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (l *Ledger) ListUserPositions(ctx context.Context, userID string) ([]model.SharePosition, error) {
	var positions []model.SharePosition
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Find(&positions).Error
	return positions, err
}

func (l *Ledger) GetBalance(ctx context.Context, userID string) (*model.PointBalance, error) {
	var bal model.PointBalance
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

type ledgerTx struct {
	db *gorm.DB
}

func (t *ledgerTx) InsertOrder(o *model.Order) error {
	return t.db.Create(o).Error
}

// GetOrderForUpdate 加行锁读订单，撤单和成交靠同一把锁串行
func (t *ledgerTx) GetOrderForUpdate(orderID string) (*model.Order, error) {
	var order model.Order
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListCrossingMakers 按价格优先、时间优先取对手方可成交挂单，全部加行锁。
// 同价位按 created_at 升序，插入顺序即时间优先。
func (t *ledgerTx) ListCrossingMakers(taker *model.Order) ([]model.Order, error) {
	var makers []model.Order
	db := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("funding_id = ? AND status IN ?", taker.FundingID,
			[]string{model.OrderStatusPending, model.OrderStatusPartiallyFilled})
	if taker.Side == model.SideBuy {
		// 买方吃卖盘：卖价不高于买价，低价优先
		db = db.Where("side = ? AND price <= ?", model.SideSell, taker.Price).
			Order("price asc, created_at asc")
	} else {
		// 卖方吃买盘：买价不低于卖价，高价优先
		db = db.Where("side = ? AND price >= ?", model.SideBuy, taker.Price).
			Order("price desc, created_at asc")
	}
	err := db.Find(&makers).Error
	return makers, err
}

func (t *ledgerTx) SaveOrder(o *model.Order) error {
	return t.db.Save(o).Error
}

func (t *ledgerTx) InsertTrade(tr *model.Trade) error {
	return t.db.Create(tr).Error
}

func (t *ledgerTx) GetBalanceForUpdate(userID string) (*model.PointBalance, error) {
	var bal model.PointBalance
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

func (t *ledgerTx) SaveBalance(b *model.PointBalance) error {
	return t.db.Save(b).Error
}

func (t *ledgerTx) GetPositionForUpdate(userID, fundingID string) (*model.SharePosition, error) {
	var pos model.SharePosition
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND funding_id = ?", userID, fundingID).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (t *ledgerTx) SavePosition(p *model.SharePosition) error {
	return t.db.Save(p).Error
}

// DeletePosition 持仓归零时删除整行
func (t *ledgerTx) DeletePosition(p *model.SharePosition) error {
	return t.db.Delete(p).Error
}
