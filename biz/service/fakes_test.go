package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"rex-hertz/biz/dal/pg"
	"rex-hertz/biz/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// memLedger 内存账本，事务语义用整库快照模拟：fn 报错时整体回滚
type memLedger struct {
	mu        sync.Mutex
	orders    map[string]*model.Order
	trades    []model.Trade
	balances  map[string]*model.PointBalance
	positions map[string]*model.SharePosition // user|funding
}

func newMemLedger() *memLedger {
	return &memLedger{
		orders:    make(map[string]*model.Order),
		balances:  make(map[string]*model.PointBalance),
		positions: make(map[string]*model.SharePosition),
	}
}

func posKey(userID, fundingID string) string {
	return userID + "|" + fundingID
}

func (l *memLedger) putOrder(o model.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[o.OrderID] = &o
}

func (l *memLedger) putBalance(userID string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = &model.PointBalance{UserID: userID, Amount: amount}
}

func (l *memLedger) putPosition(userID, fundingID string, qty int64, avgCost decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[posKey(userID, fundingID)] = &model.SharePosition{
		UserID: userID, FundingID: fundingID, Quantity: qty, AvgCost: avgCost,
	}
}

func (l *memLedger) snapshot() (map[string]*model.Order, []model.Trade, map[string]*model.PointBalance, map[string]*model.SharePosition) {
	orders := make(map[string]*model.Order, len(l.orders))
	for k, v := range l.orders {
		o := *v
		orders[k] = &o
	}
	trades := append([]model.Trade(nil), l.trades...)
	balances := make(map[string]*model.PointBalance, len(l.balances))
	for k, v := range l.balances {
		b := *v
		balances[k] = &b
	}
	positions := make(map[string]*model.SharePosition, len(l.positions))
	for k, v := range l.positions {
		p := *v
		positions[k] = &p
	}
	return orders, trades, balances, positions
}

func (l *memLedger) WithTx(ctx context.Context, fn func(tx pg.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	orders, trades, balances, positions := l.snapshot()
	if err := fn(&memTx{l: l}); err != nil {
		l.orders = orders
		l.trades = trades
		l.balances = balances
		l.positions = positions
		return err
	}
	return nil
}

func (l *memLedger) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *o
	return &cp, nil
}

func (l *memLedger) ListUserOrders(ctx context.Context, userID, side string) ([]model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var res []model.Order
	for _, o := range l.orders {
		if o.UserID != userID {
			continue
		}
		if side != "" && o.Side != side {
			continue
		}
		res = append(res, *o)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt > res[j].CreatedAt })
	return res, nil
}

func (l *memLedger) ListOpenOrders(ctx context.Context, fundingID string) ([]model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var res []model.Order
	for _, o := range l.orders {
		if o.FundingID == fundingID && o.Matchable() {
			res = append(res, *o)
		}
	}
	return res, nil
}

func (l *memLedger) SumUserOpenRemaining(ctx context.Context, userID, fundingID, side string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, o := range l.orders {
		if o.UserID == userID && o.FundingID == fundingID && o.Side == side && o.Matchable() {
			total += o.RemainingQuantity
		}
	}
	return total, nil
}

func (l *memLedger) LastTradePrice(ctx context.Context, fundingID string) (decimal.Decimal, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.trades) - 1; i >= 0; i-- {
		if l.trades[i].FundingID == fundingID {
			return l.trades[i].Price, true, nil
		}
	}
	return decimal.Zero, false, nil
}

func (l *memLedger) ListTrades(ctx context.Context, fundingID string, limit int) ([]model.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var res []model.Trade
	for i := len(l.trades) - 1; i >= 0 && len(res) < limit; i-- {
		if fundingID == "" || l.trades[i].FundingID == fundingID {
			res = append(res, l.trades[i])
		}
	}
	return res, nil
}

func (l *memLedger) GetPosition(ctx context.Context, userID, fundingID string) (*model.SharePosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[posKey(userID, fundingID)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (l *memLedger) ListUserPositions(ctx context.Context, userID string) ([]model.SharePosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var res []model.SharePosition
	for _, p := range l.positions {
		if p.UserID == userID {
			res = append(res, *p)
		}
	}
	return res, nil
}

func (l *memLedger) GetBalance(ctx context.Context, userID string) (*model.PointBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[userID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

type memTx struct {
	l *memLedger
}

func (t *memTx) InsertOrder(o *model.Order) error {
	cp := *o
	t.l.orders[o.OrderID] = &cp
	return nil
}

func (t *memTx) GetOrderForUpdate(orderID string) (*model.Order, error) {
	o, ok := t.l.orders[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *o
	return &cp, nil
}

func (t *memTx) ListCrossingMakers(taker *model.Order) ([]model.Order, error) {
	var makers []model.Order
	for _, o := range t.l.orders {
		if o.FundingID != taker.FundingID || !o.Matchable() {
			continue
		}
		if taker.Side == model.SideBuy {
			if o.Side == model.SideSell && o.Price.LessThanOrEqual(taker.Price) {
				makers = append(makers, *o)
			}
		} else {
			if o.Side == model.SideBuy && o.Price.GreaterThanOrEqual(taker.Price) {
				makers = append(makers, *o)
			}
		}
	}
	sort.Slice(makers, func(i, j int) bool {
		if !makers[i].Price.Equal(makers[j].Price) {
			if taker.Side == model.SideBuy {
				return makers[i].Price.LessThan(makers[j].Price)
			}
			return makers[i].Price.GreaterThan(makers[j].Price)
		}
		return makers[i].CreatedAt < makers[j].CreatedAt
	})
	return makers, nil
}

func (t *memTx) SaveOrder(o *model.Order) error {
	cp := *o
	t.l.orders[o.OrderID] = &cp
	return nil
}

func (t *memTx) InsertTrade(tr *model.Trade) error {
	t.l.trades = append(t.l.trades, *tr)
	return nil
}

func (t *memTx) GetBalanceForUpdate(userID string) (*model.PointBalance, error) {
	b, ok := t.l.balances[userID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (t *memTx) SaveBalance(b *model.PointBalance) error {
	cp := *b
	t.l.balances[b.UserID] = &cp
	return nil
}

func (t *memTx) GetPositionForUpdate(userID, fundingID string) (*model.SharePosition, error) {
	p, ok := t.l.positions[posKey(userID, fundingID)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) SavePosition(p *model.SharePosition) error {
	cp := *p
	t.l.positions[posKey(p.UserID, p.FundingID)] = &cp
	return nil
}

func (t *memTx) DeletePosition(p *model.SharePosition) error {
	delete(t.l.positions, posKey(p.UserID, p.FundingID))
	return nil
}

// memQueue 内存工作队列，错误注入用于 fail-stop 路径
type memQueue struct {
	mu          sync.Mutex
	main        map[string][]string
	inflight    map[string][]string
	claimErr    error
	ackErr      error
	recoverHook func() int
	pushed      []string
}

func newMemQueue() *memQueue {
	return &memQueue{
		main:     make(map[string][]string),
		inflight: make(map[string][]string),
	}
}

func (q *memQueue) Push(ctx context.Context, fundingID, orderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.main[fundingID] = append(q.main[fundingID], orderID)
	q.pushed = append(q.pushed, orderID)
	return nil
}

func (q *memQueue) Claim(ctx context.Context, fundingID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return "", q.claimErr
	}
	ids := q.main[fundingID]
	if len(ids) == 0 {
		return "", nil
	}
	orderID := ids[0]
	q.main[fundingID] = ids[1:]
	q.inflight[fundingID] = append(q.inflight[fundingID], orderID)
	return orderID, nil
}

func (q *memQueue) Ack(ctx context.Context, fundingID, orderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ackErr != nil {
		return q.ackErr
	}
	q.removeInflight(fundingID, orderID)
	return nil
}

func (q *memQueue) Requeue(ctx context.Context, fundingID, orderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeInflight(fundingID, orderID)
	q.main[fundingID] = append([]string{orderID}, q.main[fundingID]...)
	return nil
}

func (q *memQueue) RecoverStale(ctx context.Context, fundingID string, maxAge time.Duration) (int, error) {
	if q.recoverHook != nil {
		return q.recoverHook(), nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	moved := len(q.inflight[fundingID])
	q.main[fundingID] = append(q.inflight[fundingID], q.main[fundingID]...)
	q.inflight[fundingID] = nil
	return moved, nil
}

func (q *memQueue) removeInflight(fundingID, orderID string) {
	ids := q.inflight[fundingID]
	for i, id := range ids {
		if id == orderID {
			q.inflight[fundingID] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

func (q *memQueue) mainLen(fundingID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.main[fundingID])
}

// memFundings 募资轮次查询桩
type memFundings struct {
	fundings map[string]*model.Funding
}

func newMemFundings(fs ...model.Funding) *memFundings {
	m := &memFundings{fundings: make(map[string]*model.Funding)}
	for i := range fs {
		m.fundings[fs[i].FundingID] = &fs[i]
	}
	return m
}

func (m *memFundings) GetFunding(ctx context.Context, fundingID string) (*model.Funding, error) {
	f, ok := m.fundings[fundingID]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

// memCache 快照缓存桩
type memCache struct {
	mu      sync.Mutex
	snaps   map[string]*model.OrderBookSnapshot
	getErr  error
	setErr  error
	setCnt  int
	lastSet *model.OrderBookSnapshot
	ops     []string // "invalidate"/"set" 调用顺序
}

func newMemCache() *memCache {
	return &memCache{snaps: make(map[string]*model.OrderBookSnapshot)}
}

func (c *memCache) Get(ctx context.Context, fundingID string) (*model.OrderBookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.snaps[fundingID], nil
}

func (c *memCache) Set(ctx context.Context, snap *model.OrderBookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.snaps[snap.FundingID] = snap
	c.setCnt++
	c.lastSet = snap
	c.ops = append(c.ops, "set")
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, fundingID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, fundingID)
	c.ops = append(c.ops, "invalidate")
	return nil
}

// recordEffects 记录 AfterMatch 调用
type recordEffects struct {
	mu      sync.Mutex
	results []*MatchResult
}

func (r *recordEffects) AfterMatch(ctx context.Context, res *MatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

// recordEvents 记录事件发布
type recordEvents struct {
	mu     sync.Mutex
	orders []string
	trades []model.Trade
}

func (r *recordEvents) PublishOrderEvent(evtType string, order *model.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, evtType+":"+order.OrderID)
}

func (r *recordEvents) PublishTrade(trade model.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
}

// recordNotifier 记录通知
type recordNotifier struct {
	mu    sync.Mutex
	kinds []string
	users []string
}

func (r *recordNotifier) Notify(userID, kind string, payload map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	r.users = append(r.users, userID)
}

var errBoom = errors.New("boom")
