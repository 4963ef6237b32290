package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"rex-hertz/biz/dal/pg"
	"rex-hertz/biz/engine"
	"rex-hertz/biz/model"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// SnapshotCache 快照缓存，整值读写。Get 未命中返回 (nil, nil)。
type SnapshotCache interface {
	Get(ctx context.Context, fundingID string) (*model.OrderBookSnapshot, error)
	Set(ctx context.Context, snap *model.OrderBookSnapshot) error
	Invalidate(ctx context.Context, fundingID string) error
}

// FundingInfo 募资轮次查询，外部生命周期服务的窄接口
type FundingInfo interface {
	GetFunding(ctx context.Context, fundingID string) (*model.Funding, error)
}

// OrderBookChannel 订阅频道名
func OrderBookChannel(fundingID string) string {
	return "topic/order-book/" + fundingID
}

// Projector 订单簿投影：从挂单重建聚合视图，短 TTL 缓存，
// 对订阅端推送增量 diff。快照永远是派生数据，不回写订单状态。
type Projector struct {
	ledger      pg.LedgerStore
	cache       SnapshotCache
	fundings    FundingInfo
	broadcaster engine.Broadcaster
	bandPercent decimal.Decimal
	nodeID      string
	now         func() time.Time

	mu   sync.Mutex
	last map[string]*model.OrderBookSnapshot // funding -> 上次推送的快照
}

func NewProjector(ledger pg.LedgerStore, cache SnapshotCache, fundings FundingInfo,
	broadcaster engine.Broadcaster, bandPercent int, nodeID string) *Projector {
	return &Projector{
		ledger:      ledger,
		cache:       cache,
		fundings:    fundings,
		broadcaster: broadcaster,
		bandPercent: decimal.NewFromInt(int64(bandPercent)),
		nodeID:      nodeID,
		now:         time.Now,
		last:        make(map[string]*model.OrderBookSnapshot),
	}
}

// GetSnapshot 缓存命中直接返回，否则重建并回填缓存。
// 缓存不可用只降级为直接重建，绝不阻塞读取。
func (p *Projector) GetSnapshot(ctx context.Context, fundingID string) (*model.OrderBookSnapshot, error) {
	if p.cache != nil {
		snap, err := p.cache.Get(ctx, fundingID)
		if err != nil {
			hlog.Warnf("快照缓存读取失败，降级为直接重建, funding_id=%s, err=%v", fundingID, err)
		} else if snap != nil {
			return snap, nil
		}
	}
	snap, err := p.Rebuild(ctx, fundingID)
	if err != nil {
		return nil, err
	}
	p.storeCache(ctx, snap)
	return snap, nil
}

// Rebuild 从账本挂单重建快照：跳表按价位聚合剩余数量，
// 现价取最近成交价，无成交时用参考价，涨跌带宽按现价百分比
func (p *Projector) Rebuild(ctx context.Context, fundingID string) (*model.OrderBookSnapshot, error) {
	orders, err := p.ledger.ListOpenOrders(ctx, fundingID)
	if err != nil {
		return nil, err
	}

	bids := skiplist.New(priceDescComparator{})
	asks := skiplist.New(priceAscComparator{})
	for _, o := range orders {
		if o.RemainingQuantity <= 0 {
			continue
		}
		book := asks
		if o.Side == model.SideBuy {
			book = bids
		}
		// 统一小数位，避免 "100" 与 "100.00" 被当成两个价位
		key := o.Price.Round(AvgCostScale).String()
		if elem := book.Get(key); elem != nil {
			elem.Value = elem.Value.(int64) + o.RemainingQuantity
		} else {
			book.Set(key, o.RemainingQuantity)
		}
	}

	price, err := p.currentPrice(ctx, fundingID)
	if err != nil {
		return nil, err
	}
	band := price.Mul(p.bandPercent).Div(decimal.NewFromInt(100))

	snap := &model.OrderBookSnapshot{
		FundingID:    fundingID,
		CurrentPrice: price,
		UpperLimit:   price.Add(band).Round(AvgCostScale),
		LowerLimit:   price.Sub(band).Round(AvgCostScale),
		Bids:         levelsOf(bids),
		Asks:         levelsOf(asks),
		Version:      p.now().UnixMilli(),
	}
	return snap, nil
}

// Refresh 重建快照、覆盖缓存、对上次推送的版本做 diff 并广播。
// 撮合、下单、撤单提交后都从这里驱动订阅端更新。
func (p *Projector) Refresh(ctx context.Context, fundingID string) {
	// 旧快照先失效，重建期间的并发读回源重算，不会拿到成交前的价格
	if p.cache != nil {
		if err := p.cache.Invalidate(ctx, fundingID); err != nil {
			hlog.Warnf("快照缓存失效失败, funding_id=%s, err=%v", fundingID, err)
		}
	}
	snap, err := p.Rebuild(ctx, fundingID)
	if err != nil {
		hlog.Errorf("订单簿重建失败, funding_id=%s, err=%v", fundingID, err)
		return
	}
	p.storeCache(ctx, snap)

	p.mu.Lock()
	prev := p.last[fundingID]
	p.last[fundingID] = snap
	p.mu.Unlock()

	events := Diff(prev, snap)
	if len(events) == 0 {
		return
	}
	p.broadcast(fundingID, snap.Version, events)
}

// FullMessage 订阅建立时下发的全量基线报文，格式与增量推送一致
func (p *Projector) FullMessage(ctx context.Context, fundingID string) ([]byte, error) {
	snap, err := p.GetSnapshot(ctx, fundingID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{
		"channel":     OrderBookChannel(fundingID),
		"msgType":     "orderbook_diff",
		"data":        []model.OrderBookEvent{{Type: model.BookEventFull, Snapshot: snap}},
		"version":     snap.Version,
		"server_time": p.now().UnixMilli(),
		"node_id":     p.nodeID,
	})
}

func (p *Projector) currentPrice(ctx context.Context, fundingID string) (decimal.Decimal, error) {
	price, ok, err := p.ledger.LastTradePrice(ctx, fundingID)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return price, nil
	}
	f, err := p.fundings.GetFunding(ctx, fundingID)
	if err != nil {
		return decimal.Zero, err
	}
	if f == nil {
		return decimal.Zero, ErrFundingNotFound
	}
	return f.ReferencePrice, nil
}

func (p *Projector) storeCache(ctx context.Context, snap *model.OrderBookSnapshot) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, snap); err != nil {
		hlog.Warnf("快照缓存写入失败, funding_id=%s, err=%v", snap.FundingID, err)
	}
}

func (p *Projector) broadcast(fundingID string, version int64, events []model.OrderBookEvent) {
	if p.broadcaster == nil {
		return
	}
	msg, err := json.Marshal(map[string]interface{}{
		"channel":     OrderBookChannel(fundingID),
		"msgType":     "orderbook_diff",
		"data":        events,
		"version":     version,
		"server_time": p.now().UnixMilli(),
		"node_id":     p.nodeID,
	})
	if err != nil {
		hlog.Errorf("diff 消息序列化失败, funding_id=%s, err=%v", fundingID, err)
		return
	}
	p.broadcaster(OrderBookChannel(fundingID), msg)
}

// Diff 比较两份快照，逐价位产出 ADD/UPDATE/REMOVE，现价变化追加
// PRICE_UPDATE。无上一份快照时只产出一条 FULL 全量替换。
func Diff(old, new *model.OrderBookSnapshot) []model.OrderBookEvent {
	if new == nil {
		return nil
	}
	if old == nil {
		return []model.OrderBookEvent{{Type: model.BookEventFull, Snapshot: new}}
	}
	var events []model.OrderBookEvent
	events = append(events, diffSide(model.BookSideBid, old.Bids, new.Bids)...)
	events = append(events, diffSide(model.BookSideAsk, old.Asks, new.Asks)...)
	if !old.CurrentPrice.Equal(new.CurrentPrice) {
		events = append(events, model.OrderBookEvent{
			Type:  model.BookEventPriceUpdate,
			Price: new.CurrentPrice,
		})
	}
	return events
}

func diffSide(side string, old, new []model.PriceLevel) []model.OrderBookEvent {
	oldQty := make(map[string]int64, len(old))
	for _, lvl := range old {
		oldQty[lvl.Price.String()] = lvl.Quantity
	}
	var events []model.OrderBookEvent
	seen := make(map[string]struct{}, len(new))
	for _, lvl := range new {
		key := lvl.Price.String()
		seen[key] = struct{}{}
		prev, ok := oldQty[key]
		switch {
		case !ok:
			events = append(events, model.OrderBookEvent{
				Type: model.BookEventAdd, Side: side, Price: lvl.Price, Quantity: lvl.Quantity,
			})
		case prev != lvl.Quantity:
			events = append(events, model.OrderBookEvent{
				Type: model.BookEventUpdate, Side: side, Price: lvl.Price, Quantity: lvl.Quantity,
			})
		}
	}
	for _, lvl := range old {
		if _, ok := seen[lvl.Price.String()]; !ok {
			events = append(events, model.OrderBookEvent{
				Type: model.BookEventRemove, Side: side, Price: lvl.Price,
			})
		}
	}
	return events
}

func levelsOf(book *skiplist.SkipList) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, book.Len())
	for iter := book.Front(); iter != nil; iter = iter.Next() {
		price, err := decimal.NewFromString(iter.Key().(string))
		if err != nil {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: price, Quantity: iter.Value.(int64)})
	}
	return levels
}

// 跳表价格比较器，实现 skiplist.Comparable 接口
type priceDescComparator struct{}

func (priceDescComparator) Compare(l, r interface{}) int {
	lf, _ := decimal.NewFromString(l.(string))
	rf, _ := decimal.NewFromString(r.(string))
	return rf.Cmp(lf) // 买盘：价格高优先
}
func (priceDescComparator) CalcScore(key interface{}) float64 {
	d, _ := decimal.NewFromString(key.(string))
	f, _ := d.Float64()
	return -f
}

type priceAscComparator struct{}

func (priceAscComparator) Compare(l, r interface{}) int {
	lf, _ := decimal.NewFromString(l.(string))
	rf, _ := decimal.NewFromString(r.(string))
	return lf.Cmp(rf) // 卖盘：价格低优先
}
func (priceAscComparator) CalcScore(key interface{}) float64 {
	d, _ := decimal.NewFromString(key.(string))
	f, _ := d.Float64()
	return f
}
