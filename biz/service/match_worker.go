package service

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
)

// OrderQueue 每个 funding 一条有序工作队列，至少一次投递。
// Claim 必须原子地把订单号搬进 in-flight；主队列空时返回 ("", nil)。
type OrderQueue interface {
	Push(ctx context.Context, fundingID, orderID string) error
	Claim(ctx context.Context, fundingID string) (string, error)
	Ack(ctx context.Context, fundingID, orderID string) error
	Requeue(ctx context.Context, fundingID, orderID string) error
	RecoverStale(ctx context.Context, fundingID string, maxAge time.Duration) (int, error)
}

// MatchWorker 队列消费者：逐个认领订单号驱动撮合引擎，直到队列
// 排空或本轮没有进展。同一 funding 的并发调用只依赖队列原子操作
// 保证单个订单号同一时刻只被一个消费者持有。
type MatchWorker struct {
	queue         OrderQueue
	engine        *MatchEngine
	effects       PostMatchEffects
	maxIterations int
}

// PostMatchEffects 撮合事务提交后的外围动作：事件发布、订单簿刷新、通知。
// 失败只记录，不影响账本状态。
type PostMatchEffects interface {
	AfterMatch(ctx context.Context, res *MatchResult)
}

func NewMatchWorker(queue OrderQueue, engine *MatchEngine, effects PostMatchEffects, maxIterations int) *MatchWorker {
	if maxIterations <= 0 {
		maxIterations = 500
	}
	return &MatchWorker{
		queue:         queue,
		engine:        engine,
		effects:       effects,
		maxIterations: maxIterations,
	}
}

// Drain 消费一条 funding 队列。返回本次处理的订单数。
// 任何队列或撮合错误都 fail-stop：订单号搬回队首，循环终止，
// 等待下一次触发或回收扫描。
func (w *MatchWorker) Drain(ctx context.Context, fundingID string) int {
	processed := 0
	for i := 0; i < w.maxIterations; i++ {
		orderID, err := w.queue.Claim(ctx, fundingID)
		if err != nil {
			hlog.Errorf("队列认领失败，终止 drain, funding_id=%s, err=%v", fundingID, err)
			return processed
		}
		if orderID == "" {
			return processed
		}

		res, err := w.engine.MatchOrder(ctx, orderID)
		if errors.Is(err, ErrOrderGone) {
			// 账本里没有的订单号直接丢弃
			hlog.Warnf("队列订单不存在，丢弃, funding_id=%s, order_id=%s", fundingID, orderID)
			if ackErr := w.queue.Ack(ctx, fundingID, orderID); ackErr != nil {
				hlog.Errorf("丢弃订单出队失败, order_id=%s, err=%v", orderID, ackErr)
				return processed
			}
			continue
		}
		if err != nil {
			// 撮合事务已整体回滚，订单号搬回队首等待重投递
			hlog.Errorf("撮合失败，订单回队, funding_id=%s, order_id=%s, err=%v", fundingID, orderID, err)
			if rqErr := w.queue.Requeue(ctx, fundingID, orderID); rqErr != nil {
				hlog.Errorf("订单回队失败，等待回收扫描, order_id=%s, err=%v", orderID, rqErr)
			}
			return processed
		}

		if ackErr := w.queue.Ack(ctx, fundingID, orderID); ackErr != nil {
			hlog.Errorf("订单出队确认失败，终止 drain, order_id=%s, err=%v", orderID, ackErr)
			return processed
		}
		processed++

		if res.Skipped {
			continue
		}
		if w.effects != nil {
			w.effects.AfterMatch(ctx, res)
		}
		// 本轮没有成交说明对手盘已尽；吃单全部成交说明本次触发的
		// 目标已达成。两种情况都停止，剩余队列交给下一次触发。
		if len(res.Trades) == 0 || res.Remaining == 0 {
			return processed
		}
	}
	hlog.Warnf("drain 达到迭代上限，剩余订单留待下次触发, funding_id=%s, max=%d", fundingID, w.maxIterations)
	return processed
}

// RunRecoverySweep 周期性把超龄 in-flight 订单搬回主队列并触发 drain，
// 兜底处理进程崩溃留下的半途订单。阻塞直到 ctx 取消。
func (w *MatchWorker) RunRecoverySweep(ctx context.Context, fundingIDs []string, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, fundingID := range fundingIDs {
				recovered, err := w.queue.RecoverStale(ctx, fundingID, maxAge)
				if err != nil {
					hlog.Errorf("in-flight 回收扫描失败, funding_id=%s, err=%v", fundingID, err)
					continue
				}
				if recovered > 0 {
					hlog.Infof("回收 in-flight 订单 %d 个并触发撮合, funding_id=%s", recovered, fundingID)
					w.Drain(ctx, fundingID)
				}
			}
		}
	}
}
