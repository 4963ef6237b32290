package redis

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/redis/go-redis/v9"
)

// 每个 funding 一条有序待撮合队列加一条 in-flight 处理中队列。
// 出队用 LMOVE 原子地从主队列搬到 in-flight，正常情况下订单号
// 不会同时在两条队列都不存在。
const (
	queueKeyPrefix      = "queue:"
	inFlightKeyPrefix   = "in-flight:"
	inFlightTsKeyPrefix = "in-flight:ts:"
)

// OrderQueue redis 实现的按 funding 分队列的订单工作队列
type OrderQueue struct {
	rdb *redis.Client
}

func NewOrderQueue(rdb *redis.Client) *OrderQueue {
	return &OrderQueue{rdb: rdb}
}

// Push 下单事务提交后追加订单号到主队列尾部
func (q *OrderQueue) Push(ctx context.Context, fundingID, orderID string) error {
	return q.rdb.RPush(ctx, queueKeyPrefix+fundingID, orderID).Err()
}

// Claim 原子地把队首订单号搬进 in-flight，并记录认领时间供回收扫描用。
// 主队列已空时返回 ("", nil)。
func (q *OrderQueue) Claim(ctx context.Context, fundingID string) (string, error) {
	orderID, err := q.rdb.LMove(ctx,
		queueKeyPrefix+fundingID, inFlightKeyPrefix+fundingID, "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := q.rdb.HSet(ctx, inFlightTsKeyPrefix+fundingID, orderID, time.Now().UnixMilli()).Err(); err != nil {
		// 时间戳写失败不回滚认领，只影响回收扫描的判断
		hlog.Warnf("in-flight 时间戳写入失败, funding_id=%s, order_id=%s, err=%v", fundingID, orderID, err)
	}
	return orderID, nil
}

// Ack 处理完成，从 in-flight 移除
func (q *OrderQueue) Ack(ctx context.Context, fundingID, orderID string) error {
	if err := q.rdb.LRem(ctx, inFlightKeyPrefix+fundingID, 1, orderID).Err(); err != nil {
		return err
	}
	return q.rdb.HDel(ctx, inFlightTsKeyPrefix+fundingID, orderID).Err()
}

// Requeue 处理失败，从 in-flight 搬回主队列头部等待下次触发
func (q *OrderQueue) Requeue(ctx context.Context, fundingID, orderID string) error {
	if err := q.rdb.LRem(ctx, inFlightKeyPrefix+fundingID, 1, orderID).Err(); err != nil {
		return err
	}
	if err := q.rdb.HDel(ctx, inFlightTsKeyPrefix+fundingID, orderID).Err(); err != nil {
		return err
	}
	return q.rdb.LPush(ctx, queueKeyPrefix+fundingID, orderID).Err()
}

// RecoverStale 把停留超过 maxAge 的 in-flight 订单搬回主队列头部，
// 处理进程崩溃后的遗留。返回搬回的数量。
func (q *OrderQueue) RecoverStale(ctx context.Context, fundingID string, maxAge time.Duration) (int, error) {
	ids, err := q.rdb.LRange(ctx, inFlightKeyPrefix+fundingID, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now().UnixMilli()
	recovered := 0
	for _, orderID := range ids {
		ts, err := q.rdb.HGet(ctx, inFlightTsKeyPrefix+fundingID, orderID).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return recovered, err
		}
		// 无时间戳的条目同样视为过期，否则会永远滞留
		if err == nil && now-ts < maxAge.Milliseconds() {
			continue
		}
		if err := q.Requeue(ctx, fundingID, orderID); err != nil {
			return recovered, err
		}
		hlog.Warnf("回收过期 in-flight 订单, funding_id=%s, order_id=%s", fundingID, orderID)
		recovered++
	}
	return recovered, nil
}
