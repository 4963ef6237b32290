package service

import (
	"context"
	"testing"
	"time"

	"rex-hertz/biz/model"
)

func TestDrainProcessesQueueUntilEmpty(t *testing.T) {
	ledger := newMemLedger()
	ledger.putBalance("alice", d("10000"))
	ledger.putBalance("carol", d("10000"))
	ledger.putPosition("bob", "FND-1", 20, d("90"))
	ledger.putOrder(openOrder("O-sell", "bob", "FND-1", model.SideSell, "100", 20, 1))
	ledger.putOrder(openOrder("O-b1", "alice", "FND-1", model.SideBuy, "100", 5, 2))
	ledger.putOrder(openOrder("O-b2", "carol", "FND-1", model.SideBuy, "100", 5, 3))

	queue := newMemQueue()
	_ = queue.Push(context.Background(), "FND-1", "O-b1")
	_ = queue.Push(context.Background(), "FND-1", "O-b2")

	effects := &recordEffects{}
	worker := NewMatchWorker(queue, newTestMatchEngine(ledger), effects, 0)

	// 第一笔吃单完全成交即停止，第二笔留待下一次触发
	if processed := worker.Drain(context.Background(), "FND-1"); processed != 1 {
		t.Fatalf("first drain processed = %d, want 1", processed)
	}
	if queue.mainLen("FND-1") != 1 {
		t.Fatalf("queue len = %d, want 1", queue.mainLen("FND-1"))
	}
	if processed := worker.Drain(context.Background(), "FND-1"); processed != 1 {
		t.Fatalf("second drain processed = %d, want 1", processed)
	}
	if queue.mainLen("FND-1") != 0 {
		t.Errorf("queue should be empty, len = %d", queue.mainLen("FND-1"))
	}
	if len(effects.results) != 2 {
		t.Errorf("AfterMatch calls = %d, want 2", len(effects.results))
	}

	maker, _ := ledger.GetOrder(context.Background(), "O-sell")
	if maker.RemainingQuantity != 10 {
		t.Errorf("maker remaining = %d, want 10", maker.RemainingQuantity)
	}
}

func TestDrainDropsGoneOrders(t *testing.T) {
	ledger := newMemLedger()
	ledger.putBalance("alice", d("10000"))
	ledger.putPosition("bob", "FND-1", 10, d("90"))
	ledger.putOrder(openOrder("O-sell", "bob", "FND-1", model.SideSell, "100", 10, 1))
	ledger.putOrder(openOrder("O-buy", "alice", "FND-1", model.SideBuy, "100", 10, 2))

	queue := newMemQueue()
	_ = queue.Push(context.Background(), "FND-1", "O-ghost")
	_ = queue.Push(context.Background(), "FND-1", "O-buy")

	worker := NewMatchWorker(queue, newTestMatchEngine(ledger), nil, 0)
	if processed := worker.Drain(context.Background(), "FND-1"); processed != 1 {
		t.Fatalf("processed = %d, want 1 (ghost dropped, real order matched)", processed)
	}
	if queue.mainLen("FND-1") != 0 {
		t.Errorf("queue should be empty after drop+match, len = %d", queue.mainLen("FND-1"))
	}
}

func TestDrainRequeuesOnMatchError(t *testing.T) {
	ledger := newMemLedger()
	// alice 无余额：撮合事务必然失败
	ledger.putPosition("bob", "FND-1", 10, d("90"))
	ledger.putOrder(openOrder("O-sell", "bob", "FND-1", model.SideSell, "100", 10, 1))
	ledger.putOrder(openOrder("O-buy", "alice", "FND-1", model.SideBuy, "100", 5, 2))

	queue := newMemQueue()
	_ = queue.Push(context.Background(), "FND-1", "O-buy")
	_ = queue.Push(context.Background(), "FND-1", "O-next")

	worker := NewMatchWorker(queue, newTestMatchEngine(ledger), nil, 0)
	if processed := worker.Drain(context.Background(), "FND-1"); processed != 0 {
		t.Fatalf("processed = %d, want 0 on fail-stop", processed)
	}
	// 失败订单回到队首，后续订单不被越过
	queue.mu.Lock()
	main := append([]string(nil), queue.main["FND-1"]...)
	queue.mu.Unlock()
	if len(main) != 2 || main[0] != "O-buy" || main[1] != "O-next" {
		t.Errorf("queue after requeue = %v, want [O-buy O-next]", main)
	}
}

func TestDrainStopsOnClaimError(t *testing.T) {
	queue := newMemQueue()
	queue.claimErr = errBoom
	worker := NewMatchWorker(queue, newTestMatchEngine(newMemLedger()), nil, 0)
	if processed := worker.Drain(context.Background(), "FND-1"); processed != 0 {
		t.Errorf("processed = %d, want 0", processed)
	}
}

func TestDrainIterationCap(t *testing.T) {
	ledger := newMemLedger()
	queue := newMemQueue()
	// 终态订单只会被跳过，不触发提前停止，用来驱动满迭代
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		o := openOrder("O-"+id, "alice", "FND-1", model.SideBuy, "100", 5, int64(i))
		o.Status = model.OrderStatusCancelled
		ledger.putOrder(o)
		_ = queue.Push(context.Background(), "FND-1", "O-"+id)
	}

	worker := NewMatchWorker(queue, newTestMatchEngine(ledger), nil, 3)
	if processed := worker.Drain(context.Background(), "FND-1"); processed != 3 {
		t.Fatalf("processed = %d, want 3 (iteration cap)", processed)
	}
	if queue.mainLen("FND-1") != 2 {
		t.Errorf("queue len = %d, want 2 left after cap", queue.mainLen("FND-1"))
	}
}

func TestRecoverySweepRequeuesAndDrains(t *testing.T) {
	ledger := newMemLedger()
	ledger.putBalance("alice", d("10000"))
	ledger.putPosition("bob", "FND-1", 10, d("90"))
	ledger.putOrder(openOrder("O-sell", "bob", "FND-1", model.SideSell, "100", 10, 1))
	ledger.putOrder(openOrder("O-buy", "alice", "FND-1", model.SideBuy, "100", 10, 2))

	queue := newMemQueue()
	_ = queue.Push(context.Background(), "FND-1", "O-buy")
	// 模拟上一个进程崩溃：订单已认领未确认
	if id, _ := queue.Claim(context.Background(), "FND-1"); id != "O-buy" {
		t.Fatalf("claim returned %q", id)
	}

	worker := NewMatchWorker(queue, newTestMatchEngine(ledger), nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.RunRecoverySweep(ctx, []string{"FND-1"}, 5*time.Millisecond, time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		o, _ := ledger.GetOrder(context.Background(), "O-buy")
		if o.Status == model.OrderStatusFullyFilled {
			break
		}
		select {
		case <-deadline:
			t.Fatal("recovered order was never matched")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
