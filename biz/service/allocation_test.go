package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rex-hertz/biz/model"
)

type memPurchases struct {
	purchases []model.FundingPurchase
}

func (m *memPurchases) ListUnallocatedPurchases(ctx context.Context, fundingID string) ([]model.FundingPurchase, error) {
	var res []model.FundingPurchase
	for _, p := range m.purchases {
		if p.FundingID == fundingID && !p.Allocated {
			res = append(res, p)
		}
	}
	return res, nil
}

type memCommitter struct {
	mu      sync.Mutex
	chunks  [][]model.FundingPurchase
	failIdx int // 第 N 次提交失败，-1 表示不失败
	commits int
}

func (c *memCommitter) CommitChunk(ctx context.Context, purchases []model.FundingPurchase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
	if c.failIdx >= 0 && c.commits-1 == c.failIdx {
		return errBoom
	}
	c.chunks = append(c.chunks, purchases)
	return nil
}

func makePurchases(fundingID string, n int) []model.FundingPurchase {
	res := make([]model.FundingPurchase, 0, n)
	for i := 0; i < n; i++ {
		res = append(res, model.FundingPurchase{
			ID:        uint(i + 1),
			FundingID: fundingID,
			UserID:    fmt.Sprintf("u-%d", i%7),
			Quantity:  10,
			Price:     d("100"),
		})
	}
	return res
}

func succeededFunding(id string) model.Funding {
	return model.Funding{FundingID: id, Status: model.FundingStatusSucceeded, TotalShares: 100000}
}

func TestChunkPurchases(t *testing.T) {
	chunks := ChunkPurchases(makePurchases("FND-1", 2500), 1000)
	if len(chunks) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(chunks))
	}
	for i, want := range []int{1000, 1000, 500} {
		if len(chunks[i]) != want {
			t.Errorf("chunk %d size = %d, want %d", i, len(chunks[i]), want)
		}
	}
	if ChunkPurchases(nil, 1000) != nil {
		t.Error("empty input should produce no chunks")
	}
}

func TestAllocateCommitsAllChunks(t *testing.T) {
	fundings := newMemFundings(succeededFunding("FND-1"))
	purchases := &memPurchases{purchases: makePurchases("FND-1", 2500)}
	committer := &memCommitter{failIdx: -1}
	svc := NewAllocationService(fundings, purchases, committer, 1000, 4, time.Second)

	report, err := svc.Allocate(context.Background(), "FND-1")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if report.Chunks != 3 || report.ChunksFailed != 0 {
		t.Errorf("report = %+v, want 3 chunks, 0 failed", report)
	}
	if report.RowsAttempted != 2500 || report.RowsCommitted != 2500 {
		t.Errorf("rows = %d/%d, want 2500/2500", report.RowsCommitted, report.RowsAttempted)
	}
	total := 0
	for _, chunk := range committer.chunks {
		total += len(chunk)
	}
	if total != 2500 {
		t.Errorf("committed rows = %d, want 2500", total)
	}
}

// 单片失败不影响其他片的提交
func TestAllocateChunkFailureIsIsolated(t *testing.T) {
	fundings := newMemFundings(succeededFunding("FND-1"))
	purchases := &memPurchases{purchases: makePurchases("FND-1", 2500)}
	committer := &memCommitter{failIdx: 1}
	svc := NewAllocationService(fundings, purchases, committer, 1000, 1, time.Second)

	report, err := svc.Allocate(context.Background(), "FND-1")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if report.ChunksFailed != 1 {
		t.Errorf("chunks failed = %d, want 1", report.ChunksFailed)
	}
	if report.RowsCommitted != 1500 {
		t.Errorf("rows committed = %d, want 1500", report.RowsCommitted)
	}
}

func TestAllocateNothingPending(t *testing.T) {
	fundings := newMemFundings(succeededFunding("FND-1"))
	svc := NewAllocationService(fundings, &memPurchases{}, &memCommitter{failIdx: -1}, 1000, 4, time.Second)

	report, err := svc.Allocate(context.Background(), "FND-1")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if report.Chunks != 0 || report.RowsAttempted != 0 {
		t.Errorf("report = %+v, want empty", report)
	}
}

func TestAllocateRejectsWrongStatus(t *testing.T) {
	fundings := newMemFundings(model.Funding{FundingID: "FND-1", Status: model.FundingStatusFunding})
	svc := NewAllocationService(fundings, &memPurchases{}, &memCommitter{failIdx: -1}, 1000, 4, time.Second)

	if _, err := svc.Allocate(context.Background(), "FND-1"); !errors.Is(err, ErrFundingNotOpen) {
		t.Errorf("err = %v, want ErrFundingNotOpen", err)
	}
	if _, err := svc.Allocate(context.Background(), "FND-x"); !errors.Is(err, ErrFundingNotFound) {
		t.Errorf("err = %v, want ErrFundingNotFound", err)
	}
}
