package service

import (
	"context"
	"sync"
	"time"

	"rex-hertz/biz/model"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/panjf2000/ants/v2"
)

// PurchaseSource 批量分配的输入来源
type PurchaseSource interface {
	ListUnallocatedPurchases(ctx context.Context, fundingID string) ([]model.FundingPurchase, error)
}

// ChunkCommitter 单个 chunk 的独立事务提交
type ChunkCommitter interface {
	CommitChunk(ctx context.Context, purchases []model.FundingPurchase) error
}

// AllocationReport 一次批量分配的结果统计
type AllocationReport struct {
	FundingID      string `json:"funding_id"`
	Chunks         int    `json:"chunks"`
	ChunksFailed   int    `json:"chunks_failed"`
	RowsAttempted  int    `json:"rows_attempted"`
	RowsCommitted  int    `json:"rows_committed"`
	DurationMillis int64  `json:"duration_millis"`
}

// AllocationService 初始分配：募资成功后把全部认购记录一次性转成
// 初始持仓。固定大小分片、有界协程池并发、每片独立事务提交，
// 单片失败不影响其他片，也不自动重试（留给运维触发）。
type AllocationService struct {
	fundings     FundingInfo
	purchases    PurchaseSource
	committer    ChunkCommitter
	chunkSize    int
	workers      int
	chunkTimeout time.Duration
}

func NewAllocationService(fundings FundingInfo, purchases PurchaseSource, committer ChunkCommitter,
	chunkSize, workers int, chunkTimeout time.Duration) *AllocationService {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if workers <= 0 {
		workers = 4
	}
	if chunkTimeout <= 0 {
		chunkTimeout = 30 * time.Second
	}
	return &AllocationService{
		fundings:     fundings,
		purchases:    purchases,
		committer:    committer,
		chunkSize:    chunkSize,
		workers:      workers,
		chunkTimeout: chunkTimeout,
	}
}

// Allocate 对一个募资成功的 funding 执行初始分配。
// 幂等：已分配的认购记录带 allocated 标记，不会重复投入。
func (s *AllocationService) Allocate(ctx context.Context, fundingID string) (*AllocationReport, error) {
	start := time.Now()

	f, err := s.fundings.GetFunding(ctx, fundingID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrFundingNotFound
	}
	if f.Status != model.FundingStatusSucceeded && f.Status != model.FundingStatusTradable {
		return nil, ErrFundingNotOpen
	}

	purchases, err := s.purchases.ListUnallocatedPurchases(ctx, fundingID)
	if err != nil {
		return nil, err
	}
	chunks := ChunkPurchases(purchases, s.chunkSize)

	report := &AllocationReport{FundingID: fundingID, Chunks: len(chunks), RowsAttempted: len(purchases)}
	if len(chunks) == 0 {
		hlog.Infof("无待分配认购记录, funding_id=%s", fundingID)
		return report, nil
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for idx, chunk := range chunks {
		idx, chunk := idx, chunk
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			chunkCtx, cancel := context.WithTimeout(ctx, s.chunkTimeout)
			defer cancel()
			if err := s.committer.CommitChunk(chunkCtx, chunk); err != nil {
				hlog.Errorf("分配 chunk 提交失败, funding_id=%s, chunk=%d, rows=%d, err=%v",
					fundingID, idx, len(chunk), err)
				mu.Lock()
				report.ChunksFailed++
				mu.Unlock()
				return
			}
			hlog.Infof("分配 chunk 提交成功, funding_id=%s, chunk=%d, rows=%d", fundingID, idx, len(chunk))
			mu.Lock()
			report.RowsCommitted += len(chunk)
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			hlog.Errorf("分配任务提交失败, funding_id=%s, chunk=%d, err=%v", fundingID, idx, submitErr)
			mu.Lock()
			report.ChunksFailed++
			mu.Unlock()
		}
	}
	wg.Wait()

	report.DurationMillis = time.Since(start).Milliseconds()
	hlog.Infof("批量分配完成, funding_id=%s, chunks=%d, failed=%d, rows=%d/%d, cost=%dms",
		fundingID, report.Chunks, report.ChunksFailed, report.RowsCommitted, report.RowsAttempted,
		report.DurationMillis)
	return report, nil
}

// ChunkPurchases 固定大小切片，2500 条按 1000 切成 3 片
func ChunkPurchases(purchases []model.FundingPurchase, size int) [][]model.FundingPurchase {
	if size <= 0 || len(purchases) == 0 {
		return nil
	}
	chunks := make([][]model.FundingPurchase, 0, (len(purchases)+size-1)/size)
	for start := 0; start < len(purchases); start += size {
		end := start + size
		if end > len(purchases) {
			end = len(purchases)
		}
		chunks = append(chunks, purchases[start:end])
	}
	return chunks
}
