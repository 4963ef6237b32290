package pg

import (
	"context"
	"fmt"
	"strings"

	"rex-hertz/biz/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AllocationRepo 初始分配的批量写入路径，走 pgx 连接池而不是 GORM，
// 每个 chunk 一个独立事务。
type AllocationRepo struct {
	pool *pgxpool.Pool
}

func NewAllocationRepo(pool *pgxpool.Pool) *AllocationRepo {
	return &AllocationRepo{pool: pool}
}

// CommitChunk 把一个 chunk 的认购记录写成初始持仓并标记 allocated。
// 同一用户在 chunk 内先按加权均价合并，跨 chunk 交给 ON CONFLICT 的均价公式。
func (r *AllocationRepo) CommitChunk(ctx context.Context, purchases []model.FundingPurchase) error {
	if len(purchases) == 0 {
		return nil
	}

	type agg struct {
		fundingID string
		quantity  int64
		cost      decimal.Decimal // quantity*price 累计
	}
	aggs := make(map[string]*agg)
	order := make([]string, 0, len(purchases))
	ids := make([]int64, 0, len(purchases))
	for _, p := range purchases {
		ids = append(ids, int64(p.ID))
		a, ok := aggs[p.UserID]
		if !ok {
			a = &agg{fundingID: p.FundingID}
			aggs[p.UserID] = a
			order = append(order, p.UserID)
		}
		a.quantity += p.Quantity
		a.cost = a.cost.Add(p.Price.Mul(decimal.NewFromInt(p.Quantity)))
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := "INSERT INTO share_positions (user_id, funding_id, quantity, avg_cost) VALUES "
	args := make([]interface{}, 0, len(order)*4)
	valueStrings := make([]string, 0, len(order))
	for i, userID := range order {
		a := aggs[userID]
		avg := a.cost.DivRound(decimal.NewFromInt(a.quantity), 2)
		valueStrings = append(valueStrings, fmt.Sprintf("($%d,$%d,$%d,$%d)", i*4+1, i*4+2, i*4+3, i*4+4))
		args = append(args, userID, a.fundingID, a.quantity, avg)
	}
	query += strings.Join(valueStrings, ",")
	query += ` ON CONFLICT (user_id, funding_id) DO UPDATE SET
		avg_cost = round((share_positions.quantity * share_positions.avg_cost + EXCLUDED.quantity * EXCLUDED.avg_cost) / (share_positions.quantity + EXCLUDED.quantity), 2),
		quantity = share_positions.quantity + EXCLUDED.quantity`
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "UPDATE funding_purchases SET allocated = true WHERE id = ANY($1)", ids); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
