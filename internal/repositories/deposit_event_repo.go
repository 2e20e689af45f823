package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DepositEvent — одна наблюдённая входящая транзакция. Первичный ключ по
// tx_hash делает повторную обработку того же перевода no-op'ом.
type DepositEvent struct {
	TxHash        string
	DealID        uuid.UUID
	TransactionID uuid.UUID
	FromAddr      string
	AmountNano    int64
	ObservedAt    time.Time
}

type DepositEventRepo struct {
	pool *pgxpool.Pool
}

func NewDepositEventRepo(pool *pgxpool.Pool) *DepositEventRepo {
	return &DepositEventRepo{pool: pool}
}

// InsertOnce records the observed transfer, returning false when the hash
// was already seen.
func (r *DepositEventRepo) InsertOnce(ctx context.Context, q Querier, e *DepositEvent) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO deposit_events (tx_hash, deal_id, transaction_id, from_addr, amount_nano)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tx_hash) DO NOTHING
	`, e.TxHash, e.DealID, e.TransactionID, e.FromAddr, e.AmountNano)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *DepositEventRepo) SumByDeal(ctx context.Context, dealID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_nano), 0) FROM deposit_events WHERE deal_id = $1
	`, dealID).Scan(&sum)
	return sum, err
}
