package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tonplace/backend/internal/models"
)

type TransferRepo struct {
	pool *pgxpool.Pool
}

func NewTransferRepo(pool *pgxpool.Pool) *TransferRepo {
	return &TransferRepo{pool: pool}
}

const transferColumns = `id, from_addr, to_addr, amount_nano, status, type,
	tx_hash, idempotency_key, error_text, created_at, updated_at`

func scanTransfer(row pgx.Row) (*models.TonTransfer, error) {
	var t models.TonTransfer
	err := row.Scan(
		&t.ID, &t.FromAddr, &t.ToAddr, &t.AmountNano, &t.Status, &t.Type,
		&t.TxHash, &t.IdempotencyKey, &t.ErrorText, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a transfer attempt. The partial unique index on
// idempotency_key (status <> 'failed') makes a second live attempt for the
// same key a unique violation, which Ensure treats as "reuse existing".
func (r *TransferRepo) Create(ctx context.Context, q Querier, t *models.TonTransfer) error {
	return q.QueryRow(ctx, `
		INSERT INTO ton_transfers (from_addr, to_addr, amount_nano, status, type, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, t.FromAddr, t.ToAddr, t.AmountNano, t.Status, t.Type, t.IdempotencyKey,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// Ensure returns the live transfer for the key, creating it if absent.
// Lost races fall back to reading the winner's row.
func (r *TransferRepo) Ensure(ctx context.Context, t *models.TonTransfer) (*models.TonTransfer, error) {
	existing, err := r.GetLiveByKey(ctx, t.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if err := r.Create(ctx, r.pool, t); err != nil {
		if IsUniqueViolation(err) {
			return r.GetLiveByKey(ctx, t.IdempotencyKey)
		}
		return nil, err
	}
	return t, nil
}

func (r *TransferRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.TonTransfer, error) {
	return scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM ton_transfers WHERE id = $1`, id))
}

func (r *TransferRepo) GetLiveByKey(ctx context.Context, key string) (*models.TonTransfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `
		SELECT `+transferColumns+` FROM ton_transfers
		WHERE idempotency_key = $1 AND status <> 'failed'
	`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *TransferRepo) CountFailedByKey(ctx context.Context, key string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM ton_transfers WHERE idempotency_key = $1 AND status = 'failed'
	`, key).Scan(&n)
	return n, err
}

func (r *TransferRepo) UpdateStatus(ctx context.Context, q Querier, id uuid.UUID, from, to string) (bool, error) {
	if err := models.CheckTransferTransition(from, to); err != nil {
		return false, err
	}
	tag, err := q.Exec(ctx, `
		UPDATE ton_transfers SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransferRepo) MarkBroadcasted(ctx context.Context, q Querier, id uuid.UUID, from, txHash string) (bool, error) {
	if err := models.CheckTransferTransition(from, models.TransferStatusBroadcasted); err != nil {
		return false, err
	}
	tag, err := q.Exec(ctx, `
		UPDATE ton_transfers SET status = 'broadcasted', tx_hash = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, txHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransferRepo) MarkFailed(ctx context.Context, q Querier, id uuid.UUID, from, errText string) (bool, error) {
	if err := models.CheckTransferTransition(from, models.TransferStatusFailed); err != nil {
		return false, err
	}
	tag, err := q.Exec(ctx, `
		UPDATE ton_transfers SET status = 'failed', error_text = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, errText)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
