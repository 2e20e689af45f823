package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tonplace/backend/internal/models"
)

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `id, deal_id, status, amount_expected_nano, amount_paid_nano,
	deposit_wallet_id, payment_deadline, payout_tx_id, refund_tx_id, created_at, updated_at`

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
	var e models.Escrow
	err := row.Scan(
		&e.ID, &e.DealID, &e.Status, &e.AmountExpectedNano, &e.AmountPaidNano,
		&e.DepositWalletID, &e.PaymentDeadline, &e.PayoutTxID, &e.RefundTxID,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) Create(ctx context.Context, q Querier, e *models.Escrow) error {
	return q.QueryRow(ctx, `
		INSERT INTO escrows (deal_id, status, amount_expected_nano, deposit_wallet_id, payment_deadline)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, amount_paid_nano, created_at, updated_at
	`, e.DealID, e.Status, e.AmountExpectedNano, e.DepositWalletID, e.PaymentDeadline,
	).Scan(&e.ID, &e.AmountPaidNano, &e.CreatedAt, &e.UpdatedAt)
}

func (r *EscrowRepo) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.Escrow, error) {
	e, err := scanEscrow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE deal_id = $1`, dealID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *EscrowRepo) GetByDealIDForUpdate(ctx context.Context, tx pgx.Tx, dealID uuid.UUID) (*models.Escrow, error) {
	return scanEscrow(tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE deal_id = $1 FOR UPDATE`, dealID))
}

func (r *EscrowRepo) UpdateStatus(ctx context.Context, q Querier, id uuid.UUID, from, to string) (bool, error) {
	if err := models.CheckEscrowTransition(from, to); err != nil {
		return false, err
	}
	tag, err := q.Exec(ctx, `
		UPDATE escrows SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AddPaid accumulates an observed deposit and returns the new paid total.
func (r *EscrowRepo) AddPaid(ctx context.Context, q Querier, id uuid.UUID, deltaNano int64) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `
		UPDATE escrows SET amount_paid_nano = amount_paid_nano + $2, updated_at = now()
		WHERE id = $1
		RETURNING amount_paid_nano
	`, id, deltaNano).Scan(&total)
	return total, err
}

// SetPayoutTx pins the payout record on the escrow exactly once. The
// `payout_tx_id IS NULL` guard plus the schema CHECK keep the payout and
// refund branches mutually exclusive.
func (r *EscrowRepo) SetPayoutTx(ctx context.Context, q Querier, id, txID uuid.UUID) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE escrows SET payout_tx_id = $2, status = 'payout_pending', updated_at = now()
		WHERE id = $1 AND payout_tx_id IS NULL AND refund_tx_id IS NULL AND status = 'paid_held'
	`, id, txID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *EscrowRepo) SetRefundTx(ctx context.Context, q Querier, id, txID uuid.UUID) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE escrows SET refund_tx_id = $2, status = 'refund_pending', updated_at = now()
		WHERE id = $1 AND payout_tx_id IS NULL AND refund_tx_id IS NULL
		  AND status IN ('created', 'paid_partial', 'paid_held')
	`, id, txID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListAwaitingPayment returns escrows still waiting for deposits; the
// watcher polls their deposit wallets.
func (r *EscrowRepo) ListAwaitingPayment(ctx context.Context, limit int) ([]*models.Escrow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE status IN ('created', 'paid_partial')
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

// ListExpired returns unpaid escrows past their payment deadline.
func (r *EscrowRepo) ListExpired(ctx context.Context, limit int) ([]*models.Escrow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE status IN ('created', 'paid_partial')
		  AND payment_deadline IS NOT NULL AND payment_deadline < now()
		ORDER BY payment_deadline
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

func collectEscrows(rows pgx.Rows) ([]*models.Escrow, error) {
	var out []*models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
