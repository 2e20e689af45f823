package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tonplace/backend/internal/models"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const txColumns = `id, user_id, type, direction, status, amount_nano, currency,
	deal_id, address, tx_hash, idempotency_key, transfer_id, parent_id,
	expected_nano, received_nano, error_text, created_at, confirmed_at, completed_at`

func scanTx(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Direction, &t.Status, &t.AmountNano, &t.Currency,
		&t.DealID, &t.Address, &t.TxHash, &t.IdempotencyKey, &t.TransferID, &t.ParentID,
		&t.ExpectedNano, &t.ReceivedNano, &t.ErrorText, &t.CreatedAt, &t.ConfirmedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new financial record. A duplicate idempotency key is
// reported as pgconn unique violation 23505; callers that expect replays
// should use GetByIdempotencyKey first (under the user lock).
func (r *TransactionRepo) Create(ctx context.Context, q Querier, t *models.Transaction) error {
	return q.QueryRow(ctx, `
		INSERT INTO transactions (
			user_id, type, direction, status, amount_nano, currency,
			deal_id, address, tx_hash, idempotency_key, transfer_id, parent_id,
			expected_nano, received_nano, error_text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`, t.UserID, t.Type, t.Direction, t.Status, t.AmountNano, t.Currency,
		t.DealID, t.Address, t.TxHash, t.IdempotencyKey, t.TransferID, t.ParentID,
		t.ExpectedNano, t.ReceivedNano, t.ErrorText,
	).Scan(&t.ID, &t.CreatedAt)
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return scanTx(r.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
}

// GetByIDForUpdate row-locks the record inside the caller's transaction.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	return scanTx(tx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
}

func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, q Querier, key string) (*models.Transaction, error) {
	t, err := scanTx(q.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *TransactionRepo) GetByTxHash(ctx context.Context, hash string) (*models.Transaction, error) {
	t, err := scanTx(r.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE tx_hash = $1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *TransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTxs(rows)
}

func (r *TransactionRepo) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE deal_id = $1 ORDER BY created_at
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTxs(rows)
}

// ListExecutable returns OUT records ready for the payout worker, oldest
// first. blocked_liquidity records are retried alongside fresh ones.
func (r *TransactionRepo) ListExecutable(ctx context.Context, limit int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE direction = 'out'
		  AND status IN ('pending', 'blocked_liquidity')
		  AND type IN ('payout', 'refund')
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTxs(rows)
}

// ListAwaitingConfirmation returns broadcasted OUT records the watcher
// still needs to match against on-chain history.
func (r *TransactionRepo) ListAwaitingConfirmation(ctx context.Context, limit int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE direction = 'out' AND status IN ('awaiting_confirmation', 'confirmed')
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTxs(rows)
}

// ListOpenDeposits returns IN records still accumulating payments.
func (r *TransactionRepo) ListOpenDeposits(ctx context.Context, limit int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE direction = 'in' AND type = 'deposit'
		  AND status IN ('pending', 'partial')
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTxs(rows)
}

// UpdateStatus moves the record forward, enforcing the transition table in
// SQL: the WHERE clause pins the expected current status, so a concurrent
// mover makes this a no-op and the caller sees false.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, q Querier, id uuid.UUID, from, to string) (bool, error) {
	if err := models.CheckTxTransition(from, to); err != nil {
		return false, err
	}
	tag, err := q.Exec(ctx, `
		UPDATE transactions SET status = $3,
			confirmed_at = CASE WHEN $3 = 'confirmed' THEN now() ELSE confirmed_at END,
			completed_at = CASE WHEN $3 IN ('completed', 'failed', 'canceled') THEN now() ELSE completed_at END
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransactionRepo) MarkFailed(ctx context.Context, q Querier, id uuid.UUID, from, errText string) (bool, error) {
	if err := models.CheckTxTransition(from, models.TxStatusFailed); err != nil {
		return false, err
	}
	tag, err := q.Exec(ctx, `
		UPDATE transactions SET status = 'failed', error_text = $3, completed_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, errText)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteChildren completes pending fee records once their parent payout
// lands.
func (r *TransactionRepo) CompleteChildren(ctx context.Context, q Querier, parentID uuid.UUID) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE transactions SET status = 'completed', completed_at = now()
		WHERE parent_id = $1 AND status IN ('pending', 'blocked_liquidity')
	`, parentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CancelChildren cancels pending fee records tied to a failed parent.
func (r *TransactionRepo) CancelChildren(ctx context.Context, q Querier, parentID uuid.UUID) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE transactions SET status = 'canceled', completed_at = now()
		WHERE parent_id = $1 AND status IN ('pending', 'blocked_liquidity')
	`, parentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *TransactionRepo) SetTransfer(ctx context.Context, q Querier, id, transferID uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE transactions SET transfer_id = $2 WHERE id = $1`, id, transferID)
	return err
}

func (r *TransactionRepo) SetTxHash(ctx context.Context, q Querier, id uuid.UUID, hash string) error {
	_, err := q.Exec(ctx, `UPDATE transactions SET tx_hash = $2 WHERE id = $1`, id, hash)
	return err
}

// AddReceived accumulates a newly observed incoming amount and returns the
// running total.
func (r *TransactionRepo) AddReceived(ctx context.Context, q Querier, id uuid.UUID, deltaNano int64) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `
		UPDATE transactions SET received_nano = received_nano + $2
		WHERE id = $1
		RETURNING received_nano
	`, id, deltaNano).Scan(&total)
	return total, err
}

// --- Ledger aggregates ---

// SumCompleted returns the sum of completed amounts for a user in the given
// direction.
// SumCompleted sums terminal records in one direction. Deposit records are
// not part of the user balance in either direction: a deposit funds the
// deal's escrow, the matching credit appears only when settlement releases
// it.
func (r *TransactionRepo) SumCompleted(ctx context.Context, q Querier, userID uuid.UUID, direction string) (int64, error) {
	var sum int64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_nano), 0) FROM transactions
		WHERE user_id = $1 AND direction = $2 AND status = 'completed'
		  AND type <> 'deposit'
	`, userID, direction).Scan(&sum)
	return sum, err
}

// SumInFlightOut returns the total of non-terminal OUT records that still
// reserve the user's balance, including the automatic deal payouts queued
// by settlement (their settlement credit is already counted on the IN
// side).
func (r *TransactionRepo) SumInFlightOut(ctx context.Context, q Querier, userID uuid.UUID) (int64, error) {
	var sum int64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_nano), 0) FROM transactions
		WHERE user_id = $1 AND direction = 'out'
		  AND status IN ('pending', 'blocked_liquidity', 'awaiting_confirmation', 'confirmed')
	`, userID).Scan(&sum)
	return sum, err
}

// SumReservedByOthers returns in-flight OUT amounts across all users except
// the given one. The liquidity gate subtracts this from the hot balance.
func (r *TransactionRepo) SumReservedByOthers(ctx context.Context, exceptUserID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_nano), 0) FROM transactions
		WHERE user_id <> $1 AND direction = 'out'
		  AND status IN ('pending', 'blocked_liquidity', 'awaiting_confirmation', 'confirmed')
	`, exceptUserID).Scan(&sum)
	return sum, err
}

// IsUniqueViolation reports a 23505 from Postgres (duplicate key).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func collectTxs(rows pgx.Rows) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
