package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/db"
	"github.com/tonplace/backend/internal/repositories"
)

// Ledger derives balances from the transactions table; there is no stored
// balance column anywhere, every read recomputes from history.
type Ledger struct {
	pool   *pgxpool.Pool
	txRepo *repositories.TransactionRepo
	log    *zap.Logger
}

func New(pool *pgxpool.Pool, txRepo *repositories.TransactionRepo, log *zap.Logger) *Ledger {
	return &Ledger{pool: pool, txRepo: txRepo, log: log}
}

// Balance is a snapshot of a user's derived position in nanoTON.
type Balance struct {
	// WithdrawableNano = completed IN − completed OUT − in-flight OUT,
	// clamped at zero.
	WithdrawableNano int64 `json:"withdrawable_nano"`
	// RawNano is the unclamped figure; a negative value is an accounting
	// anomaly worth alerting on.
	RawNano      int64 `json:"raw_nano"`
	CreditedNano int64 `json:"credited_nano"`
	DebitedNano  int64 `json:"debited_nano"`
	InFlightNano int64 `json:"in_flight_nano"`
}

// WithdrawableBalance computes the user's spendable position. Reads go
// through q so callers inside a locked transaction see their own writes.
func (l *Ledger) WithdrawableBalance(ctx context.Context, q repositories.Querier, userID uuid.UUID) (*Balance, error) {
	credited, err := l.txRepo.SumCompleted(ctx, q, userID, "in")
	if err != nil {
		return nil, fmt.Errorf("sum credits: %w", err)
	}
	debited, err := l.txRepo.SumCompleted(ctx, q, userID, "out")
	if err != nil {
		return nil, fmt.Errorf("sum debits: %w", err)
	}
	inFlight, err := l.txRepo.SumInFlightOut(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("sum in-flight: %w", err)
	}

	b := derive(credited, debited, inFlight)
	if b.RawNano < 0 {
		l.log.Error("negative derived balance",
			zap.String("user_id", userID.String()),
			zap.Int64("raw_nano", b.RawNano))
	}
	return b, nil
}

func derive(credited, debited, inFlight int64) *Balance {
	raw := credited - debited - inFlight
	b := &Balance{
		RawNano:      raw,
		CreditedNano: credited,
		DebitedNano:  debited,
		InFlightNano: inFlight,
	}
	if raw > 0 {
		b.WithdrawableNano = raw
	}
	return b
}

// Pool exposes the underlying pool for callers that need plain queries
// alongside locked flows.
func (l *Ledger) Pool() *pgxpool.Pool {
	return l.pool
}

// WithdrawableBalanceSimple reads outside any transaction.
func (l *Ledger) WithdrawableBalanceSimple(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	return l.WithdrawableBalance(ctx, l.pool, userID)
}

// WithUserLock runs fn inside a transaction holding the per-user advisory
// lock, serializing all balance-mutating flows for that user. The lock is
// transaction-scoped and blocking; it releases at commit/rollback.
func (l *Ledger) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := db.XactAdvisoryLock(ctx, tx, "user:"+userID.String()); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
