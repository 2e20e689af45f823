package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tonplace/backend/internal/ledger"
	"github.com/tonplace/backend/internal/models"
	"github.com/tonplace/backend/internal/repositories"
)

// Узкие срезы слоя репозиториев: сервисы объявляют только те методы,
// которые реально зовут. В проде сюда попадают pgx-репозитории, в тестах —
// in-memory подмены.

type txStore interface {
	Create(ctx context.Context, q repositories.Querier, t *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, q repositories.Querier, key string) (*models.Transaction, error)
	ListExecutable(ctx context.Context, limit int) ([]*models.Transaction, error)
	UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error)
	MarkFailed(ctx context.Context, q repositories.Querier, id uuid.UUID, from, errText string) (bool, error)
	CompleteChildren(ctx context.Context, q repositories.Querier, parentID uuid.UUID) (int64, error)
	CancelChildren(ctx context.Context, q repositories.Querier, parentID uuid.UUID) (int64, error)
	SetTransfer(ctx context.Context, q repositories.Querier, id, transferID uuid.UUID) error
	SetTxHash(ctx context.Context, q repositories.Querier, id uuid.UUID, hash string) error
}

type transferStore interface {
	GetLiveByKey(ctx context.Context, key string) (*models.TonTransfer, error)
	Ensure(ctx context.Context, t *models.TonTransfer) (*models.TonTransfer, error)
	UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error)
	MarkBroadcasted(ctx context.Context, q repositories.Querier, id uuid.UUID, from, txHash string) (bool, error)
	MarkFailed(ctx context.Context, q repositories.Querier, id uuid.UUID, from, errText string) (bool, error)
}

type escrowStore interface {
	GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.Escrow, error)
	UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error)
}

type dealStore interface {
	UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error)
}

type walletSource interface {
	GetActiveWallet(ctx context.Context, userID uuid.UUID) (*models.UserWallet, error)
}

type auditor interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

type liquidityGate interface {
	CanCover(ctx context.Context, excludeUserID uuid.UUID, amountNano int64) (bool, error)
}

type dealSweeper interface {
	SweepForDeal(ctx context.Context, dealID uuid.UUID, needNano int64) (int64, error)
}

type alerter interface {
	Alert(ctx context.Context, level, dedupeKey, text string)
}

type onceReserver interface {
	ReserveOnce(ctx context.Context, key, kind string, recipientID *uuid.UUID) (bool, error)
}

type userLedger interface {
	WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx pgx.Tx) error) error
	WithdrawableBalance(ctx context.Context, q repositories.Querier, userID uuid.UUID) (*ledger.Balance, error)
	Pool() *pgxpool.Pool
}
