package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/events"
	"github.com/tonplace/backend/internal/models"
	"github.com/tonplace/backend/internal/ton"
)

// WithdrawService admits user withdrawal requests into the ledger. It never
// touches the blockchain: admitted records are picked up by the payout
// worker.
type WithdrawService struct {
	ledger     userLedger
	txRepo     txStore
	walletRepo walletSource
	auditRepo  auditor
	liquidity  liquidityGate
	alerts     alerter
	publisher  events.Publisher
	cfg        *config.Config
	log        *zap.Logger
}

func NewWithdrawService(
	ldg userLedger,
	txRepo txStore,
	walletRepo walletSource,
	auditRepo auditor,
	liquidity liquidityGate,
	alerts alerter,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *WithdrawService {
	return &WithdrawService{
		ledger:     ldg,
		txRepo:     txRepo,
		walletRepo: walletRepo,
		auditRepo:  auditRepo,
		liquidity:  liquidity,
		alerts:     alerts,
		publisher:  publisher,
		cfg:        cfg,
		log:        log,
	}
}

type WithdrawRequest struct {
	// AmountNano is ignored when All is set.
	AmountNano  int64
	All         bool
	Destination string // empty means "connected wallet"
	Purpose     string // defaults to "withdraw"; part of the replay key
	// IdempotencyKey is an optional client-supplied key; when empty a
	// deterministic key is derived from the request itself.
	IdempotencyKey string
}

// withdrawKey — детерминированный ключ идемпотентности: одинаковый запрос
// от того же пользователя на тот же адрес и сумму всегда даёт тот же ключ.
func withdrawKey(userID uuid.UUID, dest string, amountNano int64, purpose string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", userID, dest, amountNano, purpose)))
	return "withdraw:" + hex.EncodeToString(h[:16])
}

// RequestWithdraw validates and admits a withdrawal. The returned record is
// either freshly created (status pending or blocked_liquidity) or the
// existing record for an identical request (replay).
func (s *WithdrawService) RequestWithdraw(ctx context.Context, userID uuid.UUID, req WithdrawRequest) (*models.Transaction, error) {
	if req.Purpose == "" {
		req.Purpose = "withdraw"
	}

	dest := req.Destination
	if dest == "" {
		w, err := s.walletRepo.GetActiveWallet(ctx, userID)
		if err != nil || w == nil || !w.Verified {
			return nil, ErrWalletNotConnected
		}
		dest = w.AddressFriendly
	}

	if !req.All && req.AmountNano <= 0 {
		return nil, ErrInvalidAmount
	}

	fee := s.cfg.PayoutNetworkFeeNano

	var record *models.Transaction
	var replay bool
	err := s.ledger.WithUserLock(ctx, userID, func(tx pgx.Tx) error {
		// Client-supplied keys replay before any balance math: the reply
		// must match the first call byte for byte.
		if req.IdempotencyKey != "" {
			existing, err := s.txRepo.GetByIdempotencyKey(ctx, tx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				record, replay = existing, true
				return nil
			}
		}

		balance, err := s.ledger.WithdrawableBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		amount := req.AmountNano
		if req.All {
			amount = balance.WithdrawableNano - fee
			if amount <= 0 {
				return ErrInsufficientBalance
			}
		}

		key := req.IdempotencyKey
		if key == "" {
			key = withdrawKey(userID, dest, amount, req.Purpose)
		}
		if existing, err := s.txRepo.GetByIdempotencyKey(ctx, tx, key); err != nil {
			return err
		} else if existing != nil {
			record, replay = existing, true
			return nil
		}

		if amount+fee > balance.WithdrawableNano {
			return ErrInsufficientBalance
		}

		record = &models.Transaction{
			UserID:         userID,
			Type:           models.TxTypePayout,
			Direction:      models.TxDirectionOut,
			Status:         models.TxStatusPending,
			AmountNano:     amount,
			Currency:       "TON",
			Address:        &dest,
			IdempotencyKey: key,
		}
		if err := s.txRepo.Create(ctx, tx, record); err != nil {
			return err
		}

		if fee > 0 {
			feeRecord := &models.Transaction{
				UserID:         userID,
				Type:           models.TxTypeNetworkFee,
				Direction:      models.TxDirectionOut,
				Status:         models.TxStatusPending,
				AmountNano:     fee,
				Currency:       "TON",
				ParentID:       &record.ID,
				IdempotencyKey: record.IdempotencyKey + ":fee",
			}
			if err := s.txRepo.Create(ctx, tx, feeRecord); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replay {
		return record, nil
	}

	// Liquidity gate runs outside the lock: a blockchain read must never
	// extend a row-lock transaction.
	covered, lerr := s.liquidity.CanCover(ctx, userID, record.AmountNano+fee)
	if lerr != nil {
		s.log.Warn("liquidity check failed, leaving withdrawal pending", zap.Error(lerr))
	} else if !covered {
		if _, err := s.txRepo.UpdateStatus(ctx, s.ledger.Pool(), record.ID, models.TxStatusPending, models.TxStatusBlockedLiquidity); err != nil {
			s.log.Error("failed to block withdrawal on liquidity", zap.Error(err))
		} else {
			record.Status = models.TxStatusBlockedLiquidity
		}
		s.alerts.Alert(ctx, "warn", "payout-blocked:"+record.ID.String(),
			fmt.Sprintf("withdrawal %s for %s TON blocked on liquidity", record.ID, ton.FormatTON(record.AmountNano)))
		_ = s.auditRepo.Log(ctx, models.AuditLog{
			ActorUserID: &userID,
			ActorType:   "user",
			Action:      "withdraw_blocked_liquidity",
			EntityType:  "transaction",
			EntityID:    &record.ID,
			Meta:        map[string]any{"amount_nano": record.AmountNano, "destination": dest},
		})
		// The record stays queued; the payout worker retries on its next
		// tick. The caller still gets a hard error.
		return nil, ErrInsufficientLiquidity
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "withdraw_requested",
		EntityType:  "transaction",
		EntityID:    &record.ID,
		Meta:        map[string]any{"amount_nano": record.AmountNano, "destination": dest, "status": record.Status},
	})
	_ = s.publisher.Publish(ctx, "events:finance", events.Event{
		Type: events.EventPayoutQueued,
		Payload: map[string]any{
			"transaction_id": record.ID.String(),
			"user_id":        userID.String(),
			"amount_nano":    record.AmountNano,
			"status":         record.Status,
		},
	})

	s.log.Info("withdrawal admitted",
		zap.String("user_id", userID.String()),
		zap.String("transaction_id", record.ID.String()),
		zap.Int64("amount_nano", record.AmountNano),
		zap.String("status", record.Status),
	)
	return record, nil
}
