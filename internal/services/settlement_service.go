package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/db"
	"github.com/tonplace/backend/internal/events"
	"github.com/tonplace/backend/internal/ledger"
	"github.com/tonplace/backend/internal/models"
	"github.com/tonplace/backend/internal/repositories"
)

// DeliveryChecker verifies the ad placement still stands at the end of the
// hold period.
type DeliveryChecker interface {
	VerifyDelivery(ctx context.Context, deal *models.Deal, post *models.DealPost) (delivered bool, err error)
}

// SettlementService converts terminal deal outcomes into queued money
// movements: delivered deals into publisher payouts, cancelled funded deals
// into advertiser refunds. Каждая сделка рассчитывается ровно один раз —
// это держит guard `payout_tx_id IS NULL` на эскроу.
type SettlementService struct {
	pool       *pgxpool.Pool
	ledger     *ledger.Ledger
	txRepo     *repositories.TransactionRepo
	escrowRepo *repositories.EscrowRepo
	dealRepo   *repositories.DealRepo
	walletRepo *repositories.WalletRepo
	auditRepo  *repositories.AuditRepo
	checker    DeliveryChecker
	alerts     *AlertService
	notifier   Notifier
	publisher  events.Publisher
	cfg        *config.Config
	log        *zap.Logger

	running atomic.Bool
}

func NewSettlementService(
	pool *pgxpool.Pool,
	ldg *ledger.Ledger,
	txRepo *repositories.TransactionRepo,
	escrowRepo *repositories.EscrowRepo,
	dealRepo *repositories.DealRepo,
	walletRepo *repositories.WalletRepo,
	auditRepo *repositories.AuditRepo,
	checker DeliveryChecker,
	alerts *AlertService,
	notifier Notifier,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *SettlementService {
	return &SettlementService{
		pool:       pool,
		ledger:     ldg,
		txRepo:     txRepo,
		escrowRepo: escrowRepo,
		dealRepo:   dealRepo,
		walletRepo: walletRepo,
		auditRepo:  auditRepo,
		checker:    checker,
		alerts:     alerts,
		notifier:   notifier,
		publisher:  publisher,
		cfg:        cfg,
		log:        log,
	}
}

func (s *SettlementService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SettlementPollInterval)
	defer ticker.Stop()

	s.log.Info("settlement service started", zap.Duration("interval", s.cfg.SettlementPollInterval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("settlement service stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *SettlementService) Tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)

	release, acquired, err := db.TryAdvisoryLock(ctx, s.pool, "settlement")
	if err != nil {
		s.log.Error("settlement advisory lock", zap.Error(err))
		return
	}
	if !acquired {
		return
	}
	defer release()

	s.verifyHolds(ctx)
	s.settleDelivered(ctx)
	s.refundCancelled(ctx)
	s.expirePayments(ctx)
}

// PlatformFeeNano computes the platform's cut from a settled amount.
func PlatformFeeNano(amountNano int64, feeBPS int) int64 {
	return amountNano * int64(feeBPS) / 10_000
}

// settlementKey pins the payout/refund for a deal to one ledger record.
func settlementKey(kind string, dealID uuid.UUID) string {
	h := sha256.Sum256([]byte(kind + "|" + dealID.String()))
	return kind + ":" + hex.EncodeToString(h[:16])
}

// verifyHolds moves deals whose hold period elapsed to delivered or
// cancelled, based on the delivery check.
func (s *SettlementService) verifyHolds(ctx context.Context) {
	deals, err := s.dealRepo.ListHoldExpired(ctx, s.cfg.PayoutBatchSize)
	if err != nil {
		s.log.Error("list hold-expired deals", zap.Error(err))
		return
	}
	for _, deal := range deals {
		post, err := s.dealRepo.GetPost(ctx, deal.ID)
		if err != nil {
			s.log.Error("load deal post", zap.Error(err), zap.String("deal_id", deal.ID.String()))
			continue
		}

		delivered := false
		if s.checker != nil && post != nil {
			delivered, err = s.checker.VerifyDelivery(ctx, deal, post)
			if err != nil {
				// Transient fetch failure: keep the deal in hold and
				// try again next tick.
				s.log.Warn("delivery check failed, retrying later",
					zap.Error(err), zap.String("deal_id", deal.ID.String()))
				continue
			}
		}

		if delivered {
			if _, err := s.dealRepo.UpdateStatus(ctx, s.pool, deal.ID, models.DealStatusHoldVerification, models.DealStatusDelivered); err != nil {
				s.log.Error("mark deal delivered", zap.Error(err))
			}
		} else {
			if _, err := s.dealRepo.UpdateStatus(ctx, s.pool, deal.ID, models.DealStatusHoldVerification, models.DealStatusCancelled); err != nil {
				s.log.Error("cancel undelivered deal", zap.Error(err))
				continue
			}
			_ = s.notifier.NotifyUser(ctx, deal.AdvertiserUserID,
				"Размещение не прошло проверку, средства будут возвращены.")
			s.alerts.Alert(ctx, "info", "",
				fmt.Sprintf("deal %s failed delivery verification, refunding", deal.ID))
		}
	}
}

// settleDelivered queues publisher payouts for delivered deals.
func (s *SettlementService) settleDelivered(ctx context.Context) {
	deals, err := s.dealRepo.ListByStatus(ctx, models.DealStatusDelivered, s.cfg.PayoutBatchSize)
	if err != nil {
		s.log.Error("list delivered deals", zap.Error(err))
		return
	}
	for _, deal := range deals {
		if err := s.queuePayout(ctx, deal); err != nil {
			s.log.Error("queue payout", zap.Error(err), zap.String("deal_id", deal.ID.String()))
		}
	}
}

func (s *SettlementService) queuePayout(ctx context.Context, deal *models.Deal) error {
	wallet, err := s.walletRepo.GetActiveWallet(ctx, deal.OwnerUserID)
	if err != nil || wallet == nil || !wallet.Verified {
		s.alerts.Alert(ctx, "warn", "payout-no-wallet:"+deal.ID.String(),
			fmt.Sprintf("deal %s settled but publisher has no connected wallet", deal.ID))
		return ErrWalletNotConnected
	}
	dest := wallet.AddressFriendly

	var record *models.Transaction
	err = s.ledger.WithUserLock(ctx, deal.OwnerUserID, func(tx pgx.Tx) error {
		escrow, err := s.escrowRepo.GetByDealIDForUpdate(ctx, tx, deal.ID)
		if err != nil {
			return err
		}
		if escrow.Status != models.EscrowStatusPaidHeld || escrow.PayoutTxID != nil {
			// Already settled or not yet fully funded.
			return nil
		}

		fee := PlatformFeeNano(escrow.AmountPaidNano, deal.PlatformFeeBPS)
		amount := escrow.AmountPaidNano - fee
		if amount <= 0 {
			return fmt.Errorf("payout amount %d after fee is not positive", amount)
		}

		record = &models.Transaction{
			UserID:         deal.OwnerUserID,
			Type:           models.TxTypePayout,
			Direction:      models.TxDirectionOut,
			Status:         models.TxStatusPending,
			AmountNano:     amount,
			Currency:       "TON",
			DealID:         &deal.ID,
			Address:        &dest,
			IdempotencyKey: settlementKey("payout", deal.ID),
		}
		if err := s.txRepo.Create(ctx, tx, record); err != nil {
			if repositories.IsUniqueViolation(err) {
				record = nil
				return nil
			}
			return err
		}

		// The escrow release is the owner's earned credit; the payout
		// record above immediately reserves it, so the withdrawable
		// balance stays flat while the transfer is in flight.
		credit := &models.Transaction{
			UserID:         deal.OwnerUserID,
			Type:           models.TxTypePayout,
			Direction:      models.TxDirectionIn,
			Status:         models.TxStatusCompleted,
			AmountNano:     escrow.AmountPaidNano,
			Currency:       "TON",
			DealID:         &deal.ID,
			ParentID:       &record.ID,
			IdempotencyKey: record.IdempotencyKey + ":credit",
		}
		if err := s.txRepo.Create(ctx, tx, credit); err != nil {
			return err
		}

		if fee > 0 {
			feeRecord := &models.Transaction{
				UserID:         deal.OwnerUserID,
				Type:           models.TxTypeFee,
				Direction:      models.TxDirectionOut,
				Status:         models.TxStatusCompleted,
				AmountNano:     fee,
				Currency:       "TON",
				DealID:         &deal.ID,
				ParentID:       &record.ID,
				IdempotencyKey: record.IdempotencyKey + ":platform-fee",
			}
			if err := s.txRepo.Create(ctx, tx, feeRecord); err != nil {
				return err
			}
		}

		ok, err := s.escrowRepo.SetPayoutTx(ctx, tx, escrow.ID, record.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("escrow %s refused payout pin", escrow.ID)
		}
		return nil
	})
	if err != nil || record == nil {
		return err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "payout_queued",
		EntityType: "deal",
		EntityID:   &deal.ID,
		Meta:       map[string]any{"transaction_id": record.ID, "amount_nano": record.AmountNano},
	})
	_ = s.publisher.Publish(ctx, "events:finance", events.Event{
		Type: events.EventPayoutQueued,
		Payload: map[string]any{
			"deal_id":        deal.ID.String(),
			"transaction_id": record.ID.String(),
			"amount_nano":    record.AmountNano,
		},
	})
	s.log.Info("deal payout queued",
		zap.String("deal_id", deal.ID.String()),
		zap.String("transaction_id", record.ID.String()),
		zap.Int64("amount_nano", record.AmountNano))
	return nil
}

// refundCancelled queues refunds for cancelled deals that already hold
// advertiser money.
func (s *SettlementService) refundCancelled(ctx context.Context) {
	deals, err := s.dealRepo.ListByStatus(ctx, models.DealStatusCancelled, s.cfg.PayoutBatchSize)
	if err != nil {
		s.log.Error("list cancelled deals", zap.Error(err))
		return
	}
	for _, deal := range deals {
		if err := s.QueueRefund(ctx, deal); err != nil {
			s.log.Error("queue refund", zap.Error(err), zap.String("deal_id", deal.ID.String()))
		}
	}
}

// QueueRefund creates the refund record for whatever the escrow collected.
func (s *SettlementService) QueueRefund(ctx context.Context, deal *models.Deal) error {
	wallet, err := s.walletRepo.GetActiveWallet(ctx, deal.AdvertiserUserID)
	if err != nil || wallet == nil || !wallet.Verified {
		s.alerts.Alert(ctx, "warn", "refund-no-wallet:"+deal.ID.String(),
			fmt.Sprintf("deal %s cancelled but advertiser has no connected wallet", deal.ID))
		return ErrWalletNotConnected
	}
	dest := wallet.AddressFriendly

	var record *models.Transaction
	err = s.ledger.WithUserLock(ctx, deal.AdvertiserUserID, func(tx pgx.Tx) error {
		escrow, err := s.escrowRepo.GetByDealIDForUpdate(ctx, tx, deal.ID)
		if err != nil {
			return err
		}
		if escrow.PayoutTxID != nil || escrow.RefundTxID != nil {
			return nil
		}
		if escrow.AmountPaidNano <= 0 {
			// Nothing was ever paid: close the escrow without a record.
			_, _ = s.escrowRepo.UpdateStatus(ctx, tx, escrow.ID, escrow.Status, models.EscrowStatusFailed)
			_, _ = s.dealRepo.UpdateStatus(ctx, tx, deal.ID, models.DealStatusCancelled, models.DealStatusRefunded)
			return nil
		}

		record = &models.Transaction{
			UserID:         deal.AdvertiserUserID,
			Type:           models.TxTypeRefund,
			Direction:      models.TxDirectionOut,
			Status:         models.TxStatusPending,
			AmountNano:     escrow.AmountPaidNano,
			Currency:       "TON",
			DealID:         &deal.ID,
			Address:        &dest,
			IdempotencyKey: settlementKey("refund", deal.ID),
		}
		if err := s.txRepo.Create(ctx, tx, record); err != nil {
			if repositories.IsUniqueViolation(err) {
				record = nil
				return nil
			}
			return err
		}

		// Returned escrow money credits the advertiser; the refund record
		// reserves it until the transfer lands.
		credit := &models.Transaction{
			UserID:         deal.AdvertiserUserID,
			Type:           models.TxTypeRefund,
			Direction:      models.TxDirectionIn,
			Status:         models.TxStatusCompleted,
			AmountNano:     escrow.AmountPaidNano,
			Currency:       "TON",
			DealID:         &deal.ID,
			ParentID:       &record.ID,
			IdempotencyKey: record.IdempotencyKey + ":credit",
		}
		if err := s.txRepo.Create(ctx, tx, credit); err != nil {
			return err
		}

		ok, err := s.escrowRepo.SetRefundTx(ctx, tx, escrow.ID, record.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("escrow %s refused refund pin", escrow.ID)
		}
		return nil
	})
	if err != nil || record == nil {
		return err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "refund_queued",
		EntityType: "deal",
		EntityID:   &deal.ID,
		Meta:       map[string]any{"transaction_id": record.ID, "amount_nano": record.AmountNano},
	})
	s.log.Info("deal refund queued",
		zap.String("deal_id", deal.ID.String()),
		zap.String("transaction_id", record.ID.String()),
		zap.Int64("amount_nano", record.AmountNano))
	return nil
}

// expirePayments cancels escrows whose payment deadline passed without full
// funding; anything partially paid goes back through the refund path.
func (s *SettlementService) expirePayments(ctx context.Context) {
	escrows, err := s.escrowRepo.ListExpired(ctx, s.cfg.PayoutBatchSize)
	if err != nil {
		s.log.Error("list expired escrows", zap.Error(err))
		return
	}
	for _, escrow := range escrows {
		deal, err := s.dealRepo.GetByID(ctx, escrow.DealID)
		if err != nil || deal == nil {
			continue
		}
		if deal.Status == models.DealStatusAwaitingPayment {
			if _, err := s.dealRepo.UpdateStatus(ctx, s.pool, deal.ID, deal.Status, models.DealStatusCancelled); err != nil {
				s.log.Error("cancel expired deal", zap.Error(err))
				continue
			}
			deal.Status = models.DealStatusCancelled
			_ = s.notifier.NotifyUser(ctx, deal.AdvertiserUserID,
				"Срок оплаты сделки истёк, сделка отменена.")
		}
		if escrow.AmountPaidNano > 0 {
			if err := s.QueueRefund(ctx, deal); err != nil {
				s.log.Error("refund expired escrow", zap.Error(err))
			}
		} else {
			_, _ = s.escrowRepo.UpdateStatus(ctx, s.pool, escrow.ID, escrow.Status, models.EscrowStatusFailed)
			_, _ = s.dealRepo.UpdateStatus(ctx, s.pool, deal.ID, models.DealStatusCancelled, models.DealStatusRefunded)
		}
	}
}
