package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/db"
	"github.com/tonplace/backend/internal/events"
	"github.com/tonplace/backend/internal/models"
	"github.com/tonplace/backend/internal/ton"
)

// PayoutWorker executes admitted OUT records against the hot wallet. One
// tick at a time per process; per-record advisory locks keep replicas from
// double-broadcasting.
type PayoutWorker struct {
	pool         *pgxpool.Pool
	txRepo       txStore
	transferRepo transferStore
	escrowRepo   escrowStore
	dealRepo     dealStore
	liquidity    liquidityGate
	sweep        dealSweeper
	alerts       alerter
	notifier     Notifier
	notifRepo    onceReserver
	tonClient    ton.Client
	publisher    events.Publisher
	cfg          *config.Config
	log          *zap.Logger

	running atomic.Bool
}

func NewPayoutWorker(
	pool *pgxpool.Pool,
	txRepo txStore,
	transferRepo transferStore,
	escrowRepo escrowStore,
	dealRepo dealStore,
	liquidity liquidityGate,
	sweep dealSweeper,
	alerts alerter,
	notifier Notifier,
	notifRepo onceReserver,
	tonClient ton.Client,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *PayoutWorker {
	return &PayoutWorker{
		pool:         pool,
		txRepo:       txRepo,
		transferRepo: transferRepo,
		escrowRepo:   escrowRepo,
		dealRepo:     dealRepo,
		liquidity:    liquidity,
		sweep:        sweep,
		alerts:       alerts,
		notifier:     notifier,
		notifRepo:    notifRepo,
		tonClient:    tonClient,
		publisher:    publisher,
		cfg:          cfg,
		log:          log,
	}
}

// Run blocks until ctx is canceled, executing one tick per poll interval.
func (w *PayoutWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PayoutPollInterval)
	defer ticker.Stop()

	w.log.Info("payout worker started", zap.Duration("interval", w.cfg.PayoutPollInterval))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("payout worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick processes one batch. Overlapping ticks are dropped, not queued.
func (w *PayoutWorker) Tick(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		w.log.Debug("previous tick still running, skipping")
		return
	}
	defer w.running.Store(false)

	records, err := w.txRepo.ListExecutable(ctx, w.cfg.PayoutBatchSize)
	if err != nil {
		w.log.Error("list executable payouts", zap.Error(err))
		return
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		w.processOne(ctx, rec)
	}
}

func (w *PayoutWorker) processOne(ctx context.Context, rec *models.Transaction) {
	release, acquired, err := db.TryAdvisoryLock(ctx, w.pool, "payout:"+rec.ID.String())
	if err != nil {
		w.log.Error("payout advisory lock", zap.Error(err), zap.String("id", rec.ID.String()))
		return
	}
	if !acquired {
		return
	}
	defer release()

	// Re-read under the lock: another replica may have moved the record
	// between listing and locking.
	rec, err = w.txRepo.GetByID(ctx, rec.ID)
	if err != nil {
		w.log.Error("reload payout record", zap.Error(err))
		return
	}
	if rec.Status != models.TxStatusPending && rec.Status != models.TxStatusBlockedLiquidity {
		return
	}

	if reason := validatePayout(rec); reason != "" {
		w.failPermanently(ctx, rec, "PAYOUT_INVALID: "+reason)
		return
	}

	if err := w.execute(ctx, rec); err != nil {
		w.log.Error("payout execution failed",
			zap.Error(err),
			zap.String("id", rec.ID.String()),
			zap.Int64("amount_nano", rec.AmountNano))
	}
}

// validatePayout returns a non-empty reason when the record can never be
// executed.
func validatePayout(rec *models.Transaction) string {
	if rec.Direction != models.TxDirectionOut {
		return "not an outgoing record"
	}
	if rec.Type != models.TxTypePayout && rec.Type != models.TxTypeRefund {
		return "unexpected type " + rec.Type
	}
	if rec.Address == nil || *rec.Address == "" {
		return "missing destination address"
	}
	if rec.AmountNano <= 0 {
		return "non-positive amount"
	}
	return ""
}

func (w *PayoutWorker) execute(ctx context.Context, rec *models.Transaction) error {
	// An earlier attempt may already be in flight for this record.
	if live, err := w.transferRepo.GetLiveByKey(ctx, rec.IdempotencyKey); err != nil {
		return err
	} else if live != nil && live.Status != models.TransferStatusCreated {
		return w.adoptTransfer(ctx, rec, live)
	}

	need := rec.AmountNano + w.cfg.PayoutNetworkFeeNano
	covered, err := w.liquidity.CanCover(ctx, rec.UserID, need)
	if err != nil {
		return fmt.Errorf("liquidity check: %w", err)
	}
	if !covered && rec.DealID != nil && w.cfg.SweepEnabled {
		if swept, serr := w.sweep.SweepForDeal(ctx, *rec.DealID, need); serr != nil {
			w.log.Warn("sweep fallback failed", zap.Error(serr), zap.String("deal_id", rec.DealID.String()))
		} else if swept > 0 {
			covered, err = w.liquidity.CanCover(ctx, rec.UserID, need)
			if err != nil {
				return fmt.Errorf("liquidity recheck: %w", err)
			}
		}
	}
	if !covered {
		w.blockOnLiquidity(ctx, rec)
		return nil
	}
	if rec.Status == models.TxStatusBlockedLiquidity {
		ok, err := w.txRepo.UpdateStatus(ctx, w.pool, rec.ID, models.TxStatusBlockedLiquidity, models.TxStatusPending)
		if err != nil || !ok {
			return fmt.Errorf("unblock record: %w", err)
		}
		rec.Status = models.TxStatusPending
	}

	transfer := &models.TonTransfer{
		FromAddr:       w.cfg.TONHotWalletAddress,
		ToAddr:         *rec.Address,
		AmountNano:     rec.AmountNano,
		Status:         models.TransferStatusCreated,
		Type:           transferTypeFor(rec.Type),
		IdempotencyKey: rec.IdempotencyKey,
	}
	transfer, err = w.transferRepo.Ensure(ctx, transfer)
	if err != nil {
		return err
	}
	if err := w.txRepo.SetTransfer(ctx, w.pool, rec.ID, transfer.ID); err != nil {
		return err
	}
	if transfer.Status != models.TransferStatusCreated {
		return w.adoptTransfer(ctx, rec, transfer)
	}

	if w.cfg.PayoutDryRun {
		return w.simulate(ctx, rec, transfer)
	}

	txHash, err := w.tonClient.SendTransfer(ctx, w.cfg.TONHotWalletSeed, *rec.Address, rec.AmountNano, rec.Type+":"+rec.ID.String())
	if err != nil {
		if _, mferr := w.transferRepo.MarkFailed(ctx, w.pool, transfer.ID, transfer.Status, err.Error()); mferr != nil {
			w.log.Error("mark transfer failed", zap.Error(mferr))
		}
		// A send error does not prove the message missed the chain: the
		// broadcast may have landed despite the client timing out, and a
		// re-send would pay twice. There is no automatic retry: the record
		// fails hard and an operator resets it after checking the chain.
		w.failPermanently(ctx, rec, "broadcast failed: "+err.Error())
		return fmt.Errorf("broadcast: %w", err)
	}

	if _, err := w.transferRepo.MarkBroadcasted(ctx, w.pool, transfer.ID, transfer.Status, txHash); err != nil {
		w.log.Error("mark transfer broadcasted", zap.Error(err))
	}
	if err := w.txRepo.SetTxHash(ctx, w.pool, rec.ID, txHash); err != nil {
		w.log.Error("set record tx hash", zap.Error(err))
	}
	if _, err := w.txRepo.UpdateStatus(ctx, w.pool, rec.ID, models.TxStatusPending, models.TxStatusAwaitingConfirmation); err != nil {
		return err
	}

	_ = w.publisher.Publish(ctx, "events:finance", events.Event{
		Type: events.EventPayoutSent,
		Payload: map[string]any{
			"transaction_id": rec.ID.String(),
			"user_id":        rec.UserID.String(),
			"tx_hash":        txHash,
			"amount_nano":    rec.AmountNano,
		},
	})
	w.log.Info("payout broadcasted",
		zap.String("transaction_id", rec.ID.String()),
		zap.String("tx_hash", txHash),
		zap.Int64("amount_nano", rec.AmountNano))
	return nil
}

// adoptTransfer re-syncs a record whose transfer already advanced; happens
// after a crash between broadcast and the record update.
func (w *PayoutWorker) adoptTransfer(ctx context.Context, rec *models.Transaction, transfer *models.TonTransfer) error {
	if transfer.TxHash != nil && rec.TxHash == nil {
		if err := w.txRepo.SetTxHash(ctx, w.pool, rec.ID, *transfer.TxHash); err != nil {
			w.log.Error("adopt tx hash", zap.Error(err))
		}
	}
	switch transfer.Status {
	case models.TransferStatusBroadcasted, models.TransferStatusConfirmed, models.TransferStatusCompleted, models.TransferStatusSimulated:
		if rec.Status == models.TxStatusPending || rec.Status == models.TxStatusBlockedLiquidity {
			if _, err := w.txRepo.UpdateStatus(ctx, w.pool, rec.ID, rec.Status, models.TxStatusAwaitingConfirmation); err != nil {
				return err
			}
			w.log.Info("record re-synced to in-flight transfer",
				zap.String("transaction_id", rec.ID.String()),
				zap.String("transfer_status", transfer.Status))
		}
	}
	return nil
}

// simulate marks the payout completed without touching the network.
func (w *PayoutWorker) simulate(ctx context.Context, rec *models.Transaction, transfer *models.TonTransfer) error {
	if _, err := w.transferRepo.UpdateStatus(ctx, w.pool, transfer.ID, transfer.Status, models.TransferStatusSimulated); err != nil {
		return err
	}
	if _, err := w.transferRepo.UpdateStatus(ctx, w.pool, transfer.ID, models.TransferStatusSimulated, models.TransferStatusCompleted); err != nil {
		return err
	}
	if _, err := w.txRepo.UpdateStatus(ctx, w.pool, rec.ID, rec.Status, models.TxStatusCompleted); err != nil {
		return err
	}
	if _, err := w.txRepo.CompleteChildren(ctx, w.pool, rec.ID); err != nil {
		w.log.Error("complete fee children", zap.Error(err))
	}
	w.finishEscrow(ctx, rec)
	w.notifyCompleted(ctx, rec)
	w.log.Info("payout simulated", zap.String("transaction_id", rec.ID.String()))
	return nil
}

// blockOnLiquidity parks the record; both the admin chat and the affected
// user hear about it exactly once per record.
func (w *PayoutWorker) blockOnLiquidity(ctx context.Context, rec *models.Transaction) {
	if rec.Status == models.TxStatusPending {
		if _, err := w.txRepo.UpdateStatus(ctx, w.pool, rec.ID, models.TxStatusPending, models.TxStatusBlockedLiquidity); err != nil {
			w.log.Error("block record on liquidity", zap.Error(err))
			return
		}
		rec.Status = models.TxStatusBlockedLiquidity
	}
	w.alerts.Alert(ctx, "warn", "payout-blocked:"+rec.ID.String(),
		fmt.Sprintf("payout %s for %s TON blocked on hot wallet liquidity", rec.ID, ton.FormatTON(rec.AmountNano)))
	if won, err := w.notifRepo.ReserveOnce(ctx, "payout-blocked-user:"+rec.ID.String(), "user_notify", &rec.UserID); err == nil && won {
		_ = w.notifier.NotifyUser(ctx, rec.UserID,
			"Выплата отложена: недостаточно средств на горячем кошельке. Она уйдёт автоматически, как только средства появятся.")
	}
	_ = w.publisher.Publish(ctx, "events:finance", events.Event{
		Type: events.EventPayoutBlocked,
		Payload: map[string]any{
			"transaction_id": rec.ID.String(),
			"user_id":        rec.UserID.String(),
			"amount_nano":    rec.AmountNano,
		},
	})
}

// failPermanently moves the record to failed, cancels its fee children and
// fails the linked escrow.
func (w *PayoutWorker) failPermanently(ctx context.Context, rec *models.Transaction, reason string) {
	ok, err := w.txRepo.MarkFailed(ctx, w.pool, rec.ID, rec.Status, reason)
	if err != nil || !ok {
		w.log.Error("mark payout failed", zap.Error(err), zap.Bool("moved", ok))
		return
	}
	if _, err := w.txRepo.CancelChildren(ctx, w.pool, rec.ID); err != nil {
		w.log.Error("cancel fee children", zap.Error(err))
	}
	if rec.DealID != nil {
		if escrow, eerr := w.escrowRepo.GetByDealID(ctx, *rec.DealID); eerr == nil && escrow != nil {
			if _, serr := w.escrowRepo.UpdateStatus(ctx, w.pool, escrow.ID, escrow.Status, models.EscrowStatusFailed); serr != nil {
				w.log.Error("fail escrow", zap.Error(serr))
			}
		}
	}
	w.alerts.Alert(ctx, "critical", "payout-failed:"+rec.ID.String(),
		fmt.Sprintf("payout %s failed permanently: %s", rec.ID, reason))
	_ = w.notifier.NotifyUser(ctx, rec.UserID, "Ваша выплата не прошла, служба поддержки уже уведомлена.")
	w.log.Error("payout failed permanently",
		zap.String("transaction_id", rec.ID.String()),
		zap.String("reason", reason))
}

// finishEscrow advances the escrow and deal to their terminal branch after
// the payout record completed.
func (w *PayoutWorker) finishEscrow(ctx context.Context, rec *models.Transaction) {
	if rec.DealID == nil {
		return
	}
	escrow, err := w.escrowRepo.GetByDealID(ctx, *rec.DealID)
	if err != nil || escrow == nil {
		return
	}
	switch rec.Type {
	case models.TxTypePayout:
		if escrow.Status == models.EscrowStatusPayoutPending {
			_, _ = w.escrowRepo.UpdateStatus(ctx, w.pool, escrow.ID, escrow.Status, models.EscrowStatusPaidOut)
			_, _ = w.dealRepo.UpdateStatus(ctx, w.pool, *rec.DealID, models.DealStatusDelivered, models.DealStatusCompleted)
		}
	case models.TxTypeRefund:
		if escrow.Status == models.EscrowStatusRefundPending {
			_, _ = w.escrowRepo.UpdateStatus(ctx, w.pool, escrow.ID, escrow.Status, models.EscrowStatusRefunded)
			_, _ = w.dealRepo.UpdateStatus(ctx, w.pool, *rec.DealID, models.DealStatusCancelled, models.DealStatusRefunded)
		}
	}
}

func (w *PayoutWorker) notifyCompleted(ctx context.Context, rec *models.Transaction) {
	_ = w.notifier.NotifyUser(ctx, rec.UserID,
		fmt.Sprintf("Выплата %s TON выполнена.", ton.FormatTON(rec.AmountNano)))
	_ = w.publisher.Publish(ctx, "events:finance", events.Event{
		Type: events.EventPayoutCompleted,
		Payload: map[string]any{
			"transaction_id": rec.ID.String(),
			"user_id":        rec.UserID.String(),
			"amount_nano":    rec.AmountNano,
		},
	})
}

func transferTypeFor(txType string) string {
	if txType == models.TxTypeRefund {
		return models.TransferTypeRefund
	}
	return models.TransferTypePayout
}
