package watcher

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/db"
	"github.com/tonplace/backend/internal/events"
	"github.com/tonplace/backend/internal/models"
	"github.com/tonplace/backend/internal/repositories"
	"github.com/tonplace/backend/internal/services"
	"github.com/tonplace/backend/internal/ton"
)

// Узкие срезы зависимостей: наблюдатель объявляет только методы, которые
// зовёт сам. В проде — pgx-репозитории, в тестах — in-memory подмены.

type txStore interface {
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]*models.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error)
	AddReceived(ctx context.Context, q repositories.Querier, id uuid.UUID, deltaNano int64) (int64, error)
	UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error)
	ListAwaitingConfirmation(ctx context.Context, limit int) ([]*models.Transaction, error)
	CompleteChildren(ctx context.Context, q repositories.Querier, parentID uuid.UUID) (int64, error)
}

type transferStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.TonTransfer, error)
	UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error)
}

type escrowStore interface {
	ListAwaitingPayment(ctx context.Context, limit int) ([]*models.Escrow, error)
	GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.Escrow, error)
	GetByDealIDForUpdate(ctx context.Context, tx pgx.Tx, dealID uuid.UUID) (*models.Escrow, error)
	AddPaid(ctx context.Context, q repositories.Querier, id uuid.UUID, deltaNano int64) (int64, error)
	UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error)
}

type dealStore interface {
	UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error)
}

type walletStore interface {
	GetDepositWallet(ctx context.Context, id uuid.UUID) (*models.DepositWallet, error)
}

type eventStore interface {
	InsertOnce(ctx context.Context, q repositories.Querier, e *repositories.DepositEvent) (bool, error)
}

type onceReserver interface {
	ReserveOnce(ctx context.Context, key, kind string, recipientID *uuid.UUID) (bool, error)
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// cursorStore запоминает последний обработанный LT по адресу.
type cursorStore interface {
	LastLT(ctx context.Context, addr string) uint64
	StoreLT(ctx context.Context, addr string, lt uint64)
}

// Watcher reconciles the database with the chain: it credits observed
// deposits and confirms broadcasted payouts. Всё, что уже видели,
// отбрасывается по tx_hash — повторный проход по той же истории безопасен.
type Watcher struct {
	pool         *pgxpool.Pool
	db           beginner
	cursor       cursorStore
	tonClient    ton.Client
	txRepo       txStore
	transferRepo transferStore
	escrowRepo   escrowStore
	dealRepo     dealStore
	walletRepo   walletStore
	eventRepo    eventStore
	notifRepo    onceReserver
	notifier     services.Notifier
	publisher    events.Publisher
	cfg          *config.Config
	log          *zap.Logger

	running atomic.Bool
}

func New(
	pool *pgxpool.Pool,
	rdb *redis.Client,
	tonClient ton.Client,
	txRepo *repositories.TransactionRepo,
	transferRepo *repositories.TransferRepo,
	escrowRepo *repositories.EscrowRepo,
	dealRepo *repositories.DealRepo,
	walletRepo *repositories.WalletRepo,
	eventRepo *repositories.DepositEventRepo,
	notifRepo *repositories.NotificationRepo,
	notifier services.Notifier,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *Watcher {
	return &Watcher{
		pool:         pool,
		db:           pool,
		cursor:       &redisCursor{rdb: rdb, log: log},
		tonClient:    tonClient,
		txRepo:       txRepo,
		transferRepo: transferRepo,
		escrowRepo:   escrowRepo,
		dealRepo:     dealRepo,
		walletRepo:   walletRepo,
		eventRepo:    eventRepo,
		notifRepo:    notifRepo,
		notifier:     notifier,
		publisher:    publisher,
		cfg:          cfg,
		log:          log,
	}
}

func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info("chain watcher started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("chain watcher stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

func (w *Watcher) Tick(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	defer w.running.Store(false)

	release, acquired, err := db.TryAdvisoryLock(ctx, w.pool, "chain-watcher")
	if err != nil {
		w.log.Error("watcher advisory lock", zap.Error(err))
		return
	}
	if !acquired {
		return
	}
	defer release()

	w.scanDeposits(ctx)
	w.confirmOutgoing(ctx)
}

// --- Cursor ---
// Последний обработанный LT по адресу живёт в Redis; потеря курсора не
// страшна, дедупликация по tx_hash переварит повторный проход.

type redisCursor struct {
	rdb *redis.Client
	log *zap.Logger
}

func cursorKey(addr string) string {
	return "watcher:lt:" + addr
}

func (c *redisCursor) LastLT(ctx context.Context, addr string) uint64 {
	v, err := c.rdb.Get(ctx, cursorKey(addr)).Result()
	if err != nil {
		return 0
	}
	lt, _ := strconv.ParseUint(v, 10, 64)
	return lt
}

func (c *redisCursor) StoreLT(ctx context.Context, addr string, lt uint64) {
	if err := c.rdb.Set(ctx, cursorKey(addr), strconv.FormatUint(lt, 10), 0).Err(); err != nil {
		c.log.Warn("store watcher cursor", zap.Error(err), zap.String("addr", addr))
	}
}

// --- Deposits ---

func (w *Watcher) scanDeposits(ctx context.Context) {
	escrows, err := w.escrowRepo.ListAwaitingPayment(ctx, w.cfg.PayoutBatchSize)
	if err != nil {
		w.log.Error("list awaiting escrows", zap.Error(err))
		return
	}
	for _, escrow := range escrows {
		if ctx.Err() != nil {
			return
		}
		if err := w.scanEscrowDeposits(ctx, escrow); err != nil {
			w.log.Error("scan escrow deposits", zap.Error(err), zap.String("deal_id", escrow.DealID.String()))
		}
	}
}

func (w *Watcher) scanEscrowDeposits(ctx context.Context, escrow *models.Escrow) error {
	wallet, err := w.walletRepo.GetDepositWallet(ctx, escrow.DepositWalletID)
	if err != nil {
		return fmt.Errorf("deposit wallet: %w", err)
	}

	records, err := w.tonClient.ListTransactions(ctx, wallet.Address, 32)
	if err != nil {
		return fmt.Errorf("list transactions for %s: %w", wallet.Address, err)
	}

	cursor := w.cursor.LastLT(ctx, wallet.Address)
	maxLT := cursor
	failed := false
	for _, rec := range records {
		if !rec.Incoming || rec.AmountNano <= 0 {
			continue
		}
		if rec.LT <= cursor {
			continue
		}
		if err := w.applyDeposit(ctx, escrow, rec); err != nil {
			w.log.Error("apply deposit", zap.Error(err), zap.String("tx_hash", rec.Hash))
			failed = true
			continue
		}
		if rec.LT > maxLT {
			maxLT = rec.LT
		}
	}
	// A failed apply has no deposit_events row yet, so the cursor must not
	// move past it: hold it back and re-list the whole window next tick.
	// Records that did apply replay as no-ops through the tx_hash dedupe.
	if !failed && maxLT > cursor {
		w.cursor.StoreLT(ctx, wallet.Address, maxLT)
	}
	return nil
}

func (w *Watcher) applyDeposit(ctx context.Context, escrow *models.Escrow, rec ton.TxRecord) error {
	depositTx, err := w.depositRecord(ctx, escrow.DealID)
	if err != nil {
		return err
	}
	if depositTx == nil {
		return fmt.Errorf("no deposit record for deal %s", escrow.DealID)
	}

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fresh, err := w.eventRepo.InsertOnce(ctx, tx, &repositories.DepositEvent{
		TxHash:        rec.Hash,
		DealID:        escrow.DealID,
		TransactionID: depositTx.ID,
		FromAddr:      rec.From,
		AmountNano:    rec.AmountNano,
	})
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}

	// The statuses captured before the loop are stale by the second event
	// of the same scan; work off rows re-read under the transaction.
	cur, err := w.escrowRepo.GetByDealIDForUpdate(ctx, tx, escrow.DealID)
	if err != nil {
		return fmt.Errorf("reload escrow: %w", err)
	}
	dep, err := w.txRepo.GetByIDForUpdate(ctx, tx, depositTx.ID)
	if err != nil {
		return fmt.Errorf("reload deposit record: %w", err)
	}

	total, err := w.txRepo.AddReceived(ctx, tx, dep.ID, rec.AmountNano)
	if err != nil {
		return err
	}
	if _, err := w.escrowRepo.AddPaid(ctx, tx, cur.ID, rec.AmountNano); err != nil {
		return err
	}

	funded := total >= cur.AmountExpectedNano
	if funded {
		if dep.Status != models.TxStatusConfirmed {
			moved, err := w.txRepo.UpdateStatus(ctx, tx, dep.ID, dep.Status, models.TxStatusConfirmed)
			if err != nil {
				return err
			}
			if !moved {
				return fmt.Errorf("deposit record %s left status %s mid-apply", dep.ID, dep.Status)
			}
		}
		if cur.Status != models.EscrowStatusPaidHeld {
			moved, err := w.escrowRepo.UpdateStatus(ctx, tx, cur.ID, cur.Status, models.EscrowStatusPaidHeld)
			if err != nil {
				return err
			}
			if !moved {
				return fmt.Errorf("escrow %s left status %s mid-apply", cur.ID, cur.Status)
			}
		}
		// A deal cancelled while the money was in flight stays cancelled;
		// the paid_held escrow is picked up by the refund settlement.
		if moved, err := w.dealRepo.UpdateStatus(ctx, tx, cur.DealID, models.DealStatusAwaitingPayment, models.DealStatusFunded); err != nil {
			return err
		} else if !moved {
			w.log.Warn("funded deal did not leave awaiting_payment", zap.String("deal_id", cur.DealID.String()))
		}
	} else if dep.Status == models.TxStatusPending {
		moved, err := w.txRepo.UpdateStatus(ctx, tx, dep.ID, models.TxStatusPending, models.TxStatusPartial)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("deposit record %s left status pending mid-apply", dep.ID)
		}
		if cur.Status == models.EscrowStatusCreated {
			moved, err := w.escrowRepo.UpdateStatus(ctx, tx, cur.ID, models.EscrowStatusCreated, models.EscrowStatusPaidPartial)
			if err != nil {
				return err
			}
			if !moved {
				return fmt.Errorf("escrow %s left status created mid-apply", cur.ID)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	w.notifyDeposit(ctx, cur, dep, total, funded)
	w.log.Info("deposit observed",
		zap.String("deal_id", cur.DealID.String()),
		zap.String("tx_hash", rec.Hash),
		zap.Int64("amount_nano", rec.AmountNano),
		zap.Int64("total_nano", total),
		zap.Bool("funded", funded))
	return nil
}

func (w *Watcher) depositRecord(ctx context.Context, dealID uuid.UUID) (*models.Transaction, error) {
	records, err := w.txRepo.ListByDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Type == models.TxTypeDeposit && rec.Direction == models.TxDirectionIn {
			return rec, nil
		}
	}
	return nil, nil
}

// notifyDeposit: полное пополнение — одно уведомление; частичное — одно на
// каждую достигнутую сумму (ключ включает total).
func (w *Watcher) notifyDeposit(ctx context.Context, escrow *models.Escrow, depositTx *models.Transaction, total int64, funded bool) {
	var key, eventType, text string
	if funded {
		key = "deposit-funded:" + escrow.DealID.String()
		eventType = events.EventPaymentReceived
		text = "Оплата по сделке получена полностью."
	} else {
		key = fmt.Sprintf("deposit-partial:%s:%d", escrow.DealID, total)
		eventType = events.EventPaymentPartial
		text = fmt.Sprintf("Получено %s из %s TON, ожидаем остаток.",
			ton.FormatTON(total), ton.FormatTON(escrow.AmountExpectedNano))
	}

	won, err := w.notifRepo.ReserveOnce(ctx, key, "user_notify", &depositTx.UserID)
	if err != nil || !won {
		return
	}
	_ = w.notifier.NotifyUser(ctx, depositTx.UserID, text)
	_ = w.publisher.Publish(ctx, "events:finance", events.Event{
		Type: eventType,
		Payload: map[string]any{
			"deal_id":    escrow.DealID.String(),
			"total_nano": total,
			"expected":   escrow.AmountExpectedNano,
		},
	})
}

// --- Outgoing confirmation ---

func (w *Watcher) confirmOutgoing(ctx context.Context) {
	records, err := w.txRepo.ListAwaitingConfirmation(ctx, w.cfg.PayoutBatchSize)
	if err != nil {
		w.log.Error("list awaiting confirmation", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}

	history, err := w.tonClient.ListTransactions(ctx, w.cfg.TONHotWalletAddress, 64)
	if err != nil {
		w.log.Error("hot wallet history", zap.Error(err))
		return
	}
	seen := outgoingHashes(history)

	for _, rec := range records {
		if rec.TxHash == nil || !seen[*rec.TxHash] {
			continue
		}
		if err := w.completeOutgoing(ctx, rec); err != nil {
			w.log.Error("complete outgoing", zap.Error(err), zap.String("id", rec.ID.String()))
		}
	}
}

// outgoingHashes indexes the hot wallet history by hash, outgoing only.
func outgoingHashes(history []ton.TxRecord) map[string]bool {
	seen := make(map[string]bool, len(history))
	for _, rec := range history {
		if !rec.Incoming {
			seen[rec.Hash] = true
		}
	}
	return seen
}

func (w *Watcher) completeOutgoing(ctx context.Context, rec *models.Transaction) error {
	if rec.Status == models.TxStatusAwaitingConfirmation {
		if _, err := w.txRepo.UpdateStatus(ctx, w.pool, rec.ID, models.TxStatusAwaitingConfirmation, models.TxStatusConfirmed); err != nil {
			return err
		}
		rec.Status = models.TxStatusConfirmed
	}
	if _, err := w.txRepo.UpdateStatus(ctx, w.pool, rec.ID, models.TxStatusConfirmed, models.TxStatusCompleted); err != nil {
		return err
	}
	if _, err := w.txRepo.CompleteChildren(ctx, w.pool, rec.ID); err != nil {
		w.log.Error("complete fee children", zap.Error(err))
	}

	if rec.TransferID != nil {
		if transfer, err := w.transferRepo.GetByID(ctx, *rec.TransferID); err == nil && !transfer.IsTerminal() {
			if transfer.Status == models.TransferStatusBroadcasted {
				_, _ = w.transferRepo.UpdateStatus(ctx, w.pool, transfer.ID, transfer.Status, models.TransferStatusConfirmed)
				transfer.Status = models.TransferStatusConfirmed
			}
			_, _ = w.transferRepo.UpdateStatus(ctx, w.pool, transfer.ID, transfer.Status, models.TransferStatusCompleted)
		}
	}

	w.finishEscrow(ctx, rec)

	if won, _ := w.notifRepo.ReserveOnce(ctx, "payout-done:"+rec.ID.String(), "user_notify", &rec.UserID); won {
		_ = w.notifier.NotifyUser(ctx, rec.UserID,
			fmt.Sprintf("Выплата %s TON выполнена.", ton.FormatTON(rec.AmountNano)))
	}
	_ = w.publisher.Publish(ctx, "events:finance", events.Event{
		Type: events.EventPayoutCompleted,
		Payload: map[string]any{
			"transaction_id": rec.ID.String(),
			"user_id":        rec.UserID.String(),
			"amount_nano":    rec.AmountNano,
		},
	})
	w.log.Info("outgoing transfer confirmed on-chain",
		zap.String("transaction_id", rec.ID.String()),
		zap.Stringp("tx_hash", rec.TxHash))
	return nil
}

func (w *Watcher) finishEscrow(ctx context.Context, rec *models.Transaction) {
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
