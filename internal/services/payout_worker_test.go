package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/models"
)

func TestValidatePayout(t *testing.T) {
	addr := "EQDestination"
	empty := ""

	base := func() *models.Transaction {
		return &models.Transaction{
			ID:         uuid.New(),
			UserID:     uuid.New(),
			Type:       models.TxTypePayout,
			Direction:  models.TxDirectionOut,
			Status:     models.TxStatusPending,
			AmountNano: 1_000_000_000,
			Address:    &addr,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*models.Transaction)
		wantBad bool
	}{
		{"valid payout", func(r *models.Transaction) {}, false},
		{"valid refund", func(r *models.Transaction) { r.Type = models.TxTypeRefund }, false},
		{"incoming direction", func(r *models.Transaction) { r.Direction = models.TxDirectionIn }, true},
		{"deposit type", func(r *models.Transaction) { r.Type = models.TxTypeDeposit }, true},
		{"fee type", func(r *models.Transaction) { r.Type = models.TxTypeNetworkFee }, true},
		{"nil address", func(r *models.Transaction) { r.Address = nil }, true},
		{"empty address", func(r *models.Transaction) { r.Address = &empty }, true},
		{"zero amount", func(r *models.Transaction) { r.AmountNano = 0 }, true},
		{"negative amount", func(r *models.Transaction) { r.AmountNano = -5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base()
			tt.mutate(rec)
			reason := validatePayout(rec)
			if tt.wantBad && reason == "" {
				t.Error("expected a validation failure, got none")
			}
			if !tt.wantBad && reason != "" {
				t.Errorf("unexpected validation failure: %s", reason)
			}
		})
	}
}

func TestTransferTypeFor(t *testing.T) {
	if got := transferTypeFor(models.TxTypePayout); got != models.TransferTypePayout {
		t.Errorf("payout mapped to %s", got)
	}
	if got := transferTypeFor(models.TxTypeRefund); got != models.TransferTypeRefund {
		t.Errorf("refund mapped to %s", got)
	}
}

type workerFixture struct {
	tx    *fakeTxStore
	tr    *fakeTransferStore
	esc   *fakeEscrowStore
	deals *fakeDealStore
	liq   *fakeLiquidity
	sweep *fakeSweeper
	chain *fakeChain
	notif *fakeNotifier
	res   *fakeReserver
	pub   *fakePublisher
	w     *PayoutWorker
}

func newWorkerFixture(cfg *config.Config) *workerFixture {
	f := &workerFixture{
		tx:    newFakeTxStore(),
		tr:    newFakeTransferStore(),
		esc:   newFakeEscrowStore(),
		deals: &fakeDealStore{},
		liq:   &fakeLiquidity{covered: true},
		sweep: &fakeSweeper{},
		chain: &fakeChain{},
		notif: &fakeNotifier{},
		res:   &fakeReserver{},
		pub:   &fakePublisher{},
	}
	alerts := NewAlertService(f.notif, f.res, cfg, zap.NewNop())
	f.w = NewPayoutWorker(nil, f.tx, f.tr, f.esc, f.deals, f.liq, f.sweep,
		alerts, f.notif, f.res, f.chain, f.pub, cfg, zap.NewNop())
	return f
}

func (f *workerFixture) addPayout(userID uuid.UUID, amountNano int64, key string) *models.Transaction {
	addr := "EQDestination"
	return f.tx.add(&models.Transaction{
		UserID:         userID,
		Type:           models.TxTypePayout,
		Direction:      models.TxDirectionOut,
		Status:         models.TxStatusPending,
		AmountNano:     amountNano,
		Currency:       "TON",
		Address:        &addr,
		IdempotencyKey: key,
	})
}

func TestBroadcastFailureFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(testConfig())
	f.chain.sendErr = errors.New("adnl: query timed out")

	userID := uuid.New()
	rec := f.addPayout(userID, 2_000_000_000, "withdraw:k1")
	fee := f.tx.add(&models.Transaction{
		UserID:         userID,
		Type:           models.TxTypeNetworkFee,
		Direction:      models.TxDirectionOut,
		Status:         models.TxStatusPending,
		AmountNano:     50_000_000,
		Currency:       "TON",
		ParentID:       &rec.ID,
		IdempotencyKey: "withdraw:k1:fee",
	})

	if err := f.w.execute(ctx, rec); err == nil {
		t.Fatal("broadcast error swallowed")
	}
	if f.chain.sends != 1 {
		t.Fatalf("sends = %d, want exactly one attempt", f.chain.sends)
	}
	if rec.Status != models.TxStatusFailed {
		t.Errorf("record status = %s, want failed", rec.Status)
	}
	if fee.Status != models.TxStatusCanceled {
		t.Errorf("fee child status = %s, want canceled", fee.Status)
	}
	transfer, _ := f.tr.GetLiveByKey(ctx, rec.IdempotencyKey)
	if transfer != nil {
		t.Errorf("transfer still live after failed broadcast: %s", transfer.Status)
	}

	// A send error may still have landed on-chain, so the record must not
	// come back for another broadcast on the next tick.
	list, _ := f.tx.ListExecutable(ctx, 10)
	if len(list) != 0 {
		t.Errorf("failed record still executable: %d records listed", len(list))
	}
	if f.chain.sends != 1 {
		t.Errorf("sends = %d after re-list, want still one", f.chain.sends)
	}
}

func TestExecuteAdoptsLiveTransfer(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(testConfig())

	rec := f.addPayout(uuid.New(), 3_000_000_000, "withdraw:k2")
	hash := "deadbeef"
	f.tr.add(&models.TonTransfer{
		Status:         models.TransferStatusBroadcasted,
		Type:           models.TransferTypePayout,
		IdempotencyKey: rec.IdempotencyKey,
		TxHash:         &hash,
	})

	if err := f.w.execute(ctx, rec); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if f.chain.sends != 0 {
		t.Fatalf("sends = %d, want no re-broadcast for a live transfer", f.chain.sends)
	}
	if rec.Status != models.TxStatusAwaitingConfirmation {
		t.Errorf("record status = %s, want awaiting_confirmation", rec.Status)
	}
	if rec.TxHash == nil || *rec.TxHash != hash {
		t.Errorf("record did not adopt the transfer hash: %v", rec.TxHash)
	}
}

func TestBlockedLiquidityNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(testConfig())
	f.liq.covered = false

	userID := uuid.New()
	rec := f.addPayout(userID, 5_000_000_000, "withdraw:k3")

	// Two ticks while the hot wallet stays short.
	if err := f.w.execute(ctx, rec); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if err := f.w.execute(ctx, rec); err != nil {
		t.Fatalf("second execute: %v", err)
	}

	if rec.Status != models.TxStatusBlockedLiquidity {
		t.Errorf("record status = %s, want blocked_liquidity", rec.Status)
	}
	if f.chain.sends != 0 {
		t.Errorf("sends = %d, want none while blocked", f.chain.sends)
	}
	if got := len(f.notif.userMsgs[userID]); got != 1 {
		t.Errorf("user notified %d times, want exactly once", got)
	}
	if got := len(f.notif.chatMsgs); got != 1 {
		t.Errorf("admin chat notified %d times, want exactly once", got)
	}
}

func TestExecuteUnblocksWhenLiquidityReturns(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(testConfig())
	f.liq.covered = false

	rec := f.addPayout(uuid.New(), 1_000_000_000, "withdraw:k4")
	if err := f.w.execute(ctx, rec); err != nil {
		t.Fatalf("blocking execute: %v", err)
	}
	if rec.Status != models.TxStatusBlockedLiquidity {
		t.Fatalf("record status = %s, want blocked_liquidity", rec.Status)
	}

	f.liq.covered = true
	if err := f.w.execute(ctx, rec); err != nil {
		t.Fatalf("unblocking execute: %v", err)
	}
	if f.chain.sends != 1 {
		t.Errorf("sends = %d, want one broadcast after liquidity returned", f.chain.sends)
	}
	if rec.Status != models.TxStatusAwaitingConfirmation {
		t.Errorf("record status = %s, want awaiting_confirmation", rec.Status)
	}
}
