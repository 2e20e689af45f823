package watcher

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/events"
	"github.com/tonplace/backend/internal/models"
	"github.com/tonplace/backend/internal/repositories"
	"github.com/tonplace/backend/internal/ton"
)

func TestOutgoingHashes(t *testing.T) {
	history := []ton.TxRecord{
		{Hash: "aaa", Incoming: false, AmountNano: 100},
		{Hash: "bbb", Incoming: true, AmountNano: 200},
		{Hash: "ccc", Incoming: false, AmountNano: 300},
	}

	seen := outgoingHashes(history)
	if !seen["aaa"] || !seen["ccc"] {
		t.Errorf("outgoing hashes missing: %v", seen)
	}
	if seen["bbb"] {
		t.Error("incoming transfer must not count as an outgoing send")
	}
	if seen["ddd"] {
		t.Error("unknown hash reported as seen")
	}
}

func TestCursorKeyPerAddress(t *testing.T) {
	if cursorKey("EQAbc") == cursorKey("EQXyz") {
		t.Error("different addresses share a cursor key")
	}
	if cursorKey("EQAbc") != cursorKey("EQAbc") {
		t.Error("cursor key not stable")
	}
}

// --- In-memory подмены для сценарных тестов ---

type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(ctx context.Context) error   { return nil }
func (fakeTx) Rollback(ctx context.Context) error { return nil }

type fakeDB struct{}

func (fakeDB) Begin(ctx context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

type fakeCursor struct {
	lts    map[string]uint64
	stores int
}

func (f *fakeCursor) LastLT(ctx context.Context, addr string) uint64 { return f.lts[addr] }

func (f *fakeCursor) StoreLT(ctx context.Context, addr string, lt uint64) {
	f.lts[addr] = lt
	f.stores++
}

type fakeChain struct {
	records []ton.TxRecord
}

func (f *fakeChain) GetBalance(ctx context.Context, addr string) (int64, error) { return 0, nil }

func (f *fakeChain) GetContractState(ctx context.Context, addr string) (ton.ContractState, error) {
	return ton.ContractState{Deployed: true}, nil
}

func (f *fakeChain) ListTransactions(ctx context.Context, addr string, limit int) ([]ton.TxRecord, error) {
	return f.records, nil
}

func (f *fakeChain) SendTransfer(ctx context.Context, fromSeed, toAddr string, amountNano int64, comment string) (string, error) {
	return "", errors.New("not expected in watcher tests")
}

func (f *fakeChain) Deploy(ctx context.Context, fromSeed string) error { return nil }

func (f *fakeChain) AddressFromSeed(seed string) (string, error) { return "EQFromSeed", nil }

func (f *fakeChain) GenerateWallet() (seed, addr string, err error) {
	return "word word", "EQGenerated", nil
}

type fakeTxStore struct {
	dep *models.Transaction
}

func (f *fakeTxStore) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]*models.Transaction, error) {
	return []*models.Transaction{f.dep}, nil
}

func (f *fakeTxStore) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	if id != f.dep.ID {
		return nil, pgx.ErrNoRows
	}
	return f.dep, nil
}

func (f *fakeTxStore) AddReceived(ctx context.Context, q repositories.Querier, id uuid.UUID, deltaNano int64) (int64, error) {
	f.dep.ReceivedNano += deltaNano
	return f.dep.ReceivedNano, nil
}

func (f *fakeTxStore) UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error) {
	if id != f.dep.ID || f.dep.Status != from {
		return false, nil
	}
	f.dep.Status = to
	return true, nil
}

func (f *fakeTxStore) ListAwaitingConfirmation(ctx context.Context, limit int) ([]*models.Transaction, error) {
	return nil, nil
}

func (f *fakeTxStore) CompleteChildren(ctx context.Context, q repositories.Querier, parentID uuid.UUID) (int64, error) {
	return 0, nil
}

type fakeEscrowStore struct {
	esc *models.Escrow
}

func (f *fakeEscrowStore) ListAwaitingPayment(ctx context.Context, limit int) ([]*models.Escrow, error) {
	snapshot := *f.esc
	return []*models.Escrow{&snapshot}, nil
}

func (f *fakeEscrowStore) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.Escrow, error) {
	return f.esc, nil
}

func (f *fakeEscrowStore) GetByDealIDForUpdate(ctx context.Context, tx pgx.Tx, dealID uuid.UUID) (*models.Escrow, error) {
	return f.esc, nil
}

func (f *fakeEscrowStore) AddPaid(ctx context.Context, q repositories.Querier, id uuid.UUID, deltaNano int64) (int64, error) {
	f.esc.AmountPaidNano += deltaNano
	return f.esc.AmountPaidNano, nil
}

func (f *fakeEscrowStore) UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error) {
	if id != f.esc.ID || f.esc.Status != from {
		return false, nil
	}
	f.esc.Status = to
	return true, nil
}

type fakeDealStore struct {
	statuses map[uuid.UUID]string
}

func (f *fakeDealStore) UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error) {
	if f.statuses[id] != from {
		return false, nil
	}
	f.statuses[id] = to
	return true, nil
}

type fakeWalletStore struct {
	wallet *models.DepositWallet
}

func (f *fakeWalletStore) GetDepositWallet(ctx context.Context, id uuid.UUID) (*models.DepositWallet, error) {
	return f.wallet, nil
}

type fakeEventStore struct {
	seen    map[string]bool
	failErr error
	inserts int
}

func (f *fakeEventStore) InsertOnce(ctx context.Context, q repositories.Querier, e *repositories.DepositEvent) (bool, error) {
	if f.failErr != nil {
		return false, f.failErr
	}
	if f.seen[e.TxHash] {
		return false, nil
	}
	f.seen[e.TxHash] = true
	f.inserts++
	return true, nil
}

type fakeReserver struct {
	seen map[string]bool
}

func (f *fakeReserver) ReserveOnce(ctx context.Context, key, kind string, recipientID *uuid.UUID) (bool, error) {
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeNotifier struct {
	userMsgs map[uuid.UUID][]string
}

func (f *fakeNotifier) NotifyUser(ctx context.Context, userID uuid.UUID, text string) error {
	f.userMsgs[userID] = append(f.userMsgs[userID], text)
	return nil
}

func (f *fakeNotifier) NotifyChat(ctx context.Context, chatID int64, text string) error {
	return nil
}

type fakePublisher struct {
	events []events.Event
}

func (f *fakePublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	f.events = append(f.events, event)
	return nil
}

type watcherFixture struct {
	dealID  uuid.UUID
	buyerID uuid.UUID
	esc     *models.Escrow
	dep     *models.Transaction
	cursor  *fakeCursor
	chain   *fakeChain
	deals   *fakeDealStore
	evs     *fakeEventStore
	notif   *fakeNotifier
	pub     *fakePublisher
	w       *Watcher
}

func newWatcherFixture(expectedNano int64) *watcherFixture {
	f := &watcherFixture{
		dealID:  uuid.New(),
		buyerID: uuid.New(),
		cursor:  &fakeCursor{lts: map[string]uint64{}},
		chain:   &fakeChain{},
		evs:     &fakeEventStore{seen: map[string]bool{}},
		notif:   &fakeNotifier{userMsgs: map[uuid.UUID][]string{}},
		pub:     &fakePublisher{},
	}
	walletID := uuid.New()
	f.esc = &models.Escrow{
		ID:                 uuid.New(),
		DealID:             f.dealID,
		Status:             models.EscrowStatusCreated,
		AmountExpectedNano: expectedNano,
		DepositWalletID:    walletID,
	}
	f.dep = &models.Transaction{
		ID:        uuid.New(),
		UserID:    f.buyerID,
		DealID:    &f.dealID,
		Type:      models.TxTypeDeposit,
		Direction: models.TxDirectionIn,
		Status:    models.TxStatusPending,
	}
	f.deals = &fakeDealStore{statuses: map[uuid.UUID]string{f.dealID: models.DealStatusAwaitingPayment}}
	f.w = &Watcher{
		db:         fakeDB{},
		cursor:     f.cursor,
		tonClient:  f.chain,
		txRepo:     &fakeTxStore{dep: f.dep},
		escrowRepo: &fakeEscrowStore{esc: f.esc},
		dealRepo:   f.deals,
		walletRepo: &fakeWalletStore{wallet: &models.DepositWallet{ID: walletID, DealID: f.dealID, Address: "EQDepositWallet", Deployed: true}},
		eventRepo:  f.evs,
		notifRepo:  &fakeReserver{seen: map[string]bool{}},
		notifier:   f.notif,
		publisher:  f.pub,
		cfg:        &config.Config{PayoutBatchSize: 10},
		log:        zap.NewNop(),
	}
	return f
}

// scan runs one deposit pass over a fresh snapshot of the escrow, the way
// the production listing hands the loop a row that goes stale mid-scan.
func (f *watcherFixture) scan(ctx context.Context, t *testing.T) {
	t.Helper()
	snapshot := *f.esc
	if err := f.w.scanEscrowDeposits(ctx, &snapshot); err != nil {
		t.Fatalf("scan: %v", err)
	}
}

func TestDepositAccumulationConverges(t *testing.T) {
	ctx := context.Background()
	f := newWatcherFixture(10_000_000_000)
	f.chain.records = []ton.TxRecord{
		{Hash: "h1", LT: 11, AmountNano: 6_000_000_000, Incoming: true, From: "EQBuyer"},
		{Hash: "h2", LT: 12, AmountNano: 4_000_000_000, Incoming: true, From: "EQBuyer"},
	}

	f.scan(ctx, t)

	if f.esc.Status != models.EscrowStatusPaidHeld {
		t.Errorf("escrow status = %s, want paid_held", f.esc.Status)
	}
	if f.esc.AmountPaidNano != 10_000_000_000 {
		t.Errorf("amount paid = %d, want the full expectation", f.esc.AmountPaidNano)
	}
	if f.dep.Status != models.TxStatusConfirmed {
		t.Errorf("deposit record status = %s, want confirmed", f.dep.Status)
	}
	if f.dep.ReceivedNano != 10_000_000_000 {
		t.Errorf("received = %d, want 10 TON", f.dep.ReceivedNano)
	}
	if got := f.deals.statuses[f.dealID]; got != models.DealStatusFunded {
		t.Errorf("deal status = %s, want funded", got)
	}
	if got := f.cursor.lts["EQDepositWallet"]; got != 12 {
		t.Errorf("cursor = %d, want the last applied LT", got)
	}
	if got := len(f.notif.userMsgs[f.buyerID]); got != 2 { // partial, then funded
		t.Errorf("buyer notified %d times, want 2", got)
	}
}

func TestDepositReplayIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newWatcherFixture(10_000_000_000)
	f.chain.records = []ton.TxRecord{
		{Hash: "h1", LT: 11, AmountNano: 6_000_000_000, Incoming: true},
		{Hash: "h2", LT: 12, AmountNano: 4_000_000_000, Incoming: true},
	}

	f.scan(ctx, t)

	// A lost cursor replays the whole history; tx_hash dedupe absorbs it.
	f.cursor.lts["EQDepositWallet"] = 0
	f.scan(ctx, t)

	if f.evs.inserts != 2 {
		t.Errorf("events applied %d times, want 2", f.evs.inserts)
	}
	if f.dep.ReceivedNano != 10_000_000_000 {
		t.Errorf("received = %d after replay, want unchanged 10 TON", f.dep.ReceivedNano)
	}
	if f.esc.AmountPaidNano != 10_000_000_000 {
		t.Errorf("amount paid = %d after replay, want unchanged", f.esc.AmountPaidNano)
	}
	if f.esc.Status != models.EscrowStatusPaidHeld {
		t.Errorf("escrow status = %s after replay, want paid_held", f.esc.Status)
	}
}

func TestCursorHeldBackOnApplyFailure(t *testing.T) {
	ctx := context.Background()
	f := newWatcherFixture(10_000_000_000)
	f.chain.records = []ton.TxRecord{
		{Hash: "h1", LT: 21, AmountNano: 4_000_000_000, Incoming: true},
	}

	f.evs.failErr = errors.New("connection reset")
	f.scan(ctx, t)

	if f.cursor.stores != 0 {
		t.Fatalf("cursor advanced past an unapplied deposit: stores = %d", f.cursor.stores)
	}
	if f.dep.ReceivedNano != 0 {
		t.Fatalf("received = %d after failed apply, want 0", f.dep.ReceivedNano)
	}

	// Next tick re-lists the same window and the deposit lands.
	f.evs.failErr = nil
	f.scan(ctx, t)

	if f.dep.ReceivedNano != 4_000_000_000 {
		t.Errorf("received = %d after retry, want 4 TON", f.dep.ReceivedNano)
	}
	if f.dep.Status != models.TxStatusPartial {
		t.Errorf("deposit record status = %s, want partial", f.dep.Status)
	}
	if f.esc.Status != models.EscrowStatusPaidPartial {
		t.Errorf("escrow status = %s, want paid_partial", f.esc.Status)
	}
	if got := f.cursor.lts["EQDepositWallet"]; got != 21 {
		t.Errorf("cursor = %d after retry, want 21", got)
	}
}
