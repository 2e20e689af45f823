package services

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/events"
	"github.com/tonplace/backend/internal/ledger"
	"github.com/tonplace/backend/internal/models"
	"github.com/tonplace/backend/internal/repositories"
	"github.com/tonplace/backend/internal/ton"
)

// In-memory подмены узких интерфейсов из deps.go. Переходы статусов
// закреплены так же, как в SQL: UPDATE ... WHERE status = from.

type fakeTxStore struct {
	mu      sync.Mutex
	recs    map[uuid.UUID]*models.Transaction
	creates int
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{recs: map[uuid.UUID]*models.Transaction{}}
}

func (f *fakeTxStore) add(t *models.Transaction) *models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	f.recs[t.ID] = t
	return t
}

func (f *fakeTxStore) Create(ctx context.Context, q repositories.Querier, t *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recs {
		if r.IdempotencyKey == t.IdempotencyKey {
			return errors.New("duplicate idempotency key")
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	f.recs[t.ID] = t
	f.creates++
	return nil
}

func (f *fakeTxStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return r, nil
}

func (f *fakeTxStore) GetByIdempotencyKey(ctx context.Context, q repositories.Querier, key string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recs {
		if r.IdempotencyKey == key {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeTxStore) ListExecutable(ctx context.Context, limit int) ([]*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Transaction
	for _, r := range f.recs {
		if r.Direction != models.TxDirectionOut {
			continue
		}
		if r.Status != models.TxStatusPending && r.Status != models.TxStatusBlockedLiquidity {
			continue
		}
		if r.Type != models.TxTypePayout && r.Type != models.TxTypeRefund {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeTxStore) UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (f *fakeTxStore) MarkFailed(ctx context.Context, q repositories.Querier, id uuid.UUID, from, errText string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = models.TxStatusFailed
	r.ErrorText = &errText
	return true, nil
}

func (f *fakeTxStore) CompleteChildren(ctx context.Context, q repositories.Querier, parentID uuid.UUID) (int64, error) {
	return f.moveChildren(parentID, models.TxStatusCompleted), nil
}

func (f *fakeTxStore) CancelChildren(ctx context.Context, q repositories.Querier, parentID uuid.UUID) (int64, error) {
	return f.moveChildren(parentID, models.TxStatusCanceled), nil
}

func (f *fakeTxStore) moveChildren(parentID uuid.UUID, to string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.recs {
		if r.ParentID == nil || *r.ParentID != parentID {
			continue
		}
		if r.Status == models.TxStatusPending || r.Status == models.TxStatusBlockedLiquidity {
			r.Status = to
			n++
		}
	}
	return n
}

func (f *fakeTxStore) SetTransfer(ctx context.Context, q repositories.Querier, id, transferID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.recs[id]; ok {
		r.TransferID = &transferID
	}
	return nil
}

func (f *fakeTxStore) SetTxHash(ctx context.Context, q repositories.Querier, id uuid.UUID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.recs[id]; ok {
		r.TxHash = &hash
	}
	return nil
}

type fakeTransferStore struct {
	mu        sync.Mutex
	transfers map[uuid.UUID]*models.TonTransfer
}

func newFakeTransferStore() *fakeTransferStore {
	return &fakeTransferStore{transfers: map[uuid.UUID]*models.TonTransfer{}}
}

func (f *fakeTransferStore) add(t *models.TonTransfer) *models.TonTransfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	f.transfers[t.ID] = t
	return t
}

func (f *fakeTransferStore) GetLiveByKey(ctx context.Context, key string) (*models.TonTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.transfers {
		if t.IdempotencyKey == key && t.Status != models.TransferStatusFailed {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeTransferStore) Ensure(ctx context.Context, t *models.TonTransfer) (*models.TonTransfer, error) {
	if live, _ := f.GetLiveByKey(ctx, t.IdempotencyKey); live != nil {
		return live, nil
	}
	return f.add(t), nil
}

func (f *fakeTransferStore) UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transfers[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	return true, nil
}

func (f *fakeTransferStore) MarkBroadcasted(ctx context.Context, q repositories.Querier, id uuid.UUID, from, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transfers[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = models.TransferStatusBroadcasted
	t.TxHash = &txHash
	return true, nil
}

func (f *fakeTransferStore) MarkFailed(ctx context.Context, q repositories.Querier, id uuid.UUID, from, errText string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transfers[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = models.TransferStatusFailed
	t.ErrorText = &errText
	return true, nil
}

type fakeEscrowStore struct {
	mu      sync.Mutex
	escrows map[uuid.UUID]*models.Escrow // by escrow ID
}

func newFakeEscrowStore() *fakeEscrowStore {
	return &fakeEscrowStore{escrows: map[uuid.UUID]*models.Escrow{}}
}

func (f *fakeEscrowStore) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.Escrow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.escrows {
		if e.DealID == dealID {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeEscrowStore) UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.escrows[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	return true, nil
}

type fakeDealStore struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
}

func (f *fakeDealStore) UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil || f.statuses[id] != from {
		return false, nil
	}
	f.statuses[id] = to
	return true, nil
}

type fakeWalletSource struct {
	wallet *models.UserWallet
}

func (f *fakeWalletSource) GetActiveWallet(ctx context.Context, userID uuid.UUID) (*models.UserWallet, error) {
	return f.wallet, nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (f *fakeAuditor) Log(ctx context.Context, entry models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

type fakeLiquidity struct {
	covered bool
	err     error
	calls   int
}

func (f *fakeLiquidity) CanCover(ctx context.Context, excludeUserID uuid.UUID, amountNano int64) (bool, error) {
	f.calls++
	return f.covered, f.err
}

type fakeSweeper struct {
	swept int64
	err   error
	calls int
}

func (f *fakeSweeper) SweepForDeal(ctx context.Context, dealID uuid.UUID, needNano int64) (int64, error) {
	f.calls++
	return f.swept, f.err
}

type fakeReserver struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeReserver) ReserveOnce(ctx context.Context, key, kind string, recipientID *uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	userMsgs map[uuid.UUID][]string
	chatMsgs []string
}

func (f *fakeNotifier) NotifyUser(ctx context.Context, userID uuid.UUID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userMsgs == nil {
		f.userMsgs = map[uuid.UUID][]string{}
	}
	f.userMsgs[userID] = append(f.userMsgs[userID], text)
	return nil
}

func (f *fakeNotifier) NotifyChat(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatMsgs = append(f.chatMsgs, text)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// fakeLedger выводит баланс из содержимого fakeTxStore, как прод считает
// его из таблицы transactions.
type fakeLedger struct {
	creditedNano int64
	store        *fakeTxStore
}

func (f *fakeLedger) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx pgx.Tx) error) error {
	var tx pgx.Tx
	return fn(tx)
}

func (f *fakeLedger) WithdrawableBalance(ctx context.Context, q repositories.Querier, userID uuid.UUID) (*ledger.Balance, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var debited, inFlight int64
	for _, r := range f.store.recs {
		if r.UserID != userID || r.Direction != models.TxDirectionOut {
			continue
		}
		switch {
		case r.Status == models.TxStatusCompleted:
			debited += r.AmountNano
		case models.IsTxInFlight(r.Status):
			inFlight += r.AmountNano
		}
	}
	b := &ledger.Balance{
		RawNano:      f.creditedNano - debited - inFlight,
		CreditedNano: f.creditedNano,
		DebitedNano:  debited,
		InFlightNano: inFlight,
	}
	if b.RawNano > 0 {
		b.WithdrawableNano = b.RawNano
	}
	return b, nil
}

func (f *fakeLedger) Pool() *pgxpool.Pool { return nil }

type fakeChain struct {
	mu       sync.Mutex
	sends    int
	sendErr  error
	sentHash string
}

func (f *fakeChain) GetBalance(ctx context.Context, addr string) (int64, error) { return 0, nil }

func (f *fakeChain) GetContractState(ctx context.Context, addr string) (ton.ContractState, error) {
	return ton.ContractState{Deployed: true}, nil
}

func (f *fakeChain) ListTransactions(ctx context.Context, addr string, limit int) ([]ton.TxRecord, error) {
	return nil, nil
}

func (f *fakeChain) SendTransfer(ctx context.Context, fromSeed, toAddr string, amountNano int64, comment string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	if f.sentHash != "" {
		return f.sentHash, nil
	}
	return "cafebabe", nil
}

func (f *fakeChain) Deploy(ctx context.Context, fromSeed string) error { return nil }

func (f *fakeChain) AddressFromSeed(seed string) (string, error) { return "EQFromSeed", nil }

func (f *fakeChain) GenerateWallet() (seed, addr string, err error) {
	return "word word", "EQGenerated", nil
}

func testConfig() *config.Config {
	return &config.Config{
		TONHotWalletAddress:  "EQHotWallet",
		TONHotWalletSeed:     "seed words",
		PayoutNetworkFeeNano: 50_000_000,
		PayoutBatchSize:      10,
		AdminAlertMinLevel:   "warn",
		AdminAlertChatID:     77,
	}
}
