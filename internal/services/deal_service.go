package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/events"
	"github.com/tonplace/backend/internal/models"
	"github.com/tonplace/backend/internal/rbac"
	"github.com/tonplace/backend/internal/repositories"
	"github.com/tonplace/backend/internal/secrets"
	"github.com/tonplace/backend/internal/ton"
)

// DealService — жизненный цикл сделки до момента, когда деньги берёт на
// себя settlement: создание, приём с выпуском депозитного кошелька,
// публикация, отмена.
type DealService struct {
	dealRepo   *repositories.DealRepo
	escrowRepo *repositories.EscrowRepo
	walletRepo *repositories.WalletRepo
	txRepo     *repositories.TransactionRepo
	auditRepo  *repositories.AuditRepo
	tonClient  ton.Client
	cipher     *secrets.Cipher
	notifier   Notifier
	publisher  events.Publisher
	pool       repositories.Querier
	cfg        *config.Config
	log        *zap.Logger
}

func NewDealService(
	dealRepo *repositories.DealRepo,
	escrowRepo *repositories.EscrowRepo,
	walletRepo *repositories.WalletRepo,
	txRepo *repositories.TransactionRepo,
	auditRepo *repositories.AuditRepo,
	tonClient ton.Client,
	cipher *secrets.Cipher,
	notifier Notifier,
	publisher events.Publisher,
	pool repositories.Querier,
	cfg *config.Config,
	log *zap.Logger,
) *DealService {
	return &DealService{
		dealRepo:   dealRepo,
		escrowRepo: escrowRepo,
		walletRepo: walletRepo,
		txRepo:     txRepo,
		auditRepo:  auditRepo,
		tonClient:  tonClient,
		cipher:     cipher,
		notifier:   notifier,
		publisher:  publisher,
		pool:       pool,
		cfg:        cfg,
		log:        log,
	}
}

type CreateDealRequest struct {
	ChannelUsername string
	OwnerUserID     uuid.UUID
	PriceNano       int64
}

func (s *DealService) CreateDeal(ctx context.Context, advertiserID uuid.UUID, req CreateDealRequest) (*models.Deal, error) {
	if req.PriceNano <= 0 {
		return nil, ErrInvalidAmount
	}
	deal := &models.Deal{
		ChannelUsername:   req.ChannelUsername,
		AdvertiserUserID:  advertiserID,
		OwnerUserID:       req.OwnerUserID,
		Status:            models.DealStatusCreated,
		PriceNano:         req.PriceNano,
		PlatformFeeBPS:    s.cfg.PlatformFeeBPS,
		HoldPeriodSeconds: s.cfg.HoldPeriodSeconds,
	}
	if err := s.dealRepo.Create(ctx, deal); err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &advertiserID,
		ActorType:   "user",
		Action:      "deal_created",
		EntityType:  "deal",
		EntityID:    &deal.ID,
		Meta:        map[string]any{"price_nano": deal.PriceNano, "channel": deal.ChannelUsername},
	})
	return deal, nil
}

// AcceptDeal — владелец канала принимает сделку: выпускается депозитный
// кошелёк, открывается эскроу и создаётся ожидающая запись о депозите.
func (s *DealService) AcceptDeal(ctx context.Context, dealID, ownerID uuid.UUID) (*models.Escrow, error) {
	deal, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal == nil {
		return nil, ErrDealNotFound
	}
	if !rbac.HasPermission(DealRole(deal, ownerID), rbac.PermAcceptDeal) {
		return nil, ErrForbidden
	}

	if s.cfg.WalletMasterKeyHex == "" || s.cipher == nil {
		return nil, fmt.Errorf("wallet master key not configured")
	}

	moved, err := s.dealRepo.UpdateStatus(ctx, s.pool, deal.ID, models.DealStatusCreated, models.DealStatusAwaitingPayment)
	if err != nil {
		return nil, err
	}
	if !moved {
		// Already accepted: return the existing escrow.
		return s.escrowRepo.GetByDealID(ctx, deal.ID)
	}

	seed, addr, err := s.tonClient.GenerateWallet()
	if err != nil {
		return nil, fmt.Errorf("generate deposit wallet: %w", err)
	}
	wallet := &models.DepositWallet{DealID: deal.ID, Address: addr}
	if err := s.walletRepo.CreateDepositWallet(ctx, wallet); err != nil {
		return nil, fmt.Errorf("store deposit wallet: %w", err)
	}
	enc, err := s.cipher.Encrypt([]byte(seed))
	if err != nil {
		return nil, fmt.Errorf("encrypt wallet seed: %w", err)
	}
	if err := s.walletRepo.PutSecret(ctx, wallet.ID, enc); err != nil {
		return nil, fmt.Errorf("store wallet secret: %w", err)
	}

	deadline := time.Now().Add(time.Duration(s.cfg.PaymentTimeoutSecs) * time.Second)
	escrow := &models.Escrow{
		DealID:             deal.ID,
		Status:             models.EscrowStatusCreated,
		AmountExpectedNano: deal.PriceNano,
		DepositWalletID:    wallet.ID,
		PaymentDeadline:    &deadline,
	}
	if err := s.escrowRepo.Create(ctx, s.pool, escrow); err != nil {
		return nil, fmt.Errorf("create escrow: %w", err)
	}

	expected := deal.PriceNano
	depositRec := &models.Transaction{
		UserID:         deal.AdvertiserUserID,
		Type:           models.TxTypeDeposit,
		Direction:      models.TxDirectionIn,
		Status:         models.TxStatusPending,
		AmountNano:     deal.PriceNano,
		Currency:       "TON",
		DealID:         &deal.ID,
		Address:        &wallet.Address,
		ExpectedNano:   &expected,
		IdempotencyKey: depositKey(deal.ID),
	}
	if err := s.txRepo.Create(ctx, s.pool, depositRec); err != nil {
		return nil, fmt.Errorf("create deposit record: %w", err)
	}

	_ = s.notifier.NotifyUser(ctx, deal.AdvertiserUserID,
		fmt.Sprintf("Сделка принята. Отправьте %s TON на адрес %s.", ton.FormatTON(deal.PriceNano), addr))
	_ = s.publisher.Publish(ctx, "events:deal", events.Event{
		Type: events.EventDealStatusChanged,
		Payload: map[string]any{
			"deal_id": deal.ID.String(),
			"status":  models.DealStatusAwaitingPayment,
		},
	})
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &ownerID,
		ActorType:   "user",
		Action:      "deal_accepted",
		EntityType:  "deal",
		EntityID:    &deal.ID,
		Meta:        map[string]any{"deposit_address": addr},
	})

	s.log.Info("deal accepted",
		zap.String("deal_id", deal.ID.String()),
		zap.String("deposit_address", addr))
	return escrow, nil
}

func depositKey(dealID uuid.UUID) string {
	h := sha256.Sum256([]byte("deposit|" + dealID.String()))
	return "deposit:" + hex.EncodeToString(h[:16])
}

// CancelDeal — любая из сторон может отменить до публикации. Отменённая
// оплаченная сделка уходит в refund через settlement.
func (s *DealService) CancelDeal(ctx context.Context, dealID, userID uuid.UUID) error {
	deal, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		return err
	}
	if deal == nil {
		return ErrDealNotFound
	}
	if !rbac.HasPermission(DealRole(deal, userID), rbac.PermCancelDeal) {
		return ErrForbidden
	}
	if !models.IsValidTransition(deal.Status, models.DealStatusCancelled) {
		return fmt.Errorf("deal in status %s cannot be cancelled", deal.Status)
	}
	if _, err := s.dealRepo.UpdateStatus(ctx, s.pool, deal.ID, deal.Status, models.DealStatusCancelled); err != nil {
		return err
	}

	other := deal.OwnerUserID
	if userID == other {
		other = deal.AdvertiserUserID
	}
	_ = s.notifier.NotifyUser(ctx, other, "Сделка отменена второй стороной.")
	_ = s.publisher.Publish(ctx, "events:deal", events.Event{
		Type:    events.EventDealStatusChanged,
		Payload: map[string]any{"deal_id": deal.ID.String(), "status": models.DealStatusCancelled},
	})
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "deal_cancelled",
		EntityType:  "deal",
		EntityID:    &deal.ID,
	})
	return nil
}

// DealRole возвращает роль пользователя в сделке.
func DealRole(deal *models.Deal, userID uuid.UUID) string {
	switch userID {
	case deal.OwnerUserID:
		return rbac.RoleOwner
	case deal.AdvertiserUserID:
		return rbac.RoleAdvertiser
	}
	return rbac.RoleNone
}

// MarkPosted records the placement and starts the hold period.
func (s *DealService) MarkPosted(ctx context.Context, dealID, userID uuid.UUID, post *models.DealPost) error {
	deal, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		return err
	}
	if deal == nil {
		return ErrDealNotFound
	}
	if !rbac.HasPermission(DealRole(deal, userID), rbac.PermMarkPosted) {
		return ErrForbidden
	}
	moved, err := s.dealRepo.UpdateStatus(ctx, s.pool, deal.ID, models.DealStatusFunded, models.DealStatusPosted)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("deal %s is not funded", deal.ID)
	}

	now := time.Now()
	post.DealID = deal.ID
	if post.PostedAt == nil {
		post.PostedAt = &now
	}
	if err := s.dealRepo.UpsertPost(ctx, post); err != nil {
		return err
	}
	if _, err := s.dealRepo.UpdateStatus(ctx, s.pool, deal.ID, models.DealStatusPosted, models.DealStatusHoldVerification); err != nil {
		return err
	}

	_ = s.publisher.Publish(ctx, "events:deal", events.Event{
		Type:    events.EventDealStatusChanged,
		Payload: map[string]any{"deal_id": deal.ID.String(), "status": models.DealStatusHoldVerification},
	})
	return nil
}

// PaymentInfo returns what the advertiser still needs to pay.
type PaymentInfo struct {
	DepositAddress string     `json:"deposit_address"`
	ExpectedNano   int64      `json:"expected_nano"`
	PaidNano       int64      `json:"paid_nano"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	Status         string     `json:"status"`
}

func (s *DealService) PaymentInfo(ctx context.Context, dealID uuid.UUID) (*PaymentInfo, error) {
	escrow, err := s.escrowRepo.GetByDealID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if escrow == nil {
		return nil, ErrDealNotFound
	}
	wallet, err := s.walletRepo.GetDepositWallet(ctx, escrow.DepositWalletID)
	if err != nil {
		return nil, err
	}
	return &PaymentInfo{
		DepositAddress: wallet.Address,
		ExpectedNano:   escrow.AmountExpectedNano,
		PaidNano:       escrow.AmountPaidNano,
		Deadline:       escrow.PaymentDeadline,
		Status:         escrow.Status,
	}, nil
}

func (s *DealService) GetDeal(ctx context.Context, dealID uuid.UUID) (*models.Deal, error) {
	return s.dealRepo.GetByID(ctx, dealID)
}

func (s *DealService) ListUserDeals(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Deal, error) {
	return s.dealRepo.ListByUser(ctx, userID, limit, offset)
}
