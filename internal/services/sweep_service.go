package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/db"
	"github.com/tonplace/backend/internal/models"
	"github.com/tonplace/backend/internal/repositories"
	"github.com/tonplace/backend/internal/secrets"
	"github.com/tonplace/backend/internal/ton"
)

// SweepBusyError — другая реплика уже подметает этот кошелёк, повторить
// на следующем тике.
type SweepBusyError struct {
	DealID uuid.UUID
}

func (e *SweepBusyError) Error() string {
	return fmt.Sprintf("sweep for deal %s already in progress", e.DealID)
}

// SweepNotWorthItError — balance after gas reserve is below the configured
// minimum; broadcasting would burn more than it moves.
type SweepNotWorthItError struct {
	AvailableNano int64
	MinNano       int64
}

func (e *SweepNotWorthItError) Error() string {
	return fmt.Sprintf("sweepable %d nano below minimum %d nano", e.AvailableNano, e.MinNano)
}

// SweepExhaustedError — the retry budget for this exact sweep is spent;
// an operator has to look at the wallet.
type SweepExhaustedError struct {
	DealID   uuid.UUID
	Attempts int
}

func (e *SweepExhaustedError) Error() string {
	return fmt.Sprintf("sweep for deal %s failed %d times, giving up", e.DealID, e.Attempts)
}

// SweepService moves funds from per-deal deposit wallets to the hot wallet.
type SweepService struct {
	pool         *pgxpool.Pool
	tonClient    ton.Client
	walletRepo   *repositories.WalletRepo
	transferRepo *repositories.TransferRepo
	cipher       *secrets.Cipher
	alerts       *AlertService
	cfg          *config.Config
	log          *zap.Logger
}

func NewSweepService(
	pool *pgxpool.Pool,
	tonClient ton.Client,
	walletRepo *repositories.WalletRepo,
	transferRepo *repositories.TransferRepo,
	cipher *secrets.Cipher,
	alerts *AlertService,
	cfg *config.Config,
	log *zap.Logger,
) *SweepService {
	return &SweepService{
		pool:         pool,
		tonClient:    tonClient,
		walletRepo:   walletRepo,
		transferRepo: transferRepo,
		cipher:       cipher,
		alerts:       alerts,
		cfg:          cfg,
		log:          log,
	}
}

// sweepKey derives the idempotency key for one logical sweep request. The
// требуемая сумма входит в ключ: повторный запрос на ту же сумму — replay,
// запрос на другую сумму — новая операция.
func sweepKey(dealID, walletID uuid.UUID, needNano int64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("sweep|%s|%s|%d", dealID, walletID, needNano)))
	return "sweep:" + hex.EncodeToString(h[:16])
}

// sweepTarget caps the sweep at what the caller actually needs. need <= 0
// means drain everything above the reserve.
func sweepTarget(availableNano, needNano int64) int64 {
	if needNano > 0 && needNano < availableNano {
		return needNano
	}
	return availableNano
}

// SweepForDeal moves min(sweepable, needNano) from the deal's deposit
// wallet to the hot wallet and returns the amount moved. The rest stays on
// the deposit wallet for a later request.
func (s *SweepService) SweepForDeal(ctx context.Context, dealID uuid.UUID, needNano int64) (int64, error) {
	if !s.cfg.SweepEnabled {
		return 0, &SweepNotWorthItError{AvailableNano: 0, MinNano: s.cfg.SweepMinAmountNano}
	}

	release, acquired, err := db.TryAdvisoryLock(ctx, s.pool, "sweep:deal:"+dealID.String())
	if err != nil {
		return 0, err
	}
	if !acquired {
		return 0, &SweepBusyError{DealID: dealID}
	}
	defer release()

	wallet, err := s.walletRepo.GetDepositWalletByDeal(ctx, dealID)
	if err != nil {
		return 0, fmt.Errorf("deposit wallet for deal %s: %w", dealID, err)
	}

	key := sweepKey(dealID, wallet.ID, needNano)

	// Replay: a live transfer for this exact request already exists.
	if live, err := s.transferRepo.GetLiveByKey(ctx, key); err != nil {
		return 0, err
	} else if live != nil {
		if live.Status == models.TransferStatusCompleted {
			return live.AmountNano, nil
		}
		return 0, &SweepBusyError{DealID: dealID}
	}

	failed, err := s.transferRepo.CountFailedByKey(ctx, key)
	if err != nil {
		return 0, err
	}
	if failed >= s.cfg.SweepMaxRetries {
		s.alerts.Alert(ctx, "critical", "sweep-exhausted:"+key,
			fmt.Sprintf("sweep for deal %s failed %d times, manual intervention needed", dealID, failed))
		return 0, &SweepExhaustedError{DealID: dealID, Attempts: failed}
	}

	state, err := s.tonClient.GetContractState(ctx, wallet.Address)
	if err != nil {
		return 0, fmt.Errorf("deposit wallet state: %w", err)
	}
	available := SweepableAmount(state.BalanceNano, s.cfg.SweepGasReserveNano, state.Deployed)
	amount := sweepTarget(available, needNano)
	if amount < s.cfg.SweepMinAmountNano {
		return 0, &SweepNotWorthItError{AvailableNano: amount, MinNano: s.cfg.SweepMinAmountNano}
	}

	seed, err := s.loadSeed(ctx, wallet)
	if err != nil {
		return 0, err
	}

	if !state.Deployed {
		if err := s.tonClient.Deploy(ctx, seed); err != nil {
			return 0, fmt.Errorf("deploy deposit wallet %s: %w", wallet.Address, err)
		}
		if err := s.walletRepo.MarkDeployed(ctx, wallet.ID); err != nil {
			s.log.Warn("failed to mark wallet deployed", zap.Error(err))
		}
	}

	transfer := &models.TonTransfer{
		FromAddr:       wallet.Address,
		ToAddr:         s.cfg.TONHotWalletAddress,
		AmountNano:     amount,
		Status:         models.TransferStatusCreated,
		Type:           models.TransferTypeSweepToHot,
		IdempotencyKey: key,
	}
	transfer, err = s.transferRepo.Ensure(ctx, transfer)
	if err != nil {
		return 0, err
	}
	if transfer.Status != models.TransferStatusCreated {
		// Lost a race despite the advisory lock; treat as in progress.
		return 0, &SweepBusyError{DealID: dealID}
	}

	txHash, err := s.tonClient.SendTransfer(ctx, seed, s.cfg.TONHotWalletAddress, amount, "sweep:"+dealID.String())
	if err != nil {
		if _, mferr := s.transferRepo.MarkFailed(ctx, s.pool, transfer.ID, transfer.Status, err.Error()); mferr != nil {
			s.log.Error("failed to mark sweep transfer failed", zap.Error(mferr))
		}
		return 0, fmt.Errorf("sweep transfer: %w", err)
	}

	if _, err := s.transferRepo.MarkBroadcasted(ctx, s.pool, transfer.ID, transfer.Status, txHash); err != nil {
		s.log.Error("failed to mark sweep broadcasted", zap.Error(err))
	}
	// SendTransfer waits for the transaction to land, so the attempt
	// completes here.
	if _, err := s.transferRepo.UpdateStatus(ctx, s.pool, transfer.ID, models.TransferStatusBroadcasted, models.TransferStatusCompleted); err != nil {
		s.log.Error("failed to complete sweep transfer", zap.Error(err))
	}

	s.log.Info("sweep completed",
		zap.String("deal_id", dealID.String()),
		zap.String("from", wallet.Address),
		zap.Int64("amount_nano", amount),
		zap.String("tx_hash", txHash),
	)
	return amount, nil
}

// loadSeed decrypts the deposit wallet's seed and verifies it still derives
// the stored address. A mismatch means key rot or tampering; funds on that
// wallet are unreachable until an operator steps in.
func (s *SweepService) loadSeed(ctx context.Context, wallet *models.DepositWallet) (string, error) {
	enc, err := s.walletRepo.GetSecret(ctx, wallet.ID)
	if err != nil {
		return "", fmt.Errorf("load wallet secret: %w", err)
	}
	seedBytes, err := s.cipher.Decrypt(enc)
	if err != nil {
		s.alerts.Alert(ctx, "critical", "seed-decrypt:"+wallet.ID.String(),
			fmt.Sprintf("cannot decrypt seed for deposit wallet %s", wallet.Address))
		return "", fmt.Errorf("decrypt wallet secret: %w", err)
	}
	seed := string(seedBytes)

	derived, err := s.tonClient.AddressFromSeed(seed)
	if err != nil {
		return "", fmt.Errorf("derive address from seed: %w", err)
	}
	if derived != wallet.Address {
		s.alerts.Alert(ctx, "critical", "seed-mismatch:"+wallet.ID.String(),
			fmt.Sprintf("seed for deposit wallet %s derives %s", wallet.Address, derived))
		return "", fmt.Errorf("seed derives %s, wallet stored as %s", derived, wallet.Address)
	}
	return seed, nil
}
