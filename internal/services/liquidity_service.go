package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/repositories"
	"github.com/tonplace/backend/internal/ton"
)

// LiquidityService answers "can the hot wallet cover this payout" and
// computes how much can be swept off a deposit wallet.
type LiquidityService struct {
	tonClient ton.Client
	txRepo    *repositories.TransactionRepo
	alerts    *AlertService
	cfg       *config.Config
	log       *zap.Logger
}

func NewLiquidityService(
	tonClient ton.Client,
	txRepo *repositories.TransactionRepo,
	alerts *AlertService,
	cfg *config.Config,
	log *zap.Logger,
) *LiquidityService {
	return &LiquidityService{tonClient: tonClient, txRepo: txRepo, alerts: alerts, cfg: cfg, log: log}
}

// SpendableNano возвращает, сколько горячий кошелёк может потратить прямо
// сейчас: баланс он-чейн минус неснижаемый резерв минус суммы, уже
// зарезервированные чужими незавершёнными выплатами.
func (s *LiquidityService) SpendableNano(ctx context.Context, excludeUserID uuid.UUID) (int64, error) {
	if s.cfg.TONHotWalletAddress == "" {
		return 0, fmt.Errorf("hot wallet address not configured")
	}

	balance, err := s.tonClient.GetBalance(ctx, s.cfg.TONHotWalletAddress)
	if err != nil {
		return 0, fmt.Errorf("hot wallet balance: %w", err)
	}

	reservedByOthers, err := s.txRepo.SumReservedByOthers(ctx, excludeUserID)
	if err != nil {
		return 0, fmt.Errorf("sum reserved: %w", err)
	}

	spendable := balance - s.cfg.HotWalletMinReserveNano - reservedByOthers
	if spendable < 0 {
		spendable = 0
	}

	if balance < s.cfg.LowLiquidityAlertNano && s.alerts != nil {
		s.alerts.Alert(ctx, "warn",
			fmt.Sprintf("low-liquidity:%d", balance/s.cfg.LowLiquidityAlertNano),
			fmt.Sprintf("hot wallet balance %s TON below alert threshold %s TON",
				ton.FormatTON(balance), ton.FormatTON(s.cfg.LowLiquidityAlertNano)))
	}

	return spendable, nil
}

// CanCover reports whether an amount fits the current spendable liquidity.
func (s *LiquidityService) CanCover(ctx context.Context, excludeUserID uuid.UUID, amountNano int64) (bool, error) {
	spendable, err := s.SpendableNano(ctx, excludeUserID)
	if err != nil {
		return false, err
	}
	return amountNano <= spendable, nil
}

// SweepableAmount computes how much a deposit wallet can yield after its
// gas reserve. An undeployed wallet pays for deployment too, so its reserve
// doubles. Never negative.
func SweepableAmount(balanceNano, gasReserveNano int64, deployed bool) int64 {
	reserve := gasReserveNano
	if !deployed {
		reserve *= 2
	}
	amount := balanceNano - reserve
	if amount < 0 {
		return 0
	}
	return amount
}

// DepositWalletSweepable reads the on-chain state of a deposit wallet and
// returns its sweepable amount along with the deployment flag.
func (s *LiquidityService) DepositWalletSweepable(ctx context.Context, addr string) (int64, bool, error) {
	state, err := s.tonClient.GetContractState(ctx, addr)
	if err != nil {
		return 0, false, fmt.Errorf("deposit wallet state %s: %w", addr, err)
	}
	return SweepableAmount(state.BalanceNano, s.cfg.SweepGasReserveNano, state.Deployed), state.Deployed, nil
}
