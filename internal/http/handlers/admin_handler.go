package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/http/dto"
	"github.com/tonplace/backend/internal/models"
	"github.com/tonplace/backend/internal/repositories"
	"github.com/tonplace/backend/internal/services"
	"github.com/tonplace/backend/internal/ton"
)

// AdminHandler — операционные ручки для админов: состояние ликвидности
// горячего кошелька и ручной перезапуск заблокированных выплат.
type AdminHandler struct {
	liquidity *services.LiquidityService
	txRepo    *repositories.TransactionRepo
	pool      repositories.Querier
	log       *zap.Logger
}

func NewAdminHandler(
	liquidity *services.LiquidityService,
	txRepo *repositories.TransactionRepo,
	pool repositories.Querier,
	log *zap.Logger,
) *AdminHandler {
	return &AdminHandler{liquidity: liquidity, txRepo: txRepo, pool: pool, log: log}
}

// GET /admin/liquidity
func (h *AdminHandler) GetLiquidity(c *fiber.Ctx) error {
	spendable, err := h.liquidity.SpendableNano(c.Context(), uuid.Nil)
	if err != nil {
		h.log.Error("failed to read hot wallet liquidity", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error", Code: "INTERNAL_ERROR"})
	}
	return c.JSON(fiber.Map{
		"spendable_nano": spendable,
		"spendable_ton":  ton.FormatTON(spendable),
	})
}

// RetryPayout переводит заблокированную по ликвидности выплату обратно в
// pending; воркер подхватит её на следующем тике.
// POST /admin/payouts/:id/retry
func (h *AdminHandler) RetryPayout(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}
	rec, err := h.txRepo.GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "transaction not found"})
		}
		return respondCoded(c, err, h.log)
	}
	if rec.Status != models.TxStatusBlockedLiquidity {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: "only liquidity-blocked payouts can be retried", Code: "PAYOUT_INVALID",
		})
	}
	moved, err := h.txRepo.UpdateStatus(c.Context(), h.pool, rec.ID, models.TxStatusBlockedLiquidity, models.TxStatusPending)
	if err != nil {
		return respondCoded(c, err, h.log)
	}
	if !moved {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "payout state changed, try again"})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
