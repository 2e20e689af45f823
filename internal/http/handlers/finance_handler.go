package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/http/dto"
	"github.com/tonplace/backend/internal/ledger"
	"github.com/tonplace/backend/internal/middleware"
	"github.com/tonplace/backend/internal/repositories"
	"github.com/tonplace/backend/internal/services"
	"github.com/tonplace/backend/internal/ton"
)

type FinanceHandler struct {
	ledger   *ledger.Ledger
	withdraw *services.WithdrawService
	txRepo   *repositories.TransactionRepo
	log      *zap.Logger
}

func NewFinanceHandler(ldg *ledger.Ledger, withdraw *services.WithdrawService, txRepo *repositories.TransactionRepo, log *zap.Logger) *FinanceHandler {
	return &FinanceHandler{ledger: ldg, withdraw: withdraw, txRepo: txRepo, log: log}
}

// codedStatus maps service error codes to HTTP statuses.
func codedStatus(code string) int {
	switch code {
	case "WALLET_NOT_CONNECTED", "INVALID_AMOUNT":
		return fiber.StatusBadRequest
	case "INSUFFICIENT_BALANCE", "INSUFFICIENT_LIQUIDITY":
		return fiber.StatusConflict
	case "FORBIDDEN":
		return fiber.StatusForbidden
	case "DEAL_NOT_FOUND":
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func respondCoded(c *fiber.Ctx, err error, log *zap.Logger) error {
	var coded *services.CodedError
	if errors.As(err, &coded) {
		return c.Status(codedStatus(coded.Code)).JSON(dto.ErrorResponse{Error: coded.Message, Code: coded.Code})
	}
	log.Error("request failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error", Code: "INTERNAL_ERROR"})
}

// GetBalance возвращает выводимый баланс пользователя.
// GET /me/balance
func (h *FinanceHandler) GetBalance(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	balance, err := h.ledger.WithdrawableBalanceSimple(c.Context(), userID)
	if err != nil {
		return respondCoded(c, err, h.log)
	}
	return c.JSON(dto.BalanceResponse{
		WithdrawableTON:  ton.FormatTON(balance.WithdrawableNano),
		WithdrawableNano: balance.WithdrawableNano,
		InFlightNano:     balance.InFlightNano,
	})
}

// Withdraw ставит вывод в очередь на исполнение.
// POST /me/withdraw
func (h *FinanceHandler) Withdraw(c *fiber.Ctx) error {
	var req dto.WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	svcReq := services.WithdrawRequest{
		All:            req.All,
		Destination:    req.Destination,
		IdempotencyKey: req.IdempotencyKey,
	}
	if !req.All {
		amount, err := ton.ParseTON(req.AmountTON)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid amount", Code: "INVALID_AMOUNT"})
		}
		svcReq.AmountNano = amount
	}

	userID := middleware.GetUserID(c)
	record, err := h.withdraw.RequestWithdraw(c.Context(), userID, svcReq)
	if err != nil {
		return respondCoded(c, err, h.log)
	}
	return c.JSON(dto.WithdrawResponse{
		TransactionID: record.ID.String(),
		Status:        record.Status,
		AmountTON:     ton.FormatTON(record.AmountNano),
		AmountNano:    record.AmountNano,
	})
}

// ListTransactions возвращает историю финансовых записей пользователя.
// GET /me/transactions
func (h *FinanceHandler) ListTransactions(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	records, err := h.txRepo.ListByUser(c.Context(), userID, limit, offset)
	if err != nil {
		return respondCoded(c, err, h.log)
	}
	return c.JSON(fiber.Map{"transactions": records})
}
