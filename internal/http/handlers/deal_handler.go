package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/http/dto"
	"github.com/tonplace/backend/internal/middleware"
	"github.com/tonplace/backend/internal/models"
	"github.com/tonplace/backend/internal/rbac"
	"github.com/tonplace/backend/internal/services"
	"github.com/tonplace/backend/internal/ton"
)

type DealHandler struct {
	dealService *services.DealService
	log         *zap.Logger
}

func NewDealHandler(dealService *services.DealService, log *zap.Logger) *DealHandler {
	return &DealHandler{dealService: dealService, log: log}
}

// CreateDeal создаёт сделку от лица рекламодателя.
// POST /deals
func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	var req dto.CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.ChannelUsername == "" || req.OwnerUserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "channel_username and owner_user_id are required"})
	}
	ownerID, err := uuid.Parse(req.OwnerUserID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid owner_user_id"})
	}
	priceNano, err := ton.ParseTON(req.PriceTON)
	if err != nil || priceNano <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid price", Code: "INVALID_AMOUNT"})
	}

	userID := middleware.GetUserID(c)
	deal, err := h.dealService.CreateDeal(c.Context(), userID, services.CreateDealRequest{
		ChannelUsername: req.ChannelUsername,
		OwnerUserID:     ownerID,
		PriceNano:       priceNano,
	})
	if err != nil {
		return respondCoded(c, err, h.log)
	}
	return c.Status(fiber.StatusCreated).JSON(deal)
}

// ListDeals возвращает сделки пользователя с обеих сторон.
// GET /deals
func (h *DealHandler) ListDeals(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)

	deals, err := h.dealService.ListUserDeals(c.Context(), userID, limit, offset)
	if err != nil {
		return respondCoded(c, err, h.log)
	}
	return c.JSON(fiber.Map{"deals": deals})
}

// GET /deals/:id
func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	deal, err := h.dealService.GetDeal(c.Context(), dealID)
	if err != nil {
		return respondCoded(c, err, h.log)
	}
	if deal == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "deal not found", Code: "DEAL_NOT_FOUND"})
	}
	userID := middleware.GetUserID(c)
	if !rbac.HasPermission(services.DealRole(deal, userID), rbac.PermViewDeal) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not your deal", Code: "FORBIDDEN"})
	}
	return c.JSON(deal)
}

// AcceptDeal — владелец канала принимает сделку, открывается эскроу.
// POST /deals/:id/accept
func (h *DealHandler) AcceptDeal(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	userID := middleware.GetUserID(c)
	escrow, err := h.dealService.AcceptDeal(c.Context(), dealID, userID)
	if err != nil {
		return respondCoded(c, err, h.log)
	}
	return c.JSON(escrow)
}

// POST /deals/:id/cancel
func (h *DealHandler) CancelDeal(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	userID := middleware.GetUserID(c)
	if err := h.dealService.CancelDeal(c.Context(), dealID, userID); err != nil {
		return respondCoded(c, err, h.log)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// MarkPosted фиксирует публикацию и запускает hold-период.
// POST /deals/:id/posted
func (h *DealHandler) MarkPosted(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	var req dto.MarkPostedRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	post := &models.DealPost{}
	if req.TelegramMessageID != 0 {
		post.TelegramMessageID = &req.TelegramMessageID
	}
	if req.PostURL != "" {
		post.PostURL = &req.PostURL
	}
	if req.ContentHash != "" {
		post.ContentHash = &req.ContentHash
	}

	if err := h.dealService.MarkPosted(c.Context(), dealID, middleware.GetUserID(c), post); err != nil {
		return respondCoded(c, err, h.log)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// GetPaymentInfo возвращает адрес депозита и остаток к оплате.
// GET /deals/:id/payment
func (h *DealHandler) GetPaymentInfo(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	info, err := h.dealService.PaymentInfo(c.Context(), dealID)
	if err != nil {
		return respondCoded(c, err, h.log)
	}

	resp := dto.PaymentInfoResponse{
		DealID:         dealID.String(),
		DepositAddress: info.DepositAddress,
		ExpectedTON:    ton.FormatTON(info.ExpectedNano),
		PaidTON:        ton.FormatTON(info.PaidNano),
		Status:         info.Status,
	}
	if info.Deadline != nil {
		resp.Deadline = info.Deadline.Format("2006-01-02T15:04:05Z07:00")
	}
	return c.JSON(resp)
}
