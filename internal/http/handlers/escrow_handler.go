package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/fundsafe/backend/internal/http/dto"
	"github.com/fundsafe/backend/internal/middleware"
	"github.com/fundsafe/backend/internal/models"
	"github.com/fundsafe/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EscrowAPI is the part of services.EscrowService the handlers use.
type EscrowAPI interface {
	Create(ctx context.Context, actor models.Actor, in services.CreateEscrowInput) (*models.Escrow, error)
	Get(ctx context.Context, escrowID string, actor models.Actor) (*models.Escrow, error)
	List(ctx context.Context, actor models.Actor, limit, offset int) ([]models.Escrow, error)
	Logs(ctx context.Context, escrowID string, actor models.Actor) ([]models.EscrowLog, error)
	Fund(ctx context.Context, escrowID string, actor models.Actor) (*models.Escrow, error)
	RequestRelease(ctx context.Context, escrowID string, actor models.Actor) (*models.Escrow, error)
	Release(ctx context.Context, escrowID string, actor models.Actor) (*models.Escrow, error)
	OpenDispute(ctx context.Context, escrowID string, actor models.Actor, reason string) (*models.Escrow, error)
	ResolveDispute(ctx context.Context, escrowID string, actor models.Actor, outcome, note string) (*models.Escrow, error)
	UpdateMetadata(ctx context.Context, escrowID string, actor models.Actor, m models.EscrowMetadata) (*models.Escrow, error)
	Cancel(ctx context.Context, escrowID string, actor models.Actor, reason string) (*models.Escrow, error)
	Refund(ctx context.Context, escrowID string, actor models.Actor) (*models.Escrow, error)
}

type EscrowHandler struct {
	escrows EscrowAPI
	log     *zap.Logger
}

func NewEscrowHandler(escrows EscrowAPI, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrows: escrows, log: log}
}

func escrowID(c *fiber.Ctx) string {
	return strings.ToUpper(strings.TrimSpace(c.Params("id")))
}

func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return badRequest(c, "amount must be a decimal number")
	}

	e, err := h.escrows.Create(c.UserContext(), middleware.GetActor(c), services.CreateEscrowInput{
		ReceiverID:          strings.TrimSpace(req.ReceiverID),
		ReceiverName:        strings.TrimSpace(req.ReceiverName),
		Amount:              amount,
		Currency:            strings.ToUpper(strings.TrimSpace(req.Currency)),
		Title:               req.Title,
		Description:         req.Description,
		Terms:               req.Terms,
		ExpectedReleaseDate: req.ExpectedReleaseDate,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: e})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	e, err := h.escrows.Get(c.UserContext(), escrowID(c), middleware.GetActor(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: e})
}

func (h *EscrowHandler) ListEscrows(c *fiber.Ctx) error {
	limit, offset := 20, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	items, err := h.escrows.List(c.UserContext(), middleware.GetActor(c), limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if items == nil {
		items = []models.Escrow{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ListResponse{Items: items, Limit: limit, Offset: offset}})
}

func (h *EscrowHandler) GetLogs(c *fiber.Ctx) error {
	logs, err := h.escrows.Logs(c.UserContext(), escrowID(c), middleware.GetActor(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	if logs == nil {
		logs = []models.EscrowLog{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *EscrowHandler) UpdateEscrow(c *fiber.Ctx) error {
	var req dto.UpdateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	return h.reply(c)(h.escrows.UpdateMetadata(c.UserContext(), escrowID(c), middleware.GetActor(c), models.EscrowMetadata{
		Title:               req.Title,
		Description:         req.Description,
		Terms:               req.Terms,
		ExpectedReleaseDate: req.ExpectedReleaseDate,
	}))
}

func (h *EscrowHandler) FundEscrow(c *fiber.Ctx) error {
	return h.reply(c)(h.escrows.Fund(c.UserContext(), escrowID(c), middleware.GetActor(c)))
}

func (h *EscrowHandler) RequestRelease(c *fiber.Ctx) error {
	return h.reply(c)(h.escrows.RequestRelease(c.UserContext(), escrowID(c), middleware.GetActor(c)))
}

func (h *EscrowHandler) ReleaseEscrow(c *fiber.Ctx) error {
	return h.reply(c)(h.escrows.Release(c.UserContext(), escrowID(c), middleware.GetActor(c)))
}

func (h *EscrowHandler) OpenDispute(c *fiber.Ctx) error {
	var req dto.OpenDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	return h.reply(c)(h.escrows.OpenDispute(c.UserContext(), escrowID(c), middleware.GetActor(c), req.Reason))
}

func (h *EscrowHandler) ResolveDispute(c *fiber.Ctx) error {
	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	return h.reply(c)(h.escrows.ResolveDispute(c.UserContext(), escrowID(c), middleware.GetActor(c), req.Outcome, req.Note))
}

func (h *EscrowHandler) CancelEscrow(c *fiber.Ctx) error {
	var req dto.CancelEscrowRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
	}
	return h.reply(c)(h.escrows.Cancel(c.UserContext(), escrowID(c), middleware.GetActor(c), req.Reason))
}

func (h *EscrowHandler) RefundEscrow(c *fiber.Ctx) error {
	return h.reply(c)(h.escrows.Refund(c.UserContext(), escrowID(c), middleware.GetActor(c)))
}

func (h *EscrowHandler) reply(c *fiber.Ctx) func(*models.Escrow, error) error {
	return func(e *models.Escrow, err error) error {
		if err != nil {
			return respondError(c, h.log, err)
		}
		return c.JSON(dto.SuccessResponse{OK: true, Data: e})
	}
}
