package handlers

import (
	"context"

	"github.com/fundsafe/backend/internal/http/dto"
	"github.com/fundsafe/backend/internal/middleware"
	"github.com/fundsafe/backend/internal/models"
	"github.com/fundsafe/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ComplianceAPI interface {
	Escalate(ctx context.Context, escrowID string, actor models.Actor, requestType, reason string) (string, error)
	VerifyTACForRelease(ctx context.Context, escrowID, code string, actor models.Actor) (*models.Escrow, error)
	GetStatus(ctx context.Context, escrowID string, actor models.Actor) (*services.ComplianceStatus, error)
}

type ComplianceHandler struct {
	compliance ComplianceAPI
	log        *zap.Logger
}

func NewComplianceHandler(compliance ComplianceAPI, log *zap.Logger) *ComplianceHandler {
	return &ComplianceHandler{compliance: compliance, log: log}
}

func (h *ComplianceHandler) Escalate(c *fiber.Ctx) error {
	var req dto.EscalateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
	}

	id := escrowID(c)
	ref, err := h.compliance.Escalate(c.UserContext(), id, middleware.GetActor(c), req.RequestType, req.Reason)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.SuccessResponse{OK: true, Data: dto.EscalateResponse{
		EscrowID:  id,
		Reference: ref,
	}})
}

func (h *ComplianceHandler) VerifyTAC(c *fiber.Ctx) error {
	var req dto.ComplianceTACRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Code == "" {
		return badRequest(c, "code is required")
	}

	e, err := h.compliance.VerifyTACForRelease(c.UserContext(), escrowID(c), req.Code, middleware.GetActor(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: e})
}

func (h *ComplianceHandler) GetStatus(c *fiber.Ctx) error {
	st, err := h.compliance.GetStatus(c.UserContext(), escrowID(c), middleware.GetActor(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: st})
}
