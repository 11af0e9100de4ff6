package handlers

import (
	"context"
	"time"

	"github.com/fundsafe/backend/internal/http/dto"
	"github.com/fundsafe/backend/internal/middleware"
	"github.com/fundsafe/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type TacAPI interface {
	IssueAndDeliver(ctx context.Context, userID, purpose, to string, ttl time.Duration) (*models.TacCode, error)
	Verify(ctx context.Context, userID, purpose, code string) error
}

// TacHandler issues and verifies codes for the calling user only.
type TacHandler struct {
	tacs TacAPI
	log  *zap.Logger
}

func NewTacHandler(tacs TacAPI, log *zap.Logger) *TacHandler {
	return &TacHandler{tacs: tacs, log: log}
}

func (h *TacHandler) Issue(c *fiber.Ctx) error {
	var req dto.IssueTACRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.TTLSeconds < 0 {
		return badRequest(c, "ttl_seconds must not be negative")
	}

	actor := middleware.GetActor(c)
	tac, err := h.tacs.IssueAndDeliver(c.UserContext(), actor.ID, req.Purpose, req.To, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.IssueTACResponse{
		Purpose:   tac.Purpose,
		ExpiresAt: tac.ExpiresAt,
	}})
}

func (h *TacHandler) Verify(c *fiber.Ctx) error {
	var req dto.VerifyTACRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	if err := h.tacs.Verify(c.UserContext(), middleware.GetActor(c).ID, req.Purpose, req.Code); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
