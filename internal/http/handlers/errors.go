package handlers

import (
	"errors"

	"github.com/fundsafe/backend/internal/apperr"
	"github.com/fundsafe/backend/internal/http/dto"
	"github.com/fundsafe/backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:       fiber.StatusBadRequest,
	apperr.KindUnauthorized:     fiber.StatusForbidden,
	apperr.KindInvalidState:     fiber.StatusConflict,
	apperr.KindAlreadyReleased:  fiber.StatusConflict,
	apperr.KindAlreadyUsed:      fiber.StatusConflict,
	apperr.KindExpired:          fiber.StatusGone,
	apperr.KindMismatch:         fiber.StatusUnprocessableEntity,
	apperr.KindNotFound:         fiber.StatusNotFound,
	apperr.KindEscalationFailed: fiber.StatusBadGateway,
	apperr.KindInternal:         fiber.StatusInternalServerError,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return fiber.StatusInternalServerError
}

// respondError writes err as an ErrorResponse. Errors without a kind are
// logged and reported as a generic internal error.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	reqID := middleware.GetRequestID(c)

	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind == apperr.KindInternal {
		log.Error("request failed",
			zap.String("request_id", reqID),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error:     "internal error",
			Kind:      string(apperr.KindInternal),
			RequestID: reqID,
		})
	}

	if ae.Kind == apperr.KindEscalationFailed {
		log.Warn("compliance escalation failed", zap.String("request_id", reqID), zap.Error(err))
	}
	return c.Status(StatusFor(ae.Kind)).JSON(dto.ErrorResponse{
		Error:     ae.Message,
		Kind:      string(ae.Kind),
		RequestID: reqID,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:     msg,
		Kind:      string(apperr.KindValidation),
		RequestID: middleware.GetRequestID(c),
	})
}

// ErrorHandler is the fiber fallback for errors returned by handlers and
// for routing errors.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(dto.ErrorResponse{
				Error:     fe.Message,
				RequestID: middleware.GetRequestID(c),
			})
		}
		return respondError(c, log, err)
	}
}
