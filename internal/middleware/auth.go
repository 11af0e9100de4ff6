package middleware

import (
	"strings"

	"github.com/fundsafe/backend/internal/auth"
	"github.com/fundsafe/backend/internal/config"
	"github.com/fundsafe/backend/internal/http/dto"
	"github.com/fundsafe/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const CtxActor = "actor"

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "missing authorization header")
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return unauthorized(c, "invalid authorization format")
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(CtxActor, ActorFromClaims(cfg, claims, c.IP()))
		return c.Next()
	}
}

// ActorFromClaims resolves the caller. Admin comes either from the token role
// or from ADMIN_USER_IDS.
func ActorFromClaims(cfg *config.Config, claims *auth.Claims, ip string) models.Actor {
	role := models.ActorRoleUser
	if claims.Role == models.ActorRoleAdmin || cfg.IsAdmin(claims.Subject) {
		role = models.ActorRoleAdmin
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return models.Actor{
		ID:          claims.Subject,
		DisplayName: name,
		Role:        role,
		IP:          ip,
	}
}

func GetActor(c *fiber.Ctx) models.Actor {
	a, _ := c.Locals(CtxActor).(models.Actor)
	return a
}

// AdminMiddleware requires an admin actor.
func AdminMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !GetActor(c).IsAdmin() {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error:     "admin access required",
				Kind:      "unauthorized",
				RequestID: GetRequestID(c),
			})
		}
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
		Error:     msg,
		Kind:      "unauthorized",
		RequestID: GetRequestID(c),
	})
}
