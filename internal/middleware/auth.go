package middleware

import (
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/config"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/dto"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/identity"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
)

// JWTProtected verifies the bearer token and resolves the caller from its
// claims. Tokens without a usable sub or role are rejected as unauthenticated.
func JWTProtected(cfg *config.Config) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: []byte(cfg.JWTSecret)},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:   true,
				Message: "Unauthorized: invalid or expired token",
			})
		},
		SuccessHandler: func(c *fiber.Ctx) error {
			caller, err := identity.FromToken(c)
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
					Error:   true,
					Message: "Unauthorized: " + err.Error(),
				})
			}
			identity.Set(c, caller)
			return c.Next()
		},
	})
}

// RequireRole lets only callers with the given role through.
func RequireRole(role models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, ok := identity.Get(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}
		if caller.Role != role {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error: true, Message: string(role) + " access required",
			})
		}
		return c.Next()
	}
}
