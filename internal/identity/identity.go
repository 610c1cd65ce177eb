// Package identity carries the caller identity supplied by the auth collaborator.
package identity

import (
	"errors"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const localsKey = "caller"

var (
	ErrMissingIdentity = errors.New("missing caller identity")
	ErrInvalidRole     = errors.New("invalid caller role")
)

// Caller is who is performing an operation. The core trusts it as given.
type Caller struct {
	ID   uuid.UUID
	Role models.Role
}

func (c Caller) IsReviewer() bool { return c.Role == models.RoleReviewer }

func (c Caller) IsReporter() bool { return c.Role == models.RoleReporter }

// FromClaims reads the caller from the `sub` and `role` JWT claims.
func FromClaims(claims jwt.MapClaims) (Caller, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Caller{}, ErrMissingIdentity
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return Caller{}, ErrMissingIdentity
	}

	roleClaim, _ := claims["role"].(string)
	role := models.Role(roleClaim)
	if !role.Valid() {
		return Caller{}, ErrInvalidRole
	}
	return Caller{ID: id, Role: role}, nil
}

// FromToken extracts the caller from the token the JWT middleware stored in locals.
func FromToken(c *fiber.Ctx) (Caller, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok || token == nil {
		return Caller{}, ErrMissingIdentity
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Caller{}, ErrMissingIdentity
	}
	return FromClaims(claims)
}

// Set stores the resolved caller on the request.
func Set(c *fiber.Ctx, caller Caller) {
	c.Locals(localsKey, caller)
}

// Get returns the caller previously stored by Set.
func Get(c *fiber.Ctx) (Caller, bool) {
	caller, ok := c.Locals(localsKey).(Caller)
	return caller, ok
}
