package handlers

import (
	"context"
	"time"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/database"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/dto"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Pinger is satisfied by the Redis broker.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db    *gorm.DB
	redis Pinger
}

// NewHealthHandler builds the health check. redis may be nil when the
// process runs without a broker.
func NewHealthHandler(db *gorm.DB, redis Pinger) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	resp := dto.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        "ok",
	}

	if err := database.Ping(h.db); err != nil {
		resp.Status = "degraded"
		resp.DB = "unhealthy: " + err.Error()
	}
	if h.redis != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		resp.Redis = "ok"
		if err := h.redis.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Redis = "unhealthy: " + err.Error()
		}
	}

	if resp.Status != "ok" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}
