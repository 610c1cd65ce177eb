package handlers

import (
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/dto"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/services"
	"github.com/gofiber/fiber/v2"
)

type LogHandler struct {
	logService *services.LogService
	validate   *dto.Validator
}

func NewLogHandler(logService *services.LogService, validate *dto.Validator) *LogHandler {
	return &LogHandler{logService: logService, validate: validate}
}

func (h *LogHandler) List(c *fiber.Ctx) error {
	var q dto.LogQuery
	if err := c.QueryParser(&q); err != nil {
		return badRequest(c, "Invalid query parameters")
	}
	if err := h.validate.Validate(q); err != nil {
		return badRequest(c, err.Error())
	}

	logs, err := h.logService.ListLogs(c.UserContext(), services.LogFilter{
		Level:    q.Level,
		ReportID: q.ReportID,
		Limit:    q.Limit,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(logs)
}
