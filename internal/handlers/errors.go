package handlers

import (
	"errors"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/attachments"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/dto"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/identity"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/realtime"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/services"
	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
)

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Message: message,
	})
}

// respondError maps service errors onto HTTP statuses. Anything unmapped is
// a 500: logged, sent to Sentry and hidden from the client.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, services.ErrReportNotFound):
		status, message = fiber.StatusNotFound, "Report not found"
	case errors.Is(err, services.ErrReportClosed):
		status, message = fiber.StatusConflict, "Report is resolved and no longer accepts messages"
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrStatusConflict):
		status, message = fiber.StatusConflict, err.Error()
	case errors.Is(err, identity.ErrMissingIdentity), errors.Is(err, identity.ErrInvalidRole):
		status, message = fiber.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, services.ErrUnauthorized):
		status, message = fiber.StatusForbidden, "Forbidden"
	case errors.Is(err, services.ErrAttachmentUploadFailed):
		status, message = fiber.StatusBadGateway, "Attachment upload failed"
	case errors.Is(err, realtime.ErrTopicUnavailable):
		status, message = fiber.StatusServiceUnavailable, "Live updates are unavailable"
	case errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrInvalidAttachment),
		errors.Is(err, services.ErrInvalidReport),
		errors.Is(err, services.ErrInvalidFilter),
		errors.Is(err, attachments.ErrEmptyFile):
		status, message = fiber.StatusBadRequest, err.Error()
	}

	if status >= fiber.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"request_id", requestID(c),
			"error", err.Error(),
		)
		if hub := sentryfiber.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		} else {
			sentry.CaptureException(err)
		}
	}

	return c.Status(status).JSON(dto.ErrorResponse{
		Error: true, Message: message,
	})
}

// ErrorHandler is the fiber app error handler for errors no handler answered.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= fiber.StatusInternalServerError {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(dto.ErrorResponse{
		Error: true, Message: message,
	})
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
