package handlers

import (
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/dto"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/identity"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/services"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type ReportHandler struct {
	reportService *services.ReportService
	validate      *dto.Validator
}

func NewReportHandler(reportService *services.ReportService, validate *dto.Validator) *ReportHandler {
	return &ReportHandler{reportService: reportService, validate: validate}
}

func (h *ReportHandler) Create(c *fiber.Ctx) error {
	caller, ok := identity.Get(c)
	if !ok {
		return respondError(c, identity.ErrMissingIdentity)
	}

	var req dto.CreateReportRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := h.validate.Validate(req); err != nil {
		return badRequest(c, err.Error())
	}

	report, err := h.reportService.SubmitReport(c.UserContext(), caller, services.SubmitReportInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    models.Category(req.Category),
		Location:    req.Location,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewReportResponse(report))
}

func (h *ReportHandler) List(c *fiber.Ctx) error {
	caller, ok := identity.Get(c)
	if !ok {
		return respondError(c, identity.ErrMissingIdentity)
	}

	var q dto.ListReportsQuery
	if err := c.QueryParser(&q); err != nil {
		return badRequest(c, "Invalid query parameters")
	}
	if err := h.validate.Validate(q); err != nil {
		return badRequest(c, err.Error())
	}

	var filter store.ReportFilter
	if q.Status != "" {
		status := models.ReportStatus(q.Status)
		filter.Status = &status
	}
	if q.ReporterID != "" {
		id, err := uuid.Parse(q.ReporterID)
		if err != nil {
			return badRequest(c, "Invalid reporter_id")
		}
		filter.ReporterID = &id
	}

	reports, err := h.reportService.ListReports(c.UserContext(), caller, filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.NewReportList(reports))
}

func (h *ReportHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid report ID")
	}

	report, err := h.reportService.GetReport(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.NewReportResponse(report))
}

// Summary is the impact breakdown by location, category and status.
func (h *ReportHandler) Summary(c *fiber.Ctx) error {
	rows, err := h.reportService.SummarizeReports(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.NewReportSummaryResponse(rows))
}
