package dto

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/google/uuid"
)

type CreateReportRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=5000"`
	Category    string `json:"category" validate:"required,category"`
	Location    string `json:"location" validate:"required,max=100"`
}

type ListReportsQuery struct {
	Status     string `query:"status" validate:"omitempty,report_status"`
	ReporterID string `query:"reporter_id" validate:"omitempty,uuid"`
}

type ReportResponse struct {
	ID          uuid.UUID           `json:"id"`
	ReporterID  uuid.UUID           `json:"reporter_id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Category    models.Category     `json:"category"`
	Location    string              `json:"location"`
	Status      models.ReportStatus `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func NewReportResponse(r *models.Report) ReportResponse {
	return ReportResponse{
		ID:          r.ID,
		ReporterID:  r.ReporterID,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Location:    r.Location,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func NewReportList(reports []models.Report) []ReportResponse {
	out := make([]ReportResponse, 0, len(reports))
	for i := range reports {
		out = append(out, NewReportResponse(&reports[i]))
	}
	return out
}

type ReportSummaryResponse struct {
	Rows  []models.ReportSummary `json:"rows"`
	Total int64                  `json:"total"`
}

func NewReportSummaryResponse(rows []models.ReportSummary) ReportSummaryResponse {
	resp := ReportSummaryResponse{Rows: rows}
	if resp.Rows == nil {
		resp.Rows = []models.ReportSummary{}
	}
	for _, row := range rows {
		resp.Total += row.Total
	}
	return resp
}
