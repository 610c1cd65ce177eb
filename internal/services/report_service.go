package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/identity"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/store"
	"github.com/google/uuid"
)

var (
	ErrInvalidReport = errors.New("invalid report")
	ErrInvalidFilter = errors.New("invalid report filter")
)

type SubmitReportInput struct {
	Title       string
	Description string
	Category    models.Category
	Location    string
}

type ReportService struct {
	store store.ReportStore
}

func NewReportService(st store.ReportStore) *ReportService {
	return &ReportService{store: st}
}

func (s *ReportService) SubmitReport(ctx context.Context, caller identity.Caller, in SubmitReportInput) (*models.Report, error) {
	if !caller.IsReporter() || caller.ID == uuid.Nil {
		return nil, ErrUnauthorized
	}

	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	location := strings.TrimSpace(in.Location)
	switch {
	case title == "" || utf8.RuneCountInString(title) > 200:
		return nil, fmt.Errorf("%w: title is required and must be at most 200 characters", ErrInvalidReport)
	case description == "":
		return nil, fmt.Errorf("%w: description is required", ErrInvalidReport)
	case !in.Category.Valid():
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidReport, string(in.Category))
	case location == "" || utf8.RuneCountInString(location) > 100:
		return nil, fmt.Errorf("%w: location is required and must be at most 100 characters", ErrInvalidReport)
	}

	report := &models.Report{
		ReporterID:  caller.ID,
		Title:       title,
		Description: description,
		Category:    in.Category,
		Location:    location,
		Status:      models.StatusPending,
	}
	if err := s.store.CreateReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// ListReports returns reports newest first. Reporters only ever see their own.
func (s *ReportService) ListReports(ctx context.Context, caller identity.Caller, filter store.ReportFilter) ([]models.Report, error) {
	if !caller.Role.Valid() {
		return nil, ErrUnauthorized
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, string(*filter.Status))
	}
	if caller.IsReporter() {
		id := caller.ID
		filter.ReporterID = &id
	}
	return s.store.ListReports(ctx, filter)
}

func (s *ReportService) GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	return s.store.GetReport(ctx, id)
}

// SummarizeReports counts reports per location, category and status.
func (s *ReportService) SummarizeReports(ctx context.Context) ([]models.ReportSummary, error) {
	return s.store.SummarizeReports(ctx)
}
