package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateReport(ctx context.Context, report *models.Report) error {
	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

func (s *GormStore) GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	return getReport(s.db.WithContext(ctx), id)
}

func (s *GormStore) ListReports(ctx context.Context, filter ReportFilter) ([]models.Report, error) {
	query := s.db.WithContext(ctx).Model(&models.Report{})
	if filter.ReporterID != nil {
		query = query.Where("reporter_id = ?", *filter.ReporterID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	reports := []models.Report{}
	if err := query.Order("created_at DESC").Order("id").Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, nil
}

func (s *GormStore) SummarizeReports(ctx context.Context) ([]models.ReportSummary, error) {
	rows := []models.ReportSummary{}
	err := s.db.WithContext(ctx).Model(&models.Report{}).
		Select("location, category, status, COUNT(*) AS total").
		Group("location, category, status").
		Order("location ASC, category ASC, status ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to summarize reports: %w", err)
	}
	return rows, nil
}

func (s *GormStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.ReportStatus) (bool, error) {
	return compareAndSetStatus(s.db.WithContext(ctx), id, from, to)
}

func (s *GormStore) ListMessages(ctx context.Context, reportID uuid.UUID) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("seq ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

func (s *GormStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

// ReserveSeq issues the counter bump before reading so that, on PostgreSQL, the
// UPDATE takes the row lock and every later read in the transaction is stable.
func (t *gormTx) ReserveSeq(ctx context.Context, reportID uuid.UUID) (*models.Report, error) {
	db := t.db.WithContext(ctx)
	result := db.Model(&models.Report{}).
		Where("id = ?", reportID).
		UpdateColumn("last_seq", gorm.Expr("last_seq + 1"))
	if result.Error != nil {
		return nil, fmt.Errorf("failed to reserve message sequence: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return getReport(db, reportID)
}

func (t *gormTx) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := t.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (t *gormTx) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.ReportStatus) (bool, error) {
	return compareAndSetStatus(t.db.WithContext(ctx), id, from, to)
}

func getReport(db *gorm.DB, id uuid.UUID) (*models.Report, error) {
	var report models.Report
	if err := db.First(&report, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load report: %w", err)
	}
	return &report, nil
}

func compareAndSetStatus(db *gorm.DB, id uuid.UUID, from, to models.ReportStatus) (bool, error) {
	result := db.Model(&models.Report{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update report status: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
