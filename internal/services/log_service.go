package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"gorm.io/gorm"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 500
)

type LogFilter struct {
	Level    string
	ReportID string
	Limit    int
}

// LogService reads back the records the database log handler persisted.
type LogService struct {
	db *gorm.DB
}

func NewLogService(db *gorm.DB) *LogService {
	return &LogService{db: db}
}

// ListLogs returns persisted log records, newest first.
func (s *LogService) ListLogs(ctx context.Context, filter LogFilter) ([]models.SystemLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	query := s.db.WithContext(ctx).Order("timestamp DESC").Limit(limit)
	if filter.Level != "" {
		query = query.Where("level = ?", strings.ToUpper(filter.Level))
	}
	if filter.ReportID != "" {
		query = query.Where("report_id = ?", filter.ReportID)
	}

	logs := make([]models.SystemLog, 0)
	if err := query.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list system logs: %w", err)
	}
	return logs, nil
}
