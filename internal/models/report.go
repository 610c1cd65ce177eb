package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReportStatus is the lifecycle state of an incident report.
type ReportStatus string

const (
	StatusPending    ReportStatus = "pending"
	StatusInProgress ReportStatus = "in_progress"
	StatusResolved   ReportStatus = "resolved"
)

// Valid reports whether s is one of the known lifecycle states.
func (s ReportStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved:
		return true
	default:
		return false
	}
}

// Category is the closed set of incident types a reporter can pick.
type Category string

const (
	CategoryPhishing          Category = "phishing"
	CategoryMalware           Category = "malware"
	CategorySocialEngineering Category = "social_engineering"
	CategoryDataBreach        Category = "data_breach"
	CategoryOnlineScam        Category = "online_scam"
	CategoryCyberbullying     Category = "cyberbullying"
	CategoryAccountHack       Category = "account_hack"
	CategoryOther             Category = "other"
)

var Categories = []Category{
	CategoryPhishing,
	CategoryMalware,
	CategorySocialEngineering,
	CategoryDataBreach,
	CategoryOnlineScam,
	CategoryCyberbullying,
	CategoryAccountHack,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Report is a filed incident. Status is only ever changed by the thread service.
type Report struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ReporterID  uuid.UUID    `gorm:"type:uuid;not null;index" json:"reporter_id"`
	Title       string       `gorm:"not null;size:200" json:"title"`
	Description string       `gorm:"type:text;not null" json:"description"`
	Category    Category     `gorm:"not null;size:50;index" json:"category"`
	Location    string       `gorm:"not null;size:100;index" json:"location"`
	Status      ReportStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`
	LastSeq     int64        `gorm:"not null;default:0" json:"-"`
	CreatedAt   time.Time    `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (Report) TableName() string {
	return "incident_reports"
}

// ReportSummary is one row of the per-location impact breakdown.
type ReportSummary struct {
	Location string       `json:"location"`
	Category Category     `json:"category"`
	Status   ReportStatus `json:"status"`
	Total    int64        `json:"total"`
}
