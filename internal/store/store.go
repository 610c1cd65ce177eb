// Package store persists reports and their message threads.
//
// The store carries no business rules. It offers the two primitives the thread
// service builds on: a compare-and-set on report status and a per-report
// sequence reservation that serializes appends to the same report.
package store

import (
	"context"
	"errors"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("report not found")

// ReportFilter narrows ListReports. Nil fields are ignored.
type ReportFilter struct {
	ReporterID *uuid.UUID
	Status     *models.ReportStatus
}

type ReportStore interface {
	CreateReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]models.Report, error)
	SummarizeReports(ctx context.Context) ([]models.ReportSummary, error)
	// CompareAndSetStatus moves the report to `to` only if its status is still `from`.
	// It reports whether a row changed.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.ReportStatus) (bool, error)
}

type MessageStore interface {
	// ListMessages returns the thread in sequence order.
	ListMessages(ctx context.Context, reportID uuid.UUID) ([]models.Message, error)
}

// Tx is the store as seen from inside one atomic unit of work.
type Tx interface {
	// ReserveSeq bumps the report's message counter and returns the report as it
	// is after the bump. The reservation holds the report row until the unit ends.
	ReserveSeq(ctx context.Context, reportID uuid.UUID) (*models.Report, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.ReportStatus) (bool, error)
}

type Store interface {
	ReportStore
	MessageStore
	// Atomic runs fn in a single transaction. Returning an error rolls back every write.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}
