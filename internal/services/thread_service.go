package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/identity"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/lifecycle"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/realtime"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/store"
	"github.com/google/uuid"
)

var (
	ErrReportNotFound         = store.ErrNotFound
	ErrReportClosed           = lifecycle.ErrReportClosed
	ErrInvalidTransition      = lifecycle.ErrInvalidTransition
	ErrUnauthorized           = errors.New("caller is not allowed to perform this action")
	ErrAttachmentUploadFailed = errors.New("attachment upload failed")
	ErrEmptyMessage           = errors.New("message must have a body or an attachment")
	ErrInvalidAttachment      = errors.New("attachment must have a URL")
	ErrStatusConflict         = errors.New("report status kept changing, try again")
)

// A report has three states and never goes back, so a CAS can lose at most
// twice before the trigger either applies or becomes a no-op.
const maxTransitionAttempts = 3

type AppendInput struct {
	Body       string
	Attachment *models.Attachment
}

// ThreadService owns every write to a report's thread and status.
type ThreadService struct {
	store     store.Store
	publisher realtime.Publisher
	locks     *keyedMutex
}

func NewThreadService(st store.Store, publisher realtime.Publisher) *ThreadService {
	return &ThreadService{
		store:     st,
		publisher: publisher,
		locks:     newKeyedMutex(),
	}
}

// AppendMessage persists a message and, for a pending report, moves it to
// in_progress in the same transaction. The message is published only after
// the transaction commits.
func (s *ThreadService) AppendMessage(ctx context.Context, caller identity.Caller, reportID uuid.UUID, in AppendInput) (*models.Message, error) {
	if !caller.Role.Valid() || caller.ID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	if in.Attachment != nil && strings.TrimSpace(in.Attachment.URL) == "" {
		return nil, ErrInvalidAttachment
	}
	if strings.TrimSpace(in.Body) == "" && in.Attachment == nil {
		return nil, ErrEmptyMessage
	}

	// Held until after Publish so local subscribers see commit order.
	unlock, err := s.locks.Lock(ctx, reportID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		msg        models.Message
		from, to   models.ReportStatus
		transition bool
	)
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		report, err := tx.ReserveSeq(ctx, reportID)
		if err != nil {
			return err
		}

		next, changed, err := lifecycle.Apply(report.Status, lifecycle.TriggerMessage)
		if err != nil {
			return err
		}

		msg = models.Message{
			ReportID: reportID,
			Seq:      report.LastSeq,
			Sender:   caller.Role,
			SenderID: caller.ID,
			Body:     in.Body,
		}
		msg.SetAttachment(in.Attachment)
		if err := tx.InsertMessage(ctx, &msg); err != nil {
			return err
		}

		if !changed {
			return nil
		}
		ok, err := tx.CompareAndSetStatus(ctx, reportID, report.Status, next)
		if err != nil {
			return err
		}
		if !ok {
			return ErrStatusConflict
		}
		from, to, transition = report.Status, next, true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrReportNotFound) || errors.Is(err, ErrReportClosed) {
			return nil, err
		}
		slog.Error("append message failed",
			"report_id", reportID.String(),
			"user_id", caller.ID.String(),
			"action", "append_message",
			"error", err.Error(),
		)
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	metrics.MessagesAppended.WithLabelValues(string(msg.Sender)).Inc()
	if transition {
		metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
		slog.Info("report status changed",
			"report_id", reportID.String(),
			"user_id", caller.ID.String(),
			"action", "append_message",
			"from", string(from),
			"to", string(to),
		)
	}

	s.publisher.Publish(msg)
	return &msg, nil
}

// StartReport is the explicit reviewer action that opens work on a report.
func (s *ThreadService) StartReport(ctx context.Context, caller identity.Caller, reportID uuid.UUID) (*models.Report, error) {
	return s.fire(ctx, caller, reportID, lifecycle.TriggerStart)
}

// ResolveReport closes a report to further messages. Resolving a resolved
// report returns it unchanged.
func (s *ThreadService) ResolveReport(ctx context.Context, caller identity.Caller, reportID uuid.UUID) (*models.Report, error) {
	return s.fire(ctx, caller, reportID, lifecycle.TriggerResolve)
}

func (s *ThreadService) fire(ctx context.Context, caller identity.Caller, reportID uuid.UUID, trigger lifecycle.Trigger) (*models.Report, error) {
	if !caller.IsReviewer() {
		return nil, ErrUnauthorized
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		report, err := s.store.GetReport(ctx, reportID)
		if err != nil {
			return nil, err
		}

		next, changed, err := lifecycle.Apply(report.Status, trigger)
		if err != nil {
			return nil, err
		}
		if !changed {
			return report, nil
		}

		ok, err := s.store.CompareAndSetStatus(ctx, reportID, report.Status, next)
		if err != nil {
			return nil, fmt.Errorf("failed to %s report: %w", trigger, err)
		}
		if !ok {
			continue
		}

		metrics.StatusTransitions.WithLabelValues(string(report.Status), string(next)).Inc()
		slog.Info("report status changed",
			"report_id", reportID.String(),
			"user_id", caller.ID.String(),
			"action", trigger.String(),
			"from", string(report.Status),
			"to", string(next),
		)
		return s.store.GetReport(ctx, reportID)
	}
	return nil, ErrStatusConflict
}

// GetThread returns the report's messages in sequence order.
func (s *ThreadService) GetThread(ctx context.Context, reportID uuid.UUID) ([]models.Message, error) {
	if _, err := s.store.GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, reportID)
}

// CheckAcceptsMessages reports whether the report exists and is still open.
// It lets callers skip expensive work for a message that would be refused;
// AppendMessage checks again inside its transaction.
func (s *ThreadService) CheckAcceptsMessages(ctx context.Context, reportID uuid.UUID) error {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if !lifecycle.AcceptsMessages(report.Status) {
		return ErrReportClosed
	}
	return nil
}
