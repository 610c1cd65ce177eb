// Package lifecycle holds the report status state machine.
//
// A report moves pending → in_progress → resolved and never back. Triggers that
// would skip a state or leave resolved are rejected; triggers that ask for the
// state the report is already in are reported as no-ops so concurrent callers
// observe the same outcome.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrReportClosed      = errors.New("report is resolved and closed to new messages")
	ErrUnknownStatus     = errors.New("unknown report status")
)

// Trigger is an event that may move a report to another status.
type Trigger int

const (
	// TriggerMessage fires on every successful message append.
	TriggerMessage Trigger = iota
	// TriggerStart is the explicit reviewer "start working" action.
	TriggerStart
	// TriggerResolve is the explicit reviewer "resolve" action.
	TriggerResolve
)

func (t Trigger) String() string {
	switch t {
	case TriggerMessage:
		return "message"
	case TriggerStart:
		return "start"
	case TriggerResolve:
		return "resolve"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

// Apply returns the status that results from firing t while in from.
// changed is false when the trigger leaves the status as is.
func Apply(from models.ReportStatus, t Trigger) (to models.ReportStatus, changed bool, err error) {
	switch from {
	case models.StatusPending:
		switch t {
		case TriggerMessage, TriggerStart:
			return models.StatusInProgress, true, nil
		case TriggerResolve:
			return from, false, fmt.Errorf("%w: %s cannot be resolved before work starts", ErrInvalidTransition, from)
		}
	case models.StatusInProgress:
		switch t {
		case TriggerMessage, TriggerStart:
			return from, false, nil
		case TriggerResolve:
			return models.StatusResolved, true, nil
		}
	case models.StatusResolved:
		switch t {
		case TriggerMessage:
			return from, false, ErrReportClosed
		case TriggerStart:
			return from, false, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
		case TriggerResolve:
			return from, false, nil
		}
	default:
		return from, false, fmt.Errorf("%w: %q", ErrUnknownStatus, string(from))
	}
	return from, false, fmt.Errorf("%w: unsupported trigger %s", ErrInvalidTransition, t)
}

// CanTransition reports whether from → to is a single legal step.
func CanTransition(from, to models.ReportStatus) bool {
	switch from {
	case models.StatusPending:
		return to == models.StatusInProgress
	case models.StatusInProgress:
		return to == models.StatusResolved
	case models.StatusResolved:
		return false
	default:
		return false
	}
}

// AcceptsMessages reports whether a thread in status s is open for new messages.
func AcceptsMessages(s models.ReportStatus) bool {
	switch s {
	case models.StatusPending, models.StatusInProgress:
		return true
	case models.StatusResolved:
		return false
	default:
		return false
	}
}

// Rank orders statuses along the lifecycle. Unknown statuses rank -1.
func Rank(s models.ReportStatus) int {
	switch s {
	case models.StatusPending:
		return 0
	case models.StatusInProgress:
		return 1
	case models.StatusResolved:
		return 2
	default:
		return -1
	}
}
