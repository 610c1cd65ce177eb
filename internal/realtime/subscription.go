package realtime

import (
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/google/uuid"
)

// Subscription is a live handle on one report channel.
type Subscription struct {
	ReportID uuid.UUID

	ch   chan models.Message
	done chan struct{}
	err  error
	hub  *Hub
}

// Messages yields messages in publish order. It is closed when the
// subscription ends; Err then tells why.
func (s *Subscription) Messages() <-chan models.Message {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err is nil while the subscription is live or after Close. It is
// ErrSubscriberLagged or ErrTopicUnavailable when the subscriber must refetch
// the thread, or the context error when the subscribing context ended.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Close releases the subscription slot. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s, nil)
}
