// Package realtime fans newly appended thread messages out to live subscribers.
//
// Every report has its own logical channel. A channel exists while it has at
// least one subscriber and is dropped with its last one. Publishing never
// blocks: a subscriber whose buffer is full is closed with ErrSubscriberLagged
// and is expected to refetch the thread and subscribe again.
package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/google/uuid"
)

const DefaultBufferSize = 64

var (
	ErrSubscriberLagged = errors.New("subscriber fell behind and must resync")
	ErrHubClosed        = errors.New("realtime hub closed")
	ErrTopicUnavailable = errors.New("report channel unavailable")
)

// Publisher accepts persisted messages for fan-out. Publish must not block.
type Publisher interface {
	Publish(msg models.Message)
}

// Notifier is the full publish/subscribe surface.
type Notifier interface {
	Publisher
	Subscribe(ctx context.Context, reportID uuid.UUID) (*Subscription, error)
}

// TopicObserver is told when a report channel gains its first subscriber or
// loses its last one.
type TopicObserver func(reportID uuid.UUID)

// Hub is the in-process realtime notifier.
type Hub struct {
	mu      sync.Mutex
	topics  map[uuid.UUID]map[*Subscription]struct{}
	buffer  int
	closed  bool
	onTopic TopicObserver
}

type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber queue length.
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithTopicObserver registers a callback run, outside the hub lock, whenever a
// report channel opens or closes.
func WithTopicObserver(fn TopicObserver) HubOption {
	return func(h *Hub) {
		h.onTopic = fn
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		topics: make(map[uuid.UUID]map[*Subscription]struct{}),
		buffer: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe opens a handle on the report's channel. Messages published after
// this call returns are delivered in publish order. The handle is released by
// Close or when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, reportID uuid.UUID) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &Subscription{
		ReportID: reportID,
		ch:       make(chan models.Message, h.buffer),
		done:     make(chan struct{}),
		hub:      h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	subs, ok := h.topics[reportID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[reportID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	metrics.Subscribers.Inc()
	if !ok {
		h.notifyTopic(reportID)
	}

	go func() {
		select {
		case <-ctx.Done():
			h.remove(sub, ctx.Err())
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Publish queues msg for every current subscriber of its report.
func (h *Hub) Publish(msg models.Message) {
	metrics.Published.Inc()
	h.deliver(msg)
}

// deliver hands msg to local subscribers without touching the publish counter.
// Bridges that receive messages from elsewhere use it directly.
func (h *Hub) deliver(msg models.Message) {
	var lagged []*Subscription

	h.mu.Lock()
	subs := h.topics[msg.ReportID]
	if len(subs) == 0 {
		h.mu.Unlock()
		metrics.Dropped.WithLabelValues("no_subscribers").Inc()
		return
	}
	for sub := range subs {
		select {
		case sub.ch <- msg:
			metrics.Delivered.Inc()
		default:
			lagged = append(lagged, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range lagged {
		metrics.Dropped.WithLabelValues("subscriber_lagged").Inc()
		h.remove(sub, ErrSubscriberLagged)
	}
}

// Subscribers returns how many live handles the report channel has.
func (h *Hub) Subscribers(reportID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[reportID])
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, subs := range h.topics {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		h.remove(sub, ErrHubClosed)
	}
}

// closeTopic ends every subscription on one report channel with reason.
func (h *Hub) closeTopic(reportID uuid.UUID, reason error) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.topics[reportID]))
	for sub := range h.topics[reportID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.remove(sub, reason)
	}
}

func (h *Hub) remove(sub *Subscription, reason error) {
	h.mu.Lock()
	subs, ok := h.topics[sub.ReportID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := subs[sub]; !ok {
		h.mu.Unlock()
		return
	}
	delete(subs, sub)
	lastOut := len(subs) == 0
	if lastOut {
		delete(h.topics, sub.ReportID)
	}
	// Sends happen under h.mu, so closing here cannot race a send.
	sub.err = reason
	close(sub.ch)
	close(sub.done)
	h.mu.Unlock()

	metrics.Subscribers.Dec()
	if lastOut {
		h.notifyTopic(sub.ReportID)
	}
}

func (h *Hub) notifyTopic(reportID uuid.UUID) {
	if h.onTopic != nil {
		h.onTopic(reportID)
	}
}
