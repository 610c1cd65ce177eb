package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BrokerConfig tunes a RedisBroker. Zero values fall back to defaults.
type BrokerConfig struct {
	Prefix         string
	BufferSize     int
	QueueSize      int
	PublishTimeout time.Duration
}

// RedisBroker spreads messages across server instances through Redis pub/sub.
// Local subscribers hang off an embedded Hub; a Redis channel is subscribed
// only while the matching local report channel has subscribers. Subscribe
// returns once Redis has acknowledged the channel subscription.
type RedisBroker struct {
	client  *redis.Client
	hub     *Hub
	pubsub  *redis.PubSub
	prefix  string
	timeout time.Duration
	queue   chan models.Message

	// mu guards active and the per-channel SUBSCRIBE counters. Redis answers
	// SUBSCRIBE commands on a connection in order, so the n-th ack for a
	// channel confirms the n-th command sent for it.
	mu     sync.Mutex
	active map[uuid.UUID]*topic
	sent   map[string]int
	acked  map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// topic tracks one Redis channel subscription.
type topic struct {
	seq       int
	ready     chan struct{}
	confirmed bool
}

// wireMessage is the Redis payload. It carries every column, including the
// attachment fields the public JSON form nests elsewhere.
type wireMessage struct {
	ID                uuid.UUID   `json:"id"`
	ReportID          uuid.UUID   `json:"report_id"`
	Seq               int64       `json:"seq"`
	Sender            models.Role `json:"sender"`
	SenderID          uuid.UUID   `json:"sender_id"`
	Body              string      `json:"body"`
	AttachmentURL     string      `json:"attachment_url,omitempty"`
	AttachmentIsImage bool        `json:"attachment_is_image,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

func NewRedisBroker(client *redis.Client, cfg BrokerConfig) *RedisBroker {
	if cfg.Prefix == "" {
		cfg.Prefix = "incident-desk:thread:"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisBroker{
		client:  client,
		prefix:  cfg.Prefix,
		timeout: cfg.PublishTimeout,
		queue:   make(chan models.Message, cfg.QueueSize),
		active:  make(map[uuid.UUID]*topic),
		sent:    make(map[string]int),
		acked:   make(map[string]int),
		ctx:     ctx,
		cancel:  cancel,
	}
	b.hub = NewHub(WithBufferSize(cfg.BufferSize), WithTopicObserver(b.onTopic))
	b.pubsub = client.Subscribe(ctx)

	b.wg.Add(2)
	go b.publishLoop()
	go b.receiveLoop()
	return b
}

// Publish enqueues msg for Redis. A full queue drops the message; subscribers
// recover by refetching the thread.
func (b *RedisBroker) Publish(msg models.Message) {
	select {
	case b.queue <- msg:
		metrics.Published.Inc()
	default:
		metrics.Dropped.WithLabelValues("queue_full").Inc()
		slog.Warn("realtime publish queue full", "report_id", msg.ReportID.String(), "seq", msg.Seq)
	}
}

// Subscribe opens a local handle and waits until Redis confirms the report
// channel, so messages published anywhere after it returns are delivered.
func (b *RedisBroker) Subscribe(ctx context.Context, reportID uuid.UUID) (*Subscription, error) {
	sub, err := b.hub.Subscribe(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if err := b.awaitTopic(ctx, reportID); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// Subscribers returns the number of local subscribers on a report channel.
func (b *RedisBroker) Subscribers(reportID uuid.UUID) int {
	return b.hub.Subscribers(reportID)
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close ends local subscriptions, flushes what is already queued and releases
// the Redis subscription.
func (b *RedisBroker) Close() error {
	b.hub.Close()
	b.cancel()
	b.wg.Wait()
	return b.pubsub.Close()
}

func (b *RedisBroker) channel(reportID uuid.UUID) string {
	return b.prefix + reportID.String()
}

// onTopic runs when a local report channel opens or closes. A channel that
// cannot be subscribed in Redis would never see a message, so its local
// subscribers are ended and resync.
func (b *RedisBroker) onTopic(reportID uuid.UUID) {
	if _, err := b.syncTopic(reportID); err != nil {
		b.hub.closeTopic(reportID, ErrTopicUnavailable)
	}
}

func (b *RedisBroker) awaitTopic(ctx context.Context, reportID uuid.UUID) error {
	t, err := b.syncTopic(reportID)
	if err != nil {
		b.hub.closeTopic(reportID, ErrTopicUnavailable)
		return fmt.Errorf("%w: %v", ErrTopicUnavailable, err)
	}
	if t == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrTopicUnavailable
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return ErrHubClosed
	case <-timer.C:
		slog.Error("redis subscribe not confirmed", "report_id", reportID.String(), "timeout", b.timeout.String())
		return fmt.Errorf("%w: subscription not confirmed", ErrTopicUnavailable)
	}
}

// syncTopic reconciles the Redis subscription with the local subscriber count
// and returns the channel's subscription while it is wanted.
func (b *RedisBroker) syncTopic(reportID uuid.UUID) (*topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	want := b.hub.Subscribers(reportID) > 0
	t := b.active[reportID]
	if want == (t != nil) {
		return t, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	channel := b.channel(reportID)
	if want {
		b.sent[channel]++
		t = &topic{seq: b.sent[channel], ready: make(chan struct{})}
		if err := b.pubsub.Subscribe(ctx, channel); err != nil {
			b.sent[channel]--
			b.forget(channel)
			// PubSub remembers the channel even when the command failed.
			_ = b.pubsub.Unsubscribe(ctx, channel)
			slog.Error("redis subscribe failed", "report_id", reportID.String(), "error", err)
			return nil, err
		}
		b.active[reportID] = t
		b.markReady(channel, t)
		return t, nil
	}

	if err := b.pubsub.Unsubscribe(ctx, channel); err != nil {
		slog.Error("redis unsubscribe failed", "report_id", reportID.String(), "error", err)
	}
	delete(b.active, reportID)
	b.forget(channel)
	return nil, nil
}

// confirm records a SUBSCRIBE ack from Redis.
func (b *RedisBroker) confirm(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Reconnects replay SUBSCRIBE for live channels; those acks are not counted.
	if b.acked[channel] < b.sent[channel] {
		b.acked[channel]++
	}
	reportID, err := uuid.Parse(strings.TrimPrefix(channel, b.prefix))
	if err != nil {
		return
	}
	if t := b.active[reportID]; t != nil {
		b.markReady(channel, t)
		return
	}
	b.forget(channel)
}

func (b *RedisBroker) markReady(channel string, t *topic) {
	if !t.confirmed && b.acked[channel] >= t.seq {
		t.confirmed = true
		close(t.ready)
	}
}

// forget drops the counters of a channel with no pending acks.
func (b *RedisBroker) forget(channel string) {
	if b.acked[channel] >= b.sent[channel] {
		delete(b.sent, channel)
		delete(b.acked, channel)
	}
}

func (b *RedisBroker) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case msg := <-b.queue:
			b.send(msg)
		case <-b.ctx.Done():
			for {
				select {
				case msg := <-b.queue:
					b.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (b *RedisBroker) send(msg models.Message) {
	payload, err := json.Marshal(wireMessage{
		ID:                msg.ID,
		ReportID:          msg.ReportID,
		Seq:               msg.Seq,
		Sender:            msg.Sender,
		SenderID:          msg.SenderID,
		Body:              msg.Body,
		AttachmentURL:     msg.AttachmentURL,
		AttachmentIsImage: msg.AttachmentIsImage,
		CreatedAt:         msg.CreatedAt,
	})
	if err != nil {
		slog.Error("failed to encode realtime message", "report_id", msg.ReportID.String(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel(msg.ReportID), payload).Err(); err != nil {
		metrics.Dropped.WithLabelValues("redis_error").Inc()
		slog.Error("redis publish failed", "report_id", msg.ReportID.String(), "seq", msg.Seq, "error", err)
	}
}

func (b *RedisBroker) receiveLoop() {
	defer b.wg.Done()
	ch := b.pubsub.ChannelWithSubscriptions()
	for {
		select {
		case <-b.ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			switch m := v.(type) {
			case *redis.Subscription:
				if m.Kind == "subscribe" {
					b.confirm(m.Channel)
				}
			case *redis.Message:
				b.receive(m)
			}
		}
	}
}

func (b *RedisBroker) receive(m *redis.Message) {
	var wire wireMessage
	if err := json.Unmarshal([]byte(m.Payload), &wire); err != nil {
		slog.Error("failed to decode realtime message", "channel", m.Channel, "error", err)
		return
	}
	b.hub.deliver(models.Message{
		ID:                wire.ID,
		ReportID:          wire.ReportID,
		Seq:               wire.Seq,
		Sender:            wire.Sender,
		SenderID:          wire.SenderID,
		Body:              wire.Body,
		AttachmentURL:     wire.AttachmentURL,
		AttachmentIsImage: wire.AttachmentIsImage,
		CreatedAt:         wire.CreatedAt,
	})
}
