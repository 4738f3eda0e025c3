// Package events mirrors stored messages onto a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
)

// EventTypeMessageStored is carried in the eventType header and payload.
const EventTypeMessageStored = "stt.message.stored"

const defaultPublishTimeout = 5 * time.Second

// MessageEvent is the Kafka payload for a stored message.
type MessageEvent struct {
	EventType   string  `json:"eventType"`
	MessageID   int64   `json:"messageId"`
	Text        string  `json:"text"`
	Timestamp   float64 `json:"timestamp"`
	Principal   string  `json:"principal"`
	PublishedAt int64   `json:"publishedAt"`
}

// Config holds Kafka mirror configuration.
type Config struct {
	Brokers   []string
	Topic     string
	Principal string
	Enabled   bool
	// PublishTimeout bounds each asynchronous Notify publish.
	PublishTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Mirror publishes every stored message to a single topic keyed by message id.
// When disabled it only logs.
//
// Notified messages are written one at a time by a single worker, in the order
// Notify was called. Ingestion notifies after the store append, so two
// concurrent ingests may still reach the topic in either order.
type Mirror struct {
	writer         messageWriter
	topic          string
	principal      string
	enabled        bool
	publishTimeout time.Duration
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	now            func() time.Time

	mu      sync.Mutex
	pending []pendingPublish
	started bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

type pendingPublish struct {
	ctx context.Context
	msg models.Message
}

// New creates a mirror. A nil config, Enabled=false or an empty broker list
// yields a log-only mirror.
func New(cfg *Config, m *metrics.Metrics) *Mirror {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	mirror := &Mirror{
		metrics:        m,
		logger:         logging.WithComponent("kafka-mirror"),
		now:            time.Now,
		publishTimeout: defaultPublishTimeout,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}

	if cfg == nil {
		mirror.logger.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return mirror
	}

	mirror.topic = cfg.Topic
	mirror.principal = cfg.Principal
	if cfg.PublishTimeout > 0 {
		mirror.publishTimeout = cfg.PublishTimeout
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		mirror.logger.Info().Msg("Kafka disabled, using log-only mode")
		return mirror
	}

	// Longer dial timeout for DNS resolution inside clusters.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	mirror.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	mirror.enabled = true

	mirror.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("principal", cfg.Principal).
		Msg("Kafka mirror initialized")

	return mirror
}

// Enabled reports whether messages are written to Kafka.
func (p *Mirror) Enabled() bool {
	return p.enabled
}

// PublishMessage writes msg to the topic and waits for the broker ack.
func (p *Mirror) PublishMessage(ctx context.Context, msg models.Message) error {
	start := time.Now()
	key := strconv.FormatInt(msg.ID, 10)

	payload, err := json.Marshal(MessageEvent{
		EventType:   EventTypeMessageStored,
		MessageID:   msg.ID,
		Text:        msg.Text,
		Timestamp:   msg.Timestamp,
		Principal:   p.principal,
		PublishedAt: p.now().UnixMilli(),
	})
	if err != nil {
		p.logger.Error().Err(err).Str("topic", p.topic).Msg("Failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("topic", p.topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || p.writer == nil {
		p.metrics.RecordKafkaPublish(p.topic, nil, time.Since(start).Seconds())
		return nil
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(EventTypeMessageStored)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	})
	p.metrics.RecordKafkaPublish(p.topic, err, time.Since(start).Seconds())
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", p.topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		return err
	}
	return nil
}

// Notify implements ingest.Notifier. It queues msg for the background worker
// and returns at once; Close waits for the queue to drain.
func (p *Mirror) Notify(ctx context.Context, msg models.Message) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn().Int64("messageId", msg.ID).Msg("Mirror closed, event dropped")
		return
	}
	p.pending = append(p.pending, pendingPublish{ctx: context.WithoutCancel(ctx), msg: msg})
	if !p.started {
		p.started = true
		go p.run()
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Mirror) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		batch := p.pending
		p.pending = nil
		closed := p.closed
		p.mu.Unlock()

		for _, item := range batch {
			ctx, cancel := context.WithTimeout(item.ctx, p.publishTimeout)
			_ = p.PublishMessage(ctx, item.msg)
			cancel()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-p.wake
	}
}

// Close publishes whatever is still queued and closes the writer.
func (p *Mirror) Close() error {
	p.mu.Lock()
	p.closed = true
	started := p.started
	p.mu.Unlock()

	if started {
		select {
		case p.wake <- struct{}{}:
		default:
		}
		<-p.done
	}
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}
