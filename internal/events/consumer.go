package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"speech-relay-service/internal/observability/logging"
)

// ConsumerConfig configures a mirror topic reader.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string        // empty reads partition 0 without a consumer group
	Since   time.Duration // partition mode only; replay this far back
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads MessageEvents back off the mirror topic.
type Consumer struct {
	reader messageReader
	topic  string
	logger zerolog.Logger
}

// NewConsumer creates a reader over the mirror topic.
func NewConsumer(ctx context.Context, cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}

	rc := kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	r := kafka.NewReader(rc)

	// Partition reader without consumer group (works better through port-forward)
	if cfg.GroupID == "" && cfg.Since > 0 {
		if err := r.SetOffsetAt(ctx, time.Now().Add(-cfg.Since)); err != nil {
			r.Close()
			return nil, fmt.Errorf("seek %s: %w", cfg.Topic, err)
		}
	}

	return &Consumer{
		reader: r,
		topic:  cfg.Topic,
		logger: logging.WithComponent("kafka-consumer"),
	}, nil
}

// Run decodes every message and calls handle until ctx is cancelled. Read
// errors are logged and retried after a second; undecodable payloads are
// skipped.
func (c *Consumer) Run(ctx context.Context, handle func(MessageEvent)) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn().Err(err).Str("topic", c.topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		ev, err := DecodeMessageEvent(msg)
		if err != nil {
			c.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping undecodable message")
			continue
		}
		handle(ev)
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeMessageEvent parses a mirror record. Records carrying a different
// eventType header are rejected.
func DecodeMessageEvent(msg kafka.Message) (MessageEvent, error) {
	for _, h := range msg.Headers {
		if h.Key == "eventType" && string(h.Value) != EventTypeMessageStored {
			return MessageEvent{}, fmt.Errorf("unexpected event type %q", h.Value)
		}
	}
	var ev MessageEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return MessageEvent{}, fmt.Errorf("decode message event: %w", err)
	}
	return ev, nil
}
