// Package flush periodically drains the pending buffer into the delivery client.
package flush

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/stats"
)

// Drainer atomically captures and clears pending text.
type Drainer interface {
	Drain() (models.OutboundPayload, bool)
}

// Sender delivers one payload, blocking until delivered or given up.
type Sender interface {
	Send(ctx context.Context, payload models.OutboundPayload) bool
}

// Scheduler runs one flush per interval on a single goroutine, so payloads
// are sent in drain order and never in parallel.
type Scheduler struct {
	buffer   Drainer
	sender   Sender
	stats    *stats.Stats
	interval time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates a scheduler. m may be nil.
func New(buffer Drainer, sender Sender, s *stats.Stats, interval time.Duration, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		buffer:   buffer,
		sender:   sender,
		stats:    s,
		interval: interval,
		metrics:  m,
		logger:   logging.WithComponent("flush"),
	}
}

// Run flushes every interval until ctx is cancelled. A send in flight when
// ctx is cancelled runs to completion under its own retry bounds.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("Flush scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	sendCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Flush scheduler stopped")
			return nil
		case <-ticker.C:
			start := time.Now()
			s.FlushOnce(sendCtx)
			if elapsed := time.Since(start); elapsed > s.interval {
				s.logger.Warn().
					Dur("elapsed", elapsed).
					Dur("interval", s.interval).
					Msg("Flush took longer than the flush interval")
			}
		}
	}
}

// FlushOnce drains the buffer and, if anything was pending, delivers it.
// It reports whether a payload was delivered.
func (s *Scheduler) FlushOnce(ctx context.Context) bool {
	payload, ok := s.buffer.Drain()
	if !ok {
		if s.metrics != nil {
			s.metrics.RecordFlush("empty")
		}
		s.logger.Debug().Msg("No text to send, waiting")
		return false
	}

	s.stats.IncTotal()
	if s.metrics != nil {
		s.metrics.RecordFlush("sent")
	}
	s.logger.Info().
		Str("preview", logging.Preview(payload.Text, 50)).
		Int64("timestamp", payload.Timestamp).
		Msg("Flushing buffer")

	return s.sender.Send(ctx, payload)
}

// FlushFinal gives the buffer one last forced flush before exit.
func (s *Scheduler) FlushFinal(ctx context.Context) bool {
	s.logger.Info().Msg("Sending remaining text before exit")
	return s.FlushOnce(ctx)
}
