// Package ingest implements the ingestion endpoint logic: validation, identity
// and timestamp assignment, storage and notification.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/schema"
)

// Store is the message store the service appends to.
type Store interface {
	Append(text string, timestamp float64) models.Message
	List() []models.Message
	Len() int
}

// Notifier is told about every stored message, after the store lock is released.
type Notifier interface {
	Notify(ctx context.Context, msg models.Message)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg models.Message)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, msg models.Message) {
	f(ctx, msg)
}

// Options configures a Service.
type Options struct {
	Metrics   *metrics.Metrics
	Notifiers []Notifier
	Now       func() time.Time
}

// Service accepts payloads and turns them into messages. There is no
// deduplication: identical texts become distinct messages.
type Service struct {
	store     Store
	validator *schema.Validator
	notifiers []Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates an ingestion service over store.
func New(store Store, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:     store,
		validator: schema.New(0),
		notifiers: opts.Notifiers,
		metrics:   opts.Metrics,
		now:       now,
		logger:    logging.WithComponent("ingest"),
	}
}

// Validator returns the request validator used by the service.
func (s *Service) Validator() *schema.Validator {
	return s.validator
}

// Ingest validates req, stores it and notifies subscribers. A missing
// timestamp is replaced by the server clock in seconds.
func (s *Service) Ingest(ctx context.Context, req models.IngestRequest) (models.Message, error) {
	if err := s.validator.Validate(req); err != nil {
		s.Reject(err)
		return models.Message{}, err
	}

	timestamp := unixSeconds(s.now())
	if req.Timestamp != nil {
		timestamp = *req.Timestamp
	}

	msg := s.store.Append(*req.Text, timestamp)
	if s.metrics != nil {
		s.metrics.RecordIngest(s.store.Len())
	}

	s.logger.Info().
		Int64("messageId", msg.ID).
		Int("length", len([]rune(msg.Text))).
		Str("preview", logging.Preview(msg.Text, 50)).
		Msg("Received STT text")

	for _, n := range s.notifiers {
		n.Notify(ctx, msg)
	}
	return msg, nil
}

// Reject records a request that failed validation before reaching Ingest.
func (s *Service) Reject(err error) {
	if s.metrics != nil {
		s.metrics.RecordIngestRejected(schema.Reason(err))
	}
	s.logger.Error().Err(err).Msg("Rejected STT request")
}

// List returns all messages, newest timestamp first.
func (s *Service) List() []models.Message {
	return s.store.List()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
