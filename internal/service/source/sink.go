// Package source connects a recognizer to the buffer aggregator: Sink turns
// recognizer callbacks into segments on a channel and Pump paces audio into
// the recognizer.
package source

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/logging"
)

// Sink implements stt.Callback by forwarding segments to a bounded channel.
// Sends after Close are dropped, never a panic.
type Sink struct {
	mu     sync.RWMutex
	out    chan models.TranscriptSegment
	done   chan struct{}
	closed bool
	once   sync.Once

	now    func() time.Time
	logger zerolog.Logger

	errMu    sync.Mutex
	firstErr error
}

// NewSink creates a sink with a queue of size segments.
func NewSink(size int) *Sink {
	if size <= 0 {
		size = 256
	}
	return &Sink{
		out:    make(chan models.TranscriptSegment, size),
		done:   make(chan struct{}),
		now:    time.Now,
		logger: logging.WithComponent("source"),
	}
}

// Segments is the channel consumed by the aggregator. It is closed by Close.
func (s *Sink) Segments() <-chan models.TranscriptSegment {
	return s.out
}

// OnPartial forwards an interim hypothesis.
func (s *Sink) OnPartial(text string) {
	s.send(models.TranscriptSegment{Text: text, Kind: models.Partial, ReceivedAt: s.now()})
}

// OnFinal forwards a completed utterance. Blank finals are dropped.
func (s *Sink) OnFinal(text string, confidence float64) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.logger.Debug().Float64("confidence", confidence).Msg("Final transcript")
	s.send(models.TranscriptSegment{Text: text, Kind: models.Final, ReceivedAt: s.now()})
}

// OnError records a recognizer failure. Only the first error is kept.
func (s *Sink) OnError(err error) {
	s.errMu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.errMu.Unlock()
	s.logger.Error().Err(err).Msg("Transcription source error")
}

// Err returns the first recognizer error, if any.
func (s *Sink) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

// Close stops forwarding and closes the segment channel. A send blocked on a
// full queue is released first.
func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.out)
		s.mu.Unlock()
	})
}

func (s *Sink) send(seg models.TranscriptSegment) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.out <- seg:
	case <-s.done:
	}
}
