// Package stats aggregates delivery counters for the relay client.
package stats

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Stats holds process-lifetime delivery counters. There is no reset.
type Stats struct {
	mu              sync.Mutex
	totalSends      uint64
	successfulSends uint64
	failedSends     uint64
	totalChars      uint64
}

// Snapshot is a consistent copy of the counters.
type Snapshot struct {
	TotalSends      uint64 `json:"total_sends"`
	SuccessfulSends uint64 `json:"successful_sends"`
	FailedSends     uint64 `json:"failed_sends"`
	TotalChars      uint64 `json:"total_chars"`
}

// New creates zeroed counters.
func New() *Stats {
	return &Stats{}
}

// IncTotal records a flush that handed a payload to the delivery client.
func (s *Stats) IncTotal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalSends++
}

// RecordSuccess records a delivered payload of chars characters.
func (s *Stats) RecordSuccess(chars int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successfulSends++
	s.totalChars += uint64(chars)
}

// RecordFailure records a payload that could not be delivered.
func (s *Stats) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedSends++
}

// Snapshot returns the counters read under one lock acquisition.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		TotalSends:      s.totalSends,
		SuccessfulSends: s.successfulSends,
		FailedSends:     s.failedSends,
		TotalChars:      s.totalChars,
	}
}

// SuccessRate returns successful/total as a percentage, 0 when nothing was sent.
func (s Snapshot) SuccessRate() float64 {
	if s.TotalSends == 0 {
		return 0
	}
	return float64(s.SuccessfulSends) / float64(s.TotalSends) * 100
}

// Reporter periodically logs a stats snapshot.
type Reporter struct {
	stats    *Stats
	interval time.Duration
	logger   zerolog.Logger
}

// NewReporter creates a reporter that logs every interval.
func NewReporter(s *Stats, interval time.Duration, logger zerolog.Logger) *Reporter {
	return &Reporter{stats: s, interval: interval, logger: logger}
}

// Run reports until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	if r.interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report("Delivery statistics")
		}
	}
}

// Report logs the current snapshot with msg and returns it.
func (r *Reporter) Report(msg string) Snapshot {
	snap := r.stats.Snapshot()
	r.logger.Info().
		Uint64("totalSends", snap.TotalSends).
		Uint64("successfulSends", snap.SuccessfulSends).
		Uint64("failedSends", snap.FailedSends).
		Uint64("totalChars", snap.TotalChars).
		Str("successRate", formatRate(snap.SuccessRate())).
		Msg(msg)
	return snap
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', 1, 64) + "%"
}
