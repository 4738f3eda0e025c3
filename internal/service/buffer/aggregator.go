// Package buffer merges transcript segments into the pending outbound payload.
package buffer

import (
	"strings"
	"sync"
	"time"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/metrics"
)

// DisplayFunc is invoked synchronously for every accepted segment.
// It must not block; it is meant for console or UI echo only.
type DisplayFunc func(kind models.SegmentKind, text string)

// Options configures an Aggregator.
type Options struct {
	// IncludePartial makes Drain append the latest partial after the finals.
	IncludePartial bool
	OnDisplay      DisplayFunc
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Aggregator owns the pending buffer. Every read and write of the buffer
// happens under a single mutex so a drain can never interleave with an append.
type Aggregator struct {
	mu            sync.Mutex
	finalText     string
	latestPartial string

	includePartial bool
	onDisplay      DisplayFunc
	metrics        *metrics.Metrics
	now            func() time.Time
}

// New creates an empty aggregator.
func New(opts Options) *Aggregator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		includePartial: opts.IncludePartial,
		onDisplay:      opts.OnDisplay,
		metrics:        opts.Metrics,
		now:            now,
	}
}

// AppendFinal appends settled text, space separated. Blank text is ignored.
// A final supersedes whatever partial was in progress.
func (a *Aggregator) AppendFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	a.mu.Lock()
	if a.finalText != "" {
		a.finalText += " "
	}
	a.finalText += text
	a.latestPartial = ""
	a.setPendingLocked()
	a.mu.Unlock()

	a.report(models.Final, text)
}

// SetPartial overwrites the latest partial. Empty text clears it.
func (a *Aggregator) SetPartial(text string) {
	a.mu.Lock()
	a.latestPartial = text
	a.setPendingLocked()
	a.mu.Unlock()

	a.report(models.Partial, text)
}

// Apply routes a segment to AppendFinal or SetPartial.
func (a *Aggregator) Apply(seg models.TranscriptSegment) {
	switch seg.Kind {
	case models.Final:
		a.AppendFinal(seg.Text)
	case models.Partial:
		a.SetPartial(seg.Text)
	}
}

// Run applies segments until in is closed. It is the single writer fed by the
// transcription source.
func (a *Aggregator) Run(in <-chan models.TranscriptSegment) {
	for seg := range in {
		a.Apply(seg)
	}
}

// Drain atomically captures and clears the buffer. It returns false when the
// combined text is blank.
func (a *Aggregator) Drain() (models.OutboundPayload, bool) {
	a.mu.Lock()
	combined := a.finalText
	if a.includePartial {
		if partial := strings.TrimSpace(a.latestPartial); partial != "" {
			if combined != "" {
				combined += " "
			}
			combined += partial
		}
	}
	a.finalText = ""
	a.latestPartial = ""
	a.setPendingLocked()
	a.mu.Unlock()

	combined = strings.TrimSpace(combined)
	if combined == "" {
		return models.OutboundPayload{}, false
	}
	return models.OutboundPayload{
		Text:      combined,
		Timestamp: a.now().Unix(),
	}, true
}

// Pending returns the number of bytes a drain would currently consider.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingLocked()
}

func (a *Aggregator) pendingLocked() int {
	n := len(a.finalText)
	if a.includePartial {
		n += len(a.latestPartial)
	}
	return n
}

// setPendingLocked publishes the buffered size. Holding the lock keeps the
// gauge in step with the buffer.
func (a *Aggregator) setPendingLocked() {
	if a.metrics != nil {
		a.metrics.SetBufferedChars(a.pendingLocked())
	}
}

func (a *Aggregator) report(kind models.SegmentKind, text string) {
	if a.metrics != nil {
		a.metrics.RecordSegment(kind.String())
	}
	if a.onDisplay != nil {
		a.onDisplay(kind, text)
	}
}
