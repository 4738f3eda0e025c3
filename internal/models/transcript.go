// Package models defines the data structures that flow through the relay.
package models

import "time"

// SegmentKind distinguishes provisional from settled transcription text.
type SegmentKind int

const (
	// Partial segments are provisional and overwrite each other.
	Partial SegmentKind = iota
	// Final segments are settled and appended.
	Final
)

// String returns the string representation of the kind.
func (k SegmentKind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Final:
		return "final"
	default:
		return "unknown"
	}
}

// TranscriptSegment is a single event emitted by a transcription source.
type TranscriptSegment struct {
	Text       string
	Kind       SegmentKind
	ReceivedAt time.Time
}

// OutboundPayload is a drained buffer ready for delivery.
// The timestamp is unix seconds at drain time.
type OutboundPayload struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Empty reports whether the payload carries no text.
func (p OutboundPayload) Empty() bool {
	return p.Text == ""
}
