// Package stt defines the contract between speech recognizers and the relay
// pipeline.
package stt

import "context"

// Callback receives recognizer output. Implementations must be safe for use
// from the recognizer's goroutine.
type Callback interface {
	// OnPartial is called with each interim hypothesis. A later partial
	// replaces the previous one.
	OnPartial(text string)

	// OnFinal is called once per completed utterance.
	OnFinal(text string, confidence float64)

	// OnError is called when the recognizer stream fails.
	OnError(err error)
}

// Adapter is a streaming recognizer session.
type Adapter interface {
	// Start opens the session and registers cb.
	Start(ctx context.Context, cb Callback) error

	// SendAudio feeds one frame of audio.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session. Pending output is delivered before it returns
	// or not at all.
	Close() error
}
