// Package mock provides a recognizer that needs no credentials or audio. It
// emits one partial per frame and a final once an utterance's partials are
// exhausted, cycling through its utterances for as long as frames arrive.
package mock

import (
	"context"
	"sync"

	"speech-relay-service/internal/service/stt"
)

// Utterance is a scripted recognition result.
type Utterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances is the script used when none is given.
var DefaultUtterances = []Utterance{
	{
		Partials:   []string{"안녕", "안녕하세요", "안녕하세요 여러분"},
		Final:      "안녕하세요 여러분",
		Confidence: 0.95,
	},
	{
		Partials:   []string{"오늘", "오늘 회의를", "오늘 회의를 시작"},
		Final:      "오늘 회의를 시작하겠습니다",
		Confidence: 0.92,
	},
	{
		Partials:   []string{"첫 번째", "첫 번째 안건은"},
		Final:      "첫 번째 안건은 일정 조정입니다",
		Confidence: 0.9,
	},
	{
		Partials:   []string{"질문"},
		Final:      "질문 있으신가요",
		Confidence: 0.97,
	},
}

// Adapter implements stt.Adapter. Callbacks run synchronously inside
// SendAudio and Close.
type Adapter struct {
	mu         sync.Mutex
	cb         stt.Callback
	utterances []Utterance

	current      int // index into utterances
	partialIndex int // next partial of the current utterance
	frames       int
	finals       int
	closed       bool
}

// New creates a mock recognizer. An empty script selects DefaultUtterances.
func New(utterances ...Utterance) *Adapter {
	if len(utterances) == 0 {
		utterances = DefaultUtterances
	}
	return &Adapter{utterances: utterances}
}

// Start registers cb.
func (a *Adapter) Start(_ context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	return nil
}

// SendAudio advances the script by one step.
func (a *Adapter) SendAudio(_ context.Context, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil {
		return nil
	}
	a.frames++

	utt := a.utterances[a.current]
	if a.partialIndex < len(utt.Partials) {
		a.cb.OnPartial(utt.Partials[a.partialIndex])
		a.partialIndex++
		return nil
	}
	a.emitFinal()
	return nil
}

// Close ends the session, finalizing an utterance that was in progress.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	if a.cb != nil && a.partialIndex > 0 {
		a.emitFinal()
	}
	return nil
}

// Stats reports frames consumed and finals emitted.
func (a *Adapter) Stats() (frames, finals int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames, a.finals
}

func (a *Adapter) emitFinal() {
	utt := a.utterances[a.current]
	a.cb.OnFinal(utt.Final, utt.Confidence)
	a.finals++
	a.partialIndex = 0
	a.current = (a.current + 1) % len(a.utterances)
}
