package events

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/metrics"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

func enabledMirror(t *testing.T, w *fakeWriter) (*Mirror, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := New(&Config{Enabled: false, Topic: "stt.messages", Principal: "relay-test"}, m)
	p.writer = w
	p.enabled = true
	p.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return p, m
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, metrics.NewMetrics(prometheus.NewRegistry()))
			if p == nil {
				t.Fatal("expected non-nil mirror")
			}
			if p.Enabled() {
				t.Error("expected mirror to be disabled")
			}
			if p.writer != nil {
				t.Error("expected nil writer when disabled")
			}
		})
	}
}

func TestNew_EnabledBuildsWriter(t *testing.T) {
	p := New(&Config{
		Enabled: true,
		Brokers: []string{"localhost:9092"},
		Topic:   "stt.messages",
	}, metrics.NewMetrics(prometheus.NewRegistry()))
	defer p.Close()

	if !p.Enabled() {
		t.Fatal("expected mirror to be enabled")
	}
	w, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("expected *kafka.Writer, got %T", p.writer)
	}
	if w.Topic != "stt.messages" {
		t.Errorf("expected topic stt.messages, got %s", w.Topic)
	}
}

func TestPublishMessage_Disabled(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := New(&Config{Enabled: false, Topic: "stt.messages"}, m)

	if err := p.PublishMessage(context.Background(), models.Message{ID: 1, Text: "hi"}); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("stt.messages")); got != 1 {
		t.Errorf("expected 1 publish recorded, got %v", got)
	}
}

func TestPublishMessage_WritesKeyedEvent(t *testing.T) {
	w := &fakeWriter{}
	p, _ := enabledMirror(t, w)

	msg := models.Message{ID: 42, Text: "안녕하세요", Timestamp: 1700000000.5}
	if err := p.PublishMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := w.written()
	if len(got) != 1 {
		t.Fatalf("expected 1 kafka message, got %d", len(got))
	}
	if string(got[0].Key) != "42" {
		t.Errorf("expected key 42, got %s", got[0].Key)
	}

	var ev MessageEvent
	if err := json.Unmarshal(got[0].Value, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	want := MessageEvent{
		EventType:   EventTypeMessageStored,
		MessageID:   42,
		Text:        "안녕하세요",
		Timestamp:   1700000000.5,
		Principal:   "relay-test",
		PublishedAt: 1700000000123,
	}
	if ev != want {
		t.Errorf("expected %+v, got %+v", want, ev)
	}

	headers := map[string]string{}
	for _, h := range got[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventType"] != EventTypeMessageStored || headers["principal"] != "relay-test" {
		t.Errorf("unexpected headers: %v", headers)
	}
}

func TestPublishMessage_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	p, m := enabledMirror(t, w)

	if err := p.PublishMessage(context.Background(), models.Message{ID: 1}); err == nil {
		t.Fatal("expected write error")
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("stt.messages")); got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}

func TestNotify_PublishesBeforeClose(t *testing.T) {
	w := &fakeWriter{}
	p, _ := enabledMirror(t, w)

	ctx, cancel := context.WithCancel(context.Background())
	p.Notify(ctx, models.Message{ID: 1, Text: "one"})
	p.Notify(ctx, models.Message{ID: 2, Text: "two"})
	cancel()

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(w.written()); got != 2 {
		t.Errorf("expected 2 published messages after close, got %d", got)
	}
	if !w.closed {
		t.Error("expected writer to be closed")
	}
}

func TestNotify_PreservesOrder(t *testing.T) {
	w := &fakeWriter{}
	p, _ := enabledMirror(t, w)

	const n = 50
	for i := 1; i <= n; i++ {
		p.Notify(context.Background(), models.Message{ID: int64(i), Text: "msg"})
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := w.written()
	if len(got) != n {
		t.Fatalf("expected %d published messages, got %d", n, len(got))
	}
	for i, msg := range got {
		if want := strconv.Itoa(i + 1); string(msg.Key) != want {
			t.Fatalf("message %d: expected key %s, got %s", i, want, msg.Key)
		}
	}
}

func TestNotify_AfterCloseIsDropped(t *testing.T) {
	w := &fakeWriter{}
	p, _ := enabledMirror(t, w)

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	p.Notify(context.Background(), models.Message{ID: 1, Text: "late"})

	if got := len(w.written()); got != 0 {
		t.Errorf("expected nothing published after close, got %d", got)
	}
}

func TestClose_Disabled(t *testing.T) {
	p := New(nil, metrics.NewMetrics(prometheus.NewRegistry()))
	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled mirror, got %v", err)
	}
}
