package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/schema"
	"speech-relay-service/internal/store"
)

func strPtr(s string) *string  { return &s }
func tsPtr(f float64) *float64 { return &f }

func request(text string) models.IngestRequest {
	return models.IngestRequest{Text: strPtr(text)}
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (r *recordingNotifier) Notify(_ context.Context, msg models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func TestIngest_AssignsIDAndClientTimestamp(t *testing.T) {
	svc := New(store.NewMemory(), Options{})

	msg, err := svc.Ingest(context.Background(), models.IngestRequest{Text: strPtr("hello"), Timestamp: tsPtr(100)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != 1 || msg.Text != "hello" || msg.Timestamp != 100 {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestIngest_MissingTimestampUsesServerClock(t *testing.T) {
	now := time.Unix(1700000000, 500_000_000)
	svc := New(store.NewMemory(), Options{Now: func() time.Time { return now }})

	msg, err := svc.Ingest(context.Background(), request("arrival time"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Timestamp != 1700000000.5 {
		t.Errorf("expected server clock timestamp, got %v", msg.Timestamp)
	}
}

func TestIngest_RejectsMissingText(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	mem := store.NewMemory()
	n := &recordingNotifier{}
	svc := New(mem, Options{Metrics: m, Notifiers: []Notifier{n}})

	for _, req := range []models.IngestRequest{{}, {Text: strPtr("")}} {
		_, err := svc.Ingest(context.Background(), req)
		if !errors.Is(err, schema.ErrMissingText) {
			t.Errorf("expected ErrMissingText, got %v", err)
		}
	}
	if mem.Len() != 0 {
		t.Errorf("rejected requests must not be stored, got %d", mem.Len())
	}
	if len(n.msgs) != 0 {
		t.Error("rejected requests must not be broadcast")
	}
	if got := testutil.ToFloat64(m.IngestRejected.WithLabelValues("missing_text")); got != 2 {
		t.Errorf("expected 2 rejections recorded, got %v", got)
	}
}

func TestIngest_NoDeduplication(t *testing.T) {
	svc := New(store.NewMemory(), Options{})

	a, _ := svc.Ingest(context.Background(), request("same"))
	b, _ := svc.Ingest(context.Background(), request("same"))

	if a.ID == b.ID {
		t.Errorf("identical texts must become distinct messages, both got id %d", a.ID)
	}
	if len(svc.List()) != 2 {
		t.Errorf("expected 2 stored messages, got %d", len(svc.List()))
	}
}

func TestIngest_NotifiesAfterStore(t *testing.T) {
	mem := store.NewMemory()
	var seenLen int
	notifier := NotifierFunc(func(_ context.Context, msg models.Message) {
		seenLen = mem.Len()
	})
	svc := New(mem, Options{Notifiers: []Notifier{notifier}})

	svc.Ingest(context.Background(), request("x"))

	if seenLen != 1 {
		t.Errorf("notifier should observe the stored message, store len was %d", seenLen)
	}
}

func TestIngest_ConcurrentIDsArePermutation(t *testing.T) {
	n := &recordingNotifier{}
	svc := New(store.NewMemory(), Options{Notifiers: []Notifier{n}})
	const senders = 200

	var wg sync.WaitGroup
	ids := make(chan int64, senders)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := svc.Ingest(context.Background(), request("concurrent"))
			if err != nil {
				t.Error(err)
				return
			}
			ids <- msg.ID
		}()
	}
	wg.Wait()
	close(ids)

	var got []int64
	for id := range ids {
		got = append(got, id)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != senders {
		t.Fatalf("expected %d ids, got %d", senders, len(got))
	}
	for i, id := range got {
		if id != int64(i+1) {
			t.Fatalf("ids are not a permutation of 1..%d: %v", senders, got)
		}
	}
	if len(n.msgs) != senders {
		t.Errorf("expected %d notifications, got %d", senders, len(n.msgs))
	}
}

func TestList_SortedScenario(t *testing.T) {
	svc := New(store.NewMemory(), Options{})
	svc.Ingest(context.Background(), models.IngestRequest{Text: strPtr("hello"), Timestamp: tsPtr(100)})
	svc.Ingest(context.Background(), models.IngestRequest{Text: strPtr("world"), Timestamp: tsPtr(50)})

	got := svc.List()
	if len(got) != 2 || got[0].Text != "hello" || got[1].Text != "world" {
		t.Errorf("unexpected order %+v", got)
	}
}
