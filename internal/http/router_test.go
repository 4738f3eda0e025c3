package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/fanout"
	"speech-relay-service/internal/service/ingest"
	"speech-relay-service/internal/store"
)

type testServer struct {
	handler http.Handler
	metrics *metrics.Metrics
	reg     *prometheus.Registry
	hub     *fanout.Hub
}

func newTestServer(t *testing.T, ready func() bool) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	mem := store.NewMemory()
	hub := fanout.NewHub(fanout.Options{Snapshot: mem.List, Metrics: m})
	svc := ingest.New(mem, ingest.Options{
		Metrics:   m,
		Notifiers: []ingest.Notifier{hub},
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
	})
	t.Cleanup(hub.Close)
	return &testServer{
		handler: NewRouter(Deps{
			Ingest:      svc,
			Subscribers: hub,
			Metrics:     m,
			Gatherer:    reg,
			Ready:       ready,
		}),
		metrics: m,
		reg:     reg,
		hub:     hub,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func TestReceive_Success(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/stt", `{"text":"안녕하세요","timestamp":1700000005}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	var resp models.IngestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != models.StatusSuccess || resp.MessageID != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}

	rec = s.do(t, http.MethodPost, "/api/stt", `{"text":"second"}`)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.MessageID != 2 {
		t.Errorf("expected message id 2, got %d", resp.MessageID)
	}
}

func TestReceive_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", msgNoData},
		{"json null", "null", msgNoData},
		{"missing text", `{"timestamp":1}`, msgTextRequired},
		{"malformed", `{"text":`, msgInvalidJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec := s.do(t, http.MethodPost, "/api/stt", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if got := decodeError(t, rec); got != tt.want {
				t.Errorf("expected error %q, got %q", tt.want, got)
			}

			list := s.do(t, http.MethodGet, "/api/messages", "")
			if !strings.Contains(list.Body.String(), `"count":0`) {
				t.Errorf("rejected request must not be stored: %s", list.Body.String())
			}
		})
	}
}

func TestReceive_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, nil)

	body := `{"text":"` + strings.Repeat("a", 1<<20) + `"}`
	rec := s.do(t, http.MethodPost, "/api/stt", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got != msgTooLarge {
		t.Errorf("expected error %q, got %q", msgTooLarge, got)
	}
}

func TestListMessages_NewestFirst(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"messages":[]`) {
		t.Errorf("expected empty messages array, got %s", rec.Body.String())
	}

	s.do(t, http.MethodPost, "/api/stt", `{"text":"older","timestamp":100}`)
	s.do(t, http.MethodPost, "/api/stt", `{"text":"newer","timestamp":200}`)
	s.do(t, http.MethodPost, "/api/stt", `{"text":"defaulted"}`)

	rec = s.do(t, http.MethodGet, "/api/messages", "")
	var list models.ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Status != models.StatusSuccess || list.Count != 3 {
		t.Fatalf("unexpected list: %+v", list)
	}
	wantOrder := []string{"defaulted", "newer", "older"}
	for i, want := range wantOrder {
		if list.Messages[i].Text != want {
			t.Errorf("position %d: expected %q, got %q", i, want, list.Messages[i].Text)
		}
	}
	if list.Messages[0].Timestamp != 1700000000 {
		t.Errorf("expected server-assigned timestamp, got %v", list.Messages[0].Timestamp)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ready := true
	s := newTestServer(t, func() bool { return ready })

	if rec := s.do(t, http.MethodGet, "/v1/liveness", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("liveness: %d %q", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodGet, "/v1/readiness", ""); rec.Code != http.StatusOK {
		t.Errorf("expected ready, got %d", rec.Code)
	}
	ready = false
	if rec := s.do(t, http.MethodGet, "/v1/readiness", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when not ready, got %d", rec.Code)
	}
}

func TestIndexPage(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html content type, got %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "/ws") {
		t.Error("expected index page to reference the push channel")
	}
}

func TestCORSHeaders(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set("Origin", "http://viewer.example")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard CORS origin, got %q", got)
	}
}

func TestMetricsRecorded(t *testing.T) {
	s := newTestServer(t, nil)

	s.do(t, http.MethodPost, "/api/stt", `{"text":"hello"}`)
	s.do(t, http.MethodPost, "/api/stt", `{}`)

	if got := testutil.ToFloat64(s.metrics.HTTPRequests.WithLabelValues("POST", "/api/stt", "200")); got != 1 {
		t.Errorf("expected 1 successful request, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.HTTPRequests.WithLabelValues("POST", "/api/stt", "400")); got != 1 {
		t.Errorf("expected 1 rejected request, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.MessagesIngested); got != 1 {
		t.Errorf("expected 1 ingested message, got %v", got)
	}

	rec := s.do(t, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), "speech_relay_messages_ingested_total") {
		t.Errorf("expected ingest metric on /metrics, got %s", rec.Body.String())
	}
}

func TestRecoverer_ReturnsJSON500(t *testing.T) {
	panicking := recoverer(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	panicking.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got != msgInternal {
		t.Errorf("expected %q, got %q", msgInternal, got)
	}
}

func TestIngestBroadcastsToSubscribers(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack models.Event
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != models.EventConnectionStatus {
		t.Fatalf("expected connection ack, got %+v (%v)", ack, err)
	}

	resp, err := http.Post(srv.URL+"/api/stt", "application/json", strings.NewReader(`{"text":"pushed"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	var frame struct {
		Type string         `json:"type"`
		Data models.Message `json:"data"`
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Type != models.EventNewMessage || frame.Data.Text != "pushed" || frame.Data.ID != 1 {
		t.Errorf("unexpected push frame: %+v", frame)
	}
}
