// Package fanout tracks connected push subscribers and broadcasts every newly
// ingested message to them over websockets.
package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
)

const (
	maxRequestSize = 4096
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
)

// Drop reasons.
const (
	dropDisconnected = "disconnected"
	dropSlow         = "slow"
	dropWriteError   = "write_error"
	dropShutdown     = "shutdown"
)

// SnapshotFunc returns the current message store contents.
type SnapshotFunc func() []models.Message

// Options configures a Hub.
type Options struct {
	SendQueue      int
	WriteTimeout   time.Duration
	AllowedOrigins []string // "*" or empty allows every origin
	Snapshot       SnapshotFunc
	Metrics        *metrics.Metrics
}

// Hub is the subscriber registry. Pushes are best effort: a subscriber whose
// queue is full or whose connection fails is dropped, never retried.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	nextID      atomic.Uint64

	sendQueue    int
	writeTimeout time.Duration
	snapshot     SnapshotFunc
	metrics      *metrics.Metrics
	upgrader     websocket.Upgrader
	logger       zerolog.Logger
}

// NewHub creates an empty registry.
func NewHub(opts Options) *Hub {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Snapshot == nil {
		opts.Snapshot = func() []models.Message { return nil }
	}
	h := &Hub{
		subscribers:  make(map[*subscriber]struct{}),
		sendQueue:    opts.SendQueue,
		writeTimeout: opts.WriteTimeout,
		snapshot:     opts.Snapshot,
		metrics:      opts.Metrics,
		logger:       logging.WithComponent("fanout"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// ServeHTTP upgrades the request to a websocket subscription and serves it
// until the subscriber disconnects or is dropped.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	s := h.register(conn, r.RemoteAddr)
	go s.writeLoop(h)
	s.readLoop(h)
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast queues msg as a new_message event for every current subscriber.
// It never blocks on a subscriber.
func (h *Hub) Broadcast(msg models.Message) {
	ev := models.Event{Type: models.EventNewMessage, Data: msg}

	var slow []*subscriber
	h.mu.RLock()
	for s := range h.subscribers {
		if !s.enqueue(ev) {
			slow = append(slow, s)
		}
	}
	receivers := len(h.subscribers)
	h.mu.RUnlock()

	for _, s := range slow {
		h.drop(s, dropSlow)
	}
	if h.metrics != nil {
		h.metrics.RecordBroadcast()
	}
	h.logger.Debug().
		Int64("messageId", msg.ID).
		Int("subscribers", receivers-len(slow)).
		Msg("Broadcast message")
}

// Notify implements ingest.Notifier.
func (h *Hub) Notify(_ context.Context, msg models.Message) {
	h.Broadcast(msg)
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		all = append(all, s)
	}
	h.mu.RUnlock()

	for _, s := range all {
		h.drop(s, dropShutdown)
	}
}

func (h *Hub) register(conn *websocket.Conn, remoteAddr string) *subscriber {
	id := h.nextID.Add(1)
	s := &subscriber{
		id:     id,
		conn:   conn,
		send:   make(chan models.Event, h.sendQueue),
		done:   make(chan struct{}),
		logger: logging.WithSubscriber(id, remoteAddr),
	}

	// The acknowledgment is queued under the lock so it precedes any broadcast.
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	count := len(h.subscribers)
	s.enqueue(models.Event{
		Type: models.EventConnectionStatus,
		Data: models.ConnectionStatus{Status: "connected", Clients: count},
	})
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetSubscribers(count)
	}
	s.logger.Info().Int("clients", count).Msg("Subscriber connected")
	return s
}

func (h *Hub) drop(s *subscriber, reason string) {
	h.mu.Lock()
	_, ok := h.subscribers[s]
	delete(h.subscribers, s)
	count := len(h.subscribers)
	h.mu.Unlock()

	s.close()
	if !ok {
		return
	}

	if h.metrics != nil {
		h.metrics.SetSubscribers(count)
		if reason != dropDisconnected {
			h.metrics.RecordSubscriberDrop(reason)
		}
	}
	s.logger.Info().Str("reason", reason).Int("clients", count).Msg("Subscriber removed")
}

func (h *Hub) messagesList() models.Event {
	msgs := h.snapshot()
	if msgs == nil {
		msgs = []models.Message{}
	}
	return models.Event{
		Type: models.EventMessagesList,
		Data: models.ListResponse{
			Status:   models.StatusSuccess,
			Count:    len(msgs),
			Messages: msgs,
		},
	}
}

type subscriber struct {
	id        uint64
	conn      *websocket.Conn
	send      chan models.Event
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

func (s *subscriber) enqueue(ev models.Event) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- ev:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *subscriber) writeLoop(h *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := s.conn.WriteJSON(ev); err != nil {
				s.logger.Debug().Err(err).Str("event", ev.Type).Msg("Write failed")
				h.drop(s, dropWriteError)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(s, dropWriteError)
				return
			}
		}
	}
}

func (s *subscriber) readLoop(h *Hub) {
	s.conn.SetReadLimit(maxRequestSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			h.drop(s, dropDisconnected)
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var req models.SubscriberRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Debug().Err(err).Msg("Ignoring malformed subscriber frame")
			continue
		}
		switch req.Type {
		case models.RequestGetMessages:
			if !s.enqueue(h.messagesList()) {
				h.drop(s, dropSlow)
				return
			}
		default:
			s.logger.Debug().Str("type", req.Type).Msg("Ignoring unknown subscriber request")
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
