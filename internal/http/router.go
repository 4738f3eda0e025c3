package http

import (
	"embed"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/ingest"
)

//go:embed static/index.html
var static embed.FS

// Deps are the collaborators the router serves. A nil Gatherer serves the
// default registry on /metrics and a nil Ready reports always ready.
type Deps struct {
	Ingest      *ingest.Service
	Subscribers http.Handler
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
	Ready       func() bool
}

// NewRouter constructs the HTTP router for the relay server.
func NewRouter(d Deps) http.Handler {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}

	h := &handlers{
		ingest: d.Ingest,
		logger: logging.WithComponent("http"),
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger, d.Metrics))
	r.Use(recoverer(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if d.Ready != nil && !d.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Get("/", h.index)
	r.Route("/api", func(r chi.Router) {
		r.Post("/stt", h.receive)
		r.Get("/messages", h.list)
	})
	if d.Subscribers != nil {
		r.Handle("/ws", d.Subscribers)
	}

	return r
}

// NewServer wraps the router in an http.Server with the service timeouts.
// WriteTimeout is left unset so websocket subscriptions are not cut off.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
