// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_relay"

// Delivery attempt outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomeTerminal  = "terminal"
)

// Metrics holds all Prometheus metrics for the relay client and server.
type Metrics struct {
	// Client pipeline metrics
	SegmentsReceived *prometheus.CounterVec
	FlushesTotal     *prometheus.CounterVec
	BufferedChars    prometheus.Gauge
	DeliveryAttempts *prometheus.CounterVec
	DeliveryLatency  prometheus.Histogram
	DeliveredChars   prometheus.Counter
	DeliveriesFailed prometheus.Counter

	// Ingestion metrics
	MessagesIngested prometheus.Counter
	IngestRejected   *prometheus.CounterVec
	StoredMessages   prometheus.Gauge

	// Fan-out metrics
	SubscribersActive prometheus.Gauge
	Broadcasts        prometheus.Counter
	SubscriberDrops   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Kafka mirror metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance registered on the default registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SegmentsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_received_total",
			Help:      "Transcript segments received from the source",
		}, []string{"kind"}),
		FlushesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Flush ticks by result",
		}, []string{"result"}),
		BufferedChars: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_chars",
			Help:      "Characters pending in the buffer",
		}),
		DeliveryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts by outcome",
		}, []string{"outcome"}),
		DeliveryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_seconds",
			Help:      "Latency of a full send-with-retry cycle",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		DeliveredChars: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_chars_total",
			Help:      "Characters successfully delivered",
		}),
		DeliveriesFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Payloads lost after terminal failure or retry exhaustion",
		}),

		MessagesIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Messages accepted by the ingestion endpoint",
		}),
		IngestRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rejected_total",
			Help:      "Ingestion requests rejected",
		}, []string{"reason"}),
		StoredMessages: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_messages",
			Help:      "Messages held in the message store",
		}),

		SubscribersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Currently connected push subscribers",
		}),
		Broadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Messages broadcast to subscribers",
		}),
		SubscriberDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Subscribers dropped by the fan-out layer",
		}, []string{"reason"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSegment records a transcript segment of the given kind.
func (m *Metrics) RecordSegment(kind string) {
	m.SegmentsReceived.WithLabelValues(kind).Inc()
}

// RecordFlush records the result of a flush tick (sent, empty).
func (m *Metrics) RecordFlush(result string) {
	m.FlushesTotal.WithLabelValues(result).Inc()
}

// SetBufferedChars reports the characters pending in the buffer.
func (m *Metrics) SetBufferedChars(n int) {
	m.BufferedChars.Set(float64(n))
}

// RecordAttempt records a single delivery attempt outcome.
func (m *Metrics) RecordAttempt(outcome string) {
	m.DeliveryAttempts.WithLabelValues(outcome).Inc()
}

// RecordDelivery records the end of a send-with-retry cycle.
func (m *Metrics) RecordDelivery(ok bool, chars int, latencySeconds float64) {
	m.DeliveryLatency.Observe(latencySeconds)
	if ok {
		m.DeliveredChars.Add(float64(chars))
	} else {
		m.DeliveriesFailed.Inc()
	}
}

// RecordIngest records an accepted message and the resulting store size.
func (m *Metrics) RecordIngest(stored int) {
	m.MessagesIngested.Inc()
	m.StoredMessages.Set(float64(stored))
}

// RecordIngestRejected records a rejected ingestion request.
func (m *Metrics) RecordIngestRejected(reason string) {
	m.IngestRejected.WithLabelValues(reason).Inc()
}

// SetSubscribers reports the current subscriber count.
func (m *Metrics) SetSubscribers(n int) {
	m.SubscribersActive.Set(float64(n))
}

// RecordBroadcast records a message pushed to subscribers.
func (m *Metrics) RecordBroadcast() {
	m.Broadcasts.Inc()
}

// RecordSubscriberDrop records a subscriber removed by the fan-out layer.
func (m *Metrics) RecordSubscriberDrop(reason string) {
	m.SubscriberDrops.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic).Inc()
	}
}
