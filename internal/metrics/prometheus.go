package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// WebSocket client metrics
	ConnectedClients prometheus.Gauge
	ClientsTotal     prometheus.Counter
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	SendQueueDrops   prometheus.Counter

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Audio metrics
	AudioChunksReceived prometheus.Counter
	AudioBytesReceived  prometheus.Counter
	AudioQueueOverflows prometheus.Counter

	// Transcript metrics
	FinalSegments  prometheus.Counter
	InterimUpdates prometheus.Counter

	// Speech provider metrics
	StreamConnects       prometheus.Counter
	StreamConnectRetries prometheus.Counter
	StreamFailures       prometheus.Counter

	// Analysis metrics
	AnalysisRequests  prometheus.Counter
	AnalysisSuccesses prometheus.Counter
	AnalysisFailures  prometheus.Counter
	AnalysisRetries   prometheus.Counter
	AnalysisDuration  prometheus.Histogram
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	CitationsDropped  prometheus.Counter

	// Event mirroring metrics
	EventsPublished      *prometheus.CounterVec
	EventPublishFailures *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// WebSocket client metrics
		ConnectedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "soap_connected_clients",
			Help: "Current number of connected WebSocket clients",
		}),
		ClientsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_clients_total",
			Help: "Total number of WebSocket clients accepted",
		}),
		MessagesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_messages_received_total",
			Help: "Total number of WebSocket messages received",
		}, []string{"event"}),
		MessagesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		}, []string{"event"}),
		SendQueueDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_send_queue_drops_total",
			Help: "Total number of outbound messages dropped on full send queues",
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "soap_active_sessions",
			Help: "Current number of active recording sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_sessions_created_total",
			Help: "Total number of recording sessions created",
		}),
		SessionsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_sessions_destroyed_total",
			Help: "Total number of recording sessions destroyed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "soap_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Audio metrics
		AudioChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_audio_chunks_received_total",
			Help: "Total number of audio chunks received from clients",
		}),
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_audio_bytes_received_total",
			Help: "Total bytes of PCM audio received from clients",
		}),
		AudioQueueOverflows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_audio_queue_overflows_total",
			Help: "Total number of audio chunks rejected on full session queues",
		}),

		// Transcript metrics
		FinalSegments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_transcript_final_segments_total",
			Help: "Total number of final transcript segments assembled",
		}),
		InterimUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_transcript_interim_updates_total",
			Help: "Total number of interim transcript updates received",
		}),

		// Speech provider metrics
		StreamConnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_stream_connects_total",
			Help: "Total number of speech provider streams opened",
		}),
		StreamConnectRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_stream_connect_retries_total",
			Help: "Total number of speech provider connection retries",
		}),
		StreamFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_stream_failures_total",
			Help: "Total number of speech provider stream failures",
		}),

		// Analysis metrics
		AnalysisRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_analysis_requests_total",
			Help: "Total number of conversation analysis requests",
		}),
		AnalysisSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_analysis_successes_total",
			Help: "Total number of successful conversation analyses",
		}),
		AnalysisFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_analysis_failures_total",
			Help: "Total number of failed conversation analyses",
		}),
		AnalysisRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_analysis_retries_total",
			Help: "Total number of conversation analysis request retries",
		}),
		AnalysisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "soap_analysis_duration_seconds",
			Help:    "Duration of conversation analysis requests",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s to ~2 minutes
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_analysis_cache_hits_total",
			Help: "Total number of analysis cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_analysis_cache_misses_total",
			Help: "Total number of analysis cache misses",
		}),
		CitationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soap_citations_dropped_total",
			Help: "Total number of citations dropped for referencing unknown segments",
		}),

		// Event mirroring metrics
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_events_published_total",
			Help: "Total number of events mirrored to the broker",
		}, []string{"topic"}),
		EventPublishFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_event_publish_failures_total",
			Help: "Total number of event publish failures",
		}, []string{"topic"}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soap_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordClientConnected increments client counters
func (m *Metrics) RecordClientConnected() {
	m.ClientsTotal.Inc()
	m.ConnectedClients.Inc()
}

// RecordClientDisconnected decrements the connected clients gauge
func (m *Metrics) RecordClientDisconnected() {
	m.ConnectedClients.Dec()
}

// RecordMessageReceived counts an inbound WebSocket message by event name
func (m *Metrics) RecordMessageReceived(event string) {
	m.MessagesReceived.WithLabelValues(event).Inc()
}

// RecordMessageSent counts an outbound WebSocket message by event name
func (m *Metrics) RecordMessageSent(event string) {
	m.MessagesSent.WithLabelValues(event).Inc()
}

// RecordSendQueueDrop increments the dropped outbound message counter
func (m *Metrics) RecordSendQueueDrop() {
	m.SendQueueDrops.Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordAudioChunk records one received audio chunk
func (m *Metrics) RecordAudioChunk(sizeBytes int) {
	m.AudioChunksReceived.Inc()
	m.AudioBytesReceived.Add(float64(sizeBytes))
}

// RecordAudioQueueOverflow increments the queue overflow counter
func (m *Metrics) RecordAudioQueueOverflow() {
	m.AudioQueueOverflows.Inc()
}

// RecordTranscriptSegment counts an assembled segment
func (m *Metrics) RecordTranscriptSegment(isFinal bool) {
	if isFinal {
		m.FinalSegments.Inc()
	} else {
		m.InterimUpdates.Inc()
	}
}

// RecordStreamConnect increments the provider stream connect counter
func (m *Metrics) RecordStreamConnect() {
	m.StreamConnects.Inc()
}

// RecordStreamConnectRetry increments the provider connect retry counter
func (m *Metrics) RecordStreamConnectRetry() {
	m.StreamConnectRetries.Inc()
}

// RecordStreamFailure increments the provider stream failure counter
func (m *Metrics) RecordStreamFailure() {
	m.StreamFailures.Inc()
}

// RecordAnalysisRequest increments the analysis requests counter
func (m *Metrics) RecordAnalysisRequest() {
	m.AnalysisRequests.Inc()
}

// RecordAnalysisSuccess records a successful analysis
func (m *Metrics) RecordAnalysisSuccess(durationSeconds float64) {
	m.AnalysisSuccesses.Inc()
	m.AnalysisDuration.Observe(durationSeconds)
}

// RecordAnalysisFailure records a failed analysis
func (m *Metrics) RecordAnalysisFailure(durationSeconds float64) {
	m.AnalysisFailures.Inc()
	m.AnalysisDuration.Observe(durationSeconds)
}

// RecordAnalysisRetry increments the analysis retry counter
func (m *Metrics) RecordAnalysisRetry() {
	m.AnalysisRetries.Inc()
}

// RecordCacheHit increments the analysis cache hit counter
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordCacheMiss increments the analysis cache miss counter
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// RecordCitationDropped increments the dropped citation counter
func (m *Metrics) RecordCitationDropped() {
	m.CitationsDropped.Inc()
}

// RecordEventPublished counts one broker publish attempt by topic
func (m *Metrics) RecordEventPublished(topic string, err error) {
	if err != nil {
		m.EventPublishFailures.WithLabelValues(topic).Inc()
		return
	}
	m.EventsPublished.WithLabelValues(topic).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
